// Copyright 2026 The pisa-watch Authors
// This file is part of the pisa-watch library.
//
// The pisa-watch library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The pisa-watch library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the pisa-watch library. If not, see <http://www.gnu.org/licenses/>.

// Package component implements the generic anchor-state reducer
// framework described in spec.md §4.3: every domain component (Watcher,
// MultiResponder) is expressed as a pure StateReducer folded over block
// ancestry, so that a chain reorganisation automatically reverts state —
// no component tracks "what have I already done."
//
// The teacher predates Go generics (go 1.13) and hand-writes one
// reducer-shaped struct per domain (BridgeTxPool, MainChainEventHandler);
// this package generalises that shape with Go 1.21 type parameters, since
// the spec explicitly calls for one reusable Component<S,B>. See
// DESIGN.md's component entry and SPEC_FULL.md §4.3.
package component

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// StateReducer folds a component's anchor state forward one block at a
// time. GetInitialState must be able to compute the state for an
// arbitrary block with no prior state to start from (implementations
// typically scan backward through the block's own retained ancestry).
type StateReducer[S any, B any] interface {
	GetInitialState(block B) S
	Reduce(prev S, block B) S
}

// AncestrySource is the read-only view of the block cache a Component
// needs: common-ancestor lookup and a linear ancestry walk. BlockCache
// satisfies this directly when B is *chain.Block.
type AncestrySource[B any] interface {
	CommonAncestor(a, b common.Hash) (B, bool)
	Ancestry(hash common.Hash) []B
}

// Component owns one reducer's anchor state and invokes onEdge after
// every successful HandleNewHead with the previously-computed anchor and
// the freshly folded one.
type Component[S any, B any] struct {
	reducer StateReducer[S, B]
	cache   AncestrySource[B]
	hashOf  func(B) common.Hash
	onEdge  func(prev, next S)

	hasAnchor bool
	anchor    S
}

// New constructs a Component. hashOf extracts a block's hash (needed
// because B is an opaque type parameter to this package); onEdge is
// invoked with (prevState, newState) after every successful HandleNewHead
// call, whether or not the fold changed the anchor, so callers that want
// "only changes" diff the two themselves. On the very first call there
// is no earlier anchor and prevState equals newState.
func New[S any, B any](reducer StateReducer[S, B], cache AncestrySource[B], hashOf func(B) common.Hash, onEdge func(prev, next S)) *Component[S, B] {
	return &Component[S, B]{
		reducer: reducer,
		cache:   cache,
		hashOf:  hashOf,
		onEdge:  onEdge,
	}
}

// Anchor returns the most recently computed anchor state and whether one
// has been computed yet.
func (c *Component[S, B]) Anchor() (S, bool) {
	return c.anchor, c.hasAnchor
}

// HandleNewHead reconciles anchor state against a new chain head,
// per spec.md §4.3:
//  1. find the common ancestor A of prevHead and newHead
//  2. seed S_A = GetInitialState(A)
//  3. fold Reduce along A (exclusive) -> newHead
//  4. diff the previously stored anchor against the freshly folded one
//     and invoke onEdge with both
func (c *Component[S, B]) HandleNewHead(prevHead, newHead common.Hash) error {
	ancestor, ok := c.cache.CommonAncestor(prevHead, newHead)
	if !ok {
		return fmt.Errorf("component: no common ancestor between %s and %s", prevHead.Hex(), newHead.Hex())
	}

	state := c.reducer.GetInitialState(ancestor)

	path, err := c.pathFromAncestor(c.hashOf(ancestor), newHead)
	if err != nil {
		return err
	}
	for _, b := range path {
		state = c.reducer.Reduce(state, b)
	}

	prevState := state
	if c.hasAnchor {
		prevState = c.anchor
	}
	c.anchor = state
	c.hasAnchor = true

	c.onEdge(prevState, state)
	return nil
}

// pathFromAncestor returns the blocks strictly after ancestorHash up to
// and including newHead, oldest first.
func (c *Component[S, B]) pathFromAncestor(ancestorHash common.Hash, newHead common.Hash) ([]B, error) {
	descending := c.cache.Ancestry(newHead)
	idx := -1
	for i, b := range descending {
		if c.hashOf(b) == ancestorHash {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, fmt.Errorf("component: ancestor %s not found in ancestry of %s", ancestorHash.Hex(), newHead.Hex())
	}
	path := make([]B, idx)
	for i := 0; i < idx; i++ {
		path[i] = descending[idx-1-i]
	}
	return path, nil
}

// KeyedReducer is the per-key reducer a MappedStateReducer lifts over a
// dynamic key set, e.g. one Watcher reducer per appointment id.
type KeyedReducer[K comparable, S any, B any] func(key K) StateReducer[S, B]

// MappedState is the anchor state of a MappedStateReducer: one S per
// currently-registered key.
type MappedState[K comparable, S any] map[K]S

// MappedStateReducer lifts a per-key StateReducer over a collection of
// keys supplied by KeysFunc (e.g. AppointmentStore.GetAll's ids), per
// spec.md §4.3: a key discovered after anchor A is re-seeded from A by
// replaying blocks from A to head, because KeysFunc is evaluated fresh at
// every fold step and GetInitialState is what seeds any key not present
// in the previous step's map.
type MappedStateReducer[K comparable, S any, B any] struct {
	KeysFunc func() []K
	Factory  KeyedReducer[K, S, B]
}

func (m *MappedStateReducer[K, S, B]) GetInitialState(block B) MappedState[K, S] {
	keys := m.KeysFunc()
	out := make(MappedState[K, S], len(keys))
	for _, k := range keys {
		out[k] = m.Factory(k).GetInitialState(block)
	}
	return out
}

func (m *MappedStateReducer[K, S, B]) Reduce(prev MappedState[K, S], block B) MappedState[K, S] {
	keys := m.KeysFunc()
	out := make(MappedState[K, S], len(keys))
	for _, k := range keys {
		if ps, ok := prev[k]; ok {
			out[k] = m.Factory(k).Reduce(ps, block)
			continue
		}
		// Key wasn't present at the fold's start (should only happen if
		// KeysFunc changed mid-fold, which the single-threaded dispatch
		// model rules out) — seed it fresh rather than lose it silently.
		out[k] = m.Factory(k).GetInitialState(block)
	}
	return out
}
