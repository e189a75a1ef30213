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

package responder

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/pisa-watch/pisa/blockcache"
	"github.com/pisa-watch/pisa/chain"
	"github.com/pisa-watch/pisa/component"
	"github.com/pisa-watch/pisa/gasqueue"
)

// mineKind is MINED/PENDING from spec.md §4.7's reorg-reaction reducer.
type mineKind int

const (
	pending mineKind = iota
	mined
)

type mineState struct {
	kind        mineKind
	blockNumber uint64
	nonce       uint64
}

// ReorgWatcher runs MultiResponder's reorg-reaction component: on every
// head event it recomputes, purely from chain ancestry, whether each
// tracked TxId is MINED or PENDING, and re-enqueues anything that was
// believed mined but disappeared from the canonical chain. Grounded on
// the same Component[S,B] fold the Watcher package uses — a reorg is
// handled by recomputing truth from the tip, never by remembering "did I
// already dequeue this."
type ReorgWatcher struct {
	r     *MultiResponder
	cache *blockcache.BlockCache
	comp  *component.Component[component.MappedState[gasqueue.TxId, mineState], *chain.Block]
}

// NewReorgWatcher wires a ReorgWatcher for r against cache.
func NewReorgWatcher(r *MultiResponder, cache *blockcache.BlockCache) *ReorgWatcher {
	w := &ReorgWatcher{r: r, cache: cache}
	mapped := &component.MappedStateReducer[gasqueue.TxId, mineState, *chain.Block]{
		KeysFunc: w.trackedIds,
		Factory:  w.reducerFor,
	}
	w.comp = component.New[component.MappedState[gasqueue.TxId, mineState], *chain.Block](
		mapped,
		cache,
		func(b *chain.Block) common.Hash { return b.Hash },
		w.onEdge,
	)
	return w
}

// trackedIds is the key set the reorg reducer folds over: every TxId
// currently outstanding plus every TxId believed mined but not yet
// garbage-collected.
func (w *ReorgWatcher) trackedIds() []gasqueue.TxId {
	w.r.mu.Lock()
	defer w.r.mu.Unlock()

	var ids []gasqueue.TxId
	if w.r.queue != nil {
		for _, it := range w.r.queue.Items() {
			ids = append(ids, it.Request.Identifier)
		}
	}
	for id := range w.r.recentlyMined {
		ids = append(ids, id)
	}
	return ids
}

func (w *ReorgWatcher) reducerFor(id gasqueue.TxId) component.StateReducer[mineState, *chain.Block] {
	return &mineReducer{id: id, cache: w.cache}
}

type mineReducer struct {
	id    gasqueue.TxId
	cache *blockcache.BlockCache
}

func (r *mineReducer) GetInitialState(block *chain.Block) mineState {
	ancestor, found := r.cache.FindAncestor(block.Hash, func(b *chain.Block) bool {
		return r.containsMatch(b)
	})
	if !found {
		return mineState{kind: pending}
	}
	return r.stateFor(ancestor)
}

func (r *mineReducer) Reduce(prev mineState, block *chain.Block) mineState {
	if prev.kind == mined {
		return prev
	}
	if r.containsMatch(block) {
		return r.stateFor(block)
	}
	return prev
}

func (r *mineReducer) containsMatch(b *chain.Block) bool {
	for _, tx := range b.Transactions {
		if r.id.Matches(tx) {
			return true
		}
	}
	return false
}

func (r *mineReducer) stateFor(b *chain.Block) mineState {
	for _, tx := range b.Transactions {
		if r.id.Matches(tx) {
			return mineState{kind: mined, blockNumber: b.Number, nonce: tx.Nonce()}
		}
	}
	return mineState{kind: pending}
}

// onEdge re-enqueues and re-broadcasts any TxId that was MINED in the
// previous head's anchor state but is PENDING in the new one: the block
// that carried it was reorged out, so whatever the watcher machinery
// believed complete is not actually on the canonical chain, per spec.md
// §4.7.
func (w *ReorgWatcher) onEdge(prev, next component.MappedState[gasqueue.TxId, mineState]) {
	for id, newState := range next {
		oldState := prev[id]
		if oldState.kind == mined && newState.kind == pending {
			w.reviveAndBroadcast(id)
		}
	}
}

func (w *ReorgWatcher) reviveAndBroadcast(id gasqueue.TxId) {
	w.r.mu.Lock()
	req, ok := w.r.recentlyMined[id]
	if !ok {
		w.r.mu.Unlock()
		return
	}
	delete(w.r.recentlyMined, id)
	if w.r.queue.Contains(id) {
		w.r.mu.Unlock()
		return
	}
	w.r.queue.ClearCompleted(id)
	newQueue, err := w.r.queue.Add(req)
	if err != nil {
		logger.Error("reorg revive: re-admit to queue failed", "err", err)
		w.r.mu.Unlock()
		return
	}
	replaced := newQueue.Difference(w.r.queue)
	w.r.queue = newQueue
	w.r.mu.Unlock()

	w.r.broadcastAll(context.Background(), replaced)
}

// HandleNewHead drives the reorg-reaction fold for a new chain head.
func (w *ReorgWatcher) HandleNewHead(prevHead, newHead common.Hash) error {
	return w.comp.HandleNewHead(prevHead, newHead)
}
