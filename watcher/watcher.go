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

// Package watcher implements the per-appointment Watcher state machine
// of spec.md §4.5: a WATCHING -> OBSERVED reducer, layered on
// component.MappedStateReducer so every appointment's state is recomputed
// purely from the current chain tip on every head event — reorgs
// automatically revert state, no side effect is tracked as "already
// done."
//
// Edge-action dispatch (Respond/Evict) follows the shape of
// MainChainEventHandler.HandleChainHeadEvent /
// writeChildChainTxHashFromBlock (node/sc/main_event_handler.go): compare
// a block-number arithmetic condition against a stored watermark, and
// never let one appointment's side-effect failure abort the head-dispatch
// loop.
package watcher

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/rcrowley/go-metrics"

	"github.com/pisa-watch/pisa/appstore"
	"github.com/pisa-watch/pisa/blockcache"
	"github.com/pisa-watch/pisa/chain"
	"github.com/pisa-watch/pisa/component"
	"github.com/pisa-watch/pisa/pisaerr"
)

var logger = log.New("module", "watcher")

var evictionCounter = metrics.NewRegisteredCounter("watcher/evictions", nil)
var respondCounter = metrics.NewRegisteredCounter("watcher/responds", nil)

// Kind is the WatcherAppointmentState tag of spec.md §3.
type Kind int

const (
	Watching Kind = iota
	Observed
)

// State is WatcherAppointmentState: WATCHING, or OBSERVED{blockObserved}.
// Monotone along one chain: once Observed, BlockObserved never changes
// except by reorg-driven re-initialisation (spec.md §4.5).
type State struct {
	Kind          Kind
	BlockObserved uint64
}

// Responder is the narrow slice of MultiResponder the Watcher needs.
type Responder interface {
	StartResponse(ctx context.Context, appointmentId string, data appstore.ResponseData) error
}

// AppointmentRemover is the narrow slice of AppointmentStore the Watcher
// needs to perform eviction.
type AppointmentRemover interface {
	RemoveById(id string)
}

// AppointmentLister supplies the dynamic key set component.MappedStateReducer
// folds over.
type AppointmentLister interface {
	GetIds() []string
	GetById(id string) (*appstore.Appointment, bool)
}

// Watcher is the component that advances every appointment's State on
// each new chain head and fires Respond/Evict on confirmation-depth edge
// transitions.
type Watcher struct {
	store     AppointmentLister
	cache     *blockcache.BlockCache
	responder Responder
	remover   AppointmentRemover

	confirmationsBeforeResponse uint32
	confirmationsBeforeRemoval  uint32

	comp *component.Component[component.MappedState[string, State], *chain.Block]

	// headNumber is set immediately before each inner HandleNewHead call
	// and read from within its synchronous onEdge callback, since
	// component.Component's generic onEdge signature carries only the
	// diffed state, not the head block itself.
	headNumber uint64

	// prevHeadNumber is the headNumber as of the previous successful
	// HandleNewHead call. onEdge needs it to tell whether an appointment's
	// old anchor state was already eligible for Respond/Evict as of when
	// it was computed — using the current headNumber for that check would
	// make "was eligible" track "is eligible now" whenever BlockObserved
	// hasn't changed, masking every threshold crossing after the one call
	// where an appointment first becomes Observed.
	prevHeadNumber     uint64
	havePrevHeadNumber bool
}

// New constructs a Watcher. confirmationsBeforeResponse must not exceed
// confirmationsBeforeRemoval, per spec.md §4.5's constructor invariant;
// violating it is an *pisaerr.ArgumentError; fatal at start-up.
func New(store AppointmentLister, cache *blockcache.BlockCache, responder Responder, remover AppointmentRemover, confirmationsBeforeResponse, confirmationsBeforeRemoval uint32) (*Watcher, error) {
	if confirmationsBeforeResponse == 0 {
		return nil, &pisaerr.ArgumentError{Reason: "confirmationsBeforeResponse must be >= 1"}
	}
	if confirmationsBeforeResponse > confirmationsBeforeRemoval {
		return nil, &pisaerr.ArgumentError{Reason: "confirmationsBeforeResponse must be <= confirmationsBeforeRemoval"}
	}

	w := &Watcher{
		store:                       store,
		cache:                       cache,
		responder:                   responder,
		remover:                     remover,
		confirmationsBeforeResponse: confirmationsBeforeResponse,
		confirmationsBeforeRemoval:  confirmationsBeforeRemoval,
	}

	mapped := &component.MappedStateReducer[string, State, *chain.Block]{
		KeysFunc: store.GetIds,
		Factory:  w.reducerFor,
	}
	w.comp = component.New[component.MappedState[string, State], *chain.Block](
		mapped,
		cache,
		func(b *chain.Block) common.Hash { return b.Hash },
		w.onEdge,
	)
	return w, nil
}

// HandleNewHead advances every appointment's anchor state and dispatches
// Respond/Evict for whichever appointments crossed a confirmation-depth
// edge.
func (w *Watcher) HandleNewHead(prevHead, newHead common.Hash) error {
	headBlock, ok := w.cache.GetBlock(newHead)
	if !ok {
		return &pisaerr.ApplicationError{Reason: "watcher: head block not present in cache"}
	}
	w.headNumber = headBlock.Number
	err := w.comp.HandleNewHead(prevHead, newHead)
	if err == nil {
		w.prevHeadNumber = w.headNumber
		w.havePrevHeadNumber = true
	}
	return err
}

func (w *Watcher) reducerFor(id string) component.StateReducer[State, *chain.Block] {
	return &appointmentReducer{id: id, store: w.store, cache: w.cache}
}

type appointmentReducer struct {
	id    string
	store AppointmentLister
	cache *blockcache.BlockCache
}

func (r *appointmentReducer) filter() (chain.EventFilter, bool) {
	a, ok := r.store.GetById(r.id)
	if !ok {
		return chain.EventFilter{}, false
	}
	return chain.EventFilter{Address: a.EventAddress, Topics: a.EventTopics}, true
}

// GetInitialState walks cache.FindAncestor from block looking for the
// first retained ancestor with a matching log, per spec.md §4.5.
func (r *appointmentReducer) GetInitialState(block *chain.Block) State {
	filter, ok := r.filter()
	if !ok {
		return State{Kind: Watching}
	}
	ancestor, found := r.cache.FindAncestor(block.Hash, func(b *chain.Block) bool {
		_, matched := b.MatchFirst(filter)
		return matched
	})
	if !found {
		return State{Kind: Watching}
	}
	return State{Kind: Observed, BlockObserved: ancestor.Number}
}

// Reduce is identity once Observed; otherwise transitions to Observed
// when block itself contains a matching log (spec.md §4.5).
func (r *appointmentReducer) Reduce(prev State, block *chain.Block) State {
	if prev.Kind == Observed {
		return prev
	}
	filter, ok := r.filter()
	if !ok {
		return prev
	}
	if _, matched := block.MatchFirst(filter); matched {
		return State{Kind: Observed, BlockObserved: block.Number}
	}
	return prev
}

// onEdge compares every appointment's previous and new anchor state and
// fires Respond/Evict for the ones that just crossed a confirmation
// threshold. Side-effect failures are logged and never propagated —
// spec.md §4.5/§7: "exceptions are logged, never fatal."
func (w *Watcher) onEdge(prev, next component.MappedState[string, State]) {
	for id, newState := range next {
		oldState := prev[id] // zero value (Watching) if newly discovered

		if newState.Kind != Observed {
			continue
		}

		confirmations := uint32(0)
		if w.headNumber >= newState.BlockObserved {
			confirmations = uint32(w.headNumber-newState.BlockObserved) + 1
		}

		oldConfirmations := uint32(0)
		if oldState.Kind == Observed && w.havePrevHeadNumber && w.prevHeadNumber >= oldState.BlockObserved {
			oldConfirmations = uint32(w.prevHeadNumber-oldState.BlockObserved) + 1
		}

		respondNowEligible := confirmations >= w.confirmationsBeforeResponse
		respondWasEligible := oldState.Kind == Observed && oldConfirmations >= w.confirmationsBeforeResponse
		if respondNowEligible && !respondWasEligible {
			w.respond(id)
		}

		removeNowEligible := confirmations >= w.confirmationsBeforeRemoval
		removeWasEligible := oldState.Kind == Observed && oldConfirmations >= w.confirmationsBeforeRemoval
		if removeNowEligible && !removeWasEligible {
			w.evict(id)
		}
	}
}

func (w *Watcher) respond(id string) {
	a, ok := w.store.GetById(id)
	if !ok {
		return
	}
	respondCounter.Inc(1)
	if err := w.responder.StartResponse(context.Background(), id, a.ResponseData); err != nil {
		logger.Error("respond failed", "appointment", id, "err", err)
	}
}

func (w *Watcher) evict(id string) {
	evictionCounter.Inc(1)
	w.remover.RemoveById(id)
	logger.Info("appointment evicted", "appointment", id)
}
