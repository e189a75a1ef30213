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

// Package txtracker implements TransactionTracker (spec.md §4.8): a
// block-scanning identifier-to-callback map. Grounded on
// BridgeManager.receivedEvents/withdrawEvents
// (node/sc/bridge_manager.go) for the "map keyed by an on-chain identity,
// drained one entry at a time as matches are observed" idiom, inverted
// per spec.md §9's note on breaking the MultiResponder<->tracker cyclic
// reference: the tracker holds only an identifier and a closure, never a
// reference back to the responder.
package txtracker

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"

	"github.com/pisa-watch/pisa/blockcache"
	"github.com/pisa-watch/pisa/blockprocessor"
	"github.com/pisa-watch/pisa/chain"
	"github.com/pisa-watch/pisa/gasqueue"
)

var logger = log.New("module", "txtracker")

// TransactionTracker watches every new block for transactions matching a
// registered TxId and invokes the matching callback exactly once, with
// the nonce observed, in increasing block-number order.
type TransactionTracker struct {
	cache *blockcache.BlockCache

	mu              sync.Mutex
	callbacks       map[gasqueue.TxId]func(observedNonce uint64)
	hasLastBlock    bool
	lastBlockNumber uint64

	sub event.Subscription
	ch  chan blockprocessor.NewHeadEvent
}

// New constructs a TransactionTracker reading new heads from processor.
func New(cache *blockcache.BlockCache, processor *blockprocessor.BlockProcessor) *TransactionTracker {
	t := &TransactionTracker{
		cache:     cache,
		callbacks: make(map[gasqueue.TxId]func(observedNonce uint64)),
		ch:        make(chan blockprocessor.NewHeadEvent, 16),
	}
	t.sub = processor.SubscribeNewHead(t.ch)
	return t
}

// AddTx registers onMined to fire the first time a transaction matching
// id is observed in a new block.
func (t *TransactionTracker) AddTx(id gasqueue.TxId, onMined func(observedNonce uint64)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks[id] = onMined
}

// Run drives the tracker's scan loop until the processor subscription's
// error channel reports an error or is closed (Stop unsubscribes), mirroring SubBridge.loop()'s
// single select over a subscription channel (node/sc/subbridge.go).
func (t *TransactionTracker) Run() {
	for {
		select {
		case ev, ok := <-t.ch:
			if !ok {
				return
			}
			t.handleNewHead(ev.New)
		case err, ok := <-t.sub.Err():
			if !ok {
				return
			}
			if err != nil {
				logger.Error("new-head subscription error", "err", err)
			}
			return
		}
	}
}

func (t *TransactionTracker) handleNewHead(head common.Hash) {
	headBlock, ok := t.cache.GetBlock(head)
	if !ok {
		logger.Error("txtracker: head block not in cache", "head", head.Hex())
		return
	}

	t.mu.Lock()
	from := uint64(0)
	if t.hasLastBlock {
		from = t.lastBlockNumber + 1
	}
	t.mu.Unlock()

	if headBlock.Number < from {
		return
	}

	blocks := t.blocksFromAncestry(head, from, headBlock.Number)
	for _, b := range blocks {
		t.scanBlock(b)
	}

	t.mu.Lock()
	t.lastBlockNumber = headBlock.Number
	t.hasLastBlock = true
	t.mu.Unlock()
}

// blocksFromAncestry returns every retained block from from..to
// (inclusive), oldest first, walking head's ancestry.
func (t *TransactionTracker) blocksFromAncestry(head common.Hash, from, to uint64) []*chain.Block {
	ancestry := t.cache.Ancestry(head)
	var out []*chain.Block
	for _, b := range ancestry {
		if b.Number >= from && b.Number <= to {
			out = append(out, b)
		}
	}
	// ancestry is newest-first; callbacks must fire in increasing
	// block-number (hence increasing nonce) order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (t *TransactionTracker) scanBlock(b *chain.Block) {
	for _, tx := range b.Transactions {
		if tx.To() == nil {
			continue
		}
		t.mu.Lock()
		var matched gasqueue.TxId
		var cb func(uint64)
		for id, callback := range t.callbacks {
			if id.Matches(tx) {
				matched = id
				cb = callback
				break
			}
		}
		if cb != nil {
			delete(t.callbacks, matched)
		}
		t.mu.Unlock()

		if cb != nil {
			cb(tx.Nonce())
		}
	}
}

// Stop unsubscribes from the block processor.
func (t *TransactionTracker) Stop() {
	t.sub.Unsubscribe()
}
