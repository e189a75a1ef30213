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

// Package blockprocessor implements PISA's single-threaded head updater,
// grounded on SubBridge.loop()/SetComponents (node/sc/subbridge.go) for
// the one-goroutine, one-select-loop, event.Subscription-gated shutdown
// shape, and on BridgeManager.subscribeEvent/loop
// (node/sc/bridge_manager.go) for the event.Feed/SubscriptionScope
// emission mechanism it reuses to publish NewHeadEvent.
package blockprocessor

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pisa-watch/pisa/blockcache"
	"github.com/pisa-watch/pisa/chain"
)

var logger = log.New("module", "blockprocessor")

// BlockSource is the port a concrete RPC client implements: given a
// block hash, return the fully joined block (transactions + logs
// already resolved), per spec.md §1's "BlockSource that yields full
// blocks."
type BlockSource interface {
	BlockByHash(ctx context.Context, hash common.Hash) (*chain.Block, error)
}

// NewHeadEvent is published on every processed head, exactly once, in
// strict order, per spec.md §4.2.
type NewHeadEvent struct {
	Prev common.Hash
	New  common.Hash
}

// BlockProcessor walks new chain heads backward into a BlockCache and
// republishes NEW_HEAD. mu guards the head-tracking fields (hasHead,
// head).
type BlockProcessor struct {
	cache  *blockcache.BlockCache
	source BlockSource

	feed  event.Feed
	scope event.SubscriptionScope

	mu      sync.Mutex
	hasHead bool
	head    common.Hash
}

// New constructs a BlockProcessor populating cache from source.
func New(cache *blockcache.BlockCache, source BlockSource) *BlockProcessor {
	return &BlockProcessor{cache: cache, source: source}
}

// SubscribeNewHead registers ch to receive every NewHeadEvent this
// processor emits, mirroring BridgeManager.SubscribeTokenReceived
// (node/sc/bridge_manager.go).
func (p *BlockProcessor) SubscribeNewHead(ch chan<- NewHeadEvent) event.Subscription {
	return p.scope.Track(p.feed.Subscribe(ch))
}

// ProcessHead walks backward from headHash, fetching and inserting
// blocks into the cache until a parent is already present or the
// cache's retention depth is exhausted (a fatal condition — the chain
// has reorganised further than this watchtower retains history for),
// then emits NewHeadEvent{Prev: previously-processed head, New: headHash}.
//
// The very first call has no previous head; Prev is set equal to New so
// component.Component's fold over (Prev, New) folds zero blocks and
// seeds every component's anchor state directly from headHash, per
// spec.md §4.3.
func (p *BlockProcessor) ProcessHead(ctx context.Context, headHash common.Hash) error {
	if err := p.populate(ctx, headHash); err != nil {
		return err
	}

	p.mu.Lock()
	prev := headHash
	if p.hasHead {
		prev = p.head
	}
	p.head = headHash
	p.hasHead = true
	p.mu.Unlock()

	logger.Debug("processed new head", "prev", prev.Hex(), "new", headHash.Hex())
	p.feed.Send(NewHeadEvent{Prev: prev, New: headHash})
	return nil
}

func (p *BlockProcessor) populate(ctx context.Context, headHash common.Hash) error {
	if _, ok := p.cache.GetBlock(headHash); ok {
		return nil
	}

	maxDepth := p.cache.MaxDepth()
	var collected []*chain.Block
	hash := headHash
	for i := uint64(0); ; i++ {
		if i > maxDepth+1 {
			return fmt.Errorf("blockprocessor: depth exhausted walking back from %s: no known ancestor within %d blocks", headHash.Hex(), maxDepth)
		}
		blk, err := p.source.BlockByHash(ctx, hash)
		if err != nil {
			return fmt.Errorf("blockprocessor: fetch block %s: %w", hash.Hex(), err)
		}
		collected = append(collected, blk)
		if p.cache.CanAddBlock(blk) {
			break
		}
		hash = blk.ParentHash
	}

	for i := len(collected) - 1; i >= 0; i-- {
		if err := p.cache.AddBlock(collected[i]); err != nil {
			return fmt.Errorf("blockprocessor: add block %s: %w", collected[i].Hash.Hex(), err)
		}
	}
	return nil
}

// Stop closes every subscription handed out by SubscribeNewHead.
func (p *BlockProcessor) Stop() {
	p.scope.Close()
}
