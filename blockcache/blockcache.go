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

// Package blockcache implements PISA's bounded-depth, fork-aware block
// store. It is the one ambient-but-domain-critical component for which no
// pack dependency fits the retention policy: the cache must evict by
// block height, not by recency of access, so hashicorp/golang-lru (an
// LRU-by-access-order cache) would silently implement the wrong eviction
// rule. See DESIGN.md for the full justification.
package blockcache

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pisa-watch/pisa/chain"
	"github.com/pisa-watch/pisa/pisaerr"
)

// BlockCache is safe for concurrent use; in the production wiring it is
// written only by a single BlockProcessor goroutine, but tests and the
// component framework read it from wherever a head event is dispatched.
type BlockCache struct {
	maxDepth uint64

	mu            sync.RWMutex
	blocks        map[common.Hash]*chain.Block
	hasInitial    bool
	initialHeight uint64
	maxHeight     uint64
}

// New constructs an empty BlockCache retaining blocks no more than
// maxDepth below the current maxHeight.
func New(maxDepth uint64) *BlockCache {
	return &BlockCache{
		maxDepth: maxDepth,
		blocks:   make(map[common.Hash]*chain.Block),
	}
}

// MaxDepth returns the configured retention depth.
func (c *BlockCache) MaxDepth() uint64 {
	return c.maxDepth
}

// MaxHeight returns the maximum block number among contained blocks, or 0
// if the cache is empty.
func (c *BlockCache) MaxHeight() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.maxHeight
}

// MinHeight returns min(initialHeight, maxHeight-maxDepth), per spec.md
// §4.1. Before anything is added it is 0.
func (c *BlockCache) MinHeight() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.minHeightLocked()
}

func (c *BlockCache) minHeightLocked() uint64 {
	floor := uint64(0)
	if c.maxHeight > c.maxDepth {
		floor = c.maxHeight - c.maxDepth
	}
	if !c.hasInitial {
		return floor
	}
	if c.initialHeight < floor {
		return c.initialHeight
	}
	return floor
}

// CanAddBlock reports whether b is eligible for insertion: the cache is
// empty, b is within or below the accepted root range, or b's parent is
// already present.
func (c *BlockCache) CanAddBlock(b *chain.Block) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.canAddBlockLocked(b)
}

func (c *BlockCache) canAddBlockLocked(b *chain.Block) bool {
	if len(c.blocks) == 0 {
		return true
	}
	if b.Number <= c.minHeightLocked() {
		return true
	}
	_, ok := c.blocks[b.ParentHash]
	return ok
}

// AddBlock inserts b, evicting any block whose number falls below the new
// retention floor. Returns an *pisaerr.ArgumentError if b is not eligible
// per CanAddBlock.
func (c *BlockCache) AddBlock(b *chain.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.canAddBlockLocked(b) {
		return &pisaerr.ArgumentError{Reason: "block rejected: parent not present and not within root range"}
	}

	c.blocks[b.Hash] = b
	if !c.hasInitial {
		c.hasInitial = true
		c.initialHeight = b.Number
	}
	if b.Number > c.maxHeight {
		c.maxHeight = b.Number
	}

	c.evictLocked()
	return nil
}

func (c *BlockCache) evictLocked() {
	floor := uint64(0)
	if c.maxHeight > c.maxDepth {
		floor = c.maxHeight - c.maxDepth
	}
	for hash, b := range c.blocks {
		if b.Number < floor {
			delete(c.blocks, hash)
		}
	}
}

// GetBlock returns the full block for hash, if still retained.
func (c *BlockCache) GetBlock(hash common.Hash) (*chain.Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.blocks[hash]
	return b, ok
}

// GetBlockStub returns the ancestry-walk projection of the block at hash.
func (c *BlockCache) GetBlockStub(hash common.Hash) (chain.Stub, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.blocks[hash]
	if !ok {
		return chain.Stub{}, false
	}
	return chain.StubOf(b), true
}

// Ancestry returns every retained block from hash (inclusive) back toward
// the genesis along parentHash pointers, stopping when a parent is no
// longer retained.
func (c *BlockCache) Ancestry(hash common.Hash) []*chain.Block {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*chain.Block
	cur := hash
	for {
		b, ok := c.blocks[cur]
		if !ok {
			break
		}
		out = append(out, b)
		if b.ParentHash == cur {
			break // defensive: genesis self-parent, avoid infinite loop
		}
		cur = b.ParentHash
	}
	return out
}

// FindAncestor returns the first block along Ancestry(hash) for which
// pred returns true.
func (c *BlockCache) FindAncestor(hash common.Hash, pred func(*chain.Block) bool) (*chain.Block, bool) {
	for _, b := range c.Ancestry(hash) {
		if pred(b) {
			return b, true
		}
	}
	return nil, false
}

// CommonAncestor returns the most recent block present in both
// Ancestry(a) and Ancestry(b). It is used by the component framework to
// find the fold-seed block A when reconciling anchor state across a
// reorg.
func (c *BlockCache) CommonAncestor(a, b common.Hash) (*chain.Block, bool) {
	aChain := c.Ancestry(a)
	bSet := make(map[common.Hash]struct{}, len(c.Ancestry(b)))
	for _, blk := range c.Ancestry(b) {
		bSet[blk.Hash] = struct{}{}
	}
	for _, blk := range aChain {
		if _, ok := bSet[blk.Hash]; ok {
			return blk, true
		}
	}
	return nil, false
}

// GetConfirmations returns the number of blocks from headHash (inclusive)
// back along ancestry to, and including, the block containing txHash; 0
// if txHash is not found in the retained ancestry of headHash.
func (c *BlockCache) GetConfirmations(headHash, txHash common.Hash) uint64 {
	ancestry := c.Ancestry(headHash)
	for depth, b := range ancestry {
		if _, ok := b.ContainsTx(txHash); ok {
			return uint64(depth) + 1
		}
	}
	return 0
}
