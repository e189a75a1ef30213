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

// Package chain holds PISA's own, already-joined view of a block: the
// spec's simplified {number, hash, parentHash, transactions, logs} shape,
// as opposed to go-ethereum's own *types.Block (header+body only, logs
// come from receipts fetched separately). A watchtower's BlockSource is
// expected to have already joined eth_getBlockByHash with eth_getLogs
// before handing a Block to the core, the same way
// MainChainEventHandler.HandleChainHeadEvent in the teacher is handed a
// fully resolved *types.Block rather than a bare header.
package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Block is immutable once constructed; nothing in this module mutates a
// Block after NewBlock returns it.
type Block struct {
	Number       uint64
	Hash         common.Hash
	ParentHash   common.Hash
	Transactions []*types.Transaction
	Logs         []*types.Log
}

// NewBlock constructs a Block, defensively copying the transaction and
// log slices so a caller's later mutation of its own slice can't corrupt
// the cache.
func NewBlock(number uint64, hash, parentHash common.Hash, txs []*types.Transaction, logs []*types.Log) *Block {
	txsCopy := make([]*types.Transaction, len(txs))
	copy(txsCopy, txs)
	logsCopy := make([]*types.Log, len(logs))
	copy(logsCopy, logs)
	return &Block{
		Number:       number,
		Hash:         hash,
		ParentHash:   parentHash,
		Transactions: txsCopy,
		Logs:         logsCopy,
	}
}

// Stub is the lightweight ancestry-walk projection of a Block: just
// enough to walk parentHash pointers without retaining full tx/log
// bodies for blocks outside the retention window.
type Stub struct {
	Number     uint64
	Hash       common.Hash
	ParentHash common.Hash
}

// StubOf projects a Block down to its Stub.
func StubOf(b *Block) Stub {
	return Stub{Number: b.Number, Hash: b.Hash, ParentHash: b.ParentHash}
}

// EventFilter matches go-ethereum-style logs: address equality plus a
// positional, optionally-wildcarded topic match.
type EventFilter struct {
	Address common.Address
	Topics  []*common.Hash // nil entry at position i means "don't care"
}

// Matches reports whether log satisfies the filter, per spec.md §4.5:
// log.address == filter.address AND for each provided topic position i,
// filter.topics[i] == nil || filter.topics[i] == log.topics[i].
func (f EventFilter) Matches(log *types.Log) bool {
	if log.Address != f.Address {
		return false
	}
	for i, want := range f.Topics {
		if want == nil {
			continue
		}
		if i >= len(log.Topics) || log.Topics[i] != *want {
			return false
		}
	}
	return true
}

// MatchFirst returns the first log in the block satisfying filter, and
// whether one was found.
func (b *Block) MatchFirst(filter EventFilter) (*types.Log, bool) {
	for _, l := range b.Logs {
		if filter.Matches(l) {
			return l, true
		}
	}
	return nil, false
}

// ContainsTx reports whether the block contains a transaction with hash.
func (b *Block) ContainsTx(hash common.Hash) (*types.Transaction, bool) {
	for _, tx := range b.Transactions {
		if tx.Hash() == hash {
			return tx, true
		}
	}
	return nil, false
}

// Big is a convenience constructor mirroring the common.Hash/big.Int
// boundary crossed constantly at this layer (block numbers arrive from
// RPC as *big.Int, the core works in uint64).
func Big(n uint64) *big.Int {
	return new(big.Int).SetUint64(n)
}
