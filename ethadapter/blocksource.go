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

package ethadapter

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/pisa-watch/pisa/chain"
)

// BlockSource implements blockprocessor.BlockSource by joining
// eth_getBlockByHash with eth_getLogs, the same join spec.md §1 requires
// a concrete BlockSource to perform before handing blocks to the core.
type BlockSource struct {
	client *ethclient.Client
}

// NewBlockSource wraps client as a blockprocessor.BlockSource.
func NewBlockSource(client *ethclient.Client) *BlockSource {
	return &BlockSource{client: client}
}

// BlockByHash fetches the full block at hash and every log it emitted,
// joining them into a *chain.Block.
func (s *BlockSource) BlockByHash(ctx context.Context, hash common.Hash) (*chain.Block, error) {
	block, err := s.client.BlockByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("ethadapter: fetch block %s: %w", hash.Hex(), err)
	}

	logs, err := s.client.FilterLogs(ctx, ethereum.FilterQuery{BlockHash: &hash})
	if err != nil {
		return nil, fmt.Errorf("ethadapter: fetch logs for block %s: %w", hash.Hex(), err)
	}
	logPtrs := make([]*types.Log, len(logs))
	for i := range logs {
		logPtrs[i] = &logs[i]
	}

	return chain.NewBlock(block.NumberU64(), block.Hash(), block.ParentHash(), block.Transactions(), logPtrs), nil
}
