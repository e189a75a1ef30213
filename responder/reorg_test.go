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
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pisa-watch/pisa/blockcache"
	"github.com/pisa-watch/pisa/chain"
)

func hashOf(n byte) common.Hash { return common.BytesToHash([]byte{n}) }

func TestReorgWatcherRevivesUnminedIdentifier(t *testing.T) {
	r, signer, _ := newTestResponder()
	data := responseData(1)
	require.NoError(t, r.StartResponse(context.Background(), "appt-1", data))

	front, ok := r.queue.Front()
	require.True(t, ok)
	id := front.Request.Identifier
	nonce := front.Nonce

	require.NoError(t, r.txMined(id, nonce))
	assert.Equal(t, 0, r.queue.Len())

	cache := blockcache.New(100)
	genesis := chain.NewBlock(0, hashOf(0), common.Hash{}, nil, nil)
	require.NoError(t, cache.AddBlock(genesis))

	minedTx := types.NewTransaction(nonce, data.ContractAddress, big.NewInt(0), r.gasLimit, big.NewInt(1), id.DataBytes())
	minedBlock := chain.NewBlock(1, hashOf(1), hashOf(0), []*types.Transaction{minedTx}, nil)
	require.NoError(t, cache.AddBlock(minedBlock))

	w := NewReorgWatcher(r, cache)
	require.NoError(t, w.HandleNewHead(hashOf(0), hashOf(1)))
	// After the initial fold the identifier is believed mined; nothing to revive yet.
	assert.Equal(t, 0, r.queue.Len())

	sentBefore := signer.sentCount()

	forkBlock := chain.NewBlock(1, hashOf(2), hashOf(0), nil, nil)
	require.NoError(t, cache.AddBlock(forkBlock))
	require.NoError(t, w.HandleNewHead(hashOf(1), hashOf(2)))

	assert.True(t, r.queue.Contains(id), "reorg must re-admit the unmined identifier")

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if signer.sentCount() > sentBefore {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Greater(t, signer.sentCount(), sentBefore, "revival must re-broadcast")
}

func TestReorgWatcherLeavesMinedIdentifierAloneWithoutReorg(t *testing.T) {
	r, _, _ := newTestResponder()
	data := responseData(1)
	require.NoError(t, r.StartResponse(context.Background(), "appt-1", data))

	front, ok := r.queue.Front()
	require.True(t, ok)
	id := front.Request.Identifier
	nonce := front.Nonce
	require.NoError(t, r.txMined(id, nonce))

	cache := blockcache.New(100)
	genesis := chain.NewBlock(0, hashOf(0), common.Hash{}, nil, nil)
	require.NoError(t, cache.AddBlock(genesis))

	minedTx := types.NewTransaction(nonce, data.ContractAddress, big.NewInt(0), r.gasLimit, big.NewInt(1), id.DataBytes())
	minedBlock := chain.NewBlock(1, hashOf(1), hashOf(0), []*types.Transaction{minedTx}, nil)
	require.NoError(t, cache.AddBlock(minedBlock))

	w := NewReorgWatcher(r, cache)
	require.NoError(t, w.HandleNewHead(hashOf(0), hashOf(1)))

	next := chain.NewBlock(2, hashOf(3), hashOf(1), nil, nil)
	require.NoError(t, cache.AddBlock(next))
	require.NoError(t, w.HandleNewHead(hashOf(1), hashOf(3)))

	assert.Equal(t, 0, r.queue.Len(), "identifier stays mined when its block remains canonical")
}
