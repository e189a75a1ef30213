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

package chain

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventFilterMatchesWildcardTopics(t *testing.T) {
	addr := common.BytesToAddress([]byte{1})
	topic0 := common.BytesToHash([]byte{9})

	filter := EventFilter{Address: addr, Topics: []*common.Hash{&topic0, nil}}

	log := &types.Log{Address: addr, Topics: []common.Hash{topic0, common.BytesToHash([]byte{200})}}
	assert.True(t, filter.Matches(log))
}

func TestEventFilterRejectsWrongAddress(t *testing.T) {
	addr := common.BytesToAddress([]byte{1})
	other := common.BytesToAddress([]byte{2})
	filter := EventFilter{Address: addr}

	log := &types.Log{Address: other}
	assert.False(t, filter.Matches(log))
}

func TestMatchFirstReturnsFirstMatchingLog(t *testing.T) {
	addr := common.BytesToAddress([]byte{1})
	filter := EventFilter{Address: addr}

	b := NewBlock(1, common.Hash{}, common.Hash{}, nil, []*types.Log{
		{Address: common.BytesToAddress([]byte{9})},
		{Address: addr},
	})

	log, ok := b.MatchFirst(filter)
	require.True(t, ok)
	assert.Equal(t, addr, log.Address)
}

func TestNewBlockCopiesSlicesDefensively(t *testing.T) {
	txs := []*types.Transaction{types.NewTransaction(0, common.Address{}, nil, 21000, nil, nil)}
	b := NewBlock(1, common.Hash{}, common.Hash{}, txs, nil)

	txs[0] = nil
	assert.NotNil(t, b.Transactions[0])
}

func TestContainsTx(t *testing.T) {
	tx := types.NewTransaction(0, common.Address{}, nil, 21000, nil, nil)
	b := NewBlock(1, common.Hash{}, common.Hash{}, []*types.Transaction{tx}, nil)

	got, ok := b.ContainsTx(tx.Hash())
	require.True(t, ok)
	assert.Equal(t, tx.Hash(), got.Hash())

	_, ok = b.ContainsTx(common.BytesToHash([]byte{77}))
	assert.False(t, ok)
}
