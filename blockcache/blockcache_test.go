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

package blockcache

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pisa-watch/pisa/chain"
)

func hashOf(n byte) common.Hash { return common.BytesToHash([]byte{n}) }

func block(n uint64, hash, parent byte) *chain.Block {
	return chain.NewBlock(n, hashOf(hash), hashOf(parent), nil, nil)
}

func TestAddBlockAndRetrieve(t *testing.T) {
	c := New(10)
	b := block(1, 1, 0)
	require.NoError(t, c.AddBlock(b))

	got, ok := c.GetBlock(hashOf(1))
	require.True(t, ok)
	assert.Equal(t, b.Number, got.Number)
}

func TestCanAddBlockRequiresKnownParentOnceNonEmpty(t *testing.T) {
	c := New(10)
	require.NoError(t, c.AddBlock(block(1, 1, 0)))

	assert.True(t, c.CanAddBlock(block(2, 2, 1)))
	assert.False(t, c.CanAddBlock(block(2, 2, 99)))
}

func TestEvictionRespectsMaxDepth(t *testing.T) {
	c := New(2)
	require.NoError(t, c.AddBlock(block(1, 1, 0)))
	require.NoError(t, c.AddBlock(block(2, 2, 1)))
	require.NoError(t, c.AddBlock(block(3, 3, 2)))
	require.NoError(t, c.AddBlock(block(4, 4, 3)))

	// maxHeight=4, maxDepth=2 -> floor=2, block 1 evicted.
	_, ok := c.GetBlock(hashOf(1))
	assert.False(t, ok)
	_, ok = c.GetBlock(hashOf(2))
	assert.True(t, ok)
}

func TestAncestryWalksParentPointers(t *testing.T) {
	c := New(10)
	require.NoError(t, c.AddBlock(block(1, 1, 0)))
	require.NoError(t, c.AddBlock(block(2, 2, 1)))
	require.NoError(t, c.AddBlock(block(3, 3, 2)))

	ancestry := c.Ancestry(hashOf(3))
	require.Len(t, ancestry, 3)
	assert.Equal(t, uint64(3), ancestry[0].Number)
	assert.Equal(t, uint64(2), ancestry[1].Number)
	assert.Equal(t, uint64(1), ancestry[2].Number)
}

func TestCommonAncestorAfterFork(t *testing.T) {
	c := New(10)
	require.NoError(t, c.AddBlock(block(1, 1, 0)))
	require.NoError(t, c.AddBlock(block(2, 2, 1)))
	// Two children of block 1, diverging at height 2.
	forkedBlock := chain.NewBlock(2, hashOf(200), hashOf(1), nil, nil)
	require.NoError(t, c.AddBlock(forkedBlock))

	ancestor, ok := c.CommonAncestor(hashOf(2), hashOf(200))
	require.True(t, ok)
	assert.Equal(t, hashOf(1), ancestor.Hash)
}

func TestGetConfirmationsCountsInclusively(t *testing.T) {
	c := New(10)
	to := common.BytesToAddress([]byte{42})
	tx := types.NewTransaction(0, to, big.NewInt(0), 21000, big.NewInt(1), nil)
	b1 := chain.NewBlock(1, hashOf(1), hashOf(0), []*types.Transaction{tx}, nil)
	require.NoError(t, c.AddBlock(b1))
	require.NoError(t, c.AddBlock(block(2, 2, 1)))
	require.NoError(t, c.AddBlock(block(3, 3, 2)))

	confirmations := c.GetConfirmations(hashOf(3), tx.Hash())
	assert.Equal(t, uint64(3), confirmations)
}

func TestGetConfirmationsZeroWhenNotFound(t *testing.T) {
	c := New(10)
	require.NoError(t, c.AddBlock(block(1, 1, 0)))
	assert.Equal(t, uint64(0), c.GetConfirmations(hashOf(1), hashOf(99)))
}
