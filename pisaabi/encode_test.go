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

package pisaabi

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pisa-watch/pisa/appstore"
)

const transferABI = `[{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[],"type":"function"}]`

func TestEncodeResponsePacksCalldata(t *testing.T) {
	data := appstore.ResponseData{
		ContractAddress: common.BytesToAddress([]byte{1}),
		ContractABI:     transferABI,
		FunctionName:    "transfer",
		FunctionArgs:    []interface{}{common.BytesToAddress([]byte{2}), big.NewInt(100)},
	}

	calldata, err := EncodeResponse(data)
	require.NoError(t, err)
	assert.NotEmpty(t, calldata)
	// First 4 bytes are the function selector, stable across calls.
	again, err := EncodeResponse(data)
	require.NoError(t, err)
	assert.Equal(t, calldata[:4], again[:4])
}

func TestEncodeResponseRejectsBadABI(t *testing.T) {
	data := appstore.ResponseData{ContractABI: "not json"}
	_, err := EncodeResponse(data)
	assert.Error(t, err)
}

func TestEncodeResponseRejectsUnknownFunction(t *testing.T) {
	data := appstore.ResponseData{
		ContractABI:  transferABI,
		FunctionName: "nonexistent",
	}
	_, err := EncodeResponse(data)
	assert.Error(t, err)
}
