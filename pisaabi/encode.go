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

// Package pisaabi is the one place in this module that imports
// accounts/abi directly: ResponseData calldata encoding and the
// appointment-request signing digest (spec.md §6), grounded on
// BridgeManager.deployBridge's bind.ContractBackend use
// (node/sc/bridge_manager.go) for "describe a call through the
// generated-binding ABI, don't hand-roll calldata."
package pisaabi

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/pisa-watch/pisa/appstore"
)

// EncodeResponse packs responseData.FunctionArgs against
// responseData.FunctionName using the contract ABI JSON carried on the
// appointment, producing the calldata MultiResponder broadcasts.
func EncodeResponse(responseData appstore.ResponseData) ([]byte, error) {
	parsed, err := abi.JSON(strings.NewReader(responseData.ContractABI))
	if err != nil {
		return nil, err
	}
	return parsed.Pack(responseData.FunctionName, responseData.FunctionArgs...)
}
