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

// Package appstore holds the Appointment data model and the in-memory
// AppointmentStore, grounded on BridgeTxPool's mu-guarded map/copy-out
// idiom (node/sc/bridge_tx_pool.go): a single sync.RWMutex serialises
// writes, reads return a point-in-time snapshot.
package appstore

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ResponseData deterministically encodes to the calldata PISA submits on
// the customer's behalf. Encode lives in package pisaabi so appstore has
// no dependency on accounts/abi.
type ResponseData struct {
	ContractAddress common.Address
	ContractABI     string
	FunctionName    string
	FunctionArgs    []interface{}
}

// Appointment is a customer's authorisation for PISA to post
// ResponseData's encoded transaction if EventFilter matches a log within
// [StartBlock, EndBlock]. Appointment.Id is unique; StateLocator may be
// shared across versions, with the highest StateNonce superseding lower
// ones (spec.md §3).
type Appointment struct {
	Id              string
	StateLocator    string
	StateNonce      uint64
	ContractAddress common.Address
	EventAddress    common.Address
	EventTopics     []*common.Hash
	ResponseData    ResponseData
	StartBlock      uint64
	EndBlock        uint64
	ChallengePeriod uint64
}

// IdealGasPrice always returns zero: an appointment carries no gas price
// hint. MultiResponder does not call it; its idealGas comes from its
// GasEstimator.
func (a *Appointment) IdealGasPrice() *big.Int {
	return big.NewInt(0)
}
