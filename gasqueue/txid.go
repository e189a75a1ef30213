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

package gasqueue

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TxId is PisaTransactionIdentifier (spec.md §3): a semantic transaction
// identity independent of nonce and gas price. Two GasQueueItems with
// equal TxId are the same logical response; a transaction mined with a
// matching TxId proves that response was delivered. TxId is a plain
// comparable struct (Data folded to a string) so it can be used directly
// as a map key, the same way the teacher keys its event-subscription maps
// by common.Address (node/sc/bridge_manager.go's
// receivedEvents map[common.Address]event.Subscription).
type TxId struct {
	ChainId  uint64
	Data     string
	To       common.Address
	Value    string
	GasLimit uint64
}

// NewTxId builds a TxId from its constituent fields.
func NewTxId(chainId uint64, data []byte, to common.Address, value *big.Int, gasLimit uint64) TxId {
	v := "0"
	if value != nil {
		v = value.String()
	}
	return TxId{
		ChainId:  chainId,
		Data:     string(data),
		To:       to,
		Value:    v,
		GasLimit: gasLimit,
	}
}

// DataBytes returns the calldata this TxId was built from.
func (id TxId) DataBytes() []byte {
	return []byte(id.Data)
}

// MatchingTx is the narrow slice of *types.Transaction a TxId is matched
// against, avoiding an import of core/types here.
type MatchingTx interface {
	To() *common.Address
	Data() []byte
	Value() *big.Int
	Gas() uint64
}

// Matches reports whether tx is a broadcast of id: same destination,
// calldata, value and gas limit. Nonce and gas price are deliberately
// excluded — id is the part of a transaction's identity that survives
// replacement.
func (id TxId) Matches(tx MatchingTx) bool {
	to := tx.To()
	if to == nil || *to != id.To {
		return false
	}
	if string(tx.Data()) != id.Data {
		return false
	}
	v := "0"
	if tx.Value() != nil {
		v = tx.Value().String()
	}
	if v != id.Value {
		return false
	}
	return tx.Gas() == id.GasLimit
}
