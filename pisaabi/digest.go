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
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// AppointmentRequest is the JSON appointment-request shape of spec.md §6,
// reduced to the fields the canonical signing digest folds over.
type AppointmentRequest struct {
	Id              *big.Int
	JobId           *big.Int
	StartBlock      *big.Int
	EndBlock        *big.Int
	ChallengePeriod *big.Int
	Refund          *big.Int
	PaymentHash     common.Hash

	ContractAddress common.Address
	CustomerAddress common.Address
	GasLimit        *big.Int
	Data            []byte

	EventABI       string
	EventArgs      []byte
	PreCondition   []byte
	PostCondition  []byte
	Mode           *big.Int
}

func mustArgs(types ...string) abi.Arguments {
	args := make(abi.Arguments, len(types))
	for i, t := range types {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(fmt.Sprintf("pisaabi: invalid abi type %q: %v", t, err))
		}
		args[i] = abi.Argument{Type: typ}
	}
	return args
}

var (
	headerArgs  = mustArgs("uint256", "uint256", "uint256", "uint256", "uint256", "uint256", "bytes32")
	targetArgs  = mustArgs("address", "address", "uint256", "bytes")
	triggerArgs = mustArgs("bytes", "bytes", "bytes", "bytes", "uint256")
	outerArgs   = mustArgs("bytes", "bytes", "bytes")
)

// Digest computes the canonical keccak256 digest an appointment request
// is signed over (spec.md §6): three abi-encoded groups (header, target,
// trigger) themselves abi-encoded together as bytes.
func (r AppointmentRequest) Digest() (common.Hash, error) {
	header, err := headerArgs.Pack(r.Id, r.JobId, r.StartBlock, r.EndBlock, r.ChallengePeriod, r.Refund, r.PaymentHash)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pisaabi: pack header: %w", err)
	}
	target, err := targetArgs.Pack(r.ContractAddress, r.CustomerAddress, r.GasLimit, r.Data)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pisaabi: pack target: %w", err)
	}
	trigger, err := triggerArgs.Pack([]byte(r.EventABI), r.EventArgs, r.PreCondition, r.PostCondition, r.Mode)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pisaabi: pack trigger: %w", err)
	}
	outer, err := outerArgs.Pack(header, target, trigger)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pisaabi: pack outer: %w", err)
	}
	return crypto.Keccak256Hash(outer), nil
}

// personalSignHash applies the EIP-191 personal-sign prefix to digest,
// the hash customerSig is actually computed over.
func personalSignHash(digest common.Hash) common.Hash {
	msg := fmt.Sprintf("\x19Ethereum Signed Message:\n32%s", string(digest[:]))
	return crypto.Keccak256Hash([]byte(msg))
}

// VerifySignature recovers the signer of r's EIP-191-prefixed digest and
// reports whether it matches expected. sig is the 65-byte [R || S || V]
// signature; V is normalised to {0,1} if supplied as {27,28}.
func VerifySignature(r AppointmentRequest, sig []byte, expected common.Address) (bool, error) {
	if len(sig) != 65 {
		return false, fmt.Errorf("pisaabi: signature must be 65 bytes, got %d", len(sig))
	}
	digest, err := r.Digest()
	if err != nil {
		return false, err
	}
	normalised := make([]byte, 65)
	copy(normalised, sig)
	if normalised[64] >= 27 {
		normalised[64] -= 27
	}

	hash := personalSignHash(digest)
	pub, err := crypto.SigToPub(hash[:], normalised)
	if err != nil {
		return false, fmt.Errorf("pisaabi: recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub) == expected, nil
}
