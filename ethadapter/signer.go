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

// Package ethadapter wires the narrow ports core packages declare
// (responder.Signer, blockprocessor.BlockSource, responder.GasEstimator)
// against a live go-ethereum JSON-RPC endpoint, grounded on
// MakeTransactOpts (node/sc/bridge_manager.go) for "hold one
// *ecdsa.PrivateKey, sign with crypto.SignTx against a chainId-bound
// signer" and on SubBridge's ethclient.Client use for RPC plumbing.
package ethadapter

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// KeySigner implements responder.Signer over a single *ecdsa.PrivateKey
// and an ethclient.Client, the same pairing MakeTransactOpts builds a
// bind.TransactOpts from.
type KeySigner struct {
	client  *ethclient.Client
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewKeySigner loads the signing key found at keyPath (a hex-encoded
// secp256k1 private key, one line, no 0x prefix) and binds it to client.
func NewKeySigner(client *ethclient.Client, keyPath string) (*KeySigner, error) {
	key, err := loadPrivateKey(keyPath)
	if err != nil {
		return nil, err
	}
	return &KeySigner{
		client:  client,
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

func loadPrivateKey(path string) (*ecdsa.PrivateKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ethadapter: open signing key: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return nil, fmt.Errorf("ethadapter: signing key file %s is empty", path)
	}
	hexKey := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "0x"))
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("ethadapter: parse signing key: %w", err)
	}
	return key, nil
}

func (s *KeySigner) Address() common.Address { return s.address }

func (s *KeySigner) ChainID(ctx context.Context) (*big.Int, error) {
	return s.client.ChainID(ctx)
}

func (s *KeySigner) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return s.client.PendingNonceAt(ctx, account)
}

func (s *KeySigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	signer := types.NewEIP155Signer(chainID)
	return types.SignTx(tx, signer, s.key)
}

func (s *KeySigner) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return s.client.SendTransaction(ctx, tx)
}
