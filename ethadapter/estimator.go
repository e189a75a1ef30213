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
	"math/big"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/pisa-watch/pisa/appstore"
)

// GasPriceEstimator implements responder.GasEstimator by asking the node
// for its current suggested gas price, the idealGas floor
// GasQueueItemRequest is built from.
type GasPriceEstimator struct {
	client *ethclient.Client
}

// NewGasPriceEstimator wraps client as a responder.GasEstimator.
func NewGasPriceEstimator(client *ethclient.Client) *GasPriceEstimator {
	return &GasPriceEstimator{client: client}
}

func (e *GasPriceEstimator) Estimate(ctx context.Context, data appstore.ResponseData) (*big.Int, error) {
	return e.client.SuggestGasPrice(ctx)
}
