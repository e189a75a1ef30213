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

// Package responder implements MultiResponder, the single signing key
// that owns every on-chain response PISA broadcasts (spec.md §4.7).
// Grounded on BridgeManager.deployBridge/MakeTransactOpts
// (node/sc/bridge_manager.go) for the "one signer, lazily-resolved nonce
// and chainId, build-and-broadcast" shape, and on BridgeTxPool's
// single-owner-of-nonce discipline (node/sc/bridge_tx_pool.go) for why
// nonce assignment must be centralised behind one mutex rather than
// spread across callers.
package responder

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/pisa-watch/pisa/appstore"
	"github.com/pisa-watch/pisa/gasqueue"
	"github.com/pisa-watch/pisa/pisaabi"
	"github.com/pisa-watch/pisa/pisaerr"
)

var logger = log.New("module", "responder")

// Signer is the narrow account/RPC surface MultiResponder needs, the
// same slice of behaviour accounts/abi/bind.TransactOpts wraps around an
// *ecdsa.PrivateKey in MakeTransactOpts.
type Signer interface {
	Address() common.Address
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// GasEstimator supplies the idealGas fed into a GasQueueItemRequest.
type GasEstimator interface {
	Estimate(ctx context.Context, data appstore.ResponseData) (*big.Int, error)
}

// Tracker is the narrow slice of TransactionTracker MultiResponder needs:
// register a one-shot callback invoked with the nonce a TxId is observed
// mined at.
type Tracker interface {
	AddTx(id gasqueue.TxId, onMined func(observedNonce uint64))
}

const defaultGasLimit = 250_000

// MultiResponder owns the signing key's GasQueue and is the sole writer
// of nonces for this watchtower. Setup (nonce + chainId) happens lazily
// on the first StartResponse call, per spec.md §4.7.
type MultiResponder struct {
	mu sync.Mutex

	signer      Signer
	estimator   GasEstimator
	tracker     Tracker
	gasLimit    uint64
	replaceRate uint32
	maxDepth    uint32

	setup   bool
	chainId *big.Int
	queue   *gasqueue.GasQueue

	// recentlyMined retains the request behind a TxId that txMined has
	// already dequeued, so a reorg that un-mines it can be detected and
	// re-broadcast (spec.md §4.7 reorg reaction).
	recentlyMined map[gasqueue.TxId]gasqueue.GasQueueItemRequest
}

// New constructs a MultiResponder. gasLimit is fixed per integration
// (spec.md §4.7 step 1); replacementRatePct/maxQueueDepth size the
// underlying GasQueue.
func New(signer Signer, estimator GasEstimator, tracker Tracker, gasLimit uint64, replacementRatePct, maxQueueDepth uint32) *MultiResponder {
	if gasLimit == 0 {
		gasLimit = defaultGasLimit
	}
	return &MultiResponder{
		signer:        signer,
		estimator:     estimator,
		tracker:       tracker,
		gasLimit:      gasLimit,
		replaceRate:   replacementRatePct,
		maxDepth:      maxQueueDepth,
		recentlyMined: make(map[gasqueue.TxId]gasqueue.GasQueueItemRequest),
	}
}

func (r *MultiResponder) ensureSetup(ctx context.Context) error {
	if r.setup {
		return nil
	}
	chainId, err := r.signer.ChainID(ctx)
	if err != nil {
		return errors.Wrap(err, "responder: fetch chainId")
	}
	nonce, err := r.signer.PendingNonceAt(ctx, r.signer.Address())
	if err != nil {
		return errors.Wrap(err, "responder: fetch initial nonce")
	}
	r.chainId = chainId
	r.queue = gasqueue.New(nonce, r.replaceRate, r.maxDepth)
	r.setup = true
	return nil
}

// StartResponse encodes responseData, estimates its ideal gas, admits it
// into the GasQueue, and broadcasts every item the queue mutation
// displaced (spec.md §4.7 startResponse).
func (r *MultiResponder) StartResponse(ctx context.Context, appointmentId string, responseData appstore.ResponseData) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureSetup(ctx); err != nil {
		return err
	}

	data, err := pisaabi.EncodeResponse(responseData)
	if err != nil {
		return errors.Wrap(err, "responder: encode response calldata")
	}
	id := gasqueue.NewTxId(r.chainId.Uint64(), data, responseData.ContractAddress, big.NewInt(0), r.gasLimit)

	idealGas, err := r.estimator.Estimate(ctx, responseData)
	if err != nil {
		return errors.Wrap(err, "responder: estimate gas")
	}

	req := gasqueue.GasQueueItemRequest{Identifier: id, IdealGas: idealGas, ResponseData: responseData}
	newQueue, err := r.queue.Add(req)
	if err != nil {
		return errors.Wrapf(err, "responder: admit response for appointment %s", appointmentId)
	}
	replaced := newQueue.Difference(r.queue)
	r.queue = newQueue

	r.broadcastAll(ctx, replaced)
	return nil
}

// broadcastAll registers each item with the tracker and fires the signed
// transaction, logging (not propagating) sign and broadcast failures.
// A failed item is not retried here or on later block ticks; it is sent
// again only if a later queue change or a reorg revival puts it in a
// difference set passed to broadcastAll.
func (r *MultiResponder) broadcastAll(ctx context.Context, items []gasqueue.GasQueueItem) {
	for _, item := range items {
		r.tracker.AddTx(item.Request.Identifier, r.makeTxMinedCallback(item.Request.Identifier))
		tx, err := r.buildAndSign(item)
		if err != nil {
			logger.Error("sign response tx failed", "err", err)
			continue
		}
		if err := r.signer.SendTransaction(ctx, tx); err != nil {
			logger.Error("broadcast response tx failed", "err", err, "nonce", item.Nonce)
		}
	}
}

// buildAndSign constructs the raw transaction for item and signs it.
// item.Request.Identifier.DataBytes() always carries the calldata this
// TxId was built from, so callers never need to pass it separately.
func (r *MultiResponder) buildAndSign(item gasqueue.GasQueueItem) (*types.Transaction, error) {
	to := item.Request.ResponseData.ContractAddress
	raw := types.NewTransaction(item.Nonce, to, big.NewInt(0), r.gasLimit, item.CurrentGas, item.Request.Identifier.DataBytes())
	return r.signer.SignTx(raw, r.chainId)
}

func (r *MultiResponder) makeTxMinedCallback(id gasqueue.TxId) func(observedNonce uint64) {
	return func(observedNonce uint64) {
		if err := r.txMined(id, observedNonce); err != nil {
			logger.Error("txMined handling failed", "err", err)
		}
	}
}

// txMined is invoked by TransactionTracker once a broadcast matching id
// is observed on chain, per spec.md §4.7.
func (r *MultiResponder) txMined(id gasqueue.TxId, observedNonce uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.queue == nil || r.queue.Len() == 0 {
		return &pisaerr.QueueConsistencyError{Reason: "txMined on empty queue", Observed: observedNonce}
	}
	if !r.queue.Contains(id) {
		return &pisaerr.QueueConsistencyError{Reason: "txMined for identifier not in queue", Observed: observedNonce}
	}
	front, _ := r.queue.Front()
	if front.Nonce != observedNonce {
		return &pisaerr.QueueConsistencyError{Reason: "tracker delivered out of nonce order", Expected: front.Nonce, Observed: observedNonce}
	}

	if front.Request.Identifier == id {
		next, err := r.queue.Dequeue()
		if err != nil {
			return err
		}
		r.recentlyMined[id] = front.Request
		r.queue = next
		r.queue.MarkCompleted(id)
		return nil
	}

	prevQueue := r.queue
	next, err := r.queue.Consume(id)
	if err != nil {
		return err
	}
	if item, ok := findItem(prevQueue, id); ok {
		r.recentlyMined[id] = item.Request
	}
	r.queue = next
	r.queue.MarkCompleted(id)

	replaced := next.Difference(prevQueue)
	go r.rebroadcastLater(replaced)
	return nil
}

// rebroadcastLater performs the re-broadcast the consume() path requires
// without holding r.mu across the signing/network round trip.
func (r *MultiResponder) rebroadcastLater(items []gasqueue.GasQueueItem) {
	ctx := context.Background()
	for _, item := range items {
		tx, err := r.buildAndSign(item)
		if err != nil {
			logger.Error("re-sign shifted response tx failed", "err", err)
			continue
		}
		if err := r.signer.SendTransaction(ctx, tx); err != nil {
			logger.Error("re-broadcast shifted response tx failed", "err", err, "nonce", item.Nonce)
		}
	}
}

func findItem(q *gasqueue.GasQueue, id gasqueue.TxId) (gasqueue.GasQueueItem, bool) {
	for _, it := range q.Items() {
		if it.Request.Identifier == id {
			return it, true
		}
	}
	return gasqueue.GasQueueItem{}, false
}
