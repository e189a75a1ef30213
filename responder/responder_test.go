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

package responder

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pisa-watch/pisa/appstore"
	"github.com/pisa-watch/pisa/gasqueue"
)

const transferABI = `[{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[],"type":"function"}]`

func responseData(n byte) appstore.ResponseData {
	return appstore.ResponseData{
		ContractAddress: common.BytesToAddress([]byte{n}),
		ContractABI:     transferABI,
		FunctionName:    "transfer",
		FunctionArgs:    []interface{}{common.BytesToAddress([]byte{n}), big.NewInt(int64(n))},
	}
}

type fakeSigner struct {
	addr    common.Address
	chainId *big.Int
	nonce   uint64

	mu   sync.Mutex
	sent []*types.Transaction
}

func (s *fakeSigner) Address() common.Address { return s.addr }
func (s *fakeSigner) ChainID(ctx context.Context) (*big.Int, error) { return s.chainId, nil }
func (s *fakeSigner) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return s.nonce, nil
}
func (s *fakeSigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return tx, nil
}
func (s *fakeSigner) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, tx)
	return nil
}
func (s *fakeSigner) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type fixedEstimator struct{ gas *big.Int }

func (e *fixedEstimator) Estimate(ctx context.Context, data appstore.ResponseData) (*big.Int, error) {
	return e.gas, nil
}

type recordingTracker struct {
	mu        sync.Mutex
	callbacks map[gasqueue.TxId]func(uint64)
}

func newRecordingTracker() *recordingTracker {
	return &recordingTracker{callbacks: make(map[gasqueue.TxId]func(uint64))}
}
func (t *recordingTracker) AddTx(id gasqueue.TxId, onMined func(observedNonce uint64)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks[id] = onMined
}
func (t *recordingTracker) fire(id gasqueue.TxId, nonce uint64) {
	t.mu.Lock()
	cb := t.callbacks[id]
	t.mu.Unlock()
	if cb != nil {
		cb(nonce)
	}
}

func newTestResponder() (*MultiResponder, *fakeSigner, *recordingTracker) {
	signer := &fakeSigner{addr: common.BytesToAddress([]byte{1}), chainId: big.NewInt(1), nonce: 5}
	tracker := newRecordingTracker()
	r := New(signer, &fixedEstimator{gas: big.NewInt(100)}, tracker, 250_000, 10, 4)
	return r, signer, tracker
}

func TestStartResponseBroadcastsNewItem(t *testing.T) {
	r, signer, _ := newTestResponder()
	err := r.StartResponse(context.Background(), "appt-1", responseData(1))
	require.NoError(t, err)
	assert.Equal(t, 1, signer.sentCount())
	assert.Equal(t, 1, r.queue.Len())
}

func TestStartResponseIsIdempotentForSameAppointment(t *testing.T) {
	r, signer, _ := newTestResponder()
	data := responseData(1)
	require.NoError(t, r.StartResponse(context.Background(), "appt-1", data))
	require.NoError(t, r.StartResponse(context.Background(), "appt-1", data))
	assert.Equal(t, 1, r.queue.Len())
	assert.Equal(t, 1, signer.sentCount())
}

func TestTxMinedDequeuesFrontAndMarksCompleted(t *testing.T) {
	r, _, tracker := newTestResponder()
	require.NoError(t, r.StartResponse(context.Background(), "appt-1", responseData(1)))

	front, ok := r.queue.Front()
	require.True(t, ok)
	id := front.Request.Identifier

	tracker.fire(id, front.Nonce)

	// Give the (synchronous, since txMined runs inline in makeTxMinedCallback
	// during fire) handling a brief moment in case anything were to be
	// scheduled asynchronously.
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, 0, r.queue.Len())
	assert.False(t, r.queue.Contains(id))

	// The mined id is now marked completed: re-submitting the same
	// response does not enqueue it again.
	require.NoError(t, r.StartResponse(context.Background(), "appt-1", responseData(1)))
	assert.Equal(t, 0, r.queue.Len())
}

func TestTxMinedOutOfNonceOrderReturnsConsistencyError(t *testing.T) {
	r, _, _ := newTestResponder()
	require.NoError(t, r.StartResponse(context.Background(), "appt-1", responseData(1)))

	front, ok := r.queue.Front()
	require.True(t, ok)

	err := r.txMined(front.Request.Identifier, front.Nonce+1)
	assert.Error(t, err)
}

func TestTxMinedUnknownIdentifierReturnsConsistencyError(t *testing.T) {
	r, _, _ := newTestResponder()
	require.NoError(t, r.StartResponse(context.Background(), "appt-1", responseData(1)))

	unknown := gasqueue.NewTxId(99, []byte("nope"), common.Address{}, big.NewInt(0), 21000)
	err := r.txMined(unknown, 0)
	assert.Error(t, err)
}

func TestTxMinedOnEmptyQueueReturnsConsistencyError(t *testing.T) {
	r, _, _ := newTestResponder()
	require.NoError(t, r.ensureSetup(context.Background()))
	err := r.txMined(gasqueue.NewTxId(1, nil, common.Address{}, big.NewInt(0), 21000), 0)
	assert.Error(t, err)
}

// TestTxMinedNonFrontIdentifierConsumesAndRebroadcasts exercises the
// literal txMined algorithm for a mined identifier that is not currently
// at the front of the queue: it must fall through to Consume and
// re-broadcast whatever shifted, rather than Dequeue.
func TestTxMinedNonFrontIdentifierConsumesAndRebroadcasts(t *testing.T) {
	r, signer, _ := newTestResponder()
	require.NoError(t, r.StartResponse(context.Background(), "appt-1", responseData(1)))
	require.NoError(t, r.StartResponse(context.Background(), "appt-2", responseData(2)))
	require.Equal(t, 2, r.queue.Len())

	items := r.queue.Items()
	front := items[0]
	back := items[len(items)-1]

	// txMined's literal algorithm checks only that observedNonce equals
	// the current front nonce, then branches on whether id equals the
	// front identifier. Passing the back item's identifier alongside the
	// front's nonce exercises the Consume (not Dequeue) branch.
	sentBefore := signer.sentCount()
	err := r.txMined(back.Request.Identifier, front.Nonce)
	require.NoError(t, err)

	assert.Equal(t, 1, r.queue.Len())
	assert.False(t, r.queue.Contains(back.Request.Identifier))

	// rebroadcastLater runs in its own goroutine; give it a moment.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if signer.sentCount() > sentBefore {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Greater(t, signer.sentCount(), sentBefore, "consume must re-broadcast shifted items")
}
