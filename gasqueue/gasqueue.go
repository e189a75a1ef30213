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

// Package gasqueue implements MultiResponder's price-sorted, nonce-stamped
// broadcast queue (spec.md §4.6), grounded on
// BridgeTxPool.queue map[common.Address]*bridgeTxSortedMap
// (node/sc/bridge_tx_pool.go): one sorted structure per responder, mutated
// and re-derived on every add/remove rather than patched in place. Where
// the teacher sorts a per-account map by nonce, GasQueue sorts a single
// flat list by price and derives nonces from list position, since PISA's
// responder owns exactly one signing key and must keep every outstanding
// transaction occupying a contiguous, gapless nonce range.
package gasqueue

import (
	"math/big"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rcrowley/go-metrics"

	"github.com/pisa-watch/pisa/appstore"
	"github.com/pisa-watch/pisa/pisaerr"
)

var queueDepthGauge = metrics.NewRegisteredGauge("gasqueue/depth", nil)

const completedCacheSize = 256

// GasQueueItemRequest is what a caller asks MultiResponder to broadcast:
// a logical transaction identity, the gas price it should ideally run at,
// and the calldata-producing ResponseData behind it.
type GasQueueItemRequest struct {
	Identifier   TxId
	IdealGas     *big.Int
	ResponseData appstore.ResponseData
}

// GasQueueItem is a request bound to a concrete nonce and the gas price
// actually assigned to it, which may exceed IdealGas once replacement-rate
// bumping has run.
type GasQueueItem struct {
	Request    GasQueueItemRequest
	Nonce      uint64
	CurrentGas *big.Int
}

// GasQueue is an immutable, price-descending / nonce-ascending sequence of
// outstanding transactions for a single signing key. Every mutating method
// returns a new *GasQueue; the receiver is left untouched, mirroring
// BridgeTxPool's copy-then-replace idiom around its queue maps.
type GasQueue struct {
	initialNonce       uint64
	replacementRatePct uint32
	maxQueueDepth      uint32
	items              []GasQueueItem

	// completed is a small recently-finished-TxId cache shared across every
	// clone derived from the same New call: it guards Add against a stale
	// retry re-enqueuing a response that already finished, independent of
	// whether the id still sits in items (Dequeue/Consume remove it from
	// there immediately).
	completed *lru.Cache
}

// New constructs an empty GasQueue. initialNonce is the signing account's
// next unused nonce; replacementRatePct is the percentage gas bump a
// transaction must clear to replace whatever currently occupies its nonce
// in the node's mempool; maxQueueDepth bounds outstanding breadth.
func New(initialNonce uint64, replacementRatePct, maxQueueDepth uint32) *GasQueue {
	completed, _ := lru.New(completedCacheSize)
	return &GasQueue{
		initialNonce:       initialNonce,
		replacementRatePct: replacementRatePct,
		maxQueueDepth:      maxQueueDepth,
		completed:          completed,
	}
}

// Len returns the number of outstanding items.
func (q *GasQueue) Len() int {
	return len(q.items)
}

// DepthReached reports whether the queue is at its configured capacity.
func (q *GasQueue) DepthReached() bool {
	return uint32(len(q.items)) >= q.maxQueueDepth
}

// Contains reports whether id already has an outstanding item.
func (q *GasQueue) Contains(id TxId) bool {
	_, ok := q.indexOf(id)
	return ok
}

// Items returns a defensive copy of the queue contents, front-to-back
// (lowest nonce first).
func (q *GasQueue) Items() []GasQueueItem {
	out := make([]GasQueueItem, len(q.items))
	copy(out, q.items)
	return out
}

// Front returns the lowest-nonce item, if any.
func (q *GasQueue) Front() (GasQueueItem, bool) {
	if len(q.items) == 0 {
		return GasQueueItem{}, false
	}
	return q.items[0], true
}

func (q *GasQueue) indexOf(id TxId) (int, bool) {
	for i, it := range q.items {
		if it.Request.Identifier == id {
			return i, true
		}
	}
	return 0, false
}

func (q *GasQueue) clone() *GasQueue {
	cp := &GasQueue{
		initialNonce:       q.initialNonce,
		replacementRatePct: q.replacementRatePct,
		maxQueueDepth:      q.maxQueueDepth,
		items:              make([]GasQueueItem, len(q.items)),
		completed:          q.completed,
	}
	copy(cp.items, q.items)
	return cp
}

// MarkCompleted records id as finished, so a later Add for the same
// identifier is ignored rather than re-enqueued. Shared across every
// GasQueue derived from the same New call, since completion is a fact
// about the identifier, not about any one queue snapshot.
func (q *GasQueue) MarkCompleted(id TxId) {
	q.completed.Add(id, struct{}{})
}

// ClearCompleted undoes MarkCompleted, for the reorg path where a
// previously-completed identifier must be re-admitted by Add.
func (q *GasQueue) ClearCompleted(id TxId) {
	q.completed.Remove(id)
}

// bumpGas returns ceil(prior * (100+ratePct) / 100), the minimum price a
// replacement transaction must carry to be accepted over whatever prior
// occupied that nonce.
func bumpGas(prior *big.Int, ratePct uint32) *big.Int {
	num := new(big.Int).Mul(prior, big.NewInt(int64(100+ratePct)))
	num.Add(num, big.NewInt(99))
	return num.Div(num, big.NewInt(100))
}

func maxBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// Add inserts req at the position dictated by req.IdealGas, preserving the
// price-descending invariant, and returns the resulting queue. Every item
// displaced to a higher index has its currentGas raised to at least its
// own prior currentGas times the replacement rate, since moving a
// previously-broadcast transaction onto a new nonce is itself a
// replacement of whatever that nonce last carried. The newly inserted item
// is only bumped above IdealGas if IdealGas would not itself clear the
// replacement-rate minimum of the item it displaces.
func (q *GasQueue) Add(req GasQueueItemRequest) (*GasQueue, error) {
	if q.Contains(req.Identifier) {
		return q, nil
	}
	if _, ok := q.completed.Get(req.Identifier); ok {
		return q, nil
	}
	if q.DepthReached() {
		return nil, &pisaerr.ArgumentError{Reason: "gas queue at max depth"}
	}

	k := 0
	for k < len(q.items) && q.items[k].CurrentGas.Cmp(req.IdealGas) >= 0 {
		k++
	}

	newGas := new(big.Int).Set(req.IdealGas)
	if k < len(q.items) {
		min := bumpGas(q.items[k].CurrentGas, q.replacementRatePct)
		newGas = maxBig(newGas, min)
	}
	newItem := GasQueueItem{Request: req, CurrentGas: newGas}

	next := q.clone()
	merged := make([]GasQueueItem, 0, len(next.items)+1)
	merged = append(merged, next.items[:k]...)
	merged = append(merged, newItem)
	merged = append(merged, next.items[k:]...)
	next.items = merged

	for i := range next.items {
		if i == k {
			continue
		}
		prior := q.items[i]
		if i > k {
			prior = q.items[i-1]
		}
		it := &next.items[i]
		it.Nonce = next.initialNonce + uint64(i)
		if it.Nonce != prior.Nonce {
			it.CurrentGas = bumpGas(prior.CurrentGas, next.replacementRatePct)
		}
	}
	next.items[k].Nonce = next.initialNonce + uint64(k)

	next.enforceDescending()
	queueDepthGauge.Update(int64(len(next.items)))
	return next, nil
}

// Dequeue removes the front (lowest-nonce) item: the normal "our
// broadcast was mined" path. Surviving items keep their nonces and prices
// unchanged — nothing about their position in line changed.
func (q *GasQueue) Dequeue() (*GasQueue, error) {
	if len(q.items) == 0 {
		return nil, &pisaerr.ApplicationError{Reason: "dequeue on empty gas queue"}
	}
	next := q.clone()
	next.items = next.items[1:]
	next.initialNonce++
	queueDepthGauge.Update(int64(len(next.items)))
	return next, nil
}

// Consume removes the item identified by id from wherever it sits in the
// queue and shifts every item ahead of it down by one nonce, recomputing
// gas so the descending-price invariant still holds. This models a past
// version of the queue having already mined a transaction at a nonce this
// queue never recorded: id's own nonce is now unusable, so the whole
// sequence compacts around the gap it leaves.
func (q *GasQueue) Consume(id TxId) (*GasQueue, error) {
	k, ok := q.indexOf(id)
	if !ok {
		return nil, &pisaerr.ApplicationError{Reason: "consume: identifier not in queue"}
	}

	next := q.clone()
	removed := make([]GasQueueItem, 0, len(next.items)-1)
	removed = append(removed, next.items[:k]...)
	removed = append(removed, next.items[k+1:]...)
	next.items = removed
	next.initialNonce--

	for i := range next.items {
		priorNonce := next.items[i].Nonce
		priorGas := next.items[i].CurrentGas
		newNonce := next.initialNonce + uint64(i)
		next.items[i].Nonce = newNonce
		if newNonce != priorNonce {
			next.items[i].CurrentGas = bumpGas(priorGas, next.replacementRatePct)
		}
	}

	next.enforceDescending()
	queueDepthGauge.Update(int64(len(next.items)))
	return next, nil
}

// enforceDescending is a defensive backstop re-asserting the
// price-descending invariant after a bump pass, walking back to front so
// no item ends up priced below the item behind it.
func (q *GasQueue) enforceDescending() {
	for i := len(q.items) - 2; i >= 0; i-- {
		if q.items[i].CurrentGas.Cmp(q.items[i+1].CurrentGas) < 0 {
			q.items[i].CurrentGas = new(big.Int).Set(q.items[i+1].CurrentGas)
		}
	}
}

// Difference returns every item in q whose (nonce, currentGas) differs
// from, or is absent in, prev, matched by TxId. MultiResponder broadcasts
// exactly this set after any mutating operation (spec.md §4.7).
func (q *GasQueue) Difference(prev *GasQueue) []GasQueueItem {
	old := make(map[TxId]GasQueueItem, len(prev.items))
	for _, it := range prev.items {
		old[it.Request.Identifier] = it
	}

	var out []GasQueueItem
	for _, it := range q.items {
		was, existed := old[it.Request.Identifier]
		if !existed || was.Nonce != it.Nonce || was.CurrentGas.Cmp(it.CurrentGas) != 0 {
			out = append(out, it)
		}
	}
	return out
}
