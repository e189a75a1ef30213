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

package appstore

import "sync"

// Store is an in-memory AppointmentStore: a map from appointment id to
// Appointment, plus a state-locator index enforcing the highest-nonce-wins
// rule of spec.md §4.4. Writes are serialised by mu; reads copy out, the
// same shape as BridgeTxPool.Pending()/Content() in
// node/sc/bridge_tx_pool.go.
//
// Persistent storage backing the store is an explicit non-goal
// (spec.md §1); Store is the default, test-friendly, wholly in-memory
// implementation of the AppointmentStore port.
type Store struct {
	mu sync.RWMutex

	byId           map[string]*Appointment
	byStateLocator map[string]*Appointment
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		byId:           make(map[string]*Appointment),
		byStateLocator: make(map[string]*Appointment),
	}
}

// AddOrUpdateByStateLocator inserts a, replacing any existing entry for
// a.StateLocator only if the existing entry's StateNonce is strictly
// lower. Returns true iff a was stored, per spec.md §4.4 and the store
// nonce rule tested in spec.md §8.
func (s *Store) AddOrUpdateByStateLocator(a *Appointment) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.byStateLocator[a.StateLocator]
	if ok && existing.StateNonce >= a.StateNonce {
		return false
	}

	if ok {
		delete(s.byId, existing.Id)
	}

	cp := *a
	s.byId[a.Id] = &cp
	s.byStateLocator[a.StateLocator] = &cp
	return true
}

// GetAll returns a snapshot slice of every stored appointment. The
// returned slice and its elements are copies; mutating them does not
// affect the store.
func (s *Store) GetAll() []*Appointment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Appointment, 0, len(s.byId))
	for _, a := range s.byId {
		cp := *a
		out = append(out, &cp)
	}
	return out
}

// GetIds returns the ids of every stored appointment, the key-collection
// function a component.MappedStateReducer's KeysFunc is built from.
func (s *Store) GetIds() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.byId))
	for id := range s.byId {
		out = append(out, id)
	}
	return out
}

// GetById returns a copy of the stored appointment with the given id.
func (s *Store) GetById(id string) (*Appointment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.byId[id]
	if !ok {
		return nil, false
	}
	cp := *a
	return &cp, true
}

// RemoveById deletes the appointment with the given id. Idempotent: it is
// not an error to remove an id that isn't present.
func (s *Store) RemoveById(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byId[id]
	if !ok {
		return
	}
	delete(s.byId, id)
	if cur, ok := s.byStateLocator[a.StateLocator]; ok && cur.Id == id {
		delete(s.byStateLocator, a.StateLocator)
	}
}
