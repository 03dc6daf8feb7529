// Copyright 2025 PolyCrypt GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package idempotency provides the payment-id store that makes settlement
// exactly-once: an id is first reserved, then either released on failure or
// consumed for good on success.
package idempotency

import (
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/lightningnetwork/lnd/clock"
	"polycry.pt/poly-go/sync"
)

// ModuleName is the error codespace of the idempotency store.
const ModuleName = "idempotency"

var (
	// ErrAlreadyReserved means a settlement for the id is in flight.
	ErrAlreadyReserved = errorsmod.Register(ModuleName, 2, "identifier already reserved")
	// ErrAlreadyConsumed means the id was settled before; retrying it can
	// never succeed.
	ErrAlreadyConsumed = errorsmod.Register(ModuleName, 3, "identifier already consumed")
)

// DefaultRetention is how long entries are kept before pruning. It must
// exceed any plausible retry horizon of a payer.
const DefaultRetention = 24 * time.Hour

type entryStatus uint8

const (
	statusReserved entryStatus = iota
	statusConsumed
)

type entry struct {
	status entryStatus
	at     time.Time
}

// Store tracks payment-id reservations. All transitions are
// compare-and-set under one lock, so concurrent attempts on the same id
// linearize: exactly one caller wins the reservation.
type Store struct {
	clk       clock.Clock
	retention time.Duration

	mu      sync.Mutex
	entries map[string]entry
}

// NewStore creates a store pruned against the given clock. A non-positive
// retention selects DefaultRetention; a nil clock selects the wall clock.
func NewStore(clk clock.Clock, retention time.Duration) *Store {
	if clk == nil {
		clk = clock.NewDefaultClock()
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Store{
		clk:       clk,
		retention: retention,
		entries:   make(map[string]entry),
	}
}

// Reserve claims the id for an in-flight settlement. It fails with
// ErrAlreadyReserved while another settlement holds the id and with
// ErrAlreadyConsumed once the id is spent.
func (s *Store) Reserve(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune()
	if e, ok := s.entries[id]; ok {
		if e.status == statusConsumed {
			return errorsmod.Wrapf(ErrAlreadyConsumed, "id %q", id)
		}
		return errorsmod.Wrapf(ErrAlreadyReserved, "id %q", id)
	}
	s.entries[id] = entry{status: statusReserved, at: s.clk.Now()}
	return nil
}

// Release frees a reservation after a failed settlement so a corrected
// retry can reserve again. Consumed ids stay consumed.
func (s *Store) Release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok && e.status == statusReserved {
		delete(s.entries, id)
	}
}

// Consume marks the id as settled for good. Unreserved ids are consumed
// directly as a single-step reserve-and-consume.
func (s *Store) Consume(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune()
	if e, ok := s.entries[id]; ok && e.status == statusConsumed {
		return errorsmod.Wrapf(ErrAlreadyConsumed, "id %q", id)
	}
	s.entries[id] = entry{status: statusConsumed, at: s.clk.Now()}
	return nil
}

// Len returns the number of tracked ids.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// prune drops entries older than the retention horizon. Reserved entries
// age out too; they only outlive retention if a settlement leaks its
// reservation. Caller holds the lock.
func (s *Store) prune() {
	cutoff := s.clk.Now().Add(-s.retention)
	for id, e := range s.entries {
		if e.at.Before(cutoff) {
			delete(s.entries, id)
		}
	}
}
