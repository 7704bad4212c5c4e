// Package store provides the in-memory Ledger implementation.
//
// Suitable for a single-process deployment: all workers are goroutines
// sharing this address space. Multi-worker deployments without shared
// memory must use store/sqlite or store/redis instead; a per-worker
// ledger provides no cross-worker guarantee.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp/order-engine/order"
)

// DefaultReservationTTL bounds how long an abandoned reservation can block
// retries of the same order id.
const DefaultReservationTTL = 30 * time.Second

// Memory is a mutex-guarded Ledger. Waiters for a pending reservation block
// on a per-entry channel that is closed on commit or abort.
type Memory struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[order.OrderID]*entry
}

type entryState int

const (
	statePending entryState = iota
	stateCommitted
)

type entry struct {
	state     entryState
	token     string
	expiresAt time.Time
	outcome   order.Outcome
	done      chan struct{} // closed when the pending cycle ends
}

func NewMemory() *Memory {
	return &Memory{
		ttl:     DefaultReservationTTL,
		now:     time.Now,
		entries: make(map[order.OrderID]*entry),
	}
}

// NewMemoryWithTTL creates a ledger with a custom reservation expiry.
func NewMemoryWithTTL(ttl time.Duration) *Memory {
	m := NewMemory()
	m.ttl = ttl
	return m
}

func (m *Memory) ReserveOrGet(ctx context.Context, id order.OrderID) (order.ReserveResult, error) {
	for {
		m.mu.Lock()
		e, ok := m.entries[id]

		if !ok {
			// First caller for this id wins the reservation.
			res := m.reserveLocked(id)
			m.mu.Unlock()
			return order.ReserveResult{Reservation: res}, nil
		}

		if e.state == stateCommitted {
			out := e.outcome
			m.mu.Unlock()
			return order.ReserveResult{Outcome: &out}, nil
		}

		// Pending. If the reservation expired, take it over with a new
		// token; the stale owner's Commit/Abort will no longer match.
		if !m.now().Before(e.expiresAt) {
			e.token = uuid.NewString()
			e.expiresAt = m.now().Add(m.ttl)
			res := &order.Reservation{OrderID: id, Token: e.token, ExpiresAt: e.expiresAt}
			m.mu.Unlock()
			return order.ReserveResult{Reservation: res}, nil
		}

		// Live reservation held elsewhere: wait for it to settle, then
		// re-check. Waking on the expiry deadline lets us take over an
		// abandoned reservation instead of blocking forever.
		done := e.done
		wait := time.Until(e.expiresAt)
		m.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-done:
			timer.Stop()
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return order.ReserveResult{}, ctx.Err()
		}
	}
}

func (m *Memory) reserveLocked(id order.OrderID) *order.Reservation {
	e := &entry{
		state:     statePending,
		token:     uuid.NewString(),
		expiresAt: m.now().Add(m.ttl),
		done:      make(chan struct{}),
	}
	m.entries[id] = e
	return &order.Reservation{OrderID: id, Token: e.token, ExpiresAt: e.expiresAt}
}

func (m *Memory) Commit(_ context.Context, res *order.Reservation, out order.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[res.OrderID]
	if !ok {
		return order.ErrNotReservationOwner
	}
	if e.state == stateCommitted {
		return order.ErrAlreadyCommitted
	}
	if e.token != res.Token {
		return order.ErrNotReservationOwner
	}

	e.state = stateCommitted
	e.outcome = out
	close(e.done)
	return nil
}

func (m *Memory) Abort(_ context.Context, res *order.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[res.OrderID]
	if !ok || e.state != statePending || e.token != res.Token {
		return order.ErrNotReservationOwner
	}

	delete(m.entries, res.OrderID)
	close(e.done) // waiters loop and race for a fresh reservation
	return nil
}

func (m *Memory) Get(_ context.Context, id order.OrderID) (*order.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[id]; ok && e.state == stateCommitted {
		out := e.outcome
		return &out, nil
	}
	return nil, nil
}

func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, e := range m.entries {
		if e.state == statePending {
			close(e.done)
		}
		delete(m.entries, id)
	}
	return nil
}
