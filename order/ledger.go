/*
ledger.go - Idempotency ledger contract

PURPOSE:
  The ledger is the mechanism that closes the double-charge defect: the
  critical section is "check-then-reserve", and it is atomic with respect
  to every other caller using the same order id, across however many
  workers share the store.

CONTRACT:
  ReserveOrGet(id) either
    - grants this caller a Reservation: the exclusive right to issue the
      debit and later Commit the outcome, or
    - returns the Outcome committed earlier for this id.
  A caller that arrives while a reservation is pending blocks (context
  aware) until the reservation commits or is released, then observes the
  committed outcome or wins a fresh reservation. It never proceeds to a
  second debit.

FAILURE POLICY:
  A reservation that is never committed (caller crashed, debit failed,
  request cancelled) must not block retries forever. Every reservation
  carries an expiry deadline; once passed, the next ReserveOrGet takes the
  reservation over with a new owner token. The token makes Commit/Abort
  from the stale owner fail with ErrNotReservationOwner instead of
  clobbering the new owner's work.

IMPLEMENTATIONS:
  - order/store: in-memory, single process (reference implementation)
  - store/sqlite: shared transactional store for multi-worker deployments
  - store/redis: SETNX-based reservations for multi-instance deployments
*/
package order

import (
	"context"
	"time"
)

// Reservation is an exclusive, time-bounded claim on performing the debit
// for one order id. The Token identifies the owner; Commit and Abort verify
// it so a taken-over reservation cannot be finished by its old owner.
type Reservation struct {
	OrderID   OrderID
	Token     string
	ExpiresAt time.Time
}

// ReserveResult is the outcome of ReserveOrGet. Exactly one of the two
// fields is non-nil.
type ReserveResult struct {
	// Reservation is set when this caller won the right to issue the debit.
	Reservation *Reservation

	// Outcome is set when a terminal outcome already exists for the id.
	Outcome *Outcome
}

// Ledger records the outcome of each logical order exactly once.
// Entries are insertion-once: the first committer for an id wins and
// concurrent callers observe the winner's outcome.
type Ledger interface {
	// ReserveOrGet atomically checks for an existing outcome and, absent
	// one, reserves the id for this caller. Blocks while another caller's
	// reservation is pending; honors ctx cancellation.
	ReserveOrGet(ctx context.Context, id OrderID) (ReserveResult, error)

	// Commit records the terminal outcome under the reservation. Fails with
	// ErrNotReservationOwner if the reservation expired and was taken over,
	// or ErrAlreadyCommitted if an outcome is already recorded.
	Commit(ctx context.Context, res *Reservation, out Outcome) error

	// Abort releases the reservation without recording an outcome, so the
	// order can be retried. Safe to call after losing ownership.
	Abort(ctx context.Context, res *Reservation) error

	// Get returns the committed outcome for an id, if any.
	Get(ctx context.Context, id OrderID) (*Outcome, error)

	// Reset removes every entry. Test support; the processor serializes it
	// against in-flight orders.
	Reset(ctx context.Context) error
}
