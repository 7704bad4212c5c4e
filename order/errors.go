/*
errors.go - Centralized error types for the order engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Store implementations and the balance collaborator wrap these errors
  so the processor can classify failures with errors.Is / errors.As.

ERROR CATEGORIES:
  1. Validation errors - rejected locally, no side effects attempted
  2. Collaborator errors - transient (retryable) vs unavailable (terminal)
  3. Ledger errors - reservation ownership and lifecycle violations
*/
package order

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned when an order's amount is zero or negative.
	ErrInvalidAmount = errors.New("invalid order amount")

	// ErrInsufficientFunds is a terminal business outcome, not a system fault.
	// Never retried.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrCollaboratorTransient marks a balance collaborator failure that may
	// succeed on retry. The retry wrapper retries these with bounded backoff.
	ErrCollaboratorTransient = errors.New("balance collaborator temporarily unavailable")

	// ErrCollaboratorUnavailable is returned after retries are exhausted.
	// Terminal for this submission; the reservation is released so the
	// order can be retried later.
	ErrCollaboratorUnavailable = errors.New("balance collaborator unavailable")

	// ErrNotReservationOwner is returned by Commit/Abort when the caller's
	// reservation token no longer matches the ledger entry. This happens when
	// an abandoned reservation expired and another worker took it over.
	ErrNotReservationOwner = errors.New("reservation is owned by another caller")

	// ErrAlreadyCommitted is returned by Commit when a committed outcome
	// already exists for the order id. Outcomes are insertion-once.
	ErrAlreadyCommitted = errors.New("outcome already committed")
)

// IsRetryable reports whether a debit error may succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrCollaboratorTransient)
}

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientFundsError carries the balance details of a declined debit.
type InsufficientFundsError struct {
	CustomerID CustomerID
	Available  decimal.Decimal
	Requested  decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient balance: %s < %s", e.Available, e.Requested)
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

// ValidationError describes why an order was rejected before any side effect.
type ValidationError struct {
	OrderID OrderID
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("order %d rejected: %s", e.OrderID, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidAmount
}
