/*
Package order provides the core order-processing engine.

PURPOSE:
  This package contains the concurrency-safe pipeline that takes a validated
  order, charges the customer's balance through an external collaborator,
  and maintains running daily statistics. The hard guarantees live here:
  a balance is deducted exactly once per logical order, and every committed
  order is counted exactly once in the daily statistics.

KEY CONCEPTS IN THIS FILE (types.go):
  - Order: An immutable incoming order request
  - Outcome: The terminal result recorded for an order (the idempotency contract)
  - DailyStats: Aggregated revenue and count for a single calendar day

DESIGN PRINCIPLES:
  1. Insertion-once: an Outcome is created once per order id and never overwritten
  2. Precision: Uses decimal.Decimal to avoid floating-point errors on money
  3. Type Safety: Strong typing for order and customer identifiers
  4. Single ownership: only the reservation holder may issue the debit

SEE ALSO:
  - ledger.go: Idempotency ledger contract (reserve / commit / abort)
  - stats.go: Daily statistics aggregator
  - processor.go: The per-order state machine
  - balance.go: Balance collaborator contract and retry wrapper
*/
package order

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type OrderID int64
type CustomerID int64

// IdempotencyToken returns the token presented to the balance collaborator
// for this order. Retries reuse the exact same token, never a fresh one.
func (id OrderID) IdempotencyToken() string {
	return "order-" + strconv.FormatInt(int64(id), 10)
}

// =============================================================================
// ORDER - Immutable incoming request
// =============================================================================

type Order struct {
	ID         OrderID
	CustomerID CustomerID
	Amount     decimal.Decimal
	Priority   bool
}

// =============================================================================
// OUTCOME - Terminal result per order id
// =============================================================================

type Status string

const (
	StatusCommitted         Status = "committed"          // debit confirmed, statistics updated
	StatusInsufficientFunds Status = "insufficient_funds" // terminal business outcome, no retry
	StatusRejected          Status = "rejected"           // failed validation, no side effects
	StatusFailed            Status = "failed"             // collaborator unavailable after retries
)

// Outcome is the result recorded for one logical order. Once a committed or
// insufficient_funds outcome exists in the ledger, every subsequent submission
// of the same order id observes this exact value instead of re-executing the
// debit.
type Outcome struct {
	OrderID       OrderID
	Status        Status
	Priority      bool
	ChargedAmount decimal.Decimal
	NewBalance    *decimal.Decimal // set only when the collaborator reported one
	Message       string
}

// =============================================================================
// DAILY STATS - Snapshot of one calendar day
// =============================================================================

type DailyStats struct {
	Date         time.Time // UTC midnight of the day the stats cover
	OrderCount   int64
	TotalRevenue decimal.Decimal
}
