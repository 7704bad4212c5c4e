/*
balance.go - Balance collaborator contract and retry wrapper

PURPOSE:
  The balance collaborator is an external capability: it owns customer
  balances and the engine never caches them authoritatively. The debit
  carries the order's idempotency token so a collaborator that supports
  deduplication provides a second defense-in-depth layer, independent of
  the ledger, when multiple engine instances run without a shared store.

RETRY POLICY:
  Transient failures are retried with bounded exponential backoff, reusing
  the same idempotency token on every attempt. Insufficient funds is a
  terminal business outcome and is never retried. After the attempt budget
  is exhausted the error is escalated to ErrCollaboratorUnavailable.
*/
package order

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DebitResult is the collaborator's response to a successful debit.
type DebitResult struct {
	NewBalance decimal.Decimal
}

// BalanceClient is the external balance collaborator. Debit errors are
// classified with the sentinels in errors.go: ErrInsufficientFunds is
// terminal, ErrCollaboratorTransient is retryable.
type BalanceClient interface {
	Debit(ctx context.Context, customerID CustomerID, amount decimal.Decimal, token string) (DebitResult, error)
}

// =============================================================================
// RETRYING CLIENT
// =============================================================================

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 50 * time.Millisecond
	DefaultMaxDelay    = 2 * time.Second
)

// RetryingClient wraps a BalanceClient with bounded retries for transient
// failures. The idempotency token passed through is identical on every
// attempt, so a duplicate delivery on the collaborator side deduplicates
// to a single deduction.
type RetryingClient struct {
	Inner       BalanceClient
	MaxAttempts int           // 0 means DefaultMaxAttempts
	BaseDelay   time.Duration // 0 means DefaultBaseDelay
	MaxDelay    time.Duration // 0 means DefaultMaxDelay
}

func NewRetryingClient(inner BalanceClient) *RetryingClient {
	return &RetryingClient{Inner: inner}
}

func (c *RetryingClient) Debit(ctx context.Context, customerID CustomerID, amount decimal.Decimal, token string) (DebitResult, error) {
	attempts := c.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	delay := c.BaseDelay
	if delay <= 0 {
		delay = DefaultBaseDelay
	}
	maxDelay := c.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := c.Inner.Debit(ctx, customerID, amount, token)
		if err == nil {
			return result, nil
		}
		if !IsRetryable(err) {
			return DebitResult{}, err
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return DebitResult{}, ctx.Err()
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}

	return DebitResult{}, fmt.Errorf("%w after %d attempts: %v", ErrCollaboratorUnavailable, attempts, lastErr)
}
