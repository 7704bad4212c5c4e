/*
processor.go - Per-order state machine and batch orchestration

PURPOSE:
  Orchestrates one order through
    received -> validated -> reserving -> debiting -> committing -> done
  with the terminal branches rejected, insufficient_funds and failed.

OWNERSHIP DISCIPLINE:
  The ledger reservation is the only license to issue a debit. A caller
  that observes an existing outcome short-circuits with it and performs no
  further side effects. Statistics are recorded only after the caller's
  own commit succeeds, which is what makes the count exactly-once.

FAILURE ISOLATION:
  In a batch, every order runs the state machine independently; one
  order's rejection or failure never aborts or rolls back its siblings.
  Partial success is expected and reported per order.

RESET:
  Reset takes the write side of a gate whose read side spans each
  in-flight order, so a reset never interleaves with a commit and the
  statistics can never count an order the ledger no longer knows.
*/
package order

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Processor composes the ledger, the statistics aggregator and the balance
// collaborator into the order pipeline.
type Processor struct {
	ledger  Ledger
	stats   *Stats
	balance BalanceClient

	// resetGate: readers are in-flight orders, the writer is Reset.
	resetGate sync.RWMutex
}

func NewProcessor(ledger Ledger, stats *Stats, balance BalanceClient) *Processor {
	return &Processor{ledger: ledger, stats: stats, balance: balance}
}

// Stats exposes the aggregator for read-only snapshots.
func (p *Processor) Stats() DailyStats {
	return p.stats.Snapshot()
}

// =============================================================================
// SINGLE ORDER
// =============================================================================

// Process runs one order through the state machine. The returned error is
// reserved for infrastructure failures (ledger store unreachable, context
// cancelled); business failures are reported in the Outcome status.
func (p *Processor) Process(ctx context.Context, o Order) (Outcome, error) {
	p.resetGate.RLock()
	defer p.resetGate.RUnlock()

	// received -> validated | rejected
	if !o.Amount.IsPositive() {
		return Outcome{
			OrderID:  o.ID,
			Status:   StatusRejected,
			Priority: o.Priority,
			Message:  (&ValidationError{OrderID: o.ID, Reason: "amount must be positive"}).Error(),
		}, nil
	}

	// validated -> reserving
	res, err := p.ledger.ReserveOrGet(ctx, o.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("reserve order %d: %w", o.ID, err)
	}
	if res.Outcome != nil {
		// Duplicate submission: resolved transparently, zero side effects.
		return *res.Outcome, nil
	}

	// reserving -> debiting
	result, err := p.balance.Debit(ctx, o.CustomerID, o.Amount, o.ID.IdempotencyToken())
	switch {
	case err == nil:
		// debiting -> committing -> done
		out := Outcome{
			OrderID:       o.ID,
			Status:        StatusCommitted,
			Priority:      o.Priority,
			ChargedAmount: o.Amount,
			NewBalance:    &result.NewBalance,
		}
		if err := p.commit(ctx, res.Reservation, out); err != nil {
			return p.resolveLostCommit(ctx, o.ID, err)
		}
		// Exactly once: only the committer of the ledger entry records.
		p.stats.Record(o.Amount)
		return out, nil

	case errors.Is(err, ErrInsufficientFunds):
		// Terminal business outcome: committed so replays observe it
		// without re-presenting the debit.
		out := Outcome{
			OrderID:  o.ID,
			Status:   StatusInsufficientFunds,
			Priority: o.Priority,
			Message:  err.Error(),
		}
		if err := p.commit(ctx, res.Reservation, out); err != nil {
			return p.resolveLostCommit(ctx, o.ID, err)
		}
		return out, nil

	case ctx.Err() != nil:
		// Cancelled mid-flight: release the reservation so the order can
		// be retried, then surface the cancellation.
		_ = p.ledger.Abort(context.WithoutCancel(ctx), res.Reservation)
		return Outcome{}, ctx.Err()

	default:
		// Collaborator unavailable after retries. No ledger commit, no
		// statistics; the released reservation makes the order retryable.
		_ = p.ledger.Abort(ctx, res.Reservation)
		return Outcome{
			OrderID:  o.ID,
			Status:   StatusFailed,
			Priority: o.Priority,
			Message:  err.Error(),
		}, nil
	}
}

func (p *Processor) commit(ctx context.Context, res *Reservation, out Outcome) error {
	return p.ledger.Commit(ctx, res, out)
}

// resolveLostCommit handles a commit rejected because the reservation
// expired and was taken over. The debit carried our idempotency token, so
// the new owner's debit deduplicated against ours; the outcome it commits
// is the one to report.
func (p *Processor) resolveLostCommit(ctx context.Context, id OrderID, commitErr error) (Outcome, error) {
	if !errors.Is(commitErr, ErrNotReservationOwner) && !errors.Is(commitErr, ErrAlreadyCommitted) {
		return Outcome{}, fmt.Errorf("commit order %d: %w", id, commitErr)
	}
	out, err := p.ledger.Get(ctx, id)
	if err != nil || out == nil {
		return Outcome{}, fmt.Errorf("commit order %d: %w", id, commitErr)
	}
	return *out, nil
}

// =============================================================================
// BATCH
// =============================================================================

// ProcessBatch runs every order through the state machine independently
// and reports per-order outcomes, priority orders first. Infrastructure
// failures on one order surface as a failed outcome for that order only.
func (p *Processor) ProcessBatch(ctx context.Context, orders []Order) []Outcome {
	outcomes := make([]Outcome, 0, len(orders))
	for _, o := range orders {
		out, err := p.Process(ctx, o)
		if err != nil {
			out = Outcome{
				OrderID:  o.ID,
				Status:   StatusFailed,
				Priority: o.Priority,
				Message:  err.Error(),
			}
		}
		outcomes = append(outcomes, out)
	}

	sort.SliceStable(outcomes, func(i, j int) bool {
		return outcomes[i].Priority && !outcomes[j].Priority
	})
	return outcomes
}

// =============================================================================
// RESET
// =============================================================================

// Reset atomically clears the ledger and reinitializes the daily stats.
// Extra hooks (e.g. restoring collaborator balances in tests) run inside
// the same exclusion window. Mutually exclusive with in-flight orders.
func (p *Processor) Reset(ctx context.Context, hooks ...func(context.Context) error) error {
	p.resetGate.Lock()
	defer p.resetGate.Unlock()

	if err := p.ledger.Reset(ctx); err != nil {
		return fmt.Errorf("reset ledger: %w", err)
	}
	p.stats.Reset()
	for _, hook := range hooks {
		if err := hook(ctx); err != nil {
			return err
		}
	}
	return nil
}
