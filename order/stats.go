/*
stats.go - Daily statistics aggregator

PURPOSE:
  Maintains {order_count, total_revenue} for the current calendar day.
  Record is executed exactly once per committed order - the processor only
  calls it after winning the reservation and committing the outcome, so
  reservation ownership is what enforces the once-only guarantee.

CONCURRENCY:
  A single mutex guards both fields. The read-modify-write of the pair is
  one atomic step; concurrent Record calls from different orders cannot
  interleave and lose an update. Snapshot returns a consistent
  point-in-time view, never a half-updated one.

DAY ROLLOVER:
  The first Record or Snapshot after UTC midnight starts a fresh day.
  In-flight orders spanning the boundary are attributed to the day in
  which they commit.
*/
package order

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Stats aggregates committed orders for the current day.
type Stats struct {
	mu      sync.Mutex
	now     func() time.Time
	day     time.Time
	count   int64
	revenue decimal.Decimal
}

func NewStats() *Stats {
	s := &Stats{now: time.Now}
	s.day = today(s.now())
	return s
}

// NewStatsAt creates an aggregator with an injected clock, for rollover tests.
func NewStatsAt(now func() time.Time) *Stats {
	s := &Stats{now: now}
	s.day = today(s.now())
	return s
}

// Record adds one committed order. Called only inside the commit step of
// the processor, never before the debit is confirmed.
func (s *Stats) Record(amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rollLocked()
	s.count++
	s.revenue = s.revenue.Add(amount)
}

// Snapshot returns a consistent view of the current day.
func (s *Stats) Snapshot() DailyStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rollLocked()
	return DailyStats{
		Date:         s.day,
		OrderCount:   s.count,
		TotalRevenue: s.revenue,
	}
}

// Reset reinitializes the current day to zero.
func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.day = today(s.now())
	s.count = 0
	s.revenue = decimal.Zero
}

// rollLocked starts a fresh day when the clock has crossed UTC midnight.
func (s *Stats) rollLocked() {
	if d := today(s.now()); !d.Equal(s.day) {
		s.day = d
		s.count = 0
		s.revenue = decimal.Zero
	}
}

func today(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}
