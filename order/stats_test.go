package order_test

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/order-engine/order"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func amt(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

// fakeClock is a mutable clock for rollover tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// =============================================================================
// LOST-UPDATE TESTS
// =============================================================================

func TestStats_ConcurrentRecords_NoLostUpdate(t *testing.T) {
	// GIVEN: 100 orders of amount 10.0 recorded from 10 workers
	// WHEN: All records complete
	// THEN: count=100 and revenue=1000.0 exactly, every run

	stats := order.NewStats()

	const workers = 10
	const perWorker = 10

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				stats.Record(amt(10.0))
			}
		}()
	}
	wg.Wait()

	snap := stats.Snapshot()
	assert.Equal(t, int64(workers*perWorker), snap.OrderCount)
	assert.True(t, snap.TotalRevenue.Equal(amt(1000.0)),
		"expected revenue 1000.0, got %s", snap.TotalRevenue)
}

func TestStats_Snapshot_ConsistentUnderConcurrentWrites(t *testing.T) {
	// GIVEN: Records of a fixed amount racing with snapshot reads
	// THEN: Every snapshot satisfies revenue == count * amount, never a
	//       half-updated pair

	stats := order.NewStats()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			stats.Record(amt(10))
		}
	}()

	for {
		snap := stats.Snapshot()
		expected := amt(10).Mul(decimal.NewFromInt(snap.OrderCount))
		require.True(t, snap.TotalRevenue.Equal(expected),
			"inconsistent snapshot: count=%d revenue=%s", snap.OrderCount, snap.TotalRevenue)
		select {
		case <-done:
			final := stats.Snapshot()
			assert.Equal(t, int64(500), final.OrderCount)
			return
		default:
		}
	}
}

// =============================================================================
// DAY ROLLOVER TESTS
// =============================================================================

func TestStats_DayRollover_FreshDay(t *testing.T) {
	// GIVEN: Stats accumulated on day one
	// WHEN: The clock crosses UTC midnight
	// THEN: The snapshot covers the new day with zeroed counters

	clock := &fakeClock{now: time.Date(2025, time.June, 1, 23, 59, 0, 0, time.UTC)}
	stats := order.NewStatsAt(clock.Now)

	stats.Record(amt(50))
	snap := stats.Snapshot()
	assert.Equal(t, int64(1), snap.OrderCount)
	assert.Equal(t, time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC), snap.Date)

	clock.Set(time.Date(2025, time.June, 2, 0, 0, 1, 0, time.UTC))

	snap = stats.Snapshot()
	assert.Equal(t, time.Date(2025, time.June, 2, 0, 0, 0, 0, time.UTC), snap.Date)
	assert.Equal(t, int64(0), snap.OrderCount)
	assert.True(t, snap.TotalRevenue.IsZero())
}

func TestStats_DayRollover_CommitAttributedToExactlyOneDay(t *testing.T) {
	// GIVEN: An order committing right after midnight
	// THEN: It is counted in the new day only, never both

	clock := &fakeClock{now: time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)}
	stats := order.NewStatsAt(clock.Now)

	stats.Record(amt(10)) // day one

	clock.Set(time.Date(2025, time.June, 2, 0, 0, 0, 1, time.UTC))
	stats.Record(amt(20)) // commits on day two

	snap := stats.Snapshot()
	assert.Equal(t, time.Date(2025, time.June, 2, 0, 0, 0, 0, time.UTC), snap.Date)
	assert.Equal(t, int64(1), snap.OrderCount)
	assert.True(t, snap.TotalRevenue.Equal(amt(20)))
}

func TestStats_Reset_Zeroes(t *testing.T) {
	stats := order.NewStats()
	stats.Record(amt(42))

	stats.Reset()

	snap := stats.Snapshot()
	assert.Equal(t, int64(0), snap.OrderCount)
	assert.True(t, snap.TotalRevenue.IsZero())
}
