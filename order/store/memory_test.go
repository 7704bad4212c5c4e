package store_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/order-engine/order"
	"github.com/warp/order-engine/order/store"
)

func committedOutcome(id order.OrderID, amount float64) order.Outcome {
	return order.Outcome{
		OrderID:       id,
		Status:        order.StatusCommitted,
		ChargedAmount: decimal.NewFromFloat(amount),
	}
}

// =============================================================================
// RESERVATION EXCLUSIVITY
// =============================================================================

func TestMemory_ConcurrentReserve_ExactlyOneWinner(t *testing.T) {
	// GIVEN: 20 callers racing to reserve the same order id
	// THEN: Exactly one wins the reservation; after it commits, every
	//       other caller observes the committed outcome

	ledger := store.NewMemory()
	ctx := context.Background()

	var reservedCount atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := ledger.ReserveOrGet(ctx, 1)
			require.NoError(t, err)

			if res.Reservation != nil {
				reservedCount.Add(1)
				// Hold the reservation briefly so others must wait.
				time.Sleep(5 * time.Millisecond)
				require.NoError(t, ledger.Commit(ctx, res.Reservation, committedOutcome(1, 10)))
				return
			}
			require.NotNil(t, res.Outcome)
			assert.Equal(t, order.StatusCommitted, res.Outcome.Status)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), reservedCount.Load(), "exactly one caller may own the debit")
}

func TestMemory_ReserveAfterCommit_ReturnsExisting(t *testing.T) {
	ledger := store.NewMemory()
	ctx := context.Background()

	res, err := ledger.ReserveOrGet(ctx, 5)
	require.NoError(t, err)
	require.NotNil(t, res.Reservation)
	require.NoError(t, ledger.Commit(ctx, res.Reservation, committedOutcome(5, 25)))

	again, err := ledger.ReserveOrGet(ctx, 5)
	require.NoError(t, err)
	assert.Nil(t, again.Reservation)
	require.NotNil(t, again.Outcome)
	assert.True(t, again.Outcome.ChargedAmount.Equal(decimal.NewFromInt(25)))
}

// =============================================================================
// RELEASE AND EXPIRY
// =============================================================================

func TestMemory_Abort_UnblocksWaiterWithFreshReservation(t *testing.T) {
	// GIVEN: A waiter blocked on a pending reservation
	// WHEN: The owner aborts
	// THEN: The waiter wins a fresh reservation instead of an outcome

	ledger := store.NewMemory()
	ctx := context.Background()

	res, err := ledger.ReserveOrGet(ctx, 9)
	require.NoError(t, err)
	require.NotNil(t, res.Reservation)

	waiterDone := make(chan order.ReserveResult, 1)
	go func() {
		r, err := ledger.ReserveOrGet(ctx, 9)
		require.NoError(t, err)
		waiterDone <- r
	}()

	time.Sleep(5 * time.Millisecond) // let the waiter block
	require.NoError(t, ledger.Abort(ctx, res.Reservation))

	select {
	case r := <-waiterDone:
		assert.NotNil(t, r.Reservation, "waiter should win a fresh reservation after abort")
	case <-time.After(time.Second):
		t.Fatal("waiter did not unblock after abort")
	}
}

func TestMemory_ExpiredReservation_TakenOver(t *testing.T) {
	// GIVEN: A reservation whose owner vanished
	// WHEN: The TTL passes
	// THEN: The next caller takes the reservation over, and the stale
	//       owner's commit is rejected

	ledger := store.NewMemoryWithTTL(10 * time.Millisecond)
	ctx := context.Background()

	stale, err := ledger.ReserveOrGet(ctx, 3)
	require.NoError(t, err)
	require.NotNil(t, stale.Reservation)

	time.Sleep(20 * time.Millisecond)

	takeover, err := ledger.ReserveOrGet(ctx, 3)
	require.NoError(t, err)
	require.NotNil(t, takeover.Reservation, "expired reservation must be reclaimable")

	err = ledger.Commit(ctx, stale.Reservation, committedOutcome(3, 10))
	assert.ErrorIs(t, err, order.ErrNotReservationOwner)

	require.NoError(t, ledger.Commit(ctx, takeover.Reservation, committedOutcome(3, 10)))
}

func TestMemory_WaiterHonorsContextCancellation(t *testing.T) {
	ledger := store.NewMemory()

	res, err := ledger.ReserveOrGet(context.Background(), 4)
	require.NoError(t, err)
	require.NotNil(t, res.Reservation)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = ledger.ReserveOrGet(ctx, 4)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// =============================================================================
// INSERTION-ONCE
// =============================================================================

func TestMemory_CommitTwice_SecondRejected(t *testing.T) {
	ledger := store.NewMemory()
	ctx := context.Background()

	res, err := ledger.ReserveOrGet(ctx, 8)
	require.NoError(t, err)
	require.NoError(t, ledger.Commit(ctx, res.Reservation, committedOutcome(8, 10)))

	err = ledger.Commit(ctx, res.Reservation, committedOutcome(8, 99))
	assert.ErrorIs(t, err, order.ErrAlreadyCommitted)

	out, err := ledger.Get(ctx, 8)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.True(t, out.ChargedAmount.Equal(decimal.NewFromInt(10)), "first writer wins")
}

func TestMemory_Reset_UnblocksPendingAndClears(t *testing.T) {
	ledger := store.NewMemory()
	ctx := context.Background()

	res, err := ledger.ReserveOrGet(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, ledger.Commit(ctx, res.Reservation, committedOutcome(2, 10)))

	require.NoError(t, ledger.Reset(ctx))

	out, err := ledger.Get(ctx, 2)
	require.NoError(t, err)
	assert.Nil(t, out)
}
