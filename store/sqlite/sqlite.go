/*
Package sqlite provides a SQLite-backed implementation of the order Ledger.

PURPOSE:
  When the service runs as multiple worker processes without a shared
  address space, the idempotency ledger must live in a shared, externally
  synchronized store - a per-worker in-memory ledger provides no
  cross-worker guarantee. This implementation keeps the ledger in a single
  SQLite database file that every worker opens.

RESERVATION PROTOCOL:
  order_ledger has the order id as PRIMARY KEY. Reserving is a single
  atomic INSERT ... ON CONFLICT DO NOTHING: exactly one worker's insert
  lands, and that worker owns the debit. Losers read the row; a committed
  row short-circuits with the stored outcome, a live pending row is polled
  until it settles, and an expired pending row is taken over with a
  compare-and-swap UPDATE on (token, expiry).

INSERTION-ONCE:
  Commit is an UPDATE guarded by state='pending' AND token=?; a stale
  owner whose reservation was taken over matches zero rows and gets
  ErrNotReservationOwner instead of overwriting the new owner's entry.

WAL MODE:
  The database is opened with WAL so readers polling a pending
  reservation do not block the committing writer.

SEE ALSO:
  - order/ledger.go: Contract definition
  - order/store/memory.go: In-memory implementation for single-process use
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/order-engine/order"
)

const (
	defaultReservationTTL = 30 * time.Second
	defaultPollInterval   = 10 * time.Millisecond
)

// Store implements order.Ledger on SQLite.
type Store struct {
	db           *sql.DB
	ttl          time.Duration
	pollInterval time.Duration
	now          func() time.Time
}

// Option adjusts store behavior.
type Option func(*Store)

// WithReservationTTL bounds how long an abandoned reservation blocks retries.
func WithReservationTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithPollInterval sets how often waiters re-check a pending reservation.
func WithPollInterval(d time.Duration) Option {
	return func(s *Store) { s.pollInterval = d }
}

// New opens (or creates) the ledger database at dbPath.
// Use ":memory:" for an in-process database.
func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{
		db:           db,
		ttl:          defaultReservationTTL,
		pollInterval: defaultPollInterval,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS order_ledger (
		order_id       INTEGER PRIMARY KEY,
		state          TEXT NOT NULL,          -- 'pending' | 'committed'
		token          TEXT NOT NULL,
		expires_at     INTEGER NOT NULL,       -- unix millis; 0 once committed
		status         TEXT,
		priority       INTEGER NOT NULL DEFAULT 0,
		charged_amount TEXT,
		new_balance    TEXT,
		message        TEXT,
		created_at     TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGER IMPLEMENTATION
// =============================================================================

func (s *Store) ReserveOrGet(ctx context.Context, id order.OrderID) (order.ReserveResult, error) {
	for {
		result, pending, err := s.tryReserve(ctx, id)
		if err != nil {
			return order.ReserveResult{}, err
		}
		if !pending {
			return result, nil
		}

		// Another worker holds a live reservation: poll until it settles.
		timer := time.NewTimer(s.pollInterval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return order.ReserveResult{}, ctx.Err()
		}
	}
}

// tryReserve attempts one reservation round. pending=true means a live
// reservation is held elsewhere and the caller should wait and retry.
func (s *Store) tryReserve(ctx context.Context, id order.OrderID) (order.ReserveResult, bool, error) {
	token := uuid.NewString()
	expires := s.now().Add(s.ttl)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO order_ledger (order_id, state, token, expires_at, created_at)
		VALUES (?, 'pending', ?, ?, ?)
		ON CONFLICT(order_id) DO NOTHING`,
		int64(id), token, expires.UnixMilli(), s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return order.ReserveResult{}, false, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return order.ReserveResult{
			Reservation: &order.Reservation{OrderID: id, Token: token, ExpiresAt: expires},
		}, false, nil
	}

	// Row exists: committed outcome, live pending, or expired pending.
	var (
		state     string
		rowToken  string
		expiresAt int64
	)
	row := s.db.QueryRowContext(ctx,
		`SELECT state, token, expires_at FROM order_ledger WHERE order_id = ?`, int64(id))
	if err := row.Scan(&state, &rowToken, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Aborted between our insert attempt and the read; go again.
			return order.ReserveResult{}, true, nil
		}
		return order.ReserveResult{}, false, err
	}

	if state == "committed" {
		out, err := s.Get(ctx, id)
		if err != nil {
			return order.ReserveResult{}, false, err
		}
		if out == nil {
			return order.ReserveResult{}, true, nil
		}
		return order.ReserveResult{Outcome: out}, false, nil
	}

	if s.now().UnixMilli() >= expiresAt {
		// Expired: take the reservation over with a fresh token. The CAS
		// on the old token keeps two waiters from both winning.
		upd, err := s.db.ExecContext(ctx, `
			UPDATE order_ledger SET token = ?, expires_at = ?
			WHERE order_id = ? AND state = 'pending' AND token = ?`,
			token, expires.UnixMilli(), int64(id), rowToken)
		if err != nil {
			return order.ReserveResult{}, false, err
		}
		if n, err := upd.RowsAffected(); err == nil && n == 1 {
			return order.ReserveResult{
				Reservation: &order.Reservation{OrderID: id, Token: token, ExpiresAt: expires},
			}, false, nil
		}
	}

	return order.ReserveResult{}, true, nil
}

func (s *Store) Commit(ctx context.Context, res *order.Reservation, out order.Outcome) error {
	var newBalance sql.NullString
	if out.NewBalance != nil {
		newBalance = sql.NullString{String: out.NewBalance.String(), Valid: true}
	}

	upd, err := s.db.ExecContext(ctx, `
		UPDATE order_ledger
		SET state = 'committed', expires_at = 0,
		    status = ?, priority = ?, charged_amount = ?, new_balance = ?, message = ?
		WHERE order_id = ? AND state = 'pending' AND token = ?`,
		string(out.Status), boolToInt(out.Priority), out.ChargedAmount.String(),
		newBalance, out.Message, int64(res.OrderID), res.Token)
	if err != nil {
		return err
	}
	n, err := upd.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if committed, cerr := s.Get(ctx, res.OrderID); cerr == nil && committed != nil {
			return order.ErrAlreadyCommitted
		}
		return order.ErrNotReservationOwner
	}
	return nil
}

func (s *Store) Abort(ctx context.Context, res *order.Reservation) error {
	del, err := s.db.ExecContext(ctx, `
		DELETE FROM order_ledger
		WHERE order_id = ? AND state = 'pending' AND token = ?`,
		int64(res.OrderID), res.Token)
	if err != nil {
		return err
	}
	n, err := del.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return order.ErrNotReservationOwner
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id order.OrderID) (*order.Outcome, error) {
	var (
		status     string
		priority   int
		charged    string
		newBalance sql.NullString
		message    sql.NullString
	)
	row := s.db.QueryRowContext(ctx, `
		SELECT status, priority, charged_amount, new_balance, message
		FROM order_ledger WHERE order_id = ? AND state = 'committed'`, int64(id))
	if err := row.Scan(&status, &priority, &charged, &newBalance, &message); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	chargedAmount, err := decimal.NewFromString(charged)
	if err != nil {
		return nil, fmt.Errorf("corrupt charged_amount for order %d: %w", id, err)
	}
	out := &order.Outcome{
		OrderID:       id,
		Status:        order.Status(status),
		Priority:      priority != 0,
		ChargedAmount: chargedAmount,
		Message:       message.String,
	}
	if newBalance.Valid {
		nb, err := decimal.NewFromString(newBalance.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt new_balance for order %d: %w", id, err)
		}
		out.NewBalance = &nb
	}
	return out, nil
}

func (s *Store) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM order_ledger`)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
