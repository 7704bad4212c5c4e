/*
Package redis provides a Redis-backed implementation of the order Ledger.

PURPOSE:
  For deployments where multiple engine instances share a Redis server,
  reservations use SET NX with a TTL: exactly one instance's SET lands and
  that instance owns the debit. An abandoned reservation simply expires
  with its key, so the next reserver wins a fresh claim with no takeover
  bookkeeping.

COMMIT PROTOCOL:
  Commit and Abort run as Lua scripts that compare the stored owner token
  before replacing or deleting the value, so a stale owner cannot clobber
  a reservation that expired and was re-won elsewhere. A committed entry
  is written without a TTL and is insertion-once.
*/
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/warp/order-engine/order"
)

const (
	defaultReservationTTL = 30 * time.Second
	defaultPollInterval   = 10 * time.Millisecond

	keyPrefix = "order:ledger:"
)

var commitScript = goredis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then return 0 end
local cur = cjson.decode(v)
if cur.state ~= 'pending' or cur.token ~= ARGV[1] then return 0 end
redis.call('SET', KEYS[1], ARGV[2])
return 1
`)

var abortScript = goredis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then return 0 end
local cur = cjson.decode(v)
if cur.state ~= 'pending' or cur.token ~= ARGV[1] then return 0 end
redis.call('DEL', KEYS[1])
return 1
`)

// record is the JSON value stored per order id.
type record struct {
	State         string  `json:"state"` // "pending" | "committed"
	Token         string  `json:"token"`
	Status        string  `json:"status,omitempty"`
	Priority      bool    `json:"priority,omitempty"`
	ChargedAmount string  `json:"charged_amount,omitempty"`
	NewBalance    *string `json:"new_balance,omitempty"`
	Message       string  `json:"message,omitempty"`
}

// Store implements order.Ledger on Redis.
type Store struct {
	client       *goredis.Client
	ttl          time.Duration
	pollInterval time.Duration
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

func New(client *goredis.Client, opts ...Option) *Store {
	s := &Store{
		client:       client,
		ttl:          defaultReservationTTL,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func key(id order.OrderID) string {
	return fmt.Sprintf("%s%d", keyPrefix, id)
}

func (s *Store) ReserveOrGet(ctx context.Context, id order.OrderID) (order.ReserveResult, error) {
	k := key(id)
	for {
		token := uuid.NewString()
		pending, err := json.Marshal(record{State: "pending", Token: token})
		if err != nil {
			return order.ReserveResult{}, err
		}

		ok, err := s.client.SetNX(ctx, k, pending, s.ttl).Result()
		if err != nil {
			return order.ReserveResult{}, err
		}
		if ok {
			return order.ReserveResult{
				Reservation: &order.Reservation{
					OrderID:   id,
					Token:     token,
					ExpiresAt: time.Now().Add(s.ttl),
				},
			}, nil
		}

		raw, err := s.client.Get(ctx, k).Result()
		if err == goredis.Nil {
			// The pending key expired between SETNX and GET; race again.
			continue
		}
		if err != nil {
			return order.ReserveResult{}, err
		}

		var rec record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return order.ReserveResult{}, fmt.Errorf("corrupt ledger entry for order %d: %w", id, err)
		}
		if rec.State == "committed" {
			out, err := rec.toOutcome(id)
			if err != nil {
				return order.ReserveResult{}, err
			}
			return order.ReserveResult{Outcome: out}, nil
		}

		// Live reservation held elsewhere: poll until it commits, aborts,
		// or its key expires.
		timer := time.NewTimer(s.pollInterval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return order.ReserveResult{}, ctx.Err()
		}
	}
}

func (s *Store) Commit(ctx context.Context, res *order.Reservation, out order.Outcome) error {
	rec := record{
		State:         "committed",
		Token:         res.Token,
		Status:        string(out.Status),
		Priority:      out.Priority,
		ChargedAmount: out.ChargedAmount.String(),
		Message:       out.Message,
	}
	if out.NewBalance != nil {
		nb := out.NewBalance.String()
		rec.NewBalance = &nb
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	n, err := commitScript.Run(ctx, s.client, []string{key(res.OrderID)}, res.Token, payload).Int()
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
	n, err := abortScript.Run(ctx, s.client, []string{key(res.OrderID)}, res.Token).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return order.ErrNotReservationOwner
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id order.OrderID) (*order.Outcome, error) {
	raw, err := s.client.Get(ctx, key(id)).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("corrupt ledger entry for order %d: %w", id, err)
	}
	if rec.State != "committed" {
		return nil, nil
	}
	return rec.toOutcome(id)
}

func (s *Store) Reset(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

func (r record) toOutcome(id order.OrderID) (*order.Outcome, error) {
	charged, err := decimal.NewFromString(r.ChargedAmount)
	if err != nil {
		return nil, fmt.Errorf("corrupt charged_amount for order %d: %w", id, err)
	}
	out := &order.Outcome{
		OrderID:       id,
		Status:        order.Status(r.Status),
		Priority:      r.Priority,
		ChargedAmount: charged,
		Message:       r.Message,
	}
	if r.NewBalance != nil {
		nb, err := decimal.NewFromString(*r.NewBalance)
		if err != nil {
			return nil, fmt.Errorf("corrupt new_balance for order %d: %w", id, err)
		}
		out.NewBalance = &nb
	}
	return out, nil
}
