/*
Package balance simulates the external customer balance collaborator.

PURPOSE:
  The order engine treats customer balances as externally owned: this
  service is the single source of truth for debit outcomes. It seeds a
  small set of customer accounts, deduplicates debits by idempotency
  token, and lets tests inject transient failures deterministically.

IDEMPOTENCY:
  A debit presented twice with the same token deducts once; the repeat
  returns the recorded result. This is the defense-in-depth layer that
  protects deployments where multiple engine instances run without a
  shared ledger.

FAILURE INJECTION:
  The original service failed randomly. Tests need determinism, so the
  hook is an explicit function: set Flake to return an error and Debit
  surfaces it before touching any state.
*/
package balance

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/warp/order-engine/order"
)

// seedBalances are restored by Reset.
var seedBalances = map[order.CustomerID]decimal.Decimal{
	1: decimal.NewFromInt(500),
	2: decimal.NewFromInt(1000),
	3: decimal.NewFromInt(250),
	4: decimal.NewFromInt(750),
	5: decimal.NewFromInt(100),
}

// Service is an in-memory balance collaborator.
type Service struct {
	// Flake, when set, is consulted at the top of every Debit. A non-nil
	// return is surfaced as the collaborator's failure for that call.
	Flake func() error

	mu       sync.Mutex
	balances map[order.CustomerID]decimal.Decimal
	debits   map[string]order.DebitResult // idempotency token -> recorded result
}

func NewService() *Service {
	s := &Service{}
	s.reset()
	return s
}

// GetBalance returns the current balance; unknown customers read as zero.
func (s *Service) GetBalance(customerID order.CustomerID) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[customerID]
}

// Debit deducts amount from the customer's balance, deduplicating by
// token. Declines with InsufficientFundsError when the balance is short;
// a decline has no side effect and is not recorded against the token.
func (s *Service) Debit(_ context.Context, customerID order.CustomerID, amount decimal.Decimal, token string) (order.DebitResult, error) {
	if s.Flake != nil {
		if err := s.Flake(); err != nil {
			return order.DebitResult{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if recorded, ok := s.debits[token]; ok {
		return recorded, nil
	}

	current := s.balances[customerID]
	if current.LessThan(amount) {
		return order.DebitResult{}, &order.InsufficientFundsError{
			CustomerID: customerID,
			Available:  current,
			Requested:  amount,
		}
	}

	next := current.Sub(amount)
	s.balances[customerID] = next
	result := order.DebitResult{NewBalance: next}
	s.debits[token] = result
	return result, nil
}

// Reset restores the seed balances and clears the deduplication record.
func (s *Service) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	return nil
}

func (s *Service) reset() {
	s.balances = make(map[order.CustomerID]decimal.Decimal, len(seedBalances))
	for id, bal := range seedBalances {
		s.balances[id] = bal
	}
	s.debits = make(map[string]order.DebitResult)
}
