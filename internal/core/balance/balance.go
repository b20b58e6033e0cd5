// Package balance is the credit/debit/transfer adapter over account
// balances and rails, with snapshot tokens supporting compensating
// rollback.
package balance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/instanttrade/itnd/internal/core/rail"
)

// InsufficientFundsError reports a debit beyond the account balance.
type InsufficientFundsError struct {
	Account   string
	Balance   decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("account %s balance %s cannot cover %s",
		e.Account, e.Balance.StringFixed(2), e.Requested.StringFixed(2))
}

// Transport moves money across a rail and returns a transaction id.
// The production transport blocks for the rail's typical latency; the
// test transport returns immediately.
type Transport interface {
	Transfer(ctx context.Context, r *rail.Rail, from, to string, amount decimal.Decimal) (txnID string, err error)
}

// LatencyTransport simulates a live rail by sleeping its p50 latency,
// honoring context cancellation so deadline expiry aborts cleanly.
type LatencyTransport struct{}

func (LatencyTransport) Transfer(ctx context.Context, r *rail.Rail, from, to string, amount decimal.Decimal) (string, error) {
	select {
	case <-time.After(r.P50):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return "TXN-" + uuid.NewString(), nil
}

// InstantTransport completes transfers immediately.
type InstantTransport struct{}

func (InstantTransport) Transfer(ctx context.Context, r *rail.Rail, from, to string, amount decimal.Decimal) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "TXN-" + uuid.NewString(), nil
}

// Service tracks account balances and snapshots.
type Service struct {
	mu        sync.Mutex
	balances  map[string]decimal.Decimal
	snapshots map[string]map[string]decimal.Decimal
	transport Transport
}

func NewService(transport Transport) *Service {
	return &Service{
		balances:  make(map[string]decimal.Decimal),
		snapshots: make(map[string]map[string]decimal.Decimal),
		transport: transport,
	}
}

// SetBalance seeds an account.
func (s *Service) SetBalance(account string, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[account] = amount
}

func (s *Service) Balance(account string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[account]
}

func (s *Service) Credit(account string, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[account] = s.balances[account].Add(amount)
}

// Debit fails when the account cannot cover the amount.
func (s *Service) Debit(account string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bal := s.balances[account]
	if bal.LessThan(amount) {
		return &InsufficientFundsError{Account: account, Balance: bal, Requested: amount}
	}
	s.balances[account] = bal.Sub(amount)
	return nil
}

// Snapshot captures every balance and returns a restore token.
func (s *Service) Snapshot() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	token := "SNAP-" + uuid.NewString()
	copied := make(map[string]decimal.Decimal, len(s.balances))
	for k, v := range s.balances {
		copied[k] = v
	}
	s.snapshots[token] = copied
	return token
}

// Restore rewinds balances to a snapshot. The token stays valid so a
// repeated rollback is harmless.
func (s *Service) Restore(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[token]
	if !ok {
		return fmt.Errorf("unknown balance snapshot %s", token)
	}
	s.balances = make(map[string]decimal.Decimal, len(snap))
	for k, v := range snap {
		s.balances[k] = v
	}
	return nil
}

// Release discards a snapshot once the action it guarded committed.
func (s *Service) Release(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, token)
}

// Transfer moves amount from one account to another over a rail: the
// transport call first, then the balance movement, then the rail
// volume counter.
func (s *Service) Transfer(ctx context.Context, r *rail.Rail, from, to string, amount decimal.Decimal) (string, error) {
	txnID, err := s.transport.Transfer(ctx, r, from, to, amount)
	if err != nil {
		return "", err
	}
	if err := s.Debit(from, amount); err != nil {
		return "", err
	}
	s.Credit(to, amount)
	r.AddVolume(amount)
	return txnID, nil
}
