// Package fx provides foreign exchange rates with a per-pair cache, a
// 60-second freshness window and a fixed spread over mid.
package fx

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"

	"github.com/instanttrade/itnd/internal/clock"
	"github.com/instanttrade/itnd/internal/core/money"
)

// MaxRateAge is the freshness window: a rate older than this must be
// re-fetched before use.
const MaxRateAge = 60 * time.Second

// Spread applied on top of the mid rate.
var Spread = decimal.NewFromFloat(0.005)

// Rate is one cached currency-pair quote.
type Rate struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	Mid       decimal.Decimal `json:"mid"`
	Spread    decimal.Decimal `json:"spread"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Effective is the rate actually applied: mid * (1 + spread).
func (r Rate) Effective() decimal.Decimal {
	return r.Mid.Mul(decimal.NewFromInt(1).Add(r.Spread))
}

// Fresh reports whether the rate is inside the freshness window.
func (r Rate) Fresh(now time.Time) bool {
	return now.Sub(r.FetchedAt) < MaxRateAge
}

// Provider fetches a mid rate from the external source.
type Provider interface {
	Fetch(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// Service caches rates per pair and refreshes stale entries.
type Service struct {
	provider Provider
	cache    *lru.Cache[string, Rate]
	clk      clock.Clock
}

func NewService(provider Provider, clk clock.Clock, cacheSize int) (*Service, error) {
	c, err := lru.New[string, Rate](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Service{provider: provider, cache: c, clk: clk}, nil
}

func pairKey(from, to string) string { return from + "/" + to }

// GetRate returns a fresh rate for the pair, consulting the cache
// first. Same-currency conversion is the identity rate with no spread.
func (s *Service) GetRate(ctx context.Context, from, to string) (Rate, error) {
	now := s.clk.Now()
	if from == to {
		return Rate{From: from, To: to, Mid: decimal.NewFromInt(1), Spread: decimal.Zero, FetchedAt: now}, nil
	}
	if r, ok := s.cache.Get(pairKey(from, to)); ok && r.Fresh(now) {
		return r, nil
	}
	mid, err := s.provider.Fetch(ctx, from, to)
	if err != nil {
		return Rate{}, fmt.Errorf("fetch %s/%s: %w", from, to, err)
	}
	r := Rate{From: from, To: to, Mid: mid, Spread: Spread, FetchedAt: now}
	s.cache.Add(pairKey(from, to), r)
	return r, nil
}

// CachedRate returns the cached rate without refreshing; invariant
// checks use it to verify freshness without triggering a fetch.
func (s *Service) CachedRate(from, to string) (Rate, bool) {
	if from == to {
		return Rate{From: from, To: to, Mid: decimal.NewFromInt(1), Spread: decimal.Zero, FetchedAt: s.clk.Now()}, true
	}
	return s.cache.Get(pairKey(from, to))
}

// Convert returns the converted amount and the rate used.
func (s *Service) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, Rate, error) {
	r, err := s.GetRate(ctx, from, to)
	if err != nil {
		return decimal.Zero, Rate{}, err
	}
	return money.Round(amount.Mul(r.Effective())), r, nil
}
