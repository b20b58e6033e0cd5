package fx

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// StaticProvider derives cross rates from a fixed table of per-currency
// USD values. It stands in for the external rate source.
type StaticProvider struct {
	mu    sync.RWMutex
	toUSD map[string]decimal.Decimal
}

// NewStaticProvider seeds the provider with the stock table.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{toUSD: map[string]decimal.Decimal{
		"USD": decimal.NewFromInt(1),
		"EUR": decimal.NewFromFloat(1.08),
		"GBP": decimal.NewFromFloat(1.27),
		"JPY": decimal.NewFromFloat(0.0067),
	}}
}

// SetRate overrides one currency's USD value.
func (p *StaticProvider) SetRate(currency string, usd decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.toUSD[currency] = usd
}

// Fetch returns the mid rate from -> to.
func (p *StaticProvider) Fetch(_ context.Context, from, to string) (decimal.Decimal, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	f, ok := p.toUSD[from]
	if !ok {
		return decimal.Zero, fmt.Errorf("unsupported currency %q", from)
	}
	t, ok := p.toUSD[to]
	if !ok {
		return decimal.Zero, fmt.Errorf("unsupported currency %q", to)
	}
	return f.Div(t), nil
}
