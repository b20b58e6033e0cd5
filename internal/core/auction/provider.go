package auction

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Provider is a registered capital provider. Liquidity reservations on
// the same provider are serialized: concurrent bids on different
// auctions contend for the one pool.
type Provider struct {
	ID             string
	MinDealSize    decimal.Decimal
	MaxDealSize    decimal.Decimal
	PreferredTerms map[int]bool
	RiskAppetite   RiskAppetite

	mu        sync.Mutex
	liquidity decimal.Decimal
}

func NewProvider(id string, liquidity, minSize, maxSize decimal.Decimal, terms []int, risk RiskAppetite) *Provider {
	preferred := make(map[int]bool, len(terms))
	for _, t := range terms {
		preferred[t] = true
	}
	return &Provider{
		ID:             id,
		MinDealSize:    minSize,
		MaxDealSize:    maxSize,
		PreferredTerms: preferred,
		RiskAppetite:   risk,
		liquidity:      liquidity,
	}
}

// AvailableLiquidity is the unreserved pool.
func (p *Provider) AvailableLiquidity() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.liquidity
}

// Eligible reports whether the provider can finance the deal.
func (p *Provider) Eligible(amount decimal.Decimal, terms int) bool {
	if !p.PreferredTerms[terms] {
		return false
	}
	if amount.LessThan(p.MinDealSize) || amount.GreaterThan(p.MaxDealSize) {
		return false
	}
	return p.AvailableLiquidity().GreaterThanOrEqual(amount)
}

// Reserve holds amount out of the pool for a live bid.
func (p *Provider) Reserve(amount decimal.Decimal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.liquidity.LessThan(amount) {
		return &InsufficientLiquidityError{ProviderID: p.ID, Available: p.liquidity, Requested: amount}
	}
	p.liquidity = p.liquidity.Sub(amount)
	return nil
}

// Release returns a losing or withdrawn bid's reservation to the pool.
func (p *Provider) Release(amount decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.liquidity = p.liquidity.Add(amount)
}
