// Package pricing issues term-based financing quotes. Rates are
// annualized by term and prorated over the term length; quotes expire
// five minutes after issuance.
package pricing

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"

	"github.com/instanttrade/itnd/internal/clock"
	"github.com/instanttrade/itnd/internal/core/money"
)

// QuoteValidity is how long an issued quote can be acted on.
const QuoteValidity = 5 * time.Minute

// BaseRates maps payment terms (days) to annualized rates.
var BaseRates = map[int]decimal.Decimal{
	0:  decimal.Zero,
	15: decimal.NewFromFloat(0.03),
	30: decimal.NewFromFloat(0.05),
	45: decimal.NewFromFloat(0.06),
	60: decimal.NewFromFloat(0.08),
	90: decimal.NewFromFloat(0.10),
}

var daysPerYear = decimal.NewFromInt(365)

// Quote is immutable once issued and bound to exactly one invoice.
type Quote struct {
	InvoiceID    string          `json:"invoice_id"`
	Terms        int             `json:"terms"`
	DiscountRate decimal.Decimal `json:"discount_rate"`
	TotalCost    decimal.Decimal `json:"total_cost"`
	CreatedAt    time.Time       `json:"created_at"`
	ExpiresAt    time.Time       `json:"expires_at"`
}

// Expired reports whether the quote can no longer be acted on.
func (q *Quote) Expired(now time.Time) bool {
	return now.After(q.ExpiresAt)
}

// Service issues and caches quotes, one per invoice.
type Service struct {
	clk    clock.Clock
	quotes *lru.Cache[string, *Quote]
}

func NewService(clk clock.Clock, cacheSize int) (*Service, error) {
	c, err := lru.New[string, *Quote](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Service{clk: clk, quotes: c}, nil
}

// ProratedRate converts an annualized term rate into the rate applied
// to the invoice: APR * terms/365.
func ProratedRate(terms int) (decimal.Decimal, error) {
	apr, ok := BaseRates[terms]
	if !ok {
		return decimal.Zero, fmt.Errorf("invalid payment terms: %d", terms)
	}
	return apr.Mul(decimal.NewFromInt(int64(terms))).Div(daysPerYear), nil
}

// IssueQuote creates the quote for an invoice at the chosen terms.
func (s *Service) IssueQuote(invoiceID string, amount decimal.Decimal, terms int) (*Quote, error) {
	rate, err := ProratedRate(terms)
	if err != nil {
		return nil, err
	}
	now := s.clk.Now()
	q := &Quote{
		InvoiceID:    invoiceID,
		Terms:        terms,
		DiscountRate: rate,
		TotalCost:    money.Round(amount.Mul(decimal.NewFromInt(1).Add(rate))),
		CreatedAt:    now,
		ExpiresAt:    now.Add(QuoteValidity),
	}
	s.quotes.Add(invoiceID, q)
	return q, nil
}

// GetValidQuote returns the invoice's quote, or false when none exists
// or it has expired.
func (s *Service) GetValidQuote(invoiceID string) (*Quote, bool) {
	q, ok := s.quotes.Get(invoiceID)
	if !ok || q.Expired(s.clk.Now()) {
		return nil, false
	}
	return q, true
}
