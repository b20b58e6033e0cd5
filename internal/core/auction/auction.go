// Package auction runs the time-boxed capital auctions that price
// invoice financing. Providers bid a discount rate derived from their
// risk appetite; the lowest rate wins; an auction with no active bids
// falls back to the system rate and raises a liquidity alert.
package auction

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// BidWindow is the auction duration; bids expire with the auction.
const BidWindow = 10 * time.Second

// Rate bounds and the liveness fallback.
var (
	MinRate      = decimal.NewFromFloat(0.02)
	MaxRate      = decimal.NewFromFloat(0.15)
	FallbackRate = decimal.NewFromFloat(0.10)
)

// SystemProviderID marks the synthetic fallback bid.
const SystemProviderID = "SYSTEM"

type RiskAppetite string

const (
	RiskLow    RiskAppetite = "LOW"
	RiskMedium RiskAppetite = "MEDIUM"
	RiskHigh   RiskAppetite = "HIGH"
)

// BaseRate is the bid rate anchor per risk appetite.
func (r RiskAppetite) BaseRate() decimal.Decimal {
	switch r {
	case RiskLow:
		return decimal.NewFromFloat(0.04)
	case RiskMedium:
		return decimal.NewFromFloat(0.06)
	default:
		return decimal.NewFromFloat(0.09)
	}
}

type BidStatus string

const (
	BidActive    BidStatus = "ACTIVE"
	BidAccepted  BidStatus = "ACCEPTED"
	BidExpired   BidStatus = "EXPIRED"
	BidWithdrawn BidStatus = "WITHDRAWN"
)

type Bid struct {
	ID           string          `json:"id"`
	ProviderID   string          `json:"provider_id"`
	InvoiceID    string          `json:"invoice_id"`
	DiscountRate decimal.Decimal `json:"discount_rate"`
	Capacity     decimal.Decimal `json:"capacity"`
	CreatedAt    time.Time       `json:"created_at"`
	ExpiresAt    time.Time       `json:"expires_at"`
	Status       BidStatus       `json:"status"`
}

// ActiveAt reports whether the bid may still be accepted.
func (b *Bid) ActiveAt(now time.Time) bool {
	return b.Status == BidActive && !now.After(b.ExpiresAt)
}

type AuctionStatus string

const (
	AuctionOpen      AuctionStatus = "OPEN"
	AuctionCompleted AuctionStatus = "COMPLETED"
	AuctionFailed    AuctionStatus = "FAILED"
)

type Auction struct {
	ID           string          `json:"id"`
	InvoiceID    string          `json:"invoice_id"`
	Amount       decimal.Decimal `json:"amount"`
	Terms        int             `json:"terms"`
	StartedAt    time.Time       `json:"started_at"`
	EndsAt       time.Time       `json:"ends_at"`
	Bids         []*Bid          `json:"bids"`
	Winner       *Bid            `json:"winner,omitempty"`
	FallbackRate decimal.Decimal `json:"fallback_rate"`
	Status       AuctionStatus   `json:"status"`

	// UsedFallback marks a completion via the synthetic system bid.
	UsedFallback bool `json:"used_fallback"`
}

// ActiveBids are the non-expired ACTIVE bids at the given instant.
func (a *Auction) ActiveBids(now time.Time) []*Bid {
	var out []*Bid
	for _, b := range a.Bids {
		if b.ActiveAt(now) {
			out = append(out, b)
		}
	}
	return out
}

var (
	ErrAuctionNotFound = errors.New("auction not found")
	ErrAuctionClosed   = errors.New("auction already finalized")
	ErrAuctionOpenErr  = errors.New("auction window still open")
)

// InsufficientLiquidityError reports a failed bid reservation.
type InsufficientLiquidityError struct {
	ProviderID string
	Available  decimal.Decimal
	Requested  decimal.Decimal
}

func (e *InsufficientLiquidityError) Error() string {
	return fmt.Sprintf("provider %s has %s available, bid requires %s",
		e.ProviderID, e.Available.StringFixed(2), e.Requested.StringFixed(2))
}
