// Package settlement executes the atomic three-leg transfer: supplier
// credit, buyer debit, capital advance — under the enforcement kernel,
// within the settlement deadline.
package settlement

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/instanttrade/itnd/internal/core/money"
)

// Deadline is the wall-clock bound from acceptance to completion.
const Deadline = 5 * time.Second

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusRolledBack Status = "ROLLED_BACK"
)

// Leg is one transfer of the settlement.
type Leg struct {
	Account string          `json:"account"`
	Amount  decimal.Decimal `json:"amount"`
	At      time.Time       `json:"at"`
	TxnID   string          `json:"txn_id"`
}

type Settlement struct {
	ID        string `json:"id"`
	InvoiceID string `json:"invoice_id"`

	SupplierCredit *Leg `json:"supplier_credit,omitempty"`
	BuyerDebit     *Leg `json:"buyer_debit,omitempty"`
	CapitalAdvance *Leg `json:"capital_advance,omitempty"`
	AdvanceID      string `json:"advance_id,omitempty"`

	SupplierID        string `json:"supplier_id"`
	BuyerID           string `json:"buyer_id"`
	CapitalProviderID string `json:"capital_provider_id"`
	RailName          string `json:"rail_name"`

	AcceptanceAt time.Time `json:"acceptance_at"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at,omitempty"`
	Status       Status    `json:"status"`

	DiscountRate decimal.Decimal `json:"discount_rate"`
	BuyerCost    decimal.Decimal `json:"buyer_cost"`
}

// Duration is the settlement's wall-clock run time. Zero until the
// legs complete.
func (s *Settlement) Duration() time.Duration {
	if s.CompletedAt.IsZero() {
		return 0
	}
	return s.CompletedAt.Sub(s.StartedAt)
}

// LegsComplete reports whether all three legs ran.
func (s *Settlement) LegsComplete() bool {
	return s.SupplierCredit != nil && s.BuyerDebit != nil && s.CapitalAdvance != nil
}

// BuyerCostFor computes amount * (1 + discountRate) rounded to cents.
func BuyerCostFor(amount, discountRate decimal.Decimal) decimal.Decimal {
	return money.Round(amount.Mul(decimal.NewFromInt(1).Add(discountRate)))
}
