// Package invoice holds the invoice entity, its lifecycle state
// machine and the in-memory store with dedupe and rate-limit indexes.
package invoice

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/instanttrade/itnd/internal/core/money"
)

type Status string

const (
	StatusPending     Status = "PENDING"
	StatusAccepted    Status = "ACCEPTED"
	StatusFraudReview Status = "FRAUD_REVIEW"
	StatusSettled     Status = "SETTLED"
	StatusRejected    Status = "REJECTED"
	StatusExpired     Status = "EXPIRED"
	StatusFailed      Status = "FAILED"
)

// ValidTerms are the accepted payment terms in days.
var ValidTerms = map[int]bool{0: true, 15: true, 30: true, 45: true, 60: true, 90: true}

// Amount bounds for a single invoice.
var (
	MinAmount = decimal.NewFromInt(100)
	MaxAmount = decimal.NewFromInt(10_000_000)
)

// PendingExpiry is how long an invoice may sit in PENDING before the
// expiry sweep retires it.
const PendingExpiry = 48 * time.Hour

type LineItem struct {
	Description string          `json:"description"`
	Quantity    int64           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// Amount is the derived line total.
func (li LineItem) Amount() decimal.Decimal {
	return money.Round(li.UnitPrice.Mul(decimal.NewFromInt(li.Quantity)))
}

type Invoice struct {
	ID          string          `json:"id"`
	SupplierID  string          `json:"supplier_id"`
	BuyerID     string          `json:"buyer_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Terms       int             `json:"terms"`
	LineItems   []LineItem      `json:"line_items"`
	ContentHash string          `json:"content_hash"`
	Status      Status          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`

	PurchaseOrderID string `json:"purchase_order_id,omitempty"`
	Notes           string `json:"notes,omitempty"`

	// Multi-currency fields added in artifact version 2.0.0.
	FXRate      decimal.Decimal `json:"fx_rate"`
	FXTimestamp time.Time       `json:"fx_timestamp"`

	// AcceptedAt is set on the PENDING->ACCEPTED transition and anchors
	// the settlement deadline.
	AcceptedAt time.Time `json:"accepted_at,omitempty"`
}

// SumLineItems totals the derived line amounts.
func SumLineItems(items []LineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, li := range items {
		sum = sum.Add(li.Amount())
	}
	return money.Round(sum)
}

// ContentHash computes the dedupe hash: SHA-256 over
// supplier|buyer|amount|currency|lineItemAmounts.
func ContentHash(supplierID, buyerID string, amount decimal.Decimal, currency string, items []LineItem) string {
	amounts := make([]string, len(items))
	for i, li := range items {
		amounts[i] = li.Amount().StringFixed(2)
	}
	payload := fmt.Sprintf("%s|%s|%s|%s|%s",
		supplierID, buyerID, amount.StringFixed(2), currency, strings.Join(amounts, ","))
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
