package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/instanttrade/itnd/internal/core/catalog"
	"github.com/instanttrade/itnd/internal/core/enforce"
	"github.com/instanttrade/itnd/internal/core/fraud"
	"github.com/instanttrade/itnd/internal/core/invariant"
	"github.com/instanttrade/itnd/internal/core/invoice"
	"github.com/instanttrade/itnd/internal/core/ledger"
)

// CreateRequest carries everything needed to mint an invoice. ID is
// optional; when empty one is generated.
type CreateRequest struct {
	ID              string
	SupplierID      string
	BuyerID         string
	Amount          decimal.Decimal
	Currency        string
	Terms           int
	LineItems       []invoice.LineItem
	PurchaseOrderID string
	Notes           string
}

// CreateInvoice validates and stores a new invoice under the creation
// invariants, scores it for fraud and applies the score's action:
// APPROVE leaves it PENDING, REVIEW parks it in FRAUD_REVIEW, REJECT
// blocks the creation entirely.
func (o *Orchestrator) CreateInvoice(ctx context.Context, req CreateRequest) (*invoice.Invoice, *fraud.Score, error) {
	now := o.clk.Now()
	id := req.ID
	if id == "" {
		id = "INV-" + uuid.NewString()
	}
	currency := req.Currency
	if currency == "" {
		currency = o.deps.BaseCurrency
	}

	inv := &invoice.Invoice{
		ID:              id,
		SupplierID:      req.SupplierID,
		BuyerID:         req.BuyerID,
		Amount:          req.Amount,
		Currency:        currency,
		Terms:           req.Terms,
		LineItems:       req.LineItems,
		ContentHash:     invoice.ContentHash(req.SupplierID, req.BuyerID, req.Amount, currency, req.LineItems),
		Status:          invoice.StatusPending,
		CreatedAt:       now,
		PurchaseOrderID: req.PurchaseOrderID,
		Notes:           req.Notes,
	}

	mu := o.invoiceLock(inv.ID)
	mu.Lock()
	defer mu.Unlock()

	ictx := invariant.NewContext(ctx, now, "create-"+inv.ID)
	ictx.Invoice = inv
	ictx.Amount = inv.Amount
	ictx.Supplier, _ = o.deps.Accounts.Get(inv.SupplierID)
	ictx.Buyer, _ = o.deps.Accounts.Get(inv.BuyerID)

	var score *fraud.Score
	err := o.kernel.Enforce(ictx, catalog.CreateInvariants, func(ictx *invariant.Context) error {
		if inv.Currency != o.deps.BaseCurrency {
			rate, err := o.deps.FX.GetRate(ictx.Ctx, inv.Currency, o.deps.BaseCurrency)
			if err != nil {
				return fmt.Errorf("fx rate for %s: %w", inv.Currency, err)
			}
			inv.FXRate = rate.Effective()
			inv.FXTimestamp = rate.FetchedAt
		}

		// Score before storing so the invoice does not count toward its
		// own history.
		score = o.deps.Fraud.Evaluate(inv)
		if score.Action == fraud.ActionReject {
			detail := fmt.Sprintf("fraud score %.2f at or above threshold %.2f", score.Score, fraud.Threshold)
			o.deps.Decisions.Record("302", invariant.PhasePost, false, ledger.ActionRollback, detail, ictx.Snapshot())
			return &enforce.ViolationError{Phase: invariant.PhasePost, InvariantID: "302", Detail: detail}
		}

		o.deps.Invoices.Put(inv)
		if score.Action == fraud.ActionReview {
			return invoice.Transition(inv, invoice.StatusFraudReview)
		}
		return nil
	})
	if err != nil {
		if o.m != nil {
			o.m.InvoicesRejected.WithLabelValues(rejectReason(err)).Inc()
		}
		o.log.Warn("invoice creation blocked", zap.String("invoice_id", inv.ID), zap.Error(err))
		return nil, score, err
	}

	if o.m != nil {
		o.m.InvoicesCreated.Inc()
		amt, _ := inv.Amount.Float64()
		o.m.InvoiceAmount.Observe(amt)
		if score != nil {
			o.m.FraudScore.Observe(score.Score)
		}
	}
	o.log.Info("invoice created",
		zap.String("invoice_id", inv.ID),
		zap.String("supplier_id", inv.SupplierID),
		zap.String("buyer_id", inv.BuyerID),
		zap.String("amount", inv.Amount.StringFixed(2)),
		zap.String("status", string(inv.Status)))
	return inv, score, nil
}

func rejectReason(err error) string {
	var viol *enforce.ViolationError
	if errors.As(err, &viol) {
		return "invariant_" + string(viol.InvariantID)
	}
	return "error"
}
