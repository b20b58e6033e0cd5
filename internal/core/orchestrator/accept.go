package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/instanttrade/itnd/internal/core/catalog"
	"github.com/instanttrade/itnd/internal/core/enforce"
	"github.com/instanttrade/itnd/internal/core/invariant"
	"github.com/instanttrade/itnd/internal/core/invoice"
	"github.com/instanttrade/itnd/internal/core/pricing"
)

// AcceptRequest is a buyer's signed commitment to pay an invoice.
type AcceptRequest struct {
	InvoiceID string
	// BuyerID is the authenticated caller; invariant enforcement
	// verifies it matches the invoice's buyer.
	BuyerID   string
	Signature []byte
}

// AcceptInvoice moves the invoice to ACCEPTED under the acceptance
// invariants: authorization, signature verification, compliance
// screening and quote validity. The financing quote is issued inside
// the enforced action so the post-checks see it.
func (o *Orchestrator) AcceptInvoice(ctx context.Context, req AcceptRequest) (*pricing.Quote, error) {
	mu := o.invoiceLock(req.InvoiceID)
	mu.Lock()
	defer mu.Unlock()

	inv, ok := o.deps.Invoices.Get(req.InvoiceID)
	if !ok {
		return nil, fmt.Errorf("invoice %s: %w", req.InvoiceID, enforce.ErrNotFound)
	}

	now := o.clk.Now()
	ictx := invariant.NewContext(ctx, now, "accept-"+inv.ID)
	ictx.Invoice = inv
	ictx.AuthenticatedUser = req.BuyerID
	ictx.Signature = req.Signature
	ictx.Supplier, _ = o.deps.Accounts.Get(inv.SupplierID)
	ictx.Buyer, _ = o.deps.Accounts.Get(inv.BuyerID)
	ictx.Extra[catalog.ExtraTransitionTo] = invoice.StatusAccepted

	var quote *pricing.Quote
	err := o.kernel.Enforce(ictx, catalog.AcceptInvariants, func(ictx *invariant.Context) error {
		q, ok := o.deps.Quotes.GetValidQuote(inv.ID)
		if !ok {
			var err error
			q, err = o.deps.Quotes.IssueQuote(inv.ID, inv.Amount, inv.Terms)
			if err != nil {
				return err
			}
		}
		quote = q
		ictx.Quote = q
		if err := invoice.Transition(inv, invoice.StatusAccepted); err != nil {
			return err
		}
		inv.AcceptedAt = ictx.Now
		return nil
	})
	if err != nil {
		o.log.Warn("acceptance rejected", zap.String("invoice_id", req.InvoiceID), zap.Error(err))
		return nil, err
	}

	if o.m != nil {
		o.m.InvoicesAccepted.Inc()
	}
	o.log.Info("invoice accepted",
		zap.String("invoice_id", inv.ID),
		zap.String("buyer_id", req.BuyerID),
		zap.String("discount_rate", quote.DiscountRate.String()),
		zap.String("total_cost", quote.TotalCost.StringFixed(2)))
	return quote, nil
}
