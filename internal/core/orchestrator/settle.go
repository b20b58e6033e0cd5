package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/instanttrade/itnd/internal/alerts"
	"github.com/instanttrade/itnd/internal/core/auction"
	"github.com/instanttrade/itnd/internal/core/catalog"
	"github.com/instanttrade/itnd/internal/core/enforce"
	"github.com/instanttrade/itnd/internal/core/invariant"
	"github.com/instanttrade/itnd/internal/core/invoice"
	"github.com/instanttrade/itnd/internal/core/ledger"
	"github.com/instanttrade/itnd/internal/core/money"
	"github.com/instanttrade/itnd/internal/core/pricing"
	"github.com/instanttrade/itnd/internal/core/settlement"
)

// SettlementResult is the settlement plus the auction that priced it.
type SettlementResult struct {
	Settlement *settlement.Settlement
	Auction    *auction.Auction
}

// ExecuteSettlement finances an accepted invoice: it auctions the deal
// to the capital providers, verifies the winning bid and FX freshness,
// runs the atomic three-leg settlement and finally marks the invoice
// SETTLED. Any overcharge against the buyer's quote is refunded
// immediately.
func (o *Orchestrator) ExecuteSettlement(ctx context.Context, invoiceID string) (*SettlementResult, error) {
	mu := o.invoiceLock(invoiceID)
	mu.Lock()
	defer mu.Unlock()

	inv, ok := o.deps.Invoices.Get(invoiceID)
	if !ok {
		return nil, fmt.Errorf("invoice %s: %w", invoiceID, enforce.ErrNotFound)
	}
	if inv.Status != invoice.StatusAccepted {
		return nil, fmt.Errorf("invoice %s is %s, not ACCEPTED: %w", invoiceID, inv.Status, enforce.ErrConflict)
	}

	quote, _ := o.deps.Quotes.GetValidQuote(inv.ID)

	// Admission: cross-currency settlements need a fresh FX rate.
	now := o.clk.Now()
	admit := invariant.NewContext(ctx, now, "presettle-"+inv.ID)
	admit.Invoice = inv
	admit.Quote = quote
	if err := o.kernel.Enforce(admit, []invariant.ID{"204"}, func(*invariant.Context) error {
		if inv.Currency == o.deps.BaseCurrency {
			return nil
		}
		// Refresh the pair so the pre-check sees a live rate next time
		// and the conversion below uses it.
		_, err := o.deps.FX.GetRate(ctx, inv.Currency, o.deps.BaseCurrency)
		return err
	}); err != nil {
		return nil, err
	}

	a, winner, err := o.runAuction(ctx, inv)
	if err != nil {
		return &SettlementResult{Auction: a}, err
	}

	params := settlement.Params{
		InvoiceID:         inv.ID,
		SupplierID:        inv.SupplierID,
		BuyerID:           inv.BuyerID,
		CapitalProviderID: winner.ProviderID,
		Amount:            inv.Amount,
		DiscountRate:      winner.DiscountRate,
		AcceptanceAt:      inv.AcceptedAt,
	}

	s, err := o.settle.Execute(ctx, params)
	now = o.clk.Now()
	if err != nil {
		o.deps.Stats.RecordFailure(now)
		o.deps.Auctions.ReleaseWinner(a)

		var comp *enforce.CompromisedError
		if errors.As(err, &comp) || errors.Is(err, enforce.ErrCircuitBreakerOpen) {
			return &SettlementResult{Settlement: s, Auction: a}, err
		}
		// Pre-phase violations leave no settlement; the engine's rollback
		// handles everything else, including failing the invoice.
		if s == nil && inv.Status == invoice.StatusAccepted {
			_ = invoice.Transition(inv, invoice.StatusFailed)
		}
		o.log.Warn("settlement failed",
			zap.String("invoice_id", inv.ID),
			zap.Error(err))
		return &SettlementResult{Settlement: s, Auction: a}, err
	}
	o.deps.Stats.RecordSuccess(now)

	// The SETTLED transition runs under the kernel like any other.
	tctx := invariant.NewContext(ctx, now, "settled-"+inv.ID)
	tctx.Invoice = inv
	tctx.Extra[catalog.ExtraTransitionTo] = invoice.StatusSettled
	if err := o.kernel.Enforce(tctx, []invariant.ID{"101", "105"}, func(*invariant.Context) error {
		return invoice.Transition(inv, invoice.StatusSettled)
	}); err != nil {
		return &SettlementResult{Settlement: s, Auction: a}, err
	}

	o.refundOvercharge(s, quote)

	// Verify the no-overcharge rule now that any refund has been made.
	pctx := invariant.NewContext(ctx, o.clk.Now(), "postsettle-"+inv.ID)
	pctx.Invoice = inv
	pctx.Quote = quote
	pctx.Extra[settlement.ExtraSettlement] = s
	if err := o.kernel.Enforce(pctx, catalog.PostSettleSet, func(*invariant.Context) error {
		return nil
	}); err != nil {
		return &SettlementResult{Settlement: s, Auction: a}, err
	}

	if o.m != nil {
		rate, _ := s.DiscountRate.Float64()
		o.m.AverageDiscountRate.Set(rate)
	}
	o.archiveInvoice(ctx, inv)
	o.archiveSettlement(ctx, s)
	o.log.Info("invoice settled",
		zap.String("invoice_id", inv.ID),
		zap.String("settlement_id", s.ID),
		zap.String("provider_id", s.CapitalProviderID),
		zap.String("discount_rate", s.DiscountRate.String()))
	return &SettlementResult{Settlement: s, Auction: a}, nil
}

// runAuction opens the auction, waits out the bid window, finalizes it
// and verifies the winning bid under the auction invariants.
func (o *Orchestrator) runAuction(ctx context.Context, inv *invoice.Invoice) (*auction.Auction, *auction.Bid, error) {
	a, err := o.deps.Auctions.StartAuction(ctx, inv.ID, inv.Amount, inv.Terms)
	if err != nil {
		return nil, nil, err
	}

	select {
	case <-ctx.Done():
		return a, nil, ctx.Err()
	case <-o.clk.After(o.deps.Auctions.Window()):
	}

	a, err = o.deps.Auctions.Finalize(a.ID)
	if err != nil {
		return a, nil, err
	}

	ictx := invariant.NewContext(ctx, o.clk.Now(), "auction-"+a.ID)
	ictx.Invoice = inv
	ictx.Extra[catalog.ExtraWinningBid] = a.Winner
	if err := o.kernel.Enforce(ictx, catalog.AuctionCloseSet, func(*invariant.Context) error {
		return nil
	}); err != nil {
		o.deps.Auctions.ReleaseWinner(a)
		return a, nil, err
	}
	return a, a.Winner, nil
}

// refundOvercharge enforces the no-overcharge rule's remediation: when
// the executed buyer cost exceeds the quoted total, the difference
// returns to the buyer as a correction.
func (o *Orchestrator) refundOvercharge(s *settlement.Settlement, quote *pricing.Quote) {
	if quote == nil {
		return
	}
	over := s.BuyerCost.Sub(quote.TotalCost)
	if over.LessThanOrEqual(money.Tolerance) {
		return
	}
	now := o.clk.Now()
	refundID := "RFD-" + uuid.NewString()

	if err := o.deps.Balances.Debit(s.CapitalProviderID, over); err != nil {
		// The provider was just paid the overcharge; a failed debit here
		// means the books are wrong and the system must stop.
		o.mode.Freeze("overcharge refund failed: " + err.Error())
		return
	}
	o.deps.Balances.Credit(s.BuyerID, over)

	o.deps.Settlements.Append(ledger.Event{
		ID: "EVT-" + uuid.NewString(), SettlementID: s.ID, InvoiceID: s.InvoiceID,
		Account: s.BuyerID, Direction: ledger.DirCredit, Kind: ledger.KindCorrection,
		Amount: over, TxnID: refundID, At: now,
	})
	o.deps.Settlements.Append(ledger.Event{
		ID: "EVT-" + uuid.NewString(), SettlementID: s.ID, InvoiceID: s.InvoiceID,
		Account: s.CapitalProviderID, Direction: ledger.DirDebit, Kind: ledger.KindCorrection,
		Amount: over, TxnID: refundID, At: now,
	})

	s.BuyerCost = quote.TotalCost
	detail := fmt.Sprintf("refunded %s overcharge to %s", over.StringFixed(2), s.BuyerID)
	o.deps.Decisions.Record("502", invariant.PhasePost, false, ledger.ActionRollback, detail, map[string]any{
		"invoice_id":    s.InvoiceID,
		"settlement_id": s.ID,
		"refund":        over.StringFixed(2),
	})
	o.alert(alerts.SeverityWarning, alerts.CodeOverchargeRefund, detail, s.InvoiceID)
	o.log.Warn("overcharge refunded",
		zap.String("invoice_id", s.InvoiceID),
		zap.String("amount", over.StringFixed(2)))
}
