package orchestrator

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/instanttrade/itnd/internal/clock"
	"github.com/instanttrade/itnd/internal/core/fraud"
	"github.com/instanttrade/itnd/internal/core/invoice"
)

// StoreHistory derives the fraud engine's behavioral inputs from the
// invoice store.
type StoreHistory struct {
	invoices *invoice.Store
	clk      clock.Clock
}

func NewStoreHistory(invoices *invoice.Store, clk clock.Clock) *StoreHistory {
	return &StoreHistory{invoices: invoices, clk: clk}
}

func (h *StoreHistory) HistoryFor(supplierID, buyerID string) fraud.History {
	now := h.clk.Now()

	supplierInvoices := h.invoices.List(invoice.Filter{SupplierID: supplierID})
	avg := decimal.Zero
	if len(supplierInvoices) > 0 {
		sum := decimal.Zero
		for _, inv := range supplierInvoices {
			sum = sum.Add(inv.Amount)
		}
		avg = sum.Div(decimal.NewFromInt(int64(len(supplierInvoices))))
	}

	return fraud.History{
		SupplierAvgAmount:        avg,
		SupplierInvoicesLastHour: h.invoices.CountSupplierSince(supplierID, now.Add(-time.Hour)),
		SupplierInvoicesLastDay:  h.invoices.CountSupplierSince(supplierID, now.Add(-24*time.Hour)),
		RelationshipInvoiceCount: len(h.invoices.List(invoice.Filter{SupplierID: supplierID, BuyerID: buyerID})),
	}
}
