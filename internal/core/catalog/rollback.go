package catalog

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/instanttrade/itnd/internal/core/invariant"
	"github.com/instanttrade/itnd/internal/core/invoice"
	"github.com/instanttrade/itnd/internal/core/ledger"
	"github.com/instanttrade/itnd/internal/core/settlement"
)

// settlementRollback reverses a partial settlement: legs undone in
// reverse order as CORRECTION entries, balances restored from the
// pre-action snapshot, the invoice failed and the settlement
// registration released. The ledger is never rewritten; the
// corrections net the failed legs to zero.
func settlementRollback(d Deps) invariant.RollbackFunc {
	return func(c *invariant.Context) error {
		s := contextSettlement(c)
		if s == nil {
			return nil
		}
		now := c.Now

		// Leg 3: unwind the advance record.
		if s.CapitalAdvance != nil {
			appendCorrection(d, s, "RECEIVABLE:"+s.BuyerID, ledger.DirCredit, s.CapitalAdvance.Amount, s.AdvanceID, now)
			appendCorrection(d, s, "ADVANCES:"+s.CapitalProviderID, ledger.DirDebit, s.CapitalAdvance.Amount, s.AdvanceID, now)
			s.CapitalAdvance = nil
		}
		// Leg 2: return the buyer's payment.
		if s.BuyerDebit != nil {
			appendCorrection(d, s, s.BuyerID, ledger.DirCredit, s.BuyerDebit.Amount, s.BuyerDebit.TxnID, now)
			appendCorrection(d, s, s.CapitalProviderID, ledger.DirDebit, s.BuyerDebit.Amount, s.BuyerDebit.TxnID, now)
			s.BuyerDebit = nil
		}
		// Leg 1: return the supplier's funding.
		if s.SupplierCredit != nil {
			appendCorrection(d, s, s.CapitalProviderID, ledger.DirCredit, s.SupplierCredit.Amount, s.SupplierCredit.TxnID, now)
			appendCorrection(d, s, s.SupplierID, ledger.DirDebit, s.SupplierCredit.Amount, s.SupplierCredit.TxnID, now)
			s.SupplierCredit = nil
		}

		if token, ok := c.Extra[settlement.ExtraSnapshotToken].(string); ok && token != "" {
			if err := d.Balances.Restore(token); err != nil {
				return err
			}
		}

		d.Settlements.UnregisterSettlement(s.InvoiceID)
		s.Status = settlement.StatusRolledBack

		if inv, ok := d.Invoices.Get(s.InvoiceID); ok && inv.Status == invoice.StatusAccepted {
			if err := invoice.Transition(inv, invoice.StatusFailed); err != nil {
				return err
			}
		}
		return nil
	}
}

func appendCorrection(d Deps, s *settlement.Settlement, acct string, dir ledger.Direction, amount decimal.Decimal, txnID string, at time.Time) {
	d.Settlements.Append(ledger.Event{
		ID:           "EVT-" + uuid.NewString(),
		SettlementID: s.ID,
		InvoiceID:    s.InvoiceID,
		Account:      acct,
		Direction:    dir,
		Kind:         ledger.KindCorrection,
		Amount:       amount,
		TxnID:        txnID,
		At:           at,
	})
}
