package invariant

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/instanttrade/itnd/internal/core/account"
	"github.com/instanttrade/itnd/internal/core/invoice"
	"github.com/instanttrade/itnd/internal/core/pricing"
)

// Context is the evaluation context handed to every check. One Context
// covers exactly one enforced action.
type Context struct {
	Ctx context.Context
	Now time.Time

	// ActionID identifies the enforced action; rollback idempotence is
	// tracked against it.
	ActionID string

	AuthenticatedUser string
	Signature         []byte

	Invoice  *invoice.Invoice
	Supplier *account.Account
	Buyer    *account.Account
	Quote    *pricing.Quote

	Amount       decimal.Decimal
	DiscountRate decimal.Decimal

	// Extra carries action-specific collaborators (settlement record,
	// balance snapshot token, selected rail) keyed by well-known names.
	Extra map[string]any

	// Result is the action's outcome, visible to post-checks.
	Result any

	// StateBefore is the snapshot taken by the kernel before the action
	// ran; rollback procedures restore from it.
	StateBefore map[string]any
}

// NewContext builds a Context with an initialized Extra map.
func NewContext(ctx context.Context, now time.Time, actionID string) *Context {
	return &Context{
		Ctx:      ctx,
		Now:      now,
		ActionID: actionID,
		Extra:    make(map[string]any),
	}
}

// Snapshot captures the ledger-visible portion of the context. The
// kernel stores it on decision ledger entries and in StateBefore.
func (c *Context) Snapshot() map[string]any {
	state := make(map[string]any, 8)
	state["action_id"] = c.ActionID
	if c.Invoice != nil {
		state["invoice_id"] = c.Invoice.ID
		state["invoice_status"] = string(c.Invoice.Status)
		state["invoice_amount"] = c.Invoice.Amount.String()
	}
	if c.Supplier != nil {
		state["supplier_id"] = c.Supplier.ID
		state["supplier_balance"] = c.Supplier.Balance.String()
	}
	if c.Buyer != nil {
		state["buyer_id"] = c.Buyer.ID
		state["buyer_balance"] = c.Buyer.Balance.String()
	}
	if !c.Amount.IsZero() {
		state["amount"] = c.Amount.String()
	}
	return state
}
