package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/instanttrade/itnd/internal/alerts"
	"github.com/instanttrade/itnd/internal/core/catalog"
	"github.com/instanttrade/itnd/internal/core/enforce"
	"github.com/instanttrade/itnd/internal/core/invariant"
	"github.com/instanttrade/itnd/internal/core/invoice"
)

// ExpireSweep retires every invoice that has sat PENDING past the
// expiry window. It returns the ids expired in this pass.
func (o *Orchestrator) ExpireSweep(ctx context.Context) []string {
	now := o.clk.Now()
	cutoff := now.Add(-invoice.PendingExpiry)

	var expired []string
	for _, id := range o.deps.Invoices.PendingOlderThan(cutoff) {
		mu := o.invoiceLock(id)
		mu.Lock()
		inv, ok := o.deps.Invoices.Get(id)
		if !ok {
			mu.Unlock()
			continue
		}

		ictx := invariant.NewContext(ctx, now, "expire-"+id)
		ictx.Invoice = inv
		ictx.Extra[catalog.ExtraTransitionTo] = invoice.StatusExpired
		err := o.kernel.Enforce(ictx, catalog.SweepInvariants, func(*invariant.Context) error {
			return invoice.Transition(inv, invoice.StatusExpired)
		})
		mu.Unlock()

		if err != nil {
			o.log.Warn("expiry skipped", zap.String("invoice_id", id), zap.Error(err))
			continue
		}
		expired = append(expired, id)
		o.archiveInvoice(ctx, inv)
	}

	if len(expired) > 0 {
		o.log.Info("expiry sweep completed", zap.Int("expired", len(expired)))
	}
	return expired
}

// RunAudit re-verifies the aggregate invariants: auction competition,
// fraud containment, settlement success rate and decision ledger
// integrity. A clean pass then runs the state verifiers over the
// exported snapshot. Violations change the system mode rather than
// roll anything back.
func (o *Orchestrator) RunAudit(ctx context.Context) error {
	ictx := invariant.NewContext(ctx, o.clk.Now(), "audit-"+o.clk.Now().Format("20060102T150405"))
	err := o.kernel.Enforce(ictx, catalog.AuditInvariants, func(*invariant.Context) error {
		return nil
	})
	if err == nil {
		o.Health()
		return o.verifyExportedState()
	}

	var viol *enforce.ViolationError
	if !errors.As(err, &viol) {
		return err
	}
	switch viol.InvariantID {
	case "301":
		o.alert(alerts.SeverityWarning, alerts.CodeLowLiquidity, viol.Detail, "")
	case "302", "601":
		o.mode.Freeze(viol.Detail)
	case "303":
		o.mode.Degrade(viol.Detail)
	}
	o.Health()
	return err
}

// ExportState serializes the live network into the migration state
// shape: the invoice set keyed by id.
func (o *Orchestrator) ExportState() map[string]any {
	invoices := make(map[string]any)
	for _, inv := range o.deps.Invoices.List(invoice.Filter{}) {
		amount, _ := inv.Amount.Float64()
		invoices[inv.ID] = map[string]any{
			"id":       inv.ID,
			"amount":   amount,
			"currency": inv.Currency,
			"status":   string(inv.Status),
		}
	}
	return map[string]any{"invoices": invoices}
}

// verifyExportedState runs every registered state verifier over the
// exported snapshot. Failures alert but mutate nothing.
func (o *Orchestrator) verifyExportedState() error {
	state := o.ExportState()
	reg := o.kernel.Registry()
	var failed []invariant.ID
	for _, id := range reg.IDs() {
		inv, ok := reg.Get(id)
		if !ok || inv.VerifyState == nil {
			continue
		}
		if !inv.VerifyState(state) {
			failed = append(failed, id)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	for _, id := range failed {
		o.alert(alerts.SeverityWarning, alerts.CodeInvariantViolated,
			fmt.Sprintf("state verification failed for invariant %s", id), "")
	}
	o.log.Warn("state verification failed", zap.Any("invariants", failed))
	return fmt.Errorf("state verification failed for invariants %v", failed)
}
