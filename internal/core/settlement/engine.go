package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/instanttrade/itnd/internal/clock"
	"github.com/instanttrade/itnd/internal/core/balance"
	"github.com/instanttrade/itnd/internal/core/enforce"
	"github.com/instanttrade/itnd/internal/core/invariant"
	"github.com/instanttrade/itnd/internal/core/ledger"
	"github.com/instanttrade/itnd/internal/core/rail"
	"github.com/instanttrade/itnd/internal/metrics"
)

// Invariants guarding every settlement: exactly-once, atomicity,
// deadline, rail health and ledger reconciliation.
var Invariants = []invariant.ID{"006", "102", "201", "206", "501"}

// Context keys the settlement engine and the invariant catalog share.
const (
	ExtraSettlement    = "settlement"
	ExtraSnapshotToken = "snapshot_token"
	ExtraRail          = "rail"
)

type Params struct {
	InvoiceID         string
	SupplierID        string
	BuyerID           string
	CapitalProviderID string
	Amount            decimal.Decimal
	DiscountRate      decimal.Decimal
	AcceptanceAt      time.Time
}

// Engine orchestrates the three legs under the kernel.
type Engine struct {
	kernel   *enforce.Kernel
	ledger   *ledger.SettlementLedger
	balances *balance.Service
	router   *rail.Router
	clk      clock.Clock
	log      *zap.Logger
	metrics  *metrics.Metrics
	deadline time.Duration
}

func NewEngine(kernel *enforce.Kernel, sl *ledger.SettlementLedger, balances *balance.Service, router *rail.Router, clk clock.Clock, m *metrics.Metrics, log *zap.Logger) *Engine {
	return &Engine{
		kernel:   kernel,
		ledger:   sl,
		balances: balances,
		router:   router,
		clk:      clk,
		log:      log.Named("settlement"),
		metrics:  m,
		deadline: Deadline,
	}
}

// WithDeadline overrides the per-settlement deadline.
func (e *Engine) WithDeadline(d time.Duration) *Engine {
	if d > 0 {
		e.deadline = d
	}
	return e
}

// Execute runs the settlement. On any failure after the action begins,
// the kernel's compensating rollback reverses the legs 3->2->1,
// restores balances from the snapshot and appends CORRECTION events;
// the returned error is a SettlementError unless the rollback itself
// failed.
func (e *Engine) Execute(ctx context.Context, p Params) (*Settlement, error) {
	now := e.clk.Now()
	acceptance := p.AcceptanceAt
	if acceptance.IsZero() {
		acceptance = now
	}

	selected, err := e.router.Select(p.Amount, rail.ModeBalanced)
	if err != nil {
		return nil, err
	}

	s := &Settlement{
		ID:                fmt.Sprintf("SET-%s-%d", p.InvoiceID, now.Unix()),
		InvoiceID:         p.InvoiceID,
		SupplierID:        p.SupplierID,
		BuyerID:           p.BuyerID,
		CapitalProviderID: p.CapitalProviderID,
		RailName:          selected.Name,
		AcceptanceAt:      acceptance,
		StartedAt:         now,
		Status:            StatusPending,
		DiscountRate:      p.DiscountRate,
		BuyerCost:         BuyerCostFor(p.Amount, p.DiscountRate),
	}

	token := e.balances.Snapshot()

	ictx := invariant.NewContext(ctx, now, "settle-"+p.InvoiceID)
	ictx.Amount = p.Amount
	ictx.DiscountRate = p.DiscountRate
	ictx.Extra[ExtraSettlement] = s
	ictx.Extra[ExtraSnapshotToken] = token
	ictx.Extra[ExtraRail] = selected

	err = e.kernel.Enforce(ictx, Invariants, func(ictx *invariant.Context) error {
		return e.runLegs(ictx.Ctx, s, selected, p.Amount)
	})
	if err != nil {
		var comp *enforce.CompromisedError
		if errors.As(err, &comp) || errors.Is(err, enforce.ErrCircuitBreakerOpen) {
			return s, err
		}
		if e.metrics != nil {
			e.metrics.SettlementsFailed.WithLabelValues(failReason(err)).Inc()
		}
		var viol *enforce.ViolationError
		if errors.As(err, &viol) && viol.Phase == invariant.PhasePre {
			// Nothing ran; no settlement came into being.
			return nil, err
		}
		return s, &enforce.SettlementError{InvoiceID: p.InvoiceID, Reason: err.Error(), Cause: err}
	}

	e.balances.Release(token)
	if e.metrics != nil {
		e.metrics.SettlementsCompleted.Inc()
		e.metrics.SettlementDuration.Observe(s.Duration().Seconds())
		amt, _ := p.Amount.Float64()
		e.metrics.TotalVolume.Add(amt)
	}
	e.log.Info("settlement completed",
		zap.String("settlement_id", s.ID),
		zap.String("invoice_id", s.InvoiceID),
		zap.Duration("duration", s.Duration()),
		zap.String("rail", s.RailName))
	return s, nil
}

// runLegs executes the three transfers in fixed order under the
// settlement deadline.
func (e *Engine) runLegs(ctx context.Context, s *Settlement, r *rail.Rail, amount decimal.Decimal) error {
	s.Status = StatusInProgress

	dctx, cancel := context.WithTimeout(ctx, e.deadline)
	defer cancel()

	// Leg 1: capital provider funds the supplier.
	txn1, err := e.balances.Transfer(dctx, r, s.CapitalProviderID, s.SupplierID, amount)
	if err != nil {
		return fmt.Errorf("leg 1 (supplier credit): %w", err)
	}
	at1 := e.clk.Now()
	s.SupplierCredit = &Leg{Account: s.SupplierID, Amount: amount, At: at1, TxnID: txn1}
	e.appendLegEvents(s, s.SupplierID, s.CapitalProviderID, amount, txn1, at1)

	// Leg 2: buyer repays the provider at the financed cost.
	txn2, err := e.balances.Transfer(dctx, r, s.BuyerID, s.CapitalProviderID, s.BuyerCost)
	if err != nil {
		return fmt.Errorf("leg 2 (buyer debit): %w", err)
	}
	at2 := e.clk.Now()
	s.BuyerDebit = &Leg{Account: s.BuyerID, Amount: s.BuyerCost, At: at2, TxnID: txn2}
	e.appendLegEvents(s, s.CapitalProviderID, s.BuyerID, s.BuyerCost, txn2, at2)

	// Leg 3: record the capital advance.
	if err := dctx.Err(); err != nil {
		return fmt.Errorf("leg 3 (capital advance): %w", err)
	}
	s.AdvanceID = "ADV-" + uuid.NewString()
	at3 := e.clk.Now()
	s.CapitalAdvance = &Leg{Account: s.CapitalProviderID, Amount: amount, At: at3, TxnID: s.AdvanceID}
	e.ledger.Append(ledger.Event{
		ID: "EVT-" + uuid.NewString(), SettlementID: s.ID, InvoiceID: s.InvoiceID,
		Account: "ADVANCES:" + s.CapitalProviderID, Direction: ledger.DirCredit,
		Kind: ledger.KindAdvance, Amount: amount, TxnID: s.AdvanceID, At: at3,
	})
	e.ledger.Append(ledger.Event{
		ID: "EVT-" + uuid.NewString(), SettlementID: s.ID, InvoiceID: s.InvoiceID,
		Account: "RECEIVABLE:" + s.BuyerID, Direction: ledger.DirDebit,
		Kind: ledger.KindAdvance, Amount: amount, TxnID: s.AdvanceID, At: at3,
	})

	if !e.ledger.RegisterSettlement(s.InvoiceID, s.ID) {
		return fmt.Errorf("invoice %s already settled: %w", s.InvoiceID, enforce.ErrConflict)
	}
	s.CompletedAt = e.clk.Now()
	s.Status = StatusCompleted
	if e.metrics != nil {
		e.metrics.RailLatency.WithLabelValues(r.Name).Observe(s.CompletedAt.Sub(s.StartedAt).Seconds())
	}
	return nil
}

// appendLegEvents writes the double entry for one transfer leg.
func (e *Engine) appendLegEvents(s *Settlement, creditAcct, debitAcct string, amount decimal.Decimal, txnID string, at time.Time) {
	e.ledger.Append(ledger.Event{
		ID: "EVT-" + uuid.NewString(), SettlementID: s.ID, InvoiceID: s.InvoiceID,
		Account: creditAcct, Direction: ledger.DirCredit, Kind: ledger.KindLeg,
		Amount: amount, TxnID: txnID, At: at,
	})
	e.ledger.Append(ledger.Event{
		ID: "EVT-" + uuid.NewString(), SettlementID: s.ID, InvoiceID: s.InvoiceID,
		Account: debitAcct, Direction: ledger.DirDebit, Kind: ledger.KindLeg,
		Amount: amount, TxnID: txnID, At: at,
	})
}

func failReason(err error) string {
	var viol *enforce.ViolationError
	if errors.As(err, &viol) {
		return "invariant_" + string(viol.InvariantID)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "deadline"
	}
	return "action_error"
}
