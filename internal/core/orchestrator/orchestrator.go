// Package orchestrator drives the network's top-level flows: invoice
// creation, buyer acceptance, the capital auction and settlement, the
// pending-invoice expiry sweep and the periodic aggregate audit. Every
// state mutation passes through the enforcement kernel.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/instanttrade/itnd/internal/alerts"
	"github.com/instanttrade/itnd/internal/clock"
	"github.com/instanttrade/itnd/internal/core/catalog"
	"github.com/instanttrade/itnd/internal/core/enforce"
	"github.com/instanttrade/itnd/internal/core/invoice"
	"github.com/instanttrade/itnd/internal/core/rail"
	"github.com/instanttrade/itnd/internal/core/settlement"
	"github.com/instanttrade/itnd/internal/core/sysmode"
	"github.com/instanttrade/itnd/internal/metrics"
)

// DefaultSweepInterval spaces expiry sweeps; invoices expire on the
// first sweep after their window, not at the exact instant.
const DefaultSweepInterval = time.Minute

// DefaultAuditInterval spaces the aggregate invariant audits.
const DefaultAuditInterval = 5 * time.Minute

// DefaultRailHealthInterval spaces rail health checks. It must stay
// well inside rail.HealthMaxAge or routing starts disqualifying rails
// between checks.
const DefaultRailHealthInterval = 10 * time.Second

// Archiver receives invoices and settlements once they reach a
// terminal state. Implementations persist them for reporting.
type Archiver interface {
	SaveInvoice(ctx context.Context, inv *invoice.Invoice, archivedAt time.Time) error
	SaveSettlement(ctx context.Context, s *settlement.Settlement, archivedAt time.Time) error
}

// Orchestrator coordinates the services behind the public API.
type Orchestrator struct {
	kernel  *enforce.Kernel
	deps    catalog.Deps
	settle  *settlement.Engine
	mode    *sysmode.Machine
	clk     clock.Clock
	m       *metrics.Metrics
	log     *zap.Logger
	archive Archiver

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// WithArchiver attaches an archive for terminal invoices and
// settlements. Archiving is best effort; failures are logged, never
// surfaced.
func (o *Orchestrator) WithArchiver(a Archiver) *Orchestrator {
	o.archive = a
	return o
}

// archiveInvoice persists a terminal invoice when an archive is wired.
func (o *Orchestrator) archiveInvoice(ctx context.Context, inv *invoice.Invoice) {
	if o.archive == nil {
		return
	}
	if err := o.archive.SaveInvoice(ctx, inv, o.clk.Now()); err != nil {
		o.log.Warn("invoice archive failed", zap.String("invoice_id", inv.ID), zap.Error(err))
	}
}

func (o *Orchestrator) archiveSettlement(ctx context.Context, s *settlement.Settlement) {
	if o.archive == nil {
		return
	}
	if err := o.archive.SaveSettlement(ctx, s, o.clk.Now()); err != nil {
		o.log.Warn("settlement archive failed", zap.String("settlement_id", s.ID), zap.Error(err))
	}
}

func New(kernel *enforce.Kernel, deps catalog.Deps, settle *settlement.Engine, mode *sysmode.Machine, clk clock.Clock, m *metrics.Metrics, log *zap.Logger) *Orchestrator {
	if deps.InvoiceHourlyLimit == 0 {
		deps.InvoiceHourlyLimit = catalog.DefaultInvoiceHourlyLimit
	}
	if deps.BaseCurrency == "" {
		deps.BaseCurrency = "USD"
	}
	return &Orchestrator{
		kernel: kernel,
		deps:   deps,
		settle: settle,
		mode:   mode,
		clk:    clk,
		m:      m,
		log:    log.Named("orchestrator"),
		locks:  make(map[string]*sync.Mutex),
	}
}

// invoiceLock serializes the flows touching one invoice.
func (o *Orchestrator) invoiceLock(invoiceID string) *sync.Mutex {
	o.lockMu.Lock()
	defer o.lockMu.Unlock()
	mu, ok := o.locks[invoiceID]
	if !ok {
		mu = &sync.Mutex{}
		o.locks[invoiceID] = mu
	}
	return mu
}

// Invoice looks up one invoice by id.
func (o *Orchestrator) Invoice(id string) (*invoice.Invoice, bool) {
	return o.deps.Invoices.Get(id)
}

// ListInvoices returns invoices in creation order, optionally filtered.
func (o *Orchestrator) ListInvoices(f invoice.Filter) []*invoice.Invoice {
	return o.deps.Invoices.List(f)
}

// HealthReport is the operational snapshot served by the health
// endpoint.
type HealthReport struct {
	Mode       string  `json:"mode"`
	ModeReason string  `json:"mode_reason,omitempty"`
	Score      float64 `json:"health_score"`

	ChecksPassed int `json:"invariant_checks_passed"`
	ChecksFailed int `json:"invariant_checks_failed"`

	Invoices    int `json:"invoices"`
	Settlements int `json:"settlements"`
	RailsUp     int `json:"rails_up"`

	LedgerBalanced  bool    `json:"ledger_balanced"`
	LedgerVariance  string  `json:"ledger_variance"`
	ChainVerified   bool    `json:"decision_chain_verified"`
	CompetitionRate float64 `json:"auction_competition_rate"`
}

// Health assembles the snapshot and refreshes the health gauges.
func (o *Orchestrator) Health() HealthReport {
	now := o.clk.Now()
	passed, failed := o.deps.Decisions.Counts()
	score := 1.0
	if passed+failed > 0 {
		score = float64(passed) / float64(passed+failed)
	}

	up := 0
	for _, r := range o.deps.Router.Rails() {
		if r.Status() == rail.StatusUp {
			up++
		}
	}

	rep := HealthReport{
		Mode:            o.mode.Mode().String(),
		ModeReason:      o.mode.Reason(),
		Score:           score,
		ChecksPassed:    passed,
		ChecksFailed:    failed,
		Invoices:        o.deps.Invoices.Len(),
		Settlements:     o.deps.Settlements.SettlementCount(),
		RailsUp:         up,
		LedgerBalanced:  o.deps.Settlements.Balanced(),
		LedgerVariance:  o.deps.Settlements.Variance().StringFixed(2),
		ChainVerified:   o.deps.Decisions.VerifyChainIntegrity(),
		CompetitionRate: o.deps.Auctions.CompetitionRate(now),
	}

	if o.m != nil {
		o.m.SystemHealth.Set(score)
		variance, _ := o.deps.Settlements.Variance().Float64()
		o.m.LedgerBalanceVariance.Set(variance)
		if rep.ChainVerified {
			o.m.LedgerIntegrity.Set(1)
		} else {
			o.m.LedgerIntegrity.Set(0)
		}
		o.m.CapitalCompetitionRate.Set(rep.CompetitionRate)
	}
	return rep
}

// RunSweepLoop expires stale invoices until the context ends.
func (o *Orchestrator) RunSweepLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.clk.After(interval):
			o.ExpireSweep(ctx)
		}
	}
}

// RunAuditLoop re-verifies the aggregate invariants until the context
// ends.
func (o *Orchestrator) RunAuditLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultAuditInterval
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.clk.After(interval):
			_ = o.RunAudit(ctx)
		}
	}
}

// RefreshRailHealth re-checks every registered rail, updates the
// per-rail health gauge and returns the UP count.
func (o *Orchestrator) RefreshRailHealth() int {
	now := o.clk.Now()
	up := 0
	for _, r := range o.deps.Router.Rails() {
		st := r.HealthCheck(now)
		if st == rail.StatusUp {
			up++
		}
		if o.m != nil {
			v := 0.0
			if st == rail.StatusUp {
				v = 1
			}
			o.m.RailHealth.WithLabelValues(r.Name).Set(v)
		}
	}
	return up
}

// RunRailHealthLoop keeps rail health fresh until the context ends.
// The first refresh happens on entry so routing works from startup.
func (o *Orchestrator) RunRailHealthLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 || interval >= rail.HealthMaxAge {
		interval = DefaultRailHealthInterval
	}
	o.RefreshRailHealth()
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.clk.After(interval):
			o.RefreshRailHealth()
		}
	}
}

// alert is a nil-safe emit.
func (o *Orchestrator) alert(sev alerts.Severity, code alerts.Code, msg, invoiceID string) {
	if o.deps.Bus != nil {
		o.deps.Bus.Emit(sev, code, msg, invoiceID)
	}
}
