// Package enforce is the invariant enforcement kernel: the single path
// through which every state-mutating action passes. It orders the
// action's invariants by dependency, runs pre-checks, executes the
// action, runs post-checks, and performs reverse-order compensating
// rollback on any failure — recording each outcome to the decision
// ledger.
package enforce

import (
	"sync"

	"go.uber.org/zap"

	"github.com/instanttrade/itnd/internal/core/invariant"
	"github.com/instanttrade/itnd/internal/core/ledger"
	"github.com/instanttrade/itnd/internal/core/sysmode"
	"github.com/instanttrade/itnd/internal/metrics"
)

// Action is the state-mutating unit the kernel wraps.
type Action func(ctx *invariant.Context) error

type Kernel struct {
	registry *invariant.Registry
	decision *ledger.DecisionLedger
	mode     *sysmode.Machine
	metrics  *metrics.Metrics
	log      *zap.Logger

	mu         sync.Mutex
	rolledBack map[string]bool // action ids whose rollback already ran
}

func NewKernel(reg *invariant.Registry, dl *ledger.DecisionLedger, mode *sysmode.Machine, m *metrics.Metrics, log *zap.Logger) *Kernel {
	return &Kernel{
		registry:   reg,
		decision:   dl,
		mode:       mode,
		metrics:    m,
		log:        log.Named("enforce"),
		rolledBack: make(map[string]bool),
	}
}

// Registry exposes the catalog for callers that select invariant sets.
func (k *Kernel) Registry() *invariant.Registry { return k.registry }

// Enforce runs action under the named invariants.
func (k *Kernel) Enforce(ctx *invariant.Context, ids []invariant.ID, action Action) error {
	if !k.mode.Accepting() {
		return ErrCircuitBreakerOpen
	}

	ordered, err := k.registry.Resolve(ids)
	if err != nil {
		return err
	}

	ctx.StateBefore = ctx.Snapshot()

	// Pre-checks in dependency order; first failure freezes the action
	// before it runs.
	for _, inv := range ordered {
		if inv.Pre == nil {
			continue
		}
		ok, detail := inv.Pre(ctx)
		act := ledger.ActionProceed
		if !ok {
			act = ledger.ActionFreeze
		}
		k.record(inv, invariant.PhasePre, ok, act, detail, ctx)
		if !ok {
			return &ViolationError{Phase: invariant.PhasePre, InvariantID: inv.ID, Detail: detail}
		}
		inv.MarkVerified(ctx.Now)
	}

	if err := action(ctx); err != nil {
		k.log.Warn("action failed, compensating",
			zap.String("action_id", ctx.ActionID), zap.Error(err))
		if rbErr := k.compensate(ctx, ordered, "action_error"); rbErr != nil {
			return rbErr
		}
		return err
	}

	// Post-checks in the same order; a failure rolls the action back.
	for _, inv := range ordered {
		if inv.Post == nil {
			continue
		}
		ok, detail := inv.Post(ctx)
		act := ledger.ActionProceed
		if !ok {
			act = ledger.ActionRollback
		}
		k.record(inv, invariant.PhasePost, ok, act, detail, ctx)
		if !ok {
			if rbErr := k.compensate(ctx, ordered, "post_check_failure"); rbErr != nil {
				return rbErr
			}
			return &ViolationError{Phase: invariant.PhasePost, InvariantID: inv.ID, Detail: detail}
		}
		inv.MarkVerified(ctx.Now)
	}

	return nil
}

// Rollback re-runs the compensating rollback for an action. A second
// rollback of the same action is a no-op.
func (k *Kernel) Rollback(ctx *invariant.Context, ids []invariant.ID, reason string) error {
	ordered, err := k.registry.Resolve(ids)
	if err != nil {
		return err
	}
	return k.compensate(ctx, ordered, reason)
}

// compensate runs each invariant's rollback in reverse dependency
// order. A rollback failure escalates: the ledger records the failure,
// the system freezes and a CompromisedError is returned.
func (k *Kernel) compensate(ctx *invariant.Context, ordered []*invariant.Invariant, reason string) error {
	k.mu.Lock()
	if k.rolledBack[ctx.ActionID] {
		k.mu.Unlock()
		return nil
	}
	k.rolledBack[ctx.ActionID] = true
	k.mu.Unlock()

	if k.metrics != nil {
		k.metrics.Rollbacks.WithLabelValues(reason).Inc()
	}

	for i := len(ordered) - 1; i >= 0; i-- {
		inv := ordered[i]
		if inv.Rollback == nil {
			continue
		}
		if err := inv.Rollback(ctx); err != nil {
			k.log.Error("rollback failed, system compromised",
				zap.String("invariant_id", string(inv.ID)),
				zap.String("action_id", ctx.ActionID),
				zap.Error(err))
			k.decision.Record(inv.ID, invariant.PhasePost, false, ledger.ActionFreeze,
				"rollback failure: "+err.Error(), ctx.Snapshot())
			k.mode.Freeze("rollback failed for invariant " + string(inv.ID))
			return &CompromisedError{InvariantID: inv.ID, Cause: err}
		}
	}
	return nil
}

func (k *Kernel) record(inv *invariant.Invariant, phase invariant.Phase, ok bool, act ledger.EnforcementAction, detail string, ctx *invariant.Context) {
	k.decision.Record(inv.ID, phase, ok, act, detail, ctx.Snapshot())
	if k.metrics == nil {
		return
	}
	result := "passed"
	if !ok {
		result = "failed"
	}
	k.metrics.InvariantChecks.WithLabelValues(string(inv.ID), string(phase), result).Inc()
	if !ok {
		k.metrics.InvariantViolations.WithLabelValues(string(inv.ID), string(inv.Criticality)).Inc()
	}
}
