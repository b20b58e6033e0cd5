// Package invariant holds the typed rule catalog: each invariant
// carries its classification, dependencies, decay window and the three
// procedures the enforcement kernel runs around a mutation.
package invariant

import (
	"sync"
	"time"
)

type ID string

type Type string

const (
	TypeState         Type = "STATE"
	TypeTransition    Type = "TRANSITION"
	TypeTemporal      Type = "TEMPORAL"
	TypeProbabilistic Type = "PROBABILISTIC"
	TypeSecurity      Type = "SECURITY"
	TypeFinancial     Type = "FINANCIAL"
	TypeDataIntegrity Type = "DATA_INTEGRITY"
)

type Criticality string

const (
	CriticalityCritical  Criticality = "CRITICAL"
	CriticalityImportant Criticality = "IMPORTANT"
	CriticalityOptional  Criticality = "OPTIONAL"
)

type Phase string

const (
	PhasePre  Phase = "PRE"
	PhasePost Phase = "POST"
)

// CheckFunc evaluates one side of an invariant. It returns whether the
// check passed and a human-readable detail for the ledger.
type CheckFunc func(ctx *Context) (bool, string)

// RollbackFunc compensates a failed action using the state captured
// before it ran.
type RollbackFunc func(ctx *Context) error

// VerifyStateFunc audits a serialized state snapshot in the migration
// state shape. The periodic audit runs every registered one over the
// exported state.
type VerifyStateFunc func(state map[string]any) bool

// Invariant is one rule of the catalog.
type Invariant struct {
	ID          ID
	Statement   string
	Type        Type
	Criticality Criticality
	DependsOn   []ID
	Decay       time.Duration // zero means no decay window
	Owner       string

	Pre         CheckFunc
	Post        CheckFunc
	Rollback    RollbackFunc
	VerifyState VerifyStateFunc

	mu           sync.Mutex
	lastVerified time.Time
}

// Expired reports whether the invariant's last successful verification
// is older than its decay window. Expiry forces revalidation on next
// use; invariants without a decay window never expire.
func (inv *Invariant) Expired(now time.Time) bool {
	if inv.Decay == 0 {
		return false
	}
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.lastVerified.IsZero() {
		return true
	}
	return now.Sub(inv.lastVerified) > inv.Decay
}

// MarkVerified records a successful verification for decay tracking.
func (inv *Invariant) MarkVerified(now time.Time) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.lastVerified = now
}
