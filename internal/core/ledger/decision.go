// Package ledger holds the two append-only logs of the network: the
// decision ledger (every invariant check outcome, HMAC-chained) and
// the settlement ledger (every monetary movement). Neither log is ever
// rewritten; corrections are appended.
package ledger

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/instanttrade/itnd/internal/core/invariant"
)

// EnforcementAction is the kernel's verdict recorded with each check.
type EnforcementAction string

const (
	ActionProceed  EnforcementAction = "PROCEED"
	ActionRollback EnforcementAction = "ROLLBACK"
	ActionFreeze   EnforcementAction = "FREEZE"
)

// Entry is one decision ledger row.
type Entry struct {
	Seq         uint64            `json:"seq"`
	InvariantID invariant.ID      `json:"invariant_id"`
	Phase       invariant.Phase   `json:"phase"`
	Result      bool              `json:"result"`
	Action      EnforcementAction `json:"action"`
	Detail      string            `json:"detail,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
	State       map[string]any    `json:"state,omitempty"`
	Signature   []byte            `json:"signature"`
}

// Appender is the persistence hook; the store writes entries behind
// the in-memory log.
type Appender interface {
	AppendDecision(e Entry) error
}

// DecisionLedger is the append-only, signature-chained check record.
// It is observable only through its methods.
type DecisionLedger struct {
	mu      sync.RWMutex
	entries []Entry
	secret  []byte
	store   Appender
	now     func() time.Time
}

func NewDecisionLedger(secret []byte, now func() time.Time) *DecisionLedger {
	if now == nil {
		now = time.Now
	}
	return &DecisionLedger{secret: secret, now: now}
}

// WithStore attaches a persistence appender.
func (l *DecisionLedger) WithStore(store Appender) *DecisionLedger {
	l.store = store
	return l
}

// sign computes HMAC-SHA256 over id|result|timestamp_iso with the
// process secret.
func (l *DecisionLedger) sign(id invariant.ID, result bool, ts time.Time) []byte {
	mac := hmac.New(sha256.New, l.secret)
	fmt.Fprintf(mac, "%s|%t|%s", id, result, ts.UTC().Format(time.RFC3339Nano))
	return mac.Sum(nil)
}

// Record appends a check outcome and returns the signed entry.
func (l *DecisionLedger) Record(id invariant.ID, phase invariant.Phase, result bool, action EnforcementAction, detail string, state map[string]any) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.now()
	// Ledger timestamps are monotonically non-decreasing.
	if n := len(l.entries); n > 0 && ts.Before(l.entries[n-1].Timestamp) {
		ts = l.entries[n-1].Timestamp
	}
	e := Entry{
		Seq:         uint64(len(l.entries)),
		InvariantID: id,
		Phase:       phase,
		Result:      result,
		Action:      action,
		Detail:      detail,
		Timestamp:   ts,
		State:       state,
		Signature:   l.sign(id, result, ts),
	}
	l.entries = append(l.entries, e)
	if l.store != nil {
		// Persistence failures do not block enforcement; the in-memory
		// chain remains authoritative for this process.
		_ = l.store.AppendDecision(e)
	}
	return e
}

// VerifyChainIntegrity recomputes every signature.
func (l *DecisionLedger) VerifyChainIntegrity() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, e := range l.entries {
		if !hmac.Equal(e.Signature, l.sign(e.InvariantID, e.Result, e.Timestamp)) {
			return false
		}
	}
	return true
}

// LastGoodState returns the snapshot of the most recent PROCEED entry.
func (l *DecisionLedger) LastGoodState() (map[string]any, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Action == ActionProceed && l.entries[i].Result {
			return l.entries[i].State, true
		}
	}
	return nil, false
}

// Entries returns a copy for audit iteration.
func (l *DecisionLedger) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *DecisionLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Counts returns passed and failed check totals, feeding the health
// score.
func (l *DecisionLedger) Counts() (passed, failed int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, e := range l.entries {
		if e.Result {
			passed++
		} else {
			failed++
		}
	}
	return passed, failed
}

// tamper is test-only: it flips an entry's recorded result without
// re-signing, breaking the chain.
func (l *DecisionLedger) tamper(seq int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[seq].Result = !l.entries[seq].Result
}
