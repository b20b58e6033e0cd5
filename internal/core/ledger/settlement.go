package ledger

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/instanttrade/itnd/internal/core/money"
)

// Direction of a monetary movement.
type Direction string

const (
	DirCredit Direction = "CREDIT"
	DirDebit  Direction = "DEBIT"
)

// EventKind distinguishes ordinary settlement legs from advance
// bookkeeping and appended corrections.
type EventKind string

const (
	KindLeg        EventKind = "LEG"
	KindAdvance    EventKind = "ADVANCE"
	KindCorrection EventKind = "CORRECTION"
)

// Event is one settlement ledger row.
type Event struct {
	ID           string          `json:"id"`
	SettlementID string          `json:"settlement_id"`
	InvoiceID    string          `json:"invoice_id"`
	Account      string          `json:"account"`
	Direction    Direction       `json:"direction"`
	Kind         EventKind       `json:"kind"`
	Amount       decimal.Decimal `json:"amount"`
	TxnID        string          `json:"txn_id,omitempty"`
	At           time.Time       `json:"at"`
}

// EventAppender persists settlement events behind the in-memory log.
type EventAppender interface {
	AppendSettlementEvent(e Event) error
}

// SettlementLedger is the append-only record of monetary movements. It
// also tracks the one-settlement-per-invoice constraint.
type SettlementLedger struct {
	mu          sync.RWMutex
	events      []Event
	settlements map[string]string // invoice id -> settlement id
	store       EventAppender
}

func NewSettlementLedger() *SettlementLedger {
	return &SettlementLedger{settlements: make(map[string]string)}
}

func (l *SettlementLedger) WithStore(store EventAppender) *SettlementLedger {
	l.store = store
	return l
}

// Append records an event. The log is never rewritten; reversals enter
// as CORRECTION events with the opposite direction.
func (l *SettlementLedger) Append(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	if l.store != nil {
		_ = l.store.AppendSettlementEvent(e)
	}
}

// RegisterSettlement binds a completed settlement to its invoice.
// Returns false when the invoice already has one.
func (l *SettlementLedger) RegisterSettlement(invoiceID, settlementID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.settlements[invoiceID]; exists {
		return false
	}
	l.settlements[invoiceID] = settlementID
	return true
}

// UnregisterSettlement removes the binding during compensating
// rollback so the invoice can be retried.
func (l *SettlementLedger) UnregisterSettlement(invoiceID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.settlements, invoiceID)
}

// SettlementFor reports the settlement bound to an invoice.
func (l *SettlementLedger) SettlementFor(invoiceID string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, ok := l.settlements[invoiceID]
	return id, ok
}

// SumCredits totals all credit movements, corrections included, so a
// rolled-back settlement nets to zero.
func (l *SettlementLedger) SumCredits() decimal.Decimal {
	return l.sum(DirCredit)
}

// SumDebits totals all debit movements, corrections included.
func (l *SettlementLedger) SumDebits() decimal.Decimal {
	return l.sum(DirDebit)
}

func (l *SettlementLedger) sum(dir Direction) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := decimal.Zero
	for _, e := range l.events {
		if e.Direction == dir {
			total = total.Add(e.Amount)
		}
	}
	return total
}

// Variance is credits minus debits.
func (l *SettlementLedger) Variance() decimal.Decimal {
	return l.SumCredits().Sub(l.SumDebits())
}

// Balanced reports whether the ledger reconciles within the monetary
// tolerance.
func (l *SettlementLedger) Balanced() bool {
	return money.IsZero(l.Variance())
}

// EventsFor returns the events tied to an invoice, in append order.
func (l *SettlementLedger) EventsFor(invoiceID string) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Event
	for _, e := range l.events {
		if e.InvoiceID == invoiceID {
			out = append(out, e)
		}
	}
	return out
}

// Events returns a copy of the full log.
func (l *SettlementLedger) Events() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// SettlementCount is the number of registered settlements.
func (l *SettlementLedger) SettlementCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.settlements)
}
