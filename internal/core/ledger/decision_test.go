package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/instanttrade/itnd/internal/core/invariant"
)

func fixedNow() func() time.Time {
	base := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	n := 0
	return func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

func TestDecisionLedgerRecordAndVerify(t *testing.T) {
	l := NewDecisionLedger([]byte("secret"), fixedNow())

	e1 := l.Record("001", invariant.PhasePre, true, ActionProceed, "unique", nil)
	e2 := l.Record("004", invariant.PhasePre, false, ActionFreeze, "duplicate", map[string]any{"invoice_id": "INV-1"})

	assert.Equal(t, uint64(0), e1.Seq)
	assert.Equal(t, uint64(1), e2.Seq)
	assert.NotEmpty(t, e1.Signature)
	assert.True(t, e2.Timestamp.After(e1.Timestamp))
	assert.True(t, l.VerifyChainIntegrity())

	passed, failed := l.Counts()
	assert.Equal(t, 1, passed)
	assert.Equal(t, 1, failed)

	state, ok := l.LastGoodState()
	require.True(t, ok)
	assert.Nil(t, state["invoice_id"])
}

func TestDecisionLedgerDetectsTampering(t *testing.T) {
	l := NewDecisionLedger([]byte("secret"), fixedNow())
	l.Record("001", invariant.PhasePre, true, ActionProceed, "ok", nil)
	l.Record("002", invariant.PhasePre, true, ActionProceed, "ok", nil)
	require.True(t, l.VerifyChainIntegrity())

	l.tamper(1)
	assert.False(t, l.VerifyChainIntegrity())
}

func TestDecisionLedgerMonotonicTimestamps(t *testing.T) {
	base := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	times := []time.Time{base.Add(2 * time.Second), base}
	i := 0
	l := NewDecisionLedger([]byte("secret"), func() time.Time {
		ts := times[i%len(times)]
		i++
		return ts
	})

	e1 := l.Record("001", invariant.PhasePre, true, ActionProceed, "", nil)
	e2 := l.Record("002", invariant.PhasePre, true, ActionProceed, "", nil)
	// The clock went backwards; the ledger pins to the previous entry.
	assert.Equal(t, e1.Timestamp, e2.Timestamp)
	assert.True(t, l.VerifyChainIntegrity())
}

func TestSettlementLedgerReconciles(t *testing.T) {
	l := NewSettlementLedger()
	at := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	amount := decimal.NewFromInt(50_000)

	l.Append(Event{ID: "EVT-1", SettlementID: "SET-1", InvoiceID: "INV-1",
		Account: "SUP-001", Direction: DirCredit, Kind: KindLeg, Amount: amount, At: at})
	assert.False(t, l.Balanced())

	l.Append(Event{ID: "EVT-2", SettlementID: "SET-1", InvoiceID: "INV-1",
		Account: "CAP-001", Direction: DirDebit, Kind: KindLeg, Amount: amount, At: at})
	assert.True(t, l.Balanced())
	assert.True(t, l.Variance().IsZero())

	assert.Len(t, l.EventsFor("INV-1"), 2)
	assert.Empty(t, l.EventsFor("INV-2"))
}

func TestSettlementLedgerCorrectionsNetToZero(t *testing.T) {
	l := NewSettlementLedger()
	at := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	amount := decimal.NewFromInt(50_000)

	// A failed leg is never rewritten; the reversal enters as a
	// CORRECTION pair with opposite directions.
	l.Append(Event{ID: "EVT-1", InvoiceID: "INV-1", Account: "SUP-001",
		Direction: DirCredit, Kind: KindLeg, Amount: amount, At: at})
	l.Append(Event{ID: "EVT-2", InvoiceID: "INV-1", Account: "CAP-001",
		Direction: DirDebit, Kind: KindLeg, Amount: amount, At: at})
	l.Append(Event{ID: "EVT-3", InvoiceID: "INV-1", Account: "CAP-001",
		Direction: DirCredit, Kind: KindCorrection, Amount: amount, At: at})
	l.Append(Event{ID: "EVT-4", InvoiceID: "INV-1", Account: "SUP-001",
		Direction: DirDebit, Kind: KindCorrection, Amount: amount, At: at})

	assert.True(t, l.Balanced())
	assert.Len(t, l.Events(), 4)
}

func TestSettlementLedgerExactlyOnceRegistration(t *testing.T) {
	l := NewSettlementLedger()
	require.True(t, l.RegisterSettlement("INV-1", "SET-1"))
	assert.False(t, l.RegisterSettlement("INV-1", "SET-2"))

	id, ok := l.SettlementFor("INV-1")
	require.True(t, ok)
	assert.Equal(t, "SET-1", id)
	assert.Equal(t, 1, l.SettlementCount())

	l.UnregisterSettlement("INV-1")
	_, ok = l.SettlementFor("INV-1")
	assert.False(t, ok)
	assert.True(t, l.RegisterSettlement("INV-1", "SET-3"))
}
