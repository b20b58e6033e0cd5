package fraud

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/instanttrade/itnd/internal/clock"
	"github.com/instanttrade/itnd/internal/core/invoice"
)

// fixedSource pins math/rand output. 1<<62 yields Float64()==0.5 so the
// geographic mock never fires; 0 yields 0.0 so it always fires.
type fixedSource struct{ v int64 }

func (s fixedSource) Int63() int64 { return s.v }
func (s fixedSource) Seed(int64)   {}

type stubHistory struct{ h History }

func (s stubHistory) HistoryFor(supplierID, buyerID string) History { return s.h }

func newEngine(h History, src rand.Source) (*Engine, *clock.Fake) {
	clk := clock.NewFake(time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC))
	return NewEngine(stubHistory{h}, clk, rand.New(src)), clk
}

func TestClassifyBands(t *testing.T) {
	cases := []struct {
		score  float64
		class  Classification
		action Action
	}{
		{0.0, ClassLow, ActionApprove},
		{0.24, ClassLow, ActionApprove},
		{0.25, ClassMedium, ActionReview},
		{0.49, ClassMedium, ActionReview},
		{0.50, ClassHigh, ActionReview},
		{0.74, ClassHigh, ActionReview},
		{0.75, ClassCritical, ActionReject},
		{1.0, ClassCritical, ActionReject},
	}
	for _, tc := range cases {
		class, action := Classify(tc.score)
		assert.Equal(t, tc.class, class, "score %.2f", tc.score)
		assert.Equal(t, tc.action, action, "score %.2f", tc.score)
	}
}

func TestEvaluateBenignInvoice(t *testing.T) {
	eng, clk := newEngine(History{
		SupplierAvgAmount:        decimal.NewFromInt(50_000),
		SupplierInvoicesLastHour: 1,
		SupplierInvoicesLastDay:  3,
		RelationshipInvoiceCount: 12,
	}, fixedSource{1 << 62})

	score := eng.Evaluate(&invoice.Invoice{
		ID: "INV-1", SupplierID: "SUP-001", BuyerID: "BUY-001",
		Amount:    decimal.NewFromFloat(48_371.25),
		LineItems: []invoice.LineItem{{Description: "Widgets", Quantity: 1, UnitPrice: decimal.NewFromFloat(48_371.25)}},
		CreatedAt: clk.Now(),
	})

	assert.Zero(t, score.Score)
	assert.Equal(t, ClassLow, score.Classification)
	assert.Equal(t, ActionApprove, score.Action)
	assert.Empty(t, score.Triggered())
	assert.Len(t, score.Signals, 8)

	cached, ok := eng.ScoreFor("INV-1")
	require.True(t, ok)
	assert.Equal(t, score, cached)
}

func TestEvaluateRejectsStackedSignals(t *testing.T) {
	eng, _ := newEngine(History{
		SupplierAvgAmount:        decimal.NewFromInt(1000),
		SupplierInvoicesLastHour: 20, // velocity at full confidence
		RelationshipInvoiceCount: 0,
	}, fixedSource{0}) // geographic mismatch fires

	inv := &invoice.Invoice{
		ID: "INV-1", SupplierID: "SUP-001", BuyerID: "BUY-001",
		Amount:    decimal.NewFromInt(10_000), // round, and 10x the average
		LineItems: []invoice.LineItem{{Description: "Widgets", Quantity: 1, UnitPrice: decimal.NewFromInt(10_000)}},
		CreatedAt: time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC), // off hours
	}
	eng.RecordPattern(PatternHash(inv.SupplierID, inv.BuyerID, inv.Amount, len(inv.LineItems)))

	score := eng.Evaluate(inv)

	// 0.25 velocity + 0.075 new relationship + 0.20 unusual amount
	// + 0.03 off hours + 0.015 round amount + 0.15 duplicate pattern
	// + 0.07 geographic = 0.79
	assert.InDelta(t, 0.79, score.Score, 0.001)
	assert.Equal(t, ClassCritical, score.Classification)
	assert.Equal(t, ActionReject, score.Action)
	assert.Len(t, score.Triggered(), 7)
}

func TestEvaluateUnusualAmountLowSide(t *testing.T) {
	eng, _ := newEngine(History{
		SupplierAvgAmount:        decimal.NewFromInt(100_000),
		RelationshipInvoiceCount: 5,
	}, fixedSource{1 << 62})

	score := eng.Evaluate(&invoice.Invoice{
		ID: "INV-1", SupplierID: "SUP-001", BuyerID: "BUY-001",
		Amount:    decimal.NewFromInt(500), // 0.005x the average
		CreatedAt: time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC),
	})

	var unusual Signal
	for _, s := range score.Signals {
		if s.Name == SignalUnusualAmount {
			unusual = s
		}
	}
	assert.True(t, unusual.Triggered)
	assert.InDelta(t, 0.95, unusual.Confidence, 0.001)
}

func TestScoreFreshness(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	s := &Score{CalculatedAt: now}
	assert.True(t, s.Fresh(now.Add(23*time.Hour)))
	assert.False(t, s.Fresh(now.Add(ScoreMaxAge)))
}

func TestPatternHash(t *testing.T) {
	a := PatternHash("SUP-001", "BUY-001", decimal.NewFromInt(10_000), 3)
	b := PatternHash("SUP-001", "BUY-001", decimal.NewFromInt(10_000), 3)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, PatternHash("SUP-001", "BUY-001", decimal.NewFromInt(10_000), 4))
	// Amount comparison is at cent precision.
	assert.Equal(t, a, PatternHash("SUP-001", "BUY-001", decimal.NewFromFloat(10_000.00), 3))
}

func TestWeightsSumToOne(t *testing.T) {
	total := 0.0
	for _, w := range Weights {
		total += w
	}
	assert.InDelta(t, 1.0, total, 1e-9)
}
