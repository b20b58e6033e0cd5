package settlement

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestBuyerCostFor(t *testing.T) {
	got := BuyerCostFor(decimal.NewFromInt(50_000), decimal.NewFromFloat(0.04))
	assert.Equal(t, "52000.00", got.StringFixed(2))

	// Prorated rate for 30-day terms: 0.05 * 30/365.
	rate := decimal.NewFromFloat(0.05).Mul(decimal.NewFromInt(30)).Div(decimal.NewFromInt(365))
	got = BuyerCostFor(decimal.NewFromInt(50_000), rate)
	assert.Equal(t, "50205.48", got.StringFixed(2))

	got = BuyerCostFor(decimal.NewFromInt(50_000), decimal.Zero)
	assert.Equal(t, "50000.00", got.StringFixed(2))
}

func TestDuration(t *testing.T) {
	start := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	s := &Settlement{StartedAt: start}
	assert.Zero(t, s.Duration(), "incomplete settlement has no duration")

	s.CompletedAt = start.Add(800 * time.Millisecond)
	assert.Equal(t, 800*time.Millisecond, s.Duration())
}

func TestLegsComplete(t *testing.T) {
	s := &Settlement{
		SupplierCredit: &Leg{Account: "SUP-001"},
		BuyerDebit:     &Leg{Account: "BUY-001"},
	}
	assert.False(t, s.LegsComplete())
	s.CapitalAdvance = &Leg{Account: "CAP-001"}
	assert.True(t, s.LegsComplete())
}

func TestStatsSuccessRate(t *testing.T) {
	stats := NewStats()
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	assert.Equal(t, 1.0, stats.SuccessRate(now, time.Hour), "no data reads as healthy")

	stats.RecordSuccess(now.Add(-2 * time.Hour)) // outside the window
	stats.RecordSuccess(now.Add(-30 * time.Minute))
	stats.RecordSuccess(now.Add(-20 * time.Minute))
	stats.RecordFailure(now.Add(-10 * time.Minute))

	assert.InDelta(t, 2.0/3.0, stats.SuccessRate(now, time.Hour), 1e-9)
	assert.InDelta(t, 0.75, stats.SuccessRate(now, 3*time.Hour), 1e-9)
}
