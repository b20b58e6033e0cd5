package recurring

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/instanttrade/itnd/internal/clock"
)

func activeTemplate(id string, start time.Time, freq Frequency) *Template {
	return &Template{
		ID:         id,
		SupplierID: "SUP-001",
		BuyerID:    "BUY-001",
		Amount:     decimal.NewFromInt(10_000),
		Currency:   "USD",
		Terms:      30,
		Frequency:  freq,
		StartDate:  start,
		Status:     TemplateActive,
	}
}

func TestShouldGenerate(t *testing.T) {
	start := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	tpl := activeTemplate("TPL-1", start, Monthly)

	assert.False(t, tpl.ShouldGenerate(start.Add(-time.Second)), "before start date")
	assert.True(t, tpl.ShouldGenerate(start), "due at the start instant")

	last := start
	tpl.LastOccurrenceDate = &last
	tpl.OccurrencesCreated = 1
	assert.False(t, tpl.ShouldGenerate(start.Add(29*24*time.Hour)))
	assert.True(t, tpl.ShouldGenerate(start.Add(30*24*time.Hour)))

	tpl.Status = TemplatePaused
	assert.False(t, tpl.ShouldGenerate(start.Add(60*24*time.Hour)))
	tpl.Status = TemplateActive

	end := start.Add(15 * 24 * time.Hour)
	tpl.EndDate = &end
	assert.False(t, tpl.ShouldGenerate(start.Add(30*24*time.Hour)), "past end date")
	tpl.EndDate = nil

	tpl.MaxOccurrences = 1
	assert.False(t, tpl.ShouldGenerate(start.Add(30*24*time.Hour)), "occurrence cap reached")
}

func TestGenerateDue(t *testing.T) {
	start := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	clk := clock.NewFake(start)

	var mu sync.Mutex
	var createdIDs []string
	gen := NewGenerator(clk, func(ctx context.Context, tpl *Template, occurrenceID string, now time.Time) error {
		mu.Lock()
		defer mu.Unlock()
		createdIDs = append(createdIDs, occurrenceID)
		return nil
	}, zap.NewNop())

	gen.Add(activeTemplate("TPL-2", start, Weekly))
	gen.Add(activeTemplate("TPL-1", start, Weekly))
	gen.Add(activeTemplate("TPL-3", start.Add(time.Hour), Weekly)) // not yet due

	ids := gen.GenerateDue(context.Background())
	assert.Equal(t, []string{"TPL-1-OCC-001", "TPL-2-OCC-001"}, ids, "templates visited in id order")
	assert.Equal(t, ids, createdIDs)

	// Nothing due until a full interval passes.
	assert.Empty(t, gen.GenerateDue(context.Background()))

	clk.Advance(7 * 24 * time.Hour)
	ids = gen.GenerateDue(context.Background())
	assert.Contains(t, ids, "TPL-1-OCC-002")
	assert.Contains(t, ids, "TPL-3-OCC-001")

	tpl, ok := gen.Get("TPL-1")
	require.True(t, ok)
	assert.Equal(t, 2, tpl.OccurrencesCreated)
	assert.Equal(t, clk.Now(), *tpl.LastOccurrenceDate)
}

func TestGenerateDueCompletesAtCap(t *testing.T) {
	start := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	clk := clock.NewFake(start)

	gen := NewGenerator(clk, func(ctx context.Context, tpl *Template, occurrenceID string, now time.Time) error {
		return nil
	}, zap.NewNop())

	tpl := activeTemplate("TPL-1", start, Weekly)
	tpl.MaxOccurrences = 1
	gen.Add(tpl)

	require.Len(t, gen.GenerateDue(context.Background()), 1)
	assert.Equal(t, TemplateCompleted, tpl.Status)
	clk.Advance(7 * 24 * time.Hour)
	assert.Empty(t, gen.GenerateDue(context.Background()))
}

func TestGenerateDueSkipsFailedCreate(t *testing.T) {
	start := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	clk := clock.NewFake(start)

	calls := 0
	gen := NewGenerator(clk, func(ctx context.Context, tpl *Template, occurrenceID string, now time.Time) error {
		calls++
		if calls == 1 {
			return errors.New("buyer suspended")
		}
		return nil
	}, zap.NewNop())
	gen.Add(activeTemplate("TPL-1", start, Weekly))

	assert.Empty(t, gen.GenerateDue(context.Background()))
	tpl, _ := gen.Get("TPL-1")
	assert.Zero(t, tpl.OccurrencesCreated, "failed creation leaves the template untouched")

	// The occurrence id is re-minted on the retry.
	ids := gen.GenerateDue(context.Background())
	assert.Equal(t, []string{"TPL-1-OCC-001"}, ids)
}

func TestFrequencyInterval(t *testing.T) {
	assert.Equal(t, 7*24*time.Hour, Weekly.Interval())
	assert.Equal(t, 30*24*time.Hour, Monthly.Interval())
	assert.Equal(t, 90*24*time.Hour, Quarterly.Interval())
	assert.Equal(t, 365*24*time.Hour, Annually.Interval())
}
