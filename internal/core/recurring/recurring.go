// Package recurring generates invoices from recurring templates on a
// logical schedule.
package recurring

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/instanttrade/itnd/internal/clock"
)

type Frequency string

const (
	Weekly    Frequency = "WEEKLY"
	Monthly   Frequency = "MONTHLY"
	Quarterly Frequency = "QUARTERLY"
	Annually  Frequency = "ANNUALLY"
)

// Interval is the spacing between occurrences.
func (f Frequency) Interval() time.Duration {
	switch f {
	case Weekly:
		return 7 * 24 * time.Hour
	case Monthly:
		return 30 * 24 * time.Hour
	case Quarterly:
		return 90 * 24 * time.Hour
	default:
		return 365 * 24 * time.Hour
	}
}

type TemplateStatus string

const (
	TemplateActive    TemplateStatus = "ACTIVE"
	TemplatePaused    TemplateStatus = "PAUSED"
	TemplateCompleted TemplateStatus = "COMPLETED"
	TemplateCancelled TemplateStatus = "CANCELLED"
)

type Template struct {
	ID         string          `json:"id"`
	SupplierID string          `json:"supplier_id"`
	BuyerID    string          `json:"buyer_id"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Terms      int             `json:"terms"`
	Frequency  Frequency       `json:"frequency"`

	StartDate      time.Time  `json:"start_date"`
	EndDate        *time.Time `json:"end_date,omitempty"`
	MaxOccurrences int        `json:"max_occurrences,omitempty"` // zero means unlimited

	OccurrencesCreated int        `json:"occurrences_created"`
	LastOccurrenceDate *time.Time `json:"last_occurrence_date,omitempty"`
	Status             TemplateStatus `json:"status"`
}

// NextDue is the start date until the first occurrence, then the last
// occurrence plus the frequency interval.
func (t *Template) NextDue() time.Time {
	if t.LastOccurrenceDate == nil {
		return t.StartDate
	}
	return t.LastOccurrenceDate.Add(t.Frequency.Interval())
}

// ShouldGenerate reports whether an occurrence is due at the instant.
func (t *Template) ShouldGenerate(now time.Time) bool {
	if t.Status != TemplateActive {
		return false
	}
	if t.EndDate != nil && now.After(*t.EndDate) {
		return false
	}
	if t.MaxOccurrences > 0 && t.OccurrencesCreated >= t.MaxOccurrences {
		return false
	}
	return !now.Before(t.NextDue())
}

// CreateFunc materializes one occurrence as a real invoice. The
// occurrence id is pre-minted by the generator.
type CreateFunc func(ctx context.Context, t *Template, occurrenceID string, now time.Time) error

// Generator owns the templates and drives occurrence creation.
type Generator struct {
	mu        sync.Mutex
	templates map[string]*Template
	clk       clock.Clock
	create    CreateFunc
	log       *zap.Logger
}

func NewGenerator(clk clock.Clock, create CreateFunc, log *zap.Logger) *Generator {
	return &Generator{
		templates: make(map[string]*Template),
		clk:       clk,
		create:    create,
		log:       log.Named("recurring"),
	}
}

func (g *Generator) Add(t *Template) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.templates[t.ID] = t
}

func (g *Generator) Get(id string) (*Template, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.templates[id]
	return t, ok
}

// GenerateDue creates an occurrence for every due template and returns
// the minted occurrence ids. Templates are visited in id order.
func (g *Generator) GenerateDue(ctx context.Context) []string {
	now := g.clk.Now()

	g.mu.Lock()
	ids := make([]string, 0, len(g.templates))
	for id := range g.templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	g.mu.Unlock()

	var created []string
	for _, id := range ids {
		t, ok := g.Get(id)
		if !ok || !t.ShouldGenerate(now) {
			continue
		}
		occID := fmt.Sprintf("%s-OCC-%03d", t.ID, t.OccurrencesCreated+1)
		if err := g.create(ctx, t, occID, now); err != nil {
			g.log.Warn("occurrence creation failed",
				zap.String("template_id", t.ID),
				zap.String("occurrence_id", occID),
				zap.Error(err))
			continue
		}
		g.mu.Lock()
		t.OccurrencesCreated++
		last := now
		t.LastOccurrenceDate = &last
		if t.MaxOccurrences > 0 && t.OccurrencesCreated >= t.MaxOccurrences {
			t.Status = TemplateCompleted
		}
		g.mu.Unlock()
		created = append(created, occID)
	}
	return created
}

// Run ticks the generator until the context ends.
func (g *Generator) Run(ctx context.Context, interval time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-g.clk.After(interval):
			g.GenerateDue(ctx)
		}
	}
}
