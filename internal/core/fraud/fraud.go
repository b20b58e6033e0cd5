// Package fraud scores invoices with a weighted multi-signal model and
// enforces the rejection threshold.
package fraud

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/instanttrade/itnd/internal/clock"
	"github.com/instanttrade/itnd/internal/core/invoice"
)

// Threshold at or above which an invoice is rejected outright.
const Threshold = 0.75

// ScoreMaxAge is the freshness window for a calculated score.
const ScoreMaxAge = 24 * time.Hour

// Signal names.
const (
	SignalVelocitySpike      = "velocity_spike"
	SignalNewRelationship    = "new_relationship"
	SignalUnusualAmount      = "unusual_amount"
	SignalOffHours           = "off_hours"
	SignalRoundAmount        = "round_amount"
	SignalDuplicatePattern   = "duplicate_pattern"
	SignalGeographicMismatch = "geographic_mismatch"
	SignalRapidAcceptance    = "rapid_acceptance"
)

// Weights sum to 1.0.
var Weights = map[string]float64{
	SignalVelocitySpike:      0.25,
	SignalNewRelationship:    0.15,
	SignalUnusualAmount:      0.20,
	SignalOffHours:           0.05,
	SignalRoundAmount:        0.05,
	SignalDuplicatePattern:   0.15,
	SignalGeographicMismatch: 0.10,
	SignalRapidAcceptance:    0.05,
}

type Signal struct {
	Name       string  `json:"name"`
	Weight     float64 `json:"weight"`
	Triggered  bool    `json:"triggered"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Contribution is weight * confidence when triggered, else zero.
func (s Signal) Contribution() float64 {
	if !s.Triggered {
		return 0
	}
	return s.Weight * s.Confidence
}

type Classification string

const (
	ClassLow      Classification = "LOW"
	ClassMedium   Classification = "MEDIUM"
	ClassHigh     Classification = "HIGH"
	ClassCritical Classification = "CRITICAL"
)

type Action string

const (
	ActionApprove Action = "APPROVE"
	ActionReview  Action = "REVIEW"
	ActionReject  Action = "REJECT"
)

// Classify maps a total score onto its band.
func Classify(score float64) (Classification, Action) {
	switch {
	case score < 0.25:
		return ClassLow, ActionApprove
	case score < 0.50:
		return ClassMedium, ActionReview
	case score < 0.75:
		return ClassHigh, ActionReview
	default:
		return ClassCritical, ActionReject
	}
}

type Score struct {
	InvoiceID    string    `json:"invoice_id"`
	Score        float64   `json:"score"`
	Signals      []Signal  `json:"signals"`
	CalculatedAt time.Time `json:"calculated_at"`

	Classification Classification `json:"classification"`
	Action         Action         `json:"action"`
}

// Fresh reports whether the score is inside its freshness window.
func (s *Score) Fresh(now time.Time) bool {
	return now.Sub(s.CalculatedAt) < ScoreMaxAge
}

// Triggered returns only the signals that fired.
func (s *Score) Triggered() []Signal {
	var out []Signal
	for _, sig := range s.Signals {
		if sig.Triggered {
			out = append(out, sig)
		}
	}
	return out
}

// History supplies the behavioral inputs to the signals.
type History struct {
	SupplierAvgAmount        decimal.Decimal
	SupplierInvoicesLastHour int
	SupplierInvoicesLastDay  int
	RelationshipInvoiceCount int
}

// HistorySource resolves history for a supplier/buyer pair.
type HistorySource interface {
	HistoryFor(supplierID, buyerID string) History
}

// Engine evaluates invoices and retains the latest score per invoice.
type Engine struct {
	source   HistorySource
	clk      clock.Clock
	rng      *rand.Rand
	patterns map[string]bool // known fraud pattern hashes

	mu     sync.RWMutex
	scores map[string]*Score
}

// NewEngine builds the engine. The rng drives the geographic mismatch
// mock; inject a seeded source for deterministic tests.
func NewEngine(source HistorySource, clk clock.Clock, rng *rand.Rand) *Engine {
	return &Engine{
		source:   source,
		clk:      clk,
		rng:      rng,
		patterns: make(map[string]bool),
		scores:   make(map[string]*Score),
	}
}

// PatternHash is the duplicate-pattern fingerprint:
// MD5 over supplier:buyer:amount:lineItemCount.
func PatternHash(supplierID, buyerID string, amount decimal.Decimal, lineItemCount int) string {
	payload := fmt.Sprintf("%s:%s:%s:%d", supplierID, buyerID, amount.StringFixed(2), lineItemCount)
	sum := md5.Sum([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// RecordPattern adds a hash to the known fraud set.
func (e *Engine) RecordPattern(hash string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.patterns[hash] = true
}

// ScoreFor returns the latest score for an invoice.
func (e *Engine) ScoreFor(invoiceID string) (*Score, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.scores[invoiceID]
	return s, ok
}

// Evaluate scores an invoice at creation time.
func (e *Engine) Evaluate(inv *invoice.Invoice) *Score {
	hist := e.source.HistoryFor(inv.SupplierID, inv.BuyerID)
	amount, _ := inv.Amount.Float64()

	signals := []Signal{
		e.checkVelocity(hist),
		checkNewRelationship(hist),
		checkUnusualAmount(amount, hist),
		checkOffHours(inv.CreatedAt),
		checkRoundAmount(amount),
		e.checkDuplicatePattern(inv),
		e.checkGeographicMismatch(),
		// Rapid acceptance is only measurable at acceptance time.
		{Name: SignalRapidAcceptance, Weight: Weights[SignalRapidAcceptance], Reason: "not yet accepted"},
	}

	total := 0.0
	for _, s := range signals {
		total += s.Contribution()
	}
	if total > 1 {
		total = 1
	}

	class, action := Classify(total)
	score := &Score{
		InvoiceID:      inv.ID,
		Score:          total,
		Signals:        signals,
		CalculatedAt:   e.clk.Now(),
		Classification: class,
		Action:         action,
	}

	e.mu.Lock()
	e.scores[inv.ID] = score
	e.mu.Unlock()
	return score
}

func (e *Engine) checkVelocity(h History) Signal {
	s := Signal{Name: SignalVelocitySpike, Weight: Weights[SignalVelocitySpike], Reason: "normal velocity"}
	switch {
	case h.SupplierInvoicesLastHour > 10:
		s.Triggered = true
		s.Confidence = min(1, float64(h.SupplierInvoicesLastHour)/20)
		s.Reason = fmt.Sprintf("%d invoices in the last hour", h.SupplierInvoicesLastHour)
	case h.SupplierInvoicesLastDay > 50:
		s.Triggered = true
		s.Confidence = min(1, float64(h.SupplierInvoicesLastDay)/100)
		s.Reason = fmt.Sprintf("%d invoices in the last day", h.SupplierInvoicesLastDay)
	}
	return s
}

func checkNewRelationship(h History) Signal {
	s := Signal{Name: SignalNewRelationship, Weight: Weights[SignalNewRelationship], Reason: "established relationship"}
	if h.RelationshipInvoiceCount == 0 {
		s.Triggered = true
		s.Confidence = 0.5
		s.Reason = "first transaction between these parties"
	}
	return s
}

func checkUnusualAmount(amount float64, h History) Signal {
	s := Signal{Name: SignalUnusualAmount, Weight: Weights[SignalUnusualAmount], Reason: "amount within normal range"}
	avg, _ := h.SupplierAvgAmount.Float64()
	if avg == 0 {
		s.Reason = "no history to compare"
		return s
	}
	ratio := amount / avg
	switch {
	case ratio > 3:
		s.Triggered = true
		s.Confidence = min(1, (ratio-3)/7) // max confidence at 10x
		s.Reason = fmt.Sprintf("amount is %.1fx the supplier average", ratio)
	case ratio < 0.1:
		s.Triggered = true
		s.Confidence = min(1, (0.1-ratio)*10)
		s.Reason = fmt.Sprintf("amount is %.1fx lower than the supplier average", 1/ratio)
	}
	return s
}

func checkOffHours(createdAt time.Time) Signal {
	s := Signal{Name: SignalOffHours, Weight: Weights[SignalOffHours], Reason: "normal business hours"}
	if h := createdAt.Hour(); h >= 2 && h < 5 {
		s.Triggered = true
		s.Confidence = 0.6
		s.Reason = fmt.Sprintf("created at %02d:00", h)
	}
	return s
}

func checkRoundAmount(amount float64) Signal {
	s := Signal{Name: SignalRoundAmount, Weight: Weights[SignalRoundAmount], Reason: "non-round amount"}
	if amount >= 10000 && int64(amount)%10000 == 0 && amount == float64(int64(amount)) {
		s.Triggered = true
		s.Confidence = 0.3
		s.Reason = "suspiciously round amount"
	}
	return s
}

func (e *Engine) checkDuplicatePattern(inv *invoice.Invoice) Signal {
	s := Signal{Name: SignalDuplicatePattern, Weight: Weights[SignalDuplicatePattern], Reason: "no match to known fraud"}
	hash := PatternHash(inv.SupplierID, inv.BuyerID, inv.Amount, len(inv.LineItems))
	e.mu.RLock()
	known := e.patterns[hash]
	e.mu.RUnlock()
	if known {
		s.Triggered = true
		s.Confidence = 1
		s.Reason = "matches known fraud pattern"
	}
	return s
}

func (e *Engine) checkGeographicMismatch() Signal {
	s := Signal{Name: SignalGeographicMismatch, Weight: Weights[SignalGeographicMismatch], Reason: "normal geography"}
	// Mock geography source: 10% mismatch probability.
	if e.rng != nil && e.rng.Float64() < 0.10 {
		s.Triggered = true
		s.Confidence = 0.7
		s.Reason = "geographic mismatch detected"
	}
	return s
}
