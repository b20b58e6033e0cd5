// Package alerts carries operational alerts (liquidity shortfalls,
// system freezes, sanctions hits) from the core to whoever is
// listening: the log, the metrics surface, websocket subscribers.
package alerts

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

type Code string

const (
	CodeLowLiquidity      Code = "LOW_LIQUIDITY"
	CodeSystemFrozen      Code = "SYSTEM_FROZEN"
	CodeDegradedService   Code = "DEGRADED_SERVICE"
	CodeSanctionsHit      Code = "SANCTIONS_HIT"
	CodeOverchargeRefund  Code = "OVERCHARGE_REFUNDED"
	CodeInvariantViolated Code = "INVARIANT_VIOLATED"
)

// Alert is a single operational event.
type Alert struct {
	ID        string    `json:"id"`
	Severity  Severity  `json:"severity"`
	Code      Code      `json:"code"`
	Message   string    `json:"message"`
	InvoiceID string    `json:"invoice_id,omitempty"`
	At        time.Time `json:"at"`
}

// Sink receives published alerts. Publish must not block.
type Sink interface {
	Publish(Alert)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Alert)

func (f SinkFunc) Publish(a Alert) { f(a) }

// Bus fans alerts out to every registered sink and the log.
type Bus struct {
	mu    sync.RWMutex
	sinks []Sink
	log   *zap.Logger
	now   func() time.Time
}

func NewBus(log *zap.Logger) *Bus {
	return &Bus{log: log.Named("alerts"), now: time.Now}
}

// WithNow overrides the timestamp source, for tests.
func (b *Bus) WithNow(now func() time.Time) *Bus {
	b.now = now
	return b
}

func (b *Bus) Subscribe(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Emit builds and publishes an alert, returning it for the caller's
// records.
func (b *Bus) Emit(sev Severity, code Code, msg, invoiceID string) Alert {
	a := Alert{
		ID:        "ALT-" + uuid.NewString(),
		Severity:  sev,
		Code:      code,
		Message:   msg,
		InvoiceID: invoiceID,
		At:        b.now(),
	}
	b.log.Warn("alert",
		zap.String("code", string(code)),
		zap.String("severity", string(sev)),
		zap.String("invoice_id", invoiceID),
		zap.String("message", msg),
	)
	b.mu.RLock()
	sinks := make([]Sink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.RUnlock()
	for _, s := range sinks {
		s.Publish(a)
	}
	return a
}
