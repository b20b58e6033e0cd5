package sysmode

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/instanttrade/itnd/internal/alerts"
)

type alertLog struct {
	mu   sync.Mutex
	seen []alerts.Alert
}

func (l *alertLog) Publish(a alerts.Alert) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen = append(l.seen, a)
}

func (l *alertLog) codes() []alerts.Code {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]alerts.Code, len(l.seen))
	for i, a := range l.seen {
		out[i] = a.Code
	}
	return out
}

func newMachine() (*Machine, *alertLog) {
	captured := &alertLog{}
	bus := alerts.NewBus(zap.NewNop())
	bus.Subscribe(captured)
	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	return NewMachine(bus, zap.NewNop(), func() time.Time { return now }), captured
}

func TestFreezeKeepsFirstReason(t *testing.T) {
	m, captured := newMachine()
	assert.Equal(t, Normal, m.Mode())
	assert.True(t, m.Accepting())

	m.Freeze("ledger chain integrity failure")
	assert.Equal(t, Frozen, m.Mode())
	assert.False(t, m.Accepting())
	assert.Equal(t, "ledger chain integrity failure", m.Reason())

	m.Freeze("second failure")
	assert.Equal(t, "ledger chain integrity failure", m.Reason())
	assert.Equal(t, []alerts.Code{alerts.CodeSystemFrozen}, captured.codes(), "repeat freeze must not re-alert")
}

func TestDegradeOnlyFromNormal(t *testing.T) {
	m, captured := newMachine()

	m.Degrade("settlement success rate below threshold")
	assert.Equal(t, DegradedService, m.Mode())
	assert.False(t, m.Accepting())

	m.Degrade("another reason")
	assert.Equal(t, "settlement success rate below threshold", m.Reason())

	m.Freeze("compromised")
	assert.Equal(t, Frozen, m.Mode())
	m.Degrade("late degrade")
	assert.Equal(t, Frozen, m.Mode(), "frozen wins over degraded")

	assert.Equal(t, []alerts.Code{alerts.CodeDegradedService, alerts.CodeSystemFrozen}, captured.codes())
}

func TestRestore(t *testing.T) {
	m, _ := newMachine()
	m.Freeze("audit finding")
	m.Restore()
	assert.Equal(t, Normal, m.Mode())
	assert.Empty(t, m.Reason())
	assert.True(t, m.Accepting())
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "NORMAL", Normal.String())
	assert.Equal(t, "DEGRADED_SERVICE", DegradedService.String())
	assert.Equal(t, "FROZEN", Frozen.String())
	assert.Equal(t, "UNKNOWN", Mode(42).String())
}
