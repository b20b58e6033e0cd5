// Package sysmode tracks the process-wide operating mode. Aggregate
// invariants flip the machine between NORMAL, DEGRADED_SERVICE and
// FROZEN; the enforcement kernel rejects new work outside NORMAL.
package sysmode

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/instanttrade/itnd/internal/alerts"
)

type Mode int

const (
	Normal Mode = iota
	DegradedService
	Frozen
)

func (m Mode) String() string {
	switch m {
	case Normal:
		return "NORMAL"
	case DegradedService:
		return "DEGRADED_SERVICE"
	case Frozen:
		return "FROZEN"
	default:
		return "UNKNOWN"
	}
}

// Machine is the mode state machine. FROZEN can only be left by an
// operator calling Restore after an audit.
type Machine struct {
	mu        sync.RWMutex
	mode      Mode
	reason    string
	changedAt time.Time

	bus *alerts.Bus
	log *zap.Logger
	now func() time.Time
}

func NewMachine(bus *alerts.Bus, log *zap.Logger, now func() time.Time) *Machine {
	if now == nil {
		now = time.Now
	}
	return &Machine{bus: bus, log: log.Named("sysmode"), now: now}
}

func (m *Machine) Mode() Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

// Reason returns the cause of the last mode change.
func (m *Machine) Reason() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reason
}

// Freeze halts the system. Repeated freezes keep the first reason.
func (m *Machine) Freeze(reason string) {
	m.mu.Lock()
	if m.mode == Frozen {
		m.mu.Unlock()
		return
	}
	m.mode = Frozen
	m.reason = reason
	m.changedAt = m.now()
	m.mu.Unlock()

	m.log.Error("system frozen", zap.String("reason", reason))
	if m.bus != nil {
		m.bus.Emit(alerts.SeverityCritical, alerts.CodeSystemFrozen, reason, "")
	}
}

// Degrade moves NORMAL to DEGRADED_SERVICE. A frozen system stays
// frozen.
func (m *Machine) Degrade(reason string) {
	m.mu.Lock()
	if m.mode != Normal {
		m.mu.Unlock()
		return
	}
	m.mode = DegradedService
	m.reason = reason
	m.changedAt = m.now()
	m.mu.Unlock()

	m.log.Warn("system degraded", zap.String("reason", reason))
	if m.bus != nil {
		m.bus.Emit(alerts.SeverityWarning, alerts.CodeDegradedService, reason, "")
	}
}

// Restore returns the system to NORMAL. Intended for operator use
// after the audit that a freeze requires.
func (m *Machine) Restore() {
	m.mu.Lock()
	m.mode = Normal
	m.reason = ""
	m.changedAt = m.now()
	m.mu.Unlock()
	m.log.Info("system restored to normal mode")
}

// Accepting reports whether new work may enter the system.
func (m *Machine) Accepting() bool {
	return m.Mode() == Normal
}
