package version

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Record is one migration log entry.
type Record struct {
	MigrationID string          `json:"migration_id"`
	FromVersion string          `json:"from_version"`
	ToVersion   string          `json:"to_version"`
	Path        []string        `json:"path"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at,omitempty"`
	Status      MigrationStatus `json:"status"`
	Error       string          `json:"error,omitempty"`
}

// RecordSink persists migration log entries.
type RecordSink interface {
	AppendMigrationRecord(r Record) error
}

// Manager orchestrates migrations with verification and logging.
type Manager struct {
	history *History
	log     *zap.Logger
	now     func() time.Time

	mu   sync.Mutex
	recs []Record
	sink RecordSink
}

func NewManager(h *History, log *zap.Logger, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{history: h, log: log.Named("migration"), now: now}
}

func (m *Manager) WithSink(sink RecordSink) *Manager {
	m.sink = sink
	return m
}

func (m *Manager) History() *History { return m.history }

// Migrate applies every migration between the state's current version
// and the target, in order, verifying after each step.
func (m *Manager) Migrate(state State, target string) (State, error) {
	current, _ := state["version"].(string)
	if current == "" {
		current = "1.0.0"
	}

	path, err := m.history.MigrationPath(current, target)
	if err != nil {
		return state, err
	}

	rec := Record{
		MigrationID: "migration_" + m.now().Format("20060102_150405.000000000"),
		FromVersion: current,
		ToVersion:   target,
		StartedAt:   m.now(),
		Status:      MigrationInProgress,
	}
	for _, v := range path {
		rec.Path = append(rec.Path, v.Version)
	}
	m.log.Info("migration planned",
		zap.String("from", current),
		zap.String("to", target),
		zap.Strings("path", rec.Path))

	migrated := state
	for _, v := range path {
		migrated, err = v.ApplyMigration(migrated)
		if err != nil {
			rec.Status = MigrationFailed
			rec.Error = err.Error()
			rec.CompletedAt = m.now()
			m.append(rec)
			return migrated, err
		}
		migrated["version"] = v.Version
		m.log.Info("migration step applied", zap.String("version", v.Version))
	}

	rec.Status = MigrationCompleted
	rec.CompletedAt = m.now()
	m.append(rec)
	m.history.SetCurrent(target)
	return migrated, nil
}

// RollbackTo undoes versions newest-first until the state sits at the
// target version.
func (m *Manager) RollbackTo(state State, target string) (State, error) {
	current, _ := state["version"].(string)
	if current == "" {
		return state, fmt.Errorf("state carries no version")
	}
	path, err := m.history.MigrationPath(target, current)
	if err != nil {
		return state, fmt.Errorf("invalid rollback target: %w", err)
	}

	rec := Record{
		MigrationID: "rollback_" + m.now().Format("20060102_150405.000000000"),
		FromVersion: current,
		ToVersion:   target,
		StartedAt:   m.now(),
		Status:      MigrationInProgress,
	}
	rolled := state
	for i := len(path) - 1; i >= 0; i-- {
		v := path[i]
		rec.Path = append(rec.Path, v.Version)
		rolled, err = v.ApplyRollback(rolled)
		if err != nil {
			rec.Status = MigrationFailed
			rec.Error = err.Error()
			rec.CompletedAt = m.now()
			m.append(rec)
			return rolled, err
		}
		m.log.Info("rollback step applied", zap.String("version", v.Version))
	}
	rolled["version"] = target

	rec.Status = MigrationRolledBack
	rec.CompletedAt = m.now()
	m.append(rec)
	m.history.SetCurrent(target)
	return rolled, nil
}

func (m *Manager) append(r Record) {
	m.mu.Lock()
	m.recs = append(m.recs, r)
	sink := m.sink
	m.mu.Unlock()
	if sink != nil {
		_ = sink.AppendMigrationRecord(r)
	}
}

// Log returns a copy of the migration log.
func (m *Manager) Log() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.recs))
	copy(out, m.recs)
	return out
}
