// Package version manages the artifact version graph: semantic
// versions with forward migrations, verification and rollback, and the
// migration log recording every attempt.
package version

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

type ChangeType string

const (
	ChangeMajor ChangeType = "major" // breaking, requires migration
	ChangeMinor ChangeType = "minor" // backward compatible
	ChangePatch ChangeType = "patch" // transparent
)

type MigrationStatus string

const (
	MigrationPending    MigrationStatus = "pending"
	MigrationInProgress MigrationStatus = "in_progress"
	MigrationCompleted  MigrationStatus = "completed"
	MigrationFailed     MigrationStatus = "failed"
	MigrationRolledBack MigrationStatus = "rolled_back"
)

// State is the serialized system state a migration transforms.
type State = map[string]any

type MigrateFunc func(State) (State, error)
type VerifyFunc func(State) bool

// ArtifactVersion is one version of the invariant artifacts.
type ArtifactVersion struct {
	Version    string
	Date       time.Time
	Changes    []string
	ChangeType ChangeType

	Migration    MigrateFunc
	Rollback     MigrateFunc
	Verification VerifyFunc

	Author            string
	RequiresDowntime  bool
	EstimatedDuration time.Duration
}

// ApplyMigration migrates state to this version, verifying the result.
// On failure the version's own rollback is attempted before the error
// is returned.
func (v *ArtifactVersion) ApplyMigration(state State) (State, error) {
	if v.Migration == nil {
		return state, nil
	}
	next, err := v.Migration(state)
	if err == nil && v.Verification != nil && !v.Verification(next) {
		err = fmt.Errorf("verification failed for version %s", v.Version)
	}
	if err != nil {
		if v.Rollback != nil {
			if prev, rbErr := v.Rollback(state); rbErr == nil {
				return prev, fmt.Errorf("migration to %s failed (rolled back): %w", v.Version, err)
			}
		}
		return state, fmt.Errorf("migration to %s failed: %w", v.Version, err)
	}
	return next, nil
}

// ApplyRollback undoes this version.
func (v *ArtifactVersion) ApplyRollback(state State) (State, error) {
	if v.Rollback == nil {
		return nil, fmt.Errorf("no rollback available for version %s", v.Version)
	}
	return v.Rollback(state)
}

// parseSemver validates MAJOR.MINOR.PATCH and returns the components.
func parseSemver(s string) ([3]int, error) {
	var out [3]int
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return out, fmt.Errorf("invalid version %q", s)
	}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return out, fmt.Errorf("invalid version %q", s)
		}
		out[i] = n
	}
	return out, nil
}

// Compare returns -1, 0 or 1 ordering two semantic versions.
func Compare(a, b string) (int, error) {
	av, err := parseSemver(a)
	if err != nil {
		return 0, err
	}
	bv, err := parseSemver(b)
	if err != nil {
		return 0, err
	}
	for i := 0; i < 3; i++ {
		if av[i] < bv[i] {
			return -1, nil
		}
		if av[i] > bv[i] {
			return 1, nil
		}
	}
	return 0, nil
}

// History is the linearly ordered version list.
type History struct {
	versions []*ArtifactVersion
	current  string
}

func NewHistory() *History { return &History{} }

// Add appends a version; it must be valid semver, unique and newer
// than the latest.
func (h *History) Add(v *ArtifactVersion) error {
	if _, err := parseSemver(v.Version); err != nil {
		return err
	}
	for _, existing := range h.versions {
		if existing.Version == v.Version {
			return fmt.Errorf("version %s already exists", v.Version)
		}
	}
	if len(h.versions) > 0 {
		cmp, err := Compare(v.Version, h.versions[len(h.versions)-1].Version)
		if err != nil {
			return err
		}
		if cmp <= 0 {
			return fmt.Errorf("version %s is not newer than %s", v.Version, h.versions[len(h.versions)-1].Version)
		}
	}
	h.versions = append(h.versions, v)
	return nil
}

func (h *History) MustAdd(vs ...*ArtifactVersion) {
	for _, v := range vs {
		if err := h.Add(v); err != nil {
			panic(err)
		}
	}
}

func (h *History) Get(version string) (*ArtifactVersion, bool) {
	for _, v := range h.versions {
		if v.Version == version {
			return v, true
		}
	}
	return nil, false
}

func (h *History) Latest() (*ArtifactVersion, bool) {
	if len(h.versions) == 0 {
		return nil, false
	}
	return h.versions[len(h.versions)-1], true
}

func (h *History) index(version string) int {
	for i, v := range h.versions {
		if v.Version == version {
			return i
		}
	}
	return -1
}

// MigrationPath returns the versions strictly after from up to and
// including to, in order.
func (h *History) MigrationPath(from, to string) ([]*ArtifactVersion, error) {
	fromIdx, toIdx := h.index(from), h.index(to)
	if fromIdx < 0 {
		return nil, fmt.Errorf("version %s not found", from)
	}
	if toIdx < 0 {
		return nil, fmt.Errorf("version %s not found", to)
	}
	if fromIdx >= toIdx {
		return nil, fmt.Errorf("cannot migrate from %s to %s: already at or past target", from, to)
	}
	return h.versions[fromIdx+1 : toIdx+1], nil
}

// historyExport is the persisted JSON layout.
type historyExport struct {
	CurrentVersion string          `json:"current_version"`
	Versions       []versionExport `json:"versions"`
}

type versionExport struct {
	Version                  string     `json:"version"`
	Date                     time.Time  `json:"date"`
	Changes                  []string   `json:"changes"`
	ChangeType               ChangeType `json:"change_type"`
	Author                   string     `json:"author"`
	RequiresDowntime         bool       `json:"requires_downtime"`
	EstimatedDurationMinutes int        `json:"estimated_duration_minutes"`
}

// Export writes the version history as JSON.
func (h *History) Export(w io.Writer) error {
	out := historyExport{CurrentVersion: h.current}
	for _, v := range h.versions {
		out.Versions = append(out.Versions, versionExport{
			Version:                  v.Version,
			Date:                     v.Date,
			Changes:                  v.Changes,
			ChangeType:               v.ChangeType,
			Author:                   v.Author,
			RequiresDowntime:         v.RequiresDowntime,
			EstimatedDurationMinutes: int(v.EstimatedDuration.Minutes()),
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// SetCurrent records the deployed version.
func (h *History) SetCurrent(v string) { h.current = v }

// Current is the deployed version, or the latest known version when
// none has been recorded.
func (h *History) Current() string {
	if h.current != "" {
		return h.current
	}
	if v, ok := h.Latest(); ok {
		return v.Version
	}
	return ""
}
