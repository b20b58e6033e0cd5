package settlement

import (
	"sync"
	"time"
)

// Stats tracks settlement outcomes over a rolling window for the
// success-rate audit.
type Stats struct {
	mu       sync.Mutex
	outcomes []statOutcome
}

type statOutcome struct {
	at time.Time
	ok bool
}

func NewStats() *Stats { return &Stats{} }

func (s *Stats) RecordSuccess(at time.Time) { s.record(at, true) }
func (s *Stats) RecordFailure(at time.Time) { s.record(at, false) }

func (s *Stats) record(at time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, statOutcome{at: at, ok: ok})
}

// SuccessRate over the window ending at now. Returns 1 with no data.
func (s *Stats) SuccessRate(now time.Time, window time.Duration) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-window)
	total, ok := 0, 0
	for _, o := range s.outcomes {
		if o.at.Before(cutoff) {
			continue
		}
		total++
		if o.ok {
			ok++
		}
	}
	if total == 0 {
		return 1
	}
	return float64(ok) / float64(total)
}
