// Package rail models settlement rails and the smart router that picks
// one by speed, cost or a balanced score.
package rail

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/instanttrade/itnd/internal/clock"
)

type Status string

const (
	StatusUp       Status = "UP"
	StatusDown     Status = "DOWN"
	StatusDegraded Status = "DEGRADED"
)

// HealthMaxAge: routing only considers rails health-checked within this
// window.
const HealthMaxAge = 30 * time.Second

// Rail is one settlement network with its live metrics.
type Rail struct {
	Name        string
	P50         time.Duration
	P99         time.Duration
	SuccessRate float64
	CostPerTxn  decimal.Decimal
	DailyLimit  decimal.Decimal

	mu              sync.Mutex
	currentVolume   decimal.Decimal
	status          Status
	lastHealthCheck time.Time
}

func New(name string, p50, p99 time.Duration, successRate float64, cost, dailyLimit decimal.Decimal) *Rail {
	return &Rail{
		Name:        name,
		P50:         p50,
		P99:         p99,
		SuccessRate: successRate,
		CostPerTxn:  cost,
		DailyLimit:  dailyLimit,
		status:      StatusUp,
	}
}

func (r *Rail) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Rail) SetStatus(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = s
}

func (r *Rail) CurrentVolume() decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentVolume
}

// AddVolume counts a completed transfer against the daily limit.
func (r *Rail) AddVolume(amount decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.currentVolume = r.currentVolume.Add(amount)
}

// ResetVolume starts a new day.
func (r *Rail) ResetVolume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.currentVolume = decimal.Zero
}

// HealthCheck refreshes the rail's health timestamp.
func (r *Rail) HealthCheck(now time.Time) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastHealthCheck = now
	return r.status
}

func (r *Rail) LastHealthCheck() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastHealthCheck
}

// HealthFresh reports whether the last check is inside the window.
func (r *Rail) HealthFresh(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.lastHealthCheck.IsZero() && now.Sub(r.lastHealthCheck) <= HealthMaxAge
}

// Eligible applies the capacity and reliability filter.
func (r *Rail) Eligible(amount decimal.Decimal) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != StatusUp {
		return false
	}
	if r.currentVolume.Add(amount).GreaterThan(r.DailyLimit) {
		return false
	}
	return r.SuccessRate > 0.95
}

// Mode is the routing priority.
type Mode string

const (
	ModeSpeed    Mode = "SPEED"
	ModeCost     Mode = "COST"
	ModeBalanced Mode = "BALANCED"
)

var ErrNoRailAvailable = errors.New("no settlement rail available")

// Router selects among registered rails. Selection is deterministic
// for a given metric snapshot: rails are scanned in name order.
type Router struct {
	mu    sync.RWMutex
	rails map[string]*Rail
	clk   clock.Clock
}

func NewRouter(clk clock.Clock) *Router {
	return &Router{rails: make(map[string]*Rail), clk: clk}
}

func (rt *Router) Register(r *Rail) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.rails[r.Name] = r
}

func (rt *Router) Rail(name string) (*Rail, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	r, ok := rt.rails[name]
	return r, ok
}

// Rails returns the registry in name order.
func (rt *Router) Rails() []*Rail {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make([]*Rail, 0, len(rt.rails))
	for _, r := range rt.rails {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// HealthCheckAll refreshes every rail and returns the UP count.
func (rt *Router) HealthCheckAll() int {
	now := rt.clk.Now()
	up := 0
	for _, r := range rt.Rails() {
		if r.HealthCheck(now) == StatusUp {
			up++
		}
	}
	return up
}

// BalancedScore is the BALANCED-mode score:
// 0.5*(1 - p99/5000ms) + 0.3*success + 0.2*(1 - cost/10).
func BalancedScore(r *Rail) float64 {
	p99ms := float64(r.P99.Milliseconds())
	cost, _ := r.CostPerTxn.Float64()
	return 0.5*(1-p99ms/5000) + 0.3*r.SuccessRate + 0.2*(1-cost/10)
}

// Select picks the rail for an amount under the given mode. Stale
// health checks disqualify a rail.
func (rt *Router) Select(amount decimal.Decimal, mode Mode) (*Rail, error) {
	now := rt.clk.Now()
	var candidates []*Rail
	for _, r := range rt.Rails() {
		if r.Eligible(amount) && r.HealthFresh(now) {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNoRailAvailable
	}

	best := candidates[0]
	for _, r := range candidates[1:] {
		switch mode {
		case ModeSpeed:
			if r.P99 < best.P99 {
				best = r
			}
		case ModeCost:
			if r.CostPerTxn.LessThan(best.CostPerTxn) {
				best = r
			}
		default:
			if BalancedScore(r) > BalancedScore(best) {
				best = r
			}
		}
	}
	return best, nil
}
