package auction

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/instanttrade/itnd/internal/alerts"
	"github.com/instanttrade/itnd/internal/clock"
)

// competitionTarget is the bid count that makes an auction competitive
// for the rolling 24h measurement.
const competitionTarget = 3

// Engine owns the provider registry and every auction.
type Engine struct {
	clk clock.Clock
	rng *rand.Rand
	bus *alerts.Bus
	log *zap.Logger

	window   time.Duration
	fallback decimal.Decimal

	mu        sync.Mutex
	providers map[string]*Provider
	auctions  map[string]*Auction
	outcomes  []outcome // rolling competition history
}

type outcome struct {
	at          time.Time
	activeBids  int
	competitive bool
}

func NewEngine(clk clock.Clock, rng *rand.Rand, bus *alerts.Bus, log *zap.Logger) *Engine {
	return &Engine{
		clk:       clk,
		rng:       rng,
		bus:       bus,
		log:       log.Named("auction"),
		window:    BidWindow,
		fallback:  FallbackRate,
		providers: make(map[string]*Provider),
		auctions:  make(map[string]*Auction),
	}
}

// WithWindow overrides the bid window.
func (e *Engine) WithWindow(d time.Duration) *Engine {
	if d > 0 {
		e.window = d
	}
	return e
}

// Window is the configured bid window.
func (e *Engine) Window() time.Duration { return e.window }

func (e *Engine) RegisterProvider(p *Provider) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.providers[p.ID] = p
}

func (e *Engine) Provider(id string) (*Provider, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.providers[id]
	return p, ok
}

// StartAuction opens an auction and synchronously solicits a bid from
// every eligible provider. Liquidity is reserved per bid (and released
// when the bid loses).
func (e *Engine) StartAuction(ctx context.Context, invoiceID string, amount decimal.Decimal, terms int) (*Auction, error) {
	now := e.clk.Now()
	a := &Auction{
		ID:           "AUC-" + uuid.NewString(),
		InvoiceID:    invoiceID,
		Amount:       amount,
		Terms:        terms,
		StartedAt:    now,
		EndsAt:       now.Add(e.window),
		FallbackRate: e.fallback,
		Status:       AuctionOpen,
	}

	e.mu.Lock()
	e.auctions[a.ID] = a
	eligible := make([]*Provider, 0, len(e.providers))
	for _, p := range e.providers {
		if p.Eligible(amount, terms) {
			eligible = append(eligible, p)
		}
	}
	e.mu.Unlock()
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].ID < eligible[j].ID })

	// Jitter draws happen in provider-id order so a seeded source gives
	// reproducible rates; the reservations then run in parallel.
	rates := make([]decimal.Decimal, len(eligible))
	for i, p := range eligible {
		rates[i] = e.bidRate(p.RiskAppetite)
	}

	var bidMu sync.Mutex
	g, _ := errgroup.WithContext(ctx)
	for i, p := range eligible {
		g.Go(func() error {
			if err := p.Reserve(amount); err != nil {
				// Provider pool drained by a concurrent auction; skip
				// rather than fail the whole solicitation.
				e.log.Debug("bid skipped", zap.String("provider", p.ID), zap.Error(err))
				return nil
			}
			b := &Bid{
				ID:           "BID-" + uuid.NewString(),
				ProviderID:   p.ID,
				InvoiceID:    invoiceID,
				DiscountRate: rates[i],
				Capacity:     amount,
				CreatedAt:    now,
				ExpiresAt:    now.Add(e.window),
				Status:       BidActive,
			}
			bidMu.Lock()
			a.Bids = append(a.Bids, b)
			bidMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(a.Bids, func(i, j int) bool { return a.Bids[i].ProviderID < a.Bids[j].ProviderID })
	e.log.Info("auction started",
		zap.String("auction_id", a.ID),
		zap.String("invoice_id", invoiceID),
		zap.Int("bids", len(a.Bids)))
	return a, nil
}

// bidRate is the provider's risk base rate with a uniform +-0.01
// jitter, clamped to the permitted band.
func (e *Engine) bidRate(risk RiskAppetite) decimal.Decimal {
	jitter := decimal.NewFromFloat((e.rng.Float64() - 0.5) * 0.02)
	rate := risk.BaseRate().Add(jitter)
	if rate.LessThan(MinRate) {
		rate = MinRate
	}
	if rate.GreaterThan(MaxRate) {
		rate = MaxRate
	}
	return rate
}

// Finalize closes the auction at or after its deadline. Expired bids
// are rejected; the winner is the lowest rate, ties broken by earliest
// creation then provider id. With no active bids the system fallback
// bid wins and a liquidity alert goes out; with fewer than three the
// alert also fires but the market bid still wins.
func (e *Engine) Finalize(auctionID string) (*Auction, error) {
	e.mu.Lock()
	a, ok := e.auctions[auctionID]
	e.mu.Unlock()
	if !ok {
		return nil, ErrAuctionNotFound
	}
	if a.Status != AuctionOpen {
		return nil, ErrAuctionClosed
	}
	now := e.clk.Now()
	if now.Before(a.EndsAt) {
		return nil, fmt.Errorf("%w: ends at %s", ErrAuctionOpenErr, a.EndsAt.Format(time.RFC3339))
	}

	// "Active" here means ACTIVE and not past expiry; bids expire with
	// the window, so anything placed at start and untouched is judged at
	// exactly its expiry instant.
	active := a.ActiveBids(now)
	for _, b := range a.Bids {
		if b.Status == BidActive && now.After(b.ExpiresAt) {
			b.Status = BidExpired
			if p, ok := e.Provider(b.ProviderID); ok {
				p.Release(b.Capacity)
			}
		}
	}

	if len(active) == 0 {
		a.Winner = &Bid{
			ID:           "BID-" + uuid.NewString(),
			ProviderID:   SystemProviderID,
			InvoiceID:    a.InvoiceID,
			DiscountRate: a.FallbackRate,
			Capacity:     a.Amount,
			CreatedAt:    now,
			ExpiresAt:    now,
			Status:       BidAccepted,
		}
		a.Bids = append(a.Bids, a.Winner)
		a.UsedFallback = true
		e.bus.Emit(alerts.SeverityWarning, alerts.CodeLowLiquidity,
			fmt.Sprintf("auction %s closed with no bids, fallback rate applied", a.ID), a.InvoiceID)
	} else {
		sort.Slice(active, func(i, j int) bool {
			if !active[i].DiscountRate.Equal(active[j].DiscountRate) {
				return active[i].DiscountRate.LessThan(active[j].DiscountRate)
			}
			if !active[i].CreatedAt.Equal(active[j].CreatedAt) {
				return active[i].CreatedAt.Before(active[j].CreatedAt)
			}
			return active[i].ProviderID < active[j].ProviderID
		})
		a.Winner = active[0]
		a.Winner.Status = BidAccepted
		for _, b := range active[1:] {
			b.Status = BidExpired
			if p, ok := e.Provider(b.ProviderID); ok {
				p.Release(b.Capacity)
			}
		}
		if len(active) < competitionTarget {
			e.bus.Emit(alerts.SeverityWarning, alerts.CodeLowLiquidity,
				fmt.Sprintf("auction %s closed with only %d active bids", a.ID, len(active)), a.InvoiceID)
		}
	}

	a.Status = AuctionCompleted
	e.recordOutcome(now, len(active))
	e.log.Info("auction finalized",
		zap.String("auction_id", a.ID),
		zap.String("winner", a.Winner.ProviderID),
		zap.String("rate", a.Winner.DiscountRate.String()),
		zap.Bool("fallback", a.UsedFallback))
	return a, nil
}

// ReleaseWinner returns the winning reservation, used when settlement
// ultimately fails.
func (e *Engine) ReleaseWinner(a *Auction) {
	if a.Winner == nil || a.Winner.ProviderID == SystemProviderID {
		return
	}
	if p, ok := e.Provider(a.Winner.ProviderID); ok {
		p.Release(a.Winner.Capacity)
	}
}

func (e *Engine) recordOutcome(at time.Time, activeBids int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.outcomes = append(e.outcomes, outcome{
		at:          at,
		activeBids:  activeBids,
		competitive: activeBids >= competitionTarget,
	})
}

// CompetitionRate is the fraction of auctions in the trailing 24 hours
// that closed with three or more active bids. Returns 1 when no
// auctions closed in the window.
func (e *Engine) CompetitionRate(now time.Time) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	cutoff := now.Add(-24 * time.Hour)
	total, competitive := 0, 0
	for _, o := range e.outcomes {
		if o.at.Before(cutoff) {
			continue
		}
		total++
		if o.competitive {
			competitive++
		}
	}
	if total == 0 {
		return 1
	}
	return float64(competitive) / float64(total)
}

// Auction returns a started auction by id.
func (e *Engine) Auction(id string) (*Auction, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.auctions[id]
	return a, ok
}
