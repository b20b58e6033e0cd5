// Package catalog defines the production invariant set and wires each
// rule to the services it inspects. Registering the catalog against a
// registry is what arms the enforcement kernel.
package catalog

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/instanttrade/itnd/internal/alerts"
	"github.com/instanttrade/itnd/internal/core/account"
	"github.com/instanttrade/itnd/internal/core/auction"
	"github.com/instanttrade/itnd/internal/core/balance"
	"github.com/instanttrade/itnd/internal/core/fraud"
	"github.com/instanttrade/itnd/internal/core/fx"
	"github.com/instanttrade/itnd/internal/core/invariant"
	"github.com/instanttrade/itnd/internal/core/invoice"
	"github.com/instanttrade/itnd/internal/core/ledger"
	"github.com/instanttrade/itnd/internal/core/money"
	"github.com/instanttrade/itnd/internal/core/pricing"
	"github.com/instanttrade/itnd/internal/core/rail"
	"github.com/instanttrade/itnd/internal/core/settlement"
	"github.com/instanttrade/itnd/internal/crypto"
)

// DefaultInvoiceHourlyLimit bounds invoice creation per supplier.
const DefaultInvoiceHourlyLimit = 100

// Extra keys shared between flows and checks, beyond the ones the
// settlement engine owns.
const (
	ExtraTransitionTo = "transition_to" // invoice.Status
	ExtraWinningBid   = "winning_bid"   // *auction.Bid
)

// Deps are the services the catalog's checks read and, for
// compensating rollback, write.
type Deps struct {
	Invoices     *invoice.Store
	Accounts     *account.Service
	Sanctions    account.SanctionsChecker
	CreditLimits *account.CreditLimitCache
	Keys         *crypto.KeyRegistry
	Quotes       *pricing.Service
	Fraud        *fraud.Engine
	FX           *fx.Service
	Auctions     *auction.Engine
	Router       *rail.Router
	Balances     *balance.Service
	Decisions    *ledger.DecisionLedger
	Settlements  *ledger.SettlementLedger
	Bus          *alerts.Bus
	Stats        *settlement.Stats

	InvoiceHourlyLimit int
	BaseCurrency       string
}

// Flow invariant sets. Settlement's own set lives in the settlement
// package; these cover the remaining enforced actions.
var (
	CreateInvariants = []invariant.ID{"001", "002", "003", "004", "005", "007", "404", "602"}
	AcceptInvariants = []invariant.ID{"003", "101", "103", "104", "105", "202", "205", "401", "402", "403", "603"}
	SweepInvariants  = []invariant.ID{"101", "105", "203"}
	AuctionCloseSet  = []invariant.ID{"207", "503"}
	PostSettleSet    = []invariant.ID{"502"}
	AuditInvariants  = []invariant.ID{"301", "302", "303", "601"}
)

// Register installs every production invariant into the registry.
func Register(reg *invariant.Registry, d Deps) {
	if d.InvoiceHourlyLimit == 0 {
		d.InvoiceHourlyLimit = DefaultInvoiceHourlyLimit
	}
	if d.BaseCurrency == "" {
		d.BaseCurrency = "USD"
	}

	reg.MustRegister(
		stateInvariants(d)...,
	)
	reg.MustRegister(
		transitionInvariants(d)...,
	)
	reg.MustRegister(
		temporalInvariants(d)...,
	)
	reg.MustRegister(
		probabilisticInvariants(d)...,
	)
	reg.MustRegister(
		securityInvariants(d)...,
	)
	reg.MustRegister(
		financialInvariants(d)...,
	)
	reg.MustRegister(
		integrityInvariants(d)...,
	)
}

// parties resolves the supplier and buyer accounts for the context's
// invoice, preferring explicitly attached accounts.
func parties(d Deps, c *invariant.Context) (supplier, buyer *account.Account) {
	supplier, buyer = c.Supplier, c.Buyer
	if c.Invoice == nil {
		return supplier, buyer
	}
	if supplier == nil {
		supplier, _ = d.Accounts.Get(c.Invoice.SupplierID)
	}
	if buyer == nil {
		buyer, _ = d.Accounts.Get(c.Invoice.BuyerID)
	}
	return supplier, buyer
}

func contextAmount(c *invariant.Context) decimal.Decimal {
	if c.Invoice != nil {
		return c.Invoice.Amount
	}
	return c.Amount
}

func stateInvariants(d Deps) []*invariant.Invariant {
	return []*invariant.Invariant{
		{
			ID:          "001",
			Statement:   "Every invoice has a unique identifier",
			Type:        invariant.TypeState,
			Criticality: invariant.CriticalityCritical,
			Owner:       "platform",
			Pre: func(c *invariant.Context) (bool, string) {
				if c.Invoice == nil {
					return false, "no invoice in context"
				}
				if d.Invoices.HasID(c.Invoice.ID) {
					return false, fmt.Sprintf("invoice id %s already exists", c.Invoice.ID)
				}
				return true, "invoice id is unique"
			},
			Rollback: func(c *invariant.Context) error {
				if c.Invoice != nil {
					d.Invoices.Remove(c.Invoice.ID)
				}
				return nil
			},
			VerifyState: func(state map[string]any) bool {
				invoices, ok := state["invoices"].(map[string]any)
				if !ok {
					return true
				}
				for id, raw := range invoices {
					if id == "" {
						return false
					}
					if _, ok := raw.(map[string]any); !ok {
						return false
					}
				}
				return true
			},
		},
		{
			ID:          "002",
			Statement:   "Invoice amounts lie within the permitted bounds",
			Type:        invariant.TypeState,
			Criticality: invariant.CriticalityCritical,
			Owner:       "platform",
			Pre: func(c *invariant.Context) (bool, string) {
				amt := contextAmount(c)
				if amt.LessThan(invoice.MinAmount) || amt.GreaterThan(invoice.MaxAmount) {
					return false, fmt.Sprintf("amount %s outside [%s, %s]",
						amt.StringFixed(2), invoice.MinAmount, invoice.MaxAmount)
				}
				return true, "amount within bounds"
			},
			VerifyState: func(state map[string]any) bool {
				invoices, ok := state["invoices"].(map[string]any)
				if !ok {
					return true
				}
				for _, raw := range invoices {
					inv, ok := raw.(map[string]any)
					if !ok {
						return false
					}
					amt, ok := inv["amount"].(float64)
					if !ok {
						return false
					}
					d := decimal.NewFromFloat(amt)
					if d.LessThan(invoice.MinAmount) || d.GreaterThan(invoice.MaxAmount) {
						return false
					}
				}
				return true
			},
		},
		{
			ID:          "003",
			Statement:   "Both transaction parties hold ACTIVE accounts",
			Type:        invariant.TypeState,
			Criticality: invariant.CriticalityCritical,
			Decay:       10 * time.Second,
			Owner:       "platform",
			Pre: func(c *invariant.Context) (bool, string) {
				supplier, buyer := parties(d, c)
				if supplier == nil || supplier.Status != account.StatusActive {
					return false, "supplier account is not active"
				}
				if buyer == nil || buyer.Status != account.StatusActive {
					return false, "buyer account is not active"
				}
				return true, "both parties active"
			},
		},
		{
			ID:          "004",
			Statement:   "Invoice content hashes are unique (duplicate detection)",
			Type:        invariant.TypeState,
			Criticality: invariant.CriticalityCritical,
			DependsOn:   []invariant.ID{"001"},
			Owner:       "platform",
			Pre: func(c *invariant.Context) (bool, string) {
				if c.Invoice == nil {
					return false, "no invoice in context"
				}
				if d.Invoices.HasHash(c.Invoice.ContentHash) {
					return false, "duplicate invoice content"
				}
				return true, "content hash is unique"
			},
		},
		{
			ID:          "005",
			Statement:   "Buyer exposure stays within the credit limit",
			Type:        invariant.TypeState,
			Criticality: invariant.CriticalityImportant,
			DependsOn:   []invariant.ID{"003"},
			Decay:       account.CreditLimitMaxAge,
			Owner:       "risk",
			Pre: func(c *invariant.Context) (bool, string) {
				_, buyer := parties(d, c)
				if buyer == nil {
					return false, "buyer not found"
				}
				limit, outstanding, err := d.CreditLimits.Get(buyer.ID, c.Now)
				if err != nil {
					return false, "credit limit unavailable: " + err.Error()
				}
				exposure := outstanding.Add(contextAmount(c))
				if exposure.GreaterThan(limit) {
					return false, fmt.Sprintf("exposure %s exceeds credit limit %s",
						exposure.StringFixed(2), limit.StringFixed(2))
				}
				return true, "within credit limit"
			},
		},
		{
			ID:          "006",
			Statement:   "Each invoice settles at most once",
			Type:        invariant.TypeState,
			Criticality: invariant.CriticalityCritical,
			Owner:       "treasury",
			Pre: func(c *invariant.Context) (bool, string) {
				s := contextSettlement(c)
				if s == nil {
					return true, "no settlement in flight"
				}
				if existing, ok := d.Settlements.SettlementFor(s.InvoiceID); ok {
					return false, fmt.Sprintf("invoice %s already settled by %s", s.InvoiceID, existing)
				}
				return true, "invoice not yet settled"
			},
			Post: func(c *invariant.Context) (bool, string) {
				s := contextSettlement(c)
				if s == nil {
					return true, "no settlement in flight"
				}
				id, ok := d.Settlements.SettlementFor(s.InvoiceID)
				if !ok || id != s.ID {
					return false, "settlement registration missing"
				}
				return true, "exactly one settlement registered"
			},
		},
		{
			ID:          "007",
			Statement:   "Payment terms come from the permitted set",
			Type:        invariant.TypeState,
			Criticality: invariant.CriticalityCritical,
			Owner:       "platform",
			Pre: func(c *invariant.Context) (bool, string) {
				if c.Invoice == nil {
					return false, "no invoice in context"
				}
				if !invoice.ValidTerms[c.Invoice.Terms] {
					return false, fmt.Sprintf("invalid payment terms: %d", c.Invoice.Terms)
				}
				return true, "terms valid"
			},
		},
	}
}

func transitionInvariants(d Deps) []*invariant.Invariant {
	return []*invariant.Invariant{
		{
			ID:          "101",
			Statement:   "Invoice status changes follow the lifecycle state machine",
			Type:        invariant.TypeTransition,
			Criticality: invariant.CriticalityCritical,
			Owner:       "platform",
			Pre: func(c *invariant.Context) (bool, string) {
				to, inv := transitionTarget(c)
				if inv == nil || to == "" {
					return true, "no transition in flight"
				}
				if !invoice.CanTransition(inv.Status, to) {
					return false, fmt.Sprintf("illegal transition %s -> %s", inv.Status, to)
				}
				return true, fmt.Sprintf("transition %s -> %s is legal", inv.Status, to)
			},
			Post: func(c *invariant.Context) (bool, string) {
				to, inv := transitionTarget(c)
				if inv == nil || to == "" {
					return true, "no transition in flight"
				}
				if inv.Status != to {
					return false, fmt.Sprintf("expected status %s, found %s", to, inv.Status)
				}
				return true, "transition applied"
			},
			Rollback: func(c *invariant.Context) error {
				if c.Invoice == nil {
					return nil
				}
				prev, ok := c.StateBefore["invoice_status"].(string)
				if !ok {
					return nil
				}
				c.Invoice.Status = invoice.Status(prev)
				return nil
			},
		},
		{
			ID:          "102",
			Statement:   "Settlement is atomic: all three legs or none",
			Type:        invariant.TypeTransition,
			Criticality: invariant.CriticalityCritical,
			DependsOn:   []invariant.ID{"006"},
			Owner:       "treasury",
			Post: func(c *invariant.Context) (bool, string) {
				s := contextSettlement(c)
				if s == nil {
					return true, "no settlement in flight"
				}
				if !s.LegsComplete() || s.Status != settlement.StatusCompleted {
					return false, "settlement legs incomplete"
				}
				return true, "all three legs completed"
			},
			Rollback: settlementRollback(d),
		},
		{
			ID:          "103",
			Statement:   "Acceptance binds a valid, unexpired quote",
			Type:        invariant.TypeTransition,
			Criticality: invariant.CriticalityCritical,
			Owner:       "pricing",
			Post: func(c *invariant.Context) (bool, string) {
				if c.Invoice == nil {
					return false, "no invoice in context"
				}
				if _, ok := d.Quotes.GetValidQuote(c.Invoice.ID); !ok {
					return false, "no valid quote bound to invoice"
				}
				return true, "valid quote bound"
			},
		},
		{
			ID:          "104",
			Statement:   "Only the invoice's buyer may accept it",
			Type:        invariant.TypeTransition,
			Criticality: invariant.CriticalityCritical,
			Owner:       "security",
			Pre: func(c *invariant.Context) (bool, string) {
				if c.Invoice == nil {
					return false, "no invoice in context"
				}
				if c.AuthenticatedUser != c.Invoice.BuyerID {
					return false, fmt.Sprintf("user %s is not the buyer", c.AuthenticatedUser)
				}
				return true, "acceptance authorized"
			},
		},
		{
			ID:          "105",
			Statement:   "Terminal invoices never change state",
			Type:        invariant.TypeTransition,
			Criticality: invariant.CriticalityCritical,
			Owner:       "platform",
			Pre: func(c *invariant.Context) (bool, string) {
				if c.Invoice == nil {
					return false, "no invoice in context"
				}
				if invoice.IsTerminal(c.Invoice.Status) {
					return false, fmt.Sprintf("invoice is terminal (%s)", c.Invoice.Status)
				}
				return true, "invoice is mutable"
			},
		},
	}
}

func temporalInvariants(d Deps) []*invariant.Invariant {
	return []*invariant.Invariant{
		{
			ID:          "201",
			Statement:   "Settlement completes within the wall-clock deadline",
			Type:        invariant.TypeTemporal,
			Criticality: invariant.CriticalityCritical,
			DependsOn:   []invariant.ID{"102"},
			Owner:       "treasury",
			Post: func(c *invariant.Context) (bool, string) {
				s := contextSettlement(c)
				if s == nil {
					return true, "no settlement in flight"
				}
				dur := s.Duration()
				if dur < 0 || dur >= settlement.Deadline {
					return false, fmt.Sprintf("settlement took %s, deadline %s", dur, settlement.Deadline)
				}
				return true, fmt.Sprintf("settled in %s", dur)
			},
		},
		{
			ID:          "202",
			Statement:   "A fresh fraud score below the rejection threshold exists at acceptance",
			Type:        invariant.TypeTemporal,
			Criticality: invariant.CriticalityCritical,
			Decay:       fraud.ScoreMaxAge,
			Owner:       "risk",
			Pre: func(c *invariant.Context) (bool, string) {
				if c.Invoice == nil {
					return false, "no invoice in context"
				}
				score, ok := d.Fraud.ScoreFor(c.Invoice.ID)
				if !ok {
					return false, "no fraud score calculated"
				}
				if !score.Fresh(c.Now) {
					return false, "fraud score stale"
				}
				if score.Score >= fraud.Threshold {
					return false, fmt.Sprintf("fraud score %.2f at or above threshold %.2f", score.Score, fraud.Threshold)
				}
				return true, fmt.Sprintf("fraud score %.2f", score.Score)
			},
		},
		{
			ID:          "203",
			Statement:   "Invoices pending past the expiry window are retired",
			Type:        invariant.TypeTemporal,
			Criticality: invariant.CriticalityImportant,
			Owner:       "platform",
			Pre: func(c *invariant.Context) (bool, string) {
				if c.Invoice == nil {
					return false, "no invoice in context"
				}
				if c.Invoice.Status != invoice.StatusPending {
					return false, "invoice not pending"
				}
				age := c.Now.Sub(c.Invoice.CreatedAt)
				if age < invoice.PendingExpiry {
					return false, fmt.Sprintf("invoice only %s old", age)
				}
				return true, "invoice past pending expiry"
			},
			Post: func(c *invariant.Context) (bool, string) {
				if c.Invoice == nil || c.Invoice.Status != invoice.StatusExpired {
					return false, "invoice not expired"
				}
				return true, "invoice expired"
			},
		},
		{
			ID:          "204",
			Statement:   "Cross-currency settlement uses a fresh FX rate",
			Type:        invariant.TypeTemporal,
			Criticality: invariant.CriticalityCritical,
			Decay:       fx.MaxRateAge,
			Owner:       "treasury",
			Pre: func(c *invariant.Context) (bool, string) {
				if c.Invoice == nil || c.Invoice.Currency == "" || c.Invoice.Currency == d.BaseCurrency {
					return true, "base currency settlement"
				}
				r, ok := d.FX.CachedRate(c.Invoice.Currency, d.BaseCurrency)
				if !ok {
					return false, fmt.Sprintf("no FX rate for %s/%s", c.Invoice.Currency, d.BaseCurrency)
				}
				if !r.Fresh(c.Now) {
					return false, "FX rate stale"
				}
				return true, "FX rate fresh"
			},
		},
		{
			ID:          "205",
			Statement:   "Credit decisions use limit data no older than its decay window",
			Type:        invariant.TypeTemporal,
			Criticality: invariant.CriticalityImportant,
			Decay:       account.CreditLimitMaxAge,
			Owner:       "risk",
			Pre: func(c *invariant.Context) (bool, string) {
				_, buyer := parties(d, c)
				if buyer == nil {
					return false, "buyer not found"
				}
				// Get refreshes any stale entry; failing to refresh fails
				// the check.
				if _, _, err := d.CreditLimits.Get(buyer.ID, c.Now); err != nil {
					return false, "credit limit refresh failed: " + err.Error()
				}
				return true, "credit data fresh"
			},
		},
		{
			ID:          "206",
			Statement:   "Settlement routes only over rails with fresh, healthy checks",
			Type:        invariant.TypeTemporal,
			Criticality: invariant.CriticalityCritical,
			Decay:       rail.HealthMaxAge,
			Owner:       "treasury",
			Pre:         railHealthy(),
			Post:        railHealthy(),
		},
		{
			ID:          "207",
			Statement:   "Only unexpired bids win auctions",
			Type:        invariant.TypeTemporal,
			Criticality: invariant.CriticalityImportant,
			Owner:       "markets",
			Post: func(c *invariant.Context) (bool, string) {
				b, _ := c.Extra[ExtraWinningBid].(*auction.Bid)
				if b == nil {
					return true, "no winning bid in context"
				}
				if b.ProviderID == auction.SystemProviderID {
					return true, "system fallback bid"
				}
				if b.Status != auction.BidAccepted {
					return false, fmt.Sprintf("winning bid in status %s", b.Status)
				}
				return true, "winning bid accepted before expiry"
			},
		},
	}
}

func railHealthy() invariant.CheckFunc {
	return func(c *invariant.Context) (bool, string) {
		r, _ := c.Extra[settlement.ExtraRail].(*rail.Rail)
		if r == nil {
			return true, "no rail in context"
		}
		if r.Status() != rail.StatusUp {
			return false, fmt.Sprintf("rail %s is %s", r.Name, r.Status())
		}
		if !r.HealthFresh(c.Now) {
			return false, fmt.Sprintf("rail %s health check stale", r.Name)
		}
		return true, fmt.Sprintf("rail %s healthy", r.Name)
	}
}

func probabilisticInvariants(d Deps) []*invariant.Invariant {
	return []*invariant.Invariant{
		{
			ID:          "301",
			Statement:   "At least 70% of auctions in 24h close with three or more bids",
			Type:        invariant.TypeProbabilistic,
			Criticality: invariant.CriticalityImportant,
			Owner:       "markets",
			Post: func(c *invariant.Context) (bool, string) {
				rate := d.Auctions.CompetitionRate(c.Now)
				if rate < 0.70 {
					return false, fmt.Sprintf("auction competition rate %.2f below 0.70", rate)
				}
				return true, fmt.Sprintf("auction competition rate %.2f", rate)
			},
		},
		{
			ID:          "302",
			Statement:   "No invoice settles with a fraud score at or above the threshold",
			Type:        invariant.TypeProbabilistic,
			Criticality: invariant.CriticalityCritical,
			Owner:       "risk",
			Post: func(c *invariant.Context) (bool, string) {
				for _, inv := range d.Invoices.List(invoice.Filter{Status: invoice.StatusSettled}) {
					score, ok := d.Fraud.ScoreFor(inv.ID)
					if ok && score.Score >= fraud.Threshold {
						return false, fmt.Sprintf("settled invoice %s has fraud score %.2f", inv.ID, score.Score)
					}
				}
				return true, "no high-risk settlements"
			},
		},
		{
			ID:          "303",
			Statement:   "Rolling 7-day settlement success rate stays at or above 99.9%",
			Type:        invariant.TypeProbabilistic,
			Criticality: invariant.CriticalityImportant,
			Owner:       "treasury",
			Post: func(c *invariant.Context) (bool, string) {
				rate := d.Stats.SuccessRate(c.Now, 7*24*time.Hour)
				if rate < 0.999 {
					return false, fmt.Sprintf("settlement success rate %.4f below 0.999", rate)
				}
				return true, fmt.Sprintf("settlement success rate %.4f", rate)
			},
		},
	}
}

func securityInvariants(d Deps) []*invariant.Invariant {
	return []*invariant.Invariant{
		{
			ID:          "401",
			Statement:   "No transaction involves a sanctioned party",
			Type:        invariant.TypeSecurity,
			Criticality: invariant.CriticalityCritical,
			Decay:       6 * time.Hour,
			Owner:       "compliance",
			Pre: func(c *invariant.Context) (bool, string) {
				supplier, buyer := parties(d, c)
				var hit string
				if supplier != nil && d.Sanctions.IsSanctioned(supplier.ID) {
					hit = supplier.ID
				}
				if buyer != nil && d.Sanctions.IsSanctioned(buyer.ID) {
					hit = buyer.ID
				}
				if hit == "" {
					return true, "no sanctions hits"
				}
				// Remediation: freeze both parties and report.
				if supplier != nil {
					d.Accounts.Freeze(supplier.ID)
				}
				if buyer != nil {
					d.Accounts.Freeze(buyer.ID)
				}
				if d.Bus != nil {
					d.Bus.Emit(alerts.SeverityCritical, alerts.CodeSanctionsHit,
						"sanctioned party on transaction, accounts frozen", hit)
				}
				return false, fmt.Sprintf("party %s is sanctioned", hit)
			},
		},
		{
			ID:          "402",
			Statement:   "Both parties hold verified KYC",
			Type:        invariant.TypeSecurity,
			Criticality: invariant.CriticalityImportant,
			Decay:       7 * 24 * time.Hour,
			Owner:       "compliance",
			Pre: func(c *invariant.Context) (bool, string) {
				supplier, buyer := parties(d, c)
				if supplier == nil || supplier.KYC != account.KYCVerified {
					return false, "supplier KYC not verified"
				}
				if buyer == nil || buyer.KYC != account.KYCVerified {
					return false, "buyer KYC not verified"
				}
				return true, "KYC verified for both parties"
			},
		},
		{
			ID:          "403",
			Statement:   "Acceptance carries a valid buyer signature over the invoice content",
			Type:        invariant.TypeSecurity,
			Criticality: invariant.CriticalityCritical,
			Owner:       "security",
			Pre: func(c *invariant.Context) (bool, string) {
				if c.Invoice == nil {
					return false, "no invoice in context"
				}
				if len(c.Signature) == 0 {
					return false, "acceptance signature missing"
				}
				ok, err := d.Keys.VerifyFor(c.Invoice.BuyerID, []byte(c.Invoice.ContentHash), c.Signature)
				if err != nil {
					return false, "signature verification failed: " + err.Error()
				}
				if !ok {
					return false, "acceptance signature invalid"
				}
				return true, "acceptance signature verified"
			},
		},
		{
			ID:          "404",
			Statement:   "Suppliers stay under the hourly invoice creation limit",
			Type:        invariant.TypeSecurity,
			Criticality: invariant.CriticalityImportant,
			Owner:       "security",
			Pre: func(c *invariant.Context) (bool, string) {
				if c.Invoice == nil {
					return false, "no invoice in context"
				}
				n := d.Invoices.CountSupplierSince(c.Invoice.SupplierID, c.Now.Add(-time.Hour))
				if n >= d.InvoiceHourlyLimit {
					return false, fmt.Sprintf("supplier created %d invoices in the last hour (limit %d)", n, d.InvoiceHourlyLimit)
				}
				return true, fmt.Sprintf("%d invoices in the last hour", n)
			},
		},
	}
}

func financialInvariants(d Deps) []*invariant.Invariant {
	return []*invariant.Invariant{
		{
			ID:          "501",
			Statement:   "The settlement ledger reconciles: credits equal debits",
			Type:        invariant.TypeFinancial,
			Criticality: invariant.CriticalityCritical,
			DependsOn:   []invariant.ID{"102"},
			Owner:       "treasury",
			Post: func(c *invariant.Context) (bool, string) {
				if !d.Settlements.Balanced() {
					return false, fmt.Sprintf("ledger variance %s", d.Settlements.Variance().StringFixed(2))
				}
				return true, "ledger balanced"
			},
		},
		{
			ID:          "502",
			Statement:   "Buyers are never charged beyond the quoted cost",
			Type:        invariant.TypeFinancial,
			Criticality: invariant.CriticalityImportant,
			Owner:       "pricing",
			Post: func(c *invariant.Context) (bool, string) {
				s := contextSettlement(c)
				if s == nil || c.Quote == nil {
					return true, "no quoted settlement in context"
				}
				over := s.BuyerCost.Sub(c.Quote.TotalCost)
				if over.GreaterThan(money.Tolerance) {
					return false, fmt.Sprintf("buyer charged %s over quote %s",
						s.BuyerCost.StringFixed(2), c.Quote.TotalCost.StringFixed(2))
				}
				return true, "charge within quote"
			},
		},
		{
			ID:          "503",
			Statement:   "Provider liquidity never goes negative",
			Type:        invariant.TypeFinancial,
			Criticality: invariant.CriticalityCritical,
			Decay:       30 * time.Second,
			Owner:       "markets",
			Post: func(c *invariant.Context) (bool, string) {
				b, _ := c.Extra[ExtraWinningBid].(*auction.Bid)
				if b == nil || b.ProviderID == auction.SystemProviderID {
					return true, "no provider reservation in context"
				}
				p, ok := d.Auctions.Provider(b.ProviderID)
				if !ok {
					return false, fmt.Sprintf("provider %s not registered", b.ProviderID)
				}
				if p.AvailableLiquidity().IsNegative() {
					return false, fmt.Sprintf("provider %s liquidity negative", b.ProviderID)
				}
				return true, "provider liquidity non-negative"
			},
		},
	}
}

func integrityInvariants(d Deps) []*invariant.Invariant {
	return []*invariant.Invariant{
		{
			ID:          "601",
			Statement:   "The decision ledger's signature chain verifies",
			Type:        invariant.TypeDataIntegrity,
			Criticality: invariant.CriticalityCritical,
			Owner:       "platform",
			Post: func(c *invariant.Context) (bool, string) {
				if !d.Decisions.VerifyChainIntegrity() {
					return false, "decision ledger signature chain broken"
				}
				return true, "decision ledger intact"
			},
		},
		{
			ID:          "602",
			Statement:   "Line items sum to the invoice amount",
			Type:        invariant.TypeDataIntegrity,
			Criticality: invariant.CriticalityCritical,
			Owner:       "platform",
			Pre: func(c *invariant.Context) (bool, string) {
				if c.Invoice == nil {
					return false, "no invoice in context"
				}
				sum := invoice.SumLineItems(c.Invoice.LineItems)
				if !money.Equal(sum, c.Invoice.Amount) {
					return false, fmt.Sprintf("line items sum to %s, invoice amount is %s",
						sum.StringFixed(2), c.Invoice.Amount.StringFixed(2))
				}
				return true, "line items reconcile"
			},
		},
		{
			ID:          "603",
			Statement:   "Acceptance happens within the quote validity window",
			Type:        invariant.TypeDataIntegrity,
			Criticality: invariant.CriticalityCritical,
			DependsOn:   []invariant.ID{"103"},
			Decay:       pricing.QuoteValidity,
			Owner:       "pricing",
			Post: func(c *invariant.Context) (bool, string) {
				if c.Invoice == nil {
					return false, "no invoice in context"
				}
				q, ok := d.Quotes.GetValidQuote(c.Invoice.ID)
				if !ok {
					return false, "quote expired or missing at acceptance"
				}
				return true, fmt.Sprintf("quote valid until %s", q.ExpiresAt.Format(time.RFC3339))
			},
		},
	}
}

func contextSettlement(c *invariant.Context) *settlement.Settlement {
	s, _ := c.Extra[settlement.ExtraSettlement].(*settlement.Settlement)
	return s
}

func transitionTarget(c *invariant.Context) (invoice.Status, *invoice.Invoice) {
	to, _ := c.Extra[ExtraTransitionTo].(invoice.Status)
	return to, c.Invoice
}
