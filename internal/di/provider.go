package di

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/instanttrade/itnd/internal/alerts"
	"github.com/instanttrade/itnd/internal/clock"
	"github.com/instanttrade/itnd/internal/config"
	"github.com/instanttrade/itnd/internal/core/account"
	"github.com/instanttrade/itnd/internal/core/auction"
	"github.com/instanttrade/itnd/internal/core/balance"
	"github.com/instanttrade/itnd/internal/core/catalog"
	"github.com/instanttrade/itnd/internal/core/enforce"
	"github.com/instanttrade/itnd/internal/core/fraud"
	"github.com/instanttrade/itnd/internal/core/fx"
	"github.com/instanttrade/itnd/internal/core/invariant"
	"github.com/instanttrade/itnd/internal/core/invoice"
	"github.com/instanttrade/itnd/internal/core/ledger"
	"github.com/instanttrade/itnd/internal/core/orchestrator"
	"github.com/instanttrade/itnd/internal/core/pricing"
	"github.com/instanttrade/itnd/internal/core/rail"
	"github.com/instanttrade/itnd/internal/core/recurring"
	"github.com/instanttrade/itnd/internal/core/settlement"
	"github.com/instanttrade/itnd/internal/core/sysmode"
	"github.com/instanttrade/itnd/internal/core/version"
	"github.com/instanttrade/itnd/internal/crypto"
	"github.com/instanttrade/itnd/internal/metrics"
	"github.com/instanttrade/itnd/internal/server/grpchealth"
	"github.com/instanttrade/itnd/internal/server/rest"
	"github.com/instanttrade/itnd/internal/server/ws"
	"github.com/instanttrade/itnd/internal/storage/archive"
	"github.com/instanttrade/itnd/internal/storage/kv"
	"github.com/instanttrade/itnd/internal/storage/ledgerstore"
)

const cacheSize = 1024

// Provider registers the builders for the whole object graph.
type Provider struct {
	container *Container
	cfg       *config.Config
	log       *zap.Logger
}

func NewProvider(container *Container, cfg *config.Config, log *zap.Logger) *Provider {
	return &Provider{container: container, cfg: cfg, log: log}
}

// RegisterAll wires every service. Nothing is constructed until first
// resolved.
func (p *Provider) RegisterAll() {
	c := p.container
	cfg := p.cfg

	c.Register(ServiceConfig, cfg)
	c.Register(ServiceLogger, p.log)
	c.Register(ServiceClock, clock.Clock(clock.Real{}))
	c.Register(ServiceMetrics, metrics.New())

	c.RegisterBuilder(ServiceAlertBus, func(c *Container) (any, error) {
		return alerts.NewBus(p.log), nil
	})
	c.RegisterBuilder(ServiceSysMode, func(c *Container) (any, error) {
		clk := c.MustGet(ServiceClock).(clock.Clock)
		bus := c.MustGet(ServiceAlertBus).(*alerts.Bus)
		return sysmode.NewMachine(bus, p.log, clk.Now), nil
	})

	p.registerStorage()
	p.registerLedgers()
	p.registerCore()
	p.registerServers()
}

func (p *Provider) registerStorage() {
	cfg := p.cfg
	p.container.RegisterBuilder(ServiceKV, func(c *Container) (any, error) {
		switch cfg.Storage.Backend {
		case "pebble":
			return kv.OpenPebble(filepath.Join(cfg.Storage.DataDir, "kv"))
		case "leveldb":
			return kv.OpenLevelDB(filepath.Join(cfg.Storage.DataDir, "kv"))
		case "memory":
			return kv.NewMemory(), nil
		default:
			return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
		}
	})
	p.container.RegisterBuilder(ServiceLedgerStore, func(c *Container) (any, error) {
		db := c.MustGet(ServiceKV).(kv.DB)
		return ledgerstore.New(db), nil
	})
	p.container.RegisterBuilder(ServiceArchive, func(c *Container) (any, error) {
		if cfg.Storage.ArchiveDriver == "" {
			return (*archive.DB)(nil), nil
		}
		return archive.Open(context.Background(), archive.Config{
			Driver: cfg.Storage.ArchiveDriver,
			DSN:    cfg.Storage.ArchiveDSN,
		})
	})
}

func (p *Provider) registerLedgers() {
	cfg := p.cfg
	p.container.RegisterBuilder(ServiceDecisions, func(c *Container) (any, error) {
		secret, err := cfg.Secret()
		if err != nil {
			return nil, err
		}
		clk := c.MustGet(ServiceClock).(clock.Clock)
		dl := ledger.NewDecisionLedger(secret, clk.Now)
		if cfg.Ledger.Persist {
			dl.WithStore(c.MustGet(ServiceLedgerStore).(*ledgerstore.Store))
		}
		return dl, nil
	})
	p.container.RegisterBuilder(ServiceSettlements, func(c *Container) (any, error) {
		sl := ledger.NewSettlementLedger()
		if cfg.Ledger.Persist {
			sl.WithStore(c.MustGet(ServiceLedgerStore).(*ledgerstore.Store))
		}
		return sl, nil
	})
	p.container.RegisterBuilder(ServiceVersions, func(c *Container) (any, error) {
		clk := c.MustGet(ServiceClock).(clock.Clock)
		h := version.NetworkHistory()
		if latest, ok := h.Latest(); ok {
			h.SetCurrent(latest.Version)
		}
		m := version.NewManager(h, p.log, clk.Now)
		if cfg.Ledger.Persist {
			m.WithSink(c.MustGet(ServiceLedgerStore).(*ledgerstore.Store))
		}
		return m, nil
	})
}

func (p *Provider) registerCore() {
	cfg := p.cfg
	c := p.container

	c.RegisterBuilder(ServiceAccounts, func(c *Container) (any, error) {
		return account.NewService(), nil
	})
	c.RegisterBuilder(ServiceSanctions, func(c *Container) (any, error) {
		return account.NewStaticSanctions(), nil
	})
	c.RegisterBuilder(ServiceCreditLimits, func(c *Container) (any, error) {
		accounts := c.MustGet(ServiceAccounts).(*account.Service)
		return account.NewCreditLimitCache(cacheSize, func(buyerID string) (decimal.Decimal, decimal.Decimal, error) {
			a, ok := accounts.Get(buyerID)
			if !ok {
				return decimal.Zero, decimal.Zero, fmt.Errorf("no account %s", buyerID)
			}
			return a.CreditLimit, a.OutstandingBalance, nil
		})
	})
	c.RegisterBuilder(ServiceKeys, func(c *Container) (any, error) {
		return crypto.NewKeyRegistry(), nil
	})
	c.RegisterBuilder(ServiceInvoices, func(c *Container) (any, error) {
		return invoice.NewStore(), nil
	})
	c.RegisterBuilder(ServiceQuotes, func(c *Container) (any, error) {
		clk := c.MustGet(ServiceClock).(clock.Clock)
		return pricing.NewService(clk, cacheSize)
	})
	c.RegisterBuilder(ServiceFraud, func(c *Container) (any, error) {
		clk := c.MustGet(ServiceClock).(clock.Clock)
		invoices := c.MustGet(ServiceInvoices).(*invoice.Store)
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		return fraud.NewEngine(orchestrator.NewStoreHistory(invoices, clk), clk, rng), nil
	})
	c.RegisterBuilder(ServiceFX, func(c *Container) (any, error) {
		clk := c.MustGet(ServiceClock).(clock.Clock)
		return fx.NewService(fx.NewStaticProvider(), clk, cacheSize)
	})
	c.RegisterBuilder(ServiceAuctions, func(c *Container) (any, error) {
		clk := c.MustGet(ServiceClock).(clock.Clock)
		bus := c.MustGet(ServiceAlertBus).(*alerts.Bus)
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		return auction.NewEngine(clk, rng, bus, p.log).WithWindow(cfg.Auction.BidWindow), nil
	})
	c.RegisterBuilder(ServiceRouter, func(c *Container) (any, error) {
		clk := c.MustGet(ServiceClock).(clock.Clock)
		return rail.NewRouter(clk), nil
	})
	c.RegisterBuilder(ServiceBalances, func(c *Container) (any, error) {
		return balance.NewService(balance.LatencyTransport{}), nil
	})
	c.RegisterBuilder(ServiceStats, func(c *Container) (any, error) {
		return settlement.NewStats(), nil
	})

	c.RegisterBuilder(ServiceRegistry, func(c *Container) (any, error) {
		reg := invariant.NewRegistry()
		catalog.Register(reg, p.deps(c))
		return reg, nil
	})
	c.RegisterBuilder(ServiceKernel, func(c *Container) (any, error) {
		reg := c.MustGet(ServiceRegistry).(*invariant.Registry)
		dl := c.MustGet(ServiceDecisions).(*ledger.DecisionLedger)
		mode := c.MustGet(ServiceSysMode).(*sysmode.Machine)
		m := c.MustGet(ServiceMetrics).(*metrics.Metrics)
		return enforce.NewKernel(reg, dl, mode, m, p.log), nil
	})
	c.RegisterBuilder(ServiceEngine, func(c *Container) (any, error) {
		kernel := c.MustGet(ServiceKernel).(*enforce.Kernel)
		sl := c.MustGet(ServiceSettlements).(*ledger.SettlementLedger)
		balances := c.MustGet(ServiceBalances).(*balance.Service)
		router := c.MustGet(ServiceRouter).(*rail.Router)
		clk := c.MustGet(ServiceClock).(clock.Clock)
		m := c.MustGet(ServiceMetrics).(*metrics.Metrics)
		return settlement.NewEngine(kernel, sl, balances, router, clk, m, p.log).
			WithDeadline(cfg.Settlement.Deadline), nil
	})
	c.RegisterBuilder(ServiceOrchestrator, func(c *Container) (any, error) {
		kernel := c.MustGet(ServiceKernel).(*enforce.Kernel)
		engine := c.MustGet(ServiceEngine).(*settlement.Engine)
		mode := c.MustGet(ServiceSysMode).(*sysmode.Machine)
		clk := c.MustGet(ServiceClock).(clock.Clock)
		m := c.MustGet(ServiceMetrics).(*metrics.Metrics)
		orch := orchestrator.New(kernel, p.deps(c), engine, mode, clk, m, p.log)
		if a, err := c.Get(ServiceArchive); err != nil {
			p.log.Warn("archive unavailable, continuing without it", zap.Error(err))
		} else if db := a.(*archive.DB); db != nil {
			orch.WithArchiver(db)
		}
		return orch, nil
	})
	c.RegisterBuilder(ServiceRecurring, func(c *Container) (any, error) {
		clk := c.MustGet(ServiceClock).(clock.Clock)
		orch := c.MustGet(ServiceOrchestrator).(*orchestrator.Orchestrator)
		create := func(ctx context.Context, t *recurring.Template, occurrenceID string, now time.Time) error {
			_, _, err := orch.CreateInvoice(ctx, orchestrator.CreateRequest{
				ID:         occurrenceID,
				SupplierID: t.SupplierID,
				BuyerID:    t.BuyerID,
				Amount:     t.Amount,
				Currency:   t.Currency,
				Terms:      t.Terms,
				LineItems: []invoice.LineItem{{
					Description: "Recurring charge " + t.ID,
					Quantity:    1,
					UnitPrice:   t.Amount,
				}},
			})
			return err
		}
		return recurring.NewGenerator(clk, create, p.log), nil
	})
}

// deps assembles the shared dependency bundle the invariant catalog and
// orchestrator both consume.
func (p *Provider) deps(c *Container) catalog.Deps {
	return catalog.Deps{
		Invoices:           c.MustGet(ServiceInvoices).(*invoice.Store),
		Accounts:           c.MustGet(ServiceAccounts).(*account.Service),
		Sanctions:          c.MustGet(ServiceSanctions).(*account.StaticSanctions),
		CreditLimits:       c.MustGet(ServiceCreditLimits).(*account.CreditLimitCache),
		Keys:               c.MustGet(ServiceKeys).(*crypto.KeyRegistry),
		Quotes:             c.MustGet(ServiceQuotes).(*pricing.Service),
		Fraud:              c.MustGet(ServiceFraud).(*fraud.Engine),
		FX:                 c.MustGet(ServiceFX).(*fx.Service),
		Auctions:           c.MustGet(ServiceAuctions).(*auction.Engine),
		Router:             c.MustGet(ServiceRouter).(*rail.Router),
		Balances:           c.MustGet(ServiceBalances).(*balance.Service),
		Decisions:          c.MustGet(ServiceDecisions).(*ledger.DecisionLedger),
		Settlements:        c.MustGet(ServiceSettlements).(*ledger.SettlementLedger),
		Bus:                c.MustGet(ServiceAlertBus).(*alerts.Bus),
		Stats:              c.MustGet(ServiceStats).(*settlement.Stats),
		InvoiceHourlyLimit: p.cfg.Limits.InvoicesPerHour,
		BaseCurrency:       p.cfg.BaseCurrency,
	}
}

func (p *Provider) registerServers() {
	cfg := p.cfg
	c := p.container

	c.RegisterBuilder(ServiceWS, func(c *Container) (any, error) {
		pub := ws.NewPublisher(p.log)
		c.MustGet(ServiceAlertBus).(*alerts.Bus).Subscribe(pub)
		return pub, nil
	})
	c.RegisterBuilder(ServiceREST, func(c *Container) (any, error) {
		orch := c.MustGet(ServiceOrchestrator).(*orchestrator.Orchestrator)
		mode := c.MustGet(ServiceSysMode).(*sysmode.Machine)
		m := c.MustGet(ServiceMetrics).(*metrics.Metrics)
		mgr := c.MustGet(ServiceVersions).(*version.Manager)

		var alertStream http.Handler
		if cfg.Server.WSEnabled {
			alertStream = c.MustGet(ServiceWS).(*ws.Publisher)
		}
		return rest.New(rest.Config{Addr: cfg.Server.RESTAddr}, orch, mode, m,
			mgr.History().Current(), alertStream, p.log), nil
	})
	c.RegisterBuilder(ServiceGRPCHealth, func(c *Container) (any, error) {
		mode := c.MustGet(ServiceSysMode).(*sysmode.Machine)
		return grpchealth.New(cfg.Server.GRPCAddr, mode, p.log), nil
	})
}

// Typed accessors for the wiring code.

func (p *Provider) Orchestrator() *orchestrator.Orchestrator {
	return p.container.MustGet(ServiceOrchestrator).(*orchestrator.Orchestrator)
}

func (p *Provider) REST() *rest.Server {
	return p.container.MustGet(ServiceREST).(*rest.Server)
}

func (p *Provider) GRPCHealth() *grpchealth.Server {
	return p.container.MustGet(ServiceGRPCHealth).(*grpchealth.Server)
}

func (p *Provider) Recurring() *recurring.Generator {
	return p.container.MustGet(ServiceRecurring).(*recurring.Generator)
}

func (p *Provider) Versions() *version.Manager {
	return p.container.MustGet(ServiceVersions).(*version.Manager)
}

// Close releases held resources, the key-value store above all.
func (p *Provider) Close() error {
	var firstErr error
	if p.container.Has(ServiceKV) {
		if db, err := p.container.Get(ServiceKV); err == nil {
			if closer, ok := db.(kv.DB); ok {
				if err := closer.Close(); err != nil && firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	if p.container.Has(ServiceArchive) {
		if a, err := p.container.Get(ServiceArchive); err == nil {
			if db, ok := a.(*archive.DB); ok && db != nil {
				if err := db.Close(); err != nil && firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	return firstErr
}
