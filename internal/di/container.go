// Package di wires the process: a small service container plus the
// provider that builds the full object graph from the configuration.
package di

import (
	"errors"
	"sync"
)

// Container registers service instances and lazy builders by name.
type Container struct {
	mu       sync.RWMutex
	services map[string]any
	builders map[string]Builder
}

// Builder constructs a service on first use.
type Builder func(c *Container) (any, error)

func New() *Container {
	return &Container{
		services: make(map[string]any),
		builders: make(map[string]Builder),
	}
}

// Register stores a ready service instance.
func (c *Container) Register(name string, service any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.services[name] = service
}

// RegisterBuilder stores a builder for lazy instantiation.
func (c *Container) RegisterBuilder(name string, builder Builder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.builders[name] = builder
}

// Get resolves a service, building it on first use.
func (c *Container) Get(name string) (any, error) {
	c.mu.RLock()
	service, exists := c.services[name]
	c.mu.RUnlock()
	if exists {
		return service, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Another goroutine may have built it while we waited.
	if service, exists := c.services[name]; exists {
		return service, nil
	}
	builder, ok := c.builders[name]
	if !ok {
		return nil, errors.New("service not found: " + name)
	}
	service, err := builder(c)
	if err != nil {
		return nil, err
	}
	c.services[name] = service
	return service, nil
}

// MustGet resolves a service or panics. For wiring code only.
func (c *Container) MustGet(name string) any {
	service, err := c.Get(name)
	if err != nil {
		panic(err)
	}
	return service
}

// Has reports whether a service or builder is registered.
func (c *Container) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.services[name]; ok {
		return true
	}
	_, ok := c.builders[name]
	return ok
}

// Service name constants.
const (
	ServiceConfig       = "config"
	ServiceLogger       = "logger"
	ServiceMetrics      = "metrics"
	ServiceClock        = "clock"
	ServiceAlertBus     = "alerts.bus"
	ServiceSysMode      = "sysmode"
	ServiceKV           = "storage.kv"
	ServiceLedgerStore  = "storage.ledgerstore"
	ServiceArchive      = "storage.archive"
	ServiceDecisions    = "ledger.decisions"
	ServiceSettlements  = "ledger.settlements"
	ServiceRegistry     = "invariant.registry"
	ServiceKernel       = "enforce.kernel"
	ServiceAccounts     = "accounts"
	ServiceSanctions    = "accounts.sanctions"
	ServiceCreditLimits = "accounts.creditlimits"
	ServiceKeys         = "crypto.keys"
	ServiceInvoices     = "invoices"
	ServiceQuotes       = "pricing"
	ServiceFraud        = "fraud"
	ServiceFX           = "fx"
	ServiceAuctions     = "auction"
	ServiceRouter       = "rail.router"
	ServiceBalances     = "balances"
	ServiceStats        = "settlement.stats"
	ServiceEngine       = "settlement.engine"
	ServiceOrchestrator = "orchestrator"
	ServiceRecurring    = "recurring"
	ServiceVersions     = "versions"
	ServiceWS           = "server.ws"
	ServiceREST         = "server.rest"
	ServiceGRPCHealth   = "server.grpchealth"
)
