// Package account holds network participants (suppliers, buyers,
// capital providers) and the compliance collaborators: sanctions
// screening, KYC status and the decaying credit-limit cache.
package account

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusSuspended Status = "SUSPENDED"
	StatusFrozen    Status = "FROZEN"
)

type KYCStatus string

const (
	KYCVerified KYCStatus = "VERIFIED"
	KYCPending  KYCStatus = "PENDING"
	KYCRejected KYCStatus = "REJECTED"
)

type Account struct {
	ID     string    `json:"id"`
	Status Status    `json:"status"`
	KYC    KYCStatus `json:"kyc_status"`

	Balance decimal.Decimal `json:"balance"`

	// Buyer-only fields.
	CreditLimit        decimal.Decimal `json:"credit_limit"`
	OutstandingBalance decimal.Decimal `json:"outstanding_balance"`
}

// Service is the account registry.
type Service struct {
	mu       sync.RWMutex
	accounts map[string]*Account
}

func NewService() *Service {
	return &Service{accounts: make(map[string]*Account)}
}

func (s *Service) Put(a *Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
}

func (s *Service) Get(id string) (*Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	return a, ok
}

// Freeze marks the account FROZEN. Used by the sanctions remediation.
func (s *Service) Freeze(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[id]; ok {
		a.Status = StatusFrozen
	}
}

// IsActive reports whether the account exists and is ACTIVE.
func (s *Service) IsActive(id string) bool {
	a, ok := s.Get(id)
	return ok && a.Status == StatusActive
}

// SanctionsChecker screens parties against the sanctions list.
type SanctionsChecker interface {
	IsSanctioned(accountID string) bool
}

// StaticSanctions is the in-memory screening backend.
type StaticSanctions struct {
	mu   sync.RWMutex
	list map[string]bool
}

func NewStaticSanctions(ids ...string) *StaticSanctions {
	list := make(map[string]bool, len(ids))
	for _, id := range ids {
		list[id] = true
	}
	return &StaticSanctions{list: list}
}

func (s *StaticSanctions) Add(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.list[id] = true
}

func (s *StaticSanctions) IsSanctioned(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list[id]
}

// CreditLimitLoader fetches the current credit limit and outstanding
// balance for a buyer from the system of record.
type CreditLimitLoader func(buyerID string) (limit, outstanding decimal.Decimal, err error)

type cachedLimit struct {
	limit       decimal.Decimal
	outstanding decimal.Decimal
	fetchedAt   time.Time
}

// CreditLimitCache caches buyer credit limits; entries older than the
// decay window are re-fetched.
type CreditLimitCache struct {
	cache  *lru.Cache[string, cachedLimit]
	loader CreditLimitLoader
	maxAge time.Duration
}

// CreditLimitMaxAge is the decay window for cached credit limits.
const CreditLimitMaxAge = time.Hour

func NewCreditLimitCache(size int, loader CreditLimitLoader) (*CreditLimitCache, error) {
	c, err := lru.New[string, cachedLimit](size)
	if err != nil {
		return nil, err
	}
	return &CreditLimitCache{cache: c, loader: loader, maxAge: CreditLimitMaxAge}, nil
}

// Get returns the buyer's limit and outstanding balance, re-fetching
// when the cached value is stale.
func (c *CreditLimitCache) Get(buyerID string, now time.Time) (limit, outstanding decimal.Decimal, err error) {
	if entry, ok := c.cache.Get(buyerID); ok && now.Sub(entry.fetchedAt) <= c.maxAge {
		return entry.limit, entry.outstanding, nil
	}
	limit, outstanding, err = c.loader(buyerID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	c.cache.Add(buyerID, cachedLimit{limit: limit, outstanding: outstanding, fetchedAt: now})
	return limit, outstanding, nil
}

// Invalidate drops a cached entry, forcing the next Get to re-fetch.
func (c *CreditLimitCache) Invalidate(buyerID string) {
	c.cache.Remove(buyerID)
}
