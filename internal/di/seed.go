package di

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/instanttrade/itnd/internal/core/account"
	"github.com/instanttrade/itnd/internal/core/auction"
	"github.com/instanttrade/itnd/internal/core/balance"
	"github.com/instanttrade/itnd/internal/core/rail"
	"github.com/instanttrade/itnd/internal/crypto"
)

// SeedDemo loads the demo network: suppliers, buyers with signing
// keys, capital providers and the three settlement rails. It returns
// the generated buyer private keys so a demo client can sign
// acceptances.
func (p *Provider) SeedDemo() (map[string]ed25519.PrivateKey, error) {
	c := p.container
	accounts := c.MustGet(ServiceAccounts).(*account.Service)
	balances := c.MustGet(ServiceBalances).(*balance.Service)
	auctions := c.MustGet(ServiceAuctions).(*auction.Engine)
	router := c.MustGet(ServiceRouter).(*rail.Router)
	keys := c.MustGet(ServiceKeys).(*crypto.KeyRegistry)

	for _, id := range []string{"SUP-001", "SUP-002", "SUP-003"} {
		accounts.Put(&account.Account{ID: id, Status: account.StatusActive, KYC: account.KYCVerified})
	}
	accounts.Put(&account.Account{
		ID: "BUY-001", Status: account.StatusActive, KYC: account.KYCVerified,
		CreditLimit: decimal.NewFromInt(1_000_000),
	})
	accounts.Put(&account.Account{
		ID: "BUY-002", Status: account.StatusSuspended, KYC: account.KYCVerified,
		CreditLimit: decimal.NewFromInt(500_000),
	})
	accounts.Put(&account.Account{
		ID: "BUY-003", Status: account.StatusActive, KYC: account.KYCPending,
		CreditLimit: decimal.NewFromInt(250_000),
	})
	balances.SetBalance("BUY-001", decimal.NewFromInt(5_000_000))
	balances.SetBalance("BUY-002", decimal.NewFromInt(1_000_000))
	balances.SetBalance("BUY-003", decimal.NewFromInt(500_000))

	allTerms := []int{0, 15, 30, 45, 60, 90}
	minDeal := decimal.NewFromInt(100)
	maxDeal := decimal.NewFromInt(10_000_000)
	providers := []struct {
		id        string
		liquidity int64
		risk      auction.RiskAppetite
	}{
		{"CAP-001", 5_000_000, auction.RiskLow},
		{"CAP-002", 10_000_000, auction.RiskMedium},
		{"CAP-003", 3_000_000, auction.RiskHigh},
		{"CAP-004", 7_000_000, auction.RiskMedium},
	}
	for _, cp := range providers {
		liquidity := decimal.NewFromInt(cp.liquidity)
		auctions.RegisterProvider(auction.NewProvider(cp.id, liquidity, minDeal, maxDeal, allTerms, cp.risk))
		accounts.Put(&account.Account{ID: cp.id, Status: account.StatusActive, KYC: account.KYCVerified})
		balances.SetBalance(cp.id, liquidity)
	}

	router.Register(rail.New("RTP", 200*time.Millisecond, 500*time.Millisecond, 0.999,
		decimal.NewFromFloat(0.25), decimal.NewFromInt(25_000_000)))
	router.Register(rail.New("FedNow", 300*time.Millisecond, 800*time.Millisecond, 0.995,
		decimal.NewFromFloat(0.10), decimal.NewFromInt(50_000_000)))
	router.Register(rail.New("ACH", time.Second, 2*time.Second, 0.99,
		decimal.NewFromFloat(0.05), decimal.NewFromInt(100_000_000)))
	router.HealthCheckAll()

	priv := make(map[string]ed25519.PrivateKey)
	for _, buyer := range []string{"BUY-001", "BUY-002", "BUY-003"} {
		pub, key, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate key for %s: %w", buyer, err)
		}
		keys.Register(buyer, crypto.PublicKey{Algorithm: crypto.AlgEd25519, Bytes: pub})
		priv[buyer] = key
	}
	return priv, nil
}
