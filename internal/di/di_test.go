package di

import (
	"crypto/ed25519"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/instanttrade/itnd/internal/config"
	"github.com/instanttrade/itnd/internal/core/account"
	"github.com/instanttrade/itnd/internal/core/rail"
	"github.com/instanttrade/itnd/internal/crypto"
)

func TestContainerRegisterAndGet(t *testing.T) {
	c := New()
	c.Register("answer", 42)

	got, err := c.Get("answer")
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.True(t, c.Has("answer"))
	assert.False(t, c.Has("question"))

	_, err = c.Get("question")
	assert.Error(t, err)
}

func TestContainerLazyBuilder(t *testing.T) {
	c := New()
	builds := 0
	c.RegisterBuilder("lazy", func(c *Container) (any, error) {
		builds++
		return "built", nil
	})

	assert.True(t, c.Has("lazy"))
	assert.Equal(t, 0, builds, "nothing constructed before first Get")

	for i := 0; i < 3; i++ {
		got, err := c.Get("lazy")
		require.NoError(t, err)
		assert.Equal(t, "built", got)
	}
	assert.Equal(t, 1, builds, "builder runs once")
}

func TestContainerBuilderError(t *testing.T) {
	c := New()
	boom := errors.New("boom")
	c.RegisterBuilder("broken", func(c *Container) (any, error) { return nil, boom })

	_, err := c.Get("broken")
	assert.ErrorIs(t, err, boom)
	assert.Panics(t, func() { c.MustGet("broken") })
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("ITND_LEDGER_SECRET", "test-secret")
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Storage.Backend = "memory"
	cfg.Storage.ArchiveDriver = ""
	cfg.Storage.ArchiveDSN = ""
	return cfg
}

func TestProviderResolvesFullGraph(t *testing.T) {
	p := NewProvider(New(), testConfig(t), zap.NewNop())
	p.RegisterAll()
	t.Cleanup(func() { _ = p.Close() })

	assert.NotNil(t, p.Orchestrator())
	assert.NotNil(t, p.REST())
	assert.NotNil(t, p.GRPCHealth())
	assert.NotNil(t, p.Recurring())
	assert.NotNil(t, p.Versions())

	// The version history is pinned to the latest network version.
	assert.Equal(t, "2.1.0", p.Versions().History().Current())
}

func TestProviderMissingLedgerSecret(t *testing.T) {
	cfg := testConfig(t)
	t.Setenv("ITND_LEDGER_SECRET", "")

	p := NewProvider(New(), cfg, zap.NewNop())
	p.RegisterAll()
	t.Cleanup(func() { _ = p.Close() })

	_, err := p.container.Get(ServiceDecisions)
	assert.Error(t, err)
}

func TestSeedDemo(t *testing.T) {
	p := NewProvider(New(), testConfig(t), zap.NewNop())
	p.RegisterAll()
	t.Cleanup(func() { _ = p.Close() })

	keys, err := p.SeedDemo()
	require.NoError(t, err)
	require.Len(t, keys, 3)
	for _, buyer := range []string{"BUY-001", "BUY-002", "BUY-003"} {
		assert.Contains(t, keys, buyer)
	}

	accounts := p.container.MustGet(ServiceAccounts).(*account.Service)
	a, ok := accounts.Get("BUY-002")
	require.True(t, ok)
	assert.Equal(t, account.StatusSuspended, a.Status)
	_, ok = accounts.Get("CAP-004")
	assert.True(t, ok)

	router := p.container.MustGet(ServiceRouter).(*rail.Router)
	rails := router.Rails()
	require.Len(t, rails, 3)
	for _, r := range rails {
		assert.Equal(t, rail.StatusUp, r.Status(), r.Name)
	}

	reg := p.container.MustGet(ServiceKeys).(*crypto.KeyRegistry)
	msg := []byte("payload")
	ok, err = reg.VerifyFor("BUY-001", msg, ed25519.Sign(keys["BUY-001"], msg))
	require.NoError(t, err)
	assert.True(t, ok)
}
