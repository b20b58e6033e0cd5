package account

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceFreeze(t *testing.T) {
	s := NewService()
	s.Put(&Account{ID: "BUY-001", Status: StatusActive, KYC: KYCVerified})

	assert.True(t, s.IsActive("BUY-001"))
	assert.False(t, s.IsActive("BUY-404"))

	s.Freeze("BUY-001")
	a, ok := s.Get("BUY-001")
	require.True(t, ok)
	assert.Equal(t, StatusFrozen, a.Status)
	assert.False(t, s.IsActive("BUY-001"))

	s.Freeze("BUY-404") // unknown id is a no-op
}

func TestStaticSanctions(t *testing.T) {
	sc := NewStaticSanctions("EVIL-001")
	assert.True(t, sc.IsSanctioned("EVIL-001"))
	assert.False(t, sc.IsSanctioned("BUY-001"))

	sc.Add("BUY-001")
	assert.True(t, sc.IsSanctioned("BUY-001"))
}

func TestCreditLimitCacheDecay(t *testing.T) {
	fetches := 0
	cache, err := NewCreditLimitCache(16, func(buyerID string) (decimal.Decimal, decimal.Decimal, error) {
		fetches++
		return decimal.NewFromInt(1_000_000), decimal.NewFromInt(int64(fetches) * 1000), nil
	})
	require.NoError(t, err)

	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	limit, outstanding, err := cache.Get("BUY-001", now)
	require.NoError(t, err)
	assert.Equal(t, "1000000", limit.String())
	assert.Equal(t, "1000", outstanding.String())
	assert.Equal(t, 1, fetches)

	// Still cached at exactly the decay window.
	_, outstanding, err = cache.Get("BUY-001", now.Add(CreditLimitMaxAge))
	require.NoError(t, err)
	assert.Equal(t, "1000", outstanding.String())
	assert.Equal(t, 1, fetches)

	// Stale past the window.
	_, outstanding, err = cache.Get("BUY-001", now.Add(CreditLimitMaxAge+time.Second))
	require.NoError(t, err)
	assert.Equal(t, "2000", outstanding.String())
	assert.Equal(t, 2, fetches)
}

func TestCreditLimitCacheInvalidate(t *testing.T) {
	fetches := 0
	cache, err := NewCreditLimitCache(16, func(buyerID string) (decimal.Decimal, decimal.Decimal, error) {
		fetches++
		return decimal.NewFromInt(500_000), decimal.Zero, nil
	})
	require.NoError(t, err)

	now := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	_, _, err = cache.Get("BUY-001", now)
	require.NoError(t, err)
	cache.Invalidate("BUY-001")
	_, _, err = cache.Get("BUY-001", now)
	require.NoError(t, err)
	assert.Equal(t, 2, fetches)
}

func TestCreditLimitCacheLoaderError(t *testing.T) {
	boom := errors.New("system of record down")
	cache, err := NewCreditLimitCache(16, func(buyerID string) (decimal.Decimal, decimal.Decimal, error) {
		return decimal.Zero, decimal.Zero, boom
	})
	require.NoError(t, err)

	_, _, err = cache.Get("BUY-001", time.Now())
	assert.ErrorIs(t, err, boom)
}
