package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestEqualWithinTolerance(t *testing.T) {
	a := decimal.NewFromFloat(100.00)
	assert.True(t, Equal(a, decimal.NewFromFloat(100.01)))
	assert.True(t, Equal(a, decimal.NewFromFloat(99.99)))
	assert.False(t, Equal(a, decimal.NewFromFloat(100.02)))
	assert.False(t, Equal(a, decimal.NewFromFloat(99.98)))
}

func TestIsZero(t *testing.T) {
	assert.True(t, IsZero(decimal.Zero))
	assert.True(t, IsZero(decimal.NewFromFloat(0.01)))
	assert.True(t, IsZero(decimal.NewFromFloat(-0.01)))
	assert.False(t, IsZero(decimal.NewFromFloat(0.02)))
}

func TestRounding(t *testing.T) {
	assert.Equal(t, "50205.48", Round(decimal.NewFromFloat(50205.479452)).StringFixed(2))
	assert.Equal(t, "0.13", FromFloat(0.125).StringFixed(2))
	assert.Equal(t, "500.00", FromInt(500).StringFixed(2))
}

func TestMulRoundsToCents(t *testing.T) {
	got := Mul(decimal.NewFromInt(50_000), decimal.NewFromFloat(0.0041))
	assert.Equal(t, "205.00", got.StringFixed(2))

	got = Mul(decimal.NewFromFloat(333.33), decimal.NewFromFloat(0.1))
	assert.Equal(t, "33.33", got.StringFixed(2))
}
