package alerts

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEmitFansOutToAllSinks(t *testing.T) {
	at := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	bus := NewBus(zap.NewNop()).WithNow(func() time.Time { return at })

	var first, second []Alert
	bus.Subscribe(SinkFunc(func(a Alert) { first = append(first, a) }))
	bus.Subscribe(SinkFunc(func(a Alert) { second = append(second, a) }))

	got := bus.Emit(SeverityWarning, CodeLowLiquidity, "only one bid", "INV-1")

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, got, first[0])
	assert.Equal(t, CodeLowLiquidity, got.Code)
	assert.Equal(t, SeverityWarning, got.Severity)
	assert.Equal(t, "INV-1", got.InvoiceID)
	assert.True(t, got.At.Equal(at))
	assert.True(t, strings.HasPrefix(got.ID, "ALT-"))
}

func TestEmitWithoutSubscribers(t *testing.T) {
	bus := NewBus(zap.NewNop())
	a := bus.Emit(SeverityCritical, CodeSystemFrozen, "ledger drift", "")
	assert.Equal(t, CodeSystemFrozen, a.Code)
	assert.Empty(t, a.InvoiceID)
}

func TestAlertIDsUnique(t *testing.T) {
	bus := NewBus(zap.NewNop())
	a := bus.Emit(SeverityInfo, CodeDegradedService, "m", "")
	b := bus.Emit(SeverityInfo, CodeDegradedService, "m", "")
	assert.NotEqual(t, a.ID, b.ID)
}
