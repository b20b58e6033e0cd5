package balance

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/instanttrade/itnd/internal/core/rail"
)

func testRail() *rail.Rail {
	return rail.New("RTP", 200*time.Millisecond, 500*time.Millisecond, 0.999,
		decimal.NewFromFloat(0.25), decimal.NewFromInt(25_000_000))
}

func TestCreditDebit(t *testing.T) {
	s := NewService(InstantTransport{})
	s.SetBalance("BUY-001", decimal.NewFromInt(1000))

	s.Credit("BUY-001", decimal.NewFromInt(250))
	assert.Equal(t, "1250", s.Balance("BUY-001").String())

	require.NoError(t, s.Debit("BUY-001", decimal.NewFromInt(1250)))
	assert.True(t, s.Balance("BUY-001").IsZero())

	err := s.Debit("BUY-001", decimal.NewFromInt(1))
	var ierr *InsufficientFundsError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, "BUY-001", ierr.Account)
	assert.True(t, s.Balance("BUY-001").IsZero(), "failed debit must not move money")
}

func TestSnapshotRestore(t *testing.T) {
	s := NewService(InstantTransport{})
	s.SetBalance("BUY-001", decimal.NewFromInt(1000))
	s.SetBalance("SUP-001", decimal.NewFromInt(500))

	token := s.Snapshot()
	require.NoError(t, s.Debit("BUY-001", decimal.NewFromInt(400)))
	s.Credit("SUP-001", decimal.NewFromInt(400))

	require.NoError(t, s.Restore(token))
	assert.Equal(t, "1000", s.Balance("BUY-001").String())
	assert.Equal(t, "500", s.Balance("SUP-001").String())

	// The token survives a restore so a retried rollback is a no-op.
	require.NoError(t, s.Restore(token))

	s.Release(token)
	assert.Error(t, s.Restore(token))
	assert.Error(t, s.Restore("SNAP-unknown"))
}

func TestTransfer(t *testing.T) {
	s := NewService(InstantTransport{})
	s.SetBalance("BUY-001", decimal.NewFromInt(100_000))
	r := testRail()

	txnID, err := s.Transfer(context.Background(), r, "BUY-001", "SUP-001", decimal.NewFromInt(50_000))
	require.NoError(t, err)
	assert.NotEmpty(t, txnID)
	assert.Equal(t, "50000", s.Balance("BUY-001").String())
	assert.Equal(t, "50000", s.Balance("SUP-001").String())
	assert.Equal(t, "50000", r.CurrentVolume().String())
}

func TestTransferInsufficientFunds(t *testing.T) {
	s := NewService(InstantTransport{})
	s.SetBalance("BUY-001", decimal.NewFromInt(10))
	r := testRail()

	_, err := s.Transfer(context.Background(), r, "BUY-001", "SUP-001", decimal.NewFromInt(50_000))
	var ierr *InsufficientFundsError
	require.ErrorAs(t, err, &ierr)
	assert.True(t, r.CurrentVolume().IsZero(), "failed transfer must not count volume")
	assert.True(t, s.Balance("SUP-001").IsZero())
}

func TestTransferCanceledContext(t *testing.T) {
	s := NewService(InstantTransport{})
	s.SetBalance("BUY-001", decimal.NewFromInt(100_000))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Transfer(ctx, testRail(), "BUY-001", "SUP-001", decimal.NewFromInt(1000))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "100000", s.Balance("BUY-001").String())
}

func TestLatencyTransportHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := LatencyTransport{}.Transfer(ctx, testRail(), "A", "B", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, context.Canceled)
}
