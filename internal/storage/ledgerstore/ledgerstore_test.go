package ledgerstore

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/instanttrade/itnd/internal/core/invariant"
	"github.com/instanttrade/itnd/internal/core/ledger"
	"github.com/instanttrade/itnd/internal/core/version"
	"github.com/instanttrade/itnd/internal/storage/kv"
)

func TestDecisionRoundTrip(t *testing.T) {
	store := New(kv.NewMemory())
	at := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	// A bulky state payload crosses the compression threshold.
	bulky := map[string]any{"detail": strings.Repeat("invoice INV-1 pending; ", 20)}
	for seq := uint64(0); seq < 3; seq++ {
		require.NoError(t, store.AppendDecision(ledger.Entry{
			Seq:         seq,
			InvariantID: invariant.ID("001"),
			Phase:       invariant.PhasePre,
			Result:      true,
			Action:      ledger.ActionProceed,
			Timestamp:   at.Add(time.Duration(seq) * time.Second),
			State:       bulky,
			Signature:   []byte{0xde, 0xad},
		}))
	}

	got, err := store.Decisions(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, e := range got {
		assert.Equal(t, uint64(i), e.Seq)
		assert.Equal(t, invariant.ID("001"), e.InvariantID)
		assert.True(t, e.Result)
		assert.Equal(t, []byte{0xde, 0xad}, e.Signature)
		assert.True(t, e.Timestamp.Equal(at.Add(time.Duration(i)*time.Second)))
	}
}

func TestSettlementEventOrder(t *testing.T) {
	store := New(kv.NewMemory())
	at := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	for _, id := range []string{"EVT-1", "EVT-2", "EVT-3"} {
		require.NoError(t, store.AppendSettlementEvent(ledger.Event{
			ID:        id,
			InvoiceID: "INV-1",
			Account:   "SUP-001",
			Direction: ledger.DirCredit,
			Kind:      ledger.KindLeg,
			Amount:    decimal.NewFromFloat(50_205.48),
			At:        at,
		}))
	}

	got, err := store.SettlementEvents(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "EVT-1", got[0].ID)
	assert.Equal(t, "EVT-3", got[2].ID)
	assert.True(t, got[0].Amount.Equal(decimal.NewFromFloat(50_205.48)))
}

func TestMigrationRecordRoundTrip(t *testing.T) {
	store := New(kv.NewMemory())
	at := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

	require.NoError(t, store.AppendMigrationRecord(version.Record{
		MigrationID: "migration_20260310_140000",
		FromVersion: "1.0.0",
		ToVersion:   "2.1.0",
		Path:        []string{"1.1.0", "2.0.0", "2.1.0"},
		StartedAt:   at,
		CompletedAt: at.Add(time.Second),
		Status:      version.MigrationCompleted,
	}))

	got, err := store.MigrationRecords(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "2.1.0", got[0].ToVersion)
	assert.Equal(t, []string{"1.1.0", "2.0.0", "2.1.0"}, got[0].Path)
	assert.Equal(t, version.MigrationCompleted, got[0].Status)
}

func TestSeqKeyOrdering(t *testing.T) {
	// Fixed-width hex keys keep lexicographic order numeric well past
	// single digits.
	assert.Less(t, string(seqKey([]byte("e/"), 9)), string(seqKey([]byte("e/"), 10)))
	assert.Less(t, string(seqKey([]byte("e/"), 255)), string(seqKey([]byte("e/"), 256)))
}

func TestEncodeSmallRecordsUncompressed(t *testing.T) {
	store := New(kv.NewMemory())

	small, err := store.encode(map[string]string{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, byte(0), small[0])

	large, err := store.encode(map[string]string{"k": strings.Repeat("itn settlement ledger ", 30)})
	require.NoError(t, err)
	assert.Equal(t, byte(1), large[0])
	assert.Less(t, len(large), 1+4+30*len("itn settlement ledger "))

	var decoded map[string]string
	require.NoError(t, store.decode(large, &decoded))
	assert.Equal(t, strings.Repeat("itn settlement ledger ", 30), decoded["k"])

	assert.Error(t, store.decode(nil, &decoded))
	assert.Error(t, store.decode([]byte{1, 0, 0}, &decoded))
}
