// Package ledgerstore persists the append-only ledgers (decision
// entries, settlement events, migration records) behind their
// in-memory logs. Values are CBOR encoded and LZ4 compressed when
// large enough to benefit.
package ledgerstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/pierrec/lz4"
	"github.com/ugorji/go/codec"

	"github.com/instanttrade/itnd/internal/core/ledger"
	"github.com/instanttrade/itnd/internal/core/version"
	"github.com/instanttrade/itnd/internal/storage/kv"
)

// Key prefixes per record stream.
var (
	prefixDecision  = []byte("d/")
	prefixEvent     = []byte("e/")
	prefixMigration = []byte("m/")
)

// minCompressSize leaves small records uncompressed; LZ4 cannot win on
// them.
const minCompressSize = 128

// Store implements ledger.Appender, ledger.EventAppender and
// version.RecordSink over a kv backend.
type Store struct {
	db     kv.DB
	handle codec.Handle

	mu     sync.Mutex
	evtSeq uint64
	migSeq uint64
}

func New(db kv.DB) *Store {
	return &Store{db: db, handle: new(codec.CborHandle)}
}

// AppendDecision persists one decision ledger entry, keyed by its
// sequence number.
func (s *Store) AppendDecision(e ledger.Entry) error {
	return s.put(prefixDecision, e.Seq, e)
}

// AppendSettlementEvent persists one settlement ledger event in append
// order.
func (s *Store) AppendSettlementEvent(e ledger.Event) error {
	s.mu.Lock()
	seq := s.evtSeq
	s.evtSeq++
	s.mu.Unlock()
	return s.put(prefixEvent, seq, e)
}

// AppendMigrationRecord persists one migration log record.
func (s *Store) AppendMigrationRecord(r version.Record) error {
	s.mu.Lock()
	seq := s.migSeq
	s.migSeq++
	s.mu.Unlock()
	return s.put(prefixMigration, seq, r)
}

// Decisions reads back every persisted decision entry in order.
func (s *Store) Decisions(ctx context.Context) ([]ledger.Entry, error) {
	var out []ledger.Entry
	err := s.db.Scan(ctx, prefixDecision, func(_, value []byte) error {
		var e ledger.Entry
		if err := s.decode(value, &e); err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	return out, err
}

// SettlementEvents reads back every persisted settlement event in
// order.
func (s *Store) SettlementEvents(ctx context.Context) ([]ledger.Event, error) {
	var out []ledger.Event
	err := s.db.Scan(ctx, prefixEvent, func(_, value []byte) error {
		var e ledger.Event
		if err := s.decode(value, &e); err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	return out, err
}

// MigrationRecords reads back the migration log in order.
func (s *Store) MigrationRecords(ctx context.Context) ([]version.Record, error) {
	var out []version.Record
	err := s.db.Scan(ctx, prefixMigration, func(_, value []byte) error {
		var r version.Record
		if err := s.decode(value, &r); err != nil {
			return err
		}
		out = append(out, r)
		return nil
	})
	return out, err
}

func (s *Store) put(prefix []byte, seq uint64, record any) error {
	value, err := s.encode(record)
	if err != nil {
		return err
	}
	return s.db.Write(context.Background(), seqKey(prefix, seq), value)
}

// seqKey builds a fixed-width hex key so lexicographic scan order is
// numeric order.
func seqKey(prefix []byte, seq uint64) []byte {
	return fmt.Appendf(nil, "%s%016x", prefix, seq)
}

// encode serializes the record and compresses it when worthwhile. The
// layout is one flag byte, the original length when compressed, then
// the payload.
func (s *Store) encode(record any) ([]byte, error) {
	var raw []byte
	if err := codec.NewEncoderBytes(&raw, s.handle).Encode(record); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}

	if len(raw) < minCompressSize {
		return append([]byte{0}, raw...), nil
	}

	compressed := make([]byte, lz4.CompressBlockBound(len(raw)))
	n, err := lz4.CompressBlock(raw, compressed, nil)
	if err != nil || n == 0 || n >= len(raw) {
		// Incompressible; store as-is.
		return append([]byte{0}, raw...), nil
	}

	out := make([]byte, 1+4+n)
	out[0] = 1
	binary.LittleEndian.PutUint32(out[1:5], uint32(len(raw)))
	copy(out[5:], compressed[:n])
	return out, nil
}

func (s *Store) decode(value []byte, record any) error {
	if len(value) < 1 {
		return fmt.Errorf("truncated record")
	}
	payload := value[1:]
	if value[0] == 1 {
		if len(payload) < 4 {
			return fmt.Errorf("truncated compressed record")
		}
		origLen := binary.LittleEndian.Uint32(payload[:4])
		raw := make([]byte, origLen)
		n, err := lz4.UncompressBlock(payload[4:], raw)
		if err != nil {
			return fmt.Errorf("decompress record: %w", err)
		}
		payload = raw[:n]
	}
	if err := codec.NewDecoderBytes(payload, s.handle).Decode(record); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	return nil
}
