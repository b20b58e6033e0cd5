package kv

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
)

// Pebble is the LSM-tree backend, the default for production nodes.
type Pebble struct {
	db   *pebble.DB
	open int64
}

// OpenPebble opens (creating if missing) a pebble database at path.
func OpenPebble(path string) (*Pebble, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &Pebble{db: db, open: 1}, nil
}

func (p *Pebble) isOpen() bool { return atomic.LoadInt64(&p.open) != 0 }

func (p *Pebble) Read(ctx context.Context, key []byte) ([]byte, error) {
	if !p.isOpen() {
		return nil, ErrClosed
	}
	value, closer, err := p.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (p *Pebble) Write(ctx context.Context, key, value []byte) error {
	if !p.isOpen() {
		return ErrClosed
	}
	return p.db.Set(key, value, pebble.NoSync)
}

func (p *Pebble) Delete(ctx context.Context, key []byte) error {
	if !p.isOpen() {
		return ErrClosed
	}
	return p.db.Delete(key, pebble.NoSync)
}

func (p *Pebble) Batch(ctx context.Context, ops []BatchOperation) error {
	if !p.isOpen() {
		return ErrClosed
	}
	b := p.db.NewBatch()
	defer b.Close()
	for _, op := range ops {
		switch op.Type {
		case BatchPut:
			if err := b.Set(op.Key, op.Value, nil); err != nil {
				return err
			}
		case BatchDelete:
			if err := b.Delete(op.Key, nil); err != nil {
				return err
			}
		}
	}
	return b.Commit(pebble.Sync)
}

func (p *Pebble) Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error {
	if !p.isOpen() {
		return ErrClosed
	}
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixEnd(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (p *Pebble) Close() error {
	if !atomic.CompareAndSwapInt64(&p.open, 1, 0) {
		return nil
	}
	if err := p.db.Flush(); err != nil {
		_ = p.db.Close()
		return err
	}
	return p.db.Close()
}
