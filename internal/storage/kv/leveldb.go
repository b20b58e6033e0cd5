package kv

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB is the lighter-weight alternative backend.
type LevelDB struct {
	db   *leveldb.DB
	open int64
}

// OpenLevelDB opens (creating if missing) a leveldb database at path.
func OpenLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db, open: 1}, nil
}

func (l *LevelDB) isOpen() bool { return atomic.LoadInt64(&l.open) != 0 }

func (l *LevelDB) Read(ctx context.Context, key []byte) ([]byte, error) {
	if !l.isOpen() {
		return nil, ErrClosed
	}
	value, err := l.db.Get(key, nil)
	if err != nil {
		if errors.Is(err, ldberrors.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return value, nil
}

func (l *LevelDB) Write(ctx context.Context, key, value []byte) error {
	if !l.isOpen() {
		return ErrClosed
	}
	return l.db.Put(key, value, nil)
}

func (l *LevelDB) Delete(ctx context.Context, key []byte) error {
	if !l.isOpen() {
		return ErrClosed
	}
	return l.db.Delete(key, nil)
}

func (l *LevelDB) Batch(ctx context.Context, ops []BatchOperation) error {
	if !l.isOpen() {
		return ErrClosed
	}
	batch := new(leveldb.Batch)
	for _, op := range ops {
		switch op.Type {
		case BatchPut:
			batch.Put(op.Key, op.Value)
		case BatchDelete:
			batch.Delete(op.Key)
		}
	}
	return l.db.Write(batch, nil)
}

func (l *LevelDB) Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error {
	if !l.isOpen() {
		return ErrClosed
	}
	iter := l.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (l *LevelDB) Close() error {
	if !atomic.CompareAndSwapInt64(&l.open, 1, 0) {
		return nil
	}
	return l.db.Close()
}
