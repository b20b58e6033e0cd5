package kv

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openBackends builds one of each backend against a temp dir so the
// contract tests run identically across them.
func openBackends(t *testing.T) map[string]DB {
	t.Helper()
	dir := t.TempDir()

	pdb, err := OpenPebble(filepath.Join(dir, "pebble"))
	require.NoError(t, err)
	ldb, err := OpenLevelDB(filepath.Join(dir, "leveldb"))
	require.NoError(t, err)

	dbs := map[string]DB{
		"memory":  NewMemory(),
		"pebble":  pdb,
		"leveldb": ldb,
	}
	t.Cleanup(func() {
		for _, db := range dbs {
			_ = db.Close()
		}
	})
	return dbs
}

func TestReadWriteDelete(t *testing.T) {
	for name, db := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := db.Read(ctx, []byte("missing"))
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, db.Write(ctx, []byte("k1"), []byte("v1")))
			got, err := db.Read(ctx, []byte("k1"))
			require.NoError(t, err)
			assert.Equal(t, []byte("v1"), got)

			require.NoError(t, db.Write(ctx, []byte("k1"), []byte("v2")))
			got, err = db.Read(ctx, []byte("k1"))
			require.NoError(t, err)
			assert.Equal(t, []byte("v2"), got)

			require.NoError(t, db.Delete(ctx, []byte("k1")))
			_, err = db.Read(ctx, []byte("k1"))
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, db.Delete(ctx, []byte("k1")), "deleting an absent key is a no-op")
		})
	}
}

func TestBatch(t *testing.T) {
	for name, db := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, db.Write(ctx, []byte("old"), []byte("x")))

			require.NoError(t, db.Batch(ctx, []BatchOperation{
				{Type: BatchPut, Key: []byte("a"), Value: []byte("1")},
				{Type: BatchPut, Key: []byte("b"), Value: []byte("2")},
				{Type: BatchDelete, Key: []byte("old")},
			}))

			got, err := db.Read(ctx, []byte("a"))
			require.NoError(t, err)
			assert.Equal(t, []byte("1"), got)
			_, err = db.Read(ctx, []byte("old"))
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestScanPrefixOrder(t *testing.T) {
	for name, db := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, k := range []string{"d/0002", "d/0000", "e/0000", "d/0001"} {
				require.NoError(t, db.Write(ctx, []byte(k), []byte(k)))
			}

			var keys []string
			require.NoError(t, db.Scan(ctx, []byte("d/"), func(key, value []byte) error {
				assert.Equal(t, key, value)
				keys = append(keys, string(key))
				return nil
			}))
			assert.Equal(t, []string{"d/0000", "d/0001", "d/0002"}, keys)

			// An error from the visitor stops the scan.
			stop := errors.New("stop")
			visited := 0
			err := db.Scan(ctx, []byte("d/"), func(key, value []byte) error {
				visited++
				return stop
			})
			assert.ErrorIs(t, err, stop)
			assert.Equal(t, 1, visited)
		})
	}
}

func TestClosedDB(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Close())

	ctx := context.Background()
	_, err := m.Read(ctx, []byte("k"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, m.Write(ctx, []byte("k"), []byte("v")), ErrClosed)
	assert.ErrorIs(t, m.Delete(ctx, []byte("k")), ErrClosed)
	assert.ErrorIs(t, m.Batch(ctx, nil), ErrClosed)
	assert.ErrorIs(t, m.Scan(ctx, nil, func(k, v []byte) error { return nil }), ErrClosed)
}

func TestPrefixEnd(t *testing.T) {
	assert.Equal(t, []byte("d0"), prefixEnd([]byte("d/")))
	assert.Equal(t, []byte{0x01}, prefixEnd([]byte{0x00, 0xff}))
	assert.Nil(t, prefixEnd([]byte{0xff, 0xff}))
}
