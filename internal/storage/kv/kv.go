// Package kv defines the key-value storage contract the ledger stores
// persist through, with pebble and leveldb implementations.
package kv

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("kv: key not found")
	ErrClosed   = errors.New("kv: database closed")
)

// DB is the operation set every backend must support.
type DB interface {
	// Read returns the value for key, ErrNotFound when absent.
	Read(ctx context.Context, key []byte) ([]byte, error)
	Write(ctx context.Context, key, value []byte) error
	Delete(ctx context.Context, key []byte) error

	// Batch applies the operations atomically.
	Batch(ctx context.Context, ops []BatchOperation) error

	// Scan visits every key with the prefix in ascending key order.
	// Returning an error from fn stops the scan.
	Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error

	Close() error
}

// BatchOperation is one element of an atomic batch.
type BatchOperation struct {
	Type  BatchOpType
	Key   []byte
	Value []byte
}

type BatchOpType int

const (
	BatchPut BatchOpType = iota
	BatchDelete
)

// prefixEnd returns the smallest key greater than every key with the
// prefix, or nil when the prefix is all 0xff.
func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
