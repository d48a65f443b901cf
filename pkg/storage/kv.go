// Package storage defines the key-value collaborator contract the registry
// core is written against, plus a MongoDB-backed production implementation
// and an in-memory implementation for tests and examples. The contract is
// deliberately small: per-key reads with read-after-write consistency and
// per-key conditional writes. There are no multi-key transactions; the
// registry sequences its writes so it never needs one.
package storage

import (
	"context"
	"errors"
)

// Static error variables for conditional-write failures.
var (
	// ErrKeyExists is returned by PutIfAbsent when the key is already
	// present.
	ErrKeyExists = errors.New("key already exists")
	// ErrConflict is returned by CompareAndSwap when the stored value no
	// longer matches the expected value (the write lost a race).
	ErrConflict = errors.New("conditional write conflict")
)

// Item is one key-value pair returned by prefix listing.
type Item struct {
	Key   string
	Value []byte
}

// KV is the key-value collaborator interface.
type KV interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Put writes the value unconditionally.
	Put(ctx context.Context, key string, value []byte) error

	// PutIfAbsent writes the value only when the key does not exist yet,
	// atomically. Returns ErrKeyExists otherwise.
	PutIfAbsent(ctx context.Context, key string, value []byte) error

	// CompareAndSwap replaces the value only when the stored value equals
	// expected, atomically. Returns ErrConflict otherwise, including when
	// the key is absent.
	CompareAndSwap(ctx context.Context, key string, expected, value []byte) error

	// Delete removes the key and reports whether it existed.
	Delete(ctx context.Context, key string) (bool, error)

	// ListByPrefix returns all pairs whose key starts with prefix, in key
	// order.
	ListByPrefix(ctx context.Context, prefix string) ([]Item, error)
}
