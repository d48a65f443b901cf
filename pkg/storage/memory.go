package storage

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryKV is a mutex-guarded in-memory KV used by tests and examples. It
// honors the same conditional-write contract as MongoKV.
type MemoryKV struct {
	mu    sync.Mutex
	items map[string][]byte
}

// NewMemoryKV constructs an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{items: make(map[string][]byte)}
}

// Get returns the value for key and whether it was present.
func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	value, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}

	return clone(value), true, nil
}

// Put writes the value unconditionally.
func (m *MemoryKV) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items[key] = clone(value)
	return nil
}

// PutIfAbsent writes the value only when the key is absent.
func (m *MemoryKV) PutIfAbsent(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.items[key]; ok {
		return ErrKeyExists
	}

	m.items[key] = clone(value)
	return nil
}

// CompareAndSwap replaces the value only when the stored value equals
// expected.
func (m *MemoryKV) CompareAndSwap(_ context.Context, key string, expected, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.items[key]
	if !ok || !bytes.Equal(current, expected) {
		return ErrConflict
	}

	m.items[key] = clone(value)
	return nil
}

// Delete removes the key and reports whether it existed.
func (m *MemoryKV) Delete(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.items[key]
	delete(m.items, key)
	return ok, nil
}

// ListByPrefix returns all pairs whose key starts with prefix, in key order.
func (m *MemoryKV) ListByPrefix(_ context.Context, prefix string) ([]Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var results []Item
	for key, value := range m.items {
		if strings.HasPrefix(key, prefix) {
			results = append(results, Item{Key: key, Value: clone(value)})
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Key < results[j].Key })
	return results, nil
}

func clone(value []byte) []byte {
	out := make([]byte, len(value))
	copy(out, value)
	return out
}
