// Package store provides the persistent key/value backends used by the
// caching engine. Values are opaque byte slices grouped into named
// collections; absence of a key is reported, never treated as an error.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Collections used by the engine. Settings holds one record per recognized
// configuration option; Queries holds cache records, normalized entities and
// the root-query record in a single key namespace.
const (
	CollectionSettings = "settings"
	CollectionQueries  = "queries"
)

// ErrStore marks any persistence read/write failure. Callers classify with
// errors.Is.
var ErrStore = errors.New("store failure")

// Pair is one key/value entry for batched writes.
type Pair struct {
	Key   string
	Value []byte
}

// Store is the adapter contract over a key/value backend.
type Store interface {
	// Get returns the value at key, or ok=false when the key is absent.
	Get(ctx context.Context, collection, key string) (value []byte, ok bool, err error)
	// Set writes a single value, overwriting any existing one.
	Set(ctx context.Context, collection, key string, value []byte) error
	// SetMany writes a batch of values into one collection.
	SetMany(ctx context.Context, collection string, pairs []Pair) error
	// Close releases backend resources.
	Close() error
}

// fullKey namespaces a key by its collection.
func fullKey(collection, key string) string {
	return collection + "/" + key
}

func wrapErr(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(ErrStore, err))
}

// Memory is a mutex-guarded in-process store. It is the default backend and
// the one used throughout the tests.
type Memory struct {
	entries map[string][]byte
	mu      sync.RWMutex
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, collection, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.entries[fullKey(collection, key)]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}

func (m *Memory) Set(_ context.Context, collection, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	m.entries[fullKey(collection, key)] = stored
	return nil
}

func (m *Memory) SetMany(ctx context.Context, collection string, pairs []Pair) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range pairs {
		stored := make([]byte, len(p.Value))
		copy(stored, p.Value)
		m.entries[fullKey(collection, p.Key)] = stored
	}
	return nil
}

func (m *Memory) Close() error { return nil }

// Len reports the number of stored entries across all collections.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
