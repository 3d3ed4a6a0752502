package graphql

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/uitie/loql/internal/store"
)

// recordKeyPrefix separates per-operation cache records from normalized
// entities, which share the queries collection.
const recordKeyPrefix = "query/"

// CacheRecord is one cached response, keyed by the operation's derived hash.
// It is overwritten wholesale on every refresh.
type CacheRecord struct {
	Key           string          `json:"key"`
	Data          json.RawMessage `json:"data"`
	LastFetchedAt time.Time       `json:"lastFetchedAt"`
}

// Freshness judges cache records against a configured expiration window.
type Freshness struct {
	limit time.Duration
	now   func() time.Time
}

// NewFreshness creates a freshness judge. A zero limit means records never
// expire by time.
func NewFreshness(limit time.Duration) *Freshness {
	return &Freshness{limit: limit, now: time.Now}
}

// Fresh reports whether a record fetched at lastFetchedAt is still servable.
func (f *Freshness) Fresh(lastFetchedAt time.Time) bool {
	if f.limit <= 0 {
		return true
	}
	return f.now().Sub(lastFetchedAt) < f.limit
}

// loadRecord reads a cache record from the store; absence is not an error.
func loadRecord(ctx context.Context, st store.Store, key string) (*CacheRecord, bool, error) {
	data, ok, err := st.Get(ctx, store.CollectionQueries, recordKeyPrefix+key)
	if err != nil {
		return nil, false, fmt.Errorf("looking up cache record %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	var rec CacheRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("decoding cache record %s: %w", key, err)
	}
	return &rec, true, nil
}

// saveRecord overwrites the cache record for key.
func saveRecord(ctx context.Context, st store.Store, rec *CacheRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding cache record %s: %w", rec.Key, err)
	}
	if err := st.Set(ctx, store.CollectionQueries, recordKeyPrefix+rec.Key, data); err != nil {
		return fmt.Errorf("writing cache record %s: %w", rec.Key, err)
	}
	return nil
}
