package config

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/uitie/loql/internal/store"
)

// Persisted option record keys, one per recognized option.
const (
	keyEndpoints  = "endpoints"
	keyListen     = "listen"
	keyOps        = "ops"
	keyCache      = "cache"
	keyDoNotCache = "do_not_cache"
	keyStore      = "store"
	keyUpstream   = "upstream"
)

// Persist writes each recognized option as its own record into the settings
// collection, so the store carries the configuration the process was activated
// with.
func Persist(ctx context.Context, st store.Store, s *Settings) error {
	pairs := make([]store.Pair, 0, 7)
	for _, opt := range []struct {
		key   string
		value any
	}{
		{keyEndpoints, s.Endpoints},
		{keyListen, s.Listen},
		{keyOps, s.Ops},
		{keyCache, s.Cache},
		{keyDoNotCache, s.DoNotCache},
		{keyStore, s.Store},
		{keyUpstream, s.Upstream},
	} {
		data, err := json.Marshal(opt.value)
		if err != nil {
			return fmt.Errorf("encoding option %s: %w", opt.key, err)
		}
		pairs = append(pairs, store.Pair{Key: opt.key, Value: data})
	}

	if err := st.SetMany(ctx, store.CollectionSettings, pairs); err != nil {
		return fmt.Errorf("persisting settings: %w", err)
	}
	return nil
}

// LoadPersisted rebuilds Settings from the settings collection. ok is false
// when no settings were ever persisted.
func LoadPersisted(ctx context.Context, st store.Store) (*Settings, bool, error) {
	var s Settings

	found, err := readOption(ctx, st, keyEndpoints, &s.Endpoints)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}

	for _, opt := range []struct {
		key   string
		value any
	}{
		{keyListen, &s.Listen},
		{keyOps, &s.Ops},
		{keyCache, &s.Cache},
		{keyDoNotCache, &s.DoNotCache},
		{keyStore, &s.Store},
		{keyUpstream, &s.Upstream},
	} {
		if _, err := readOption(ctx, st, opt.key, opt.value); err != nil {
			return nil, false, err
		}
	}

	s.applyDefaults()
	return &s, true, nil
}

func readOption(ctx context.Context, st store.Store, key string, out any) (bool, error) {
	data, ok, err := st.Get(ctx, store.CollectionSettings, key)
	if err != nil {
		return false, fmt.Errorf("reading option %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decoding option %s: %w", key, err)
	}
	return true, nil
}
