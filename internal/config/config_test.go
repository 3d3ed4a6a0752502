package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/uitie/loql/internal/store"
)

func writeSettings(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "loql.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validYAML = `
endpoints:
  - https://api.example.com/graphql
cache:
  expiration_limit: 30s
  method: cache-network
do_not_cache:
  enabled: true
  global: [token, session]
  custom:
    https://api.example.com/graphql: [cart]
store:
  backend: memory
`

func TestLoad(t *testing.T) {
	s, err := Load(writeSettings(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(s.Endpoints) != 1 || s.Endpoints[0] != "https://api.example.com/graphql" {
		t.Errorf("unexpected endpoints: %v", s.Endpoints)
	}
	if s.Cache.Method != MethodCacheNetwork {
		t.Errorf("expected cache-network, got %s", s.Cache.Method)
	}
	if s.Cache.Expiration() != 30*time.Second {
		t.Errorf("expected 30s expiration, got %v", s.Cache.Expiration())
	}
	if !s.DoNotCache.Enabled {
		t.Error("expected do_not_cache enabled")
	}
	if got := s.DoNotCache.Custom["https://api.example.com/graphql"]; len(got) != 1 || got[0] != "cart" {
		t.Errorf("unexpected custom bypass fields: %v", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	s, err := Load(writeSettings(t, "endpoints: [https://api.example.com/graphql]\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if s.Listen.Address != ":8080" {
		t.Errorf("expected default listen address, got %s", s.Listen.Address)
	}
	if s.Cache.Method != MethodCacheFirst {
		t.Errorf("expected cache-first default, got %s", s.Cache.Method)
	}
	if s.Cache.Expiration() != 0 {
		t.Errorf("expected no expiration by default, got %v", s.Cache.Expiration())
	}
	if s.Store.Backend != BackendMemory {
		t.Errorf("expected memory backend default, got %s", s.Store.Backend)
	}
	if s.Upstream.TimeoutDuration() != 30*time.Second {
		t.Errorf("expected 30s upstream timeout default, got %v", s.Upstream.TimeoutDuration())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no endpoints", "listen:\n  address: ':8080'\n"},
		{"relative endpoint", "endpoints: [/graphql]\n"},
		{"bad method", "endpoints: [https://a.example/graphql]\ncache:\n  method: cache-maybe\n"},
		{"bad expiration", "endpoints: [https://a.example/graphql]\ncache:\n  expiration_limit: soon\n"},
		{"badger without path", "endpoints: [https://a.example/graphql]\nstore:\n  backend: badger\n"},
		{"redis without address", "endpoints: [https://a.example/graphql]\nstore:\n  backend: redis\n"},
		{"unknown backend", "endpoints: [https://a.example/graphql]\nstore:\n  backend: tape\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeSettings(t, tt.yaml)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestManagerReload(t *testing.T) {
	path := writeSettings(t, validYAML)

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Close()

	reloaded := make(chan *Settings, 1)
	m.OnChange(func(s *Settings) {
		select {
		case reloaded <- s:
		default:
		}
	})

	updated := validYAML + "listen:\n  address: ':8081'\n"
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case s := <-reloaded:
		if s.Listen.Address != ":8081" {
			t.Errorf("expected reloaded address :8081, got %s", s.Listen.Address)
		}
		if m.Get().Listen.Address != ":8081" {
			t.Error("Get should return the reloaded snapshot")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestManagerIgnoresBrokenReload(t *testing.T) {
	path := writeSettings(t, validYAML)

	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	defer m.Close()

	if err := os.WriteFile(path, []byte("endpoints: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	// The broken file must not replace the last good snapshot.
	time.Sleep(500 * time.Millisecond)
	if len(m.Get().Endpoints) != 1 {
		t.Error("broken reload replaced the settings snapshot")
	}
}

func TestPersistRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	defer st.Close()

	s, err := Load(writeSettings(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := Persist(ctx, st, s); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	got, ok, err := LoadPersisted(ctx, st)
	if err != nil {
		t.Fatalf("LoadPersisted: %v", err)
	}
	if !ok {
		t.Fatal("expected persisted settings")
	}
	if got.Cache.Method != s.Cache.Method || got.Cache.ExpirationLimit != s.Cache.ExpirationLimit {
		t.Errorf("cache settings did not round-trip: %+v", got.Cache)
	}
	if len(got.DoNotCache.Global) != 2 {
		t.Errorf("do_not_cache did not round-trip: %+v", got.DoNotCache)
	}
}

func TestLoadPersistedEmptyStore(t *testing.T) {
	_, ok, err := LoadPersisted(context.Background(), store.NewMemory())
	if err != nil {
		t.Fatalf("LoadPersisted: %v", err)
	}
	if ok {
		t.Error("expected ok=false on an empty store")
	}
}
