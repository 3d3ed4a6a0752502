// Package config provides settings loading, validation and hot-reload for the
// proxy. Loaded Settings are immutable; a reload produces a fresh snapshot and
// notifies subscribers rather than mutating the one in use.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Cache serving methods.
const (
	MethodCacheFirst   = "cache-first"
	MethodCacheNetwork = "cache-network"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendRedis  = "redis"
)

// Settings is the complete proxy configuration. Construct via Load (or build
// literally in tests); treat as read-only afterwards.
type Settings struct {
	// Endpoints are the GraphQL endpoint URLs eligible for caching. Each
	// endpoint's path becomes a local route on the proxy listener.
	Endpoints []string `yaml:"endpoints"`

	Listen     ListenSettings     `yaml:"listen,omitempty"`
	Ops        OpsSettings        `yaml:"ops,omitempty"`
	Cache      CacheSettings      `yaml:"cache,omitempty"`
	DoNotCache DoNotCacheSettings `yaml:"do_not_cache,omitempty"`
	Store      StoreSettings      `yaml:"store,omitempty"`
	Upstream   UpstreamSettings   `yaml:"upstream,omitempty"`
}

// ListenSettings configures the main proxy listener.
type ListenSettings struct {
	Address string `yaml:"address"` // default ":8080"
}

// OpsSettings configures the metrics/debug listener.
type OpsSettings struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // default ":9090"
}

// CacheSettings configures freshness and serving behavior.
type CacheSettings struct {
	// ExpirationLimit is how long a cache record stays fresh (e.g. "30s",
	// "5m"). Empty means records never expire by time.
	ExpirationLimit string `yaml:"expiration_limit,omitempty"`
	// Method is cache-first (serve from cache, no refresh) or cache-network
	// (serve from cache and refresh in the background). Default cache-first.
	Method string `yaml:"method,omitempty"`
}

// Expiration returns the parsed expiration window, zero when unset. Settings
// are validated at load time so the parse cannot fail here.
func (c CacheSettings) Expiration() time.Duration {
	if c.ExpirationLimit == "" {
		return 0
	}
	d, _ := time.ParseDuration(c.ExpirationLimit)
	return d
}

// DoNotCacheSettings lists top-level field names that force a cache bypass.
type DoNotCacheSettings struct {
	// Enabled toggles enforcement; when false every operation is eligible.
	Enabled bool `yaml:"enabled"`
	// Global fields bypass the cache on any endpoint.
	Global []string `yaml:"global,omitempty"`
	// Custom maps an endpoint URL to extra bypass fields, unioned with Global.
	Custom map[string][]string `yaml:"custom,omitempty"`
}

// StoreSettings selects and configures the key/value backend.
type StoreSettings struct {
	Backend string        `yaml:"backend,omitempty"` // memory, badger or redis; default memory
	Path    string        `yaml:"path,omitempty"`    // badger data directory
	Redis   RedisSettings `yaml:"redis,omitempty"`
}

// RedisSettings configures the redis backend.
type RedisSettings struct {
	Address   string `yaml:"address,omitempty"`
	Password  string `yaml:"password,omitempty"`
	DB        int    `yaml:"db,omitempty"`
	KeyPrefix string `yaml:"key_prefix,omitempty"`
}

// UpstreamSettings configures the network executor.
type UpstreamSettings struct {
	Timeout string `yaml:"timeout,omitempty"` // e.g. "30s"; default 30s
}

// TimeoutDuration returns the parsed upstream timeout.
func (u UpstreamSettings) TimeoutDuration() time.Duration {
	if u.Timeout == "" {
		return 30 * time.Second
	}
	d, _ := time.ParseDuration(u.Timeout)
	return d
}

// Load reads, defaults and validates a settings file.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading settings file: %w", err)
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing settings: %w", err)
	}

	s.applyDefaults()
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("validating settings: %w", err)
	}
	return &s, nil
}

func (s *Settings) applyDefaults() {
	if s.Listen.Address == "" {
		s.Listen.Address = ":8080"
	}
	if s.Ops.Address == "" {
		s.Ops.Address = ":9090"
	}
	if s.Cache.Method == "" {
		s.Cache.Method = MethodCacheFirst
	}
	if s.Store.Backend == "" {
		s.Store.Backend = BackendMemory
	}
}

// Validate checks settings validity.
func (s *Settings) Validate() error {
	if len(s.Endpoints) == 0 {
		return fmt.Errorf("at least one endpoint is required")
	}
	for i, e := range s.Endpoints {
		u, err := url.Parse(e)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("endpoint[%d]: %q is not an absolute URL", i, e)
		}
	}

	switch s.Cache.Method {
	case MethodCacheFirst, MethodCacheNetwork:
	default:
		return fmt.Errorf("cache.method: unknown method %q", s.Cache.Method)
	}

	if s.Cache.ExpirationLimit != "" {
		if _, err := time.ParseDuration(s.Cache.ExpirationLimit); err != nil {
			return fmt.Errorf("cache.expiration_limit: %w", err)
		}
	}

	if s.Upstream.Timeout != "" {
		if _, err := time.ParseDuration(s.Upstream.Timeout); err != nil {
			return fmt.Errorf("upstream.timeout: %w", err)
		}
	}

	switch s.Store.Backend {
	case BackendMemory:
	case BackendBadger:
		if s.Store.Path == "" {
			return fmt.Errorf("store.path is required for the badger backend")
		}
	case BackendRedis:
		if s.Store.Redis.Address == "" {
			return fmt.Errorf("store.redis.address is required for the redis backend")
		}
	default:
		return fmt.Errorf("store.backend: unknown backend %q", s.Store.Backend)
	}

	return nil
}

// Manager handles settings loading and hot-reload.
type Manager struct {
	configPath string
	settings   *Settings
	watcher    *fsnotify.Watcher
	callbacks  []func(*Settings)
	mu         sync.RWMutex
	stopCh     chan struct{}
	closeOnce  sync.Once
}

// NewManager loads the settings file and starts watching it for changes.
func NewManager(configPath string) (*Manager, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	m := &Manager{
		configPath: configPath,
		watcher:    watcher,
		stopCh:     make(chan struct{}),
	}

	settings, err := Load(configPath)
	if err != nil {
		watcher.Close()
		return nil, err
	}
	m.settings = settings

	// Register the watch before returning so a write that happens immediately
	// after NewManager is not missed.
	if err := watcher.Add(filepath.Dir(configPath)); err == nil {
		go m.watchChanges()
	}

	return m, nil
}

// Get returns the current settings snapshot.
func (m *Manager) Get() *Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

// OnChange registers a callback invoked with each successfully reloaded
// snapshot. Callbacks must not mutate the snapshot.
func (m *Manager) OnChange(fn func(*Settings)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// watchChanges monitors the settings file for changes.
func (m *Manager) watchChanges() {
	debounce := time.NewTimer(0)
	<-debounce.C

	for {
		select {
		case <-m.stopCh:
			return
		case event := <-m.watcher.Events:
			if event.Name == m.configPath && (event.Op&fsnotify.Write != 0 || event.Op&fsnotify.Create != 0) {
				debounce.Reset(100 * time.Millisecond)
			}
		case <-debounce.C:
			settings, err := Load(m.configPath)
			if err != nil {
				continue
			}
			m.mu.Lock()
			m.settings = settings
			callbacks := make([]func(*Settings), len(m.callbacks))
			copy(callbacks, m.callbacks)
			m.mu.Unlock()
			for _, fn := range callbacks {
				fn(settings)
			}
		case <-m.watcher.Errors:
			// keep watching
		}
	}
}

// Close stops watching for changes.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		close(m.stopCh)
		m.watcher.Close()
	})
	return nil
}
