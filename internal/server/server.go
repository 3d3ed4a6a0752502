// Package server provides the main loql server orchestration.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/uitie/loql/internal/config"
	"github.com/uitie/loql/internal/graphql"
	"github.com/uitie/loql/internal/metrics"
	"github.com/uitie/loql/internal/proxy"
	"github.com/uitie/loql/internal/store"
)

// Loql holds the assembled server.
type Loql struct {
	config  *config.Manager
	st      store.Store
	metrics *metrics.Metrics
	schemas *graphql.SchemaCache
	logger  *slog.Logger

	// handler and engine are rebuilt atomically on settings reload.
	handler atomic.Pointer[proxy.Handler]
	engine  atomic.Pointer[graphql.Engine]
}

// Run starts the loql server with the given settings file and blocks until
// ctx is canceled.
func Run(ctx context.Context, configPath string) error {
	logger := slog.Default()
	logger.Info("starting loql", "config", configPath)

	cfgManager, err := config.NewManager(configPath)
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}
	defer cfgManager.Close()

	cfg := cfgManager.Get()

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	// Activation: persist the recognized options into the settings
	// collection. A failure here is logged, not fatal.
	if err := config.Persist(ctx, st, cfg); err != nil {
		logger.Warn("persisting settings", "error", err)
	}

	m := metrics.New()

	srv := &Loql{
		config:  cfgManager,
		st:      st,
		metrics: m,
		logger:  logger,
	}
	if err := srv.rebuild(cfg); err != nil {
		return err
	}

	// Prefetch schemas during activation; absent schemas are tolerated.
	schemaCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	srv.schemas = graphql.NewSchemaCache(srv.engine.Load().Executor(), logger)
	srv.schemas.Prefetch(schemaCtx, cfg.Endpoints)
	cancel()

	// Reloads swap in a freshly built engine and handler; the store backend
	// stays as opened at activation.
	cfgManager.OnChange(func(newCfg *config.Settings) {
		if err := srv.rebuild(newCfg); err != nil {
			logger.Error("applying reloaded settings", "error", err)
			return
		}
		logger.Info("settings reloaded")
	})

	mainServer := &http.Server{
		Addr:    cfg.Listen.Address,
		Handler: http.HandlerFunc(srv.serveMain),
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("proxy listening", "address", cfg.Listen.Address)
		if err := mainServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("proxy listener: %w", err)
		}
	}()

	var opsServer *http.Server
	if cfg.Ops.Enabled {
		opsServer = &http.Server{
			Addr:    cfg.Ops.Address,
			Handler: srv.opsMux(),
		}
		go func() {
			logger.Info("ops listening", "address", cfg.Ops.Address)
			if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("ops listener: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mainServer.Shutdown(shutdownCtx)
	if opsServer != nil {
		opsServer.Shutdown(shutdownCtx)
	}
	srv.engine.Load().WaitBackground()

	return nil
}

// rebuild constructs the engine and handler for a settings snapshot and swaps
// them in atomically.
func (s *Loql) rebuild(cfg *config.Settings) error {
	client := &http.Client{Timeout: cfg.Upstream.TimeoutDuration()}

	engine := graphql.New(s.st, graphql.Config{
		Method:          graphql.CacheMethod(cfg.Cache.Method),
		ExpirationLimit: cfg.Cache.Expiration(),
		BypassEnabled:   cfg.DoNotCache.Enabled,
		BypassGlobal:    cfg.DoNotCache.Global,
		BypassCustom:    cfg.DoNotCache.Custom,
		Client:          client,
		Logger:          s.logger,
	}, s.metrics)

	handler, err := proxy.NewHandler(proxy.HandlerConfig{
		Engine:    engine,
		Endpoints: cfg.Endpoints,
		Client:    client,
		Metrics:   s.metrics,
		Logger:    s.logger,
	})
	if err != nil {
		return fmt.Errorf("building proxy handler: %w", err)
	}

	s.engine.Store(engine)
	s.handler.Store(handler)
	return nil
}

func (s *Loql) serveMain(w http.ResponseWriter, r *http.Request) {
	s.handler.Load().ServeHTTP(w, r)
}

// opsMux exposes metrics, health and store inspection.
func (s *Loql) opsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/debug/store", s.handleDebugStore)
	mux.HandleFunc("/debug/schema", s.handleDebugSchema)
	return mux
}

// handleDebugStore materializes normalized data back out of the object store.
// Optional fields parameter limits which ROOT_QUERY fields are expanded.
func (s *Loql) handleDebugStore(w http.ResponseWriter, r *http.Request) {
	var fields []string
	if raw := r.URL.Query().Get("fields"); raw != "" {
		fields = strings.Split(raw, ",")
	}

	data, err := s.engine.Load().Normalizer().Materialize(r.Context(), fields)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Loql) handleDebugSchema(w http.ResponseWriter, r *http.Request) {
	endpoint := r.URL.Query().Get("endpoint")
	schema, ok := s.schemas.Get(endpoint)
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{
			"error":     "no schema for endpoint",
			"available": s.schemas.Endpoints(),
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(schema)
}

// openStore builds the configured key/value backend.
func openStore(cfg *config.Settings) (store.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendBadger:
		return store.OpenBadger(cfg.Store.Path)
	case config.BackendRedis:
		return store.OpenRedis(store.RedisConfig{
			Address:   cfg.Store.Redis.Address,
			Password:  cfg.Store.Redis.Password,
			DB:        cfg.Store.Redis.DB,
			KeyPrefix: cfg.Store.Redis.KeyPrefix,
		})
	default:
		return store.NewMemory(), nil
	}
}
