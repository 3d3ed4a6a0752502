package graphql

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/uitie/loql/internal/store"
)

// CacheMethod selects how fresh hits are served.
type CacheMethod string

const (
	// CacheFirst serves fresh hits from the cache with no refresh.
	CacheFirst CacheMethod = "cache-first"
	// CacheNetwork serves fresh hits from the cache and refreshes the record
	// in a detached background fetch.
	CacheNetwork CacheMethod = "cache-network"
)

// Recorder receives the outcome of every served operation. Implementations
// must never let a recording failure reach the caller; a nil Recorder is
// valid and records nothing.
type Recorder interface {
	RecordServed(endpoint string, cached bool)
	RecordBypass(endpoint string)
	RecordBackgroundRefresh(ok bool)
}

// Config configures the engine. All fields are fixed at construction.
type Config struct {
	// Method is the serving strategy for fresh hits.
	Method CacheMethod
	// ExpirationLimit bounds record freshness; zero means never expires.
	ExpirationLimit time.Duration
	// BypassEnabled toggles do-not-cache enforcement.
	BypassEnabled bool
	// BypassGlobal are field names that bypass the cache on any endpoint.
	BypassGlobal []string
	// BypassCustom maps endpoints to extra bypass fields.
	BypassCustom map[string][]string
	// Identifier overrides entity identification; nil uses __typename+id.
	Identifier EntityIdentifier
	// Client is the upstream HTTP client.
	Client *http.Client
	// Logger for engine events.
	Logger *slog.Logger
}

// Engine drives the caching decision for each operation: classify, apply the
// bypass policy, look up and judge the cache record, then serve cache-only,
// network-only or cache-then-background-revalidate.
type Engine struct {
	st       store.Store
	policy   *BypassPolicy
	fresh    *Freshness
	exec     *Executor
	norm     *Normalizer
	method   CacheMethod
	recorder Recorder
	logger   *slog.Logger
	bg       sync.WaitGroup
}

// New creates an engine over st.
func New(st store.Store, cfg Config, recorder Recorder) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	method := cfg.Method
	if method == "" {
		method = CacheFirst
	}

	return &Engine{
		st:       st,
		policy:   NewBypassPolicy(cfg.BypassEnabled, cfg.BypassGlobal, cfg.BypassCustom),
		fresh:    NewFreshness(cfg.ExpirationLimit),
		exec:     NewExecutor(cfg.Client, logger),
		norm:     NewNormalizer(st, cfg.Identifier, logger),
		method:   method,
		recorder: recorder,
		logger:   logger,
	}
}

// Executor exposes the engine's upstream executor, shared with collaborators
// such as the schema cache.
func (e *Engine) Executor() *Executor { return e.exec }

// Normalizer exposes the engine's normalizer for store inspection.
func (e *Engine) Normalizer() *Normalizer { return e.norm }

// Result is one served operation.
type Result struct {
	Payload json.RawMessage
	Cached  bool
}

// Serve runs the full pipeline for one inbound request against endpoint.
// Every stage logs and returns its error; the caller holds the fail-open
// policy.
func (e *Engine) Serve(ctx context.Context, r *http.Request, endpoint string) (*Result, error) {
	op, err := ExtractOperation(r)
	if err != nil {
		e.logger.Debug("operation extraction failed", "endpoint", endpoint, "error", err)
		return nil, err
	}

	meta, err := Classify(op.Text)
	if err != nil {
		e.logger.Debug("operation classification failed", "endpoint", endpoint, "error", err)
		return nil, err
	}

	if meta.Kind != KindQuery {
		return e.serveUncached(ctx, r.Method, endpoint, op, meta)
	}

	if e.policy.Bypassed(meta, endpoint) {
		e.logger.Debug("operation bypasses cache", "endpoint", endpoint, "fields", meta.TopLevelFields)
		payload, err := e.exec.Execute(ctx, endpoint, r.Method, op)
		if err != nil {
			return nil, err
		}
		if e.recorder != nil {
			e.recorder.RecordBypass(endpoint)
		}
		return &Result{Payload: payload}, nil
	}

	key := DeriveKey(op.Text, op.Variables)

	rec, ok, err := loadRecord(ctx, e.st, key)
	if err != nil {
		e.logger.Warn("cache lookup failed", "key", key, "error", err)
		return nil, err
	}

	if ok && e.fresh.Fresh(rec.LastFetchedAt) {
		// FreshHit: serve from cache; cache-network also refreshes behind
		// the response.
		if e.method == CacheNetwork {
			e.spawnRefresh(endpoint, r.Method, op, key)
		}
		e.record(endpoint, true)
		return &Result{Payload: rec.Data, Cached: true}, nil
	}

	// NoRecord and StaleHit behave identically: synchronous fetch,
	// write-through, normalize, serve the network result.
	payload, err := e.fetchAndStore(ctx, endpoint, r.Method, op, key)
	if err != nil {
		return nil, err
	}
	e.record(endpoint, false)
	return &Result{Payload: payload}, nil
}

// serveUncached handles mutations and subscriptions: network only, no cache
// record. Mutation responses are still normalized so stored entities stay
// current after writes.
func (e *Engine) serveUncached(ctx context.Context, method, endpoint string, op *Operation, meta *Metadata) (*Result, error) {
	payload, err := e.exec.Execute(ctx, endpoint, method, op)
	if err != nil {
		return nil, err
	}

	if meta.Kind == KindMutation {
		if err := e.normalizePayload(ctx, payload); err != nil {
			return nil, err
		}
	}

	if e.recorder != nil {
		e.recorder.RecordBypass(endpoint)
	}
	return &Result{Payload: payload}, nil
}

// fetchAndStore performs the network fetch, overwrites the cache record and
// merges the normalized response into the object store.
func (e *Engine) fetchAndStore(ctx context.Context, endpoint, method string, op *Operation, key string) (json.RawMessage, error) {
	payload, err := e.exec.Execute(ctx, endpoint, method, op)
	if err != nil {
		e.logger.Warn("network fetch failed", "endpoint", endpoint, "key", key, "error", err)
		return nil, err
	}

	rec := &CacheRecord{Key: key, Data: payload, LastFetchedAt: time.Now()}
	if err := saveRecord(ctx, e.st, rec); err != nil {
		e.logger.Warn("cache write failed", "key", key, "error", err)
		return nil, err
	}

	if err := e.normalizePayload(ctx, payload); err != nil {
		e.logger.Warn("normalization failed", "key", key, "error", err)
		return nil, err
	}

	return payload, nil
}

// normalizePayload merges the data object of a response into the object
// store. Payloads without a data object (errors-only responses) are skipped.
func (e *Engine) normalizePayload(ctx context.Context, payload json.RawMessage) error {
	var body struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || len(body.Data) == 0 {
		return nil
	}
	return e.norm.Merge(ctx, e.norm.Normalize(body.Data))
}

// spawnRefresh revalidates a fresh hit in a detached task. Its errors are
// logged and swallowed; the request path never joins it.
func (e *Engine) spawnRefresh(endpoint, method string, op *Operation, key string) {
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		_, err := e.fetchAndStore(context.Background(), endpoint, method, op, key)
		if err != nil {
			e.logger.Warn("background revalidation failed", "key", key, "error", err)
		}
		if e.recorder != nil {
			e.recorder.RecordBackgroundRefresh(err == nil)
		}
	}()
}

// WaitBackground blocks until all detached revalidations finish. Used by
// graceful shutdown and tests.
func (e *Engine) WaitBackground() {
	e.bg.Wait()
}

func (e *Engine) record(endpoint string, cached bool) {
	if e.recorder != nil {
		e.recorder.RecordServed(endpoint, cached)
	}
}
