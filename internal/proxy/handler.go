// Package proxy provides the inbound HTTP boundary: it matches GraphQL
// traffic to its endpoint, serves it through the caching engine and falls
// open to a direct upstream pass-through on any internal failure.
package proxy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/uitie/loql/internal/graphql"
	"github.com/uitie/loql/internal/metrics"
	"github.com/uitie/loql/internal/store"
)

// hop-by-hop headers never forwarded upstream.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// route is one configured endpoint reachable under its URL path.
type route struct {
	endpoint string
	target   *url.URL
}

// Handler intercepts GraphQL requests on the configured endpoint paths.
type Handler struct {
	engine  *graphql.Engine
	routes  map[string]route
	client  *http.Client
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// HandlerConfig configures the proxy handler.
type HandlerConfig struct {
	// Engine is the caching engine serving matched traffic.
	Engine *graphql.Engine
	// Endpoints are the cacheable GraphQL endpoint URLs; each is routed
	// under its own path.
	Endpoints []string
	// Client is used for fail-open pass-through requests.
	Client *http.Client
	// Metrics sink; nil records nothing.
	Metrics *metrics.Metrics
	// Logger for handler events.
	Logger *slog.Logger
}

// NewHandler creates the proxy handler.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	routes := make(map[string]route, len(cfg.Endpoints))
	for _, endpoint := range cfg.Endpoints {
		target, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("parsing endpoint %q: %w", endpoint, err)
		}
		path := target.Path
		if path == "" {
			path = "/"
		}
		if prior, ok := routes[path]; ok {
			return nil, fmt.Errorf("endpoints %q and %q share path %q", prior.endpoint, endpoint, path)
		}
		routes[path] = route{endpoint: endpoint, target: target}
	}

	return &Handler{
		engine:  cfg.Engine,
		routes:  routes,
		client:  cfg.Client,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}, nil
}

// ServeHTTP serves one inbound request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.routes[r.URL.Path]
	if !ok {
		h.metrics.RecordOutcome("", "unmatched")
		writeJSONError(w, http.StatusNotFound, "no configured endpoint for path")
		return
	}

	start := time.Now()
	logger := h.logger.With("request_id", uuid.NewString(), "endpoint", rt.endpoint)

	// Buffer the body so the fail-open path can replay it.
	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(r.Body)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "unreadable request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	result, err := h.engine.Serve(r.Context(), r, rt.endpoint)
	if err != nil {
		// Fail open: discard the cached path and pass the request through.
		logger.Warn("cache pipeline failed, passing through", "error", err)
		h.metrics.RecordOutcome(rt.endpoint, "failopen")
		if errors.Is(err, store.ErrStore) {
			h.metrics.RecordStoreError()
		}
		h.passThrough(w, r, rt.target, body)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if result.Cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	w.WriteHeader(http.StatusOK)
	w.Write(result.Payload)

	h.metrics.ObserveRequestDuration(rt.endpoint, time.Since(start))
	logger.Debug("request served", "cached", result.Cached, "duration", time.Since(start))
}

// passThrough forwards the original request to the upstream unmodified and
// copies the response back verbatim.
func (h *Handler) passThrough(w http.ResponseWriter, r *http.Request, target *url.URL, body []byte) {
	u := *target
	u.RawQuery = r.URL.RawQuery

	req, err := http.NewRequestWithContext(r.Context(), r.Method, u.String(), bytes.NewReader(body))
	if err != nil {
		writeJSONError(w, http.StatusBadGateway, "building upstream request failed")
		return
	}
	req.Header = r.Header.Clone()
	for _, header := range hopHeaders {
		req.Header.Del(header)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		h.logger.Error("pass-through failed", "error", err)
		writeJSONError(w, http.StatusBadGateway, "upstream unreachable")
		return
	}
	defer resp.Body.Close()

	for key, values := range resp.Header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"errors":[{"message":%q}]}`, message)
}
