package graphql

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
)

// introspectionQuery is the shape-level introspection sent once per endpoint
// at activation. Results are informational; caching decisions never consult
// them.
const introspectionQuery = `query IntrospectionQuery {
  __schema {
    queryType { name }
    mutationType { name }
    types {
      kind
      name
      fields { name }
    }
  }
}`

// SchemaCache holds introspection results fetched during activation. An
// endpoint whose fetch failed is simply absent.
type SchemaCache struct {
	exec    *Executor
	logger  *slog.Logger
	mu      sync.RWMutex
	schemas map[string]json.RawMessage
}

// NewSchemaCache creates an empty schema cache using exec for fetches.
func NewSchemaCache(exec *Executor, logger *slog.Logger) *SchemaCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &SchemaCache{
		exec:    exec,
		logger:  logger,
		schemas: make(map[string]json.RawMessage),
	}
}

// Prefetch fetches the schema of every endpoint. Failures are logged and the
// endpoint left absent; activation proceeds regardless.
func (s *SchemaCache) Prefetch(ctx context.Context, endpoints []string) {
	for _, endpoint := range endpoints {
		payload, err := s.exec.Execute(ctx, endpoint, http.MethodPost, &Operation{Text: introspectionQuery})
		if err != nil {
			s.logger.Warn("schema prefetch failed", "endpoint", endpoint, "error", err)
			continue
		}
		s.mu.Lock()
		s.schemas[endpoint] = payload
		s.mu.Unlock()
		s.logger.Debug("schema prefetched", "endpoint", endpoint, "bytes", len(payload))
	}
}

// Get returns the raw introspection payload for endpoint, if one was fetched.
func (s *SchemaCache) Get(endpoint string) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payload, ok := s.schemas[endpoint]
	return payload, ok
}

// Endpoints lists the endpoints with a fetched schema.
func (s *SchemaCache) Endpoints() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.schemas))
	for endpoint := range s.schemas {
		out = append(out, endpoint)
	}
	return out
}
