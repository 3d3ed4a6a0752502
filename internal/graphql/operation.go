// Package graphql implements the caching decision and normalization engine:
// operation extraction and classification, cache-key derivation, freshness,
// serving strategy, upstream execution and normalized entity storage.
package graphql

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Common errors.
var (
	// ErrMalformedRequest means the inbound request carries no usable operation.
	ErrMalformedRequest = errors.New("request carries no usable operation")
	// ErrInvalidOperation means the operation text does not parse as GraphQL.
	ErrInvalidOperation = errors.New("invalid GraphQL operation")
	// ErrNetwork means the upstream round trip failed or returned a non-JSON body.
	ErrNetwork = errors.New("upstream network failure")
)

// Operation is a single GraphQL request: query text plus variables. Immutable
// once extracted.
type Operation struct {
	Text      string
	Variables map[string]any
}

// ExtractOperation pulls the operation out of an inbound request. GET requests
// carry it in the query and variables URL parameters, other methods in a JSON
// body with query and variables keys. The request body is restored so the
// request can still be replayed upstream afterwards.
func ExtractOperation(r *http.Request) (*Operation, error) {
	if r.Method == http.MethodGet {
		params := r.URL.Query()
		text := params.Get("query")
		if text == "" {
			return nil, fmt.Errorf("missing query parameter: %w", ErrMalformedRequest)
		}

		op := &Operation{Text: text}
		if raw := params.Get("variables"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &op.Variables); err != nil {
				return nil, fmt.Errorf("decoding variables parameter: %w", ErrMalformedRequest)
			}
		}
		return op, nil
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", ErrMalformedRequest)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	var payload struct {
		Query     string         `json:"query"`
		Variables map[string]any `json:"variables"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decoding request body: %w", ErrMalformedRequest)
	}
	if payload.Query == "" {
		return nil, fmt.Errorf("body lacks query: %w", ErrMalformedRequest)
	}

	return &Operation{Text: payload.Query, Variables: payload.Variables}, nil
}
