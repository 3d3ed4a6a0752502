package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Executor performs the upstream round trip for an operation. It does not
// retry; retry policy belongs to the injected HTTP client, if anywhere.
type Executor struct {
	client *http.Client
	logger *slog.Logger
}

// NewExecutor creates an executor. A nil client gets a 30 second timeout
// default.
func NewExecutor(client *http.Client, logger *slog.Logger) *Executor {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{client: client, logger: logger}
}

// Execute replays the operation against endpoint, reproducing the original
// request method: GET with a query-string-encoded operation, anything else as
// a POST-style JSON body. Returns the raw JSON payload unmodified.
func (e *Executor) Execute(ctx context.Context, endpoint, method string, op *Operation) (json.RawMessage, error) {
	req, err := e.buildRequest(ctx, endpoint, method, op)
	if err != nil {
		return nil, err
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", endpoint, errors.Join(ErrNetwork, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetching %s: upstream status %d: %w", endpoint, resp.StatusCode, ErrNetwork)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading upstream body: %w", errors.Join(ErrNetwork, err))
	}
	if !json.Valid(payload) {
		return nil, fmt.Errorf("upstream body is not JSON: %w", ErrNetwork)
	}
	return payload, nil
}

func (e *Executor) buildRequest(ctx context.Context, endpoint, method string, op *Operation) (*http.Request, error) {
	if method == http.MethodGet {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("parsing endpoint %s: %w", endpoint, errors.Join(ErrNetwork, err))
		}
		params := u.Query()
		params.Set("query", op.Text)
		if len(op.Variables) > 0 {
			vars, _ := json.Marshal(op.Variables)
			params.Set("variables", string(vars))
		}
		u.RawQuery = params.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("building upstream request: %w", errors.Join(ErrNetwork, err))
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}

	body, err := json.Marshal(struct {
		Query     string         `json:"query"`
		Variables map[string]any `json:"variables,omitempty"`
	}{Query: op.Text, Variables: op.Variables})
	if err != nil {
		return nil, fmt.Errorf("encoding operation: %w", errors.Join(ErrNetwork, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building upstream request: %w", errors.Join(ErrNetwork, err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req, nil
}
