// Package remote provides RemoteTarget implementations the mutation queue can
// drain into: an HTTP client for a lattice sync server, and a target that
// applies mutations straight to a GraphStore.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/lattice/internal/logging"
	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/ports"
)

// DefaultTimeout bounds one Apply call when no client is supplied.
const DefaultTimeout = 10 * time.Second

const maxErrorBody = 512

var _ ports.RemoteTarget = (*HTTPTarget)(nil)

// StatusError is returned when the endpoint answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote returned %d", e.Code)
	}
	return fmt.Sprintf("remote returned %d: %s", e.Code, e.Body)
}

// HTTPTarget POSTs each mutation as JSON to an endpoint.
type HTTPTarget struct {
	endpoint string
	client   *http.Client
	header   http.Header
	logger   *slog.Logger
}

// HTTPOption configures an HTTPTarget.
type HTTPOption func(*HTTPTarget)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *HTTPTarget) {
		t.client = c
	}
}

// WithHeader adds a header to every request, e.g. an Authorization token.
func WithHeader(key, value string) HTTPOption {
	return func(t *HTTPTarget) {
		t.header.Add(key, value)
	}
}

// WithLogger configures the logger.
func WithLogger(logger *slog.Logger) HTTPOption {
	return func(t *HTTPTarget) {
		t.logger = logger
	}
}

// NewHTTPTarget creates a target for endpoint, typically <server>/apply.
func NewHTTPTarget(endpoint string, opts ...HTTPOption) *HTTPTarget {
	t := &HTTPTarget{
		endpoint: endpoint,
		client:   &http.Client{Timeout: DefaultTimeout},
		header:   make(http.Header),
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Apply sends one mutation. Transport errors and non-2xx answers are returned
// so the queue counts them as a failed attempt.
func (t *HTTPTarget) Apply(ctx context.Context, m domain.Mutation) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal mutation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range t.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		t.logger.Debug("remote rejected mutation", "mutation_id", m.ID, "status", resp.StatusCode)
		return &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
