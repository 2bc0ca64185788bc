package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pixelated-empathy/bias-engine/internal/core"
	"github.com/pixelated-empathy/bias-engine/internal/logging"
	"github.com/pixelated-empathy/bias-engine/internal/metrics"
)

// ServiceClient is the typed client to the external bias-analysis service.
// It owns connection lifecycle and per-call timeouts; it never retries.
// Retry and fallback policy belong to the orchestrator.
type ServiceClient struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	breaker *CircuitBreaker
	logger  *logging.Logger
}

// ServiceClientOption configures the client.
type ServiceClientOption func(*ServiceClient)

// WithHTTPClient overrides the underlying HTTP client (used in tests).
func WithHTTPClient(c *http.Client) ServiceClientOption {
	return func(s *ServiceClient) {
		s.http = c
	}
}

// WithBreaker overrides the circuit breaker.
func WithBreaker(b *CircuitBreaker) ServiceClientOption {
	return func(s *ServiceClient) {
		s.breaker = b
	}
}

// NewServiceClient creates a client for the analysis service at baseURL.
// Every call is bounded by timeout.
func NewServiceClient(baseURL string, timeout time.Duration, logger *logging.Logger, opts ...ServiceClientOption) *ServiceClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &ServiceClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		http: &http.Client{
			Timeout: timeout,
		},
		breaker: NewCircuitBreaker(5, 30*time.Second),
		logger:  logger.WithComponent("service-client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize verifies the service is reachable. It fails with
// ServiceUnavailable if the health endpoint cannot be reached within the
// configured timeout.
func (c *ServiceClient) Initialize(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return core.ErrServiceUnavailable("building health request").WithCause(err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return c.translateTransportError(err, "health check")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return core.ErrServiceUnavailable(
			fmt.Sprintf("analysis service unhealthy: status %d", resp.StatusCode))
	}

	c.logger.Debug("analysis service reachable", "url", c.baseURL)
	return nil
}

// layerRequest is the wire shape of a layer invocation.
type layerRequest struct {
	Session *core.Session `json:"session"`
}

// layerResponse is the wire shape of a layer result.
type layerResponse struct {
	BiasScore       float64                `json:"bias_score"`
	Confidence      float64                `json:"confidence"`
	Detail          map[string]interface{} `json:"detail"`
	Recommendations []string               `json:"recommendations"`
	Error           string                 `json:"error"`
}

// RunLayer invokes one analysis layer for a session. Timeouts surface as
// TimeoutError; transport failures as ServiceUnavailable; upstream layer
// failures as LayerAnalysisError carrying the layer name and message.
func (c *ServiceClient) RunLayer(ctx context.Context, layer core.Layer, session *core.Session) (core.LayerResult, error) {
	if err := c.breaker.Allow(); err != nil {
		return core.LayerResult{}, err
	}

	var out layerResponse
	endpoint := fmt.Sprintf("%s/analyze/%s", c.baseURL, url.PathEscape(string(layer)))
	if err := c.postJSON(ctx, endpoint, layerRequest{Session: session}, &out); err != nil {
		c.breaker.OnFailure()
		var domErr *core.DomainError
		if errors.As(err, &domErr) &&
			(domErr.Category == core.ErrCatTimeout || domErr.Category == core.ErrCatUnavailable) {
			return core.LayerResult{}, err
		}
		return core.LayerResult{}, core.ErrLayer(layer, err.Error()).WithCause(err)
	}
	c.breaker.OnSuccess()

	if out.Error != "" {
		return core.LayerResult{}, core.ErrLayer(layer, out.Error)
	}

	return core.LayerResult{
		Layer:           layer,
		BiasScore:       out.BiasScore,
		Confidence:      out.Confidence,
		Detail:          out.Detail,
		Recommendations: out.Recommendations,
	}, nil
}

// postJSON posts a JSON body and decodes a JSON response. Non-2xx
// responses are returned as errors carrying the upstream message.
func (c *ServiceClient) postJSON(ctx context.Context, endpoint string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return c.translateTransportError(err, endpoint)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, upstreamMessage(data))
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// translateTransportError maps transport failures to domain errors.
func (c *ServiceClient) translateTransportError(err error, what string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return core.ErrTimeout(fmt.Sprintf("%s timed out after %s", what, c.timeout)).WithCause(err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return core.ErrTimeout(fmt.Sprintf("%s timed out after %s", what, c.timeout)).WithCause(err)
	}
	return core.ErrServiceUnavailable(fmt.Sprintf("%s unreachable", what)).WithCause(err)
}

// upstreamMessage extracts an error message from an upstream JSON body,
// falling back to the raw text.
func upstreamMessage(data []byte) string {
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &e); err == nil {
		if e.Message != "" {
			return e.Message
		}
		if e.Error != "" {
			return e.Error
		}
	}
	msg := strings.TrimSpace(string(data))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

// SendRealtimeEvent pushes a single metric record to the service
// dashboard feed. Best-effort; callers tolerate failure.
func (c *ServiceClient) SendRealtimeEvent(ctx context.Context, rec metrics.Record) error {
	if err := c.breaker.Allow(); err != nil {
		return err
	}
	if err := c.postJSON(ctx, c.baseURL+"/events", rec, nil); err != nil {
		c.breaker.OnFailure()
		return err
	}
	c.breaker.OnSuccess()
	return nil
}

// FlushBatch sends a batch of metric records in one call.
func (c *ServiceClient) FlushBatch(ctx context.Context, recs []metrics.Record) error {
	if err := c.breaker.Allow(); err != nil {
		return err
	}
	payload := struct {
		Records []metrics.Record `json:"records"`
	}{Records: recs}
	if err := c.postJSON(ctx, c.baseURL+"/metrics/batch", payload, nil); err != nil {
		c.breaker.OnFailure()
		return err
	}
	c.breaker.OnSuccess()
	return nil
}

// FetchMetrics retrieves aggregate metrics from the service.
func (c *ServiceClient) FetchMetrics(ctx context.Context) (*metrics.Snapshot, error) {
	var snap metrics.Snapshot
	if err := c.getJSON(ctx, c.baseURL+"/metrics", &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// FetchDashboard retrieves dashboard data from the service.
func (c *ServiceClient) FetchDashboard(ctx context.Context) (*metrics.Dashboard, error) {
	var dash metrics.Dashboard
	if err := c.getJSON(ctx, c.baseURL+"/dashboard", &dash); err != nil {
		return nil, err
	}
	return &dash, nil
}

// getJSON performs a breaker-guarded GET with JSON decoding.
func (c *ServiceClient) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	if err := c.breaker.Allow(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		c.breaker.OnFailure()
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.OnFailure()
		return c.translateTransportError(err, endpoint)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		c.breaker.OnFailure()
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.breaker.OnFailure()
		return fmt.Errorf("status %d: %s", resp.StatusCode, upstreamMessage(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		c.breaker.OnFailure()
		return fmt.Errorf("decoding response: %w", err)
	}
	c.breaker.OnSuccess()
	return nil
}

// BreakerState exposes the circuit state for monitoring snapshots.
func (c *ServiceClient) BreakerState() string {
	return c.breaker.State()
}

// Close releases idle connections. Safe to call more than once.
func (c *ServiceClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}
