package http

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

	"github.com/ClareAI/astra-call-control/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxLoggedBody caps how much of a request/response body ends up in the logs
const maxLoggedBody = 2048

// ErrTokenUnavailable is returned when the client cannot obtain a bearer token.
var ErrTokenUnavailable = errors.New("control plane token unavailable")

// Request is a single control-plane call. Path is relative to the client base URL.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   interface{}
}

// Response is the raw control-plane answer for a 2xx request.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Decode unmarshals the response body into v.
func (r *Response) Decode(v interface{}) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("empty response body")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}

// ControlPlane is the request/response contract every caller depends on.
type ControlPlane interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

// APIError is a non-2xx answer from the control plane.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("control plane %s %s returned %d: %s", e.Method, e.Path, e.Status, truncate(e.Body))
}

// TokenSource returns the bearer token attached to each request.
type TokenSource func() (string, error)

// ControlPlaneClient talks to the conversation/leg REST API.
type ControlPlaneClient struct {
	BaseURL    string
	HTTPClient *http.Client
	tokens     TokenSource
	limiter    *rate.Limiter
}

// ClientOption customises a ControlPlaneClient.
type ClientOption func(*ControlPlaneClient)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cp *ControlPlaneClient) {
		cp.HTTPClient = c
	}
}

// WithTimeout sets the per-request timeout of the underlying http.Client.
func WithTimeout(d time.Duration) ClientOption {
	return func(cp *ControlPlaneClient) {
		if d > 0 {
			cp.HTTPClient.Timeout = d
		}
	}
}

// WithRateLimit throttles outgoing requests. rps <= 0 leaves the client unthrottled.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(cp *ControlPlaneClient) {
		if rps <= 0 {
			return
		}
		if burst <= 0 {
			burst = 1
		}
		cp.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewControlPlaneClient creates a client for baseURL. tokens may be nil for unauthenticated use.
func NewControlPlaneClient(baseURL string, tokens TokenSource, opts ...ClientOption) *ControlPlaneClient {
	client := &ControlPlaneClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		tokens: tokens,
	}
	for _, opt := range opts {
		opt(client)
	}

	logger.Base().Info("Control plane client configured",
		zap.String("base_url", client.BaseURL),
		zap.Bool("rate_limited", client.limiter != nil))

	return client
}

// Do sends req and returns the response for 2xx statuses. Non-2xx statuses yield *APIError;
// anything else is a transport failure.
func (c *ControlPlaneClient) Do(ctx context.Context, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("control plane rate limiter: %w", err)
		}
	}

	target := c.BaseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var payload []byte
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		payload = data
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	if c.tokens != nil {
		token, err := c.tokens()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTokenUnavailable, err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	logger.Base().Debug("Control plane request",
		zap.String("method", method),
		zap.String("url", target),
		zap.String("body", truncate(payload)))

	start := time.Now()
	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		logger.Base().Warn("Control plane request failed",
			zap.String("method", method),
			zap.String("url", target),
			zap.Error(err))
		return nil, fmt.Errorf("control plane %s %s: %w", method, req.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	logger.Base().Debug("Control plane response",
		zap.String("method", method),
		zap.String("url", target),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
		zap.String("body", truncate(body)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{
			Method: method,
			Path:   req.Path,
			Status: resp.StatusCode,
			Body:   body,
		}
	}

	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   body,
	}, nil
}

// IsRetryable reports whether err is worth another attempt: transport failures,
// 5xx and 429 answers. Token, encoding and context errors are final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrTokenUnavailable) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= http.StatusInternalServerError || apiErr.Status == http.StatusTooManyRequests
	}

	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// IsAmbiguous reports whether the control plane may have applied a request that failed:
// the connection broke after sending, or the server answered 5xx.
func IsAmbiguous(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= http.StatusInternalServerError
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// UpstreamStatus returns the control-plane status carried by err, or 0.
func UpstreamStatus(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

func truncate(b []byte) string {
	if len(b) > maxLoggedBody {
		return string(b[:maxLoggedBody]) + "..."
	}
	return string(b)
}
