// Package client provides the HTTP client for the World Bank v2 API with
// request spacing, error classification and Prometheus instrumentation.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/wbpanel/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultBaseURL is the public World Bank v2 API root.
const DefaultBaseURL = "https://api.worldbank.org/v2"

// maxBodyBytes caps a single response body.
const maxBodyBytes = 64 << 20

// Prometheus metrics for API client operations.
var (
	wbRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wb_requests_total",
		Help: "Total World Bank API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	wbRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wb_request_duration_seconds",
		Help:    "World Bank API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})

	wbErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wb_errors_total",
		Help: "Total World Bank API errors by class",
	}, []string{"class"})
)

// Client is the World Bank API client.
type Client struct {
	httpClient *http.Client
	limiter    ratelimit.Limiter
	baseURL    string
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the API root, e.g. "https://api.worldbank.org/v2".
	BaseURL string

	// UserAgent is sent with every request.
	UserAgent string

	// Timeout bounds each HTTP request, body included.
	Timeout time.Duration

	// Limiter spaces requests. Nil disables spacing.
	Limiter ratelimit.Limiter
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(userAgent string) Config {
	return Config{
		BaseURL:   DefaultBaseURL,
		UserAgent: userAgent,
		Timeout:   30 * time.Second,
		Limiter:   ratelimit.NewInterval(ratelimit.DefaultInterval),
	}
}

// New creates a new API client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}

	u, err := url.Parse(cfg.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("base url must be an absolute http(s) url (got %q)", cfg.BaseURL)
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be > 0 (got %s)", cfg.Timeout)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: cfg.Limiter,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		config:  cfg,
		logger:  log.With().Str("component", "wb-client").Logger(),
	}, nil
}

// Do waits for a request slot, performs req and returns the response body.
// Any transport failure or non-2xx status yields an *APIError.
func (c *Client) Do(req *http.Request) ([]byte, error) {
	ctx := req.Context()
	endpoint := endpointLabel(req.URL.Path)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	startTime := time.Now()
	defer func() {
		wbRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("url", req.URL.String()).
		Msg("Executing API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		errClass := c.classifyError(nil, err)
		wbErrorsTotal.WithLabelValues(string(errClass)).Inc()
		wbRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		c.logger.Error().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
		return nil, &APIError{
			ErrorClass: errClass,
			Message:    "request failed",
			Err:        err,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		wbErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		wbRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			Message:    "read response body",
			Err:        err,
		}
	}

	wbRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errClass := c.classifyError(resp, nil)
		wbErrorsTotal.WithLabelValues(string(errClass)).Inc()

		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(errClass)).
			Msg("API request error")

		return nil, &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: errClass,
			Message:    statusMessage(resp.Status, body),
		}
	}

	return body, nil
}

// Get performs a GET request for path (relative to the base URL) with the
// given query parameters.
func (c *Client) Get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	return c.Do(req)
}

// BaseURL returns the normalized API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// classifyError categorizes an error for observability and handling.
func (c *Client) classifyError(resp *http.Response, err error) ErrorClass {
	if err != nil {
		return ErrorClassNetwork
	}

	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return ErrorClassClient
	case resp.StatusCode >= 500:
		return ErrorClassServer
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		// 1xx/3xx that were not followed.
		return ErrorClassClient
	default:
		return ""
	}
}

// endpointLabel collapses request paths into a bounded set of metric labels.
func endpointLabel(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i := 0; i+3 < len(segments); i++ {
		if segments[i] == "country" && segments[i+2] == "indicator" {
			return "/country/{countries}/indicator/{indicator}"
		}
	}
	return "other"
}

// statusMessage keeps the status line plus a short prefix of the body.
func statusMessage(status string, body []byte) string {
	snippet := strings.TrimSpace(string(body))
	if snippet == "" {
		return status
	}
	if len(snippet) > 200 {
		snippet = snippet[:200] + "..."
	}
	return status + ": " + snippet
}
