// Package sdmx is the transport to the warehouse's structure and data
// endpoints. It speaks SDMX-JSON for structural metadata and SDMX-CSV for
// observations, and classifies failures as structural not-found or transient.
package sdmx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"statflow/internal/domain"
)

// Accept headers for the two message families.
const (
	structureMediaType = "application/vnd.sdmx.structure+json;version=1.0"
	dataMediaType      = "application/vnd.sdmx.data+csv;version=1.0.0"
)

// Config configures the client.
type Config struct {
	// BaseURL is the REST root, e.g. https://sdmx.data.unicef.org/ws/public/sdmxapi/rest.
	BaseURL string
	// Agency owns every dataflow and codelist requested.
	Agency string
	// Timeout bounds a single HTTP exchange (default: 60s).
	Timeout time.Duration
	// MaxRetries for structure requests (default: 3). Data requests are never
	// retried here; the fetch engine owns that policy.
	MaxRetries int
	// RateLimit requests per second (default: 5).
	RateLimit float64
	// RateBurst maximum burst size (default: 5).
	RateBurst int
	// PageSize is the number of observations requested per data page.
	// Zero disables Range paging.
	PageSize int
	// UserAgent string (default: "statflow/1.0").
	UserAgent string
	// Transport allows injecting a custom HTTP transport (for tests).
	Transport http.RoundTripper
	// Logger receives payload warnings (default: slog.Default()).
	Logger *slog.Logger
}

// Client is a rate-limited client for the warehouse. It implements
// domain.StructureSource and domain.DataSource.
type Client struct {
	cfg         Config
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

var (
	_ domain.StructureSource = (*Client)(nil)
	_ domain.DataSource      = (*Client)(nil)
)

// NewClient creates a client, applying defaults to unset fields.
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 5
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = 5
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "statflow/1.0"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		},
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
	}
}

// SourceID identifies the endpoint and agency.
func (c *Client) SourceID() string {
	return c.cfg.BaseURL + "#" + c.cfg.Agency
}

// request is one HTTP exchange.
type request struct {
	path    string
	query   url.Values
	accept  string
	headers map[string]string
}

// response is a fully-read HTTP response.
type response struct {
	statusCode int
	headers    http.Header
	body       []byte
}

// doOnce executes a single exchange. Non-2xx statuses are returned as
// *StatusError alongside the response.
func (c *Client) doOnce(ctx context.Context, req request) (*response, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, &TransportError{Op: "rate limiter", Err: err}
	}

	fullURL := c.cfg.BaseURL + "/" + strings.TrimPrefix(req.path, "/")
	if len(req.query) > 0 {
		fullURL += "?" + req.query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", c.cfg.UserAgent)
	httpReq.Header.Set("Accept", req.accept)
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Op: "GET " + req.path, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "read body", Err: err}
	}

	out := &response{statusCode: resp.StatusCode, headers: resp.Header, body: body}
	if resp.StatusCode >= 400 {
		return out, &StatusError{StatusCode: resp.StatusCode, Message: snippet(body)}
	}
	return out, nil
}

// doWithRetry retries transient failures with exponential backoff. Used for
// structure requests only.
func (c *Client) doWithRetry(ctx context.Context, req request) (*response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		resp, err := c.doOnce(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !domain.IsTransient(err) {
			return resp, err
		}
		if attempt == c.cfg.MaxRetries {
			break
		}

		backoff := time.Duration(1<<uint(attempt)) * 200 * time.Millisecond
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// StatusError is a non-2xx response from the warehouse.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Transient reports whether the status may clear on retry.
func (e *StatusError) Transient() bool {
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= 500
}

// TransportError is a failure below HTTP: DNS, connection, TLS, timeouts.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *TransportError) Unwrap() error { return e.Err }

// Transient is true unless the caller cancelled the request.
func (e *TransportError) Transient() bool {
	return !errors.Is(e.Err, context.Canceled)
}

// noRecordsMarkers are the body markers the warehouse uses for empty results.
var noRecordsMarkers = []string{"NoRecordsFound", "NoResultsFound", "No Results Found"}

func hasNoRecordsMarker(body []byte) bool {
	s := string(body)
	for _, m := range noRecordsMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// structuralNotFound maps a response to a *domain.NotFoundError when the
// warehouse definitively has nothing for the request.
func structuralNotFound(resp *response, err error, what string) error {
	var se *StatusError
	if errors.As(err, &se) {
		switch se.StatusCode {
		case http.StatusNotFound:
			return domain.ErrNotFound("%s: not found", what)
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return domain.ErrNotFound("%s: rejected by dataflow (HTTP %d)", what, se.StatusCode)
		}
	}
	if resp != nil && hasNoRecordsMarker(resp.body) && !isTransientStatus(err) {
		return domain.ErrNotFound("%s: no records", what)
	}
	return nil
}

func isTransientStatus(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Transient()
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
