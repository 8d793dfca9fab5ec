// Package client talks to the support desk REST API. A Client is constructed
// explicitly and passed to whoever needs it.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"supportdesk/internal/metrics"
)

const (
	DefaultBaseURL = "http://localhost:8080/api"
	DefaultTimeout = 30 * time.Second
	DefaultRetries = 1
	defaultBackoff = time.Second
	maxErrorBody   = 4 << 10
)

// ErrorKind classifies an APIError.
type ErrorKind string

const (
	KindClient ErrorKind = "client" // 4xx
	KindServer ErrorKind = "server" // 5xx
	KindOther  ErrorKind = "other"
)

// APIError is returned for every non-2xx response.
type APIError struct {
	StatusCode int
	Status     string // status text, e.g. "Not Found"
	Body       string
}

func (e *APIError) Error() string {
	return "API Error: " + e.Status
}

// Kind reports whether the failure was the caller's or the server's.
func (e *APIError) Kind() ErrorKind {
	switch {
	case e.StatusCode >= 400 && e.StatusCode < 500:
		return KindClient
	case e.StatusCode >= 500:
		return KindServer
	default:
		return KindOther
	}
}

// Config configures a Client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// Retries is the number of extra attempts for GET requests. Negative
	// disables retries; zero uses DefaultRetries.
	Retries int
	// Backoff is the base delay between GET retries.
	Backoff    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

// Client issues JSON requests against the API base URL.
type Client struct {
	baseURL string
	retries int
	backoff time.Duration
	hc      *http.Client
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu    sync.RWMutex
	token string
}

// New creates a Client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	switch {
	case cfg.Retries < 0:
		cfg.Retries = 0
	case cfg.Retries == 0:
		cfg.Retries = DefaultRetries
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = newHTTPClient(cfg.Timeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		retries: cfg.Retries,
		backoff: cfg.Backoff,
		hc:      cfg.HTTPClient,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		token:   cfg.Token,
	}
}

// BaseURL returns the API root all endpoints are resolved against.
func (c *Client) BaseURL() string { return c.baseURL }

// SetToken sets the bearer token sent with every request.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// ClearToken stops sending an Authorization header.
func (c *Client) ClearToken() { c.SetToken("") }

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Get fetches endpoint into out. GET is the only retried method.
func (c *Client) Get(ctx context.Context, endpoint string, out any) error {
	return c.do(ctx, http.MethodGet, endpoint, nil, out)
}

func (c *Client) Post(ctx context.Context, endpoint string, body, out any) error {
	return c.do(ctx, http.MethodPost, endpoint, body, out)
}

func (c *Client) Put(ctx context.Context, endpoint string, body, out any) error {
	return c.do(ctx, http.MethodPut, endpoint, body, out)
}

func (c *Client) Patch(ctx context.Context, endpoint string, body, out any) error {
	return c.do(ctx, http.MethodPatch, endpoint, body, out)
}

func (c *Client) Delete(ctx context.Context, endpoint string, out any) error {
	return c.do(ctx, http.MethodDelete, endpoint, nil, out)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	url := c.baseURL + endpoint

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode %s %s body: %w", method, endpoint, err)
		}
	}

	retries := 0
	if method == http.MethodGet {
		retries = c.retries
	}
	token := c.Token()

	resp, err := doWithRetry(ctx, c.hc, retries, c.backoff, func() (*http.Request, error) {
		var r io.Reader
		if payload != nil {
			r = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, r)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		return req, nil
	}, c.logger)
	if err != nil {
		c.metrics.ClientRequest(method, "transport_error")
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Status:     statusText(resp),
			Body:       string(data),
		}
		c.metrics.ClientRequest(method, string(apiErr.Kind())+"_error")
		c.logger.Debug("api request failed", "method", method, "endpoint", endpoint, "status", resp.StatusCode)
		return apiErr
	}
	c.metrics.ClientRequest(method, "ok")

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("decode %s %s response: %w", method, endpoint, err)
	}
	return nil
}

// statusText strips the numeric code from resp.Status ("404 Not Found").
func statusText(resp *http.Response) string {
	if text, ok := strings.CutPrefix(resp.Status, strconv.Itoa(resp.StatusCode)+" "); ok && text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}
