// Package httpclient is the JSON-over-HTTP transport shared by the archive
// and search-index adapters: bounded timeouts, optional basic auth and
// request throttling, and no automatic retries.
package httpclient

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

	"golang.org/x/time/rate"

	"github.com/custodia-labs/dixelkit/internal/core/domain"
	"github.com/custodia-labs/dixelkit/internal/logger"
)

const (
	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// maxErrorBody bounds how much of an error response is kept.
	maxErrorBody = 512
)

// Config configures a Client.
type Config struct {
	BaseURL  string
	User     string
	Password string
	Timeout  time.Duration

	// RateLimit is the sustained requests per second; 0 disables throttling.
	RateLimit float64

	// HTTPClient overrides the underlying client (tests).
	HTTPClient *http.Client
}

// Client issues requests relative to a base URL.
type Client struct {
	base     string
	user     string
	password string
	http     *http.Client
	limiter  *rate.Limiter
	log      *logger.Logger
}

// New creates a Client.
func New(cfg Config, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Discard()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}

	c := &Client{
		base:     strings.TrimRight(cfg.BaseURL, "/"),
		user:     cfg.User,
		password: cfg.Password,
		http:     hc,
		log:      log,
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return c
}

// BaseURL returns the base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.base
}

// APIError is a non-success HTTP response.
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Is maps 404 responses onto domain.ErrNotFound.
func (e *APIError) Is(target error) bool {
	return target == domain.ErrNotFound && e.StatusCode == http.StatusNotFound
}

// IsNotFound checks if the error is a 404 response.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Do sends a request and returns the raw response; callers close the body.
// Transport failures are returned as *domain.ConnectionError.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string) (*http.Response, error) {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", domain.ErrInvalidInput, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.user != "" || c.password != "" {
		req.SetBasicAuth(c.user, c.password)
	}

	c.log.Debug("%s %s", method, u)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &domain.ConnectionError{Method: method, URL: u, Err: err}
	}
	return resp, nil
}

// Status sends a request and returns only the status code, draining the body.
func (c *Client) Status(ctx context.Context, method, path string, body io.Reader, contentType string) (int, []byte, error) {
	resp, err := c.Do(ctx, method, path, nil, body, contentType)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, &domain.ConnectionError{Method: method, URL: c.base + path, Err: err}
	}
	return resp.StatusCode, data, nil
}

// JSON sends an optional JSON body and decodes a JSON response into out.
// Non-2xx responses are returned as *APIError.
func (c *Client) JSON(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.Raw(ctx, method, path, query, body, contentType, out)
}

// Raw sends body as-is and decodes a JSON response into out (if non-nil).
func (c *Client) Raw(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string, out any) error {
	resp, err := c.Do(ctx, method, path, query, body, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{
			Method:     method,
			URL:        resp.Request.URL.String(),
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// Text performs a GET and returns the trimmed body text.
func (c *Client) Text(ctx context.Context, path string) (string, error) {
	resp, err := c.Do(ctx, http.MethodGet, path, nil, nil, "")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &domain.ConnectionError{Method: http.MethodGet, URL: c.base + path, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &APIError{
			Method:     http.MethodGet,
			URL:        c.base + path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(data)),
		}
	}
	return strings.TrimSpace(string(data)), nil
}
