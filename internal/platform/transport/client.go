// Package transport performs the application's outbound HTTP calls: the
// patient API, the Contextor web interface and the logout endpoints.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTimeout bounds a request when the caller's context has no deadline.
const DefaultTimeout = 15 * time.Second

// maxBodySize caps how much of a response body is read.
const maxBodySize = 4 << 20

// Response is a completed HTTP exchange.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a small form-oriented HTTP client.
type Client struct {
	http   Doer
	logger zerolog.Logger
}

// New creates a Client. A nil doer selects an *http.Client with
// DefaultTimeout.
func New(doer Doer, logger zerolog.Logger) *Client {
	if doer == nil {
		doer = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{http: doer, logger: logger.With().Str("component", "transport").Logger()}
}

// Get issues a GET, appending values to the query string.
func (c *Client) Get(ctx context.Context, rawURL string, values url.Values) (*Response, error) {
	target, err := withQuery(rawURL, values)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build GET %s: %w", rawURL, err)
	}
	return c.do(req)
}

// PostForm issues a POST with an application/x-www-form-urlencoded body.
func (c *Client) PostForm(ctx context.Context, rawURL string, values url.Values) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build POST %s: %w", rawURL, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*Response, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).
			Str("method", req.Method).
			Str("url", req.URL.Redacted()).
			Msg("request failed")
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", req.Method, req.URL.Path, err)
	}

	c.logger.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("request")

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func withQuery(rawURL string, values url.Values) (string, error) {
	if len(values) == 0 {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	q := u.Query()
	for k, vs := range values {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// BuildURL joins an origin, an application path and path segments,
// collapsing duplicate slashes in the path part.
func BuildURL(origin, appPath string, segments ...string) string {
	parts := append([]string{appPath}, segments...)
	path := "/" + strings.Join(parts, "/")
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	return strings.TrimSuffix(origin, "/") + path
}
