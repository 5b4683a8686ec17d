package poller

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// at most this much of a probed body is read; the rest is discarded
const maxResponseBodySize = 64 << 10

// connection pooling limits so that a long ping list cannot exhaust sockets
const (
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 4
	defaultMaxConnsPerHost     = 4
	defaultIdleConnTimeout     = 60 * time.Second
)

// Request describes one probe request.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Timeout time.Duration
}

// Response holds the outcome of a probe request.
type Response struct {
	// StatusCode is zero if the request failed before a response arrived.
	StatusCode int

	// Latency is the time until the response body was drained.
	Latency time.Duration

	// Error is set when no usable response was received.
	Error error
}

// Client is a pooled HTTP client for probing URLs.
//
// Timeouts are applied per request via the context rather than globally.
// Bodies are drained up to 64KiB so connections can be reused.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a probing [Client] with bounded connection pooling.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        defaultMaxIdleConns,
				MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
				MaxConnsPerHost:     defaultMaxConnsPerHost,
				IdleConnTimeout:     defaultIdleConnTimeout,
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

// Do performs req. It always returns a Response; failures are reported in
// its Error field.
func (c *Client) Do(ctx context.Context, req Request) Response {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	start := time.Now()

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, nil)
	if err != nil {
		return Response{Latency: time.Since(start), Error: fmt.Errorf("failed to create request: %w", err)}
	}
	httpReq.Header.Set("User-Agent", "pulsefeed-ping")
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{Latency: time.Since(start), Error: fmt.Errorf("request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBodySize)); err != nil {
		return Response{
			StatusCode: resp.StatusCode,
			Latency:    time.Since(start),
			Error:      fmt.Errorf("failed to read response body: %w", err),
		}
	}

	return Response{StatusCode: resp.StatusCode, Latency: time.Since(start)}
}

// Close closes idle pooled connections. The client remains usable. Safe to
// call multiple times and on a nil client.
func (c *Client) Close() {
	if c == nil || c.httpClient == nil {
		return
	}
	c.httpClient.CloseIdleConnections()
}
