// Package httpx is the outbound HTTP client used by upstream inference
// backends: JSON posts with bounded retry on transient failures, plus a
// streaming variant whose overall timeout is disabled so long generations
// are not cut off mid-body.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultUserAgent = "osaurus/1.0"

// Config tunes the client. Zero values pick the defaults.
type Config struct {
	// Timeout bounds a whole non-streaming request. For streaming requests
	// it bounds only the wait for response headers.
	Timeout        time.Duration
	MaxRetries     int
	BaseRetryDelay time.Duration
	MaxRetryDelay  time.Duration
	UserAgent      string
	// Headers are applied to every request, e.g. Authorization.
	Headers map[string]string
}

type Client struct {
	json   *http.Client
	stream *http.Client
	cfg    Config
}

func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if cfg.BaseRetryDelay == 0 {
		cfg.BaseRetryDelay = 500 * time.Millisecond
	}
	if cfg.MaxRetryDelay == 0 {
		cfg.MaxRetryDelay = 10 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	streamTransport := transport.Clone()
	streamTransport.ResponseHeaderTimeout = cfg.Timeout

	return &Client{
		json:   &http.Client{Timeout: cfg.Timeout, Transport: transport},
		stream: &http.Client{Transport: streamTransport},
		cfg:    cfg,
	}
}

// PostJSON sends body as JSON and returns the response, retrying transient
// failures. The caller owns the response body.
func (c *Client) PostJSON(ctx context.Context, url string, body any) (*http.Response, error) {
	return c.post(ctx, c.json, url, body)
}

// PostJSONStream is PostJSON on the streaming client: the response body has
// no deadline, only the wait for headers does. Retries apply before the
// first byte of the body is handed back.
func (c *Client) PostJSONStream(ctx context.Context, url string, body any) (*http.Response, error) {
	return c.post(ctx, c.stream, url, body)
}

func (c *Client) post(ctx context.Context, hc *http.Client, url string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	var resp *http.Response
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.backoff(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", c.cfg.UserAgent)
		for k, v := range c.cfg.Headers {
			req.Header.Set(k, v)
		}

		resp, err = hc.Do(req)
		if err != nil {
			if attempt < c.cfg.MaxRetries && ctx.Err() == nil {
				continue
			}
			return nil, err
		}
		if retryableStatus(resp.StatusCode) && attempt < c.cfg.MaxRetries {
			resp.Body.Close()
			continue
		}
		return resp, nil
	}
}

// backoff doubles the delay per attempt up to the cap.
func (c *Client) backoff(attempt int) time.Duration {
	d := c.cfg.BaseRetryDelay << (attempt - 1)
	if d > c.cfg.MaxRetryDelay || d <= 0 {
		d = c.cfg.MaxRetryDelay
	}
	return d
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
