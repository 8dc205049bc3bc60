// Package api is the HTTP client of the test management API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spiffcs/testdeck/internal/constants"
	"github.com/spiffcs/testdeck/internal/log"
	"golang.org/x/oauth2"
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client. The token, if any,
// is not applied to a client supplied this way.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRetry sets how many times a read is retried and the backoff bounds.
func WithRetry(maxRetries int, base, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.baseDelay = base
		c.maxDelay = maxDelay
	}
}

// Client talks to the test management API. Reads are retried on transient
// failures; mutations are sent exactly once.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewClient creates a client for baseURL. A non-empty token is sent as a
// bearer token on every request.
func NewClient(ctx context.Context, baseURL, token string, opts ...Option) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = constants.DefaultAPIURL
	}

	hc := &http.Client{Timeout: constants.HTTPTimeout}
	if token = strings.TrimSpace(token); token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		hc = oauth2.NewClient(ctx, ts)
		hc.Timeout = constants.HTTPTimeout
	}
	hc.Transport = &loggingTransport{base: hc.Transport}

	c := &Client{
		baseURL:    baseURL,
		httpClient: hc,
		maxRetries: constants.MaxReadRetries,
		baseDelay:  constants.RetryBaseDelay,
		maxDelay:   constants.RetryMaxDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// loggingTransport logs every round trip at info level.
type loggingTransport struct {
	base http.RoundTripper
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	start := time.Now()
	resp, err := base.RoundTrip(req)
	if err != nil {
		log.Debug("request failed", "method", req.Method, "path", req.URL.Path, "error", err)
		return nil, err
	}
	log.Info("request", "method", req.Method, "path", req.URL.Path, "status", resp.StatusCode, "duration", time.Since(start).Round(time.Millisecond))
	return resp, nil
}

type request struct {
	op          string
	method      string
	path        string
	body        []byte
	contentType string
}

// envelope is the response body shared by every endpoint.
type envelope struct {
	IsSuccess *bool           `json:"isSuccess"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	FileID    string          `json:"file_id"`
	ReportID  string          `json:"report_id"`
}

// do sends r and returns the raw body of a successful response. Only GET
// requests are retried.
func (c *Client) do(ctx context.Context, r request) ([]byte, error) {
	retry := r.method == http.MethodGet
	for attempt := 0; ; attempt++ {
		var body io.Reader
		if r.body != nil {
			body = bytes.NewReader(r.body)
		}
		req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if r.contentType != "" {
			req.Header.Set("Content-Type", r.contentType)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if retry && ctx.Err() == nil && attempt < c.maxRetries {
				log.Debug("retrying read", "op", r.op, "attempt", attempt+1, "error", err)
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return nil, &NetworkError{Op: r.op, Err: waitErr}
				}
				continue
			}
			return nil, &NetworkError{Op: r.op, Err: err}
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, &NetworkError{Op: r.op, Err: readErr}
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return payload, nil
		}

		if retry && (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < c.maxRetries {
			log.Debug("retrying read", "op", r.op, "attempt", attempt+1, "status", resp.StatusCode)
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return nil, &NetworkError{Op: r.op, Err: waitErr}
			}
			continue
		}

		var env envelope
		_ = json.Unmarshal(payload, &env)
		return nil, &ServerRejected{Op: r.op, StatusCode: resp.StatusCode, Message: env.Message}
	}
}

// call sends r and decodes the envelope, turning isSuccess false into a
// rejection.
func (c *Client) call(ctx context.Context, r request) (envelope, []byte, error) {
	payload, err := c.do(ctx, r)
	if err != nil {
		return envelope{}, nil, err
	}
	var env envelope
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &env); err != nil {
			return envelope{}, nil, &ServerRejected{Op: r.op, StatusCode: http.StatusOK, Message: "malformed response: " + err.Error()}
		}
	}
	if env.IsSuccess != nil && !*env.IsSuccess {
		return envelope{}, nil, &ServerRejected{Op: r.op, StatusCode: http.StatusOK, Message: env.Message}
	}
	return env, payload, nil
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = constants.RetryMaxDelay
	}
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		return min(retryAfter, maxDelay)
	}
	delay := c.baseDelay
	if delay <= 0 {
		delay = constants.RetryBaseDelay
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return min(delay, maxDelay)
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsTransient reports whether err is worth retrying later.
func IsTransient(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return !errors.Is(err, context.Canceled)
	}
	var rejected *ServerRejected
	if errors.As(err, &rejected) {
		return rejected.StatusCode == http.StatusTooManyRequests || rejected.StatusCode >= 500
	}
	return false
}
