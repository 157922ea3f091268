// Package api is the HTTP client for the DaktariHub backend.
//
// Every response uses the envelope {success, data, message}. Failures are returned as
// *errs.APIError classified into the errs sentinels; callers never see raw transport errors.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/daktarihub/daktari-client/internal/errs"
)

const (
	// DefaultBaseURL matches the backend's development address.
	DefaultBaseURL = "http://localhost:5000/api"
	// DefaultTimeout bounds every request.
	DefaultTimeout = 30 * time.Second

	// RequestIDHeader carries a per-request ksuid for backend log correlation.
	RequestIDHeader = "X-Request-ID"

	maxBody = 1 << 20
)

// Client talks to the backend. It is safe for concurrent use.
type Client struct {
	base    string
	http    *http.Client
	timeout time.Duration
	log     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithTimeout sets the per-request deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the request logger.
func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.log = l } }

// New returns a client for baseURL (DefaultBaseURL when empty).
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		base:    strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		timeout: DefaultTimeout,
		log:     zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string { return c.base }

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// do sends one request and decodes the envelope data into out (when non-nil).
func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("api: encode body: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return fmt.Errorf("api: build request: %w", err)
	}
	reqID := ksuid.New().String()
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, reqID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		aerr := transportError(ctx, err)
		c.log.Warn("api request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.String("request_id", reqID),
			zap.Duration("dur", time.Since(start)),
			zap.Error(aerr),
		)
		return aerr
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return transportError(ctx, err)
	}
	c.log.Debug("api",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.String("request_id", reqID),
		zap.Duration("dur", time.Since(start)),
	)

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode >= 400 {
		msg := ""
		if decodeErr == nil {
			msg = env.Message
		}
		return &errs.APIError{Kind: kindForStatus(resp.StatusCode), Status: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return &errs.APIError{Kind: errs.ErrUnexpectedResponse, Status: resp.StatusCode, Message: "response is not valid JSON"}
	}
	if !env.Success {
		return &errs.APIError{Kind: errs.ErrUnexpectedResponse, Status: resp.StatusCode, Message: env.Message}
	}
	if out == nil {
		return nil
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return &errs.APIError{Kind: errs.ErrUnexpectedResponse, Status: resp.StatusCode, Message: "response has no data"}
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &errs.APIError{Kind: errs.ErrUnexpectedResponse, Status: resp.StatusCode, Message: "response data has unexpected shape"}
	}
	return nil
}

func kindForStatus(code int) error {
	switch {
	case code == http.StatusConflict:
		return errs.ErrConflict
	case code == http.StatusTooManyRequests:
		return errs.ErrRateLimited
	case code == http.StatusNotFound:
		return errs.ErrNotFound
	case code == http.StatusForbidden:
		return errs.ErrForbidden
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return errs.ErrTimeout
	case code >= 400 && code < 500:
		return errs.ErrAuthentication
	default:
		return errs.ErrUnexpectedResponse
	}
}

// transportError classifies a failure that happened before a response was read.
func transportError(ctx context.Context, err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &ne) && ne.Timeout()) {
		return &errs.APIError{Kind: errs.ErrTimeout}
	}
	return &errs.APIError{Kind: errs.ErrNetwork, Message: "network error: " + err.Error()}
}
