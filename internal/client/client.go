// Package client sends JSON requests to the review API with rate limiting,
// per-attempt connections, and class-specific retry backoff.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/review-harvester/internal/metrics"
	"github.com/JakeFAU/review-harvester/internal/retry"
)

const (
	defaultMaxAttempts    = 5
	defaultConnectTimeout = 15 * time.Second
	defaultReadTimeout    = 45 * time.Second
	maxErrorBody          = 512
)

// Request outcomes used for metrics and retry reasons.
const (
	outcomeOK          = "ok"
	outcomeInvalidJSON = "invalid_json"
	outcomeThrottled   = "throttled"
	outcomeServerError = "server_error"
	outcomeHTTPError   = "http_error"
	outcomeTimeout     = "timeout"
	outcomeConnection  = "connection"
	outcomeOther       = "other"
)

var (
	invalidJSONBackoff = retry.Backoff{Base: time.Second, Max: 30 * time.Second, Jitter: time.Second}
	throttledBackoff   = retry.Backoff{Base: 5 * time.Second, Max: 60 * time.Second, Jitter: 5 * time.Second}
	serverErrBackoff   = retry.Backoff{Base: 3 * time.Second, Max: 30 * time.Second, Jitter: 3 * time.Second}
	httpErrBackoff     = retry.Backoff{Base: time.Second, Max: 20 * time.Second, Jitter: 2 * time.Second}
	timeoutBackoff     = retry.Backoff{Base: 3 * time.Second, Max: 30 * time.Second, Jitter: 3 * time.Second}
	connectionBackoff  = retry.Backoff{Base: 5 * time.Second, Max: 60 * time.Second, Jitter: 5 * time.Second}
	otherBackoff       = retry.Backoff{Base: time.Second, Max: 15 * time.Second, Jitter: 2 * time.Second}
)

// ErrInvalidJSON marks a 2xx response whose body is not JSON.
var ErrInvalidJSON = errors.New("response body is not valid JSON")

// Limiter gates every outbound attempt.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Config holds client configuration.
type Config struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	UserAgents     []string
	Headers        map[string]string
	MaxAttempts    int
}

// RequestSpec describes one logical request.
type RequestSpec struct {
	URL     string
	Body    any
	Headers map[string]string
}

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// TerminalError is returned once every attempt for a request failed.
type TerminalError struct {
	URL      string
	Attempts int
	// Status is the last HTTP status seen, or 0 when no response arrived.
	Status int
	Err    error
}

func (e *TerminalError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("request to %s failed after %d attempts (last status %d): %v", e.URL, e.Attempts, e.Status, e.Err)
	}
	return fmt.Sprintf("request to %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *TerminalError) Unwrap() error {
	return e.Err
}

// Client is a retrying JSON client. It is safe for concurrent use.
type Client struct {
	cfg     Config
	limiter Limiter
	logger  *zap.Logger

	mu      sync.Mutex
	uaIndex int

	// Test hooks.
	newTransport func() http.RoundTripper
	sleep        func(ctx context.Context, d time.Duration) error
	jitter       func(limit time.Duration) time.Duration
}

// New creates a Client. limiter may be nil to disable pacing.
func New(cfg Config, limiter Limiter, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	c := &Client{
		cfg:     cfg,
		limiter: limiter,
		logger:  logger,
		sleep:   retry.Sleep,
	}
	if n := len(cfg.UserAgents); n > 1 {
		c.uaIndex = int(retry.RandomDuration(time.Duration(n)))
	}
	c.newTransport = c.freshTransport
	return c
}

// Send posts spec.Body as JSON and returns the response body. maxAttempts <= 0
// uses the configured default. Failures after the last attempt are returned as
// *TerminalError.
func (c *Client) Send(ctx context.Context, spec RequestSpec, maxAttempts int) ([]byte, error) {
	if maxAttempts <= 0 {
		maxAttempts = c.cfg.MaxAttempts
	}
	payload, err := json.Marshal(spec.Body)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}

	lastStatus := 0
	policy := retry.Policy{
		MaxAttempts: maxAttempts,
		Classify:    c.classify,
		Sleep:       c.sleep,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			reason := reasonFor(err)
			metrics.ObserveRetry(reason)
			c.logger.Warn("request attempt failed, retrying",
				zap.String("url", spec.URL),
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", maxAttempts),
				zap.String("reason", reason),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
		},
	}
	body, err := retry.Do(ctx, policy, func(ctx context.Context, _ int) ([]byte, error) {
		body, status, err := c.attempt(ctx, spec, payload)
		if status != 0 {
			lastStatus = status
		}
		return body, err
	})
	if err == nil {
		return body, nil
	}
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		c.logger.Error("request failed permanently",
			zap.String("url", spec.URL),
			zap.Int("attempts", exhausted.Attempts),
			zap.Int("last_status", lastStatus),
			zap.Error(exhausted.Err),
		)
		return nil, &TerminalError{URL: spec.URL, Attempts: exhausted.Attempts, Status: lastStatus, Err: exhausted.Err}
	}
	return nil, err
}

func (c *Client) attempt(ctx context.Context, spec RequestSpec, payload []byte) ([]byte, int, error) {
	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, spec.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range spec.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	if ua := c.userAgent(); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	transport := c.newTransport()
	httpClient := &http.Client{
		Transport: transport,
		Timeout:   c.cfg.ConnectTimeout + c.cfg.ReadTimeout,
	}
	defer closeIdle(transport)

	resp, err := httpClient.Do(req)
	if err != nil {
		metrics.ObserveRequest(reasonFor(err))
		return nil, 0, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ObserveRequest(reasonFor(err))
		return nil, resp.StatusCode, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden {
			c.rotateUserAgent()
		}
		statusErr := &StatusError{Code: resp.StatusCode, Body: truncate(body, maxErrorBody)}
		metrics.ObserveRequest(reasonFor(statusErr))
		return nil, resp.StatusCode, statusErr
	}
	if !json.Valid(body) {
		metrics.ObserveRequest(outcomeInvalidJSON)
		return nil, resp.StatusCode, ErrInvalidJSON
	}
	metrics.ObserveRequest(outcomeOK)
	return body, resp.StatusCode, nil
}

// classify maps a failed attempt to its retry class and delay.
func (c *Client) classify(attempt int, err error) retry.Decision {
	var b retry.Backoff
	switch reasonFor(err) {
	case outcomeInvalidJSON:
		b = invalidJSONBackoff
	case outcomeThrottled:
		b = throttledBackoff
	case outcomeServerError:
		b = serverErrBackoff
	case outcomeHTTPError:
		b = httpErrBackoff
	case outcomeTimeout:
		b = timeoutBackoff
	case outcomeConnection:
		b = connectionBackoff
	default:
		b = otherBackoff
	}
	b.Rand = c.jitter
	return retry.After(b.Delay(attempt))
}

func reasonFor(err error) string {
	if errors.Is(err, ErrInvalidJSON) {
		return outcomeInvalidJSON
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.Code == http.StatusTooManyRequests || statusErr.Code == http.StatusForbidden:
			return outcomeThrottled
		case statusErr.Code >= 500:
			return outcomeServerError
		default:
			return outcomeHTTPError
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return outcomeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return outcomeTimeout
	}
	var opErr *net.OpError
	switch {
	case errors.As(err, &opErr),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF):
		return outcomeConnection
	}
	return outcomeOther
}

func (c *Client) userAgent() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.cfg.UserAgents) == 0 {
		return ""
	}
	return c.cfg.UserAgents[c.uaIndex%len(c.cfg.UserAgents)]
}

func (c *Client) rotateUserAgent() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.cfg.UserAgents) > 1 {
		c.uaIndex = (c.uaIndex + 1) % len(c.cfg.UserAgents)
	}
}

// freshTransport never reuses connections, so each attempt dials anew.
func (c *Client) freshTransport() http.RoundTripper {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: c.cfg.ConnectTimeout,
		}).DialContext,
		TLSHandshakeTimeout:   c.cfg.ConnectTimeout,
		ResponseHeaderTimeout: c.cfg.ReadTimeout,
		DisableKeepAlives:     true,
		MaxIdleConnsPerHost:   -1,
	}
}

func closeIdle(rt http.RoundTripper) {
	if t, ok := rt.(interface{ CloseIdleConnections() }); ok {
		t.CloseIdleConnections()
	}
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
