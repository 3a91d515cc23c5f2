// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

/*
client.go - Resilient Backend HTTP Transport

Every backend gets its own Client so that one slow or failing media server
cannot starve the others. A request passes through three layers:

 1. a token bucket rate limiter (golang.org/x/time/rate)
 2. a circuit breaker (sony/gobreaker) that trips on transport errors and 5xx
 3. a retry loop (avast/retry-go) for 429 and 503, honouring Retry-After

Other statuses are returned as-is; deciding what a 404 means is the caller's
job.
*/

//nolint:staticcheck // File documentation, not package doc
package transport

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/avast/retry-go/v4"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/statesync/internal/logging"
	"github.com/tomtom215/statesync/internal/metrics"
)

// Doer sends one HTTP request. *http.Client and *Client implement it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

var (
	_ Doer = (*Client)(nil)
	_ Doer = (*http.Client)(nil)
)

// ErrCircuitOpen is returned while the breaker rejects requests. It wraps
// gobreaker.ErrOpenState or gobreaker.ErrTooManyRequests.
var ErrCircuitOpen = errors.New("circuit breaker open")

// errServerStatus marks a 5xx response as a breaker failure.
var errServerStatus = errors.New("server error status")

// Config controls one Client.
type Config struct {
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	RetryAttempts     uint
	RetryDelay        time.Duration
	MaxRetryDelay     time.Duration
	BreakerFailures   uint32
	BreakerTimeout    time.Duration
}

// DefaultConfig returns the transport defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:           30 * time.Second,
		RequestsPerSecond: 10,
		Burst:             20,
		RetryAttempts:     3,
		RetryDelay:        time.Second,
		MaxRetryDelay:     30 * time.Second,
		BreakerFailures:   5,
		BreakerTimeout:    time.Minute,
	}
}

// Client is a rate limited, circuit broken, retrying HTTP client for one
// backend.
type Client struct {
	name    string
	base    Doer
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[*http.Response]
	cfg     Config
}

// New creates a Client for the backend called name. A nil base uses an
// *http.Client with cfg.Timeout.
func New(name string, cfg Config, base Doer) *Client {
	def := DefaultConfig()
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = def.MaxRetryDelay
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = def.BreakerFailures
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = def.BreakerTimeout
	}
	if base == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = def.Timeout
		}
		base = &http.Client{Timeout: timeout}
	}

	c := &Client{
		name:    name,
		base:    base,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		cfg:     cfg,
	}
	c.cb = newBreaker(name, cfg)
	return c
}

// Name returns the backend name the client was created for.
func (c *Client) Name() string {
	return c.name
}

// State returns the breaker state.
func (c *Client) State() gobreaker.State {
	return c.cb.State()
}

// Do sends req. Requests with a body must be replayable (req.GetBody set, as
// http.NewRequest does for bytes readers) to be retried.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	attempts := c.cfg.RetryAttempts + 1
	var (
		resp    *http.Response
		attempt uint
	)

	err := retry.Do(
		func() error {
			attempt++
			if err := c.limiter.Wait(ctx); err != nil {
				return retry.Unrecoverable(fmt.Errorf("rate limiter: %w", err))
			}

			r, err := c.send(req)
			if err != nil {
				return retry.Unrecoverable(err)
			}

			if retryableStatus(r.StatusCode) && attempt < attempts && replayable(req) {
				wait := retryAfter(r.Header.Get("Retry-After"))
				drain(r)
				return &statusError{status: r.StatusCode, wait: wait}
			}

			resp = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			var se *statusError
			return errors.As(err, &se)
		}),
		retry.DelayType(c.delay),
		retry.OnRetry(func(n uint, err error) {
			metrics.BackendRetries.WithLabelValues(c.name).Inc()
			logging.Warn().Str("backend", c.name).Uint("attempt", n+1).Err(err).Msg("Backend throttled request, retrying")
		}),
	)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// send performs one attempt through the breaker.
func (c *Client) send(req *http.Request) (*http.Response, error) {
	attemptReq, err := rewind(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.cb.Execute(func() (*http.Response, error) {
		r, err := c.base.Do(attemptReq)
		if err != nil {
			return nil, err
		}
		if r.StatusCode >= http.StatusInternalServerError {
			return r, errServerStatus
		}
		return r, nil
	})

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(c.name, "rejected").Inc()
		logging.Warn().Str("backend", c.name).Err(err).Msg("[CIRCUIT BREAKER] Request rejected")
		return nil, fmt.Errorf("%s: %w: %w", c.name, ErrCircuitOpen, err)
	case errors.Is(err, errServerStatus):
		metrics.CircuitBreakerRequests.WithLabelValues(c.name, "failure").Inc()
		metrics.RecordBackendRequest(c.name, req.Method, resp.StatusCode, time.Since(start))
		return resp, nil
	case err != nil:
		metrics.CircuitBreakerRequests.WithLabelValues(c.name, "failure").Inc()
		metrics.RecordBackendRequest(c.name, req.Method, 0, time.Since(start))
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Redacted(), err)
	}

	metrics.CircuitBreakerRequests.WithLabelValues(c.name, "success").Inc()
	metrics.RecordBackendRequest(c.name, req.Method, resp.StatusCode, time.Since(start))
	return resp, nil
}

// delay is exponential backoff unless the server asked for a specific wait.
func (c *Client) delay(n uint, err error, _ *retry.Config) time.Duration {
	var se *statusError
	if errors.As(err, &se) && se.wait > 0 {
		if se.wait > c.cfg.MaxRetryDelay {
			return c.cfg.MaxRetryDelay
		}
		return se.wait
	}

	d := c.cfg.RetryDelay << n
	if d <= 0 || d > c.cfg.MaxRetryDelay {
		return c.cfg.MaxRetryDelay
	}
	return d
}

// statusError is a retryable status response.
type statusError struct {
	status int
	wait   time.Duration
}

func (e *statusError) Error() string {
	return "retryable status " + strconv.Itoa(e.status)
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable
}

// retryAfter parses a Retry-After header (seconds or HTTP date).
func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// rewind returns a request with a fresh body for one attempt.
func rewind(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.GetBody == nil {
		return req, nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("rewind request body: %w", err)
	}
	r := req.Clone(req.Context())
	r.Body = body
	return r, nil
}

func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
