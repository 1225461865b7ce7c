// Package httpx provides the single outbound HTTP client shared by every
// stage that talks to the network. It layers bounded global concurrency,
// exponential backoff with jitter, Retry-After-aware rate-limit handling
// and a per-endpoint circuit breaker over a pooled http.Client, and keeps
// usage counters for the cycle summary.
package httpx

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"newsdesk/internal/logger"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// ErrBreakerOpen is returned when the endpoint's circuit breaker is open
// and the call was rejected without touching the network.
var ErrBreakerOpen = errors.New("circuit breaker open")

// StatusError reports a retryable upstream HTTP status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d", e.Code)
}

// Options configures a Client.
type Options struct {
	MaxRetries        int               // Max retries per call after the first attempt
	BackoffBase       time.Duration     // Initial backoff delay
	BackoffCap        time.Duration     // Backoff ceiling
	BreakerThreshold  int               // Consecutive failures before an endpoint's breaker opens
	BreakerCooldown   time.Duration     // Open-state duration before the single half-open probe
	GlobalConcurrency int               // In-flight request ceiling across all stages
	Transport         http.RoundTripper // Injected for tests; nil uses a pooled default
}

// Stats is a point-in-time snapshot of the client's counters.
type Stats struct {
	Calls        uint64
	Successes    uint64
	Errors       uint64
	Rejected     uint64 // Calls refused by an open breaker
	AvgLatencyMs float64
	BreakerOpens uint64 // Closed-to-open transitions observed
	OpenBreakers int    // Endpoints currently open
}

// Client is the shared outbound HTTP client.
type Client struct {
	http     *http.Client
	opts     Options
	sem      chan struct{}
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker

	calls        atomic.Uint64
	successes    atomic.Uint64
	failures     atomic.Uint64
	rejected     atomic.Uint64
	latencyNanos atomic.Int64
	breakerOpens atomic.Uint64
}

// New creates the shared client. Timeouts are per-request, supplied by the
// caller through the request context.
func New(opts Options) *Client {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = 30 * time.Second
	}
	if opts.BreakerThreshold <= 0 {
		opts.BreakerThreshold = 5
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = 60 * time.Second
	}
	if opts.GlobalConcurrency <= 0 {
		opts.GlobalConcurrency = 64
	}

	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{
			MaxIdleConns:        opts.GlobalConcurrency,
			MaxIdleConnsPerHost: opts.GlobalConcurrency / 4,
			IdleConnTimeout:     90 * time.Second,
		}
	}

	return &Client{
		http:     &http.Client{Transport: transport},
		opts:     opts,
		sem:      make(chan struct{}, opts.GlobalConcurrency),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// breaker returns the circuit breaker for an endpoint, creating it on
// first use. Endpoints are keyed by host.
func (c *Client) breaker(host string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok := c.breakers[host]; ok {
		return cb
	}
	threshold := uint32(c.opts.BreakerThreshold)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        host,
		MaxRequests: 1, // single probe in half-open
		Timeout:     c.opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				c.breakerOpens.Add(1)
			}
			logger.Warn("circuit breaker state change", "endpoint", name, "from", from.String(), "to", to.String())
		},
	})
	c.breakers[host] = cb
	return cb
}

// Do executes the request with the full outbound policy. The request must
// carry a context with its timeout, and requests with a body must set
// GetBody so they can be replayed across retries.
//
// Responses with non-retryable statuses (including 404/410) are returned
// to the caller without error; permanent-vs-transient classification of
// such statuses belongs to the stage.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.opts.BackoffBase
	bo.MaxInterval = c.opts.BackoffCap
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.5
	bo.MaxElapsedTime = 0
	bo.Reset()

	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := c.attempt(req)
		if err == nil {
			if !retryableStatus(resp.StatusCode) {
				return resp, nil
			}
			lastErr = &StatusError{Code: resp.StatusCode}
		} else {
			if errors.Is(err, ErrBreakerOpen) {
				return nil, err
			}
			lastErr = err
		}

		if attempt >= c.opts.MaxRetries {
			if resp != nil {
				drain(resp)
			}
			return nil, fmt.Errorf("all %d retries exhausted: %w", c.opts.MaxRetries, lastErr)
		}

		delay := bo.NextBackOff()
		if resp != nil {
			// A Retry-After header on a 429 overrides the backoff schedule.
			if resp.StatusCode == http.StatusTooManyRequests {
				if ra := retryAfter(resp); ra > 0 {
					delay = ra
				}
			}
			drain(resp)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// attempt performs one network attempt through the endpoint's breaker.
func (c *Client) attempt(req *http.Request) (*http.Response, error) {
	cb := c.breaker(req.URL.Host)

	replay, err := cloneRequest(req)
	if err != nil {
		return nil, err
	}

	c.calls.Add(1)
	start := time.Now()

	var resp *http.Response
	_, execErr := cb.Execute(func() (interface{}, error) {
		r, doErr := c.http.Do(replay)
		if doErr != nil {
			return nil, doErr
		}
		resp = r
		// 5xx counts against the breaker; 429 does not (rate limits are
		// handled by the retry schedule, not by tripping the endpoint).
		if r.StatusCode >= 500 {
			return nil, &StatusError{Code: r.StatusCode}
		}
		return nil, nil
	})

	c.latencyNanos.Add(time.Since(start).Nanoseconds())

	if errors.Is(execErr, gobreaker.ErrOpenState) || errors.Is(execErr, gobreaker.ErrTooManyRequests) {
		c.rejected.Add(1)
		return nil, fmt.Errorf("%s: %w", req.URL.Host, ErrBreakerOpen)
	}
	if execErr != nil {
		c.failures.Add(1)
		// A 5xx still carries a response the retry loop must drain.
		if resp != nil {
			return resp, nil
		}
		return nil, execErr
	}

	c.successes.Add(1)
	return resp, nil
}

// cloneRequest produces a replayable copy of req for a single attempt.
func cloneRequest(req *http.Request) (*http.Request, error) {
	clone := req.Clone(req.Context())
	if req.Body != nil {
		if req.GetBody == nil {
			return nil, fmt.Errorf("request with body must set GetBody for retries")
		}
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to replay request body: %w", err)
		}
		clone.Body = body
	}
	return clone, nil
}

// retryableStatus reports whether a status justifies another attempt.
func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

// retryAfter parses the Retry-After header as delay seconds.
func retryAfter(resp *http.Response) time.Duration {
	value := resp.Header.Get("Retry-After")
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// drain discards and closes a response body so its connection returns to
// the keep-alive pool.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	_ = resp.Body.Close()
}

// roundTripper adapts the client's full outbound policy to the standard
// http.RoundTripper contract.
type roundTripper struct {
	c *Client
}

func (rt roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return rt.c.Do(req)
}

// Standard returns an *http.Client that applies the full outbound policy,
// for SDKs that accept an http.Client instead of calling Do directly.
func (c *Client) Standard() *http.Client {
	return &http.Client{Transport: roundTripper{c}}
}

// Snapshot returns the client's counters.
func (c *Client) Snapshot() Stats {
	calls := c.calls.Load()
	stats := Stats{
		Calls:        calls,
		Successes:    c.successes.Load(),
		Errors:       c.failures.Load(),
		Rejected:     c.rejected.Load(),
		BreakerOpens: c.breakerOpens.Load(),
	}
	if calls > 0 {
		stats.AvgLatencyMs = float64(c.latencyNanos.Load()) / float64(calls) / 1e6
	}
	c.mu.Lock()
	for _, cb := range c.breakers {
		if cb.State() == gobreaker.StateOpen {
			stats.OpenBreakers++
		}
	}
	c.mu.Unlock()
	return stats
}
