package httpx

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
)

// scriptTransport plays back a scripted sequence of status codes; the last
// entry repeats. No network is touched.
type scriptTransport struct {
	mu     sync.Mutex
	script []int
	header http.Header
	calls  int
}

func (s *scriptTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	s.calls++
	if idx >= len(s.script) {
		idx = len(s.script) - 1
	}
	resp := &http.Response{
		StatusCode: s.script[idx],
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader("payload")),
		Request:    req,
	}
	for k, v := range s.header {
		resp.Header[k] = v
	}
	return resp, nil
}

func (s *scriptTransport) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testClient(transport *scriptTransport, maxRetries, breakerThreshold int, cooldown time.Duration) *Client {
	return New(Options{
		MaxRetries:       maxRetries,
		BackoffBase:      time.Millisecond,
		BackoffCap:       2 * time.Millisecond,
		BreakerThreshold: breakerThreshold,
		BreakerCooldown:  cooldown,
		Transport:        transport,
	})
}

func get(t *testing.T, c *Client, url string) (*http.Response, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	return c.Do(req)
}

func TestDoRetriesServerErrors(t *testing.T) {
	transport := &scriptTransport{script: []int{500, 200}}
	c := testClient(transport, 3, 10, time.Minute)

	resp, err := get(t, c, "https://upstream.example/feed")
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if transport.count() != 2 {
		t.Errorf("transport saw %d calls, want 2", transport.count())
	}
}

func TestDoReturnsNonRetryableStatusWithoutRetry(t *testing.T) {
	transport := &scriptTransport{script: []int{404}}
	c := testClient(transport, 3, 10, time.Minute)

	resp, err := get(t, c, "https://upstream.example/gone")
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	if transport.count() != 1 {
		t.Errorf("404 was retried: %d calls", transport.count())
	}
}

func TestDoExhaustsRetries(t *testing.T) {
	transport := &scriptTransport{script: []int{500}}
	c := testClient(transport, 2, 10, time.Minute)

	_, err := get(t, c, "https://upstream.example/broken")
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != 500 {
		t.Errorf("error chain missing StatusError 500: %v", err)
	}
	if transport.count() != 3 {
		t.Errorf("transport saw %d calls, want 3 (initial plus two retries)", transport.count())
	}
}

func TestDoRetriesRateLimit(t *testing.T) {
	transport := &scriptTransport{script: []int{429, 200}}
	c := testClient(transport, 3, 10, time.Minute)

	resp, err := get(t, c, "https://upstream.example/limited")
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	defer resp.Body.Close()
	if transport.count() != 2 {
		t.Errorf("transport saw %d calls, want 2", transport.count())
	}
}

func TestBreakerOpensAndShortCircuits(t *testing.T) {
	transport := &scriptTransport{script: []int{500}}
	c := testClient(transport, 3, 2, time.Minute)

	_, err := get(t, c, "https://flaky.example/x")
	if !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("expected breaker to open mid-retry, got %v", err)
	}
	seen := transport.count()
	if seen != 2 {
		t.Errorf("transport saw %d calls before the breaker opened, want 2", seen)
	}

	// While open, calls are rejected without touching the transport.
	_, err = get(t, c, "https://flaky.example/y")
	if !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("expected ErrBreakerOpen, got %v", err)
	}
	if transport.count() != seen {
		t.Errorf("open breaker let a request through: %d calls", transport.count())
	}

	stats := c.Snapshot()
	if stats.Rejected == 0 || stats.BreakerOpens != 1 {
		t.Errorf("stats = %+v, want rejected calls and one breaker open", stats)
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	transport := &scriptTransport{script: []int{500, 500, 200}}
	c := testClient(transport, 1, 2, 30*time.Millisecond)

	// First call burns both attempts and opens the breaker.
	if _, err := get(t, c, "https://recovering.example/x"); err == nil {
		t.Fatal("expected failure while upstream is down")
	}

	time.Sleep(60 * time.Millisecond)

	// Cooldown elapsed: the single half-open probe succeeds and closes it.
	resp, err := get(t, c, "https://recovering.example/x")
	if err != nil {
		t.Fatalf("probe after cooldown failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if c.Snapshot().OpenBreakers != 0 {
		t.Error("breaker still open after successful probe")
	}
}

func TestBreakersArePerHost(t *testing.T) {
	// Two failures open down.example's breaker; the next scripted response
	// is the healthy host's 200.
	transport := &scriptTransport{script: []int{500, 500, 200}}
	c := testClient(transport, 3, 2, time.Minute)

	if _, err := get(t, c, "https://down.example/x"); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("expected open breaker for down host, got %v", err)
	}

	resp, err := get(t, c, "https://up.example/x")
	if err != nil {
		t.Fatalf("healthy host affected by sibling breaker: %v", err)
	}
	resp.Body.Close()
}

func TestStandardClientAppliesPolicy(t *testing.T) {
	// SDKs that take an *http.Client still get retries and the breaker.
	transport := &scriptTransport{script: []int{500, 200}}
	c := testClient(transport, 3, 2, time.Minute)
	std := c.Standard()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.example/v1/chat", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := std.Do(req)
	if err != nil {
		t.Fatalf("request through standard client failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if transport.count() != 2 {
		t.Errorf("transport saw %d calls, want 2 (one retry)", transport.count())
	}
	if c.Snapshot().Calls == 0 {
		t.Error("standard client bypassed the counters")
	}
}

func TestRetryAfterParsing(t *testing.T) {
	mk := func(value string) *http.Response {
		resp := &http.Response{Header: make(http.Header)}
		if value != "" {
			resp.Header.Set("Retry-After", value)
		}
		return resp
	}
	if d := retryAfter(mk("2")); d != 2*time.Second {
		t.Errorf("seconds form parsed as %s", d)
	}
	if d := retryAfter(mk("")); d != 0 {
		t.Errorf("missing header parsed as %s", d)
	}
	if d := retryAfter(mk("not-a-date")); d != 0 {
		t.Errorf("garbage parsed as %s", d)
	}
	future := time.Now().Add(3 * time.Second).UTC().Format(http.TimeFormat)
	if d := retryAfter(mk(future)); d <= 0 || d > 3*time.Second {
		t.Errorf("http-date form parsed as %s", d)
	}
}
