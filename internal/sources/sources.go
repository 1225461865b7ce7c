// Package sources keeps the per-cycle immutable feed descriptor list plus
// the supervisory per-source state that survives cycles: consecutive
// failure counters and the conditional-fetch cache (ETag/Last-Modified).
package sources

import (
	"sync"

	"newsdesk/internal/core"
)

// Registry holds the configured feed sources and their runtime state.
type Registry struct {
	mu      sync.Mutex
	sources []core.FeedSource
	state   map[string]*sourceState
}

type sourceState struct {
	etag         string
	lastModified string
	failures     int
	lastError    string
}

// NewRegistry builds a registry from the configured descriptors.
func NewRegistry(sources []core.FeedSource) *Registry {
	return &Registry{
		sources: sources,
		state:   make(map[string]*sourceState, len(sources)),
	}
}

// Sources returns the descriptor list. The slice is shared; callers treat
// it as immutable for the duration of a cycle.
func (r *Registry) Sources() []core.FeedSource {
	return r.sources
}

// Conditional returns the cached ETag and Last-Modified values for a feed.
func (r *Registry) Conditional(feedURL string) (etag, lastModified string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.state[feedURL]; ok {
		return st.etag, st.lastModified
	}
	return "", ""
}

// RecordSuccess stores fresh conditional headers and clears the failure
// counter for a feed.
func (r *Registry) RecordSuccess(feedURL, etag, lastModified string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.ensure(feedURL)
	if etag != "" {
		st.etag = etag
	}
	if lastModified != "" {
		st.lastModified = lastModified
	}
	st.failures = 0
	st.lastError = ""
}

// RecordFailure increments the consecutive failure counter for a feed.
// Sources are never disabled here; the counter is surfaced for external
// alerting.
func (r *Registry) RecordFailure(feedURL string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.ensure(feedURL)
	st.failures++
	if err != nil {
		st.lastError = err.Error()
	}
}

// Failures returns the consecutive failure count for a feed.
func (r *Registry) Failures(feedURL string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.state[feedURL]; ok {
		return st.failures
	}
	return 0
}

// FailingSources returns feed URLs with at least min consecutive failures.
func (r *Registry) FailingSources(min int) map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	failing := make(map[string]string)
	for url, st := range r.state {
		if st.failures >= min {
			failing[url] = st.lastError
		}
	}
	return failing
}

func (r *Registry) ensure(feedURL string) *sourceState {
	st, ok := r.state[feedURL]
	if !ok {
		st = &sourceState{}
		r.state[feedURL] = st
	}
	return st
}
