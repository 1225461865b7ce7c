// Package collector implements stage 0: polling the configured feeds and
// producing the per-cycle batch of new FeedEntry records.
package collector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"newsdesk/internal/core"
	"newsdesk/internal/httpx"
	"newsdesk/internal/logger"
	"newsdesk/internal/sources"

	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"
)

const userAgent = "newsdesk/1.0 (+feed collector)"

// ProcessedChecker answers bulk "already scored?" lookups against the
// processed-URL store.
type ProcessedChecker interface {
	FilterProcessed(urls []string) (map[string]bool, error)
}

// Collector polls feeds and emits new entries.
type Collector struct {
	client       *httpx.Client
	registry     *sources.Registry
	processed    ProcessedChecker
	retention    time.Duration
	concurrency  int
	feedTimeout  time.Duration
	probeTimeout time.Duration
}

// New creates a collector.
func New(client *httpx.Client, registry *sources.Registry, processed ProcessedChecker,
	retention time.Duration, concurrency int, feedTimeout, probeTimeout time.Duration) *Collector {
	if concurrency <= 0 {
		concurrency = 16
	}
	if feedTimeout <= 0 {
		feedTimeout = 10 * time.Second
	}
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	return &Collector{
		client:       client,
		registry:     registry,
		processed:    processed,
		retention:    retention,
		concurrency:  concurrency,
		feedTimeout:  feedTimeout,
		probeTimeout: probeTimeout,
	}
}

// Report summarises one collection pass.
type Report struct {
	FeedsPolled    int
	FeedsFailed    int
	FeedsUnchanged int
	ItemsSeen      int
	DroppedOld     int
	DroppedSeen    int
}

// Collect polls all configured feeds concurrently and returns the entries
// that survive the retention and processed-URL filters. Per-feed failures
// are logged and skipped; the batch always proceeds.
func (c *Collector) Collect(ctx context.Context) ([]core.FeedEntry, Report, error) {
	feeds := c.registry.Sources()

	type feedResult struct {
		entries   []core.FeedEntry
		unchanged bool
		seen      int
		old       int
		err       error
	}

	results := make([]feedResult, len(feeds))
	sem := make(chan struct{}, c.concurrency)
	var wg sync.WaitGroup

	for i, src := range feeds {
		wg.Add(1)
		go func(i int, src core.FeedSource) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			entries, unchanged, seen, old, err := c.pollFeed(ctx, src)
			results[i] = feedResult{entries: entries, unchanged: unchanged, seen: seen, old: old, err: err}
		}(i, src)
	}
	wg.Wait()

	report := Report{FeedsPolled: len(feeds)}
	var batch []core.FeedEntry
	for i, res := range results {
		if res.err != nil {
			report.FeedsFailed++
			c.registry.RecordFailure(feeds[i].URL, res.err)
			logger.Warn("feed poll failed", "source", feeds[i].Name, "url", feeds[i].URL, "failures", c.registry.Failures(feeds[i].URL), "cause", res.err.Error())
			continue
		}
		if res.unchanged {
			report.FeedsUnchanged++
			continue
		}
		report.ItemsSeen += res.seen
		report.DroppedOld += res.old
		batch = append(batch, res.entries...)
	}

	// Dedupe within the batch: two feeds can advertise the same canonical URL.
	batch = dedupeByURL(batch)

	// Drop URLs the scorer has already seen in any earlier cycle.
	urls := make([]string, len(batch))
	for i, e := range batch {
		urls[i] = e.URL
	}
	seen, err := c.processed.FilterProcessed(urls)
	if err != nil {
		return nil, report, fmt.Errorf("processed-url lookup failed: %w", err)
	}
	fresh := batch[:0]
	for _, e := range batch {
		if seen[e.URL] {
			report.DroppedSeen++
			continue
		}
		fresh = append(fresh, e)
	}

	return fresh, report, nil
}

// pollFeed fetches and parses one feed.
func (c *Collector) pollFeed(ctx context.Context, src core.FeedSource) (entries []core.FeedEntry, unchanged bool, seen, old int, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.feedTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, false, 0, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if etag, lastModified := c.registry.Conditional(src.URL); etag != "" || lastModified != "" {
		if etag != "" {
			req.Header.Set("If-None-Match", etag)
		}
		if lastModified != "" {
			req.Header.Set("If-Modified-Since", lastModified)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, false, 0, 0, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		c.registry.RecordSuccess(src.URL, "", "")
		return nil, true, 0, 0, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, 0, 0, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, false, 0, 0, fmt.Errorf("failed to read feed body: %w", err)
	}

	parsed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, false, 0, 0, fmt.Errorf("failed to parse feed: %w", err)
	}

	c.registry.RecordSuccess(src.URL, resp.Header.Get("ETag"), resp.Header.Get("Last-Modified"))

	now := time.Now().UTC()
	cutoff := now.Add(-c.retention)

	for _, item := range parsed.Items {
		seen++
		entry, ok := c.entryFromItem(ctx, src, item, now)
		if !ok {
			continue
		}
		// Published exactly at the cutoff counts as stale.
		if !entry.PublishedAt.After(cutoff) {
			old++
			continue
		}
		entries = append(entries, entry)
	}
	return entries, false, seen, old, nil
}

// entryFromItem converts a feed item into a FeedEntry.
func (c *Collector) entryFromItem(ctx context.Context, src core.FeedSource, item *gofeed.Item, now time.Time) (core.FeedEntry, bool) {
	link := strings.TrimSpace(item.Link)
	if link == "" {
		return core.FeedEntry{}, false
	}
	canonical, err := CanonicalURL(link)
	if err != nil {
		logger.Debug("skipping item with invalid url", "source", src.Name, "url", link)
		return core.FeedEntry{}, false
	}

	published := now
	switch {
	case item.PublishedParsed != nil:
		published = item.PublishedParsed.UTC()
	case item.UpdatedParsed != nil:
		published = item.UpdatedParsed.UTC()
	}

	entry := core.FeedEntry{
		ID:          uuid.NewSHA1(uuid.NameSpaceURL, []byte(canonical)).String(),
		SourceName:  src.Name,
		SourceTier:  src.Tier,
		URL:         canonical,
		GUID:        item.GUID,
		Title:       strings.TrimSpace(StripHTML(item.Title)),
		Summary:     strings.TrimSpace(StripHTML(item.Description)),
		Body:        strings.TrimSpace(StripHTML(item.Content)),
		PublishedAt: published,
		FetchedAt:   now,
	}
	if entry.Title == "" {
		return core.FeedEntry{}, false
	}

	entry.ImageURL = c.extractImage(ctx, item, canonical)
	return entry, true
}

func dedupeByURL(entries []core.FeedEntry) []core.FeedEntry {
	seen := make(map[string]bool, len(entries))
	out := entries[:0]
	for _, e := range entries {
		if seen[e.URL] {
			continue
		}
		seen[e.URL] = true
		out = append(out, e)
	}
	return out
}
