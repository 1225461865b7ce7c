// Package fetcher implements stage 3: obtaining full article text for
// cluster members through the external scraping gateway.
package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"newsdesk/internal/core"
	"newsdesk/internal/httpx"
	"newsdesk/internal/logger"

	"github.com/PuerkitoBio/goquery"
)

// minBodyLength is the extraction floor: shorter results count as an empty
// extraction and the member is marked permanently unavailable.
const minBodyLength = 200

// minSummaryLength is the fallback floor: a cluster with zero fetched
// bodies proceeds to synthesis only if its summaries are at least this long.
const minSummaryLength = 120

// BodyCache caches fetched bodies by URL across cycles.
type BodyCache interface {
	CacheBody(url, body string, unavailable bool) error
	GetCachedBody(url string, maxAge time.Duration) (body string, unavailable bool, found bool, err error)
}

// Fetcher fetches member bodies via the scraping gateway.
type Fetcher struct {
	client      *httpx.Client
	cache       BodyCache
	endpoint    string
	apiKey      string
	timeout     time.Duration
	concurrency int
	cacheTTL    time.Duration
}

// New creates a fetcher. concurrency bounds in-flight gateway calls per
// cluster; the shared client bounds them globally.
func New(client *httpx.Client, cache BodyCache, endpoint, apiKey string,
	timeout time.Duration, concurrency int, cacheTTL time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if concurrency <= 0 {
		concurrency = 8
	}
	if cacheTTL <= 0 {
		cacheTTL = 48 * time.Hour
	}
	return &Fetcher{
		client:      client,
		cache:       cache,
		endpoint:    endpoint,
		apiKey:      apiKey,
		timeout:     timeout,
		concurrency: concurrency,
		cacheTTL:    cacheTTL,
	}
}

// envelope is the gateway's JSON response.
type envelope struct {
	HTML   string `json:"html"`
	Text   string `json:"text"`
	Status int    `json:"status"`
}

// FillBodies fetches the body of every member that still lacks one and is
// not marked permanently unavailable. Transient failures leave the member
// untouched for the next cycle.
func (f *Fetcher) FillBodies(ctx context.Context, cluster *core.EventCluster) (fetched, failed int) {
	sem := make(chan struct{}, f.concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i := range cluster.Members {
		member := &cluster.Members[i]
		if member.BodyFetched || member.BodyUnavailable {
			continue
		}

		wg.Add(1)
		go func(member *core.ClusterMember) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			body, unavailable, err := f.fetchOne(ctx, member.Entry.URL)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				failed++
				logger.Warn("body fetch failed, will retry next cycle",
					"cluster_id", cluster.ID, "url", member.Entry.URL, "cause", err.Error())
			case unavailable:
				member.BodyUnavailable = true
				failed++
			default:
				member.Body = body
				member.BodyFetched = true
				fetched++
			}
		}(member)
	}
	wg.Wait()
	return fetched, failed
}

// Synthesizable reports whether the cluster has enough text to hand to the
// writer: at least one fetched body, or summaries long enough to fall back on.
func Synthesizable(cluster *core.EventCluster) bool {
	for _, m := range cluster.Members {
		if m.BodyFetched && m.Body != "" {
			return true
		}
	}
	for _, m := range cluster.Members {
		if len(m.Entry.Summary) >= minSummaryLength {
			return true
		}
	}
	return false
}

// fetchOne returns the clean text for one URL, consulting the cache first.
// unavailable=true means a permanent failure that must not be retried.
func (f *Fetcher) fetchOne(ctx context.Context, articleURL string) (body string, unavailable bool, err error) {
	if cached, wasUnavailable, found, cacheErr := f.cache.GetCachedBody(articleURL, f.cacheTTL); cacheErr == nil && found {
		return cached, wasUnavailable, nil
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	gatewayURL := fmt.Sprintf("%s?api_key=%s&url=%s",
		strings.TrimSuffix(f.endpoint, "/"), url.QueryEscape(f.apiKey), url.QueryEscape(articleURL))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, gatewayURL, nil)
	if err != nil {
		return "", false, fmt.Errorf("failed to create gateway request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("gateway call failed: %w", err)
	}
	defer resp.Body.Close()

	if permanentStatus(resp.StatusCode) {
		f.markUnavailable(articleURL)
		return "", true, nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", false, fmt.Errorf("failed to read gateway response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return "", false, fmt.Errorf("gateway response is not a JSON envelope: %w", err)
	}
	if permanentStatus(env.Status) {
		f.markUnavailable(articleURL)
		return "", true, nil
	}

	text := strings.TrimSpace(env.Text)
	if text == "" && env.HTML != "" {
		text = ExtractText(env.HTML)
	}
	if len(text) < minBodyLength {
		// Empty or paywalled extraction is permanent.
		f.markUnavailable(articleURL)
		return "", true, nil
	}

	if err := f.cache.CacheBody(articleURL, text, false); err != nil {
		logger.Error("failed to cache body", err, "url", articleURL)
	}
	return text, false, nil
}

func (f *Fetcher) markUnavailable(articleURL string) {
	if err := f.cache.CacheBody(articleURL, "", true); err != nil {
		logger.Error("failed to cache unavailable mark", err, "url", articleURL)
	}
}

func permanentStatus(code int) bool {
	return code == http.StatusNotFound || code == http.StatusGone ||
		code == http.StatusUnavailableForLegalReasons || code == http.StatusPaymentRequired
}

var multiNewline = regexp.MustCompile(`\n{3,}`)

// mainContentSelectors are tried in order before falling back to the whole
// body.
var mainContentSelectors = []string{
	"article", "main", ".article-body", ".post-content", ".entry-content",
	"[role='main']", ".content", "#content",
}

// ExtractText reduces article HTML to clean paragraph text.
func ExtractText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	doc.Find("script, style, nav, footer, header, aside, form, iframe, noscript, .sidebar, .ad, .advertisement, .cookie-banner").Remove()

	var b strings.Builder
	collect := func(s *goquery.Selection) {
		s.Find("p, h1, h2, h3, li, blockquote").Each(func(_ int, item *goquery.Selection) {
			text := strings.TrimSpace(item.Text())
			if text != "" {
				b.WriteString(text)
				b.WriteString("\n\n")
			}
		})
	}

	for _, selector := range mainContentSelectors {
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) { collect(s) })
		if b.Len() > 0 {
			break
		}
	}
	if b.Len() == 0 {
		collect(doc.Find("body"))
	}

	return strings.TrimSpace(multiNewline.ReplaceAllString(b.String(), "\n\n"))
}
