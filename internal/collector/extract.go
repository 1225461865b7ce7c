package collector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

// trackerParams are query parameters stripped during canonicalisation.
var trackerParams = map[string]bool{
	"fbclid":   true,
	"gclid":    true,
	"igshid":   true,
	"mc_cid":   true,
	"mc_eid":   true,
	"ref":      true,
	"smid":     true,
	"cmpid":    true,
	"ncid":     true,
	"partner":  true,
	"referrer": true,
}

// CanonicalURL normalises an article URL: trims whitespace, lower-cases
// the scheme and host, strips known tracking query parameters and the
// fragment. Two feeds advertising the same story converge on one key.
func CanonicalURL(raw string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""

	query := parsed.Query()
	for key := range query {
		if trackerParams[strings.ToLower(key)] || strings.HasPrefix(strings.ToLower(key), "utm_") {
			query.Del(key)
		}
	}
	// Rebuild deterministically so equal URLs compare equal.
	if len(query) == 0 {
		parsed.RawQuery = ""
	} else {
		keys := make([]string, 0, len(query))
		for key := range query {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		var parts []string
		for _, key := range keys {
			for _, value := range query[key] {
				parts = append(parts, url.QueryEscape(key)+"="+url.QueryEscape(value))
			}
		}
		parsed.RawQuery = strings.Join(parts, "&")
	}

	return parsed.String(), nil
}

// StripHTML reduces an HTML fragment to its plain text. Malformed markup
// is tolerated; on a parse failure the input is returned unchanged.
func StripHTML(fragment string) string {
	if fragment == "" || !strings.ContainsAny(fragment, "<&") {
		return fragment
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}
	doc.Find("script, style").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// extractImage tries, in order: an enclosure element, the media-namespace
// content/thumbnail extensions, the feed's own item image, the first <img>
// inside the content or summary HTML, and finally an Open-Graph probe of
// the article page. The probe is the only extra network call and runs only
// when every feed-local method failed.
func (c *Collector) extractImage(ctx context.Context, item *gofeed.Item, articleURL string) string {
	for _, enc := range item.Enclosures {
		if enc != nil && enc.URL != "" && (enc.Type == "" || strings.HasPrefix(enc.Type, "image/")) {
			return enc.URL
		}
	}

	if u := mediaExtensionURL(item); u != "" {
		return u
	}

	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}

	if u := firstImg(item.Content); u != "" {
		return u
	}
	if u := firstImg(item.Description); u != "" {
		return u
	}

	return c.probeOpenGraph(ctx, articleURL)
}

// mediaExtensionURL pulls a URL from media:content or media:thumbnail.
func mediaExtensionURL(item *gofeed.Item) string {
	media, ok := item.Extensions["media"]
	if !ok {
		return ""
	}
	for _, key := range []string{"content", "thumbnail"} {
		for _, ext := range media[key] {
			if u := ext.Attrs["url"]; u != "" {
				return u
			}
		}
	}
	return ""
}

// firstImg returns the src of the first <img> in an HTML fragment.
func firstImg(fragment string) string {
	if !strings.Contains(fragment, "<img") {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return ""
	}
	src, _ := doc.Find("img").First().Attr("src")
	return src
}

// probeOpenGraph fetches the head of the article page and reads its
// og:image tag. The read is capped; article pages put OG tags up front.
func (c *Collector) probeOpenGraph(ctx context.Context, articleURL string) string {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	head, err := http.NewRequestWithContext(ctx, http.MethodHead, articleURL, nil)
	if err != nil {
		return ""
	}
	head.Header.Set("User-Agent", userAgent)
	resp, err := c.client.Do(head)
	if err != nil {
		return ""
	}
	contentType := resp.Header.Get("Content-Type")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(contentType, "html") {
		return ""
	}

	get, err := http.NewRequestWithContext(ctx, http.MethodGet, articleURL, nil)
	if err != nil {
		return ""
	}
	get.Header.Set("User-Agent", userAgent)
	get.Header.Set("Range", "bytes=0-65535")
	resp, err = c.client.Do(get)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return ""
	}

	partial, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil && len(partial) == 0 {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(partial)))
	if err != nil {
		return ""
	}
	og, _ := doc.Find(`meta[property="og:image"]`).Attr("content")
	return og
}
