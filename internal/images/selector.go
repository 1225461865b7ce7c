// Package images implements stage 4: choosing the one image attached to a
// published event by scoring every candidate across the cluster's sources.
package images

import (
	"bytes"
	"context"
	"image"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"newsdesk/internal/core"
	"newsdesk/internal/httpx"
	"newsdesk/internal/logger"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// MinScore is the floor a candidate must reach; if no candidate passes,
// the cluster is not published this cycle.
const MinScore = 40

// hostBlacklist disqualifies ad networks and tracker-pixel hosts.
var hostBlacklist = []string{
	"doubleclick.net", "googlesyndication.com", "adsystem.com",
	"scorecardresearch.com", "pixel.quantserve.com", "feedburner.com",
	"adnxs.com",
}

// Meta is the probed metadata of one image.
type Meta struct {
	Width  int
	Height int
	Format string // "jpeg", "png", "gif", "webp", ...
}

// Selector picks the best image for a cluster.
type Selector struct {
	client  *httpx.Client
	timeout time.Duration
}

// New creates an image selector.
func New(client *httpx.Client, timeout time.Duration) *Selector {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Selector{client: client, timeout: timeout}
}

// Choice is a selected image.
type Choice struct {
	URL        string
	SourceName string
	Score      int
}

// Select probes every member's candidate image concurrently and returns
// the highest-scoring one. ok is false when no candidate passes MinScore.
func (s *Selector) Select(ctx context.Context, cluster *core.EventCluster) (Choice, bool) {
	type scored struct {
		choice Choice
		ok     bool
	}
	results := make([]scored, len(cluster.Members))
	var wg sync.WaitGroup

	for i, member := range cluster.Members {
		if member.Entry.ImageURL == "" {
			continue
		}
		wg.Add(1)
		go func(i int, member core.ClusterMember) {
			defer wg.Done()
			imageURL := member.Entry.ImageURL
			if Blacklisted(imageURL) {
				logger.Debug("image host blacklisted", "url", imageURL)
				return
			}
			meta, err := s.probe(ctx, imageURL)
			if err != nil {
				logger.Debug("image probe failed", "url", imageURL, "cause", err.Error())
				return
			}
			score, ok := ScoreImage(meta, member.Entry.SourceTier, member.Entry.Importance)
			if !ok {
				return
			}
			results[i] = scored{
				choice: Choice{URL: imageURL, SourceName: member.Entry.SourceName, Score: score},
				ok:     true,
			}
		}(i, member)
	}
	wg.Wait()

	var best Choice
	found := false
	for _, res := range results {
		if res.ok && (!found || res.choice.Score > best.Score) {
			best = res.choice
			found = true
		}
	}
	if !found || best.Score < MinScore {
		return Choice{}, false
	}
	return best, true
}

// ScoreImage applies the scoring table. ok is false when any filter rule
// disqualifies the candidate outright.
func ScoreImage(meta Meta, tier core.Tier, importance int) (int, bool) {
	// Filter rules: any one disqualifies.
	if meta.Width < 400 || meta.Height <= 0 {
		return 0, false
	}
	ratio := float64(meta.Width) / float64(meta.Height)
	if ratio > 3.0 || ratio < 0.5 {
		// Banner or icon shapes.
		return 0, false
	}
	switch meta.Format {
	case "gif", "svg", "ico":
		return 0, false
	}

	score := 0

	switch tier {
	case core.TierPremium:
		score += 30
	case core.TierMajor:
		score += 15
	case core.TierStandard:
		score += 5
	}

	switch {
	case meta.Width >= 1200:
		score += 30
	case meta.Width >= 800:
		score += 15
	}

	const wide = 16.0 / 9.0
	switch {
	case ratio >= wide*0.9 && ratio <= wide*1.1:
		score += 20
	case ratio >= 4.0/3.0 && ratio <= 21.0/9.0:
		score += 10
	}

	switch {
	case importance >= 900:
		score += 20
	case importance >= 800:
		score += 10
	}

	switch meta.Format {
	case "jpeg", "webp":
		score += 5
	}

	return score, true
}

// Blacklisted reports whether the image URL's host matches the blacklist.
func Blacklisted(imageURL string) bool {
	parsed, err := url.Parse(imageURL)
	if err != nil {
		return true
	}
	host := strings.ToLower(parsed.Host)
	for _, banned := range hostBlacklist {
		if host == banned || strings.HasSuffix(host, "."+banned) {
			return true
		}
	}
	return false
}

// probe fetches just enough of the image to decode its header. Image
// headers carry dimensions in the first few KB; a ranged GET keeps the
// probe tiny even for multi-megabyte photos.
func (s *Selector) probe(ctx context.Context, imageURL string) (Meta, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return Meta{}, err
	}
	req.Header.Set("Range", "bytes=0-32767")

	resp, err := s.client.Do(req)
	if err != nil {
		return Meta{}, err
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "svg") || strings.Contains(contentType, "icon") {
		return Meta{Format: "svg"}, nil
	}

	header, err := io.ReadAll(io.LimitReader(resp.Body, 32<<10))
	if err != nil && len(header) == 0 {
		return Meta{}, err
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(header))
	if err != nil {
		return Meta{}, err
	}
	return Meta{Width: cfg.Width, Height: cfg.Height, Format: format}, nil
}
