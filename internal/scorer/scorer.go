// Package scorer implements stage 1: importance classification and
// category/emoji assignment via the scoring LLM.
package scorer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"newsdesk/internal/core"
	"newsdesk/internal/llmx"
	"newsdesk/internal/logger"
)

// parseRetries is how many further attempts follow an unparsable reply.
const parseRetries = 2

// Marker writes processed-URL marks. Every entry handed to the scorer is
// marked before Score returns, whatever its outcome: this is the
// idempotence boundary of the whole pipeline.
type Marker interface {
	MarkProcessed(url string, firstSeen time.Time) (bool, error)
}

// Scorer classifies feed entries.
type Scorer struct {
	chat        llmx.Chat
	marker      Marker
	threshold   int
	concurrency int
}

// New creates a scorer. threshold is the publication floor (0-1000).
func New(chat llmx.Chat, marker Marker, threshold, concurrency int) *Scorer {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Scorer{chat: chat, marker: marker, threshold: threshold, concurrency: concurrency}
}

// Result summarises one scoring batch.
type Result struct {
	Kept              []core.ScoredEntry
	DroppedNoImage    int
	DroppedLowScore   int
	DroppedUnscorable int // Unparsable after retries, or safety-blocked
}

// scoreReply is the JSON contract with the scoring LLM.
type scoreReply struct {
	Importance int    `json:"importance"`
	Category   string `json:"category"`
	Emoji      string `json:"emoji"`
	Reasoning  string `json:"reasoning"`
}

const scorePrompt = `You rate the global importance of news articles for a general audience.
You see only the headline and the outlet. Most routine coverage should score
below 700; reserve 700+ for stories a well-informed reader would want to know
about today, and 900+ for major breaking events.

Reply with ONLY a JSON object, no prose, in this exact shape:
{"importance": <integer 0-1000>, "category": "<one of: %s>", "emoji": "<one emoji>", "reasoning": "<one short sentence>"}

Headline: %s
Outlet: %s`

// Score classifies a batch. Entries without an image URL are dropped
// before any LLM call; the downstream renderer requires an image and
// scoring costs money. All entries are marked processed before return.
func (s *Scorer) Score(ctx context.Context, entries []core.FeedEntry) Result {
	var result Result
	var mu sync.Mutex
	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup

	for _, entry := range entries {
		if entry.ImageURL == "" {
			s.mark(entry)
			result.DroppedNoImage++
			continue
		}

		wg.Add(1)
		go func(entry core.FeedEntry) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			scored, err := s.scoreOne(ctx, entry)
			s.mark(entry)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				result.DroppedUnscorable++
				logger.Warn("entry dropped as unscorable", "url", entry.URL, "cause", err.Error())
			case scored.Importance < s.threshold:
				result.DroppedLowScore++
				logger.Debug("entry below threshold", "url", entry.URL, "importance", scored.Importance, "threshold", s.threshold)
			default:
				result.Kept = append(result.Kept, scored)
			}
		}(entry)
	}
	wg.Wait()
	return result
}

// scoreOne sends a single title+source prompt and parses the reply,
// retrying unparsable replies but never a safety block.
func (s *Scorer) scoreOne(ctx context.Context, entry core.FeedEntry) (core.ScoredEntry, error) {
	categories := make([]string, len(core.Categories))
	for i, c := range core.Categories {
		categories[i] = string(c)
	}
	prompt := fmt.Sprintf(scorePrompt, strings.Join(categories, ", "), entry.Title, entry.SourceName)

	var lastErr error
	for attempt := 0; attempt <= parseRetries; attempt++ {
		reply, err := s.chat.Complete(ctx, prompt)
		if err != nil {
			if errors.Is(err, llmx.ErrSafetyBlocked) {
				return core.ScoredEntry{}, err
			}
			lastErr = err
			continue
		}

		var parsed scoreReply
		if err := llmx.ParseJSON(reply, &parsed); err != nil {
			lastErr = err
			continue
		}
		return s.build(entry, parsed)
	}
	return core.ScoredEntry{}, fmt.Errorf("scoring failed after %d attempts: %w", parseRetries+1, lastErr)
}

// build validates the reply against the closed contract.
func (s *Scorer) build(entry core.FeedEntry, parsed scoreReply) (core.ScoredEntry, error) {
	if parsed.Importance < 0 || parsed.Importance > 1000 {
		return core.ScoredEntry{}, fmt.Errorf("importance %d out of range", parsed.Importance)
	}
	category := core.Category(strings.ToLower(strings.TrimSpace(parsed.Category)))
	if !core.ValidCategory(category) {
		category = core.CategoryOther
	}
	emoji := strings.TrimSpace(parsed.Emoji)
	if emoji == "" {
		emoji = "📰"
	}
	return core.ScoredEntry{
		FeedEntry:  entry,
		Importance: parsed.Importance,
		Category:   category,
		Emoji:      emoji,
		Reasoning:  strings.TrimSpace(parsed.Reasoning),
	}, nil
}

func (s *Scorer) mark(entry core.FeedEntry) {
	if _, err := s.marker.MarkProcessed(entry.URL, entry.FetchedAt); err != nil {
		logger.Error("failed to mark processed url", err, "url", entry.URL)
	}
}
