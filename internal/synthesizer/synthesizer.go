// Package synthesizer implements stage 5: producing one dual-language
// article per cluster from its best source bodies.
package synthesizer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"newsdesk/internal/core"
	"newsdesk/internal/highlight"
	"newsdesk/internal/llmx"
	"newsdesk/internal/logger"
)

const (
	// maxBodyChars truncates each source body in the prompt.
	maxBodyChars = 1500
	// synthesisRetries is how many further attempts follow a failed one.
	synthesisRetries = 2

	maxTitleWords = 13 // 12 +10%
	minBodyWords  = 270
	maxBodyWords  = 440
	minBullets    = 3
	maxBullets    = 5
)

// ErrDeferred reports that all attempts failed and the cluster should stay
// pending for the next cycle.
var ErrDeferred = errors.New("synthesis deferred to next cycle")

// Synthesizer writes dual-language articles.
type Synthesizer struct {
	chat       llmx.Chat
	maxSources int
}

// New creates a synthesizer. maxSources bounds how many member bodies go
// into the prompt.
func New(chat llmx.Chat, maxSources int) *Synthesizer {
	if maxSources <= 0 {
		maxSources = 10
	}
	return &Synthesizer{chat: chat, maxSources: maxSources}
}

const writePrompt = `You are writing a news article from multiple source reports about one event.

Write as first-party reporting: never attribute with "according to" phrasing.
Follow inverted-pyramid order: the most newsworthy fact comes first.
When sources disagree on a number, prefer the most recent figure or hedge with "at least".
Never repeat the title verbatim inside a body.
Wrap named entities, numbers and key terms in double equals signs, like ==Gaziantep== or ==7.8==.

Event working title: %s
Category: %s

Source reports:
%s

Reply with ONLY a JSON object in this exact shape:
{
  "title_advanced": "<headline, at most 12 words>",
  "title_simple": "<same facts in clearer English, at most 12 words>",
  "bullets_advanced": ["<3 to 5 bullets, 10-15 words each>"],
  "bullets_simple": ["<same number of bullets, simpler English>"],
  "body_advanced": "<300-400 words>",
  "body_simple": "<300-400 words, reduced vocabulary, same facts>"
}`

// Synthesize produces the article for a cluster, retrying invalid replies.
// On exhaustion it returns ErrDeferred; the cluster stays pending.
func (s *Synthesizer) Synthesize(ctx context.Context, cluster *core.EventCluster) (*core.SynthesizedArticle, error) {
	prompt := s.buildPrompt(cluster)

	var lastErr error
	for attempt := 0; attempt <= synthesisRetries; attempt++ {
		reply, err := s.chat.Complete(ctx, prompt)
		if err != nil {
			if errors.Is(err, llmx.ErrSafetyBlocked) {
				return nil, fmt.Errorf("%w: %v", ErrDeferred, err)
			}
			lastErr = err
			continue
		}

		var article core.SynthesizedArticle
		if err := llmx.ParseJSON(reply, &article); err != nil {
			lastErr = err
			continue
		}
		if err := ValidateArticle(&article); err != nil {
			lastErr = err
			logger.Debug("synthesized article failed validation",
				"cluster_id", cluster.ID, "attempt", attempt+1, "cause", err.Error())
			continue
		}
		return &article, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrDeferred, lastErr)
}

// buildPrompt orders members by importance, truncates their texts and
// renders the source block.
func (s *Synthesizer) buildPrompt(cluster *core.EventCluster) string {
	members := make([]core.ClusterMember, len(cluster.Members))
	copy(members, cluster.Members)
	sort.Slice(members, func(i, j int) bool {
		return members[i].Entry.Importance > members[j].Entry.Importance
	})
	if len(members) > s.maxSources {
		members = members[:s.maxSources]
	}

	var b strings.Builder
	for i, m := range members {
		text := m.Text()
		if len(text) > maxBodyChars {
			cut := maxBodyChars
			// Back up to a rune boundary so the truncation never emits a
			// split multi-byte sequence.
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			text = text[:cut]
		}
		fmt.Fprintf(&b, "--- Source %d: %s ---\n%s\n%s\n\n", i+1, m.Entry.SourceName, m.Entry.Title, text)
	}

	return fmt.Sprintf(writePrompt, cluster.CanonicalTitle, cluster.Members[0].Entry.Category, b.String())
}

// ValidateArticle checks the six-field contract: presence, bullet counts,
// word-count bounds (±10%) and balanced highlight markup. Word counts
// ignore highlight delimiters.
func ValidateArticle(a *core.SynthesizedArticle) error {
	if a.TitleAdvanced == "" || a.TitleSimple == "" || a.BodyAdvanced == "" || a.BodySimple == "" {
		return fmt.Errorf("missing required field")
	}
	if n := highlight.WordCount(a.TitleAdvanced); n > maxTitleWords {
		return fmt.Errorf("title_advanced has %d words, max %d", n, maxTitleWords)
	}
	if n := highlight.WordCount(a.TitleSimple); n > maxTitleWords {
		return fmt.Errorf("title_simple has %d words, max %d", n, maxTitleWords)
	}
	if n := len(a.BulletsAdvanced); n < minBullets || n > maxBullets {
		return fmt.Errorf("bullets_advanced has %d items, want %d-%d", n, minBullets, maxBullets)
	}
	if len(a.BulletsSimple) != len(a.BulletsAdvanced) {
		return fmt.Errorf("bullet counts differ: %d advanced, %d simple", len(a.BulletsAdvanced), len(a.BulletsSimple))
	}
	for _, bullet := range append(append([]string{}, a.BulletsAdvanced...), a.BulletsSimple...) {
		if strings.TrimSpace(bullet) == "" {
			return fmt.Errorf("empty bullet")
		}
	}
	if n := highlight.WordCount(a.BodyAdvanced); n < minBodyWords || n > maxBodyWords {
		return fmt.Errorf("body_advanced has %d words, want %d-%d", n, minBodyWords, maxBodyWords)
	}
	if n := highlight.WordCount(a.BodySimple); n < minBodyWords || n > maxBodyWords {
		return fmt.Errorf("body_simple has %d words, want %d-%d", n, minBodyWords, maxBodyWords)
	}
	for _, text := range []string{
		a.TitleAdvanced, a.TitleSimple, a.BodyAdvanced, a.BodySimple,
		strings.Join(a.BulletsAdvanced, " "), strings.Join(a.BulletsSimple, " "),
	} {
		if !highlight.Balanced(text) {
			return fmt.Errorf("unbalanced highlight markup")
		}
	}
	return nil
}
