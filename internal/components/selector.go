// Package components implements stages 6 and 7: choosing which visual
// components belong on an article and generating each one with the
// research LLM.
package components

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"newsdesk/internal/core"
	"newsdesk/internal/llmx"
	"newsdesk/internal/logger"
)

// parseRetries is how many further attempts follow an unparsable reply.
const parseRetries = 2

// Selection is the selector's outcome: an ordered component subset plus an
// optional hint describing the data a graph or map needs.
type Selection struct {
	Order []core.ComponentKind
	Hint  string
}

// Selector picks components from the synthesized title alone. The title
// carries enough signal and keeps the call cheap.
type Selector struct {
	chat llmx.Chat
}

// NewSelector creates a component selector.
func NewSelector(chat llmx.Chat) *Selector {
	return &Selector{chat: chat}
}

const selectPrompt = `Choose which visual components belong on a news article, given only its title.

Components:
- "timeline" for evolving or historical stories (resignations, investigations, ongoing conflicts, policy changes)
- "details" for fact-heavy stories (casualties, specs, prices, scientific measurements)
- "graph" for data or trend stories (rates, prices, polls, time series)
- "map" for geographic events (disasters, conflicts, multi-country events)

Pick only components that genuinely help the reader; one or two well-chosen
components beat four mediocre ones. Order them by usefulness.

Reply with ONLY a JSON object:
{"components": ["<1 to 4 of: timeline, details, graph, map>"], "hint": "<when graph or map is chosen, one sentence describing the data series or locations needed; otherwise empty>"}

Title: %s`

// selectReply is the JSON contract with the selection LLM.
type selectReply struct {
	Components []string `json:"components"`
	Hint       string   `json:"hint"`
}

// Select returns the ordered component subset for a title. It never fails:
// an unusable reply falls back to the category rules, and an empty
// selection defaults to [details].
func (s *Selector) Select(ctx context.Context, titleAdvanced string, category core.Category) Selection {
	prompt := fmt.Sprintf(selectPrompt, titleAdvanced)

	var reply selectReply
	var lastErr error
	for attempt := 0; attempt <= parseRetries; attempt++ {
		raw, err := s.chat.Complete(ctx, prompt)
		if err != nil {
			if errors.Is(err, llmx.ErrSafetyBlocked) {
				lastErr = err
				break
			}
			lastErr = err
			continue
		}
		if err := llmx.ParseJSON(raw, &reply); err != nil {
			lastErr = err
			continue
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		logger.Warn("component selection failed, using category fallback",
			"category", string(category), "cause", lastErr.Error())
		return Selection{Order: CategoryFallback(category)}
	}

	order, valid := normalizeSelection(reply.Components)
	if !valid {
		logger.Debug("component selection invalid, using category fallback",
			"raw", strings.Join(reply.Components, ","), "category", string(category))
		return Selection{Order: CategoryFallback(category), Hint: reply.Hint}
	}
	if len(order) == 0 {
		return Selection{Order: []core.ComponentKind{core.ComponentDetails}, Hint: reply.Hint}
	}
	return Selection{Order: order, Hint: reply.Hint}
}

// normalizeSelection validates the raw component list: known kinds only,
// no duplicates, at most four. valid=false means the set itself is bad
// (unknown names); an empty list is valid and handled by the caller.
func normalizeSelection(raw []string) ([]core.ComponentKind, bool) {
	seen := make(map[core.ComponentKind]bool)
	var order []core.ComponentKind
	for _, name := range raw {
		kind := core.ComponentKind(strings.ToLower(strings.TrimSpace(name)))
		if !core.ValidComponent(kind) {
			return nil, false
		}
		if seen[kind] {
			continue
		}
		seen[kind] = true
		order = append(order, kind)
	}
	if len(order) > 4 {
		order = order[:4]
	}
	return order, true
}

// CategoryFallback maps a category to a sensible default component order.
func CategoryFallback(category core.Category) []core.ComponentKind {
	switch category {
	case core.CategoryWorld, core.CategoryClimate:
		return []core.ComponentKind{core.ComponentMap, core.ComponentDetails}
	case core.CategoryBusiness, core.CategoryMarkets:
		return []core.ComponentKind{core.ComponentGraph, core.ComponentDetails}
	case core.CategoryTechnology:
		return []core.ComponentKind{core.ComponentDetails}
	default:
		return []core.ComponentKind{core.ComponentTimeline, core.ComponentDetails}
	}
}
