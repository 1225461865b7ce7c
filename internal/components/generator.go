package components

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"newsdesk/internal/core"
	"newsdesk/internal/highlight"
	"newsdesk/internal/llmx"
	"newsdesk/internal/logger"
)

// Generated carries the populated component fields for a published event.
// Order lists only the components that generated AND validated; the
// pipeline never publishes a component with malformed data.
type Generated struct {
	Order    []core.ComponentKind
	Timeline []core.TimelineEntry
	Details  []core.DetailRow
	Graph    *core.GraphSpec
	Map      *core.MapSpec
}

// Generator populates selected components with the research LLM.
type Generator struct {
	chat llmx.Chat
}

// NewGenerator creates a component generator.
func NewGenerator(chat llmx.Chat) *Generator {
	return &Generator{chat: chat}
}

const timelinePrompt = `From the article below, build a timeline of the event.

Reply with ONLY a JSON object:
{"timeline": [{"date": "<date, approximate month+year is fine>", "event": "<at most 14 words>"}]}
Give 2 to 4 entries in chronological order.

Article:
%s`

const detailsPrompt = `From the article below, extract the three most important facts as labelled values.

Reply with ONLY a JSON object:
{"details": [{"label": "<short label>", "value": "<the value>", "subtitle": "<optional context>"}]}
Give exactly 3 entries; at least one value must be a number.

Article:
%s`

const graphPrompt = `From the article below, produce the data series for a chart. %s

Reply with ONLY a JSON object:
{"graph": {"chart_type": "<line, bar, area or column>", "points": [{"label": "<x label>", "value": <number>}]}}
Give at least 4 points.

Article:
%s`

const mapPrompt = `From the article below, identify the locations of the event. %s

Reply with ONLY a JSON object:
{"map": {"center": {"lat": <number>, "lon": <number>, "name": "<place>"}, "markers": [{"lat": <number>, "lon": <number>, "name": "<place>"}]}}
Give 1 to 5 markers.

Article:
%s`

// Generate produces every selected component. Components that fail
// generation or validation are dropped and the order trimmed accordingly.
func (g *Generator) Generate(ctx context.Context, selection Selection, article *core.SynthesizedArticle) Generated {
	body := highlight.Strip(article.BodyAdvanced)
	hint := ""
	if selection.Hint != "" {
		hint = "Data needed: " + selection.Hint + "."
	}

	var out Generated
	for _, kind := range selection.Order {
		var err error
		switch kind {
		case core.ComponentTimeline:
			out.Timeline, err = g.timeline(ctx, body)
		case core.ComponentDetails:
			out.Details, err = g.details(ctx, body)
		case core.ComponentGraph:
			out.Graph, err = g.graph(ctx, body, hint)
		case core.ComponentMap:
			out.Map, err = g.mapSpec(ctx, body, hint)
		}
		if err != nil {
			logger.Warn("component omitted", "component", string(kind), "cause", err.Error())
			continue
		}
		out.Order = append(out.Order, kind)
	}
	return out
}

// complete runs the shared retry/salvage loop for one component prompt.
func (g *Generator) complete(ctx context.Context, prompt string, v any, validate func() error) error {
	var lastErr error
	for attempt := 0; attempt <= parseRetries; attempt++ {
		raw, err := g.chat.Complete(ctx, prompt)
		if err != nil {
			if errors.Is(err, llmx.ErrSafetyBlocked) {
				return err
			}
			lastErr = err
			continue
		}
		if err := llmx.ParseJSON(raw, v); err != nil {
			lastErr = err
			continue
		}
		if err := validate(); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

func (g *Generator) timeline(ctx context.Context, body string) ([]core.TimelineEntry, error) {
	var reply struct {
		Timeline []core.TimelineEntry `json:"timeline"`
	}
	err := g.complete(ctx, fmt.Sprintf(timelinePrompt, body), &reply, func() error {
		return ValidateTimeline(reply.Timeline)
	})
	if err != nil {
		return nil, err
	}
	return reply.Timeline, nil
}

func (g *Generator) details(ctx context.Context, body string) ([]core.DetailRow, error) {
	var reply struct {
		Details []core.DetailRow `json:"details"`
	}
	err := g.complete(ctx, fmt.Sprintf(detailsPrompt, body), &reply, func() error {
		return ValidateDetails(reply.Details)
	})
	if err != nil {
		return nil, err
	}
	return reply.Details, nil
}

func (g *Generator) graph(ctx context.Context, body, hint string) (*core.GraphSpec, error) {
	var reply struct {
		Graph *core.GraphSpec `json:"graph"`
	}
	err := g.complete(ctx, fmt.Sprintf(graphPrompt, hint, body), &reply, func() error {
		return ValidateGraph(reply.Graph)
	})
	if err != nil {
		return nil, err
	}
	return reply.Graph, nil
}

func (g *Generator) mapSpec(ctx context.Context, body, hint string) (*core.MapSpec, error) {
	var reply struct {
		Map *core.MapSpec `json:"map"`
	}
	err := g.complete(ctx, fmt.Sprintf(mapPrompt, hint, body), &reply, func() error {
		return ValidateMap(reply.Map)
	})
	if err != nil {
		return nil, err
	}
	return reply.Map, nil
}

// ValidateTimeline checks the timeline contract: 2-4 entries, dated, each
// event at most 14 words.
func ValidateTimeline(entries []core.TimelineEntry) error {
	if len(entries) < 2 || len(entries) > 4 {
		return fmt.Errorf("timeline has %d entries, want 2-4", len(entries))
	}
	for _, e := range entries {
		if strings.TrimSpace(e.Date) == "" || strings.TrimSpace(e.Event) == "" {
			return fmt.Errorf("timeline entry missing date or event")
		}
		if n := len(strings.Fields(e.Event)); n > 14 {
			return fmt.Errorf("timeline event has %d words, max 14", n)
		}
	}
	return nil
}

// ValidateDetails checks the details contract: exactly 3 rows with at
// least one numeric value.
func ValidateDetails(rows []core.DetailRow) error {
	if len(rows) != 3 {
		return fmt.Errorf("details has %d rows, want exactly 3", len(rows))
	}
	numeric := false
	for _, row := range rows {
		if strings.TrimSpace(row.Label) == "" || strings.TrimSpace(row.Value) == "" {
			return fmt.Errorf("detail row missing label or value")
		}
		if containsDigit(row.Value) {
			numeric = true
		}
	}
	if !numeric {
		return fmt.Errorf("details has no numeric value")
	}
	return nil
}

// ValidateGraph checks the graph contract: known chart type, at least
// four points.
func ValidateGraph(graph *core.GraphSpec) error {
	if graph == nil {
		return fmt.Errorf("graph is missing")
	}
	switch graph.ChartType {
	case "line", "bar", "area", "column":
	default:
		return fmt.Errorf("unknown chart type %q", graph.ChartType)
	}
	if len(graph.Points) < 4 {
		return fmt.Errorf("graph has %d points, want at least 4", len(graph.Points))
	}
	for _, p := range graph.Points {
		if strings.TrimSpace(p.Label) == "" {
			return fmt.Errorf("graph point missing label")
		}
	}
	return nil
}

// ValidateMap checks the map contract: a named center and 1-5 markers
// with plausible coordinates.
func ValidateMap(m *core.MapSpec) error {
	if m == nil {
		return fmt.Errorf("map is missing")
	}
	if strings.TrimSpace(m.Center.Name) == "" {
		return fmt.Errorf("map center missing name")
	}
	if len(m.Markers) < 1 || len(m.Markers) > 5 {
		return fmt.Errorf("map has %d markers, want 1-5", len(m.Markers))
	}
	points := append([]core.MapPoint{m.Center}, m.Markers...)
	for _, p := range points {
		if p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
			return fmt.Errorf("coordinate out of range: %f,%f", p.Lat, p.Lon)
		}
	}
	return nil
}

func containsDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
