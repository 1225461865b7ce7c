// Package publisher implements stage 8: inserting or updating the
// published event for a cluster and closing the idempotence loop by
// marking every member URL processed.
package publisher

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"newsdesk/internal/components"
	"newsdesk/internal/core"
	"newsdesk/internal/logger"

	"github.com/google/uuid"
)

// EventStore is the published-event side of the output store.
type EventStore interface {
	GetPublishedByCluster(clusterID string) (*core.PublishedEvent, error)
	SavePublished(event *core.PublishedEvent) error
}

// Marker writes processed-URL marks.
type Marker interface {
	MarkProcessed(url string, firstSeen time.Time) (bool, error)
}

// Outcome reports what a publish attempt did.
type Outcome string

const (
	OutcomeInserted  Outcome = "inserted"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
)

// Publisher writes published events.
type Publisher struct {
	events EventStore
	marker Marker
}

// New creates a publisher.
func New(events EventStore, marker Marker) *Publisher {
	return &Publisher{events: events, marker: marker}
}

// Input is everything the earlier stages produced for one cluster.
type Input struct {
	Cluster         *core.EventCluster
	Article         *core.SynthesizedArticle
	ImageURL        string
	ImageSourceName string
	Components      components.Generated
}

// Publish inserts a new event for the cluster or updates the existing one
// when the content materially changed. On success every member URL is
// marked processed and the cluster is promoted to live.
func (p *Publisher) Publish(in Input) (Outcome, error) {
	existing, err := p.events.GetPublishedByCluster(in.Cluster.ID)
	if err != nil {
		return "", fmt.Errorf("failed to look up published event: %w", err)
	}

	now := time.Now().UTC()
	event := p.build(in, now)

	outcome := OutcomeInserted
	switch {
	case existing == nil:
		event.ID = uuid.NewString()
		event.Version = 1
		event.CreatedAt = now
	case MaterialChange(existing, event):
		event.ID = existing.ID
		event.Version = existing.Version + 1
		event.CreatedAt = existing.CreatedAt
		outcome = OutcomeUpdated
	default:
		p.markMembers(in.Cluster)
		return OutcomeUnchanged, nil
	}

	if err := p.events.SavePublished(event); err != nil {
		return "", fmt.Errorf("failed to save published event: %w", err)
	}

	in.Cluster.State = core.ClusterLive
	p.markMembers(in.Cluster)

	logger.Info("event published",
		"outcome", string(outcome),
		"event_id", event.ID,
		"cluster_id", in.Cluster.ID,
		"version", event.Version,
		"sources", event.NumSources,
		"components", len(event.ComponentsOrder))
	return outcome, nil
}

// build assembles the candidate event record.
func (p *Publisher) build(in Input, now time.Time) *core.PublishedEvent {
	// Category and emoji come from the highest-scoring member.
	lead := in.Cluster.Members[0].Entry
	for _, m := range in.Cluster.Members {
		if m.Entry.Importance > lead.Importance {
			lead = m.Entry
		}
	}

	return &core.PublishedEvent{
		ClusterID:       in.Cluster.ID,
		TitleAdvanced:   in.Article.TitleAdvanced,
		TitleSimple:     in.Article.TitleSimple,
		BulletsAdvanced: in.Article.BulletsAdvanced,
		BulletsSimple:   in.Article.BulletsSimple,
		BodyAdvanced:    in.Article.BodyAdvanced,
		BodySimple:      in.Article.BodySimple,
		Category:        lead.Category,
		Emoji:           lead.Emoji,
		ImageURL:        in.ImageURL,
		ImageSourceName: in.ImageSourceName,
		NumSources:      len(in.Cluster.Members),
		ComponentsOrder: in.Components.Order,
		Timeline:        in.Components.Timeline,
		Details:         in.Components.Details,
		Graph:           in.Components.Graph,
		Map:             in.Components.Map,
		LastUpdatedAt:   now,
	}
}

// MaterialChange reports whether the new content justifies a version bump:
// a changed advanced title, a new source in the cluster, or any component
// value change. Whitespace-only text differences do not count.
func MaterialChange(prev, next *core.PublishedEvent) bool {
	if normalizeWS(prev.TitleAdvanced) != normalizeWS(next.TitleAdvanced) {
		return true
	}
	if next.NumSources != prev.NumSources {
		return true
	}
	if !equalKinds(prev.ComponentsOrder, next.ComponentsOrder) {
		return true
	}
	if !reflect.DeepEqual(prev.Timeline, next.Timeline) ||
		!reflect.DeepEqual(prev.Details, next.Details) ||
		!reflect.DeepEqual(prev.Graph, next.Graph) ||
		!reflect.DeepEqual(prev.Map, next.Map) {
		return true
	}
	return false
}

func equalKinds(a, b []core.ComponentKind) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func normalizeWS(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// markMembers records every member URL as processed. Marks are idempotent,
// so re-marking URLs already written by the scorer is harmless.
func (p *Publisher) markMembers(cluster *core.EventCluster) {
	for _, m := range cluster.Members {
		if _, err := p.marker.MarkProcessed(m.Entry.URL, m.Entry.FetchedAt); err != nil {
			logger.Error("failed to mark member processed", err, "url", m.Entry.URL)
		}
	}
}
