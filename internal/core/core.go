// Package core defines the typed records that flow between pipeline stages.
package core

import "time"

// Tier is the static credibility tier assigned to a feed source.
type Tier string

const (
	TierPremium  Tier = "premium"
	TierMajor    Tier = "major"
	TierStandard Tier = "standard"
	TierRegional Tier = "regional"
)

// Category is the closed set of article categories assigned by the scorer.
type Category string

const (
	CategoryWorld         Category = "world"
	CategoryPolitics      Category = "politics"
	CategoryBusiness      Category = "business"
	CategoryMarkets       Category = "markets"
	CategoryTechnology    Category = "technology"
	CategoryScience       Category = "science"
	CategoryHealth        Category = "health"
	CategoryClimate       Category = "climate"
	CategorySports        Category = "sports"
	CategoryEntertainment Category = "entertainment"
	CategoryOther         Category = "other"
)

// Categories lists every valid category value.
var Categories = []Category{
	CategoryWorld, CategoryPolitics, CategoryBusiness, CategoryMarkets,
	CategoryTechnology, CategoryScience, CategoryHealth, CategoryClimate,
	CategorySports, CategoryEntertainment, CategoryOther,
}

// ValidCategory reports whether c is a member of the closed category set.
func ValidCategory(c Category) bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// FeedSource describes one configured feed.
type FeedSource struct {
	URL  string `json:"url"`  // Feed URL
	Name string `json:"name"` // Human-readable outlet name
	Tier Tier   `json:"tier"` // Credibility tier
}

// FeedEntry is what the collector emits for each new feed item.
type FeedEntry struct {
	ID          string    `json:"id"`           // Deterministic ID derived from the canonical URL
	SourceName  string    `json:"source_name"`  // Outlet name from the feed descriptor
	SourceTier  Tier      `json:"source_tier"`  // Credibility tier of the outlet
	URL         string    `json:"url"`          // Canonicalised article URL (primary key)
	GUID        string    `json:"guid"`         // Feed-provided GUID, may be empty
	Title       string    `json:"title"`        // Item title
	Summary     string    `json:"summary"`      // Plain-text summary, HTML stripped
	Body        string    `json:"body"`         // Plain-text body when the feed carries one
	ImageURL    string    `json:"image_url"`    // Candidate image URL, may be empty
	PublishedAt time.Time `json:"published_at"` // Publication time, may be approximate
	FetchedAt   time.Time `json:"fetched_at"`   // When the collector saw the item
}

// ScoredEntry is a FeedEntry annotated by the scoring LLM.
type ScoredEntry struct {
	FeedEntry
	Importance int      `json:"importance"` // 0-1000 importance assigned by the scorer
	Category   Category `json:"category"`   // Category from the closed set
	Emoji      string   `json:"emoji"`      // Single grapheme chosen by the scorer
	Reasoning  string   `json:"reasoning"`  // Scorer's short rationale, diagnostics only
}

// ClusterState tracks an EventCluster through its lifecycle.
type ClusterState string

const (
	ClusterPending ClusterState = "pending" // Has members, not yet published
	ClusterLive    ClusterState = "live"    // Published; still accepts members inside the window
	ClusterClosed  ClusterState = "closed"  // Window expired, frozen
)

// ClusterMember is one source article inside a cluster.
type ClusterMember struct {
	Entry           ScoredEntry `json:"entry"`            // The scored entry
	Body            string      `json:"body"`             // Full article text once fetched
	BodyFetched     bool        `json:"body_fetched"`     // Whether a fetch attempt succeeded
	BodyUnavailable bool        `json:"body_unavailable"` // Permanent fetch failure; do not retry
}

// Text returns the best available text for synthesis: the fetched body,
// falling back to the feed summary.
func (m ClusterMember) Text() string {
	if m.Body != "" {
		return m.Body
	}
	return m.Entry.Summary
}

// EventCluster is a durable grouping of entries believed to describe one
// real-world event.
type EventCluster struct {
	ID             string          `json:"id"`              // Opaque cluster ID
	CanonicalTitle string          `json:"canonical_title"` // Title of the highest-scoring member
	Keywords       []string        `json:"keywords"`        // Normalised keyword union of member titles
	Entities       []string        `json:"entities"`        // Proper-noun union of member titles
	FirstSeen      time.Time       `json:"first_seen"`
	LastSeen       time.Time       `json:"last_seen"`
	State          ClusterState    `json:"state"`
	Members        []ClusterMember `json:"members"`
}

// HasURL reports whether the cluster already contains an entry for url.
func (c *EventCluster) HasURL(url string) bool {
	for _, m := range c.Members {
		if m.Entry.URL == url {
			return true
		}
	}
	return false
}

// SourceURLs returns the URLs of every member.
func (c *EventCluster) SourceURLs() []string {
	urls := make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		urls = append(urls, m.Entry.URL)
	}
	return urls
}

// ComponentKind names a visual component attached to a published event.
type ComponentKind string

const (
	ComponentTimeline ComponentKind = "timeline"
	ComponentDetails  ComponentKind = "details"
	ComponentGraph    ComponentKind = "graph"
	ComponentMap      ComponentKind = "map"
)

// ValidComponent reports whether k names a known component.
func ValidComponent(k ComponentKind) bool {
	switch k {
	case ComponentTimeline, ComponentDetails, ComponentGraph, ComponentMap:
		return true
	}
	return false
}

// TimelineEntry is one row of a timeline component.
type TimelineEntry struct {
	Date  string `json:"date"`  // May be approximate (month + year)
	Event string `json:"event"` // At most 14 words
}

// DetailRow is one label/value row of a details component.
type DetailRow struct {
	Label    string `json:"label"`
	Value    string `json:"value"`
	Subtitle string `json:"subtitle,omitempty"`
}

// GraphPoint is a single labelled data point.
type GraphPoint struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// GraphSpec describes a chart component.
type GraphSpec struct {
	ChartType string       `json:"chart_type"` // line, bar, area or column
	Points    []GraphPoint `json:"points"`     // At least four
	Labels    []string     `json:"labels,omitempty"`
}

// MapPoint is a named coordinate.
type MapPoint struct {
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Name string  `json:"name"`
}

// MapSpec describes a map component.
type MapSpec struct {
	Center  MapPoint   `json:"center"`
	Markers []MapPoint `json:"markers"` // Between one and five
}

// SynthesizedArticle is the writing LLM's dual-language output for a cluster.
type SynthesizedArticle struct {
	TitleAdvanced   string   `json:"title_advanced"`
	TitleSimple     string   `json:"title_simple"`
	BulletsAdvanced []string `json:"bullets_advanced"`
	BulletsSimple   []string `json:"bullets_simple"`
	BodyAdvanced    string   `json:"body_advanced"`
	BodySimple      string   `json:"body_simple"`
}

// PublishedEvent is the pipeline's output record.
type PublishedEvent struct {
	ID              string          `json:"id"`         // Opaque event ID
	ClusterID       string          `json:"cluster_id"` // One-to-one with EventCluster
	TitleAdvanced   string          `json:"title_advanced"`
	TitleSimple     string          `json:"title_simple"`
	BulletsAdvanced []string        `json:"bullets_advanced"`
	BulletsSimple   []string        `json:"bullets_simple"`
	BodyAdvanced    string          `json:"body_advanced"`
	BodySimple      string          `json:"body_simple"`
	Category        Category        `json:"category"`
	Emoji           string          `json:"emoji"`
	ImageURL        string          `json:"image_url"`
	ImageSourceName string          `json:"image_source_name"`
	NumSources      int             `json:"num_sources"`      // Always >= 1
	ComponentsOrder []ComponentKind `json:"components_order"` // Display order; length equals non-nil components
	Timeline        []TimelineEntry `json:"timeline,omitempty"`
	Details         []DetailRow     `json:"details,omitempty"`
	Graph           *GraphSpec      `json:"graph,omitempty"`
	Map             *MapSpec        `json:"map,omitempty"`
	Version         int             `json:"version"` // Starts at 1, increments on update
	CreatedAt       time.Time       `json:"created_at"`
	LastUpdatedAt   time.Time       `json:"last_updated_at"`
}

// ComponentFields returns the component kinds that actually carry data,
// in the canonical kind order. Used to check the components-order invariant.
func (e *PublishedEvent) ComponentFields() []ComponentKind {
	var present []ComponentKind
	if len(e.Timeline) > 0 {
		present = append(present, ComponentTimeline)
	}
	if len(e.Details) > 0 {
		present = append(present, ComponentDetails)
	}
	if e.Graph != nil {
		present = append(present, ComponentGraph)
	}
	if e.Map != nil {
		present = append(present, ComponentMap)
	}
	return present
}

// ProcessedURLMark records that a URL has been through the scorer.
type ProcessedURLMark struct {
	URL       string    `json:"url"`
	FirstSeen time.Time `json:"first_seen"`
}
