package pipeline

import (
	"context"
	"testing"
	"time"

	"newsdesk/internal/collector"
	"newsdesk/internal/components"
	"newsdesk/internal/core"
	"newsdesk/internal/images"
	"newsdesk/internal/publisher"
	"newsdesk/internal/scorer"
	"newsdesk/internal/store"
	"newsdesk/internal/synthesizer"
)

type mockCollector struct {
	entries []core.FeedEntry
}

func (m *mockCollector) Collect(ctx context.Context) ([]core.FeedEntry, collector.Report, error) {
	entries := m.entries
	m.entries = nil // second cycle sees nothing new
	return entries, collector.Report{FeedsPolled: 1, ItemsSeen: len(entries)}, nil
}

type mockScorer struct{}

func (mockScorer) Score(ctx context.Context, entries []core.FeedEntry) scorer.Result {
	var result scorer.Result
	for _, e := range entries {
		result.Kept = append(result.Kept, core.ScoredEntry{
			FeedEntry:  e,
			Importance: 900,
			Category:   core.CategoryWorld,
			Emoji:      "🌍",
		})
	}
	return result
}

type mockClusterer struct{}

func (mockClusterer) Assign(clusters []*core.EventCluster, entries []core.ScoredEntry) ([]*core.EventCluster, map[string]bool) {
	touched := make(map[string]bool)
	for _, e := range entries {
		cluster := &core.EventCluster{
			ID:             "cluster-" + e.URL,
			State:          core.ClusterPending,
			CanonicalTitle: e.Title,
			FirstSeen:      e.FetchedAt,
			LastSeen:       e.FetchedAt,
			Members:        []core.ClusterMember{{Entry: e}},
		}
		clusters = append(clusters, cluster)
		touched[cluster.ID] = true
	}
	return clusters, touched
}

type mockFetcher struct{}

func (mockFetcher) FillBodies(ctx context.Context, cluster *core.EventCluster) (int, int) {
	n := 0
	for i := range cluster.Members {
		if !cluster.Members[i].BodyFetched {
			cluster.Members[i].Body = "A long fetched article body about the event."
			cluster.Members[i].BodyFetched = true
			n++
		}
	}
	return n, 0
}

type mockImages struct {
	ok bool
}

func (m mockImages) Select(ctx context.Context, cluster *core.EventCluster) (images.Choice, bool) {
	if !m.ok {
		return images.Choice{}, false
	}
	return images.Choice{URL: "https://cdn.example.com/a.jpg", SourceName: "Wire", Score: 80}, true
}

type mockWriter struct {
	err error
}

func (m mockWriter) Synthesize(ctx context.Context, cluster *core.EventCluster) (*core.SynthesizedArticle, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &core.SynthesizedArticle{
		TitleAdvanced: cluster.CanonicalTitle,
		TitleSimple:   cluster.CanonicalTitle,
	}, nil
}

type mockSelector struct{}

func (mockSelector) Select(ctx context.Context, title string, category core.Category) components.Selection {
	return components.Selection{Order: []core.ComponentKind{core.ComponentDetails}}
}

type mockGenerator struct{}

func (mockGenerator) Generate(ctx context.Context, sel components.Selection, article *core.SynthesizedArticle) components.Generated {
	return components.Generated{
		Order:   sel.Order,
		Details: []core.DetailRow{{Label: "Sources", Value: "1"}},
	}
}

// memClusterStore keeps clusters in memory and records maintenance calls.
type memClusterStore struct {
	clusters  map[string]*core.EventCluster
	closed    int
	cleanedUp bool
}

func newMemClusterStore() *memClusterStore {
	return &memClusterStore{clusters: make(map[string]*core.EventCluster)}
}

func (m *memClusterStore) ActiveClusters(window time.Duration) ([]*core.EventCluster, error) {
	var out []*core.EventCluster
	for _, c := range m.clusters {
		if c.State != core.ClusterClosed {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memClusterStore) SaveCluster(cluster *core.EventCluster) error {
	m.clusters[cluster.ID] = cluster
	return nil
}

func (m *memClusterStore) CloseExpiredClusters(window time.Duration) (int, error) {
	return m.closed, nil
}

func (m *memClusterStore) GetStats() (*store.Stats, error) {
	return &store.Stats{ActiveClusters: len(m.clusters)}, nil
}

func (m *memClusterStore) Cleanup(processedHorizon, bodyTTL time.Duration) error {
	m.cleanedUp = true
	return nil
}

// memPublisher delegates to the real publisher over in-memory stores, so
// the insert/update/unchanged decision is the production one.
type memEvents struct {
	byCluster map[string]*core.PublishedEvent
}

func (m *memEvents) GetPublishedByCluster(clusterID string) (*core.PublishedEvent, error) {
	return m.byCluster[clusterID], nil
}

func (m *memEvents) SavePublished(event *core.PublishedEvent) error {
	m.byCluster[event.ClusterID] = event
	return nil
}

type noopMarker struct{}

func (noopMarker) MarkProcessed(url string, firstSeen time.Time) (bool, error) { return true, nil }

func testEntry(url string) core.FeedEntry {
	now := time.Now().UTC()
	return core.FeedEntry{
		ID:          url,
		URL:         url,
		Title:       "Magnitude 7.8 earthquake strikes southern Turkey",
		SourceName:  "Wire",
		SourceTier:  core.TierMajor,
		ImageURL:    "https://cdn.example.com/a.jpg",
		PublishedAt: now,
		FetchedAt:   now,
	}
}

func testPipeline(coll *mockCollector, imgs mockImages, writer mockWriter, clusterStore *memClusterStore, events *memEvents) *Pipeline {
	return New(
		coll, mockScorer{}, mockClusterer{}, mockFetcher{}, imgs,
		writer, mockSelector{}, mockGenerator{},
		publisher.New(events, noopMarker{}),
		clusterStore,
		Options{
			ClusteringWindow: 24 * time.Hour,
			CycleBudget:      time.Minute,
			ProcessedHorizon: 720 * time.Hour,
			BodyCacheTTL:     48 * time.Hour,
		},
	)
}

func TestCyclePublishesNewStory(t *testing.T) {
	clusterStore := newMemClusterStore()
	events := &memEvents{byCluster: make(map[string]*core.PublishedEvent)}
	p := testPipeline(
		&mockCollector{entries: []core.FeedEntry{testEntry("https://news.example.com/quake")}},
		mockImages{ok: true}, mockWriter{}, clusterStore, events,
	)

	stats, err := p.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	if stats.Entries != 1 || stats.Scored != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.Published != 1 {
		t.Fatalf("published = %d, want 1", stats.Published)
	}
	if len(events.byCluster) != 1 {
		t.Fatal("no event persisted")
	}
	for _, event := range events.byCluster {
		if event.Version != 1 || event.ImageURL == "" {
			t.Errorf("event = %+v", event)
		}
	}
	for _, cluster := range clusterStore.clusters {
		if cluster.State != core.ClusterLive {
			t.Errorf("cluster state = %s, want live", cluster.State)
		}
	}
	if !clusterStore.cleanedUp {
		t.Error("cleanup not invoked")
	}
}

func TestCycleIsIdempotentAcrossQuietCycles(t *testing.T) {
	clusterStore := newMemClusterStore()
	events := &memEvents{byCluster: make(map[string]*core.PublishedEvent)}
	coll := &mockCollector{entries: []core.FeedEntry{testEntry("https://news.example.com/quake")}}
	p := testPipeline(coll, mockImages{ok: true}, mockWriter{}, clusterStore, events)

	if _, err := p.Cycle(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Second cycle: the collector has nothing new, no cluster is touched.
	stats, err := p.Cycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Published != 0 || stats.Updated != 0 {
		t.Errorf("quiet cycle wrote: %+v", stats)
	}
	for _, event := range events.byCluster {
		if event.Version != 1 {
			t.Errorf("version bumped without a change: %d", event.Version)
		}
	}
}

func TestCycleDefersClusterWithoutImage(t *testing.T) {
	clusterStore := newMemClusterStore()
	events := &memEvents{byCluster: make(map[string]*core.PublishedEvent)}
	p := testPipeline(
		&mockCollector{entries: []core.FeedEntry{testEntry("https://news.example.com/quake")}},
		mockImages{ok: false}, mockWriter{}, clusterStore, events,
	)

	stats, err := p.Cycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Published != 0 || stats.Deferred != 1 {
		t.Errorf("stats = %+v, want one deferred", stats)
	}
	if len(events.byCluster) != 0 {
		t.Error("imageless cluster was published")
	}
	// The cluster itself survives for the next cycle.
	if len(clusterStore.clusters) != 1 {
		t.Error("deferred cluster not persisted")
	}
}

func TestCycleRetriesPendingClusterWithoutNewEntries(t *testing.T) {
	// A cluster deferred in an earlier cycle must be picked up again even
	// when the collector brings nothing new for it.
	clusterStore := newMemClusterStore()
	now := time.Now().UTC()
	entry := core.ScoredEntry{
		FeedEntry:  testEntry("https://news.example.com/quake"),
		Importance: 900,
		Category:   core.CategoryWorld,
		Emoji:      "🌍",
	}
	clusterStore.clusters["c-pending"] = &core.EventCluster{
		ID:             "c-pending",
		State:          core.ClusterPending,
		CanonicalTitle: entry.Title,
		FirstSeen:      now.Add(-time.Hour),
		LastSeen:       now.Add(-time.Hour),
		Members:        []core.ClusterMember{{Entry: entry}},
	}

	events := &memEvents{byCluster: make(map[string]*core.PublishedEvent)}
	p := testPipeline(&mockCollector{}, mockImages{ok: true}, mockWriter{}, clusterStore, events)

	stats, err := p.Cycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Published != 1 {
		t.Fatalf("pending cluster not retried: %+v", stats)
	}
	if events.byCluster["c-pending"] == nil {
		t.Fatal("no event persisted for the retried cluster")
	}
	if clusterStore.clusters["c-pending"].State != core.ClusterLive {
		t.Error("retried cluster not transitioned to live")
	}
}

func TestCycleDefersOnSynthesisFailure(t *testing.T) {
	clusterStore := newMemClusterStore()
	events := &memEvents{byCluster: make(map[string]*core.PublishedEvent)}
	p := testPipeline(
		&mockCollector{entries: []core.FeedEntry{testEntry("https://news.example.com/quake")}},
		mockImages{ok: true}, mockWriter{err: synthesizer.ErrDeferred}, clusterStore, events,
	)

	stats, err := p.Cycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Deferred != 1 || len(events.byCluster) != 0 {
		t.Errorf("stats = %+v, events = %d", stats, len(events.byCluster))
	}
}
