// Package pipeline orchestrates one ingestion cycle: collect, score,
// cluster, fetch, illustrate, synthesize, decorate, publish.
package pipeline

import (
	"context"
	"errors"
	"sort"
	"time"

	"newsdesk/internal/collector"
	"newsdesk/internal/components"
	"newsdesk/internal/core"
	"newsdesk/internal/fetcher"
	"newsdesk/internal/httpx"
	"newsdesk/internal/images"
	"newsdesk/internal/logger"
	"newsdesk/internal/publisher"
	"newsdesk/internal/scorer"
	"newsdesk/internal/store"
	"newsdesk/internal/synthesizer"
)

// Collector polls the feeds for new entries.
type Collector interface {
	Collect(ctx context.Context) ([]core.FeedEntry, collector.Report, error)
}

// Scorer classifies a batch of entries.
type Scorer interface {
	Score(ctx context.Context, entries []core.FeedEntry) scorer.Result
}

// Clusterer assigns scored entries to clusters.
type Clusterer interface {
	Assign(clusters []*core.EventCluster, entries []core.ScoredEntry) ([]*core.EventCluster, map[string]bool)
}

// BodyFetcher fills member bodies for one cluster.
type BodyFetcher interface {
	FillBodies(ctx context.Context, cluster *core.EventCluster) (fetched, failed int)
}

// ImageSelector picks the best image for a cluster.
type ImageSelector interface {
	Select(ctx context.Context, cluster *core.EventCluster) (images.Choice, bool)
}

// Synthesizer writes the dual-language article for a cluster.
type Synthesizer interface {
	Synthesize(ctx context.Context, cluster *core.EventCluster) (*core.SynthesizedArticle, error)
}

// ComponentSelector chooses the visual components for an article title.
type ComponentSelector interface {
	Select(ctx context.Context, titleAdvanced string, category core.Category) components.Selection
}

// ComponentGenerator populates the chosen components.
type ComponentGenerator interface {
	Generate(ctx context.Context, selection components.Selection, article *core.SynthesizedArticle) components.Generated
}

// Publisher inserts or updates the published event for a cluster.
type Publisher interface {
	Publish(in publisher.Input) (publisher.Outcome, error)
}

// ClusterStore is the durable cluster and maintenance surface the pipeline
// drives directly.
type ClusterStore interface {
	ActiveClusters(window time.Duration) ([]*core.EventCluster, error)
	SaveCluster(cluster *core.EventCluster) error
	CloseExpiredClusters(window time.Duration) (int, error)
	GetStats() (*store.Stats, error)
	Cleanup(processedHorizon, bodyTTL time.Duration) error
}

// NetStats exposes the shared outbound client's counters for the cycle
// summary.
type NetStats interface {
	Snapshot() httpx.Stats
}

// Options carries the per-cycle policy knobs.
type Options struct {
	ClusteringWindow time.Duration
	CycleBudget      time.Duration
	ProcessedHorizon time.Duration
	BodyCacheTTL     time.Duration
	Net              NetStats // Optional; nil omits HTTP counters from the summary
}

// Pipeline wires the stages together.
type Pipeline struct {
	collector Collector
	scorer    Scorer
	clusterer Clusterer
	fetcher   BodyFetcher
	images    ImageSelector
	writer    Synthesizer
	selector  ComponentSelector
	generator ComponentGenerator
	publisher Publisher
	clusters  ClusterStore
	opts      Options
}

// New creates a pipeline.
func New(c Collector, s Scorer, cl Clusterer, f BodyFetcher, img ImageSelector,
	w Synthesizer, sel ComponentSelector, gen ComponentGenerator, pub Publisher,
	clusters ClusterStore, opts Options) *Pipeline {
	if opts.ClusteringWindow <= 0 {
		opts.ClusteringWindow = 24 * time.Hour
	}
	if opts.CycleBudget <= 0 {
		opts.CycleBudget = 30 * time.Minute
	}
	return &Pipeline{
		collector: c, scorer: s, clusterer: cl, fetcher: f, images: img,
		writer: w, selector: sel, generator: gen, publisher: pub,
		clusters: clusters, opts: opts,
	}
}

// CycleStats summarises one cycle for the closing log line.
type CycleStats struct {
	Entries         int
	Scored          int
	DroppedNoImage  int
	DroppedLowScore int
	ClustersTouched int
	ClustersSeeded  int
	Published       int
	Updated         int
	Unchanged       int
	Deferred        int
	ClustersClosed  int
	BudgetExceeded  bool
	Duration        time.Duration
}

// Cycle runs one full pass over the feeds. Stage failures for individual
// feeds or clusters are absorbed; only infrastructure failures (the store,
// the processed-URL lookup) abort the cycle.
func (p *Pipeline) Cycle(ctx context.Context) (CycleStats, error) {
	start := time.Now()
	deadline := start.Add(p.opts.CycleBudget)
	var stats CycleStats

	entries, report, err := p.collector.Collect(ctx)
	if err != nil {
		return stats, err
	}
	stats.Entries = len(entries)
	logger.Info("collection finished",
		"feeds", report.FeedsPolled,
		"failed", report.FeedsFailed,
		"unchanged", report.FeedsUnchanged,
		"items_seen", report.ItemsSeen,
		"dropped_old", report.DroppedOld,
		"dropped_seen", report.DroppedSeen,
		"new_entries", len(entries))

	scored := p.scorer.Score(ctx, entries)
	stats.Scored = len(scored.Kept)
	stats.DroppedNoImage = scored.DroppedNoImage
	stats.DroppedLowScore = scored.DroppedLowScore
	logger.Info("scoring finished",
		"kept", len(scored.Kept),
		"dropped_no_image", scored.DroppedNoImage,
		"dropped_low_score", scored.DroppedLowScore,
		"dropped_unscorable", scored.DroppedUnscorable)

	clusters, err := p.clusters.ActiveClusters(p.opts.ClusteringWindow)
	if err != nil {
		return stats, err
	}
	existing := len(clusters)

	clusters, touched := p.clusterer.Assign(clusters, scored.Kept)
	stats.ClustersTouched = len(touched)
	stats.ClustersSeeded = len(clusters) - existing

	// Persist cluster membership before the expensive stages so a crash
	// mid-cycle loses no grouping work. The work set is every touched
	// cluster plus every still-pending one: a cluster deferred last cycle
	// (no image, synthesis failure) is retried even when no new source
	// arrived. Live clusters re-enter only when touched, so a quiet cycle
	// rewrites nothing.
	work := make([]*core.EventCluster, 0, len(touched))
	for _, cluster := range clusters {
		switch {
		case touched[cluster.ID]:
			if err := p.clusters.SaveCluster(cluster); err != nil {
				return stats, err
			}
		case cluster.State != core.ClusterPending:
			continue
		}
		work = append(work, cluster)
	}

	// Highest-value clusters first, so a budget cut costs the least.
	sort.Slice(work, func(i, j int) bool {
		return maxImportance(work[i]) > maxImportance(work[j])
	})

	for _, cluster := range work {
		if time.Now().After(deadline) {
			stats.BudgetExceeded = true
			logger.Warn("cycle budget exceeded, remaining clusters wait for next cycle",
				"budget", p.opts.CycleBudget.String(), "remaining", len(work)-stats.Published-stats.Updated-stats.Unchanged-stats.Deferred)
			break
		}
		outcome := p.processCluster(ctx, cluster)
		switch outcome {
		case publisher.OutcomeInserted:
			stats.Published++
		case publisher.OutcomeUpdated:
			stats.Updated++
		case publisher.OutcomeUnchanged:
			stats.Unchanged++
		default:
			stats.Deferred++
		}
	}

	closed, err := p.clusters.CloseExpiredClusters(p.opts.ClusteringWindow)
	if err != nil {
		logger.Error("failed to close expired clusters", err)
	}
	stats.ClustersClosed = closed

	if p.opts.ProcessedHorizon > 0 || p.opts.BodyCacheTTL > 0 {
		if err := p.clusters.Cleanup(p.opts.ProcessedHorizon, p.opts.BodyCacheTTL); err != nil {
			logger.Error("store cleanup failed", err)
		}
	}

	stats.Duration = time.Since(start)
	p.logSummary(stats)
	return stats, nil
}

// processCluster runs stages 3-8 for one cluster. An empty outcome means
// the cluster stays pending for the next cycle.
func (p *Pipeline) processCluster(ctx context.Context, cluster *core.EventCluster) publisher.Outcome {
	fetched, failed := p.fetcher.FillBodies(ctx, cluster)
	if fetched > 0 || failed > 0 {
		if err := p.clusters.SaveCluster(cluster); err != nil {
			logger.Error("failed to save cluster after body fetch", err, "cluster_id", cluster.ID)
		}
	}
	if !fetcher.Synthesizable(cluster) {
		logger.Info("cluster lacks text, deferred",
			"cluster_id", cluster.ID, "members", len(cluster.Members), "fetched", fetched, "failed", failed)
		return ""
	}

	choice, ok := p.images.Select(ctx, cluster)
	if !ok {
		logger.Info("no usable image, cluster deferred", "cluster_id", cluster.ID)
		return ""
	}

	article, err := p.writer.Synthesize(ctx, cluster)
	if err != nil {
		if errors.Is(err, synthesizer.ErrDeferred) {
			logger.Warn("synthesis deferred", "cluster_id", cluster.ID, "cause", err.Error())
		} else {
			logger.Error("synthesis failed", err, "cluster_id", cluster.ID)
		}
		return ""
	}

	category := leadCategory(cluster)
	selection := p.selector.Select(ctx, article.TitleAdvanced, category)
	generated := p.generator.Generate(ctx, selection, article)

	outcome, err := p.publisher.Publish(publisher.Input{
		Cluster:         cluster,
		Article:         article,
		ImageURL:        choice.URL,
		ImageSourceName: choice.SourceName,
		Components:      generated,
	})
	if err != nil {
		logger.Error("publish failed, cluster stays pending", err, "cluster_id", cluster.ID)
		return ""
	}

	if err := p.clusters.SaveCluster(cluster); err != nil {
		logger.Error("failed to save cluster state", err, "cluster_id", cluster.ID)
	}
	return outcome
}

func (p *Pipeline) logSummary(stats CycleStats) {
	args := []any{
		"duration", stats.Duration.Round(time.Millisecond).String(),
		"entries", stats.Entries,
		"scored", stats.Scored,
		"clusters_touched", stats.ClustersTouched,
		"clusters_seeded", stats.ClustersSeeded,
		"published", stats.Published,
		"updated", stats.Updated,
		"unchanged", stats.Unchanged,
		"deferred", stats.Deferred,
		"clusters_closed", stats.ClustersClosed,
		"budget_exceeded", stats.BudgetExceeded,
	}
	if storeStats, err := p.clusters.GetStats(); err == nil {
		args = append(args,
			"store_processed_urls", storeStats.ProcessedURLs,
			"store_active_clusters", storeStats.ActiveClusters,
			"store_published_events", storeStats.PublishedEvents)
	}
	if p.opts.Net != nil {
		snap := p.opts.Net.Snapshot()
		args = append(args,
			"http_calls", snap.Calls,
			"http_errors", snap.Errors,
			"http_rejected", snap.Rejected,
			"breaker_opens", snap.BreakerOpens,
			"breakers_open", snap.OpenBreakers)
	}
	logger.Info("cycle finished", args...)
}

func maxImportance(cluster *core.EventCluster) int {
	best := 0
	for _, m := range cluster.Members {
		if m.Entry.Importance > best {
			best = m.Entry.Importance
		}
	}
	return best
}

func leadCategory(cluster *core.EventCluster) core.Category {
	lead := cluster.Members[0].Entry
	for _, m := range cluster.Members {
		if m.Entry.Importance > lead.Importance {
			lead = m.Entry
		}
	}
	return lead.Category
}
