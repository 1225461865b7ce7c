// Package clusterer implements stage 2: assigning each scored entry to an
// existing event cluster or seeding a new one, using title, keyword and
// entity similarity within a bounded time window.
package clusterer

import (
	"fmt"
	"sort"
	"time"

	"newsdesk/internal/core"
	"newsdesk/internal/logger"

	"github.com/google/uuid"
)

// Match thresholds. The reject floor is critical: without it two unrelated
// articles that share a handful of common words can collide.
const (
	strongSimilarity = 0.75
	floorSimilarity  = 0.35
	moderateKeywords = 5
	entityOverlapMin = 2
)

// Clusterer assigns entries to clusters.
type Clusterer struct {
	window time.Duration
}

// New creates a clusterer with the given clustering window.
func New(window time.Duration) *Clusterer {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &Clusterer{window: window}
}

// Rule names which match rule fired, for traces and tests.
type Rule string

const (
	RuleStrong   Rule = "strong"
	RuleModerate Rule = "moderate"
	RuleEntity   Rule = "entity"
	RuleNone     Rule = "none"
)

// Decision is the outcome of comparing one entry against one cluster.
type Decision struct {
	Rule            Rule
	TitleSimilarity float64
	KeywordOverlap  int
	EntityOverlap   int
}

// Matched reports whether any rule fired.
func (d Decision) Matched() bool {
	return d.Rule != RuleNone
}

// Assign routes each entry into the cluster set, mutating matched clusters
// and appending new ones. It returns the full cluster list and the set of
// cluster IDs touched this batch.
func (c *Clusterer) Assign(clusters []*core.EventCluster, entries []core.ScoredEntry) ([]*core.EventCluster, map[string]bool) {
	touched := make(map[string]bool)

	for _, entry := range entries {
		if containsURL(clusters, entry.URL) {
			// Same canonical URL resurfacing; nothing to add.
			logger.Debug("entry already clustered, skipped", "url", entry.URL)
			continue
		}
		sig := NewSignature(entry.Title)
		best := c.findBest(clusters, entry, sig)

		if best == nil {
			cluster := c.seed(entry, sig)
			clusters = append(clusters, cluster)
			touched[cluster.ID] = true
			logger.Info("cluster seeded",
				"cluster_id", cluster.ID, "title", cluster.CanonicalTitle, "url", entry.URL)
			continue
		}

		c.addMember(best, entry)
		touched[best.ID] = true
	}

	return clusters, touched
}

// findBest evaluates every eligible cluster and returns the best match,
// or nil when no rule fires anywhere.
func (c *Clusterer) findBest(clusters []*core.EventCluster, entry core.ScoredEntry, sig Signature) *core.EventCluster {
	var best *core.EventCluster
	var bestDecision Decision

	for _, cluster := range clusters {
		if cluster.State == core.ClusterClosed {
			continue
		}
		// Window eligibility keeps both the candidate rule and the cluster
		// invariant: the entry must sit within the window of the cluster's
		// last-seen AND of its first-seen.
		if gap(entry.PublishedAt, cluster.LastSeen) > c.window || gap(entry.PublishedAt, cluster.FirstSeen) > c.window {
			continue
		}

		decision := Compare(sig, cluster)
		if !decision.Matched() {
			logger.Debug("cluster candidate rejected",
				"cluster_id", cluster.ID,
				"entry_url", entry.URL,
				"title_similarity", fmt.Sprintf("%.3f", decision.TitleSimilarity),
				"keyword_overlap", decision.KeywordOverlap,
				"entity_overlap", decision.EntityOverlap,
				"reason", rejectReason(decision))
			continue
		}

		logger.Info("cluster candidate matched",
			"cluster_id", cluster.ID,
			"entry_url", entry.URL,
			"rule", string(decision.Rule),
			"title_similarity", fmt.Sprintf("%.3f", decision.TitleSimilarity),
			"keyword_overlap", decision.KeywordOverlap,
			"entity_overlap", decision.EntityOverlap)

		if best == nil ||
			decision.TitleSimilarity > bestDecision.TitleSimilarity ||
			(decision.TitleSimilarity == bestDecision.TitleSimilarity && cluster.LastSeen.After(best.LastSeen)) {
			best = cluster
			bestDecision = decision
		}
	}
	return best
}

// Compare evaluates the match rules, in order, between an entry signature
// and a cluster. The first rule that fires wins; below the floor no
// further rule is evaluated.
func Compare(sig Signature, cluster *core.EventCluster) Decision {
	clusterSig := Signature{
		Tokens:   TitleTokens(cluster.CanonicalTitle),
		Keywords: toSet(cluster.Keywords),
		Entities: toSet(cluster.Entities),
	}

	d := Decision{
		Rule:            RuleNone,
		TitleSimilarity: jaccard(sig.Tokens, clusterSig.Tokens),
		KeywordOverlap:  overlap(sig.Keywords, clusterSig.Keywords),
		EntityOverlap:   overlap(sig.Entities, clusterSig.Entities),
	}

	switch {
	case d.TitleSimilarity >= strongSimilarity:
		d.Rule = RuleStrong
	case d.TitleSimilarity < floorSimilarity:
		// Reject floor: rules 3-4 are not evaluated.
	case d.KeywordOverlap >= moderateKeywords:
		d.Rule = RuleModerate
	case d.EntityOverlap >= entityOverlapMin:
		d.Rule = RuleEntity
	}
	return d
}

func rejectReason(d Decision) string {
	if d.TitleSimilarity < floorSimilarity {
		return "below similarity floor"
	}
	return "no rule fired above floor"
}

// seed creates a new cluster around an entry.
func (c *Clusterer) seed(entry core.ScoredEntry, sig Signature) *core.EventCluster {
	return &core.EventCluster{
		ID:             uuid.NewString(),
		CanonicalTitle: entry.Title,
		Keywords:       setToSorted(sig.Keywords),
		Entities:       setToSorted(sig.Entities),
		FirstSeen:      entry.PublishedAt,
		LastSeen:       entry.PublishedAt,
		State:          core.ClusterPending,
		Members:        []core.ClusterMember{{Entry: entry}},
	}
}

// addMember appends an entry and recomputes the cluster's derived fields:
// keyword and entity sets become the union over all members, the canonical
// title follows the highest-scoring member, and last-seen advances.
func (c *Clusterer) addMember(cluster *core.EventCluster, entry core.ScoredEntry) {
	cluster.Members = append(cluster.Members, core.ClusterMember{Entry: entry})

	keywords := make(map[string]bool)
	entities := make(map[string]bool)
	canonical := cluster.Members[0].Entry
	for _, m := range cluster.Members {
		memberSig := NewSignature(m.Entry.Title)
		for k := range memberSig.Keywords {
			keywords[k] = true
		}
		for e := range memberSig.Entities {
			entities[e] = true
		}
		if m.Entry.Importance > canonical.Importance ||
			(m.Entry.Importance == canonical.Importance && m.Entry.PublishedAt.After(canonical.PublishedAt)) {
			canonical = m.Entry
		}
	}

	cluster.Keywords = setToSorted(keywords)
	cluster.Entities = setToSorted(entities)
	cluster.CanonicalTitle = canonical.Title
	if entry.PublishedAt.After(cluster.LastSeen) {
		cluster.LastSeen = entry.PublishedAt
	}

	logger.Info("cluster member added",
		"cluster_id", cluster.ID,
		"members", len(cluster.Members),
		"canonical_title", cluster.CanonicalTitle,
		"url", entry.URL)
}

// jaccard is the token Jaccard similarity |A∩B| / |A∪B| in [0,1].
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for token := range a {
		if b[token] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func overlap(a, b map[string]bool) int {
	n := 0
	for item := range a {
		if b[item] {
			n++
		}
	}
	return n
}

func containsURL(clusters []*core.EventCluster, url string) bool {
	for _, cluster := range clusters {
		if cluster.HasURL(url) {
			return true
		}
	}
	return false
}

func gap(a, b time.Time) time.Duration {
	if a.After(b) {
		return a.Sub(b)
	}
	return b.Sub(a)
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}

func setToSorted(set map[string]bool) []string {
	items := make([]string, 0, len(set))
	for item := range set {
		items = append(items, item)
	}
	sort.Strings(items)
	return items
}
