package clusterer

import (
	"testing"
	"time"

	"newsdesk/internal/core"
)

func entry(title, url string, published time.Time, importance int) core.ScoredEntry {
	return core.ScoredEntry{
		FeedEntry: core.FeedEntry{
			URL:         url,
			Title:       title,
			PublishedAt: published,
		},
		Importance: importance,
	}
}

// seedCluster runs one entry through Assign to get a cluster with derived
// keywords and entities, the same way production clusters are born.
func seedCluster(t *testing.T, title string, published time.Time) *core.EventCluster {
	t.Helper()
	c := New(24 * time.Hour)
	clusters, _ := c.Assign(nil, []core.ScoredEntry{entry(title, "https://seed.example/"+title[:4], published, 800)})
	if len(clusters) != 1 {
		t.Fatalf("seeding produced %d clusters", len(clusters))
	}
	return clusters[0]
}

func TestCompareStrongOnNearIdenticalTitles(t *testing.T) {
	now := time.Now().UTC()
	cluster := seedCluster(t, "Magnitude 7.8 earthquake strikes southern Turkey", now)

	sig := NewSignature("Magnitude 7.8 earthquake strikes southern Turkey region")
	d := Compare(sig, cluster)
	if d.Rule != RuleStrong {
		t.Errorf("rule = %s (similarity %.3f), want strong", d.Rule, d.TitleSimilarity)
	}
}

func TestCompareEntityRule(t *testing.T) {
	now := time.Now().UTC()
	cluster := seedCluster(t, "President Biden meets Zelensky in Washington to discuss aid", now)

	sig := NewSignature("President Biden talks with Zelensky about Washington aid")
	d := Compare(sig, cluster)
	if d.Rule != RuleEntity {
		t.Errorf("rule = %s (similarity %.3f, entities %d), want entity",
			d.Rule, d.TitleSimilarity, d.EntityOverlap)
	}
	if d.EntityOverlap < 2 {
		t.Errorf("entity overlap = %d, want >= 2", d.EntityOverlap)
	}
}

func TestCompareModerateRule(t *testing.T) {
	now := time.Now().UTC()
	cluster := seedCluster(t, "Striker Haaland scores four goals against Madrid in champions league semifinal", now)

	sig := NewSignature("Haaland scores four goals as champions league semifinal stuns Madrid")
	d := Compare(sig, cluster)
	if d.Rule != RuleModerate {
		t.Errorf("rule = %s (similarity %.3f, keywords %d), want moderate",
			d.Rule, d.TitleSimilarity, d.KeywordOverlap)
	}
}

func TestCompareStrongAtExactThreshold(t *testing.T) {
	now := time.Now().UTC()
	// Cluster tokens {wildfire, forces, evacuation, orders}; the entry
	// shares three of four: 3/4 = 0.75, right on the strong threshold.
	cluster := seedCluster(t, "Wildfire forces evacuation orders", now)

	sig := NewSignature("Wildfire forces evacuation")
	d := Compare(sig, cluster)
	if d.TitleSimilarity != 0.75 {
		t.Fatalf("fixture broken: similarity %.3f, want exactly 0.75", d.TitleSimilarity)
	}
	if d.Rule != RuleStrong {
		t.Errorf("rule = %s, want strong at the threshold", d.Rule)
	}
}

func TestCompareModerateAtExactFloor(t *testing.T) {
	now := time.Now().UTC()
	// 7 shared tokens, 6 unique to the entry, 7 unique to the cluster:
	// 7/(13+14-7) = 7/20 = 0.35, right on the reject floor. Five of the
	// shared tokens pass the significance filter, so the keyword rule
	// fires with an overlap of exactly five.
	cluster := seedCluster(t,
		"Earthquake tsunami evacuation casualties magnitude coastal villages warning sirens shelters fishermen harbour damage boats", now)

	sig := NewSignature("Earthquake tsunami evacuation casualties magnitude coastal villages rescue divers search bridges ports collapse")
	d := Compare(sig, cluster)
	if d.TitleSimilarity != 0.35 {
		t.Fatalf("fixture broken: similarity %.3f, want exactly 0.35", d.TitleSimilarity)
	}
	if d.KeywordOverlap != 5 {
		t.Fatalf("fixture broken: keyword overlap %d, want exactly 5", d.KeywordOverlap)
	}
	if d.Rule != RuleModerate {
		t.Errorf("rule = %s, want moderate at the floor", d.Rule)
	}
}

func TestCompareRejectsJustBelowFloorDespiteKeywords(t *testing.T) {
	now := time.Now().UTC()
	// Same fixture with one extra entry token: 7/21 = 0.333 sits below the
	// floor, so the five-keyword overlap must not be consulted.
	cluster := seedCluster(t,
		"Earthquake tsunami evacuation casualties magnitude coastal villages warning sirens shelters fishermen harbour damage boats", now)

	sig := NewSignature("Earthquake tsunami evacuation casualties magnitude coastal villages rescue divers search bridges ports collapse landslides")
	d := Compare(sig, cluster)
	if d.TitleSimilarity >= 0.35 {
		t.Fatalf("fixture broken: similarity %.3f not below floor", d.TitleSimilarity)
	}
	if d.KeywordOverlap != 5 {
		t.Fatalf("fixture broken: keyword overlap %d, want 5", d.KeywordOverlap)
	}
	if d.Rule != RuleNone {
		t.Errorf("rule = %s, want none below the floor", d.Rule)
	}
}

func TestCompareRejectsBelowFloorDespiteEntities(t *testing.T) {
	now := time.Now().UTC()
	cluster := seedCluster(t, "President Biden meets Zelensky in Washington to discuss aid", now)

	// Shares the Zelensky and Washington entities but the title similarity
	// sits below the floor, so no rule may fire.
	sig := NewSignature("Biden and Zelensky hold talks on security guarantees in Washington")
	d := Compare(sig, cluster)
	if d.TitleSimilarity >= 0.35 {
		t.Fatalf("fixture broken: similarity %.3f not below floor", d.TitleSimilarity)
	}
	if d.Rule != RuleNone {
		t.Errorf("rule = %s, want none below the similarity floor", d.Rule)
	}
}

func TestAssignGroupsEarthquakeCoverage(t *testing.T) {
	now := time.Now().UTC()
	c := New(24 * time.Hour)

	entries := []core.ScoredEntry{
		entry("Magnitude 7.8 earthquake strikes southern Turkey", "https://a.example/quake", now, 900),
		entry("Magnitude 7.8 earthquake strikes Turkey, hundreds dead", "https://b.example/quake", now.Add(20*time.Minute), 950),
	}
	clusters, touched := c.Assign(nil, entries)

	if len(clusters) != 1 {
		t.Fatalf("got %d clusters, want 1", len(clusters))
	}
	if len(clusters[0].Members) != 2 {
		t.Errorf("cluster has %d members, want 2", len(clusters[0].Members))
	}
	if len(touched) != 1 {
		t.Errorf("touched %d clusters, want 1", len(touched))
	}
	// Canonical title follows the higher-scoring member.
	if clusters[0].CanonicalTitle != entries[1].Title {
		t.Errorf("canonical title = %q, want the 950-importance title", clusters[0].CanonicalTitle)
	}
}

func TestAssignKeepsUnrelatedStoriesApart(t *testing.T) {
	now := time.Now().UTC()
	c := New(24 * time.Hour)

	entries := []core.ScoredEntry{
		entry("Apple unveils iPhone 17 with satellite messaging", "https://a.example/iphone", now, 750),
		entry("Tesla recalls 50,000 cars over brake software fault", "https://b.example/tesla", now, 760),
	}
	clusters, _ := c.Assign(nil, entries)
	if len(clusters) != 2 {
		t.Fatalf("got %d clusters, want 2 for unrelated stories", len(clusters))
	}
}

func TestAssignRespectsClusteringWindow(t *testing.T) {
	now := time.Now().UTC()
	c := New(24 * time.Hour)

	cluster := seedCluster(t, "Magnitude 7.8 earthquake strikes southern Turkey", now.Add(-30*time.Hour))
	late := entry("Magnitude 7.8 earthquake strikes southern Turkey", "https://late.example/quake", now, 900)

	clusters, _ := c.Assign([]*core.EventCluster{cluster}, []core.ScoredEntry{late})
	if len(clusters) != 2 {
		t.Fatalf("got %d clusters, want 2: identical title outside the window must seed", len(clusters))
	}
	if len(cluster.Members) != 1 {
		t.Errorf("stale cluster gained a member across the window")
	}
}

func TestAssignSkipsResurfacingURL(t *testing.T) {
	now := time.Now().UTC()
	c := New(24 * time.Hour)

	seed := entry("Magnitude 7.8 earthquake strikes southern Turkey", "https://a.example/quake", now, 900)
	clusters, _ := c.Assign(nil, []core.ScoredEntry{seed})

	again := entry("Magnitude 7.8 earthquake strikes southern Turkey, updated", "https://a.example/quake", now.Add(time.Hour), 910)
	clusters, touched := c.Assign(clusters, []core.ScoredEntry{again})

	if len(clusters) != 1 {
		t.Fatalf("got %d clusters, want 1", len(clusters))
	}
	if len(clusters[0].Members) != 1 {
		t.Errorf("resurfacing URL added a duplicate member")
	}
	if len(touched) != 0 {
		t.Errorf("resurfacing URL touched %d clusters, want 0", len(touched))
	}
}

func TestAssignSkipsClosedClusters(t *testing.T) {
	now := time.Now().UTC()
	c := New(24 * time.Hour)

	cluster := seedCluster(t, "Magnitude 7.8 earthquake strikes southern Turkey", now)
	cluster.State = core.ClusterClosed

	dup := entry("Magnitude 7.8 earthquake strikes southern Turkey", "https://c.example/quake", now.Add(time.Hour), 900)
	clusters, _ := c.Assign([]*core.EventCluster{cluster}, []core.ScoredEntry{dup})
	if len(clusters) != 2 {
		t.Fatalf("got %d clusters, want 2: closed clusters accept no members", len(clusters))
	}
}

func TestSignatureEntities(t *testing.T) {
	sig := NewSignature("Magnitude 7.8 earthquake strikes southern Turkey")
	for _, want := range []string{"magnitude", "7.8 earthquake", "turkey"} {
		if !sig.Entities[want] {
			t.Errorf("missing entity %q in %v", want, sig.Entities)
		}
	}
}

func TestSignatureKeywordsUseSignificanceFilter(t *testing.T) {
	sig := NewSignature("Magnitude 7.8 earthquake strikes southern Turkey")
	if !sig.Keywords["earthquake"] || !sig.Keywords["magnitude"] {
		t.Errorf("significant tokens missing from keywords: %v", sig.Keywords)
	}
	if sig.Keywords["southern"] {
		t.Errorf("non-significant token leaked into keywords when filter matched: %v", sig.Keywords)
	}
}

func TestTitleTokensNormalisation(t *testing.T) {
	tokens := TitleTokens("The Quick, Brown FOX jumps over the lazy dog!")
	if tokens["the"] || tokens["over"] {
		t.Error("stopwords not removed")
	}
	if !tokens["quick"] || !tokens["fox"] || !tokens["dog"] {
		t.Errorf("expected normalised tokens, got %v", tokens)
	}
}
