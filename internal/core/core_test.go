package core

import (
	"reflect"
	"testing"
)

func TestValidCategory(t *testing.T) {
	if !ValidCategory(CategoryWorld) {
		t.Error("world should be valid")
	}
	if ValidCategory(Category("gossip")) {
		t.Error("gossip should be invalid")
	}
}

func TestClusterMemberTextFallback(t *testing.T) {
	m := ClusterMember{Entry: ScoredEntry{FeedEntry: FeedEntry{Summary: "summary text"}}}
	if m.Text() != "summary text" {
		t.Errorf("expected summary fallback, got %q", m.Text())
	}
	m.Body = "full body"
	if m.Text() != "full body" {
		t.Errorf("expected fetched body, got %q", m.Text())
	}
}

func TestClusterHasURL(t *testing.T) {
	cluster := &EventCluster{Members: []ClusterMember{
		{Entry: ScoredEntry{FeedEntry: FeedEntry{URL: "https://example.com/a"}}},
	}}
	if !cluster.HasURL("https://example.com/a") {
		t.Error("expected HasURL true for member URL")
	}
	if cluster.HasURL("https://example.com/b") {
		t.Error("expected HasURL false for unknown URL")
	}
}

func TestComponentFields(t *testing.T) {
	event := &PublishedEvent{
		Timeline: []TimelineEntry{{Date: "2026-02-06", Event: "quake strikes"}},
		Graph:    &GraphSpec{ChartType: "line"},
	}
	got := event.ComponentFields()
	want := []ComponentKind{ComponentTimeline, ComponentGraph}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ComponentFields = %v, want %v", got, want)
	}
}
