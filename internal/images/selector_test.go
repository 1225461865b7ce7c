package images

import (
	"testing"

	"newsdesk/internal/core"
)

func TestScoreImageFullHouse(t *testing.T) {
	// Premium tier, wide 1200px jpeg on a 950-importance story hits every bonus.
	meta := Meta{Width: 1600, Height: 900, Format: "jpeg"}
	score, ok := ScoreImage(meta, core.TierPremium, 950)
	if !ok {
		t.Fatal("candidate disqualified unexpectedly")
	}
	want := 30 + 30 + 20 + 20 + 5
	if score != want {
		t.Errorf("score = %d, want %d", score, want)
	}
}

func TestScoreImageStandardTierMidSize(t *testing.T) {
	meta := Meta{Width: 800, Height: 600, Format: "png"}
	score, ok := ScoreImage(meta, core.TierStandard, 750)
	if !ok {
		t.Fatal("candidate disqualified unexpectedly")
	}
	// 5 tier + 15 width + 10 ratio (4:3) + 0 importance + 0 format.
	if score != 30 {
		t.Errorf("score = %d, want 30", score)
	}
}

func TestScoreImageDisqualifiers(t *testing.T) {
	cases := []struct {
		name string
		meta Meta
	}{
		{"too narrow", Meta{Width: 399, Height: 400, Format: "jpeg"}},
		{"banner shape", Meta{Width: 1600, Height: 400, Format: "jpeg"}},
		{"tall icon shape", Meta{Width: 400, Height: 900, Format: "jpeg"}},
		{"gif", Meta{Width: 1200, Height: 675, Format: "gif"}},
		{"svg", Meta{Width: 1200, Height: 675, Format: "svg"}},
		{"ico", Meta{Width: 1200, Height: 675, Format: "ico"}},
		{"zero height", Meta{Width: 1200, Height: 0, Format: "jpeg"}},
	}
	for _, tc := range cases {
		if _, ok := ScoreImage(tc.meta, core.TierPremium, 1000); ok {
			t.Errorf("%s: expected disqualification", tc.name)
		}
	}
}

func TestScoreImageBelowMinScore(t *testing.T) {
	// Standard tier, small-ish square image on a routine story.
	meta := Meta{Width: 500, Height: 500, Format: "png"}
	score, ok := ScoreImage(meta, core.TierStandard, 700)
	if !ok {
		t.Fatal("candidate disqualified unexpectedly")
	}
	if score >= MinScore {
		t.Errorf("score = %d, expected below MinScore %d", score, MinScore)
	}
}

func TestBlacklisted(t *testing.T) {
	cases := []struct {
		url  string
		want bool
	}{
		{"https://ad.doubleclick.net/pixel.png", true},
		{"https://doubleclick.net/x.jpg", true},
		{"https://images.example.com/photo.jpg", false},
		{"https://notdoubleclick.net.example.com/x.jpg", false},
		{"://bad url", true},
	}
	for _, tc := range cases {
		if got := Blacklisted(tc.url); got != tc.want {
			t.Errorf("Blacklisted(%q) = %v, want %v", tc.url, got, tc.want)
		}
	}
}
