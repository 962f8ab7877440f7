package outline

import "testing"

func TestNumberingLevel(t *testing.T) {
	tests := []struct {
		text     string
		expected Level
	}{
		{"1.2.3 Scope", LevelH3},
		{"1.2 Scope", LevelH2},
		{"1. Scope", LevelH1},
		{"  12. Appendix  ", LevelH1},
		{"4.1", LevelH2},
		{"2.", LevelH1},
		{"3.1.4", LevelH3},
		{"1 Scope", LevelNone},
		{"1.2.3.4 Deep", LevelNone},
		{"10.1. Intro", LevelNone},
		{"Scope 1.2", LevelNone},
		{"", LevelNone},
	}

	for _, tt := range tests {
		if got := NumberingLevel(tt.text); got != tt.expected {
			t.Errorf("NumberingLevel(%q) = %q, want %q", tt.text, got, tt.expected)
		}
	}
}

func TestXBucket(t *testing.T) {
	tests := []struct {
		x0       float64
		expected float64
	}{
		{72.0, 72},
		{72.9, 72},
		{73.1, 74},
		{5.0, 4},
		{7.0, 8},
		{0, 0},
	}

	for _, tt := range tests {
		if got := xBucket(tt.x0, 2); got != tt.expected {
			t.Errorf("xBucket(%v, 2) = %v, want %v", tt.x0, got, tt.expected)
		}
	}
}

func TestMergeBlocks(t *testing.T) {
	cfg := NewConfig(ThresholdPipeline)
	lines := []Line{
		line(0, "Annual", 20, 72.0),
		line(0, "Report", 20, 72.9),
		line(0, "Fiscal Year Summary", 12, 72.0),
		line(0, "Prepared for the Board", 12, 300),
	}

	blocks := mergeBlocks(cfg, lines, []int{0, 1, 2, 3})
	if len(blocks) != 3 {
		t.Fatalf("mergeBlocks returned %d blocks, want 3", len(blocks))
	}
	if blocks[0].text != "Annual Report" || len(blocks[0].members) != 2 {
		t.Errorf("first block = %q with %d members, want %q with 2", blocks[0].text, len(blocks[0].members), "Annual Report")
	}
	if blocks[2].text != "Prepared for the Board" {
		t.Errorf("third block = %q, want %q", blocks[2].text, "Prepared for the Board")
	}
}

func TestIsTagline(t *testing.T) {
	cfg := NewConfig(ThresholdPipeline)
	tests := []struct {
		text     string
		expected bool
	}{
		{"GLOBAL LEADERS IN SAFE ENERGY", true},
		{"ISO 9001 - CERTIFIED QUALITY SYSTEMS", true},
		{"ANNUAL REPORT 2024", false},
		{"Global Leaders In Safe Energy", false},
	}

	for _, tt := range tests {
		if got := isTagline(cfg, tt.text); got != tt.expected {
			t.Errorf("isTagline(%q) = %v, want %v", tt.text, got, tt.expected)
		}
	}
}
