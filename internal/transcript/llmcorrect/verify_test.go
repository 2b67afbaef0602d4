package llmcorrect

import (
	"strings"
	"testing"
)

func TestVerifyCorrectedText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		original        string
		corrected       string
		corrections     []Correction
		wantText        string
		wantCorrections int
	}{
		{
			name:            "identical text",
			original:        "chat is quiet today",
			corrected:       "chat is quiet today",
			corrections:     nil,
			wantText:        "chat is quiet today",
			wantCorrections: 0,
		},
		{
			name:      "single declared substitution",
			original:  "moksari waves",
			corrected: "Moksori waves",
			corrections: []Correction{
				{Original: "moksari", Corrected: "Moksori", Confidence: 0.9},
			},
			wantText:        "Moksori waves",
			wantCorrections: 1,
		},
		{
			name:      "two words collapsed into one term",
			original:  "milk sorry starts the raid",
			corrected: "Moksori starts the raid",
			corrections: []Correction{
				{Original: "milk sorry", Corrected: "Moksori", Confidence: 0.9},
			},
			wantText:        "Moksori starts the raid",
			wantCorrections: 1,
		},
		{
			name:            "undeclared edit reverted",
			original:        "the chat spams hearts",
			corrected:       "the chat spams emotes",
			corrections:     nil,
			wantText:        "the chat spams hearts",
			wantCorrections: 0,
		},
		{
			name:      "declared kept while undeclared reverted",
			original:  "moksari loves the cozy stream",
			corrected: "Moksori loves the comfy stream",
			corrections: []Correction{
				{Original: "moksari", Corrected: "Moksori", Confidence: 0.9},
			},
			wantText:        "Moksori loves the cozy stream",
			wantCorrections: 1,
		},
		{
			name:            "empty declarations revert everything",
			original:        "raid the misty dungeon now",
			corrected:       "raid the foggy cavern now",
			corrections:     []Correction{},
			wantText:        "raid the misty dungeon now",
			wantCorrections: 0,
		},
		{
			name:      "trailing punctuation on the changed token",
			original:  "playing mist valley onlyne.",
			corrected: "playing mist valley online.",
			corrections: []Correction{
				{Original: "onlyne", Corrected: "online", Confidence: 0.85},
			},
			wantText:        "playing mist valley online.",
			wantCorrections: 1,
		},
		{
			name:      "several declared substitutions",
			original:  "moksari raids mist valley onlyne.",
			corrected: "Moksori raids mist valley online.",
			corrections: []Correction{
				{Original: "moksari", Corrected: "Moksori", Confidence: 0.9},
				{Original: "onlyne", Corrected: "online", Confidence: 0.85},
			},
			wantText:        "Moksori raids mist valley online.",
			wantCorrections: 2,
		},
		{
			name:      "declaration lookup ignores case",
			original:  "MOKSARI waves",
			corrected: "Moksori waves",
			corrections: []Correction{
				{Original: "moksari", Corrected: "Moksori", Confidence: 0.9},
			},
			wantText:        "Moksori waves",
			wantCorrections: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			gotText, gotCorr := verifyCorrectedText(tt.original, tt.corrected, tt.corrections)
			if gotText != tt.wantText {
				t.Errorf("text = %q, want %q", gotText, tt.wantText)
			}
			if len(gotCorr) != tt.wantCorrections {
				t.Errorf("corrections = %d, want %d", len(gotCorr), tt.wantCorrections)
			}
		})
	}
}

func TestLCSAnchors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		a, b    []string
		wantLen int
	}{
		{"both empty", nil, nil, 0},
		{"a empty", nil, strings.Fields("hello chat"), 0},
		{"b empty", strings.Fields("hello chat"), nil, 0},
		{"identical", strings.Fields("a b c"), strings.Fields("a b c"), 3},
		{"nothing shared", strings.Fields("a b"), strings.Fields("c d"), 0},
		{"one substitution", strings.Fields("a b c d"), strings.Fields("a x c d"), 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			anchors := lcsAnchors(tt.a, tt.b)
			if len(anchors) != tt.wantLen {
				t.Errorf("anchor count = %d, want %d", len(anchors), tt.wantLen)
			}
		})
	}
}

func TestDiffSpans(t *testing.T) {
	t.Parallel()

	orig := strings.Fields("a X c Y e")
	corr := strings.Fields("a B c D e")
	spans := diffSpans(orig, corr, lcsAnchors(orig, corr))

	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	if got := strings.Join(spans[0].orig, " "); got != "X" {
		t.Errorf("spans[0].orig = %q, want %q", got, "X")
	}
	if got := strings.Join(spans[0].corr, " "); got != "B" {
		t.Errorf("spans[0].corr = %q, want %q", got, "B")
	}
	if got := strings.Join(spans[1].orig, " "); got != "Y" {
		t.Errorf("spans[1].orig = %q, want %q", got, "Y")
	}
	if got := strings.Join(spans[1].corr, " "); got != "D" {
		t.Errorf("spans[1].corr = %q, want %q", got, "D")
	}
}
