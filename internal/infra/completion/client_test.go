package completion

import (
	"strings"
	"testing"

	"github.com/tcynic/resonant-pipeline/internal/core/domain"
)

func TestParseAnalysis_PlainJSON(t *testing.T) {
	raw := `{"sentiment_score": 0.72, "confidence": 0.9,
		"keywords": ["grateful", "calm"], "patterns": ["morning entries trend positive"]}`

	result, err := parseAnalysis(raw)
	if err != nil {
		t.Fatalf("parseAnalysis: %v", err)
	}
	if result.SentimentScore != 0.72 {
		t.Errorf("score = %v, want 0.72", result.SentimentScore)
	}
	if result.Source != domain.SourceAI {
		t.Errorf("source = %s, want ai", result.Source)
	}
	if len(result.Keywords) != 2 {
		t.Errorf("keywords = %v, want 2 entries", result.Keywords)
	}
}

func TestParseAnalysis_CodeFenced(t *testing.T) {
	raw := "```json\n{\"sentiment_score\": -0.4, \"confidence\": 0.5, \"keywords\": [], \"patterns\": []}\n```"

	result, err := parseAnalysis(raw)
	if err != nil {
		t.Fatalf("parseAnalysis: %v", err)
	}
	if result.SentimentScore != -0.4 {
		t.Errorf("score = %v, want -0.4", result.SentimentScore)
	}
}

func TestParseAnalysis_Rejections(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", "the sentiment is positive"},
		{"score out of range", `{"sentiment_score": 2.5, "confidence": 0.5}`},
		{"confidence out of range", `{"sentiment_score": 0.1, "confidence": 1.4}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseAnalysis(tc.raw); err == nil {
				t.Error("expected parse error")
			}
		})
	}
}

func TestParseAnalysis_TrimsKeywordAndPatternLists(t *testing.T) {
	var keywords []string
	for _, w := range strings.Fields("a b c d e f g h i j k l m") {
		keywords = append(keywords, `"`+w+`"`)
	}
	raw := `{"sentiment_score": 0, "confidence": 0.3,
		"keywords": [` + strings.Join(keywords, ",") + `],
		"patterns": ["p1","p2","p3","p4","p5","p6","p7"]}`

	result, err := parseAnalysis(raw)
	if err != nil {
		t.Fatalf("parseAnalysis: %v", err)
	}
	if len(result.Keywords) != 10 {
		t.Errorf("keywords = %d, want capped at 10", len(result.Keywords))
	}
	if len(result.Patterns) != 5 {
		t.Errorf("patterns = %d, want capped at 5", len(result.Patterns))
	}
}

func TestDedupe_NormalizesAndSorts(t *testing.T) {
	got := dedupe([]string{"Calm", "calm", "  grateful ", "", "anxious"}, 10)
	want := []string{"anxious", "calm", "grateful"}
	if len(got) != len(want) {
		t.Fatalf("dedupe = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("dedupe[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
