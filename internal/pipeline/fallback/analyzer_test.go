package fallback

import (
	"testing"

	"github.com/tcynic/resonant-pipeline/internal/core/domain"
)

func TestAnalyze_PositiveText(t *testing.T) {
	a := NewAnalyzer()

	r := a.Analyze("e1", "We had a wonderful evening and I felt so grateful and happy.", "breaker open")
	if r.SentimentScore <= 0 {
		t.Errorf("expected positive score, got %v", r.SentimentScore)
	}
	if r.Source != domain.SourceFallback {
		t.Errorf("result must be tagged fallback, got %s", r.Source)
	}
	if r.FallbackReason != "breaker open" {
		t.Errorf("fallback reason not carried: %q", r.FallbackReason)
	}
}

func TestAnalyze_NegativeText(t *testing.T) {
	a := NewAnalyzer()

	r := a.Analyze("e1", "I was angry and hurt after the argument, we both cried.", "retries exhausted")
	if r.SentimentScore >= 0 {
		t.Errorf("expected negative score, got %v", r.SentimentScore)
	}
	if len(r.Keywords) == 0 {
		t.Error("expected matched keywords")
	}
}

func TestAnalyze_NegationFlipsScore(t *testing.T) {
	a := NewAnalyzer()

	base := a.Analyze("e1", "today was bad", "x")
	flipped := a.Analyze("e1", "today was not bad", "x")

	if base.SentimentScore >= 0 {
		t.Fatalf("baseline should be negative, got %v", base.SentimentScore)
	}
	// Documented crude behavior: one negation token flips around neutral.
	if flipped.SentimentScore != -base.SentimentScore {
		t.Errorf("negation should mirror the score: %v vs %v", flipped.SentimentScore, base.SentimentScore)
	}
}

func TestAnalyze_IntensifierScalesMagnitude(t *testing.T) {
	a := NewAnalyzer()

	plain := a.Analyze("e1", "I felt slightly happy", "x")
	intense := a.Analyze("e1", "I felt extremely happy", "x")

	if intense.SentimentScore <= plain.SentimentScore {
		t.Errorf("intensifier should raise magnitude: %v vs %v",
			intense.SentimentScore, plain.SentimentScore)
	}
	if intense.SentimentScore > 1 {
		t.Errorf("score must clamp to 1, got %v", intense.SentimentScore)
	}
}

func TestAnalyze_NeutralTextLowConfidence(t *testing.T) {
	a := NewAnalyzer()

	r := a.Analyze("e1", "We went to the store and bought groceries.", "x")
	if r.SentimentScore != 0 {
		t.Errorf("no lexicon hits should score 0, got %v", r.SentimentScore)
	}
	if r.Confidence > 0.2 {
		t.Errorf("neutral text should have minimal confidence, got %v", r.Confidence)
	}
}

func TestAnalyze_Deterministic(t *testing.T) {
	a := NewAnalyzer()
	text := "so happy but also a little worried about the fight"

	first := a.Analyze("e1", text, "x")
	second := a.Analyze("e1", text, "x")

	if first.SentimentScore != second.SentimentScore || first.Confidence != second.Confidence {
		t.Error("fallback scoring must be deterministic")
	}
}

func TestAnalyze_ConfidenceCapped(t *testing.T) {
	a := NewAnalyzer()

	r := a.Analyze("e1",
		"happy joyful loving great wonderful amazing excellent grateful excited proud", "x")
	if r.Confidence > maxConfidence {
		t.Errorf("confidence %v exceeds fallback ceiling %v", r.Confidence, maxConfidence)
	}
}
