// Package fallback produces a rule-based approximation of the AI analysis
// when the completion service is unavailable. Results are tagged with
// Source=fallback so consumers can always tell the degraded path apart.
package fallback

import (
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/tcynic/resonant-pipeline/internal/core/domain"
)

// Confidence ceiling for rule-derived results. The AI path reports its own
// confidence; the fallback never claims more than this.
const maxConfidence = 0.6

// Analyzer scores entry text with the polarity lexicon.
type Analyzer struct{}

// NewAnalyzer creates a fallback analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Analyze produces a deterministic rule-based result for the entry content.
// reason records what triggered the degraded path (breaker open, retries
// exhausted) and is carried on the result.
func (a *Analyzer) Analyze(entryID, content, reason string) *domain.AnalysisResult {
	tokens := tokenize(content)

	var (
		score     float64
		hits      int
		negated   bool
		intensity = 1.0
		keywords  []string
	)

	for _, tok := range tokens {
		if _, ok := negationWords[tok]; ok {
			negated = true
			continue
		}
		if mult, ok := intensifierWords[tok]; ok {
			intensity *= mult
			continue
		}

		var polarity float64
		if _, ok := positiveWords[tok]; ok {
			polarity = 1
		} else if _, ok := negativeWords[tok]; ok {
			polarity = -1
		} else {
			continue
		}

		score += polarity * intensity
		hits++
		keywords = append(keywords, tok)
		intensity = 1.0
	}

	if hits > 0 {
		score /= float64(hits)
	}

	// Any negation token flips the aggregate score around neutral, regardless
	// of position or scope. Known crude approximation ("not bad at all" flips
	// to positive by luck, "not bad, just sad" over-flips) kept for
	// compatibility with the original scoring; not a correctness guarantee.
	if negated {
		score = -score
	}

	score = clamp(score, -1, 1)

	// Confidence grows with lexical evidence, capped well below the AI path.
	confidence := 0.2 + 0.1*float64(hits)
	if confidence > maxConfidence {
		confidence = maxConfidence
	}
	if hits == 0 {
		confidence = 0.1
	}

	return &domain.AnalysisResult{
		EntryID:        entryID,
		SentimentScore: score,
		Confidence:     confidence,
		Keywords:       dedupe(keywords),
		Source:         domain.SourceFallback,
		FallbackReason: reason,
		AnalyzedAt:     time.Now().UTC(),
	}
}

func tokenize(content string) []string {
	return strings.FieldsFunc(strings.ToLower(content), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})
}

func dedupe(words []string) []string {
	if len(words) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
