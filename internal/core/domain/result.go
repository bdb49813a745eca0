package domain

import "time"

// ResultSource tags which path produced an analysis result. Degraded-mode
// fallback results must be distinguishable downstream, never a silent swap.
type ResultSource string

const (
	SourceAI       ResultSource = "ai"
	SourceFallback ResultSource = "fallback"
)

// AnalysisResult is the structured outcome of analyzing one entry.
type AnalysisResult struct {
	EntryID        string       `json:"entry_id"`
	SentimentScore float64      `json:"sentiment_score"` // -1.0 .. 1.0
	Confidence     float64      `json:"confidence"`      // 0.0 .. 1.0
	Keywords       []string     `json:"keywords,omitempty"`
	Patterns       []string     `json:"patterns,omitempty"`
	Source         ResultSource `json:"source"`
	FallbackReason string       `json:"fallback_reason,omitempty"`
	AnalyzedAt     time.Time    `json:"analyzed_at"`
}

// Entry is the journal entry view exposed by the entry store boundary.
type Entry struct {
	ID              string `json:"id"`
	OwnerID         string `json:"owner_id"`
	Content         string `json:"content"`
	AnalysisAllowed bool   `json:"analysis_allowed"`
}
