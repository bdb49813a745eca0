// Package completion calls the external language model that performs the
// actual sentiment analysis. Errors are returned raw so the classifier can
// pattern-match on provider messages.
package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tcynic/resonant-pipeline/internal/core/domain"
	"github.com/tcynic/resonant-pipeline/internal/pipeline/metrics"
)

// Service is the analysis boundary the orchestrator calls.
type Service interface {
	Analyze(ctx context.Context, content string) (*domain.AnalysisResult, error)
}

const systemPrompt = `You are a sentiment analysis engine for journal entries.
Respond with a single JSON object and nothing else:
{"sentiment_score": <float -1.0..1.0>, "confidence": <float 0.0..1.0>,
"keywords": [<up to 10 strings>], "patterns": [<up to 5 short observations>]}`

// Config tunes the completion client.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	CallTimeout time.Duration
	Temperature float32
}

// Client implements Service against an OpenAI-compatible endpoint.
type Client struct {
	api     *openai.Client
	model   string
	timeout time.Duration
	temp    float32
	log     *slog.Logger
}

// NewClient creates a completion client.
func NewClient(cfg Config) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		api:     openai.NewClientWithConfig(apiCfg),
		model:   model,
		timeout: timeout,
		temp:    cfg.Temperature,
		log:     slog.Default().With("component", "completion"),
	}
}

type analysisPayload struct {
	SentimentScore float64  `json:"sentiment_score"`
	Confidence     float64  `json:"confidence"`
	Keywords       []string `json:"keywords"`
	Patterns       []string `json:"patterns"`
}

// Analyze runs one sentiment analysis call. The per-call timeout bounds the
// provider; the caller's context still cancels early.
func (c *Client) Analyze(ctx context.Context, content string) (*domain.AnalysisResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temp,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: content},
		},
	})
	elapsed := time.Since(start)
	metrics.CompletionLatency.Observe(elapsed.Seconds())

	if err != nil {
		metrics.CompletionCalls.WithLabelValues("error").Inc()
		return nil, err
	}
	if len(resp.Choices) == 0 {
		metrics.CompletionCalls.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("completion service returned no choices")
	}

	result, err := parseAnalysis(resp.Choices[0].Message.Content)
	if err != nil {
		metrics.CompletionCalls.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("malformed analysis response: %w", err)
	}

	metrics.CompletionCalls.WithLabelValues("success").Inc()
	c.log.Debug("analysis completed", "model", c.model, "latency", elapsed)
	return result, nil
}

// parseAnalysis decodes the model's JSON reply, tolerating code fences some
// models wrap around JSON output.
func parseAnalysis(raw string) (*domain.AnalysisResult, error) {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var payload analysisPayload
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return nil, err
	}
	if payload.SentimentScore < -1 || payload.SentimentScore > 1 {
		return nil, fmt.Errorf("sentiment score %.3f out of range", payload.SentimentScore)
	}
	if payload.Confidence < 0 || payload.Confidence > 1 {
		return nil, fmt.Errorf("confidence %.3f out of range", payload.Confidence)
	}

	keywords := dedupe(payload.Keywords, 10)
	patterns := payload.Patterns
	if len(patterns) > 5 {
		patterns = patterns[:5]
	}

	return &domain.AnalysisResult{
		SentimentScore: payload.SentimentScore,
		Confidence:     payload.Confidence,
		Keywords:       keywords,
		Patterns:       patterns,
		Source:         domain.SourceAI,
		AnalyzedAt:     time.Now().UTC(),
	}, nil
}

func dedupe(in []string, max int) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	if len(out) > max {
		out = out[:max]
	}
	return out
}
