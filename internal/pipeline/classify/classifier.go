// Package classify maps raw completion-service failures to a closed set of
// error categories. Classification happens once at the boundary where the raw
// error is received; everything downstream switches on the category tag and
// never re-inspects error text.
package classify

import (
	"strings"
	"time"
)

// Category is the closed error taxonomy.
type Category string

const (
	CategoryNetwork      Category = "network"
	CategoryTimeout      Category = "timeout"
	CategoryRateLimit    Category = "rate_limit"
	CategoryServiceError Category = "service_error"
	CategoryValidation   Category = "validation"
	CategoryClientError  Category = "client_error"
)

// Classification carries the category plus every flag and retry parameter
// derived from it.
type Classification struct {
	Category         Category
	Retryable        bool
	TripsBreaker     bool
	FallbackEligible bool
	MaxRetries       int
	BaseDelay        time.Duration
	BackoffMultiple  float64
	MaxDelay         time.Duration
}

// Per-category retry profiles. Rate limits back off harder and longer than
// plain network errors; validation and client errors never retry.
var profiles = map[Category]Classification{
	CategoryNetwork: {
		Category: CategoryNetwork, Retryable: true, TripsBreaker: true, FallbackEligible: true,
		MaxRetries: 5, BaseDelay: 1 * time.Second, BackoffMultiple: 2.0, MaxDelay: 30 * time.Second,
	},
	CategoryTimeout: {
		Category: CategoryTimeout, Retryable: true, TripsBreaker: true, FallbackEligible: true,
		MaxRetries: 4, BaseDelay: 2 * time.Second, BackoffMultiple: 2.0, MaxDelay: 60 * time.Second,
	},
	CategoryRateLimit: {
		Category: CategoryRateLimit, Retryable: true, TripsBreaker: true, FallbackEligible: true,
		MaxRetries: 6, BaseDelay: 5 * time.Second, BackoffMultiple: 3.0, MaxDelay: 5 * time.Minute,
	},
	CategoryServiceError: {
		Category: CategoryServiceError, Retryable: true, TripsBreaker: true, FallbackEligible: true,
		MaxRetries: 4, BaseDelay: 2 * time.Second, BackoffMultiple: 2.0, MaxDelay: 60 * time.Second,
	},
	CategoryValidation: {
		Category: CategoryValidation, Retryable: false, TripsBreaker: false, FallbackEligible: false,
		MaxRetries: 0,
	},
	CategoryClientError: {
		Category: CategoryClientError, Retryable: false, TripsBreaker: false, FallbackEligible: false,
		MaxRetries: 0,
	},
}

// Pattern tables checked in priority order. Rate limiting is matched before
// generic client errors so a 429 never classifies as client_error.
var (
	rateLimitPatterns = []string{
		"429", "rate limit", "too many requests", "quota", "requests per minute",
		"tokens per minute", "overloaded", "capacity",
	}
	timeoutPatterns = []string{
		"timeout", "timed out", "deadline exceeded", "context deadline",
	}
	networkPatterns = []string{
		"connection refused", "connection reset", "no such host", "dns",
		"network", "broken pipe", "eof", "tls handshake",
	}
	validationPatterns = []string{
		"validation", "invalid request", "invalid input", "malformed",
		"content policy", "content_filter", "maximum context length",
	}
	clientErrorPatterns = []string{
		"400", "401", "403", "404", "unauthorized", "forbidden",
		"invalid api key", "incorrect api key", "not found",
	}
	serviceErrorPatterns = []string{
		"500", "502", "503", "504", "internal server error", "bad gateway",
		"service unavailable", "server error", "upstream",
	}
)

// Classify maps an error to its category profile.
func Classify(err error) Classification {
	if err == nil {
		return profiles[CategoryServiceError]
	}
	return ClassifyMessage(err.Error())
}

// ClassifyMessage classifies a raw failure message. Unknown failures default
// to service_error: retryable with a bounded ceiling, so a new failure mode
// degrades to retries rather than silent data loss.
func ClassifyMessage(msg string) Classification {
	lower := strings.ToLower(msg)

	switch {
	case matchAny(lower, rateLimitPatterns):
		return profiles[CategoryRateLimit]
	case matchAny(lower, timeoutPatterns):
		return profiles[CategoryTimeout]
	case matchAny(lower, validationPatterns):
		return profiles[CategoryValidation]
	case matchAny(lower, clientErrorPatterns):
		return profiles[CategoryClientError]
	case matchAny(lower, networkPatterns):
		return profiles[CategoryNetwork]
	case matchAny(lower, serviceErrorPatterns):
		return profiles[CategoryServiceError]
	default:
		return profiles[CategoryServiceError]
	}
}

// Profile returns the retry profile for a category.
func Profile(c Category) Classification {
	if p, ok := profiles[c]; ok {
		return p
	}
	return profiles[CategoryServiceError]
}

func matchAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
