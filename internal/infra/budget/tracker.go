// Package budget tracks per-owner analysis quota.
//
// This package contains:
//   - Tracker: interface for quota management
//   - DefaultTracker: implementation with per-owner daily and hourly tracking
package budget

import (
	"sync"
	"time"
)

// UsageStats holds quota usage for one owner.
type UsageStats struct {
	TotalCalls      int
	CallsThisHour   int
	DailyLimit      int
	RemainingCalls  int
	UsagePercentage float64
	NextResetAt     time.Time
}

// Config holds budget configuration.
type Config struct {
	DailyQuota  int `yaml:"daily_quota"`
	HourlyBurst int `yaml:"hourly_burst"`
}

// Tracker manages per-owner analysis quota.
type Tracker interface {
	RecordCall(ownerID string)
	GetUsage(ownerID string) UsageStats
	CanAnalyze(ownerID string) bool
	ThrottleDelay(ownerID string) time.Duration
	Reset()
}

type ownerBudget struct {
	totalCalls    int
	callsThisHour int
	hourStartTime time.Time
}

// DefaultTracker implements Tracker with per-owner daily and hourly windows.
type DefaultTracker struct {
	mu          sync.RWMutex
	usage       map[string]*ownerBudget
	dailyLimit  int
	hourlyBurst int
	resetTime   time.Time
	now         func() time.Time
}

// NewTracker creates a budget tracker. Zero limits disable the corresponding
// check.
func NewTracker(cfg Config) *DefaultTracker {
	t := &DefaultTracker{
		usage:       make(map[string]*ownerBudget),
		dailyLimit:  cfg.DailyQuota,
		hourlyBurst: cfg.HourlyBurst,
		now:         time.Now,
	}
	t.resetTime = nextMidnight(t.now())
	return t
}

func nextMidnight(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
}

// RecordCall records one analysis attempt against an owner's quota.
func (t *DefaultTracker) RecordCall(ownerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if now.After(t.resetTime) {
		t.resetLocked(now)
	}

	b, ok := t.usage[ownerID]
	if !ok {
		b = &ownerBudget{hourStartTime: now}
		t.usage[ownerID] = b
	}
	if now.Sub(b.hourStartTime) >= time.Hour {
		b.callsThisHour = 0
		b.hourStartTime = now
	}

	b.totalCalls++
	b.callsThisHour++
}

// GetUsage returns usage statistics for an owner.
func (t *DefaultTracker) GetUsage(ownerID string) UsageStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.usageLocked(ownerID)
}

func (t *DefaultTracker) usageLocked(ownerID string) UsageStats {
	stats := UsageStats{
		DailyLimit:     t.dailyLimit,
		RemainingCalls: t.dailyLimit,
		NextResetAt:    t.resetTime,
	}

	b, ok := t.usage[ownerID]
	if !ok {
		return stats
	}

	stats.TotalCalls = b.totalCalls
	stats.CallsThisHour = b.callsThisHour
	stats.RemainingCalls = t.dailyLimit - b.totalCalls
	if stats.RemainingCalls < 0 {
		stats.RemainingCalls = 0
	}
	if t.dailyLimit > 0 {
		stats.UsagePercentage = float64(b.totalCalls) / float64(t.dailyLimit) * 100
	}
	return stats
}

// CanAnalyze reports whether an owner has quota remaining in both windows.
func (t *DefaultTracker) CanAnalyze(ownerID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	b, ok := t.usage[ownerID]
	if !ok {
		return true
	}
	if t.dailyLimit > 0 && b.totalCalls >= t.dailyLimit {
		return false
	}
	if t.hourlyBurst > 0 && t.now().Sub(b.hourStartTime) < time.Hour && b.callsThisHour >= t.hourlyBurst {
		return false
	}
	return true
}

// ThrottleDelay returns how long an owner should wait before the next call.
func (t *DefaultTracker) ThrottleDelay(ownerID string) time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := t.usageLocked(ownerID)
	switch {
	case stats.UsagePercentage < 50:
		return 0
	case stats.UsagePercentage < 70:
		return 1 * time.Second
	case stats.UsagePercentage < 90:
		return 3 * time.Second
	case stats.UsagePercentage < 100:
		return 10 * time.Second
	default:
		return time.Until(t.resetTime)
	}
}

// Reset clears all usage counters.
func (t *DefaultTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked(t.now())
}

func (t *DefaultTracker) resetLocked(now time.Time) {
	t.usage = make(map[string]*ownerBudget)
	t.resetTime = nextMidnight(now)
}
