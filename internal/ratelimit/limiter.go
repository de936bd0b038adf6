// Package ratelimit bounds per-conversation message throughput over
// minute, hour and day windows. A zero threshold disables its window.
package ratelimit

import (
	"log/slog"
	"sync"
	"time"
)

const (
	// maxTrackedConversations caps the tracked key set so rotating
	// conversation ids cannot exhaust memory.
	maxTrackedConversations = 8192

	WindowMinute = "minute"
	WindowHour   = "hour"
	WindowDay    = "day"
)

// Config holds the window thresholds. Zero disables a window.
type Config struct {
	Enabled      bool
	MaxPerMinute int
	MaxPerHour   int
	MaxPerDay    int
}

// Result is the outcome of one check. RetryAfter is how long until the
// violated window frees a slot.
type Result struct {
	Allowed        bool
	ViolatedWindow string
	RetryAfter     time.Duration
}

// Limiter tracks message timestamps per conversation over a sliding 24h
// horizon. Safe for concurrent use. An optional journal persists events so
// day windows survive restarts.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	events  map[string][]time.Time
	journal *Journal
	now     func() time.Time
}

// New creates a limiter. journal may be nil.
func New(cfg Config, journal *Journal) *Limiter {
	l := &Limiter{
		cfg:     cfg,
		events:  make(map[string][]time.Time),
		journal: journal,
		now:     time.Now,
	}
	if journal != nil {
		recovered, err := journal.LoadRecent(24 * time.Hour)
		if err != nil {
			slog.Warn("ratelimit.journal.load_failed", "error", err)
		} else {
			l.events = recovered
		}
	}
	return l
}

// CheckAndRecord checks all enabled windows and, when allowed, records the
// message. Called by the manager before supervisor dispatch.
func (l *Limiter) CheckAndRecord(conversationID string) Result {
	if !l.cfg.Enabled {
		return Result{Allowed: true}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(conversationID, now)

	windows := []struct {
		name string
		span time.Duration
		max  int
	}{
		{WindowMinute, time.Minute, l.cfg.MaxPerMinute},
		{WindowHour, time.Hour, l.cfg.MaxPerHour},
		{WindowDay, 24 * time.Hour, l.cfg.MaxPerDay},
	}

	events := l.events[conversationID]
	for _, w := range windows {
		if w.max <= 0 {
			continue
		}
		cutoff := now.Add(-w.span)
		count := 0
		oldest := time.Time{}
		for _, ts := range events {
			if ts.After(cutoff) {
				count++
				if oldest.IsZero() || ts.Before(oldest) {
					oldest = ts
				}
			}
		}
		if count >= w.max {
			return Result{
				Allowed:        false,
				ViolatedWindow: w.name,
				RetryAfter:     oldest.Add(w.span).Sub(now),
			}
		}
	}

	l.evictIfNeeded(now)
	l.events[conversationID] = append(events, now)
	if l.journal != nil {
		if err := l.journal.Record(conversationID, now); err != nil {
			slog.Warn("ratelimit.journal.record_failed", "error", err)
		}
	}
	return Result{Allowed: true}
}

// Forget drops a conversation's history (used at teardown).
func (l *Limiter) Forget(conversationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.events, conversationID)
}

// prune drops events older than the day horizon. Caller holds the lock.
func (l *Limiter) prune(conversationID string, now time.Time) {
	cutoff := now.Add(-24 * time.Hour)
	events := l.events[conversationID]
	kept := events[:0]
	for _, ts := range events {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) == 0 {
		delete(l.events, conversationID)
	} else {
		l.events[conversationID] = kept
	}
}

// evictIfNeeded bounds the tracked key set. Caller holds the lock.
func (l *Limiter) evictIfNeeded(now time.Time) {
	if len(l.events) < maxTrackedConversations {
		return
	}
	cutoff := now.Add(-24 * time.Hour)
	for id, events := range l.events {
		if len(events) == 0 || !events[len(events)-1].After(cutoff) {
			delete(l.events, id)
		}
	}
	for len(l.events) >= maxTrackedConversations {
		for id := range l.events {
			delete(l.events, id)
			break
		}
	}
}
