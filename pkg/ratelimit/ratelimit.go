// Package ratelimit enforces per-caller fixed-window quotas. Two windows
// (minute and day) are tracked independently; both must pass for a call to
// be allowed. A denied call is rejected before any provider cost is
// incurred and consumes no quota from either window.
package ratelimit

import (
	"fmt"
	"time"

	"github.com/CairnAI/cairn-engine/engine/domain"
)

// WindowKind names a quota window.
type WindowKind string

const (
	WindowMinute WindowKind = "minute"
	WindowDay    WindowKind = "day"
)

func (k WindowKind) duration() time.Duration {
	if k == WindowDay {
		return 24 * time.Hour
	}
	return time.Minute
}

// Limits holds the per-window quotas. Zero means unlimited for that window.
type Limits struct {
	PerMinute int
	PerDay    int
}

// Decision is the outcome of one quota check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// CounterStore is the injected counter capability. Incr must atomically
// reset the counter when windowStart moved past the stored window, then
// increment, returning the new count. Decr refunds one unit from the same
// window; refunding an empty or rolled-over window is a no-op.
// Implementations must be safe under concurrent callers.
type CounterStore interface {
	Incr(key string, windowStart time.Time) (int, error)
	Decr(key string, windowStart time.Time) error
}

// Limiter gates calls per caller against fixed minute and day windows.
type Limiter struct {
	store  CounterStore
	limits Limits
	now    func() time.Time
}

// New creates a Limiter over the given store.
func New(store CounterStore, limits Limits) *Limiter {
	return &Limiter{store: store, limits: limits, now: time.Now}
}

// Check consumes one unit from both windows for callerID. When a window is
// exhausted the decision carries the time until that window rolls over, and
// the matching domain.RateLimitError is returned alongside it. A denial
// refunds any window already charged during the same check, so hammering a
// closed minute window cannot drain the day budget.
func (l *Limiter) Check(callerID string) (Decision, error) {
	checks := []struct {
		kind  WindowKind
		limit int
	}{
		{WindowMinute, l.limits.PerMinute},
		{WindowDay, l.limits.PerDay},
	}

	type debit struct {
		key   string
		start time.Time
	}

	now := l.now()
	var charged []debit
	for _, c := range checks {
		if c.limit <= 0 {
			continue
		}
		start := now.Truncate(c.kind.duration())
		key := windowKey(callerID, c.kind)
		count, err := l.store.Incr(key, start)
		if err != nil {
			return Decision{}, fmt.Errorf("ratelimit: incr %s/%s: %w", callerID, c.kind, err)
		}
		if count > c.limit {
			for _, d := range charged {
				l.store.Decr(d.key, d.start)
			}
			retry := start.Add(c.kind.duration()).Sub(now)
			return Decision{Allowed: false, RetryAfter: retry}, &domain.RateLimitError{
				CallerID:   callerID,
				Window:     string(c.kind),
				RetryAfter: retry,
			}
		}
		charged = append(charged, debit{key: key, start: start})
	}
	return Decision{Allowed: true}, nil
}

func windowKey(callerID string, kind WindowKind) string {
	return callerID + "|" + string(kind)
}
