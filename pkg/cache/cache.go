// Package cache provides a fingerprinted response cache with TTL expiry, an
// LRU capacity bound, and at-most-one in-flight computation per fingerprint.
// Concurrent callers sharing a fingerprint attach to the single running
// computation instead of issuing duplicate provider calls.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// Stats reports cumulative cache activity.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// Cache memoizes computation results keyed by fingerprint.
type Cache struct {
	entries *lru.Cache[string, entry]
	group   singleflight.Group
	hits    atomic.Int64
	misses  atomic.Int64
	now     func() time.Time
}

type entry struct {
	value     any
	expiresAt time.Time
}

type doOutcome struct {
	value any
	hit   bool
}

// New creates a Cache bounded to capacity entries, evicting least recently
// used entries when full.
func New(capacity int) (*Cache, error) {
	if capacity <= 0 {
		capacity = 1024
	}
	entries, err := lru.New[string, entry](capacity)
	if err != nil {
		return nil, fmt.Errorf("cache: new lru: %w", err)
	}
	return &Cache{entries: entries, now: time.Now}, nil
}

// Fingerprint derives a deterministic hash from a tool name, its input, and
// a context version. The input is canonicalized through a JSON round-trip so
// struct field order and map iteration order cannot change the hash.
func Fingerprint(tool string, input any, contextVersion string) (string, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("cache: fingerprint %s: %w", tool, err)
	}
	var canonical any
	if err := json.Unmarshal(raw, &canonical); err != nil {
		return "", fmt.Errorf("cache: fingerprint %s: %w", tool, err)
	}
	normalized, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("cache: fingerprint %s: %w", tool, err)
	}

	h := sha256.New()
	h.Write([]byte(tool))
	h.Write([]byte{0})
	h.Write(normalized)
	h.Write([]byte{0})
	h.Write([]byte(contextVersion))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Do returns the cached value for fp, or runs compute exactly once across
// all concurrent callers of the same fingerprint and stores its result for
// ttl. hit reports whether the value came from the cache without running
// compute in this call chain. ttl <= 0 disables storing.
func (c *Cache) Do(ctx context.Context, fp string, ttl time.Duration, compute func(context.Context) (any, error)) (value any, hit bool, err error) {
	if v, ok := c.lookup(fp); ok {
		c.hits.Add(1)
		return v, true, nil
	}

	v, err, _ := c.group.Do(fp, func() (any, error) {
		// Another caller may have stored while we queued.
		if v, ok := c.lookup(fp); ok {
			c.hits.Add(1)
			return doOutcome{value: v, hit: true}, nil
		}
		// Counted inside the leader's closure: attached callers share one
		// computation and one miss.
		c.misses.Add(1)
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if ttl > 0 {
			c.entries.Add(fp, entry{value: v, expiresAt: c.now().Add(ttl)})
		}
		return doOutcome{value: v}, nil
	})
	if err != nil {
		return nil, false, err
	}
	out := v.(doOutcome)
	return out.value, out.hit, nil
}

// Lookup returns the live cached value for fp, if any.
func (c *Cache) Lookup(fp string) (any, bool) {
	v, ok := c.lookup(fp)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Store inserts a value for fp with the given ttl.
func (c *Cache) Store(fp string, value any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.entries.Add(fp, entry{value: value, expiresAt: c.now().Add(ttl)})
}

func (c *Cache) lookup(fp string) (any, bool) {
	e, ok := c.entries.Get(fp)
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		c.entries.Remove(fp)
		return nil, false
	}
	return e.value, true
}

// Stats returns cumulative hit/miss counts.
func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}
