// Package resilience provides a circuit breaker used to isolate flaky
// network backends (rerank providers, external sources) from the rest of a
// request.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned while the breaker rejects calls.
var ErrOpen = errors.New("circuit breaker open")

// State of a breaker.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Opts configures a Breaker.
type Opts struct {
	// FailThreshold is the consecutive-failure count that trips the breaker.
	FailThreshold int
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
	// Probes is how many calls may pass while half-open.
	Probes int
}

// DefaultOpts trips after 5 consecutive failures and probes once per 30s.
var DefaultOpts = Opts{FailThreshold: 5, Cooldown: 30 * time.Second, Probes: 1}

// Breaker is a closed/open/half-open circuit breaker.
type Breaker struct {
	mu       sync.Mutex
	opts     Opts
	state    State
	failures int
	openedAt time.Time
	probing  int
	now      func() time.Time
}

// New creates a Breaker, filling unset options from DefaultOpts.
func New(opts Opts) *Breaker {
	if opts.FailThreshold <= 0 {
		opts.FailThreshold = DefaultOpts.FailThreshold
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultOpts.Cooldown
	}
	if opts.Probes <= 0 {
		opts.Probes = DefaultOpts.Probes
	}
	return &Breaker{opts: opts, now: time.Now}
}

// State returns the current state, applying the open→half-open transition.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Breaker) stateLocked() State {
	if b.state == Open && b.now().Sub(b.openedAt) >= b.opts.Cooldown {
		b.state = HalfOpen
		b.probing = 0
	}
	return b.state
}

// Allow reports whether a call may proceed, reserving a probe slot while
// half-open. Every Allow must be paired with a Record.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.stateLocked() {
	case Open:
		return false
	case HalfOpen:
		if b.probing >= b.opts.Probes {
			return false
		}
		b.probing++
	}
	return true
}

// Record feeds a call outcome back into the breaker.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failures++
		if b.state == HalfOpen || b.failures >= b.opts.FailThreshold {
			b.state = Open
			b.openedAt = b.now()
			b.failures = 0
			b.probing = 0
		}
		return
	}
	if b.state == HalfOpen {
		b.state = Closed
	}
	b.failures = 0
}

// Call runs f through the breaker, returning ErrOpen when rejected.
func (b *Breaker) Call(ctx context.Context, f func(context.Context) error) error {
	if !b.Allow() {
		return ErrOpen
	}
	err := f(ctx)
	b.Record(err)
	return err
}
