// Package orchestrate executes a plan: it dispatches the planned tools in
// parallel or dependency order, isolates per-tool failures, and merges
// results in the planner's priority order. One slow or broken tool never
// takes down the request.
package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/CairnAI/cairn-engine/engine/domain"
	"github.com/CairnAI/cairn-engine/engine/plan"
	"github.com/CairnAI/cairn-engine/engine/tool"
	"github.com/CairnAI/cairn-engine/pkg/cache"
	"github.com/CairnAI/cairn-engine/pkg/events"
	"github.com/CairnAI/cairn-engine/pkg/metrics"
	"github.com/CairnAI/cairn-engine/pkg/ratelimit"
)

// State is the lifecycle state of one orchestration. Execution is
// synchronous, so callers only ever see a terminal state in the result;
// the running state appears on the start event.
type State string

const (
	StateRunning         State = "running"
	StateCompleted       State = "completed"
	StatePartiallyFailed State = "partially_failed"
	StateFailed          State = "failed"
)

// Result is the merged outcome of one executed plan. Order preserves the
// planner's priority order; completion order never leaks into it.
type Result struct {
	Outcomes map[string]domain.ToolOutcome
	Order    []string
	Summary  domain.ExecutionSummary
	Cache    domain.CacheStats
	State    State
}

// Event is published after every orchestration for observability
// consumers. Delivery is best-effort.
type Event struct {
	CallerID   string                  `json:"caller_id"`
	State      State                   `json:"state"`
	Mode       plan.Mode               `json:"mode"`
	Summary    domain.ExecutionSummary `json:"summary"`
	Cache      domain.CacheStats       `json:"cache"`
	DurationMS int64                   `json:"duration_ms"`
}

// Options configures the orchestrator.
type Options struct {
	// MaxParallel bounds concurrent tool executions in parallel mode.
	MaxParallel int
	// DefaultTimeout bounds a request that carries no deadline of its own.
	DefaultTimeout time.Duration
	// ContextVersion is folded into cache fingerprints; bump it when the
	// corpus or graph is reloaded to invalidate stale entries.
	ContextVersion string
	// EventSubject is the NATS subject for execution events.
	EventSubject string
}

// DefaultOptions returns the execution defaults.
func DefaultOptions() Options {
	return Options{
		MaxParallel:    4,
		DefaultTimeout: 30 * time.Second,
		EventSubject:   "engine.orchestration",
	}
}

// Orchestrator executes plans against a frozen registry. The limiter is
// shared across all tools so one caller's budget covers provider cost
// wherever it is spent; cache hits do not consume it.
type Orchestrator struct {
	registry *tool.Registry
	limiter  *ratelimit.Limiter
	cache    *cache.Cache
	nc       *nats.Conn
	opts     Options
	logger   *slog.Logger

	toolRuns     func(toolName, result string) *metrics.Counter
	toolDuration *metrics.Histogram
	cacheHits    *metrics.Counter
	cacheMisses  *metrics.Counter
	rateLimited  *metrics.Counter
}

// New creates an Orchestrator. nc and reg may be nil.
func New(registry *tool.Registry, limiter *ratelimit.Limiter, responseCache *cache.Cache, nc *nats.Conn, reg *metrics.Registry, opts Options, logger *slog.Logger) *Orchestrator {
	def := DefaultOptions()
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = def.MaxParallel
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = def.DefaultTimeout
	}
	if opts.EventSubject == "" {
		opts.EventSubject = def.EventSubject
	}
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		registry: registry,
		limiter:  limiter,
		cache:    responseCache,
		nc:       nc,
		opts:     opts,
		logger:   logger,
	}
	if reg != nil {
		o.toolRuns = func(toolName, result string) *metrics.Counter {
			return reg.Counter(metrics.WithLabels("engine_tool_runs_total", "tool", toolName, "result", result))
		}
		o.toolDuration = reg.Histogram("engine_tool_duration_seconds", nil)
		o.cacheHits = reg.Counter("engine_cache_hits_total")
		o.cacheMisses = reg.Counter("engine_cache_misses_total")
		o.rateLimited = reg.Counter("engine_rate_limited_total")
	}
	return o
}

// Execute runs the plan for one caller. The returned error is non-nil only
// for whole-request failures; individual tool failures are reported inside
// the result. When nothing succeeded because the caller's quota is
// exhausted, the typed rate-limit error is returned alongside the result so
// transports can map it to a retryable status.
func (o *Orchestrator) Execute(ctx context.Context, callerID string, p *plan.Plan) (*Result, error) {
	if len(p.Steps) == 0 {
		return nil, fmt.Errorf("orchestrate: empty plan")
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.DefaultTimeout)
		defer cancel()
	}

	started := time.Now()
	o.publish(ctx, Event{CallerID: callerID, State: StateRunning, Mode: p.Mode})
	run := &runState{
		outcomes: make(map[string]domain.ToolOutcome, len(p.Steps)),
	}

	if p.Mode == plan.ModeSequential {
		o.runSequential(ctx, callerID, p.Steps, run)
	} else {
		o.runParallel(ctx, callerID, p.Steps, run)
	}

	result := &Result{
		Outcomes: run.outcomes,
		Order:    p.Order(),
		Cache:    run.cacheStats,
	}
	for _, outcome := range run.outcomes {
		result.Summary.Total++
		switch {
		case outcome.Skipped:
			result.Summary.Skipped++
		case outcome.Success:
			result.Summary.Successful++
		default:
			result.Summary.Failed++
		}
	}
	switch {
	case result.Summary.Failed == 0 && result.Summary.Skipped == 0:
		result.State = StateCompleted
	case result.Summary.Successful > 0:
		result.State = StatePartiallyFailed
	default:
		result.State = StateFailed
	}

	o.publish(ctx, Event{
		CallerID:   callerID,
		State:      result.State,
		Mode:       p.Mode,
		Summary:    result.Summary,
		Cache:      result.Cache,
		DurationMS: time.Since(started).Milliseconds(),
	})
	if result.State == StateFailed && run.rateErr != nil {
		return result, fmt.Errorf("orchestrate: %w", run.rateErr)
	}
	return result, nil
}

// runState accumulates outcomes for one request. The mutex covers parallel
// mode; sequential mode runs on one goroutine.
type runState struct {
	mu         sync.Mutex
	outcomes   map[string]domain.ToolOutcome
	cacheStats domain.CacheStats
	rateErr    *domain.RateLimitError
}

func (r *runState) record(outcome domain.ToolOutcome, cacheHit, cacheable bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[outcome.ToolName] = outcome
	if cacheable && !outcome.Skipped {
		if cacheHit {
			r.cacheStats.Hits++
		} else {
			r.cacheStats.Misses++
		}
	}
	if r.rateErr == nil {
		var rl *domain.RateLimitError
		if errors.As(err, &rl) {
			r.rateErr = rl
		}
	}
}

func (r *runState) outcome(toolName string) (domain.ToolOutcome, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out, ok := r.outcomes[toolName]
	return out, ok
}

func (o *Orchestrator) runParallel(ctx context.Context, callerID string, steps []plan.Step, run *runState) {
	sem := make(chan struct{}, o.opts.MaxParallel)
	var wg sync.WaitGroup
	for _, step := range steps {
		wg.Add(1)
		sem <- struct{}{}
		go func(step plan.Step) {
			defer func() { <-sem; wg.Done() }()
			outcome, cacheHit, cacheable, err := o.runStep(ctx, callerID, step)
			run.record(outcome, cacheHit, cacheable, err)
		}(step)
	}
	wg.Wait()
}

func (o *Orchestrator) runSequential(ctx context.Context, callerID string, steps []plan.Step, run *runState) {
	for _, step := range steps {
		if blocked, reason := o.blockedByDependency(step, run); blocked {
			run.record(domain.ToolOutcome{
				ToolName: step.Tool,
				Skipped:  true,
				Error:    reason,
			}, false, false, nil)
			continue
		}
		outcome, cacheHit, cacheable, err := o.runStep(ctx, callerID, step)
		run.record(outcome, cacheHit, cacheable, err)
	}
}

func (o *Orchestrator) blockedByDependency(step plan.Step, run *runState) (bool, string) {
	for _, dep := range step.DependsOn {
		out, ok := run.outcome(dep)
		if !ok {
			return true, fmt.Sprintf("dependency %s did not run", dep)
		}
		if out.Skipped || !out.Success {
			return true, fmt.Sprintf("dependency %s failed", dep)
		}
	}
	return false, ""
}

// runStep executes one tool with rate limiting and caching. The limiter is
// consulted inside the cache compute path, so cache hits and deduplicated
// concurrent calls never consume quota. The raw execution error is returned
// alongside the outcome so callers can inspect its type.
func (o *Orchestrator) runStep(ctx context.Context, callerID string, step plan.Step) (domain.ToolOutcome, bool, bool, error) {
	outcome := domain.ToolOutcome{ToolName: step.Tool}
	started := time.Now()

	t, err := o.registry.Get(step.Tool)
	if err != nil {
		return o.finish(outcome, started, err), false, false, err
	}
	spec := t.Spec()

	// An input the tool cannot accept fails before quota or cache are
	// touched.
	if err := spec.InputSchema.Validate(step.Input); err != nil {
		return o.finish(outcome, started, err), false, false, err
	}

	compute := func(ctx context.Context) (any, error) {
		if o.limiter != nil {
			if _, err := o.limiter.Check(callerID); err != nil {
				if o.rateLimited != nil {
					o.rateLimited.Inc()
				}
				return nil, err
			}
		}
		return t.Execute(ctx, step.Input)
	}

	cacheable := o.cache != nil && spec.Cacheable
	if cacheable {
		fp, err := cache.Fingerprint(step.Tool, step.Input, o.opts.ContextVersion)
		if err != nil {
			// An unfingerprintable input disables caching for this call,
			// not the call itself.
			o.logger.Warn("cache fingerprint failed, bypassing cache", "tool", step.Tool, "err", err)
			cacheable = false
		} else {
			data, hit, err := o.cache.Do(ctx, fp, spec.CacheTTL, compute)
			if err != nil {
				return o.finish(outcome, started, err), false, true, err
			}
			o.countCache(hit)
			outcome.Data = data
			outcome.CacheHit = hit
			return o.finish(outcome, started, nil), hit, true, nil
		}
	}

	data, err := compute(ctx)
	if err != nil {
		return o.finish(outcome, started, err), false, false, err
	}
	outcome.Data = data
	return o.finish(outcome, started, nil), false, false, nil
}

func (o *Orchestrator) countCache(hit bool) {
	if o.cacheHits == nil {
		return
	}
	if hit {
		o.cacheHits.Inc()
	} else {
		o.cacheMisses.Inc()
	}
}

func (o *Orchestrator) finish(outcome domain.ToolOutcome, started time.Time, err error) domain.ToolOutcome {
	outcome.LatencyMS = time.Since(started).Milliseconds()
	if err != nil {
		outcome.Error = err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			outcome.TimedOut = true
		}
		o.logger.Warn("tool failed", "tool", outcome.ToolName, "err", err, "timed_out", outcome.TimedOut)
	} else {
		outcome.Success = true
	}

	if o.toolRuns != nil {
		result := "ok"
		if !outcome.Success {
			result = "error"
		}
		o.toolRuns(outcome.ToolName, result).Inc()
		o.toolDuration.Observe(float64(outcome.LatencyMS) / 1000)
	}
	return outcome
}

func (o *Orchestrator) publish(ctx context.Context, ev Event) {
	if o.nc == nil {
		return
	}
	if err := events.Publish(ctx, o.nc, o.opts.EventSubject, ev); err != nil {
		o.logger.Warn("execution event publish failed", "err", err)
	}
}
