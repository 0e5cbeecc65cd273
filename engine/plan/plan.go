// Package plan turns a validated request into an execution plan: which
// tools run, with what input, in which mode, and in what merge order.
// Planning is rule-first and deterministic; an optional classifier is
// consulted only when no rule matches, and its use is flagged on the
// response.
package plan

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/CairnAI/cairn-engine/engine/domain"
	"github.com/CairnAI/cairn-engine/engine/tool"
)

// Mode is the execution mode of a plan.
type Mode string

const (
	// ModeParallel fans all steps out concurrently.
	ModeParallel Mode = "parallel"
	// ModeSequential runs steps in dependency order. Only chosen when a
	// step declares a dependency; never for presumed ordering.
	ModeSequential Mode = "sequential"
)

// Step is one planned tool invocation. Priority fixes the merge order of
// results regardless of completion order; lower runs earlier in the
// response.
type Step struct {
	Tool      string
	Input     tool.Input
	Priority  int
	DependsOn []string
}

// Plan is the full execution plan for one request.
type Plan struct {
	Steps []Step
	Mode  Mode
	// FallbackUsed is true when the classifier chose the tools.
	FallbackUsed bool
}

// Order returns tool names in priority order.
func (p *Plan) Order() []string {
	out := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.Tool
	}
	return out
}

// Classifier maps a query to tool names when no rule matches. Its output
// may vary between calls for the same query.
type Classifier interface {
	Classify(ctx context.Context, query string) ([]string, error)
}

// Planner builds plans against a frozen tool registry.
type Planner struct {
	registry   *tool.Registry
	classifier Classifier
	logger     *slog.Logger
}

// New creates a Planner. classifier may be nil.
func New(registry *tool.Registry, classifier Classifier, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{registry: registry, classifier: classifier, logger: logger}
}

// Merge priorities. Retrieval always renders first.
const (
	priorityRetrieval  = 0
	priorityReference  = 1
	priorityCalculator = 2
	priorityFetch      = 3
)

var (
	urlPattern  = regexp.MustCompile(`https?://[^\s]+`)
	exprPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?(?:\s*[-+*/^()]\s*-?\d+(?:\.\d+)?)+`)
	convPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?\s*[A-Za-z°]+\s+(?:to|in)\s+[A-Za-z°]+`)
	calcWords   = []string{"calculate", "convert", "how much is", "how many"}
	refWords    = []string{"what is", "what's", "define", "spec of", "specs for", "reference for", "tell me about"}
)

// Build produces the plan for a validated request.
func (p *Planner) Build(ctx context.Context, req domain.Request) (*Plan, error) {
	query := strings.TrimSpace(req.Query)
	lower := strings.ToLower(query)

	steps := p.ruleSteps(query, lower, req)
	matchedBeyondRetrieval := false
	for _, s := range steps {
		if s.Tool != tool.NameRetrieval {
			matchedBeyondRetrieval = true
		}
	}

	plan := &Plan{Mode: ModeParallel}
	if !matchedBeyondRetrieval && p.classifier != nil {
		extra, err := p.classify(ctx, query, req)
		if err != nil {
			p.logger.Warn("classifier failed, proceeding with rule plan", "err", err)
		} else if len(extra) > 0 {
			steps = append(steps, extra...)
			plan.FallbackUsed = true
		}
	}

	steps = restrict(steps, req.Preferences.OnlyTools)
	if len(steps) == 0 {
		return nil, fmt.Errorf("plan: no tool applies: %w", domain.ErrToolNotFound)
	}

	for _, s := range steps {
		if _, err := p.registry.Get(s.Tool); err != nil {
			return nil, fmt.Errorf("plan: %w", err)
		}
	}

	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].Priority != steps[j].Priority {
			return steps[i].Priority < steps[j].Priority
		}
		return steps[i].Tool < steps[j].Tool
	})

	for _, s := range steps {
		if len(s.DependsOn) > 0 {
			plan.Mode = ModeSequential
			break
		}
	}

	plan.Steps = steps
	return plan, nil
}

func (p *Planner) ruleSteps(query, lower string, req domain.Request) []Step {
	var steps []Step

	if !req.Preferences.SkipRetrieval {
		steps = append(steps, Step{
			Tool:     tool.NameRetrieval,
			Input:    tool.Input{Query: query, Filters: req.Filters},
			Priority: priorityRetrieval,
		})
	}

	wantsReference := containsAny(lower, refWords)
	if wantsReference {
		steps = append(steps, Step{
			Tool:     tool.NameReference,
			Input:    tool.Input{Query: query, Args: map[string]any{"term": referenceTerm(lower)}},
			Priority: priorityReference,
		})
	}

	if expr := extractExpression(query, lower); expr != "" {
		step := Step{
			Tool:     tool.NameCalculator,
			Input:    tool.Input{Query: query, Args: map[string]any{"expression": expr}},
			Priority: priorityCalculator,
		}
		// A calculation over a looked-up value must wait for the lookup.
		if wantsReference {
			step.DependsOn = []string{tool.NameReference}
		}
		steps = append(steps, step)
	}

	if url := urlPattern.FindString(query); url != "" {
		steps = append(steps, Step{
			Tool:     tool.NameFetch,
			Input:    tool.Input{Query: query, Args: map[string]any{"url": strings.TrimRight(url, ".,;)")}},
			Priority: priorityFetch,
		})
	}

	return steps
}

func (p *Planner) classify(ctx context.Context, query string, req domain.Request) ([]Step, error) {
	names, err := p.classifier.Classify(ctx, query)
	if err != nil {
		return nil, err
	}
	var steps []Step
	for _, name := range names {
		if name == tool.NameRetrieval {
			continue // already planned unless the caller opted out
		}
		if _, err := p.registry.Get(name); err != nil {
			p.logger.Warn("classifier proposed unknown tool", "tool", name)
			continue
		}
		steps = append(steps, Step{
			Tool:     name,
			Input:    tool.Input{Query: query, Filters: req.Filters},
			Priority: classifierPriority(name),
		})
	}
	return steps, nil
}

func classifierPriority(name string) int {
	switch name {
	case tool.NameReference:
		return priorityReference
	case tool.NameCalculator:
		return priorityCalculator
	case tool.NameFetch:
		return priorityFetch
	}
	return priorityFetch + 1
}

func restrict(steps []Step, only []string) []Step {
	if len(only) == 0 {
		return steps
	}
	allowed := make(map[string]bool, len(only))
	for _, name := range only {
		allowed[name] = true
	}
	kept := steps[:0]
	for _, s := range steps {
		if allowed[s.Tool] {
			kept = append(kept, s)
		}
	}
	// Dependencies on excluded tools no longer hold.
	for i := range kept {
		deps := kept[i].DependsOn[:0]
		for _, d := range kept[i].DependsOn {
			if allowed[d] {
				deps = append(deps, d)
			}
		}
		kept[i].DependsOn = deps
	}
	return kept
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// extractExpression pulls a computable expression from the query: an
// explicit unit conversion, an arithmetic span, or nothing.
func extractExpression(query, lower string) string {
	if m := convPattern.FindString(query); m != "" {
		return m
	}
	if m := exprPattern.FindString(query); m != "" {
		return m
	}
	if containsAny(lower, calcWords) {
		// Calculation intent without an extractable expression still
		// dispatches; the calculator reports what it cannot parse.
		return strings.TrimSpace(query)
	}
	return ""
}

// referenceTerm strips the question preamble to the entity being asked
// about.
func referenceTerm(lower string) string {
	term := lower
	for _, w := range refWords {
		if idx := strings.Index(term, w); idx >= 0 {
			term = term[idx+len(w):]
			break
		}
	}
	term = strings.TrimLeft(term, " ")
	term = strings.TrimPrefix(term, "a ")
	term = strings.TrimPrefix(term, "an ")
	term = strings.TrimPrefix(term, "the ")
	return strings.Trim(term, " ?.!")
}
