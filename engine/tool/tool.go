// Package tool defines the tool capability and the concrete tools the
// planner can dispatch. The registry is populated once at startup and
// frozen before serving; tool lookup never mutates it.
package tool

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/CairnAI/cairn-engine/engine/domain"
)

// Tool names known to the planner.
const (
	NameRetrieval  = "retrieval"
	NameCalculator = "calculator"
	NameReference  = "reference"
	NameFetch      = "fetch"
)

// Input is the normalized input handed to a tool. Query carries the user
// text; Args carries tool-specific parameters extracted by the planner.
type Input struct {
	Query   string            `json:"query"`
	Args    map[string]any    `json:"args,omitempty"`
	Filters map[string]string `json:"filters,omitempty"`
}

// Spec describes a tool's contract to the orchestrator: whether results
// may be cached and for how long, whether a retry is safe, and what shape
// of input the tool accepts.
type Spec struct {
	Name        string
	Cacheable   bool
	CacheTTL    time.Duration
	Idempotent  bool
	InputSchema InputSchema
}

// ArgSpec declares one expected entry in Input.Args.
type ArgSpec struct {
	// Type is one of "string", "number", "bool". Empty accepts any value.
	Type     string
	Required bool
}

// InputSchema declares what a tool expects from its Input. The zero value
// accepts anything. Inputs are validated against the schema at dispatch,
// so Execute implementations can assume required arguments are present and
// well typed.
type InputSchema struct {
	// RequireQuery marks tools that cannot run without query text.
	RequireQuery bool
	// Args maps argument names to their expectations. Arguments not named
	// here pass through unvalidated.
	Args map[string]ArgSpec
}

// Validate checks in against the schema. Violations are reported as
// domain.ValidationError so transports can map them to client errors.
func (s InputSchema) Validate(in Input) error {
	if s.RequireQuery && strings.TrimSpace(in.Query) == "" {
		return domain.NewValidationError("query", "", domain.ErrQueryEmpty)
	}

	names := make([]string, 0, len(s.Args))
	for name := range s.Args {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		arg := s.Args[name]
		v, ok := in.Args[name]
		if !ok || v == nil {
			if arg.Required {
				return domain.NewValidationError("args."+name, "", domain.ErrArgMissing)
			}
			continue
		}
		if !arg.accepts(v) {
			return domain.NewValidationError("args."+name, fmt.Sprintf("%v", v), domain.ErrArgInvalid)
		}
		if arg.Required {
			if str, isStr := v.(string); isStr && strings.TrimSpace(str) == "" {
				return domain.NewValidationError("args."+name, str, domain.ErrArgMissing)
			}
		}
	}
	return nil
}

func (a ArgSpec) accepts(v any) bool {
	switch a.Type {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		switch v.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case "bool":
		_, ok := v.(bool)
		return ok
	}
	return true
}

// Tool is one dispatchable capability.
type Tool interface {
	Spec() Spec
	Execute(ctx context.Context, in Input) (any, error)
}

// Registry holds the tools available to the planner. Register then Freeze
// during startup; after Freeze the registry is read-only and safe for
// concurrent lookup without locking.
type Registry struct {
	tools  map[string]Tool
	frozen bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Duplicate names and post-freeze registration are
// programming errors, reported rather than panicking.
func (r *Registry) Register(t Tool) error {
	if r.frozen {
		return fmt.Errorf("tool: registry frozen, cannot register %q", t.Spec().Name)
	}
	name := t.Spec().Name
	if name == "" {
		return fmt.Errorf("tool: empty tool name")
	}
	if _, ok := r.tools[name]; ok {
		return fmt.Errorf("tool: duplicate registration of %q", name)
	}
	r.tools[name] = t
	return nil
}

// Freeze marks the registry read-only.
func (r *Registry) Freeze() { r.frozen = true }

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("tool: %q: %w", name, domain.ErrToolNotFound)
	}
	return t, nil
}

// Names returns registered tool names, sorted for stable iteration.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
