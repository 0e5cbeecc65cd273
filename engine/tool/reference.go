package tool

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/CairnAI/cairn-engine/engine/domain"
)

// ReferenceEntry is one knowledge-graph entity with its outgoing relations.
type ReferenceEntry struct {
	Name       string            `json:"name"`
	Kind       string            `json:"kind,omitempty"`
	Properties map[string]any    `json:"properties,omitempty"`
	Related    []ReferenceFollow `json:"related,omitempty"`
}

// ReferenceFollow is one relation from a ReferenceEntry.
type ReferenceFollow struct {
	Relation string `json:"relation"`
	Target   string `json:"target"`
}

// graphResult is the minimal interface needed from a neo4j result.
type graphResult interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
	Err() error
}

// graphRunner is the minimal interface needed from a neo4j session.
type graphRunner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (graphResult, error)
	Close(ctx context.Context) error
}

// ReferenceTool answers structured lookups against the knowledge graph.
// Results change only when the graph is reloaded, so a generous TTL is
// safe.
type ReferenceTool struct {
	driver     neo4j.DriverWithContext
	ttl        time.Duration
	newSession func(ctx context.Context) graphRunner // for testing
}

// NewReference creates the graph lookup tool.
func NewReference(driver neo4j.DriverWithContext, ttl time.Duration) *ReferenceTool {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ReferenceTool{driver: driver, ttl: ttl}
}

// Spec implements Tool.
func (t *ReferenceTool) Spec() Spec {
	return Spec{
		Name:       NameReference,
		Cacheable:  true,
		CacheTTL:   t.ttl,
		Idempotent: true,
		// The lookup term may also arrive as raw query text.
		InputSchema: InputSchema{Args: map[string]ArgSpec{"term": {Type: "string"}}},
	}
}

type graphSessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *graphSessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (graphResult, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *graphSessionAdapter) Close(ctx context.Context) error { return a.sess.Close(ctx) }

func (t *ReferenceTool) session(ctx context.Context) graphRunner {
	if t.newSession != nil {
		return t.newSession(ctx)
	}
	return &graphSessionAdapter{sess: t.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})}
}

// Execute implements Tool. The lookup term comes from Args["term"] when
// the planner extracted one, otherwise the raw query is matched loosely.
func (t *ReferenceTool) Execute(ctx context.Context, in Input) (any, error) {
	term := in.Query
	if v, ok := in.Args["term"].(string); ok && v != "" {
		term = v
	}
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, fmt.Errorf("reference: empty lookup term")
	}

	sess := t.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (e:Entity)
WHERE toLower(e.name) CONTAINS toLower($term)
OPTIONAL MATCH (e)-[r]->(n:Entity)
RETURN e.name AS name, e.kind AS kind, properties(e) AS props,
       collect({relation: type(r), target: n.name}) AS related
LIMIT $limit`

	result, err := sess.Run(ctx, cypher, map[string]any{"term": term, "limit": 10})
	if err != nil {
		return nil, fmt.Errorf("reference: query: %w: %w", domain.ErrSourceUnavailable, err)
	}

	var entries []ReferenceEntry
	for result.Next(ctx) {
		entries = append(entries, entryFromRecord(result.Record()))
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("reference: stream: %w: %w", domain.ErrSourceUnavailable, err)
	}
	return entries, nil
}

func entryFromRecord(rec *neo4j.Record) ReferenceEntry {
	entry := ReferenceEntry{}
	if v, ok := rec.Get("name"); ok {
		entry.Name, _ = v.(string)
	}
	if v, ok := rec.Get("kind"); ok {
		entry.Kind, _ = v.(string)
	}
	if v, ok := rec.Get("props"); ok {
		if props, ok := v.(map[string]any); ok {
			entry.Properties = props
		}
	}
	if v, ok := rec.Get("related"); ok {
		if rels, ok := v.([]any); ok {
			for _, raw := range rels {
				m, ok := raw.(map[string]any)
				if !ok {
					continue
				}
				rel, _ := m["relation"].(string)
				target, _ := m["target"].(string)
				if rel == "" && target == "" {
					continue
				}
				entry.Related = append(entry.Related, ReferenceFollow{Relation: rel, Target: target})
			}
		}
	}
	return entry
}
