package tool

import (
	"context"
	"time"

	"github.com/CairnAI/cairn-engine/engine/retrieval"
	"github.com/CairnAI/cairn-engine/engine/semantic"
)

// RetrievalTool exposes the retrieval pipeline as a dispatchable tool so
// the orchestrator treats knowledge lookup like any other capability.
type RetrievalTool struct {
	pipeline *retrieval.Pipeline
	ttl      time.Duration
}

// NewRetrieval wraps the pipeline. ttl <= 0 uses a short default; the
// cache fingerprint's context version handles index changes.
func NewRetrieval(pipeline *retrieval.Pipeline, ttl time.Duration) *RetrievalTool {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RetrievalTool{pipeline: pipeline, ttl: ttl}
}

// Spec implements Tool.
func (t *RetrievalTool) Spec() Spec {
	return Spec{
		Name:        NameRetrieval,
		Cacheable:   true,
		CacheTTL:    t.ttl,
		Idempotent:  true,
		InputSchema: InputSchema{RequireQuery: true},
	}
}

// Execute implements Tool. Filters become hard match conditions on the
// vector search.
func (t *RetrievalTool) Execute(ctx context.Context, in Input) (any, error) {
	filter := semantic.Filter{}
	if len(in.Filters) > 0 {
		filter.Match = in.Filters
	}
	return t.pipeline.Retrieve(ctx, in.Query, filter)
}
