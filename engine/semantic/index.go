// Package semantic owns vector storage and nearest-neighbor search. The
// Index interface is the engine's view; Qdrant is the concrete backend.
package semantic

import "context"

// Metric names a vector distance function.
type Metric string

const (
	MetricCosine Metric = "cosine"
	MetricDot    Metric = "dot"
	MetricEuclid Metric = "euclid"
)

// Point is one stored vector with its payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Hit is one search result.
type Hit struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// RangeCondition constrains a numeric payload field. Nil bounds are open.
type RangeCondition struct {
	Field string
	GTE   *float64
	LTE   *float64
}

// Filter is applied as a hard pre-filter: candidates failing any condition
// are never returned, regardless of score.
type Filter struct {
	Match map[string]string
	Range []RangeCondition
}

// Empty reports whether the filter constrains nothing.
func (f Filter) Empty() bool {
	return len(f.Match) == 0 && len(f.Range) == 0
}

// Index is the vector index capability. All vectors in one collection
// share the dimension declared at EnsureCollection. Implementations must
// serialize writes to a collection; reads may run concurrently.
type Index interface {
	EnsureCollection(ctx context.Context, dim int, metric Metric) error
	Upsert(ctx context.Context, points []Point) error
	Search(ctx context.Context, vector []float32, topN int, filter Filter) ([]Hit, error)
	Delete(ctx context.Context, ids []string) error
	DeleteByDoc(ctx context.Context, docID string) error
}
