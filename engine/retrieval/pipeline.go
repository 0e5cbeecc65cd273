// Package retrieval composes embedding, vector search, and reranking into
// the engine's two-stage retrieval pipeline.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/CairnAI/cairn-engine/engine/domain"
	"github.com/CairnAI/cairn-engine/engine/embed"
	"github.com/CairnAI/cairn-engine/engine/rerank"
	"github.com/CairnAI/cairn-engine/engine/semantic"
)

// Options configures the pipeline.
type Options struct {
	// TopN is the stage-one candidate count from vector search.
	TopN int
	// TopK is the final passage count after reranking.
	TopK int
	// ScoreThreshold drops rerank scores below it. Applied after
	// reranking and before the final TopK slice, so thresholding and
	// size-limiting compose predictably. Zero disables it.
	ScoreThreshold float64
}

// DefaultOptions returns the stage defaults.
func DefaultOptions() Options {
	return Options{TopN: 50, TopK: 10}
}

// Result is the output of one retrieval call.
type Result struct {
	Passages             []domain.RetrievalPassage `json:"passages"`
	RerankingUsed        bool                      `json:"reranking_used"`
	CandidatesConsidered int                       `json:"candidates_considered"`
}

// Pipeline is the two-stage retrieval pipeline. The reranker is optional;
// without one (or when it fails) results keep the vector ordering.
type Pipeline struct {
	embedder embed.Provider
	index    semantic.Index
	reranker rerank.Provider
	opts     Options
	logger   *slog.Logger
}

// New creates a Pipeline.
func New(embedder embed.Provider, index semantic.Index, reranker rerank.Provider, opts Options, logger *slog.Logger) *Pipeline {
	if opts.TopN <= 0 {
		opts.TopN = DefaultOptions().TopN
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultOptions().TopK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{embedder: embedder, index: index, reranker: reranker, opts: opts, logger: logger}
}

// Retrieve runs the pipeline for one query under the caller's hard filter.
// For fixed corpus state, filter, and query the output ordering is stable.
func (p *Pipeline) Retrieve(ctx context.Context, query string, filter semantic.Filter) (*Result, error) {
	vec, err := p.embedder.Embed(ctx, query, embed.ModeQuery)
	if err != nil {
		return nil, fmt.Errorf("retrieval: embed query: %w", err)
	}

	hits, err := p.index.Search(ctx, vec, p.opts.TopN, filter)
	if err != nil {
		return nil, fmt.Errorf("retrieval: vector search: %w", err)
	}

	candidates := make([]domain.RetrievalPassage, len(hits))
	for i, h := range hits {
		candidates[i] = passageFromHit(h)
	}

	result := &Result{CandidatesConsidered: len(candidates)}
	passages := candidates

	if p.reranker != nil && len(candidates) > 0 {
		// Rescore every candidate; thresholding and the TopK slice come
		// after, in that order.
		reranked, err := p.reranker.Rerank(ctx, query, candidates, len(candidates))
		if err != nil {
			p.logger.Warn("retrieval: rerank failed, keeping vector order", "err", err)
		} else {
			passages = reranked
			result.RerankingUsed = true
		}
	}

	if result.RerankingUsed && p.opts.ScoreThreshold > 0 {
		kept := passages[:0]
		for _, pa := range passages {
			if *pa.RerankScore >= p.opts.ScoreThreshold {
				kept = append(kept, pa)
			}
		}
		passages = kept
	}

	sortPassages(passages)
	if len(passages) > p.opts.TopK {
		passages = passages[:p.opts.TopK]
	}
	for i := range passages {
		passages[i].Rank = i
	}

	result.Passages = passages
	return result, nil
}

// sortPassages applies the total order: score desc, then chunk index asc,
// then document id asc. The tie-break makes retrieval reproducible.
func sortPassages(passages []domain.RetrievalPassage) {
	sort.SliceStable(passages, func(i, j int) bool {
		si, sj := passages[i].Score(), passages[j].Score()
		if si != sj {
			return si > sj
		}
		if passages[i].Chunk.Index != passages[j].Chunk.Index {
			return passages[i].Chunk.Index < passages[j].Chunk.Index
		}
		return passages[i].Chunk.DocID < passages[j].Chunk.DocID
	})
}

// passageFromHit rebuilds the chunk from the point payload written at
// index time.
func passageFromHit(h semantic.Hit) domain.RetrievalPassage {
	chunk := domain.Chunk{}
	if v, ok := h.Payload["content"].(string); ok {
		chunk.Text = v
	}
	if v, ok := h.Payload["doc_id"].(string); ok {
		chunk.DocID = v
	}
	if v, ok := h.Payload["chunk_index"].(int64); ok {
		chunk.Index = int(v)
	}
	if v, ok := h.Payload["start"].(int64); ok {
		chunk.Start = int(v)
	}
	if v, ok := h.Payload["end"].(int64); ok {
		chunk.End = int(v)
	}
	if v, ok := h.Payload["token_estimate"].(int64); ok {
		chunk.TokenEstimate = int(v)
	}
	return domain.RetrievalPassage{Chunk: chunk, VectorScore: h.Score}
}
