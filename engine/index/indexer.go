// Package index writes documents into the vector index: chunk, embed in
// index mode, upsert. Point ids are deterministic so re-running ingestion
// overwrites instead of duplicating.
package index

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/CairnAI/cairn-engine/engine/chunk"
	"github.com/CairnAI/cairn-engine/engine/domain"
	"github.com/CairnAI/cairn-engine/engine/embed"
	"github.com/CairnAI/cairn-engine/engine/semantic"
	"github.com/CairnAI/cairn-engine/pkg/fn"
)

// Document is one unit of ingestable content. Metadata keys become payload
// fields and are filterable at query time.
type Document struct {
	ID       string
	Text     string
	Metadata map[string]any
}

// Options configures the indexer.
type Options struct {
	// BatchSize bounds how many chunks are embedded and upserted per call.
	BatchSize int
	Metric    semantic.Metric
}

// DefaultOptions returns the ingestion defaults.
func DefaultOptions() Options {
	return Options{BatchSize: 100, Metric: semantic.MetricCosine}
}

// Indexer runs the ingestion pipeline for one collection.
type Indexer struct {
	chunker  *chunk.Chunker
	embedder embed.Provider
	index    semantic.Index
	opts     Options
	logger   *slog.Logger
}

// New creates an Indexer.
func New(chunker *chunk.Chunker, embedder embed.Provider, index semantic.Index, opts Options, logger *slog.Logger) *Indexer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions().BatchSize
	}
	if opts.Metric == "" {
		opts.Metric = semantic.MetricCosine
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{chunker: chunker, embedder: embedder, index: index, opts: opts, logger: logger}
}

// EnsureReady creates the collection if needed, sized to the embedding
// provider's dimension.
func (ix *Indexer) EnsureReady(ctx context.Context) error {
	return ix.index.EnsureCollection(ctx, ix.embedder.Dimension(), ix.opts.Metric)
}

// Index chunks, embeds, and upserts one document. Returns the number of
// points written.
func (ix *Indexer) Index(ctx context.Context, doc Document) (int, error) {
	if doc.ID == "" {
		return 0, fmt.Errorf("index: document id is empty")
	}

	pipeline := fn.Then(
		fn.Traced("index.chunk", fn.Then(
			ix.chunkStage(),
			fn.Tap(func(_ context.Context, chunks []domain.Chunk) {
				ix.logger.Debug("document chunked", "doc_id", doc.ID, "chunks", len(chunks))
			}),
		)),
		fn.Traced("index.write", ix.writeStage(doc)),
	)

	r := pipeline(ctx, doc)
	written, err := r.Unwrap()
	if err != nil {
		return 0, fmt.Errorf("index: doc %s: %w", doc.ID, err)
	}
	ix.logger.Info("document indexed", "doc_id", doc.ID, "points", written)
	return written, nil
}

// Reindex removes the document's existing points before indexing it again.
// Deterministic ids already make same-shape reindexes idempotent; the
// delete handles documents whose chunk count shrank.
func (ix *Indexer) Reindex(ctx context.Context, doc Document) (int, error) {
	if err := ix.index.DeleteByDoc(ctx, doc.ID); err != nil {
		return 0, fmt.Errorf("index: reindex %s: %w", doc.ID, err)
	}
	return ix.Index(ctx, doc)
}

// Delete removes every point belonging to the document.
func (ix *Indexer) Delete(ctx context.Context, docID string) error {
	if err := ix.index.DeleteByDoc(ctx, docID); err != nil {
		return fmt.Errorf("index: delete %s: %w", docID, err)
	}
	return nil
}

func (ix *Indexer) chunkStage() fn.Stage[Document, []domain.Chunk] {
	return func(_ context.Context, doc Document) fn.Result[[]domain.Chunk] {
		return fn.Ok(ix.chunker.Split(doc.ID, doc.Text))
	}
}

func (ix *Indexer) writeStage(doc Document) fn.Stage[[]domain.Chunk, int] {
	return func(ctx context.Context, chunks []domain.Chunk) fn.Result[int] {
		written := 0
		for start := 0; start < len(chunks); start += ix.opts.BatchSize {
			end := min(start+ix.opts.BatchSize, len(chunks))
			batch := chunks[start:end]

			texts := make([]string, len(batch))
			for i, c := range batch {
				texts[i] = c.Text
			}
			vectors, err := ix.embedder.EmbedBatch(ctx, texts, embed.ModeIndex)
			if err != nil {
				return fn.Err[int](fmt.Errorf("embed batch at %d: %w", start, err))
			}

			points := make([]semantic.Point, len(batch))
			for i, c := range batch {
				points[i] = semantic.Point{
					ID:      PointID(c.DocID, c.Index),
					Vector:  vectors[i],
					Payload: pointPayload(c, doc.Metadata),
				}
			}
			if err := ix.index.Upsert(ctx, points); err != nil {
				return fn.Err[int](fmt.Errorf("upsert batch at %d: %w", start, err))
			}
			written += len(points)
		}
		return fn.Ok(written)
	}
}

// PointID derives a stable uuid from the document id and chunk index.
func PointID(docID string, chunkIndex int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s#%d", docID, chunkIndex))).String()
}

func pointPayload(c domain.Chunk, metadata map[string]any) map[string]any {
	payload := make(map[string]any, len(metadata)+6)
	for k, v := range metadata {
		payload[k] = v
	}
	payload["content"] = c.Text
	payload["doc_id"] = c.DocID
	payload["chunk_index"] = int64(c.Index)
	payload["start"] = int64(c.Start)
	payload["end"] = int64(c.End)
	payload["token_estimate"] = int64(c.TokenEstimate)
	return payload
}
