// Command index loads documents from a directory into the vector index:
// chunk, embed, upsert. Re-running over the same directory is idempotent;
// -reindex additionally drops stale points of documents that shrank.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/CairnAI/cairn-engine/engine/chunk"
	"github.com/CairnAI/cairn-engine/engine/embed"
	"github.com/CairnAI/cairn-engine/engine/index"
	"github.com/CairnAI/cairn-engine/engine/semantic"
	"github.com/CairnAI/cairn-engine/pkg/fn"
)

func main() {
	var (
		dir         = flag.String("dir", ".", "directory of documents (.txt, .md, .json)")
		ollamaURL   = flag.String("ollama", "http://localhost:11434", "Ollama base URL")
		model       = flag.String("model", "nomic-embed-text", "embedding model")
		dim         = flag.Int("dim", 768, "embedding dimension")
		qdrantAddr  = flag.String("qdrant", "localhost:6334", "Qdrant gRPC address")
		collection  = flag.String("collection", "cairn", "Qdrant collection name")
		strategy    = flag.String("strategy", string(chunk.StrategyAdaptive), "chunking strategy: fixed, sentence, semantic, adaptive")
		targetSize  = flag.Int("target", 512, "target chunk size in tokens")
		overlap     = flag.Int("overlap", 50, "chunk overlap in tokens")
		encoding    = flag.String("encoding", "cl100k_base", "tiktoken encoding for token counting, empty for word estimation")
		batchSize   = flag.Int("batch", 100, "chunks per embed/upsert batch")
		workers     = flag.Int("workers", 2, "documents processed concurrently")
		reindexFlag = flag.Bool("reindex", false, "delete existing points per document before writing")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(context.Background(), config{
		dir:        *dir,
		ollamaURL:  *ollamaURL,
		model:      *model,
		dim:        *dim,
		qdrantAddr: *qdrantAddr,
		collection: *collection,
		strategy:   chunk.Strategy(*strategy),
		targetSize: *targetSize,
		overlap:    *overlap,
		encoding:   *encoding,
		batchSize:  *batchSize,
		workers:    *workers,
		reindex:    *reindexFlag,
	}, logger); err != nil {
		logger.Error("indexing failed", "err", err)
		os.Exit(1)
	}
}

type config struct {
	dir        string
	ollamaURL  string
	model      string
	dim        int
	qdrantAddr string
	collection string
	strategy   chunk.Strategy
	targetSize int
	overlap    int
	encoding   string
	batchSize  int
	workers    int
	reindex    bool
}

func run(ctx context.Context, cfg config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var tok chunk.Tokenizer = chunk.WordEstimator{}
	if cfg.encoding != "" {
		counter, err := chunk.NewTiktokenCounter(cfg.encoding)
		if err != nil {
			return err
		}
		tok = counter
	}

	chunker, err := chunk.New(chunk.Config{
		Strategy:            cfg.strategy,
		TargetSize:          cfg.targetSize,
		Overlap:             cfg.overlap,
		SimilarityThreshold: chunk.DefaultConfig().SimilarityThreshold,
	}, tok, logger)
	if err != nil {
		return err
	}

	vectorIndex, err := semantic.NewQdrant(cfg.qdrantAddr, cfg.collection)
	if err != nil {
		return err
	}
	defer vectorIndex.Close()

	embedder := embed.WithRetry(embed.NewOllama(cfg.ollamaURL, cfg.model, cfg.dim))
	indexer := index.New(chunker, embedder, vectorIndex, index.Options{BatchSize: cfg.batchSize}, logger)

	if err := indexer.EnsureReady(ctx); err != nil {
		return err
	}

	docs, err := loadDocuments(cfg.dir)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		logger.Warn("no documents found", "dir", cfg.dir)
		return nil
	}

	started := time.Now()
	type docResult struct {
		doc    string
		points int
		err    error
	}
	results := fn.ParMap(docs, cfg.workers, func(doc index.Document) docResult {
		var points int
		var err error
		if cfg.reindex {
			points, err = indexer.Reindex(ctx, doc)
		} else {
			points, err = indexer.Index(ctx, doc)
		}
		return docResult{doc: doc.ID, points: points, err: err}
	})

	total, failures := 0, 0
	for _, r := range results {
		if r.err != nil {
			failures++
			logger.Error("document failed", "doc_id", r.doc, "err", r.err)
			continue
		}
		total += r.points
	}
	logger.Info("indexing finished",
		"documents", len(docs),
		"failed", failures,
		"points", total,
		"duration", time.Since(started).Round(time.Millisecond),
	)
	if failures > 0 {
		return fmt.Errorf("%d of %d documents failed", failures, len(docs))
	}
	return nil
}

// jsonDocument is the optional structured input format: content plus
// filterable metadata.
type jsonDocument struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func loadDocuments(dir string) ([]index.Document, error) {
	var docs []index.Document
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".txt" && ext != ".md" && ext != ".json" {
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		if ext == ".json" {
			var jd jsonDocument
			if err := json.Unmarshal(raw, &jd); err != nil {
				return fmt.Errorf("parse %s: %w", path, err)
			}
			if jd.ID == "" {
				jd.ID = docID(dir, path)
			}
			docs = append(docs, index.Document{ID: jd.ID, Text: jd.Content, Metadata: jd.Metadata})
			return nil
		}
		docs = append(docs, index.Document{ID: docID(dir, path), Text: string(raw)})
		return nil
	})
	return docs, err
}

func docID(dir, path string) string {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	return strings.TrimSuffix(filepath.ToSlash(rel), filepath.Ext(rel))
}
