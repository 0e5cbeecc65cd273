// Command engine serves the retrieval and tool orchestration API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/CairnAI/cairn-engine/engine/answer"
	"github.com/CairnAI/cairn-engine/engine/domain"
	"github.com/CairnAI/cairn-engine/engine/embed"
	"github.com/CairnAI/cairn-engine/engine/orchestrate"
	"github.com/CairnAI/cairn-engine/engine/plan"
	"github.com/CairnAI/cairn-engine/engine/rerank"
	"github.com/CairnAI/cairn-engine/engine/retrieval"
	"github.com/CairnAI/cairn-engine/engine/semantic"
	"github.com/CairnAI/cairn-engine/engine/tool"
	"github.com/CairnAI/cairn-engine/pkg/cache"
	"github.com/CairnAI/cairn-engine/pkg/metrics"
	"github.com/CairnAI/cairn-engine/pkg/mid"
	"github.com/CairnAI/cairn-engine/pkg/ratelimit"
	"github.com/CairnAI/cairn-engine/pkg/resilience"
)

// Config holds all environment-based configuration.
type Config struct {
	Port           string
	OllamaURL      string
	EmbedModel     string
	EmbedDim       int
	RerankURL      string
	RerankModel    string
	QdrantURL      string
	Collection     string
	Neo4jURL       string
	Neo4jUser      string
	Neo4jPass      string
	NATSURL        string
	ContextVersion string
	PerMinute      int
	PerDay         int
	CacheEntries   int
}

func loadConfig() Config {
	return Config{
		Port:           envOr("PORT", "8080"),
		OllamaURL:      envOr("OLLAMA_URL", "http://localhost:11434"),
		EmbedModel:     envOr("EMBED_MODEL", "nomic-embed-text"),
		EmbedDim:       envIntOr("EMBED_DIM", 768),
		RerankURL:      envOr("RERANK_URL", ""),
		RerankModel:    envOr("RERANK_MODEL", "bge-reranker-base"),
		QdrantURL:      envOr("QDRANT_URL", "localhost:6334"),
		Collection:     envOr("QDRANT_COLLECTION", "cairn"),
		Neo4jURL:       envOr("NEO4J_URL", ""),
		Neo4jUser:      envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:      envOr("NEO4J_PASS", "password"),
		NATSURL:        envOr("NATS_URL", ""),
		ContextVersion: envOr("CONTEXT_VERSION", "v1"),
		PerMinute:      envIntOr("RATE_PER_MINUTE", 30),
		PerDay:         envIntOr("RATE_PER_DAY", 2000),
		CacheEntries:   envIntOr("CACHE_ENTRIES", 4096),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	met := metrics.New()

	// --- Embedding provider ---
	embedder := embed.WithRetry(embed.NewOllama(cfg.OllamaURL, cfg.EmbedModel, cfg.EmbedDim))

	// --- Vector index ---
	vectorIndex, err := semantic.NewQdrant(cfg.QdrantURL, cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer vectorIndex.Close()

	// --- Reranker (optional) ---
	var reranker rerank.Provider
	if cfg.RerankURL != "" {
		reranker = rerank.WithBreaker(
			rerank.NewHTTP(cfg.RerankURL, cfg.RerankModel),
			resilience.New(resilience.DefaultOpts),
		)
	}

	pipeline := retrieval.New(embedder, vectorIndex, reranker, retrieval.DefaultOptions(), logger)

	// --- Tools ---
	registry := tool.NewRegistry()
	if err := registry.Register(tool.NewRetrieval(pipeline, 0)); err != nil {
		return err
	}
	if err := registry.Register(tool.NewCalculator()); err != nil {
		return err
	}
	if err := registry.Register(tool.NewFetch(tool.DefaultFetchOptions())); err != nil {
		return err
	}
	if cfg.Neo4jURL != "" {
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
		if err != nil {
			return fmt.Errorf("neo4j driver: %w", err)
		}
		defer driver.Close(ctx)
		if err := registry.Register(tool.NewReference(driver, 0)); err != nil {
			return err
		}
	}
	registry.Freeze()

	// --- NATS (optional) ---
	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = nats.Connect(cfg.NATSURL, nats.Name("cairn-engine"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Drain()
	}

	// --- Orchestration ---
	limiter := ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.Limits{
		PerMinute: cfg.PerMinute,
		PerDay:    cfg.PerDay,
	})
	responseCache, err := cache.New(cfg.CacheEntries)
	if err != nil {
		return err
	}
	orchOpts := orchestrate.DefaultOptions()
	orchOpts.ContextVersion = cfg.ContextVersion
	orchestrator := orchestrate.New(registry, limiter, responseCache, nc, met, orchOpts, logger)

	svc := answer.New(plan.New(registry, nil, logger), orchestrator, logger)

	// --- HTTP server ---
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.Handle("POST /api/ask", handleAsk(svc, logger))
	mux.Handle("GET /metrics", met.Handler())

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.OTel("cairn-engine"),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("engine starting", "port", cfg.Port, "tools", registry.Names())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// AskRequest is the JSON body for POST /api/ask.
type AskRequest struct {
	Query       string             `json:"query"`
	CallerID    string             `json:"caller_id"`
	Filters     map[string]string  `json:"filters,omitempty"`
	Preferences domain.Preferences `json:"preferences,omitempty"`
	TimeoutMS   int64              `json:"timeout_ms,omitempty"`
}

func handleAsk(svc *answer.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body AskRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		req := domain.Request{
			Query:       body.Query,
			CallerID:    body.CallerID,
			Filters:     body.Filters,
			Preferences: body.Preferences,
		}
		if body.TimeoutMS > 0 {
			req.Deadline = time.Now().Add(time.Duration(body.TimeoutMS) * time.Millisecond)
		}

		resp, err := svc.Ask(r.Context(), req)
		if err != nil {
			var vErr *domain.ValidationError
			var rlErr *domain.RateLimitError
			switch {
			case errors.As(err, &vErr):
				writeError(w, http.StatusBadRequest, vErr.Error())
			case errors.As(err, &rlErr):
				w.Header().Set("Retry-After", strconv.Itoa(int(rlErr.RetryAfter.Seconds())+1))
				writeError(w, http.StatusTooManyRequests, rlErr.Error())
			case errors.Is(err, domain.ErrAllToolsFailed):
				writeError(w, http.StatusBadGateway, "all tools failed")
			default:
				logger.Error("ask failed", "err", err)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
