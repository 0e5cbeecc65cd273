// Package rerank rescores retrieval candidates against the query with a
// cross-encoder. The capability is optional at runtime: the retrieval
// pipeline degrades to vector ordering when reranking fails.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/CairnAI/cairn-engine/engine/domain"
	"github.com/CairnAI/cairn-engine/pkg/resilience"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Provider rescores candidates, returning at most topK passages with
// RerankScore populated, best first.
type Provider interface {
	Rerank(ctx context.Context, query string, candidates []domain.RetrievalPassage, topK int) ([]domain.RetrievalPassage, error)
}

// HTTPProvider calls a cross-encoder service speaking the common
// {query, documents} → {results: [{index, relevance_score}]} shape.
type HTTPProvider struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewHTTP creates an HTTP rerank provider.
func NewHTTP(baseURL, model string) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

type rerankReq struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResp struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank implements Provider.
func (p *HTTPProvider) Rerank(ctx context.Context, query string, candidates []domain.RetrievalPassage, topK int) ([]domain.RetrievalPassage, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.Chunk.Text
	}
	body, err := json.Marshal(rerankReq{Model: p.model, Query: query, Documents: docs, TopN: topK})
	if err != nil {
		return nil, &domain.ProviderError{Provider: "rerank", Wrapped: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, &domain.ProviderError{Provider: "rerank", Wrapped: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &domain.ProviderError{Provider: "rerank", Transient: true, Wrapped: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.ProviderError{
			Provider:  "rerank",
			Transient: resp.StatusCode >= 500,
			Wrapped:   fmt.Errorf("status %d", resp.StatusCode),
		}
	}

	var result rerankResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &domain.ProviderError{Provider: "rerank", Wrapped: fmt.Errorf("decode: %w", err)}
	}

	out := make([]domain.RetrievalPassage, 0, len(result.Results))
	for _, r := range result.Results {
		if r.Index < 0 || r.Index >= len(candidates) {
			return nil, &domain.ProviderError{Provider: "rerank", Wrapped: fmt.Errorf("index %d out of range", r.Index)}
		}
		p := candidates[r.Index]
		score := r.RelevanceScore
		p.RerankScore = &score
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return *out[i].RerankScore > *out[j].RerankScore })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// Guarded wraps a Provider with a circuit breaker so a dead rerank backend
// stops consuming its timeout on every query.
type Guarded struct {
	inner   Provider
	breaker *resilience.Breaker
}

// WithBreaker wraps p in a circuit breaker.
func WithBreaker(p Provider, b *resilience.Breaker) *Guarded {
	if b == nil {
		b = resilience.New(resilience.DefaultOpts)
	}
	return &Guarded{inner: p, breaker: b}
}

// Rerank implements Provider.
func (g *Guarded) Rerank(ctx context.Context, query string, candidates []domain.RetrievalPassage, topK int) ([]domain.RetrievalPassage, error) {
	var out []domain.RetrievalPassage
	err := g.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.inner.Rerank(ctx, query, candidates, topK)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
