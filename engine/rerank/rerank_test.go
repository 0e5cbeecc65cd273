package rerank

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/CairnAI/cairn-engine/engine/domain"
	"github.com/CairnAI/cairn-engine/pkg/resilience"
)

func passages(texts ...string) []domain.RetrievalPassage {
	out := make([]domain.RetrievalPassage, len(texts))
	for i, txt := range texts {
		out[i] = domain.RetrievalPassage{
			Chunk:       domain.Chunk{DocID: "d", Index: i, Text: txt},
			VectorScore: 1 - float64(i)*0.1,
		}
	}
	return out
}

func TestRerank_OrdersByRelevance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rerankReq
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Documents) != 3 {
			t.Errorf("expected 3 documents, got %d", len(req.Documents))
		}
		// Reverse the vector order.
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"index": 2, "relevance_score": 0.9},
				{"index": 0, "relevance_score": 0.4},
				{"index": 1, "relevance_score": 0.1},
			},
		})
	}))
	t.Cleanup(srv.Close)

	p := NewHTTP(srv.URL, "test-reranker")
	out, err := p.Rerank(context.Background(), "q", passages("a", "b", "c"), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("expected topK=2, got %d", len(out))
	}
	if out[0].Chunk.Text != "c" || out[1].Chunk.Text != "a" {
		t.Errorf("wrong order: %q then %q", out[0].Chunk.Text, out[1].Chunk.Text)
	}
	if out[0].RerankScore == nil || *out[0].RerankScore != 0.9 {
		t.Errorf("rerank score not populated: %+v", out[0])
	}
}

func TestRerank_EmptyCandidates(t *testing.T) {
	p := NewHTTP("http://localhost:0", "m")
	out, err := p.Rerank(context.Background(), "q", nil, 5)
	if err != nil || out != nil {
		t.Fatalf("empty candidates should short-circuit: %v %v", out, err)
	}
}

func TestRerank_ServerErrorTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	p := NewHTTP(srv.URL, "m")
	_, err := p.Rerank(context.Background(), "q", passages("a"), 1)
	if !domain.IsTransient(err) {
		t.Fatalf("5xx should be transient, got %v", err)
	}
}

func TestRerank_BadIndexRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{{"index": 9, "relevance_score": 0.5}},
		})
	}))
	t.Cleanup(srv.Close)

	p := NewHTTP(srv.URL, "m")
	if _, err := p.Rerank(context.Background(), "q", passages("a"), 1); err == nil {
		t.Fatal("out-of-range index must error")
	}
}

func TestGuarded_OpensAfterFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	g := WithBreaker(NewHTTP(srv.URL, "m"), resilience.New(resilience.Opts{FailThreshold: 2}))
	g.Rerank(context.Background(), "q", passages("a"), 1)
	g.Rerank(context.Background(), "q", passages("a"), 1)

	_, err := g.Rerank(context.Background(), "q", passages("a"), 1)
	if !errors.Is(err, resilience.ErrOpen) {
		t.Fatalf("expected breaker open, got %v", err)
	}
}
