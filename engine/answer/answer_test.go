package answer

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/CairnAI/cairn-engine/engine/domain"
	"github.com/CairnAI/cairn-engine/engine/orchestrate"
	"github.com/CairnAI/cairn-engine/engine/plan"
	"github.com/CairnAI/cairn-engine/engine/retrieval"
	"github.com/CairnAI/cairn-engine/engine/tool"
	"github.com/CairnAI/cairn-engine/pkg/cache"
	"github.com/CairnAI/cairn-engine/pkg/ratelimit"
)

type stubTool struct {
	name string
	data any
	err  error
}

func (s *stubTool) Spec() tool.Spec {
	return tool.Spec{Name: s.name, Cacheable: false, Idempotent: true}
}

func (s *stubTool) Execute(context.Context, tool.Input) (any, error) {
	return s.data, s.err
}

func retrievalData() *retrieval.Result {
	return &retrieval.Result{
		Passages: []domain.RetrievalPassage{
			{Chunk: domain.Chunk{DocID: "d", Index: 0, Text: "relevant passage"}, VectorScore: 0.8},
		},
		RerankingUsed:        true,
		CandidatesConsidered: 5,
	}
}

func quiet() *slog.Logger { return slog.New(slog.DiscardHandler) }

func service(t *testing.T, classifier plan.Classifier, tools ...tool.Tool) *Service {
	t.Helper()
	r := tool.NewRegistry()
	for _, tl := range tools {
		if err := r.Register(tl); err != nil {
			t.Fatal(err)
		}
	}
	r.Freeze()

	c, err := cache.New(64)
	if err != nil {
		t.Fatal(err)
	}
	orch := orchestrate.New(r, nil, c, nil, nil, orchestrate.Options{}, quiet())
	return New(plan.New(r, classifier, quiet()), orch, quiet())
}

func TestAsk_RetrievalAndCalculator(t *testing.T) {
	s := service(t, nil,
		&stubTool{name: tool.NameRetrieval, data: retrievalData()},
		&stubTool{name: tool.NameCalculator, data: &tool.Calculation{Expression: "2 + 2", Value: 4}},
	)

	resp, err := s.Ask(context.Background(), domain.Request{Query: "what does 2 + 2 equal", CallerID: "c"})
	if err != nil {
		t.Fatal(err)
	}

	// Component order follows planner priority, retrieval first.
	if len(resp.ComponentOrder) != 2 ||
		resp.ComponentOrder[0] != tool.NameRetrieval ||
		resp.ComponentOrder[1] != tool.NameCalculator {
		t.Fatalf("component order %v", resp.ComponentOrder)
	}
	if len(resp.Passages) != 1 || resp.Passages[0].Chunk.Text != "relevant passage" {
		t.Errorf("passages not lifted: %+v", resp.Passages)
	}
	if !resp.RerankingUsed {
		t.Error("reranking flag not propagated")
	}
	if resp.Summary.Successful != 2 || resp.Summary.Failed != 0 {
		t.Errorf("summary %+v", resp.Summary)
	}
	calcOutcome := resp.AnswerComponents[tool.NameCalculator]
	if calc, ok := calcOutcome.Data.(*tool.Calculation); !ok || calc.Value != 4 {
		t.Errorf("calculator outcome %+v", calcOutcome)
	}
}

func TestAsk_ValidationRejected(t *testing.T) {
	s := service(t, nil, &stubTool{name: tool.NameRetrieval, data: retrievalData()})

	_, err := s.Ask(context.Background(), domain.Request{Query: "   ", CallerID: "c"})
	if !errors.Is(err, domain.ErrQueryEmpty) {
		t.Fatalf("expected ErrQueryEmpty, got %v", err)
	}
	_, err = s.Ask(context.Background(), domain.Request{Query: "ok"})
	if !errors.Is(err, domain.ErrCallerMissing) {
		t.Fatalf("expected ErrCallerMissing, got %v", err)
	}
}

func TestAsk_PartialFailureDegrades(t *testing.T) {
	s := service(t, nil,
		&stubTool{name: tool.NameRetrieval, data: retrievalData()},
		&stubTool{name: tool.NameCalculator, err: errors.New("parse failure")},
	)

	resp, err := s.Ask(context.Background(), domain.Request{Query: "compute 2 + 2", CallerID: "c"})
	if err != nil {
		t.Fatalf("partial failure must not error: %v", err)
	}
	if resp.Summary.Failed != 1 || resp.Summary.Successful != 1 {
		t.Fatalf("summary %+v", resp.Summary)
	}
	if len(resp.Passages) != 1 {
		t.Error("surviving component must be present")
	}
}

func TestAsk_AllFailed(t *testing.T) {
	s := service(t, nil,
		&stubTool{name: tool.NameRetrieval, err: errors.New("index down")},
	)

	resp, err := s.Ask(context.Background(), domain.Request{Query: "anything", CallerID: "c"})
	if !errors.Is(err, domain.ErrAllToolsFailed) {
		t.Fatalf("expected ErrAllToolsFailed, got %v", err)
	}
	if resp == nil || resp.Summary.Failed != 1 {
		t.Fatalf("failed response must still carry outcomes: %+v", resp)
	}
}

func TestAsk_RateLimitSurfacedTyped(t *testing.T) {
	r := tool.NewRegistry()
	if err := r.Register(&stubTool{name: tool.NameRetrieval, data: retrievalData()}); err != nil {
		t.Fatal(err)
	}
	r.Freeze()

	c, err := cache.New(64)
	if err != nil {
		t.Fatal(err)
	}
	limiter := ratelimit.New(ratelimit.NewMemoryStore(), ratelimit.Limits{PerMinute: 1})
	orch := orchestrate.New(r, limiter, c, nil, nil, orchestrate.Options{}, quiet())
	s := New(plan.New(r, nil, quiet()), orch, quiet())

	if _, err := s.Ask(context.Background(), domain.Request{Query: "first question", CallerID: "c"}); err != nil {
		t.Fatal(err)
	}

	// Quota is spent; transports need the typed error to answer 429.
	_, err = s.Ask(context.Background(), domain.Request{Query: "second question", CallerID: "c"})
	var rl *domain.RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rl.RetryAfter <= 0 {
		t.Errorf("retry_after must be positive, got %s", rl.RetryAfter)
	}
}

type fixedClassifier struct{ names []string }

func (f *fixedClassifier) Classify(context.Context, string) ([]string, error) {
	return f.names, nil
}

func TestAsk_FallbackFlagged(t *testing.T) {
	s := service(t, &fixedClassifier{names: []string{tool.NameCalculator}},
		&stubTool{name: tool.NameRetrieval, data: retrievalData()},
		&stubTool{name: tool.NameCalculator, data: &tool.Calculation{Value: 1}},
	)

	resp, err := s.Ask(context.Background(), domain.Request{Query: "no rule matches this", CallerID: "c"})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.FallbackUsed {
		t.Fatal("fallback_used must be set when the classifier planned tools")
	}
}

func TestAsk_DeadlineHonored(t *testing.T) {
	s := service(t, nil, &stubTool{name: tool.NameRetrieval, data: retrievalData()})

	resp, err := s.Ask(context.Background(), domain.Request{
		Query:    "quick question",
		CallerID: "c",
		Deadline: time.Now().Add(5 * time.Second),
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Summary.Successful != 1 {
		t.Fatalf("summary %+v", resp.Summary)
	}
}
