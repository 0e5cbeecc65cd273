package plan

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/CairnAI/cairn-engine/engine/domain"
	"github.com/CairnAI/cairn-engine/engine/tool"
)

type noopTool struct{ name string }

func (n *noopTool) Spec() tool.Spec {
	return tool.Spec{Name: n.name, Cacheable: true, CacheTTL: time.Minute, Idempotent: true}
}

func (n *noopTool) Execute(context.Context, tool.Input) (any, error) { return nil, nil }

func fullRegistry(t *testing.T) *tool.Registry {
	t.Helper()
	r := tool.NewRegistry()
	for _, name := range []string{tool.NameRetrieval, tool.NameCalculator, tool.NameReference, tool.NameFetch} {
		if err := r.Register(&noopTool{name: name}); err != nil {
			t.Fatal(err)
		}
	}
	r.Freeze()
	return r
}

func quiet() *slog.Logger { return slog.New(slog.DiscardHandler) }

func planFor(t *testing.T, req domain.Request) *Plan {
	t.Helper()
	p, err := New(fullRegistry(t), nil, quiet()).Build(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestBuild_RetrievalByDefault(t *testing.T) {
	p := planFor(t, domain.Request{Query: "how do I replace the filter", CallerID: "c"})
	if len(p.Steps) != 1 || p.Steps[0].Tool != tool.NameRetrieval {
		t.Fatalf("expected retrieval only, got %v", p.Order())
	}
	if p.Mode != ModeParallel {
		t.Errorf("single-step plan must be parallel, got %s", p.Mode)
	}
	if p.FallbackUsed {
		t.Error("rule plan must not flag fallback")
	}
}

func TestBuild_SkipRetrieval(t *testing.T) {
	p := planFor(t, domain.Request{
		Query:       "convert 12 ft to m",
		CallerID:    "c",
		Preferences: domain.Preferences{SkipRetrieval: true},
	})
	for _, s := range p.Steps {
		if s.Tool == tool.NameRetrieval {
			t.Fatal("retrieval planned despite skip preference")
		}
	}
	if len(p.Steps) != 1 || p.Steps[0].Tool != tool.NameCalculator {
		t.Fatalf("expected calculator, got %v", p.Order())
	}
	if p.Steps[0].Input.Args["expression"] != "12 ft to m" {
		t.Errorf("expression not extracted: %v", p.Steps[0].Input.Args)
	}
}

func TestBuild_ArithmeticSelectsCalculator(t *testing.T) {
	p := planFor(t, domain.Request{Query: "result of 2 + 3 * 4 please", CallerID: "c"})
	order := p.Order()
	if len(order) != 2 || order[0] != tool.NameRetrieval || order[1] != tool.NameCalculator {
		t.Fatalf("order %v", order)
	}
	if p.Steps[1].Input.Args["expression"] != "2 + 3 * 4" {
		t.Errorf("expression not extracted: %v", p.Steps[1].Input.Args)
	}
	if p.Mode != ModeParallel {
		t.Errorf("independent steps must run parallel, got %s", p.Mode)
	}
}

func TestBuild_URLSelectsFetch(t *testing.T) {
	p := planFor(t, domain.Request{Query: "summarize https://example.com/manual.html please", CallerID: "c"})
	var fetch *Step
	for i := range p.Steps {
		if p.Steps[i].Tool == tool.NameFetch {
			fetch = &p.Steps[i]
		}
	}
	if fetch == nil {
		t.Fatalf("fetch not planned: %v", p.Order())
	}
	if fetch.Input.Args["url"] != "https://example.com/manual.html" {
		t.Errorf("url not extracted: %v", fetch.Input.Args)
	}
}

func TestBuild_DependencyForcesSequential(t *testing.T) {
	p := planFor(t, domain.Request{Query: "what is the tank capacity in liters, convert 16 gal to l", CallerID: "c"})
	if p.Mode != ModeSequential {
		t.Fatalf("declared dependency must force sequential, got %s", p.Mode)
	}
	var calc *Step
	for i := range p.Steps {
		if p.Steps[i].Tool == tool.NameCalculator {
			calc = &p.Steps[i]
		}
	}
	if calc == nil {
		t.Fatal("calculator not planned")
	}
	if len(calc.DependsOn) != 1 || calc.DependsOn[0] != tool.NameReference {
		t.Errorf("dependency not declared: %v", calc.DependsOn)
	}
}

func TestBuild_PriorityOrderStable(t *testing.T) {
	req := domain.Request{Query: "what is a relay and calculate 2 + 2 from https://example.com/x", CallerID: "c"}
	first := planFor(t, req).Order()
	want := []string{tool.NameRetrieval, tool.NameReference, tool.NameCalculator, tool.NameFetch}
	for i, name := range want {
		if first[i] != name {
			t.Fatalf("order %v, want %v", first, want)
		}
	}
	for i := 0; i < 5; i++ {
		again := planFor(t, req).Order()
		for j := range first {
			if again[j] != first[j] {
				t.Fatalf("plan order unstable: %v vs %v", again, first)
			}
		}
	}
}

func TestBuild_OnlyToolsRestricts(t *testing.T) {
	p := planFor(t, domain.Request{
		Query:       "what is a relay, also 2 + 2",
		CallerID:    "c",
		Preferences: domain.Preferences{OnlyTools: []string{tool.NameCalculator}},
	})
	if len(p.Steps) != 1 || p.Steps[0].Tool != tool.NameCalculator {
		t.Fatalf("restriction failed: %v", p.Order())
	}
	// The reference dependency was restricted away with its tool.
	if len(p.Steps[0].DependsOn) != 0 {
		t.Errorf("dangling dependency: %v", p.Steps[0].DependsOn)
	}
	if p.Mode != ModeParallel {
		t.Errorf("no dependency left, mode must be parallel: %s", p.Mode)
	}
}

func TestBuild_NothingApplies(t *testing.T) {
	_, err := New(fullRegistry(t), nil, quiet()).Build(context.Background(), domain.Request{
		Query:       "hello",
		CallerID:    "c",
		Preferences: domain.Preferences{SkipRetrieval: true},
	})
	if !errors.Is(err, domain.ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
}

type stubClassifier struct {
	names  []string
	err    error
	called bool
}

func (s *stubClassifier) Classify(context.Context, string) ([]string, error) {
	s.called = true
	return s.names, s.err
}

func TestBuild_ClassifierFallback(t *testing.T) {
	cl := &stubClassifier{names: []string{tool.NameCalculator}}
	p, err := New(fullRegistry(t), cl, quiet()).Build(context.Background(), domain.Request{Query: "hmm", CallerID: "c"})
	if err != nil {
		t.Fatal(err)
	}
	if !cl.called {
		t.Fatal("classifier not consulted")
	}
	if !p.FallbackUsed {
		t.Error("fallback must be flagged")
	}
	order := p.Order()
	if len(order) != 2 || order[1] != tool.NameCalculator {
		t.Errorf("classifier tools not planned: %v", order)
	}
}

func TestBuild_ClassifierNotConsultedWhenRulesMatch(t *testing.T) {
	cl := &stubClassifier{names: []string{tool.NameFetch}}
	p, err := New(fullRegistry(t), cl, quiet()).Build(context.Background(), domain.Request{Query: "2 + 2", CallerID: "c"})
	if err != nil {
		t.Fatal(err)
	}
	if cl.called {
		t.Error("classifier must not run when a rule matched")
	}
	if p.FallbackUsed {
		t.Error("fallback wrongly flagged")
	}
}

func TestBuild_ClassifierFailureFallsBackToRules(t *testing.T) {
	cl := &stubClassifier{err: errors.New("model down")}
	p, err := New(fullRegistry(t), cl, quiet()).Build(context.Background(), domain.Request{Query: "hello", CallerID: "c"})
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Steps) != 1 || p.Steps[0].Tool != tool.NameRetrieval {
		t.Fatalf("expected retrieval-only plan, got %v", p.Order())
	}
}
