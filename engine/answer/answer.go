// Package answer is the engine's front door: validate the request, plan
// the tools, orchestrate their execution, and assemble the structured
// response with provenance and degradation flags.
package answer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/CairnAI/cairn-engine/engine/domain"
	"github.com/CairnAI/cairn-engine/engine/orchestrate"
	"github.com/CairnAI/cairn-engine/engine/plan"
	"github.com/CairnAI/cairn-engine/engine/retrieval"
	"github.com/CairnAI/cairn-engine/engine/tool"
)

// Service answers queries.
type Service struct {
	planner      *plan.Planner
	orchestrator *orchestrate.Orchestrator
	logger       *slog.Logger
}

// New creates a Service.
func New(planner *plan.Planner, orchestrator *orchestrate.Orchestrator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{planner: planner, orchestrator: orchestrator, logger: logger}
}

// Ask answers one request. Per-tool failures degrade the response; the
// returned error is non-nil only when nothing useful could be produced.
func (s *Service) Ask(ctx context.Context, req domain.Request) (*domain.Response, error) {
	if err := domain.ValidateRequest(req); err != nil {
		return nil, err
	}

	if !req.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}

	started := time.Now()
	p, err := s.planner.Build(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("answer: %w", err)
	}

	result, err := s.orchestrator.Execute(ctx, req.CallerID, p)
	if err != nil {
		return nil, fmt.Errorf("answer: %w", err)
	}

	resp := assemble(p, result)
	s.logger.Info("request answered",
		"caller_id", req.CallerID,
		"tools", result.Order,
		"state", result.State,
		"fallback_used", resp.FallbackUsed,
		"duration_ms", time.Since(started).Milliseconds(),
	)

	if result.State == orchestrate.StateFailed {
		return resp, fmt.Errorf("answer: %w", domain.ErrAllToolsFailed)
	}
	return resp, nil
}

// assemble merges the orchestration result into the response shape.
// Retrieval passages are lifted to the top level; the raw outcome stays in
// the component map for provenance.
func assemble(p *plan.Plan, result *orchestrate.Result) *domain.Response {
	resp := &domain.Response{
		AnswerComponents: result.Outcomes,
		ComponentOrder:   result.Order,
		Summary:          result.Summary,
		Cache:            result.Cache,
		FallbackUsed:     p.FallbackUsed,
	}

	if outcome, ok := result.Outcomes[tool.NameRetrieval]; ok && outcome.Success {
		if rr, ok := outcome.Data.(*retrieval.Result); ok {
			resp.Passages = rr.Passages
			resp.RerankingUsed = rr.RerankingUsed
		}
	}
	return resp
}
