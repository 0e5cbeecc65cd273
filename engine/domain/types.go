// Package domain holds the shared types and error taxonomy of the answer
// engine. Everything here is plain data; behaviour lives in the engine
// packages that consume it.
package domain

import "time"

// Chunk is the smallest retrievable unit of a source document. Chunks are
// immutable once produced; re-chunking a document replaces all of them.
type Chunk struct {
	DocID         string `json:"doc_id"`
	Index         int    `json:"index"`
	Text          string `json:"text"`
	Start         int    `json:"start"`
	End           int    `json:"end"`
	TokenEstimate int    `json:"token_estimate"`
}

// RetrievalPassage is one ranked result of a retrieval call. Transient:
// the engine never persists passages.
type RetrievalPassage struct {
	Chunk       Chunk    `json:"chunk"`
	VectorScore float64  `json:"vector_score"`
	RerankScore *float64 `json:"rerank_score,omitempty"`
	Rank        int      `json:"rank"`
}

// Score returns the rerank score when present, otherwise the vector score.
func (p RetrievalPassage) Score() float64 {
	if p.RerankScore != nil {
		return *p.RerankScore
	}
	return p.VectorScore
}

// Request is the inbound query handed over by the outer request layer.
type Request struct {
	Query       string            `json:"query"`
	CallerID    string            `json:"caller_id"`
	Filters     map[string]string `json:"filters,omitempty"`
	Preferences Preferences       `json:"preferences,omitempty"`
	Deadline    time.Time         `json:"deadline,omitempty"`
}

// Preferences tune planning without changing tool semantics.
type Preferences struct {
	SkipRetrieval bool     `json:"skip_retrieval,omitempty"`
	OnlyTools     []string `json:"only_tools,omitempty"`
}

// ExecutionSummary counts per-tool outcomes for one orchestration.
type ExecutionSummary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// CacheStats reports response-cache activity for one request.
type CacheStats struct {
	Hits   int `json:"hits"`
	Misses int `json:"misses"`
}

// ToolOutcome is one tool's contribution to a response.
type ToolOutcome struct {
	ToolName  string `json:"tool_name"`
	Data      any    `json:"data,omitempty"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
	CacheHit  bool   `json:"cache_hit"`
	Skipped   bool   `json:"skipped,omitempty"`
	TimedOut  bool   `json:"timed_out,omitempty"`
}

// Response is the structured, provenance-tagged result of one query.
// AnswerComponents is keyed by tool name; ComponentOrder preserves the
// planner's priority order for callers that render components in sequence.
type Response struct {
	AnswerComponents map[string]ToolOutcome `json:"answer_components"`
	ComponentOrder   []string               `json:"component_order"`
	Passages         []RetrievalPassage     `json:"retrieval_passages,omitempty"`
	Summary          ExecutionSummary       `json:"execution_summary"`
	Cache            CacheStats             `json:"cache_stats"`
	RerankingUsed    bool                   `json:"reranking_used"`
	FallbackUsed     bool                   `json:"fallback_used"`
}
