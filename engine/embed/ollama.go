package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/CairnAI/cairn-engine/engine/domain"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Instruction prefixes for asymmetric retrieval models. Query and passage
// sides are framed differently; the framing never leaves this package.
const (
	queryPrefix = "search_query: "
	indexPrefix = "search_document: "
)

// OllamaProvider implements Provider against Ollama's embeddings API.
type OllamaProvider struct {
	baseURL string
	model   string
	dim     int
	client  *http.Client
}

// NewOllama creates an Ollama embedding provider. dim must match the
// model's output dimension; it is declared here so collections can be
// created before the first embedding call.
func NewOllama(baseURL, model string, dim int) *OllamaProvider {
	return &OllamaProvider{
		baseURL: baseURL,
		model:   model,
		dim:     dim,
		client:  &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

// Dimension implements Provider.
func (p *OllamaProvider) Dimension() int { return p.dim }

// ProviderID implements Provider.
func (p *OllamaProvider) ProviderID() string { return "ollama/" + p.model }

type ollamaReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResp struct {
	Embedding []float64 `json:"embedding"`
}

// Embed implements Provider.
func (p *OllamaProvider) Embed(ctx context.Context, text string, mode Mode) ([]float32, error) {
	vec, err := p.call(ctx, frame(text, mode))
	if err != nil {
		return nil, &Error{ProviderID: p.ProviderID(), TextsFailed: []int{0}, Wrapped: err}
	}
	return vec, nil
}

// EmbedBatch implements Provider. Ollama has no batch endpoint, so inputs
// are sent sequentially; the first failure aborts with the remaining
// indexes marked failed.
func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string, mode Mode) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := p.call(ctx, frame(text, mode))
		if err != nil {
			failed := make([]int, 0, len(texts)-i)
			for j := i; j < len(texts); j++ {
				failed = append(failed, j)
			}
			return nil, &Error{ProviderID: p.ProviderID(), TextsFailed: failed, Wrapped: err}
		}
		out[i] = vec
	}
	return out, nil
}

func frame(text string, mode Mode) string {
	if mode == ModeQuery {
		return queryPrefix + text
	}
	return indexPrefix + text
}

func (p *OllamaProvider) call(ctx context.Context, prompt string) ([]float32, error) {
	body, err := json.Marshal(ollamaReq{Model: p.model, Prompt: prompt})
	if err != nil {
		return nil, &domain.ProviderError{Provider: p.ProviderID(), Wrapped: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, &domain.ProviderError{Provider: p.ProviderID(), Wrapped: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		// Network failures are transient by classification.
		return nil, &domain.ProviderError{Provider: p.ProviderID(), Transient: true, Wrapped: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, &domain.ProviderError{Provider: p.ProviderID(), Transient: true, Wrapped: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return nil, &domain.ProviderError{Provider: p.ProviderID(), Wrapped: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var result ollamaResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &domain.ProviderError{Provider: p.ProviderID(), Wrapped: fmt.Errorf("decode: %w", err)}
	}

	out := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		out[i] = float32(v)
	}
	return out, nil
}
