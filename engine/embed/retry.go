package embed

import (
	"context"

	"github.com/CairnAI/cairn-engine/engine/domain"
	"github.com/CairnAI/cairn-engine/pkg/fn"
)

// Retrying wraps a Provider with the engine's provider retry policy: up to
// three attempts with exponential backoff (200ms base, doubling, jitter),
// retrying transient failures only. Malformed-input failures surface
// immediately.
type Retrying struct {
	inner Provider
	opts  fn.RetryOpts
}

// WithRetry wraps p in the standard retry policy.
func WithRetry(p Provider) *Retrying {
	opts := fn.DefaultRetry
	opts.ShouldRetry = domain.IsTransient
	return &Retrying{inner: p, opts: opts}
}

// Embed implements Provider.
func (r *Retrying) Embed(ctx context.Context, text string, mode Mode) ([]float32, error) {
	return fn.Retry(ctx, r.opts, func(ctx context.Context) fn.Result[[]float32] {
		return fn.FromPair(r.inner.Embed(ctx, text, mode))
	}).Unwrap()
}

// EmbedBatch implements Provider.
func (r *Retrying) EmbedBatch(ctx context.Context, texts []string, mode Mode) ([][]float32, error) {
	return fn.Retry(ctx, r.opts, func(ctx context.Context) fn.Result[[][]float32] {
		return fn.FromPair(r.inner.EmbedBatch(ctx, texts, mode))
	}).Unwrap()
}

// Dimension implements Provider.
func (r *Retrying) Dimension() int { return r.inner.Dimension() }

// ProviderID implements Provider.
func (r *Retrying) ProviderID() string { return r.inner.ProviderID() }
