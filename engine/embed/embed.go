// Package embed defines the embedding capability used at index and query
// time, with an Ollama-backed implementation and a retrying wrapper for
// transient provider failures.
package embed

import (
	"context"
	"fmt"
)

// Mode distinguishes index-time from query-time embedding. Providers may
// frame the input differently per mode to exploit asymmetric retrieval;
// callers never see the framing.
type Mode string

const (
	ModeIndex Mode = "index"
	ModeQuery Mode = "query"
)

// Provider is the embedding capability.
type Provider interface {
	Embed(ctx context.Context, text string, mode Mode) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string, mode Mode) ([][]float32, error)
	Dimension() int
	ProviderID() string
}

// Error reports a failed embedding call. TextsFailed carries the indexes
// of the inputs that could not be embedded.
type Error struct {
	ProviderID  string
	TextsFailed []int
	Wrapped     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("embed: provider %s failed for %d input(s): %v", e.ProviderID, len(e.TextsFailed), e.Wrapped)
}

func (e *Error) Unwrap() error { return e.Wrapped }
