package chunk

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer estimates the token count of a piece of text.
type Tokenizer interface {
	Count(text string) int
}

// WordEstimator approximates tokens as whitespace-delimited words. It is
// the zero-dependency fallback when no encoding is configured.
type WordEstimator struct{}

// Count implements Tokenizer.
func (WordEstimator) Count(text string) int {
	return len(strings.Fields(text))
}

// TiktokenCounter counts tokens with a BPE encoding, matching what
// embedding providers actually bill and truncate on.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the named encoding (e.g. "cl100k_base").
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("chunk: load encoding %s: %w", encoding, err)
	}
	return &TiktokenCounter{enc: enc}, nil
}

// Count implements Tokenizer.
func (t *TiktokenCounter) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}
