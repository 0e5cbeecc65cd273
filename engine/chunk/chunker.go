// Package chunk splits raw document text into retrieval-sized passages.
// Four strategies are supported: fixed token slices, sentence merging,
// semantic boundary detection, and an adaptive mode that picks between
// them based on the shape of the text.
package chunk

import (
	"fmt"
	"log/slog"

	"github.com/CairnAI/cairn-engine/engine/domain"
)

// Strategy selects the splitting algorithm.
type Strategy string

const (
	StrategyFixed    Strategy = "fixed"
	StrategySentence Strategy = "sentence"
	StrategySemantic Strategy = "semantic"
	StrategyAdaptive Strategy = "adaptive"
)

// Config configures a Chunker.
type Config struct {
	Strategy   Strategy
	TargetSize int // tokens per chunk
	Overlap    int // tokens shared between adjacent chunks; must be < TargetSize
	// SimilarityThreshold is the lexical-similarity floor for semantic
	// splitting: a boundary is placed where adjacent sentences fall below it.
	SimilarityThreshold float64
}

// DefaultConfig returns production chunking defaults.
func DefaultConfig() Config {
	return Config{
		Strategy:            StrategyAdaptive,
		TargetSize:          512,
		Overlap:             50,
		SimilarityThreshold: 0.15,
	}
}

// Chunker splits text into domain.Chunks.
type Chunker struct {
	cfg    Config
	tok    Tokenizer
	logger *slog.Logger
}

// New validates cfg and creates a Chunker. A nil tokenizer falls back to
// the word estimator.
func New(cfg Config, tok Tokenizer, logger *slog.Logger) (*Chunker, error) {
	if cfg.TargetSize <= 0 {
		return nil, &domain.ConfigurationError{Component: "chunker", Reason: fmt.Sprintf("target size must be positive, got %d", cfg.TargetSize)}
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.TargetSize {
		return nil, &domain.ConfigurationError{Component: "chunker", Reason: fmt.Sprintf("overlap %d must be in [0, target size %d)", cfg.Overlap, cfg.TargetSize)}
	}
	switch cfg.Strategy {
	case StrategyFixed, StrategySentence, StrategySemantic, StrategyAdaptive:
	default:
		return nil, &domain.ConfigurationError{Component: "chunker", Reason: fmt.Sprintf("unknown strategy %q", cfg.Strategy)}
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = DefaultConfig().SimilarityThreshold
	}
	if tok == nil {
		tok = WordEstimator{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chunker{cfg: cfg, tok: tok, logger: logger}, nil
}

// Split chunks text for docID. Empty or whitespace-only input yields an
// empty slice.
func (c *Chunker) Split(docID, text string) []domain.Chunk {
	if isBlank(text) {
		return nil
	}

	var spans []span
	switch c.effectiveStrategy(text) {
	case StrategyFixed:
		spans = c.fixedSplit(text, 0, c.cfg.Overlap)
	case StrategySentence:
		spans = c.sentenceSplit(text)
	default:
		spans = c.semanticSplit(text)
	}

	chunks := make([]domain.Chunk, len(spans))
	for i, s := range spans {
		chunks[i] = domain.Chunk{
			DocID:         docID,
			Index:         i,
			Text:          s.text,
			Start:         s.start,
			End:           s.end,
			TokenEstimate: c.tok.Count(s.text),
		}
	}
	c.logger.Debug("chunked document", "doc_id", docID, "chunks", len(chunks), "strategy", c.cfg.Strategy)
	return chunks
}

// effectiveStrategy resolves adaptive mode: fixed for short or
// list/table-structured text, semantic for long prose.
func (c *Chunker) effectiveStrategy(text string) Strategy {
	if c.cfg.Strategy != StrategyAdaptive {
		return c.cfg.Strategy
	}
	if c.tok.Count(text) <= c.cfg.TargetSize || structured(text) {
		return StrategyFixed
	}
	return StrategySemantic
}

// fixedSplit slices text hard at token boundaries with the given overlap.
func (c *Chunker) fixedSplit(text string, base, overlap int) []span {
	words := wordSpans(text)
	if len(words) == 0 {
		return nil
	}

	var out []span
	start := 0
	for start < len(words) {
		end, tokens := start, 0
		for end < len(words) {
			w := c.tok.Count(words[end].text)
			if tokens+w > c.cfg.TargetSize && tokens > 0 {
				break
			}
			tokens += w
			end++
		}

		out = append(out, span{
			text:  text[words[start].start:words[end-1].end],
			start: base + words[start].start,
			end:   base + words[end-1].end,
		})
		if end >= len(words) {
			break
		}
		start = backUp(words, start, end, overlap, c.tok)
	}
	return out
}

// sentenceSplit merges whole sentences up to the target size. A single
// sentence longer than the target is force-split at the token boundary
// instead of producing an oversized chunk.
func (c *Chunker) sentenceSplit(text string) []span {
	return c.mergeSentences(text, sentenceSpans(text), nil)
}

// semanticSplit places boundaries where adjacent sentences are lexically
// dissimilar, then applies the same size and overflow rules as sentence
// merging.
func (c *Chunker) semanticSplit(text string) []span {
	sentences := sentenceSpans(text)
	if len(sentences) < 2 {
		return c.mergeSentences(text, sentences, nil)
	}
	breaks := make(map[int]bool)
	for i := 0; i < len(sentences)-1; i++ {
		if jaccard(sentences[i].text, sentences[i+1].text) < c.cfg.SimilarityThreshold {
			breaks[i+1] = true
		}
	}
	return c.mergeSentences(text, sentences, breaks)
}

// mergeSentences groups sentence spans into chunks of at most TargetSize
// tokens, honoring forced break points and the configured overlap.
func (c *Chunker) mergeSentences(text string, sentences []span, breaks map[int]bool) []span {
	if len(sentences) == 0 {
		return nil
	}

	var out []span
	start := 0
	for start < len(sentences) {
		// An oversized single sentence is force-split at token boundaries.
		if c.tok.Count(sentences[start].text) > c.cfg.TargetSize {
			sub := c.fixedSplit(sentences[start].text, sentences[start].start, 0)
			out = append(out, sub...)
			start++
			continue
		}

		end, tokens := start, 0
		for end < len(sentences) {
			if end > start && breaks[end] {
				break
			}
			w := c.tok.Count(sentences[end].text)
			if tokens+w > c.cfg.TargetSize && tokens > 0 {
				break
			}
			tokens += w
			end++
		}

		out = append(out, span{
			text:  text[sentences[start].start:sentences[end-1].end],
			start: sentences[start].start,
			end:   sentences[end-1].end,
		})
		if end >= len(sentences) {
			break
		}
		if breaks[end] {
			start = end
		} else {
			start = backUp(sentences, start, end, c.cfg.Overlap, c.tok)
		}
	}
	return out
}

// backUp moves the next window start back from end until roughly overlap
// tokens are covered, always making forward progress.
func backUp(units []span, start, end, overlap int, tok Tokenizer) int {
	next := end
	covered := 0
	for next > start+1 && covered < overlap {
		next--
		covered += tok.Count(units[next].text)
	}
	if next <= start {
		return end
	}
	return next
}
