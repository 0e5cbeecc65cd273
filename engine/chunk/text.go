package chunk

import (
	"strings"
	"unicode"
)

// span is a slice of the source text with its byte range.
type span struct {
	text  string
	start int
	end   int
}

func isBlank(text string) bool {
	return strings.TrimSpace(text) == ""
}

// wordSpans returns whitespace-delimited words with byte offsets.
func wordSpans(text string) []span {
	var out []span
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				out = append(out, span{text: text[start:i], start: start, end: i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, span{text: text[start:], start: start, end: len(text)})
	}
	return out
}

// sentenceSpans splits text on sentence-ending punctuation and newlines,
// keeping byte offsets. A terminator only ends a sentence when followed by
// whitespace or the end of input.
func sentenceSpans(text string) []span {
	var out []span
	start := -1
	for i, r := range text {
		if start < 0 {
			if unicode.IsSpace(r) {
				continue
			}
			start = i
		}
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			next := i + 1
			if r == '\n' || next >= len(text) || unicode.IsSpace(rune(text[next])) {
				end := i
				if r != '\n' {
					end = next
				}
				if s := strings.TrimSpace(text[start:end]); s != "" {
					out = append(out, span{text: text[start:end], start: start, end: end})
				}
				start = -1
			}
		}
	}
	if start >= 0 {
		if s := strings.TrimSpace(text[start:]); s != "" {
			out = append(out, span{text: text[start:], start: start, end: len(text)})
		}
	}
	return out
}

// structured reports whether text looks like lists, tables, or other
// already-segmented content rather than prose.
func structured(text string) bool {
	lines := strings.Split(text, "\n")
	if len(lines) < 4 {
		return false
	}
	marked, short := 0, 0
	for _, line := range lines {
		t := strings.TrimSpace(line)
		if t == "" {
			continue
		}
		switch {
		case strings.HasPrefix(t, "-"), strings.HasPrefix(t, "*"),
			strings.HasPrefix(t, "|"), strings.HasPrefix(t, "#"):
			marked++
		}
		if len(strings.Fields(t)) <= 8 {
			short++
		}
	}
	return marked*2 >= len(lines) || short*2 >= len(lines)
}

// jaccard computes word-overlap similarity between two sentences.
func jaccard(a, b string) float64 {
	wa := strings.Fields(strings.ToLower(a))
	wb := strings.Fields(strings.ToLower(b))
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	set := make(map[string]bool, len(wa))
	for _, w := range wa {
		set[strings.Trim(w, ".,!?;:'\"")] = true
	}
	overlap := 0
	for _, w := range wb {
		if set[strings.Trim(w, ".,!?;:'\"")] {
			overlap++
		}
	}
	union := len(wa) + len(wb) - overlap
	if union == 0 {
		return 0
	}
	return float64(overlap) / float64(union)
}
