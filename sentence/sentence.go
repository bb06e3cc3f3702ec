// Package sentence implements the sentence segmentation the core needs for
// context windows (Latin extractor context, LLM enricher expanded context,
// "page" chunking) now that no NLP pipeline supplies sentence boundaries.
//
// No sentence-segmentation library appears anywhere in the retrieved
// example pack; this is a deliberately small rule-based splitter on
// terminal punctuation, justified in DESIGN.md as a standard-library-only
// component.
package sentence

import "strings"

// Span is one sentence's byte-offset range and surface text within the
// document it was split from.
type Span struct {
	Start int
	End   int
	Text  string
}

// Split segments text into sentence Spans on '.', '!', '?' followed by
// whitespace or end-of-text, treating runs of terminal punctuation
// ("?!", "...") as a single boundary. It never drops characters: spans
// abut such that concatenating their Text values (with separators)
// reconstructs a trimmed version of the input.
func Split(text string) []Span {
	var spans []Span
	start := 0
	i := 0
	n := len(text)
	for i < n {
		c := text[i]
		if c == '.' || c == '!' || c == '?' {
			j := i + 1
			for j < n && (text[j] == '.' || text[j] == '!' || text[j] == '?') {
				j++
			}
			if j >= n || isSpace(text[j]) {
				if span, ok := trimSpan(text, start, j); ok {
					spans = append(spans, span)
				}
				for j < n && isSpace(text[j]) {
					j++
				}
				start = j
				i = j
				continue
			}
			i = j
			continue
		}
		i++
	}
	if start < n {
		if span, ok := trimSpan(text, start, n); ok {
			spans = append(spans, span)
		}
	}
	return spans
}

// Texts extracts just the sentence strings, in order.
func Texts(spans []Span) []string {
	out := make([]string, len(spans))
	for i, s := range spans {
		out[i] = s.Text
	}
	return out
}

func trimSpan(text string, start, end int) (Span, bool) {
	raw := text[start:end]
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Span{}, false
	}
	leading := strings.Index(raw, trimmed)
	actualStart := start + leading
	actualEnd := actualStart + len(trimmed)
	return Span{Start: actualStart, End: actualEnd, Text: trimmed}, true
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// IndexAt returns the index of the sentence span containing the byte range
// [start, end), the same "span straddles the point" check the enricher and
// Latin extractor use to locate context, or -1 if none contains it.
func IndexAt(spans []Span, start, end int) int {
	for i, s := range spans {
		if (s.Start <= start && start < s.End) || (s.Start < end && end <= s.End) {
			return i
		}
	}
	return -1
}
