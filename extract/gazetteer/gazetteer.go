// Package gazetteer implements the phrase-matching extractor: it scans text
// for runs of words whose normalized or lemmatized form is a known taxon
// name in the gazetteer store.
package gazetteer

import (
	"sort"
	"strings"

	"taxonfinder"
	"taxonfinder/normalize"
	"taxonfinder/sentence"
)

// Mappings is the subset of gazetteer.NameMappings the extractor consumes,
// kept narrow so this package does not import the storage layer.
type Mappings struct {
	Normalized map[string][]int
	Lemmatized map[string][]int
}

// Extractor finds gazetteer mentions in text.
type Extractor struct {
	mappings Mappings
	morph    normalize.MorphAnalyzer
	maxWords int
}

// New builds an Extractor over mappings. maxPhraseWords bounds the sliding
// window so a gazetteer of single- and two-word names doesn't force a scan
// of every possible subsequence length; pass 0 to default to 4.
func New(mappings Mappings, morph normalize.MorphAnalyzer, maxPhraseWords int) *Extractor {
	if maxPhraseWords <= 0 {
		maxPhraseWords = 4
	}
	return &Extractor{mappings: mappings, morph: morph, maxWords: longestKey(mappings, maxPhraseWords)}
}

func longestKey(m Mappings, cap int) int {
	longest := 1
	count := func(k string) int { return len(strings.Fields(k)) }
	for k := range m.Normalized {
		if n := count(k); n > longest {
			longest = n
		}
	}
	for k := range m.Lemmatized {
		if n := count(k); n > longest {
			longest = n
		}
	}
	if longest > cap {
		return cap
	}
	return longest
}

type word struct {
	text  string
	start int
	end   int
}

// Extract scans text for gazetteer mentions and returns one Candidate per
// distinct span, with confidence computed from the exact/lemmatized and
// unique/ambiguous cases and taxon IDs from coalesced matcher hits.
func (e *Extractor) Extract(text string) []taxonfinder.Candidate {
	words := tokenizeWords(text)
	if len(words) == 0 {
		return nil
	}
	spans := sentence.Split(text)

	type hit struct {
		start, end int
		normalized string
		lemmatized string
		taxonIDs   []int
		confidence float64
	}
	bySpan := make(map[[2]int]hit)
	var order [][2]int

	for i := range words {
		for n := 1; n <= e.maxWords && i+n <= len(words); n++ {
			first, last := words[i], words[i+n-1]
			surface := text[first.start:last.end]
			normalized := normalize.Normalize(surface)
			lemmatized := normalize.Lemmatize(surface, e.morph)

			taxonIDs, exact := matchTaxonIDs(e.mappings, normalized, lemmatized)
			if len(taxonIDs) == 0 {
				continue
			}
			confidence := gazetteerConfidence(exact, len(taxonIDs))

			key := [2]int{first.start, last.end}
			existing, seen := bySpan[key]
			merged := mergeIDs(existing.taxonIDs, taxonIDs)
			if !seen {
				order = append(order, key)
				bySpan[key] = hit{
					start: first.start, end: last.end,
					normalized: normalized, lemmatized: lemmatized,
					taxonIDs: merged, confidence: confidence,
				}
				continue
			}
			if confidence > existing.confidence {
				existing.normalized = normalized
				existing.lemmatized = lemmatized
				existing.confidence = confidence
			}
			existing.taxonIDs = merged
			bySpan[key] = existing
		}
	}

	candidates := make([]taxonfinder.Candidate, 0, len(order))
	for _, key := range order {
		h := bySpan[key]
		candidates = append(candidates, taxonfinder.Candidate{
			SourceText:        text[h.start:h.end],
			SourceContext:     sentenceContext(spans, text, h.start, h.end),
			LineNumber:        lineNumber(text, h.start),
			StartChar:         h.start,
			EndChar:           h.end,
			Normalized:        h.normalized,
			Lemmatized:        h.lemmatized,
			Method:            taxonfinder.MethodGazetteer,
			Confidence:        h.confidence,
			GazetteerTaxonIDs: h.taxonIDs,
		})
	}
	return candidates
}

func matchTaxonIDs(m Mappings, normalized, lemmatized string) ([]int, bool) {
	if ids, ok := m.Normalized[normalized]; ok {
		return ids, true
	}
	if ids, ok := m.Lemmatized[lemmatized]; ok {
		return ids, false
	}
	return nil, false
}

func gazetteerConfidence(exact bool, taxonCount int) float64 {
	if exact {
		if taxonCount == 1 {
			return 1.0
		}
		return 0.8
	}
	if taxonCount == 1 {
		return 0.9
	}
	return 0.7
}

func mergeIDs(a, b []int) []int {
	if len(a) == 0 {
		return append([]int(nil), b...)
	}
	set := make(map[int]bool, len(a)+len(b))
	for _, id := range a {
		set[id] = true
	}
	for _, id := range b {
		set[id] = true
	}
	out := make([]int, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

func tokenizeWords(text string) []word {
	var words []word
	start := -1
	flush := func(end int) {
		if start >= 0 {
			words = append(words, word{text: text[start:end], start: start, end: end})
			start = -1
		}
	}
	for i, r := range text {
		if isWordRune(r) {
			if start < 0 {
				start = i
			}
		} else {
			flush(i)
		}
	}
	flush(len(text))
	return words
}

func isWordRune(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') ||
		(r >= 'А' && r <= 'я') || r == 'Ё' || r == 'ё'
}

func lineNumber(text string, start int) int {
	n := 1
	for i := 0; i < start && i < len(text); i++ {
		if text[i] == '\n' {
			n++
		}
	}
	return n
}

func sentenceContext(spans []sentence.Span, text string, start, end int) string {
	for _, s := range spans {
		if start >= s.Start && end <= s.End {
			return text[s.Start:s.End]
		}
	}
	return lineContext(text, start)
}

func lineContext(text string, start int) string {
	lineStart := strings.LastIndexByte(text[:start], '\n')
	if lineStart == -1 {
		lineStart = 0
	} else {
		lineStart++
	}
	lineEnd := strings.IndexByte(text[start:], '\n')
	if lineEnd == -1 {
		lineEnd = len(text)
	} else {
		lineEnd += start
	}
	return text[lineStart:lineEnd]
}
