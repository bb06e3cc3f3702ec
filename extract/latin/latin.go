// Package latin implements the Latin-binomial regex extractor: a filter
// over capitalized two- or three-word Latin phrases, with stop-phrase and
// person-title rejection.
package latin

import (
	"regexp"
	"strings"

	"taxonfinder"
	"taxonfinder/normalize"
	"taxonfinder/sentence"
)

var defaultStopPhrases = []string{
	"et cetera",
	"ad libitum",
	"in situ",
	"ex vivo",
	"de facto",
	"pro rata",
	"per se",
	"ab initio",
	"status quo",
	"modus operandi",
	"alma mater",
	"anno domini",
}

var defaultTitles = map[string]bool{
	"mr": true, "dr": true, "prof": true, "von": true, "van": true,
}

var pattern = regexp.MustCompile(`\b[A-Z][a-z]+ [a-z]{2,}(?: [a-z]{2,})?\b`)

var titlePrefix = regexp.MustCompile(`(\w+)[\s.]+$`)

// IsKnownName reports whether a lowercased candidate surface form matches a
// taxon name already present in the gazetteer; used to raise confidence.
type IsKnownName func(lower string) bool

// Extractor finds Latin-binomial-shaped mentions in text.
type Extractor struct {
	morph       normalize.MorphAnalyzer
	isKnownName IsKnownName
	stopPhrases map[string]bool
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithKnownNamePredicate sets the predicate used to raise confidence for
// names already present in the gazetteer.
func WithKnownNamePredicate(fn IsKnownName) Option {
	return func(e *Extractor) { e.isKnownName = fn }
}

// WithStopPhrases overrides the default curated stop-phrase set.
func WithStopPhrases(phrases []string) Option {
	return func(e *Extractor) {
		set := make(map[string]bool, len(phrases))
		for _, p := range phrases {
			set[strings.ToLower(p)] = true
		}
		e.stopPhrases = set
	}
}

// New builds an Extractor with the given morphological analyzer (may be
// nil) and options.
func New(morph normalize.MorphAnalyzer, opts ...Option) *Extractor {
	e := &Extractor{morph: morph, stopPhrases: defaultStopPhraseSet()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func defaultStopPhraseSet() map[string]bool {
	set := make(map[string]bool, len(defaultStopPhrases))
	for _, p := range defaultStopPhrases {
		set[p] = true
	}
	return set
}

// Extract scans text for Latin-binomial candidates, using sentences (from
// sentence.Split, or nil) to derive each hit's context.
func (e *Extractor) Extract(text string, sentences []sentence.Span) []taxonfinder.Candidate {
	var candidates []taxonfinder.Candidate

	for _, loc := range pattern.FindAllStringIndex(text, -1) {
		start, end := loc[0], loc[1]
		sourceText := text[start:end]
		lower := strings.ToLower(sourceText)

		if !passesLengthFilter(sourceText) {
			continue
		}
		if e.stopPhrases[lower] {
			continue
		}
		if hasPersonTitle(text, start) {
			continue
		}

		known := e.isKnownName != nil && e.isKnownName(lower)
		confidence := 0.7
		if known {
			confidence = 0.9
		}

		candidates = append(candidates, taxonfinder.Candidate{
			SourceText:        sourceText,
			SourceContext:     findContext(text, start, sentences),
			LineNumber:        lineNumber(text, start),
			StartChar:         start,
			EndChar:           end,
			Normalized:        normalize.Normalize(sourceText),
			Lemmatized:        normalize.Lemmatize(sourceText, e.morph),
			Method:            taxonfinder.MethodLatinRegex,
			Confidence:        confidence,
			GazetteerTaxonIDs: nil,
		})
	}

	return candidates
}

func passesLengthFilter(sourceText string) bool {
	for _, word := range strings.Fields(sourceText) {
		if len(word) < 3 {
			return false
		}
	}
	return true
}

func hasPersonTitle(text string, start int) bool {
	match := titlePrefix.FindStringSubmatch(text[:start])
	if match == nil {
		return false
	}
	return defaultTitles[strings.ToLower(match[1])]
}

func findContext(text string, start int, sentences []sentence.Span) string {
	for _, s := range sentences {
		if s.Start <= start && start < s.End {
			return s.Text
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

func lineNumber(text string, start int) int {
	n := 1
	for i := 0; i < start && i < len(text); i++ {
		if text[i] == '\n' {
			n++
		}
	}
	return n
}
