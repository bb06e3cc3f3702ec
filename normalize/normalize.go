// Package normalize provides the pure text-normalization primitives shared
// by every extractor and resolver: lowercasing with locale letter-folding,
// lemmatization via an injected morphological analyzer, and the ordered
// variant list used to probe a taxon searcher.
package normalize

import (
	"strings"
)

// MorphAnalyzer is the abstract capability for morphological analysis of a
// single word, injected so the core never depends on a concrete NLP
// library. Parse returns normal forms ordered by the analyzer's own
// preference; only the first is used.
type MorphAnalyzer interface {
	Parse(word string) []string
}

// Normalize lowercases s and folds the Russian "ё" (and its uppercase form,
// already lowercased by the time folding runs) to "е". It is idempotent:
// Normalize(Normalize(x)) == Normalize(x).
func Normalize(s string) string {
	lowered := strings.ToLower(s)
	return strings.ReplaceAll(lowered, "ё", "е")
}

func isCyrillic(r rune) bool {
	return (r >= 'А' && r <= 'я') || r == 'Ё' || r == 'ё'
}

func isLatinLetter(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')
}

// tokenize splits s into maximal runs of Latin or Cyrillic letters, mirroring
// the original's `[A-Za-zА-Яа-яЁё]+` token pattern.
func tokenize(s string) []string {
	var tokens []string
	var buf []rune
	flush := func() {
		if len(buf) > 0 {
			tokens = append(tokens, string(buf))
			buf = buf[:0]
		}
	}
	for _, r := range s {
		if isLatinLetter(r) || isCyrillic(r) {
			buf = append(buf, r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

func containsCyrillic(token string) bool {
	for _, r := range token {
		if isCyrillic(r) {
			return true
		}
	}
	return false
}

// Lemmatize tokenizes s on letter runs; tokens containing Cyrillic letters
// are lemmatized via morph (falling back to the token itself when morph is
// nil or returns nothing), other tokens are simply lowercased. Results are
// joined with single spaces.
func Lemmatize(s string, morph MorphAnalyzer) string {
	tokens := tokenize(s)
	lemmas := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if containsCyrillic(token) && morph != nil {
			forms := morph.Parse(strings.ToLower(token))
			lemma := token
			if len(forms) > 0 {
				lemma = forms[0]
			}
			lemmas = append(lemmas, Normalize(lemma))
		} else {
			lemmas = append(lemmas, strings.ToLower(token))
		}
	}
	return strings.Join(lemmas, " ")
}

// SearchVariants returns the ordered, deduplicated, non-empty list
// [lower, normalize, lemmatize, normalize(lemmatize)] for s, the sequence a
// resolver probes against the upstream searcher.
func SearchVariants(s string, morph MorphAnalyzer) []string {
	original := strings.ToLower(s)
	normalized := Normalize(s)
	lemmatized := Lemmatize(s, morph)
	lemmatizedNormalized := Normalize(lemmatized)

	seen := make(map[string]bool, 4)
	variants := make([]string, 0, 4)
	for _, v := range []string{original, normalized, lemmatized, lemmatizedNormalized} {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		variants = append(variants, v)
	}
	return variants
}
