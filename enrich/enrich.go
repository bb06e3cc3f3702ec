// Package enrich implements the LLM enrichment phase: for an unresolved
// candidate group, expand its context to the surrounding sentences and ask
// the LLM for alternative names to retry resolution with.
package enrich

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"taxonfinder"
	"taxonfinder/llmclient"
	"taxonfinder/normalize"
	"taxonfinder/sentence"
)

// Config holds the tunables of one enrichment phase.
type Config struct {
	SystemPrompt string
	MaxRetries   int
}

// Enricher queries an LLM for alternative names for an unresolved group.
type Enricher struct {
	config Config
	client llmclient.Client
	logf   func(format string, args ...any)
}

// Option configures an Enricher.
type Option func(*Enricher)

// WithLogger installs a logging hook invoked on per-attempt JSON failures.
func WithLogger(logf func(format string, args ...any)) Option {
	return func(e *Enricher) { e.logf = logf }
}

// New builds an Enricher.
func New(config Config, client llmclient.Client, opts ...Option) *Enricher {
	e := &Enricher{config: config, client: client, logf: func(string, ...any) {}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var responseSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"common_names_loc": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"common_names_en":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"latin_names":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	},
	"required": []string{"common_names_loc", "common_names_en", "latin_names"},
}

// Enrich builds the expanded context for group within text and asks the LLM
// for alternative names, filtering out empties, duplicates, and the
// originating candidate's own normalized form.
func (e *Enricher) Enrich(ctx context.Context, text string, group taxonfinder.CandidateGroup) taxonfinder.LlmEnrichmentResponse {
	candidate := group.Normalized

	var occurrenceText, occurrenceContext string
	if len(group.Occurrences) > 0 {
		occurrenceText = group.Occurrences[0].SourceText
		occurrenceContext = group.Occurrences[0].SourceContext
	} else {
		occurrenceText = candidate
	}
	start, end := findSpan(text, occurrenceText)

	context_ := expandedContext(text, start, end, occurrenceContext)
	userContent := "Candidate: " + candidate + "\nContext: " + context_

	data := e.callLLM(ctx, userContent)
	return parseResponse(data, candidate)
}

type rawResponse struct {
	CommonNamesLoc []string `json:"common_names_loc"`
	CommonNamesEn  []string `json:"common_names_en"`
	LatinNames     []string `json:"latin_names"`
}

func (e *Enricher) callLLM(ctx context.Context, userContent string) rawResponse {
	var lastErr error
	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		raw, err := e.client.Complete(ctx, e.config.SystemPrompt, userContent, responseSchema)
		if err != nil {
			lastErr = err
			e.logf("llm_enricher_invalid_json attempt=%d error=%v", attempt+1, err)
			continue
		}
		parsed, err := parseJSON(raw)
		if err != nil {
			lastErr = err
			e.logf("llm_enricher_invalid_json attempt=%d error=%v", attempt+1, err)
			continue
		}
		return parsed
	}
	e.logf("llm_enricher_request_skipped error=%v", lastErr)
	return rawResponse{}
}

var trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
var fencePrefix = regexp.MustCompile("^```[a-zA-Z]*\n")

func parseJSON(raw string) (rawResponse, error) {
	cleaned := stripFences(raw)
	var response rawResponse
	if err := json.Unmarshal([]byte(cleaned), &response); err == nil {
		return response, nil
	}
	repaired := trailingCommaPattern.ReplaceAllString(cleaned, "$1")
	if err := json.Unmarshal([]byte(repaired), &response); err != nil {
		return rawResponse{}, err
	}
	return response, nil
}

func stripFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return strings.TrimSpace(text)
	}
	text = fencePrefix.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

func parseResponse(data rawResponse, candidate string) taxonfinder.LlmEnrichmentResponse {
	return taxonfinder.LlmEnrichmentResponse{
		CommonNamesLoc: filterNames(data.CommonNamesLoc, candidate),
		CommonNamesEn:  filterNames(data.CommonNamesEn, candidate),
		LatinNames:     filterNames(data.LatinNames, candidate),
	}
}

func filterNames(values []string, candidate string) []string {
	var candidateNorm string
	if candidate != "" {
		candidateNorm = normalize.Normalize(candidate)
	}
	seen := make(map[string]bool, len(values))
	filtered := make([]string, 0, len(values))
	for _, item := range values {
		name := strings.TrimSpace(item)
		if name == "" {
			continue
		}
		if candidateNorm != "" && normalize.Normalize(name) == candidateNorm {
			continue
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		filtered = append(filtered, name)
	}
	return filtered
}

func expandedContext(text string, start, end int, occurrenceContext string) string {
	spans := sentence.Split(text)
	if len(spans) > 0 {
		if idx := sentence.IndexAt(spans, start, end); idx >= 0 {
			var parts []string
			for _, offset := range []int{-1, 0, 1} {
				i := idx + offset
				if i >= 0 && i < len(spans) {
					parts = append(parts, spans[i].Text)
				}
			}
			return strings.Join(parts, " ")
		}
	}

	if occurrenceContext != "" {
		return occurrenceContext
	}
	return lineContext(text, start)
}

func findSpan(text, needle string) (int, int) {
	if idx := strings.Index(text, needle); idx != -1 {
		return idx, idx + len(needle)
	}
	if idx := strings.Index(strings.ToLower(text), strings.ToLower(needle)); idx != -1 {
		return idx, idx + len(needle)
	}
	return 0, len(needle)
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
