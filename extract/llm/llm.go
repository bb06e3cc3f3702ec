// Package llm implements the LLM-based extraction phase: chunk the input
// text per the configured strategy, send each chunk to an injected
// completion client, and build Candidates from the returned name/context
// pairs.
package llm

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

// ChunkStrategy selects how the input text is split before each call to
// the LLM.
type ChunkStrategy string

const (
	StrategyParagraph ChunkStrategy = "paragraph"
	StrategyPage      ChunkStrategy = "page"
)

// Config holds the tunables of one LLM extraction phase.
type Config struct {
	Provider      string
	Model         string
	SystemPrompt  string
	ChunkStrategy ChunkStrategy
	MinChunkWords int
	MaxChunkWords int
	MaxRetries    int
}

// Extractor runs the chunk/complete/parse loop over a text.
type Extractor struct {
	config Config
	client llmclient.Client
	morph  normalize.MorphAnalyzer
	logf   func(format string, args ...any)
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger installs a logging hook invoked on per-chunk JSON failures;
// without it they are discarded. logf must not be nil.
func WithLogger(logf func(format string, args ...any)) Option {
	return func(e *Extractor) { e.logf = logf }
}

// New builds an Extractor. config.MaxRetries additional attempts are made
// per chunk beyond the first before the chunk is skipped.
func New(config Config, client llmclient.Client, morph normalize.MorphAnalyzer, opts ...Option) *Extractor {
	e := &Extractor{config: config, client: client, morph: morph, logf: func(string, ...any) {}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type llmCandidate struct {
	Name    string `json:"name"`
	Context string `json:"context"`
}

type llmResponse struct {
	Candidates []llmCandidate `json:"candidates"`
}

var responseSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"candidates": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":    map[string]any{"type": "string"},
					"context": map[string]any{"type": "string"},
				},
				"required": []string{"name", "context"},
			},
		},
	},
	"required": []string{"candidates"},
}

// Extract chunks text, calls the LLM for each chunk, and returns the
// resulting Candidates.
func (e *Extractor) Extract(ctx context.Context, text string) ([]taxonfinder.Candidate, error) {
	chunks, err := ChunkText(text, e.config.ChunkStrategy, e.config.MinChunkWords, e.config.MaxChunkWords)
	if err != nil {
		return nil, err
	}

	var candidates []taxonfinder.Candidate
	for _, chunk := range chunks {
		response := e.callLLM(ctx, chunk)
		for _, item := range response.Candidates {
			name := strings.TrimSpace(item.Name)
			if name == "" {
				continue
			}
			context := strings.TrimSpace(item.Context)
			start, end := findSpan(text, name)
			if context == "" {
				context = lineContext(text, start)
			}
			candidates = append(candidates, taxonfinder.Candidate{
				SourceText:        name,
				SourceContext:     context,
				LineNumber:        lineNumber(text, start),
				StartChar:         start,
				EndChar:           end,
				Normalized:        normalize.Normalize(name),
				Lemmatized:        normalize.Lemmatize(name, e.morph),
				Method:            taxonfinder.MethodLLM,
				Confidence:        0.6,
				GazetteerTaxonIDs: nil,
			})
		}
	}
	return candidates, nil
}

func (e *Extractor) callLLM(ctx context.Context, chunk string) llmResponse {
	var lastErr error
	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		raw, err := e.client.Complete(ctx, e.config.SystemPrompt, chunk, responseSchema)
		if err != nil {
			lastErr = err
			e.logf("llm_extractor_invalid_json attempt=%d error=%v", attempt+1, err)
			continue
		}
		parsed, err := parseJSON(raw)
		if err != nil {
			lastErr = err
			e.logf("llm_extractor_invalid_json attempt=%d error=%v", attempt+1, err)
			continue
		}
		return parsed
	}
	e.logf("llm_extractor_chunk_skipped error=%v", lastErr)
	return llmResponse{}
}

var trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)

func parseJSON(raw string) (llmResponse, error) {
	cleaned := stripFences(raw)
	var response llmResponse
	if err := json.Unmarshal([]byte(cleaned), &response); err == nil {
		return response, nil
	}
	repaired := trailingCommaPattern.ReplaceAllString(cleaned, "$1")
	if err := json.Unmarshal([]byte(repaired), &response); err != nil {
		return llmResponse{}, err
	}
	return response, nil
}

var fencePrefix = regexp.MustCompile("^```[a-zA-Z]*\n")

func stripFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return strings.TrimSpace(text)
	}
	text = fencePrefix.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

func findSpan(text, name string) (int, int) {
	if idx := strings.Index(text, name); idx != -1 {
		return idx, idx + len(name)
	}
	if idx := strings.Index(strings.ToLower(text), strings.ToLower(name)); idx != -1 {
		return idx, idx + len(name)
	}
	return 0, len(name)
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

// ChunkText splits text per strategy: "paragraph" greedily buffers
// blank-line-delimited paragraphs up to minWords, overflowing paragraphs
// are split by sentence; "page" sentence-packs the whole text up to
// maxWords. Sentences (or paragraphs) longer than maxWords fall back to a
// fixed-size sliding window with a 50-word overlap.
func ChunkText(text string, strategy ChunkStrategy, minWords, maxWords int) ([]string, error) {
	switch strategy {
	case StrategyParagraph:
		return chunkByParagraph(text, minWords, maxWords), nil
	case StrategyPage:
		return chunkBySentences(sentence.Texts(sentence.Split(text)), maxWords), nil
	default:
		return nil, taxonfinder.NewConfigError("unknown chunk strategy: "+string(strategy), nil)
	}
}

func chunkByParagraph(text string, minWords, maxWords int) []string {
	var paragraphs []string
	for _, p := range strings.Split(text, "\n\n") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			paragraphs = append(paragraphs, trimmed)
		}
	}

	var chunks []string
	var buffer []string
	bufferWords := 0

	flush := func() {
		if len(buffer) > 0 {
			chunks = append(chunks, strings.Join(buffer, "\n\n"))
			buffer = nil
			bufferWords = 0
		}
	}

	for _, paragraph := range paragraphs {
		words := wordCount(paragraph)
		if words > maxWords {
			flush()
			sentences := sentence.Texts(sentence.Split(paragraph))
			if len(sentences) > 0 {
				chunks = append(chunks, chunkBySentences(sentences, maxWords)...)
			} else {
				chunks = append(chunks, slidingWindow(paragraph, maxWords, 50)...)
			}
			continue
		}

		if bufferWords < minWords {
			buffer = append(buffer, paragraph)
			bufferWords += words
			if bufferWords >= minWords {
				flush()
			}
			continue
		}

		chunks = append(chunks, paragraph)
	}
	flush()
	return chunks
}

func chunkBySentences(sentences []string, maxWords int) []string {
	var chunks []string
	var buffer []string
	bufferWords := 0

	flush := func() {
		if len(buffer) > 0 {
			chunks = append(chunks, strings.Join(buffer, " "))
			buffer = nil
			bufferWords = 0
		}
	}

	for _, s := range sentences {
		words := wordCount(s)
		if words > maxWords {
			flush()
			chunks = append(chunks, slidingWindow(s, maxWords, 50)...)
			continue
		}
		if bufferWords+words <= maxWords {
			buffer = append(buffer, s)
			bufferWords += words
			continue
		}
		flush()
		buffer = []string{s}
		bufferWords = words
	}
	flush()
	return chunks
}

func slidingWindow(text string, maxWords, overlap int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	step := maxWords - overlap
	if step < 1 {
		step = 1
	}

	var chunks []string
	for start := 0; start < len(words); start += step {
		end := start + maxWords
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if start+maxWords >= len(words) {
			break
		}
	}
	return chunks
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}
