package pipeline

import (
	"context"

	extractgazetteer "taxonfinder/extract/gazetteer"
	"taxonfinder/extract/latin"
	extractllm "taxonfinder/extract/llm"
	"taxonfinder/sentence"
)

// Estimate projects the workload of running text through this Pipeline's
// configuration without making any network or LLM calls: no API quota is
// spent and no LLM is invoked.
func (p *Pipeline) Estimate(ctx context.Context, text string) (Estimate, error) {
	cfg := p.config
	sentences := sentence.Split(text)

	var chunks []string
	llmCalls := 0
	if cfg.LlmExtractor != nil && cfg.LlmExtractor.Enabled {
		var err error
		chunks, err = extractllm.ChunkText(text, extractllm.ChunkStrategy(cfg.LlmExtractor.ChunkStrategy), cfg.LlmExtractor.MinChunkWords, cfg.LlmExtractor.MaxChunkWords)
		if err != nil {
			return Estimate{}, err
		}
		llmCalls = len(chunks)
	}

	gazCount := 0
	if p.gazetteerStore != nil {
		mappings, err := p.gazetteerStore.LoadNameMappings(ctx, cfg.Locale)
		if err != nil {
			return Estimate{}, err
		}
		gazExtractor := extractgazetteer.New(extractgazetteer.Mappings{
			Normalized: mappings.Normalized,
			Lemmatized: mappings.Lemmatized,
		}, p.morph, 0)
		gazCount = len(gazExtractor.Extract(text))
	}

	latinExtractor := latin.New(noopMorph{})
	regexCount := len(latinExtractor.Extract(text, sentences))

	uniqueEst := gazCount + regexCount
	if uniqueEst < 1 {
		uniqueEst = 1
	}
	skipEst := gazCount
	apiCallsEst := uniqueEst - skipEst
	if apiCallsEst < 0 {
		apiCallsEst = 0
	}

	estimatedTime := float64(apiCallsEst)*1.0 + float64(llmCalls)*2.0

	return Estimate{
		Sentences:           len(sentences),
		Chunks:              len(chunks),
		LlmCallsPhase1:       llmCalls,
		GazetteerCandidates: gazCount,
		RegexCandidates:     regexCount,
		UniqueCandidates:    uniqueEst,
		APICallsEstimated:   apiCallsEst,
		EstimatedTimeSeconds: estimatedTime,
	}, nil
}
