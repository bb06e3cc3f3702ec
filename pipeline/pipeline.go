// Package pipeline orchestrates the five extraction-and-resolution phases:
// extraction, merge, resolution, LLM enrichment, and assembly. This package
// is a thin conductor — all domain logic lives in extract/, merge,
// identify, enrich, and search; Pipeline only calls them in order and
// streams typed Events as it goes.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"taxonfinder"
	"taxonfinder/apicache"
	"taxonfinder/checkpoint"
	"taxonfinder/config"
	"taxonfinder/enrich"
	extractgazetteer "taxonfinder/extract/gazetteer"
	"taxonfinder/extract/latin"
	extractllm "taxonfinder/extract/llm"
	"taxonfinder/gazetteer"
	"taxonfinder/identify"
	"taxonfinder/llmclient"
	"taxonfinder/merge"
	"taxonfinder/normalize"
	"taxonfinder/ratelimit"
	"taxonfinder/search"
	"taxonfinder/sentence"
)

// Searcher is the external capability of resolving a normalized name to
// candidate taxa; satisfied by *search.INaturalistSearcher in production and
// stubbed in tests.
type Searcher interface {
	Search(ctx context.Context, query, locale string) ([]taxonfinder.TaxonMatch, error)
}

// Identifier decides whether a group's resolved matches confirm its
// identity.
type Identifier interface {
	Resolve(group taxonfinder.CandidateGroup, matches []taxonfinder.TaxonMatch) (bool, string)
}

// IdentifierFunc adapts a plain function to Identifier, the way
// http.HandlerFunc adapts a function to http.Handler.
type IdentifierFunc func(group taxonfinder.CandidateGroup, matches []taxonfinder.TaxonMatch) (bool, string)

// Resolve calls f.
func (f IdentifierFunc) Resolve(group taxonfinder.CandidateGroup, matches []taxonfinder.TaxonMatch) (bool, string) {
	return f(group, matches)
}

// noopMorph is the zero-value morphological analyzer used when no
// lemmatizer is injected: every surface form lemmatizes to itself. No
// pymorphy3-equivalent Russian morphological analyzer exists as a Go
// library anywhere in the retrieved pack, so callers that need real
// lemmatization must inject their own normalize.MorphAnalyzer; this default
// only keeps the pipeline runnable without one.
type noopMorph struct{}

func (noopMorph) Parse(word string) []string { return nil }

// Pipeline holds the built (or injected) dependencies for one configuration
// and runs the five-phase extraction/resolution flow against arbitrary
// input text.
type Pipeline struct {
	config *config.Config
	logger *slog.Logger

	morph normalize.MorphAnalyzer

	gazetteerStore *gazetteer.Store
	ownsGazetteer  bool

	searcher   Searcher
	identifier Identifier

	llmClient llmclient.Client // overrides both extractor and enricher clients when set

	httpClient *http.Client
	ownedCache *apicache.Cache

	checkpointDir string
}

// Option configures a Pipeline at construction time.
type Option func(*Pipeline)

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithMorph injects a morphological analyzer (e.g. a pymorphy3 RPC bridge);
// without one, lemmatization is a no-op pass-through.
func WithMorph(morph normalize.MorphAnalyzer) Option {
	return func(p *Pipeline) { p.morph = morph }
}

// WithSearcher overrides the production iNaturalist-backed searcher,
// primarily for tests.
func WithSearcher(s Searcher) Option {
	return func(p *Pipeline) { p.searcher = s }
}

// WithIdentifier overrides the default identification resolver.
func WithIdentifier(i Identifier) Option {
	return func(p *Pipeline) { p.identifier = i }
}

// WithLLMClient overrides both the extraction and enrichment phases' LLM
// client, bypassing config-driven provider construction entirely.
func WithLLMClient(c llmclient.Client) Option {
	return func(p *Pipeline) { p.llmClient = c }
}

// WithCheckpointDir sets the checkpoint directory. After a successful
// finish Run clears any checkpoint stored there under the key of its
// (text, config) pair; Run never saves or loads a checkpoint.
func WithCheckpointDir(dir string) Option {
	return func(p *Pipeline) { p.checkpointDir = dir }
}

// New builds a Pipeline from cfg, opening the gazetteer and constructing the
// production searcher/identifier unless overridden by opts.
func New(cfg *config.Config, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		config: cfg,
		logger: slog.Default(),
		morph:  noopMorph{},
	}
	for _, opt := range opts {
		opt(p)
	}

	if err := p.openGazetteer(); err != nil {
		return nil, err
	}

	if p.identifier == nil {
		p.identifier = IdentifierFunc(identify.Resolve)
	}

	if p.searcher == nil {
		searcher, err := p.buildSearcher()
		if err != nil {
			return nil, err
		}
		p.searcher = searcher
	}

	return p, nil
}

func (p *Pipeline) openGazetteer() error {
	cfg := p.config
	if cfg.GazetteerPath == "" {
		return nil
	}
	if _, err := os.Stat(cfg.GazetteerPath); err != nil {
		if !cfg.DegradedMode {
			return taxonfinder.NewMissingGazetteer(
				fmt.Sprintf("gazetteer not found: %s (set degraded_mode=true to continue without it)", cfg.GazetteerPath),
				err,
			)
		}
		p.logger.Warn("gazetteer_not_found", "path", cfg.GazetteerPath)
		return nil
	}

	store, err := gazetteer.Open(cfg.GazetteerPath)
	if err != nil {
		if !cfg.DegradedMode {
			return err
		}
		p.logger.Warn("gazetteer_unavailable", "error", err)
		return nil
	}
	p.gazetteerStore = store
	p.ownsGazetteer = true
	return nil
}

func (p *Pipeline) buildSearcher() (Searcher, error) {
	cfg := p.config
	p.httpClient = &http.Client{}

	var cache search.Cache
	if cfg.INaturalist.CacheEnabled {
		c, err := apicache.Open(cfg.INaturalist.CachePath, time.Duration(cfg.INaturalist.CacheTTLDays)*24*time.Hour)
		if err != nil {
			return nil, err
		}
		p.ownedCache = c
		cache = c
	}

	limiter := ratelimit.New(cfg.INaturalist.RateLimit, cfg.INaturalist.BurstLimit)

	return search.New(p.httpClient, search.Config{
		BaseURL:    cfg.INaturalist.BaseURL,
		UserAgent:  cfg.UserAgent,
		Timeout:    time.Duration(cfg.INaturalist.Timeout * float64(time.Second)),
		MaxRetries: cfg.INaturalist.MaxRetries,
	}, cache, limiter, search.WithLogger(p.slogf())), nil
}

// Close releases any resources this Pipeline opened for itself (gazetteer
// store, disk cache). Dependencies supplied via Option are left untouched.
func (p *Pipeline) Close() error {
	var firstErr error
	if p.ownsGazetteer && p.gazetteerStore != nil {
		if err := p.gazetteerStore.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if p.ownedCache != nil {
		if err := p.ownedCache.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// runState carries the mutable bookkeeping threaded through one Run call;
// kept off the Pipeline itself so a single Pipeline is safe for sequential
// reuse across texts.
type runState struct {
	totalCandidates   int
	skippedResolution int
	apiCalls          int
	cacheHits         int
	phaseTimes        map[string]time.Duration
}

// Run starts the five-phase pipeline against text in a background
// goroutine, returning a channel of Events (closed on completion) and an
// error channel (closed after carrying at most one error: the fatal error
// that ended the run early, such as a checkpoint, gazetteer, LLM setup or
// searcher failure). Run does not watch ctx itself; a cancellation surfaces
// only as the error of a search or LLM call made with ctx.
func (p *Pipeline) Run(ctx context.Context, text string) (<-chan Event, <-chan error) {
	out := make(chan Event)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)
		if err := p.run(ctx, text, out); err != nil {
			errc <- err
		}
	}()

	return out, errc
}

// RunAll drains Run and returns only the assembled results, the convenience
// wrapper the CLI's "process" command and tests reach for.
func (p *Pipeline) RunAll(ctx context.Context, text string) ([]taxonfinder.TaxonResult, error) {
	out, errc := p.Run(ctx, text)
	var results []taxonfinder.TaxonResult
	for ev := range out {
		if ev.Kind == EventResultReady {
			results = append(results, *ev.Result)
		}
	}
	if err := <-errc; err != nil {
		return results, err
	}
	return results, nil
}

func (p *Pipeline) run(ctx context.Context, text string, out chan<- Event) error {
	start := time.Now()
	state := &runState{phaseTimes: make(map[string]time.Duration)}
	cfg := p.config

	var cp *checkpoint.FileCheckpoint
	var cpKey string
	if p.checkpointDir != "" {
		store, err := checkpoint.New(p.checkpointDir)
		if err != nil {
			return err
		}
		key, err := checkpoint.Key(text, cfg)
		if err != nil {
			return err
		}
		cp, cpKey = store, key
	}

	sentences := sentence.Split(text)

	// ------------------------------------------------------------------
	// Phase 1: Extraction
	// ------------------------------------------------------------------
	phaseStart := time.Now()
	var candidates []taxonfinder.Candidate

	if p.gazetteerStore != nil {
		mappings, err := p.gazetteerStore.LoadNameMappings(ctx, cfg.Locale)
		if err != nil {
			return err
		}
		gazExtractor := extractgazetteer.New(extractgazetteer.Mappings{
			Normalized: mappings.Normalized,
			Lemmatized: mappings.Lemmatized,
		}, p.morph, 0)
		gazCandidates := gazExtractor.Extract(text)
		candidates = append(candidates, gazCandidates...)
		p.logger.Info("extraction_gazetteer", "count", len(gazCandidates))
	}

	var latinOpts []latin.Option
	if p.gazetteerStore != nil {
		knownNames, err := p.gazetteerStore.AllTaxonNames(ctx)
		if err != nil {
			return err
		}
		latinOpts = append(latinOpts, latin.WithKnownNamePredicate(func(lower string) bool {
			return knownNames[lower]
		}))
	}
	latinExtractor := latin.New(p.morph, latinOpts...)
	latinCandidates := latinExtractor.Extract(text, sentences)
	candidates = append(candidates, latinCandidates...)
	p.logger.Info("extraction_latin", "count", len(latinCandidates))

	if cfg.LlmExtractor != nil && cfg.LlmExtractor.Enabled {
		client, cleanup, err := p.resolveLlmClient(ctx, cfg.LlmExtractor.Provider, cfg.LlmExtractor.Model,
			cfg.LlmExtractor.URL, cfg.LlmExtractor.Timeout, cfg.LlmExtractor.AutoStart, cfg.LlmExtractor.AutoPullModel, cfg.LlmExtractor.StopAfterRun)
		if err != nil {
			return err
		}
		if cleanup != nil {
			defer cleanup()
		}

		prompt, err := readPromptFile(cfg.LlmExtractor.PromptFile)
		if err != nil {
			return err
		}

		extractor := extractllm.New(extractllm.Config{
			Provider:      cfg.LlmExtractor.Provider,
			Model:         cfg.LlmExtractor.Model,
			SystemPrompt:  prompt,
			ChunkStrategy: extractllm.ChunkStrategy(cfg.LlmExtractor.ChunkStrategy),
			MinChunkWords: cfg.LlmExtractor.MinChunkWords,
			MaxChunkWords: cfg.LlmExtractor.MaxChunkWords,
			MaxRetries:    3,
		}, client, p.morph, extractllm.WithLogger(p.slogf()))

		chunks, err := extractllm.ChunkText(text, extractllm.ChunkStrategy(cfg.LlmExtractor.ChunkStrategy), cfg.LlmExtractor.MinChunkWords, cfg.LlmExtractor.MaxChunkWords)
		if err != nil {
			return err
		}
		out <- startedEvent("extraction", len(chunks))

		llmCandidates, err := extractor.Extract(ctx, text)
		if err != nil {
			return err
		}
		candidates = append(candidates, llmCandidates...)
		p.logger.Info("extraction_llm", "count", len(llmCandidates))

		for i := range chunks {
			out <- progressEvent("extraction", i+1, len(chunks), fmt.Sprintf("LLM chunk %d/%d", i+1, len(chunks)))
		}
	} else {
		out <- startedEvent("extraction", 0)
	}

	state.totalCandidates = len(candidates)
	state.phaseTimes["extraction"] = time.Since(phaseStart)

	// ------------------------------------------------------------------
	// Phase 2: Merge
	// ------------------------------------------------------------------
	phaseStart = time.Now()
	out <- startedEvent("merge", len(candidates))

	skipCheck := func(c taxonfinder.Candidate) bool {
		if c.Method != taxonfinder.MethodGazetteer || len(c.GazetteerTaxonIDs) == 0 || p.gazetteerStore == nil {
			return false
		}
		for _, taxonID := range c.GazetteerTaxonIDs {
			rec, err := p.gazetteerStore.GetFullRecord(ctx, taxonID, cfg.Locale)
			if err != nil || rec == nil || rec.TaxonName == "" || rec.TaxonRank == "" {
				return false
			}
		}
		return true
	}

	groups := merge.Merge(candidates, skipCheck)
	p.logger.Info("merge_complete", "groups", len(groups))
	out <- progressEvent("merge", len(candidates), len(candidates), fmt.Sprintf("%d unique candidates", len(groups)))
	state.phaseTimes["merge"] = time.Since(phaseStart)

	// ------------------------------------------------------------------
	// Phase 3: Resolution
	// ------------------------------------------------------------------
	phaseStart = time.Now()
	var toResolve, toSkip []taxonfinder.CandidateGroup
	for _, g := range groups {
		if g.SkipResolution {
			toSkip = append(toSkip, g)
		} else {
			toResolve = append(toResolve, g)
		}
	}
	state.skippedResolution = len(toSkip)
	out <- startedEvent("resolution", len(toResolve))

	var resolved []taxonfinder.ResolvedCandidate

	for _, group := range toSkip {
		matches := p.matchesFromGazetteer(ctx, group, cfg.Locale)
		identified, reason := p.identifier.Resolve(group, matches)
		resolved = append(resolved, taxonfinder.ResolvedCandidate{
			Group:      group,
			Matches:    matches,
			Identified: identified,
			Reason:     reason,
		})
	}

	for idx, group := range toResolve {
		variants := normalize.SearchVariants(group.Normalized, p.morph)
		var matches []taxonfinder.TaxonMatch
		identified := false
		reason := "No matches in iNaturalist"

		for _, variant := range variants {
			newMatches, err := p.searcher.Search(ctx, variant, cfg.Locale)
			if err != nil {
				return err
			}
			state.apiCalls++
			matches = mergeMatches(matches, newMatches)
			identified, reason = p.identifier.Resolve(group, matches)
			if identified {
				break
			}
		}

		var candidateNames []string
		if !identified {
			candidateNames = append(candidateNames, variants...)
		}

		resolved = append(resolved, taxonfinder.ResolvedCandidate{
			Group:          group,
			Matches:        matches,
			Identified:     identified,
			CandidateNames: candidateNames,
			Reason:         reason,
		})

		out <- progressEvent("resolution", idx+1, len(toResolve), "iNaturalist: "+group.Normalized)
	}
	state.phaseTimes["resolution"] = time.Since(phaseStart)

	// ------------------------------------------------------------------
	// Phase 4: LLM Enrichment
	// ------------------------------------------------------------------
	phaseStart = time.Now()
	var unresolvedIdx []int
	for i, rc := range resolved {
		if !rc.Identified {
			unresolvedIdx = append(unresolvedIdx, i)
		}
	}

	enricherEnabled := cfg.LlmEnricher != nil && cfg.LlmEnricher.Enabled && len(unresolvedIdx) > 0
	if enricherEnabled {
		client, cleanup, err := p.resolveLlmClient(ctx, cfg.LlmEnricher.Provider, cfg.LlmEnricher.Model,
			cfg.LlmEnricher.URL, cfg.LlmEnricher.Timeout, cfg.LlmEnricher.AutoStart, cfg.LlmEnricher.AutoPullModel, cfg.LlmEnricher.StopAfterRun)
		if err != nil {
			return err
		}
		if cleanup != nil {
			defer cleanup()
		}

		prompt, err := readPromptFile(cfg.LlmEnricher.PromptFile)
		if err != nil {
			return err
		}

		enricher := enrich.New(enrich.Config{SystemPrompt: prompt, MaxRetries: 3}, client, enrich.WithLogger(p.slogf()))

		out <- startedEvent("enrichment", len(unresolvedIdx))

		for step, i := range unresolvedIdx {
			rc := resolved[i]
			llmResp := enricher.Enrich(ctx, text, rc.Group)

			altNames := append(append(append([]string{}, llmResp.CommonNamesLoc...), llmResp.CommonNamesEn...), llmResp.LatinNames...)
			var extraMatches []taxonfinder.TaxonMatch
			tried := append([]string{}, rc.CandidateNames...)

			for _, alt := range altNames {
				normAlt := normalize.Normalize(alt)
				if contains(tried, normAlt) {
					continue
				}
				tried = append(tried, normAlt)
				newMatches, err := p.searcher.Search(ctx, normAlt, cfg.Locale)
				if err != nil {
					return err
				}
				state.apiCalls++
				extraMatches = append(extraMatches, newMatches...)
			}

			combined := mergeMatches(rc.Matches, extraMatches)
			identified, reason := p.identifier.Resolve(rc.Group, combined)
			if identified {
				tried = nil
				reason = ""
			}

			resolved[i] = taxonfinder.ResolvedCandidate{
				Group:          rc.Group,
				Matches:        combined,
				Identified:     identified,
				LlmResponse:    &llmResp,
				CandidateNames: tried,
				Reason:         reason,
			}

			out <- progressEvent("enrichment", step+1, len(unresolvedIdx), "LLM enrichment: "+rc.Group.Normalized)
		}
	} else {
		out <- startedEvent("enrichment", 0)
	}
	state.phaseTimes["enrichment"] = time.Since(phaseStart)

	// ------------------------------------------------------------------
	// Phase 5: Assembly
	// ------------------------------------------------------------------
	phaseStart = time.Now()
	out <- startedEvent("assembly", len(resolved))

	var filtered []taxonfinder.ResolvedCandidate
	for _, rc := range resolved {
		if rc.Group.Confidence >= cfg.Confidence {
			filtered = append(filtered, rc)
		}
	}

	identifiedCount, unidentifiedCount := 0, 0
	for idx, rc := range filtered {
		result := buildResult(rc)
		if result.Identified {
			identifiedCount++
		} else {
			unidentifiedCount++
		}
		out <- resultEvent(result)
		out <- progressEvent("assembly", idx+1, len(filtered), "Assembled: "+result.SourceText)
	}
	state.phaseTimes["assembly"] = time.Since(phaseStart)

	// ------------------------------------------------------------------
	// Finish
	// ------------------------------------------------------------------
	out <- finishedEvent(Summary{
		TotalCandidates:   state.totalCandidates,
		UniqueCandidates:  len(groups),
		IdentifiedCount:   identifiedCount,
		UnidentifiedCount: unidentifiedCount,
		SkippedResolution: state.skippedResolution,
		APICalls:          state.apiCalls,
		CacheHits:         state.cacheHits,
		PhaseTimes:        state.phaseTimes,
		TotalTime:         time.Since(start),
	})

	if cp != nil {
		return cp.Clear(cpKey)
	}
	return nil
}

func (p *Pipeline) slogf() func(format string, args ...any) {
	return func(format string, args ...any) {
		p.logger.Warn(fmt.Sprintf(format, args...))
	}
}

func readPromptFile(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("pipeline: read prompt file: %w", err)
	}
	return string(data), nil
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func mergeMatches(existing, extra []taxonfinder.TaxonMatch) []taxonfinder.TaxonMatch {
	seen := make(map[int]bool)
	var combined []taxonfinder.TaxonMatch
	for _, m := range existing {
		if !seen[m.TaxonID] {
			seen[m.TaxonID] = true
			combined = append(combined, m)
		}
	}
	for _, m := range extra {
		if !seen[m.TaxonID] {
			seen[m.TaxonID] = true
			combined = append(combined, m)
		}
	}
	sortByScoreDesc(combined)
	if len(combined) > 5 {
		combined = combined[:5]
	}
	return combined
}

func sortByScoreDesc(matches []taxonfinder.TaxonMatch) {
	for i := 1; i < len(matches); i++ {
		for j := i; j > 0 && matches[j].Score > matches[j-1].Score; j-- {
			matches[j], matches[j-1] = matches[j-1], matches[j]
		}
	}
}

func (p *Pipeline) matchesFromGazetteer(ctx context.Context, group taxonfinder.CandidateGroup, locale string) []taxonfinder.TaxonMatch {
	if p.gazetteerStore == nil {
		return nil
	}
	var matches []taxonfinder.TaxonMatch
	seen := make(map[int]bool)
	for i, taxonID := range group.GazetteerTaxonIDs {
		if seen[taxonID] {
			continue
		}
		seen[taxonID] = true
		rec, err := p.gazetteerStore.GetFullRecord(ctx, taxonID, locale)
		if err != nil || rec == nil {
			continue
		}
		var taxonomy taxonfinder.TaxonomyInfo
		taxonomy.SetRank(rec.TaxonRank, rec.TaxonName)

		score := 0.5
		if i == 0 {
			score = 1.0
		}

		var commonEn, commonLoc *string
		if rec.TaxonCommonNameEn != "" {
			commonEn = &rec.TaxonCommonNameEn
		}
		if rec.TaxonCommonNameLoc != "" {
			commonLoc = &rec.TaxonCommonNameLoc
		}

		matches = append(matches, taxonfinder.TaxonMatch{
			TaxonID:            rec.TaxonID,
			TaxonName:          rec.TaxonName,
			TaxonRank:          rec.TaxonRank,
			Taxonomy:           taxonomy,
			TaxonCommonNameEn:  commonEn,
			TaxonCommonNameLoc: commonLoc,
			TaxonMatchedName:   group.Normalized,
			TaxonURL:           fmt.Sprintf("https://www.inaturalist.org/taxa/%d", rec.TaxonID),
			Score:              score,
		})
	}
	return matches
}

func buildResult(rc taxonfinder.ResolvedCandidate) taxonfinder.TaxonResult {
	sourceText := rc.Group.Normalized
	if len(rc.Group.Occurrences) > 0 {
		sourceText = rc.Group.Occurrences[0].SourceText
	}
	matches := rc.Matches
	if len(matches) > 5 {
		matches = matches[:5]
	}
	return taxonfinder.TaxonResult{
		SourceText:           sourceText,
		Identified:           rc.Identified,
		ExtractionConfidence: rc.Group.Confidence,
		ExtractionMethod:     rc.Group.Method,
		Occurrences:          rc.Group.Occurrences,
		Matches:              matches,
		LlmResponse:          rc.LlmResponse,
		CandidateNames:       rc.CandidateNames,
		Reason:               rc.Reason,
	}
}
