// Package search implements the external taxon searcher: a rate-limited,
// cache-fronted HTTP client against an iNaturalist-style autocomplete
// endpoint, with retry/backoff on transient failures.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"taxonfinder"
)

// Cache is the narrow disk-cache capability the searcher needs.
type Cache interface {
	Get(ctx context.Context, query, locale string) (string, bool, error)
	Put(ctx context.Context, query, locale, responseJSON string) error
}

// RateLimiter is the narrow token-bucket capability the searcher needs.
type RateLimiter interface {
	Acquire()
}

// Option configures an INaturalistSearcher.
type Option func(*INaturalistSearcher)

// WithLogger installs a logging hook invoked on recoverable failures (a
// cache write that failed but must not fail the search itself); without it
// they are discarded. logf must not be nil.
func WithLogger(logf func(format string, args ...any)) Option {
	return func(s *INaturalistSearcher) { s.logf = logf }
}

// Config holds the tunables of one searcher instance.
type Config struct {
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
}

func (c Config) userAgent() string {
	if c.UserAgent != "" {
		return c.UserAgent
	}
	return "TaxonFinder/0.1.0"
}

// INaturalistSearcher resolves a name to candidate taxa via an
// iNaturalist-compatible autocomplete endpoint.
type INaturalistSearcher struct {
	http        *http.Client
	config      Config
	cache       Cache
	rateLimiter RateLimiter
	sleep       func(time.Duration)
	random      func() float64
	logf        func(format string, args ...any)
}

// New builds an INaturalistSearcher. cache and rateLimiter may both be nil.
func New(httpClient *http.Client, config Config, cache Cache, rateLimiter RateLimiter, opts ...Option) *INaturalistSearcher {
	s := &INaturalistSearcher{
		http:        httpClient,
		config:      config,
		cache:       cache,
		rateLimiter: rateLimiter,
		sleep:       time.Sleep,
		random:      rand.Float64,
		logf:        func(string, ...any) {},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search resolves query in locale to up to 5 TaxonMatch values, consulting
// the cache first and falling back to the upstream endpoint with
// retry/backoff on 429 and 5xx responses.
func (s *INaturalistSearcher) Search(ctx context.Context, query, locale string) ([]taxonfinder.TaxonMatch, error) {
	if s.cache != nil {
		if cached, ok, err := s.cache.Get(ctx, query, locale); err != nil {
			return nil, err
		} else if ok {
			return parseMatches(cached, locale, query)
		}
	}

	raw, err := s.request(ctx, query, locale)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Put(ctx, query, locale, raw); err != nil {
			cacheErr := taxonfinder.NewCacheError("iNaturalist cache write failed", err)
			s.logf("search_cache_put_failed query=%s error=%v", query, cacheErr)
		}
	}
	return parseMatches(raw, locale, query)
}

func (s *INaturalistSearcher) request(ctx context.Context, query, locale string) (string, error) {
	endpoint := strings.TrimRight(s.config.BaseURL, "/") + "/v1/taxa/autocomplete"

	var lastStatus int
	var lastBody string

	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if s.rateLimiter != nil {
			s.rateLimiter.Acquire()
		}

		status, body, err := s.doRequest(ctx, endpoint, query, locale)
		if err != nil {
			return "", taxonfinder.NewUpstreamError("iNaturalist request failed", 0, err)
		}
		if status == http.StatusOK {
			return body, nil
		}

		lastStatus, lastBody = status, body
		if status == http.StatusTooManyRequests || status >= 500 {
			if attempt < s.config.MaxRetries {
				s.sleepBackoff(attempt)
				continue
			}
		}
		break
	}

	return "", taxonfinder.NewUpstreamError(
		fmt.Sprintf("iNaturalist error: %d %s", lastStatus, lastBody),
		lastStatus,
		nil,
	)
}

func (s *INaturalistSearcher) doRequest(ctx context.Context, endpoint, query, locale string) (int, string, error) {
	reqCtx := ctx
	var cancel context.CancelFunc
	if s.config.Timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return 0, "", err
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("locale", locale)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("User-Agent", s.config.userAgent())

	resp, err := s.http.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", err
	}
	return resp.StatusCode, string(body), nil
}

func (s *INaturalistSearcher) sleepBackoff(attempt int) {
	baseDelay := 3 * float64(int(1)<<uint(attempt))
	jitter := 0.5 + s.random()*0.5
	s.sleep(time.Duration(baseDelay * jitter * float64(time.Second)))
}

type upstreamName struct {
	Name        string `json:"name"`
	Locale      string `json:"locale"`
	IsPreferred bool   `json:"is_preferred"`
}

type upstreamAncestor struct {
	Rank string `json:"rank"`
	Name string `json:"name"`
}

type upstreamResult struct {
	ID                 json.Number        `json:"id"`
	TaxonID            json.Number        `json:"taxon_id"`
	Name               string             `json:"name"`
	Rank               string             `json:"rank"`
	MatchedName        string             `json:"matched_name"`
	MatchedTerm        string             `json:"matched_term"`
	URI                string             `json:"uri"`
	Score              json.Number        `json:"score"`
	Names              []upstreamName     `json:"names"`
	Ancestors          []upstreamAncestor `json:"ancestors"`
	PreferredCommonRaw json.RawMessage    `json:"preferred_common_name"`
}

type upstreamResponse struct {
	Results []upstreamResult `json:"results"`
}

func parseMatches(raw, locale, query string) ([]taxonfinder.TaxonMatch, error) {
	var response upstreamResponse
	if err := json.Unmarshal([]byte(raw), &response); err != nil {
		return nil, taxonfinder.NewUpstreamError("malformed iNaturalist response", 0, err)
	}

	results := response.Results
	if len(results) > 5 {
		results = results[:5]
	}

	matches := make([]taxonfinder.TaxonMatch, 0, len(results))
	for _, result := range results {
		taxonID := firstInt(result.ID, result.TaxonID)
		matchedName := firstNonEmpty(result.MatchedName, result.MatchedTerm, query)
		taxonURL := result.URI
		if taxonURL == "" {
			taxonURL = fmt.Sprintf("https://www.inaturalist.org/taxa/%d", taxonID)
		}

		matches = append(matches, taxonfinder.TaxonMatch{
			TaxonID:            taxonID,
			TaxonName:          result.Name,
			TaxonRank:          result.Rank,
			Taxonomy:           taxonomyFromResult(result),
			TaxonCommonNameEn:  extractCommonNameEn(result),
			TaxonCommonNameLoc: extractLocaleCommonName(result.Names, locale),
			TaxonMatchedName:   matchedName,
			TaxonURL:           taxonURL,
			Score:              firstFloat(result.Score),
			TaxonNames:         extractNames(result.Names),
		})
	}
	return matches, nil
}

func firstInt(values ...json.Number) int {
	for _, v := range values {
		if v != "" {
			if n, err := v.Int64(); err == nil {
				return int(n)
			}
		}
	}
	return 0
}

func firstFloat(v json.Number) float64 {
	if v == "" {
		return 0
	}
	f, err := v.Float64()
	if err != nil {
		return 0
	}
	return f
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func extractNames(names []upstreamName) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n.Name != "" {
			out = append(out, n.Name)
		}
	}
	return out
}

func extractLocaleCommonName(names []upstreamName, locale string) *string {
	for _, n := range names {
		if n.Locale == locale && n.Name != "" {
			name := n.Name
			return &name
		}
	}
	return nil
}

func extractCommonNameEn(result upstreamResult) *string {
	var preferred, fallback string
	for _, n := range result.Names {
		if n.Locale != "en" || n.Name == "" {
			continue
		}
		if n.IsPreferred {
			preferred = n.Name
			break
		}
		if fallback == "" {
			fallback = n.Name
		}
	}
	if preferred != "" {
		return &preferred
	}
	if fallback != "" {
		return &fallback
	}
	if len(result.PreferredCommonRaw) > 0 {
		var asString string
		if err := json.Unmarshal(result.PreferredCommonRaw, &asString); err == nil && asString != "" {
			return &asString
		}
		var asObject struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(result.PreferredCommonRaw, &asObject); err == nil && asObject.Name != "" {
			return &asObject.Name
		}
	}
	return nil
}

func taxonomyFromResult(result upstreamResult) taxonfinder.TaxonomyInfo {
	var info taxonfinder.TaxonomyInfo
	for _, ancestor := range result.Ancestors {
		info.SetRank(ancestor.Rank, ancestor.Name)
	}
	info.SetRank(result.Rank, result.Name)
	return info
}
