// Package config loads and validates the pipeline's run configuration: a
// JSON file checked against an embedded JSON Schema, with secrets merged
// in from a .env file before parsing.
package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"taxonfinder"
)

//go:embed config.schema.json
var schemaJSON string

// INaturalist holds the upstream search API's tunables.
type INaturalist struct {
	BaseURL      string `json:"base_url"`
	Timeout      float64 `json:"timeout"`
	RateLimit    float64 `json:"rate_limit"`
	BurstLimit   int     `json:"burst_limit"`
	MaxRetries   int     `json:"max_retries"`
	CacheEnabled bool    `json:"cache_enabled"`
	CachePath    string  `json:"cache_path"`
	CacheTTLDays int     `json:"cache_ttl_days"`
}

func defaultINaturalist() INaturalist {
	return INaturalist{
		BaseURL:      "https://api.inaturalist.org",
		Timeout:      30,
		RateLimit:    1.0,
		BurstLimit:   5,
		MaxRetries:   3,
		CacheEnabled: true,
		CachePath:    "cache/taxonfinder.db",
		CacheTTLDays: 7,
	}
}

// LlmExtractor holds the LLM extraction phase's tunables.
type LlmExtractor struct {
	Enabled       bool    `json:"enabled"`
	Provider      string  `json:"provider"`
	Model         string  `json:"model"`
	URL           *string `json:"url"`
	Timeout       float64 `json:"timeout"`
	PromptFile    string  `json:"prompt_file"`
	ChunkStrategy string  `json:"chunk_strategy"`
	MinChunkWords int     `json:"min_chunk_words"`
	MaxChunkWords int     `json:"max_chunk_words"`
	AutoStart     bool    `json:"auto_start"`
	AutoPullModel bool    `json:"auto_pull_model"`
	StopAfterRun  bool    `json:"stop_after_run"`
}

func defaultLlmExtractor() LlmExtractor {
	return LlmExtractor{
		Enabled:       true,
		Timeout:       60,
		PromptFile:    "prompts/llm_extractor.txt",
		ChunkStrategy: "paragraph",
		MinChunkWords: 50,
		MaxChunkWords: 500,
	}
}

// LlmEnricher holds the LLM enrichment phase's tunables.
type LlmEnricher struct {
	Enabled       bool    `json:"enabled"`
	Provider      string  `json:"provider"`
	Model         string  `json:"model"`
	URL           *string `json:"url"`
	Timeout       float64 `json:"timeout"`
	PromptFile    string  `json:"prompt_file"`
	AutoStart     bool    `json:"auto_start"`
	AutoPullModel bool    `json:"auto_pull_model"`
	StopAfterRun  bool    `json:"stop_after_run"`
}

func defaultLlmEnricher() LlmEnricher {
	return LlmEnricher{Enabled: true, Timeout: 30, PromptFile: "prompts/llm_enricher.txt"}
}

// Config is the fully parsed, validated pipeline configuration.
type Config struct {
	Confidence     float64       `json:"confidence"`
	Locale         string        `json:"locale"`
	GazetteerPath  string        `json:"gazetteer_path"`
	SpacyModel     string        `json:"spacy_model"`
	MaxFileSizeMB  float64       `json:"max_file_size_mb"`
	DegradedMode   bool          `json:"degraded_mode"`
	UserAgent      string        `json:"user_agent"`
	INaturalist    INaturalist   `json:"inaturalist"`
	LlmExtractor   *LlmExtractor `json:"llm_extractor"`
	LlmEnricher    *LlmEnricher  `json:"llm_enricher"`
}

var schema = compileSchema()

func compileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("config.schema.json", strings.NewReader(schemaJSON)); err != nil {
		panic(fmt.Sprintf("config: embedded schema is invalid: %v", err))
	}
	compiled, err := compiler.Compile("config.schema.json")
	if err != nil {
		panic(fmt.Sprintf("config: embedded schema failed to compile: %v", err))
	}
	return compiled
}

// Load reads path, merges any .env file in the working directory into the
// process environment, validates the JSON against the embedded schema, and
// returns the parsed Config with defaults applied for omitted fields (an
// omitted llm_extractor or llm_enricher section stays nil).
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, taxonfinder.NewConfigError(fmt.Sprintf("config file not found: %s", path), err)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, taxonfinder.NewConfigError("invalid config JSON", err)
	}

	if err := schema.Validate(doc); err != nil {
		return nil, taxonfinder.NewConfigError(fmt.Sprintf("invalid config: %v", err), nil)
	}

	var raw_ rawConfig
	if err := json.Unmarshal(raw, &raw_); err != nil {
		return nil, taxonfinder.NewConfigError("invalid config JSON", err)
	}

	return raw_.toConfig(), nil
}

// rawConfig mirrors the wire shape with every field optional, so defaults
// can be detected and applied after unmarshalling.
type rawConfig struct {
	Confidence    float64          `json:"confidence"`
	Locale        string           `json:"locale"`
	GazetteerPath *string          `json:"gazetteer_path"`
	SpacyModel    *string          `json:"spacy_model"`
	MaxFileSizeMB *float64         `json:"max_file_size_mb"`
	DegradedMode  *bool            `json:"degraded_mode"`
	UserAgent     *string          `json:"user_agent"`
	INaturalist   *rawINaturalist  `json:"inaturalist"`
	LlmExtractor  *rawLlmExtractor `json:"llm_extractor"`
	LlmEnricher   *rawLlmEnricher  `json:"llm_enricher"`
}

type rawINaturalist struct {
	BaseURL      *string  `json:"base_url"`
	Timeout      *float64 `json:"timeout"`
	RateLimit    *float64 `json:"rate_limit"`
	BurstLimit   *int     `json:"burst_limit"`
	MaxRetries   *int     `json:"max_retries"`
	CacheEnabled *bool    `json:"cache_enabled"`
	CachePath    *string  `json:"cache_path"`
	CacheTTLDays *int     `json:"cache_ttl_days"`
}

type rawLlmExtractor struct {
	Enabled       *bool   `json:"enabled"`
	Provider      string  `json:"provider"`
	Model         string  `json:"model"`
	URL           *string `json:"url"`
	Timeout       *float64 `json:"timeout"`
	PromptFile    *string `json:"prompt_file"`
	ChunkStrategy *string `json:"chunk_strategy"`
	MinChunkWords *int    `json:"min_chunk_words"`
	MaxChunkWords *int    `json:"max_chunk_words"`
	AutoStart     *bool   `json:"auto_start"`
	AutoPullModel *bool   `json:"auto_pull_model"`
	StopAfterRun  *bool   `json:"stop_after_run"`
}

type rawLlmEnricher struct {
	Enabled       *bool    `json:"enabled"`
	Provider      string   `json:"provider"`
	Model         string   `json:"model"`
	URL           *string  `json:"url"`
	Timeout       *float64 `json:"timeout"`
	PromptFile    *string  `json:"prompt_file"`
	AutoStart     *bool    `json:"auto_start"`
	AutoPullModel *bool    `json:"auto_pull_model"`
	StopAfterRun  *bool    `json:"stop_after_run"`
}

func (r rawConfig) toConfig() *Config {
	cfg := &Config{
		Confidence:    r.Confidence,
		Locale:        r.Locale,
		GazetteerPath: orString(r.GazetteerPath, "data/gazetteer.db"),
		SpacyModel:    orString(r.SpacyModel, "ru_core_news_md"),
		MaxFileSizeMB: orFloat(r.MaxFileSizeMB, 2.0),
		DegradedMode:  orBool(r.DegradedMode, false),
		UserAgent:     orString(r.UserAgent, "TaxonFinder/0.1.0"),
		INaturalist:   defaultINaturalist(),
	}
	if r.INaturalist != nil {
		d := defaultINaturalist()
		cfg.INaturalist = INaturalist{
			BaseURL:      orString(r.INaturalist.BaseURL, d.BaseURL),
			Timeout:      orFloat(r.INaturalist.Timeout, d.Timeout),
			RateLimit:    orFloat(r.INaturalist.RateLimit, d.RateLimit),
			BurstLimit:   orInt(r.INaturalist.BurstLimit, d.BurstLimit),
			MaxRetries:   orInt(r.INaturalist.MaxRetries, d.MaxRetries),
			CacheEnabled: orBool(r.INaturalist.CacheEnabled, d.CacheEnabled),
			CachePath:    orString(r.INaturalist.CachePath, d.CachePath),
			CacheTTLDays: orInt(r.INaturalist.CacheTTLDays, d.CacheTTLDays),
		}
	}
	if r.LlmExtractor != nil {
		d := defaultLlmExtractor()
		cfg.LlmExtractor = &LlmExtractor{
			Enabled:       orBool(r.LlmExtractor.Enabled, d.Enabled),
			Provider:      r.LlmExtractor.Provider,
			Model:         r.LlmExtractor.Model,
			URL:           r.LlmExtractor.URL,
			Timeout:       orFloat(r.LlmExtractor.Timeout, d.Timeout),
			PromptFile:    orString(r.LlmExtractor.PromptFile, d.PromptFile),
			ChunkStrategy: orString(r.LlmExtractor.ChunkStrategy, d.ChunkStrategy),
			MinChunkWords: orInt(r.LlmExtractor.MinChunkWords, d.MinChunkWords),
			MaxChunkWords: orInt(r.LlmExtractor.MaxChunkWords, d.MaxChunkWords),
			AutoStart:     orBool(r.LlmExtractor.AutoStart, d.AutoStart),
			AutoPullModel: orBool(r.LlmExtractor.AutoPullModel, d.AutoPullModel),
			StopAfterRun:  orBool(r.LlmExtractor.StopAfterRun, d.StopAfterRun),
		}
	}
	if r.LlmEnricher != nil {
		d := defaultLlmEnricher()
		cfg.LlmEnricher = &LlmEnricher{
			Enabled:       orBool(r.LlmEnricher.Enabled, d.Enabled),
			Provider:      r.LlmEnricher.Provider,
			Model:         r.LlmEnricher.Model,
			URL:           r.LlmEnricher.URL,
			Timeout:       orFloat(r.LlmEnricher.Timeout, d.Timeout),
			PromptFile:    orString(r.LlmEnricher.PromptFile, d.PromptFile),
			AutoStart:     orBool(r.LlmEnricher.AutoStart, d.AutoStart),
			AutoPullModel: orBool(r.LlmEnricher.AutoPullModel, d.AutoPullModel),
			StopAfterRun:  orBool(r.LlmEnricher.StopAfterRun, d.StopAfterRun),
		}
	}
	return cfg
}

func orString(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}

func orFloat(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func orInt(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func orBool(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
