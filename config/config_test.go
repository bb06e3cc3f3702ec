package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxonfinder/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_MinimalConfig_FillsDefaults(t *testing.T) {
	path := writeConfig(t, `{"confidence": 0.75, "locale": "ru"}`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.75, cfg.Confidence)
	assert.Equal(t, "ru", cfg.Locale)
	assert.Equal(t, "data/gazetteer.db", cfg.GazetteerPath)
	assert.Equal(t, "ru_core_news_md", cfg.SpacyModel)
	assert.Equal(t, 2.0, cfg.MaxFileSizeMB)
	assert.False(t, cfg.DegradedMode)
	assert.Equal(t, "TaxonFinder/0.1.0", cfg.UserAgent)
	assert.Equal(t, "https://api.inaturalist.org", cfg.INaturalist.BaseURL)
	assert.Equal(t, 5, cfg.INaturalist.BurstLimit)
	assert.Nil(t, cfg.LlmExtractor)
	assert.Nil(t, cfg.LlmEnricher)
}

func TestLoad_MissingRequiredFields_ReturnsConfigError(t *testing.T) {
	path := writeConfig(t, `{"locale": "ru"}`)

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingFile_ReturnsConfigError(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoad_InvalidJSON_ReturnsConfigError(t *testing.T) {
	path := writeConfig(t, `{not json`)

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoad_LlmExtractorWithoutModel_ReturnsConfigError(t *testing.T) {
	path := writeConfig(t, `{
		"confidence": 0.7,
		"locale": "ru",
		"llm_extractor": {"provider": "ollama"}
	}`)

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoad_LlmExtractorConfigured_AppliesDefaultsAndOverrides(t *testing.T) {
	path := writeConfig(t, `{
		"confidence": 0.7,
		"locale": "ru",
		"llm_extractor": {
			"provider": "ollama",
			"model": "llama3",
			"chunk_strategy": "page",
			"max_chunk_words": 1000
		}
	}`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.LlmExtractor)

	assert.True(t, cfg.LlmExtractor.Enabled)
	assert.Equal(t, "ollama", cfg.LlmExtractor.Provider)
	assert.Equal(t, "llama3", cfg.LlmExtractor.Model)
	assert.Equal(t, "page", cfg.LlmExtractor.ChunkStrategy)
	assert.Equal(t, 1000, cfg.LlmExtractor.MaxChunkWords)
	assert.Equal(t, 50, cfg.LlmExtractor.MinChunkWords)
}

func TestLoad_InvalidChunkStrategy_ReturnsConfigError(t *testing.T) {
	path := writeConfig(t, `{
		"confidence": 0.7,
		"locale": "ru",
		"llm_extractor": {
			"provider": "ollama",
			"model": "llama3",
			"chunk_strategy": "chapter"
		}
	}`)

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoad_ConfidenceOutOfRange_ReturnsConfigError(t *testing.T) {
	path := writeConfig(t, `{"confidence": 1.5, "locale": "ru"}`)

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoad_INaturalistOverrides_AreApplied(t *testing.T) {
	path := writeConfig(t, `{
		"confidence": 0.7,
		"locale": "ru",
		"inaturalist": {"rate_limit": 2.5, "cache_enabled": false}
	}`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2.5, cfg.INaturalist.RateLimit)
	assert.False(t, cfg.INaturalist.CacheEnabled)
	assert.Equal(t, 3, cfg.INaturalist.MaxRetries)
}
