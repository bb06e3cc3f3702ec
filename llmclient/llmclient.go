// Package llmclient provides the abstract LLM completion capability and
// three concrete providers (Ollama, OpenAI, Anthropic), each a thin
// translation of that provider's chat/completion wire format onto a
// shared net/http client.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"taxonfinder"
)

const defaultUserAgent = "TaxonFinder/0.1.0"

// Client is the abstract completion capability every extractor/enricher
// phase depends on; concrete providers differ only in wire format.
type Client interface {
	Complete(ctx context.Context, systemPrompt, userContent string, responseSchema map[string]any) (string, error)
}

// Ollama talks to a local Ollama server's /api/generate endpoint.
type Ollama struct {
	BaseURL   string
	Model     string
	HTTP      *http.Client
	UserAgent string
}

func (c *Ollama) userAgent() string {
	if c.UserAgent != "" {
		return c.UserAgent
	}
	return defaultUserAgent
}

// Complete implements Client for the Ollama generate endpoint.
func (c *Ollama) Complete(ctx context.Context, systemPrompt, userContent string, responseSchema map[string]any) (string, error) {
	url := strings.TrimRight(c.BaseURL, "/") + "/api/generate"
	payload := map[string]any{
		"model":  c.Model,
		"prompt": userContent,
		"system": systemPrompt,
		"stream": false,
	}
	if responseSchema != nil {
		payload["format"] = "json"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", taxonfinder.NewLlmError("ollama: encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", taxonfinder.NewLlmError("ollama: build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", taxonfinder.NewLlmError("ollama: request failed", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return "", taxonfinder.NewLlmError(fmt.Sprintf("ollama request failed: %d %s", resp.StatusCode, string(raw)), nil)
	}

	var data struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return "", taxonfinder.NewLlmError("ollama: decode response", err)
	}
	if data.Response == "" {
		return "", taxonfinder.NewLlmError("ollama response missing 'response' field", nil)
	}
	return data.Response, nil
}

// OpenAI talks to an OpenAI-compatible /v1/chat/completions endpoint.
type OpenAI struct {
	BaseURL   string
	Model     string
	APIKey    string
	HTTP      *http.Client
	UserAgent string
}

func (c *OpenAI) userAgent() string {
	if c.UserAgent != "" {
		return c.UserAgent
	}
	return defaultUserAgent
}

// Complete implements Client for the OpenAI chat completions endpoint.
func (c *OpenAI) Complete(ctx context.Context, systemPrompt, userContent string, responseSchema map[string]any) (string, error) {
	url := strings.TrimRight(c.BaseURL, "/") + "/v1/chat/completions"
	payload := map[string]any{
		"model": c.Model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userContent},
		},
		"temperature": 0,
	}
	if responseSchema != nil {
		payload["response_format"] = map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "response",
				"schema": responseSchema,
				"strict": true,
			},
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", taxonfinder.NewLlmError("openai: encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", taxonfinder.NewLlmError("openai: build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("User-Agent", c.userAgent())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", taxonfinder.NewLlmError("openai: request failed", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return "", taxonfinder.NewLlmError(fmt.Sprintf("openai request failed: %d %s", resp.StatusCode, string(raw)), nil)
	}

	var data struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return "", taxonfinder.NewLlmError("openai: decode response", err)
	}
	if len(data.Choices) == 0 {
		return "", taxonfinder.NewLlmError("openai response missing content", nil)
	}
	return data.Choices[0].Message.Content, nil
}

// Anthropic talks to the /v1/messages endpoint.
type Anthropic struct {
	BaseURL   string
	Model     string
	APIKey    string
	HTTP      *http.Client
	UserAgent string
}

func (c *Anthropic) userAgent() string {
	if c.UserAgent != "" {
		return c.UserAgent
	}
	return defaultUserAgent
}

// Complete implements Client for the Anthropic messages endpoint.
func (c *Anthropic) Complete(ctx context.Context, systemPrompt, userContent string, responseSchema map[string]any) (string, error) {
	url := strings.TrimRight(c.BaseURL, "/") + "/v1/messages"
	payload := map[string]any{
		"model":      c.Model,
		"system":     systemPrompt,
		"messages":   []map[string]string{{"role": "user", "content": userContent}},
		"max_tokens": 1024,
	}
	if responseSchema != nil {
		payload["response_format"] = map[string]any{
			"type":        "json_schema",
			"json_schema": responseSchema,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", taxonfinder.NewLlmError("anthropic: encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", taxonfinder.NewLlmError("anthropic: build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	req.Header.Set("User-Agent", c.userAgent())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", taxonfinder.NewLlmError("anthropic: request failed", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return "", taxonfinder.NewLlmError(fmt.Sprintf("anthropic request failed: %d %s", resp.StatusCode, string(raw)), nil)
	}

	var data struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return "", taxonfinder.NewLlmError("anthropic: decode response", err)
	}
	if len(data.Content) == 0 {
		return "", taxonfinder.NewLlmError("anthropic response missing content", nil)
	}
	return data.Content[0].Text, nil
}
