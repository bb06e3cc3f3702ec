package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"taxonfinder"
	"taxonfinder/llmclient"
)

const defaultOllamaURL = "http://localhost:11434"

// resolveLlmClient builds the llmclient.Client for one phase's provider
// config, auto-starting and auto-pulling a local Ollama server first when
// configured to. It returns a cleanup func (non-nil only when this call
// started a server it owns and stopAfter is set).
func (p *Pipeline) resolveLlmClient(
	ctx context.Context,
	provider, model string,
	url *string,
	timeoutSeconds float64,
	autoStart, autoPull, stopAfter bool,
) (llmclient.Client, func(), error) {
	if p.llmClient != nil {
		return p.llmClient, nil, nil
	}

	timeout := time.Duration(timeoutSeconds * float64(time.Second))

	switch provider {
	case "ollama":
		baseURL := defaultOllamaURL
		if url != nil && *url != "" {
			baseURL = *url
		}
		cleanup, err := p.prepareOllama(ctx, baseURL, model, autoStart, autoPull, stopAfter, timeout)
		if err != nil {
			return nil, nil, err
		}
		return &llmclient.Ollama{
			BaseURL:   baseURL,
			Model:     model,
			HTTP:      p.llmHTTPClient(timeout),
			UserAgent: p.config.UserAgent,
		}, cleanup, nil

	case "openai":
		baseURL := "https://api.openai.com"
		if url != nil && *url != "" {
			baseURL = *url
		}
		return &llmclient.OpenAI{
			BaseURL:   baseURL,
			Model:     model,
			APIKey:    os.Getenv("OPENAI_API_KEY"),
			HTTP:      p.llmHTTPClient(timeout),
			UserAgent: p.config.UserAgent,
		}, nil, nil

	case "anthropic":
		baseURL := "https://api.anthropic.com"
		if url != nil && *url != "" {
			baseURL = *url
		}
		return &llmclient.Anthropic{
			BaseURL:   baseURL,
			Model:     model,
			APIKey:    os.Getenv("ANTHROPIC_API_KEY"),
			HTTP:      p.llmHTTPClient(timeout),
			UserAgent: p.config.UserAgent,
		}, nil, nil
	}

	return nil, nil, taxonfinder.NewConfigError(fmt.Sprintf("unknown LLM provider: %s", provider), nil)
}

func (p *Pipeline) llmHTTPClient(timeout time.Duration) *http.Client {
	if p.httpClient != nil {
		return p.httpClient
	}
	return &http.Client{Timeout: timeout}
}

// prepareOllama ensures an Ollama server is reachable at baseURL and that
// model is pulled, optionally starting "ollama serve" itself. The returned
// cleanup stops a server this call started, if stopAfter is set.
func (p *Pipeline) prepareOllama(ctx context.Context, baseURL, model string, autoStart, autoPull, stopAfter bool, timeout time.Duration) (func(), error) {
	httpClient := p.llmHTTPClient(5 * time.Second)
	reachable := func() bool { return ollamaReachable(httpClient, baseURL) }

	var started *exec.Cmd

	if !reachable() && autoStart {
		p.logger.Info("ollama_auto_start", "base_url", baseURL)
		cmd := exec.CommandContext(context.Background(), "ollama", "serve")
		if err := cmd.Start(); err != nil {
			return nil, taxonfinder.NewLlmError(fmt.Sprintf("failed to start ollama serve at %s", baseURL), err)
		}
		started = cmd

		deadline := time.Now().Add(max(timeout, 5*time.Second))
		for time.Now().Before(deadline) {
			if reachable() {
				p.logger.Info("ollama_started", "base_url", baseURL)
				break
			}
			time.Sleep(500 * time.Millisecond)
		}
		if !reachable() {
			_ = cmd.Process.Kill()
			return nil, taxonfinder.NewLlmError(fmt.Sprintf("failed to start ollama serve at %s", baseURL), nil)
		}
	}

	if !reachable() {
		return nil, taxonfinder.NewLlmError(
			fmt.Sprintf("ollama is not reachable at %s; start 'ollama serve' or set auto_start=true in config", baseURL), nil)
	}

	if autoPull && !ollamaModelAvailable(httpClient, baseURL, model) {
		p.logger.Info("ollama_pull_model", "model", model)
		cmd := exec.CommandContext(ctx, "ollama", "pull", model)
		if err := cmd.Run(); err != nil {
			if _, ok := err.(*exec.Error); ok {
				return nil, taxonfinder.NewLlmError("ollama CLI not found; please install Ollama", err)
			}
			return nil, taxonfinder.NewLlmError(fmt.Sprintf("ollama pull failed for model %s", model), err)
		}
		if !ollamaModelAvailable(httpClient, baseURL, model) {
			return nil, taxonfinder.NewLlmError(fmt.Sprintf("model %s is still unavailable after pull", model), nil)
		}
	}

	if started == nil || !stopAfter {
		return nil, nil
	}
	return func() { _ = started.Process.Kill() }, nil
}

func ollamaReachable(client *http.Client, baseURL string) bool {
	req, err := http.NewRequest(http.MethodGet, strings.TrimRight(baseURL, "/")+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

func ollamaModelAvailable(client *http.Client, baseURL, model string) bool {
	req, err := http.NewRequest(http.MethodGet, strings.TrimRight(baseURL, "/")+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	var body struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false
	}
	for _, m := range body.Models {
		if m.Name == model {
			return true
		}
	}
	return false
}
