package llmclient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxonfinder/llmclient"
)

func TestOllama_Complete_ParsesResponseField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"response": `{"candidates":[]}`})
	}))
	defer server.Close()

	client := &llmclient.Ollama{BaseURL: server.URL, Model: "llama3", HTTP: server.Client()}
	out, err := client.Complete(context.Background(), "system", "user", nil)

	require.NoError(t, err)
	assert.Equal(t, `{"candidates":[]}`, out)
}

func TestOllama_Complete_MissingResponseField_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer server.Close()

	client := &llmclient.Ollama{BaseURL: server.URL, Model: "llama3", HTTP: server.Client()}
	_, err := client.Complete(context.Background(), "system", "user", nil)

	assert.Error(t, err)
}

func TestOllama_Complete_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := &llmclient.Ollama{BaseURL: server.URL, Model: "llama3", HTTP: server.Client()}
	_, err := client.Complete(context.Background(), "system", "user", nil)

	assert.Error(t, err)
}

func TestOpenAI_Complete_ParsesChoiceContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "hello"}},
			},
		})
	}))
	defer server.Close()

	client := &llmclient.OpenAI{BaseURL: server.URL, Model: "gpt-4", APIKey: "secret", HTTP: server.Client()}
	out, err := client.Complete(context.Background(), "system", "user", nil)

	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestAnthropic_Complete_ParsesContentBlock(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{{"text": "hello"}},
		})
	}))
	defer server.Close()

	client := &llmclient.Anthropic{BaseURL: server.URL, Model: "claude-3", APIKey: "secret", HTTP: server.Client()}
	out, err := client.Complete(context.Background(), "system", "user", nil)

	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}
