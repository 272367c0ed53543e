package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wasm-arena/internal/domain"
	"wasm-arena/internal/infra/config"
)

func TestOpenAIProviderChat(t *testing.T) {
	var got openaiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_ = json.NewEncoder(w).Encode(openaiResponse{
			ID:    "chatcmpl-123",
			Model: "gpt-4o-mini",
			Choices: []openaiChoice{{
				Message:      openaiMessage{Role: "assistant", Content: "e4"},
				FinishReason: "stop",
			}},
			Usage: openaiUsage{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12},
		})
	}))
	defer server.Close()

	p := NewOpenAIProvider(config.ProviderConfig{
		Name: "openai", BaseURL: server.URL + "/", APIKey: "test-key", Model: "gpt-4o-mini",
	}, newTestLogger())

	resp, err := p.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "You play chess."},
			{Role: domain.RoleUser, Content: "Your move."},
		},
		MaxTokens:   64,
		Temperature: 0.2,
	})
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-mini", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, 64, got.MaxTokens)
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 0.2, *got.Temperature, 1e-9)

	assert.Equal(t, "chatcmpl-123", resp.ID)
	assert.Equal(t, "e4", resp.Message.Content)
	assert.Equal(t, domain.RoleAssistant, resp.Message.Role)
	assert.Equal(t, 12, resp.Usage.TotalTokens)
	assert.Equal(t, "openai", p.Name())
}

func TestOpenAIProviderChat_ErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"rate limit", http.StatusTooManyRequests, `{"error":"slow down"}`, domain.ErrRateLimit},
		{"auth", http.StatusUnauthorized, `{"error":"bad key"}`, domain.ErrAuthInvalid},
		{"server", http.StatusInternalServerError, `oops`, domain.ErrProviderServer},
		{"malformed", http.StatusOK, `not json`, domain.ErrMalformedResponse},
		{"no choices", http.StatusOK, `{"id":"x","choices":[]}`, domain.ErrMalformedResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			p := NewOpenAIProvider(config.ProviderConfig{Name: "openai", BaseURL: server.URL}, newTestLogger())
			_, err := p.Chat(context.Background(), domain.ChatRequest{Messages: []domain.Message{{Role: "user", Content: "hi"}}})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestOpenAIProvider_NoKeyNoAuthHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"a1"}}]}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider(config.ProviderConfig{Name: "local", BaseURL: server.URL}, newTestLogger())
	resp, err := p.Chat(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "a1", resp.Message.Content)
	assert.Equal(t, domain.RoleAssistant, resp.Message.Role)
}

func TestToOpenAIRequest_OmitsZeroKnobs(t *testing.T) {
	raw, err := json.Marshal(toOpenAIRequest(domain.ChatRequest{Model: "m"}))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "temperature")
	assert.NotContains(t, string(raw), "max_tokens")
}
