package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wasm-arena/internal/domain"
	"wasm-arena/internal/infra/config"
)

func newOllamaServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("Ollama is running"))
	})
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3:8b","size":42}]}`))
	})
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"model":"llama3:8b","choices":[{"message":{"role":"assistant","content":"c3"}}]}`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestOllamaProvider(t *testing.T) {
	server := newOllamaServer(t)
	p := NewOllamaProvider(config.ProviderConfig{Name: "ollama", BaseURL: server.URL, Model: "llama3:8b"}, newTestLogger())
	ctx := context.Background()

	assert.Equal(t, "ollama", p.Name())
	assert.True(t, p.IsHealthy(ctx))

	models, err := p.ListModels(ctx)
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "llama3:8b", models[0].Name)

	require.NoError(t, p.Warmup(ctx))

	resp, err := p.Chat(ctx, domain.ChatRequest{Messages: []domain.Message{{Role: "user", Content: "go"}}})
	require.NoError(t, err)
	assert.Equal(t, "c3", resp.Message.Content)
}

func TestOllamaProvider_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	p := NewOllamaProvider(config.ProviderConfig{Name: "ollama", BaseURL: url}, newTestLogger())
	assert.False(t, p.IsHealthy(context.Background()))
	assert.ErrorIs(t, p.Warmup(context.Background()), domain.ErrNetwork)

	_, err := p.ListModels(context.Background())
	assert.ErrorIs(t, err, domain.ErrNetwork)
}
