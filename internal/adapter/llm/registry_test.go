package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wasm-arena/internal/domain"
	"wasm-arena/internal/infra/config"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(okProvider("b", "")))
	require.NoError(t, r.Register(okProvider("a", "")))
	assert.ErrorIs(t, r.Register(okProvider("a", "")), domain.ErrDuplicate)

	assert.Equal(t, []string{"a", "b"}, r.List())

	_, err := r.Get("zzz")
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)

	_, err = r.Default()
	assert.ErrorIs(t, err, domain.ErrProviderNotFound, "two providers and no default")

	r.SetDefault("b")
	p, err := r.Default()
	require.NoError(t, err)
	assert.Equal(t, "b", p.Name())
}

func TestRegistry_SingleProviderIsDefault(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(okProvider("only", "")))
	p, err := r.Default()
	require.NoError(t, err)
	assert.Equal(t, "only", p.Name())
}

func TestNewProvider_Types(t *testing.T) {
	tests := []struct {
		cfg  config.ProviderConfig
		want any
	}{
		{config.ProviderConfig{Name: "openai"}, &OpenAIProvider{}},
		{config.ProviderConfig{Name: "claude", Type: "anthropic"}, &AnthropicProvider{}},
		{config.ProviderConfig{Name: "gemini"}, &GeminiProvider{}},
		{config.ProviderConfig{Name: "local", Type: "ollama"}, &OllamaProvider{}},
		{config.ProviderConfig{Name: "openrouter"}, &OpenRouterProvider{}},
	}
	for _, tt := range tests {
		p, err := NewProvider(tt.cfg, newTestLogger())
		require.NoError(t, err, tt.cfg.Name)
		assert.IsType(t, tt.want, p)
		assert.Equal(t, tt.cfg.Name, p.Name())
	}

	_, err := NewProvider(config.ProviderConfig{Name: "x", Type: "nope"}, newTestLogger())
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestBuildRegistry_Wrappers(t *testing.T) {
	reg, err := BuildRegistry(config.LLMConfig{
		DefaultProvider: "openai",
		Providers: []config.ProviderConfig{
			{Name: "openai"},
			{Name: "claude", Type: "anthropic"},
		},
		Failover:       config.FailoverConfig{Enabled: true, Fallbacks: []string{"claude"}},
		CircuitBreaker: config.CircuitBreakerConfig{Enabled: true},
		RateLimit:      config.RateLimitConfig{RequestsPerMinute: 60},
	}, newTestLogger())
	require.NoError(t, err)

	assert.Equal(t, []string{"claude", "openai", "openai+failover"}, reg.List())

	p, err := reg.Get("openai")
	require.NoError(t, err)
	cb, ok := p.(*CircuitBreakerProvider)
	require.True(t, ok)
	assert.IsType(t, &RateLimitedProvider{}, cb.inner)

	def, err := reg.Default()
	require.NoError(t, err)
	assert.IsType(t, &FailoverProvider{}, def)
}

func TestBuildRegistry_UnknownDefault(t *testing.T) {
	_, err := BuildRegistry(config.LLMConfig{
		DefaultProvider: "missing",
		Providers:       []config.ProviderConfig{{Name: "openai"}},
	}, newTestLogger())
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)
}

func TestBuildRegistry_UnknownFallback(t *testing.T) {
	_, err := BuildRegistry(config.LLMConfig{
		DefaultProvider: "openai",
		Providers:       []config.ProviderConfig{{Name: "openai"}},
		Failover:        config.FailoverConfig{Enabled: true, Fallbacks: []string{"ghost"}},
	}, newTestLogger())
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)
}
