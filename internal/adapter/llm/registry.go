package llm

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"wasm-arena/internal/domain"
	"wasm-arena/internal/infra/config"
)

// Registry holds named LLM providers.
type Registry struct {
	mu          sync.RWMutex
	providers   map[string]domain.LLMProvider
	defaultName string
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]domain.LLMProvider),
	}
}

// Register adds a provider. Returns error if name already registered.
func (r *Registry) Register(provider domain.LLMProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := provider.Name()
	if _, exists := r.providers[name]; exists {
		return domain.NewDomainError("Registry.Register", domain.ErrDuplicate, fmt.Sprintf("provider %q", name))
	}
	r.providers[name] = provider
	return nil
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (domain.LLMProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrProviderNotFound, name)
	}
	return p, nil
}

// SetDefault names the provider returned by Default.
func (r *Registry) SetDefault(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultName = name
}

// Default returns the default provider. With no default configured, a
// registry holding exactly one provider returns that one.
func (r *Registry) Default() (domain.LLMProvider, error) {
	r.mu.RLock()
	name := r.defaultName
	if name == "" && len(r.providers) == 1 {
		for n := range r.providers {
			name = n
		}
	}
	r.mu.RUnlock()

	if name == "" {
		return nil, domain.NewDomainError("Registry.Default", domain.ErrProviderNotFound, "no default provider configured")
	}
	return r.Get(name)
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewProvider creates the provider named by cfg.Type. An empty type falls
// back to the provider name, so a provider called "openai" needs no type.
func NewProvider(cfg config.ProviderConfig, logger *slog.Logger) (domain.LLMProvider, error) {
	typ := cfg.Type
	if typ == "" {
		typ = cfg.Name
	}

	switch typ {
	case "openai":
		return NewOpenAIProvider(cfg, logger), nil
	case "anthropic":
		return NewAnthropicProvider(cfg, logger), nil
	case "gemini":
		return NewGeminiProvider(cfg, logger), nil
	case "ollama":
		return NewOllamaProvider(cfg, logger), nil
	case "openrouter":
		return NewOpenRouterProvider(cfg, logger), nil
	case "bedrock":
		return newBedrock(cfg, logger)
	default:
		return nil, domain.NewDomainError("NewProvider", domain.ErrInvalidInput,
			fmt.Sprintf("provider %q has unknown type %q", cfg.Name, typ))
	}
}

// BuildRegistry creates every configured provider, applies the rate limit
// and circuit breaker wrappers, and registers a failover chain as the
// default when failover is enabled.
func BuildRegistry(cfg config.LLMConfig, logger *slog.Logger) (*Registry, error) {
	reg := NewRegistry()

	for _, pc := range cfg.Providers {
		p, err := NewProvider(pc, logger)
		if err != nil {
			return nil, err
		}
		if cfg.RateLimit.RequestsPerMinute > 0 {
			p = NewRateLimitedProvider(p, cfg.RateLimit)
		}
		if cfg.CircuitBreaker.Enabled {
			p = NewCircuitBreakerProvider(p, cfg.CircuitBreaker, logger)
		}
		if err := reg.Register(p); err != nil {
			return nil, err
		}
		logger.Debug("llm provider registered", "name", pc.Name, "model", pc.Model)
	}

	defaultName := cfg.DefaultProvider
	if defaultName == "" {
		return reg, nil
	}

	primary, err := reg.Get(defaultName)
	if err != nil {
		return nil, err
	}
	reg.SetDefault(defaultName)

	if cfg.Failover.Enabled && len(cfg.Failover.Fallbacks) > 0 {
		fallbacks := make([]domain.LLMProvider, 0, len(cfg.Failover.Fallbacks))
		for _, name := range cfg.Failover.Fallbacks {
			fb, err := reg.Get(name)
			if err != nil {
				return nil, err
			}
			fallbacks = append(fallbacks, fb)
		}
		chain := NewFailoverProvider(primary, fallbacks, logger)
		if err := reg.Register(chain); err != nil {
			return nil, err
		}
		reg.SetDefault(chain.Name())
	}

	return reg, nil
}
