package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateRuntime(cfg, ve)
	validateMatch(cfg, ve)
	validateAgent(cfg, ve)
	validateLLM(cfg, ve)
	validateGateway(cfg, ve)
	validateAudit(cfg, ve)
	validateTasks(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

// maxWASMPages is the wasm32 ceiling of 4 GiB.
const maxWASMPages = 65536

func validateRuntime(cfg *Config, ve *ValidationError) {
	if cfg.Runtime.MaxMemoryPages == 0 || cfg.Runtime.MaxMemoryPages > maxWASMPages {
		ve.Add("runtime.max_memory_pages must be in 1..%d", maxWASMPages)
	}
	if cfg.Runtime.CallTimeout <= 0 {
		ve.Add("runtime.call_timeout must be > 0")
	}
}

func validateMatch(cfg *Config, ve *ValidationError) {
	if cfg.Match.HumanMoveTimeout <= 0 {
		ve.Add("match.human_move_timeout must be > 0")
	}
	if cfg.Match.MaxTurns < 0 {
		ve.Add("match.max_turns must be >= 0")
	}
	if cfg.Match.MaxInvalidAttempts < 0 {
		ve.Add("match.max_invalid_attempts must be >= 0")
	}
	if cfg.Match.Retention < 0 {
		ve.Add("match.retention must be >= 0")
	}
}

func validateAgent(cfg *Config, ve *ValidationError) {
	if cfg.Agent.LLMTimeout <= 0 {
		ve.Add("agent.llm_timeout must be > 0")
	}
	if cfg.Agent.HistoryLength < 0 {
		ve.Add("agent.history_length must be >= 0")
	}
	if cfg.Agent.MaxTokens <= 0 {
		ve.Add("agent.max_tokens must be > 0")
	}
	if cfg.Agent.Temperature < 0 || cfg.Agent.Temperature > 2 {
		ve.Add("agent.temperature must be in [0, 2]")
	}
}

var validProviderTypes = map[string]bool{
	"openai":     true,
	"anthropic":  true,
	"gemini":     true,
	"openrouter": true,
	"ollama":     true,
	"bedrock":    true,
}

func validateLLM(cfg *Config, ve *ValidationError) {
	seen := make(map[string]bool)
	for i, p := range cfg.LLM.Providers {
		if p.Name == "" {
			ve.Add("llm.providers[%d].name must not be empty", i)
			continue
		}
		if seen[p.Name] {
			ve.Add("llm.providers[%d]: duplicate provider name %q", i, p.Name)
		}
		seen[p.Name] = true

		if p.Type != "" && !validProviderTypes[p.Type] {
			ve.Add("llm.providers[%d].type %q is invalid (want: openai, anthropic, gemini, openrouter, ollama, bedrock)", i, p.Type)
		}
		if p.APIKey == "" && p.Type != "bedrock" && p.Type != "ollama" {
			ve.Add("llm.providers[%d] (%s): api_key is empty (set via ARENA_LLM_PROVIDER_%s_API_KEY)",
				i, p.Name, strings.ToUpper(p.Name))
		}
		if p.Type == "bedrock" && p.Region == "" {
			ve.Add("llm.providers[%d] (%s): region is required for bedrock provider", i, p.Name)
		}
	}

	if cfg.LLM.DefaultProvider != "" && !seen[cfg.LLM.DefaultProvider] {
		ve.Add("llm.default_provider %q does not match any configured provider", cfg.LLM.DefaultProvider)
	}
	if cfg.LLM.Failover.Enabled {
		for _, name := range cfg.LLM.Failover.Fallbacks {
			if !seen[name] {
				ve.Add("llm.failover.fallbacks: unknown provider %q", name)
			}
		}
	}
	if cfg.LLM.CircuitBreaker.Enabled && cfg.LLM.CircuitBreaker.MaxFailures == 0 {
		ve.Add("llm.circuit_breaker.max_failures must be > 0")
	}
	if cfg.LLM.RateLimit.RequestsPerMinute < 0 {
		ve.Add("llm.rate_limit.requests_per_minute must be >= 0")
	}
	if cfg.LLM.RateLimit.RequestsPerMinute > 0 && cfg.LLM.RateLimit.Burst <= 0 {
		ve.Add("llm.rate_limit.burst must be > 0 when rate limiting is enabled")
	}
}

func validateGateway(cfg *Config, ve *ValidationError) {
	if !cfg.Gateway.Enabled {
		return
	}
	if _, _, err := net.SplitHostPort(cfg.Gateway.Addr); err != nil {
		ve.Add("gateway.addr %q is invalid: %v", cfg.Gateway.Addr, err)
	}
	if cfg.Gateway.RequestTimeout <= 0 {
		ve.Add("gateway.request_timeout must be > 0")
	}
	if cfg.Gateway.MaxUploadBytes <= 0 {
		ve.Add("gateway.max_upload_bytes must be > 0")
	}
	if rl := cfg.Gateway.RateLimit; rl.RequestsPerMinute < 0 {
		ve.Add("gateway.rate_limit.requests_per_minute must be >= 0")
	} else if rl.RequestsPerMinute > 0 && rl.Burst <= 0 {
		ve.Add("gateway.rate_limit.burst must be > 0 when rate limiting is enabled")
	}
	for i, p := range cfg.Gateway.RateLimit.TrustedProxies {
		if net.ParseIP(p) == nil {
			ve.Add("gateway.rate_limit.trusted_proxies[%d] %q is not an IP address", i, p)
		}
	}
	for i, tok := range cfg.Gateway.Tokens {
		if strings.TrimSpace(tok) == "" {
			ve.Add("gateway.tokens[%d] is empty", i)
		}
	}
}

func validateAudit(cfg *Config, ve *ValidationError) {
	if cfg.Audit.MaxAge < 0 {
		ve.Add("audit.max_age must be >= 0")
	}
	if _, err := ParseSize(cfg.Audit.MaxSize); err != nil {
		ve.Add("audit.max_size: %v", err)
	}
}

var validTaskActions = map[string]bool{"games_rescan": true, "audit_retention": true}

func validateTasks(cfg *Config, ve *ValidationError) {
	seen := make(map[string]bool, len(cfg.Tasks))
	for i, t := range cfg.Tasks {
		if t.Name == "" {
			ve.Add("tasks[%d].name is required", i)
		} else if seen[t.Name] {
			ve.Add("tasks[%d].name %q is duplicated", i, t.Name)
		}
		seen[t.Name] = true
		if t.Schedule == "" {
			ve.Add("tasks[%d].schedule is required", i)
		}
		if !validTaskActions[t.Action] {
			ve.Add("tasks[%d].action %q is invalid (want: games_rescan, audit_retention)", i, t.Action)
		}
		if t.Action == "audit_retention" && cfg.Audit.Path == "" {
			ve.Add("tasks[%d]: audit_retention needs audit.path", i)
		}
	}
}

// ParseSize parses a human-readable size such as "100MB" or "1GB".
// An empty string is 0.
func ParseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}
	multiplier := int64(1)
	for _, u := range []struct {
		suffix string
		mult   int64
	}{{"GB", 1 << 30}, {"MB", 1 << 20}, {"KB", 1 << 10}, {"B", 1}} {
		if strings.HasSuffix(s, u.suffix) {
			multiplier = u.mult
			s = strings.TrimSuffix(s, u.suffix)
			break
		}
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return n * multiplier, nil
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "text", "json":
	default:
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q is invalid (want: noop, stdout)", cfg.Tracer.Exporter)
	}
}
