package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Runtime RuntimeConfig `yaml:"runtime"`
	Store   StoreConfig   `yaml:"store"`
	Match   MatchConfig   `yaml:"match"`
	Agent   AgentConfig   `yaml:"agent"`
	LLM     LLMConfig     `yaml:"llm"`
	Gateway GatewayConfig `yaml:"gateway"`
	Audit   AuditConfig   `yaml:"audit"`
	Tasks   []TaskConfig  `yaml:"tasks"`
	Logger  LoggerConfig  `yaml:"logger"`
	Tracer  TracerConfig  `yaml:"tracer"`
}

// RuntimeConfig holds WebAssembly host settings.
type RuntimeConfig struct {
	MaxMemoryPages uint32        `yaml:"max_memory_pages"` // 64 KiB pages per module instance
	CallTimeout    time.Duration `yaml:"call_timeout"`     // bound on a single guest call
	// AllowFallbackAllocator lets modules without malloc load. Strings are then
	// placed in freshly grown pages that are never reclaimed.
	AllowFallbackAllocator bool `yaml:"allow_fallback_allocator"`
	CaptureGuestOutput     bool `yaml:"capture_guest_output"`
}

// StoreConfig holds module persistence settings.
type StoreConfig struct {
	Path string `yaml:"path"` // SQLite file; empty disables persistence
	// GamesDir is scanned at startup for <name>.wasm files with a sibling
	// <name>.json or <name>.yaml metadata file.
	GamesDir string `yaml:"games_dir"`
}

// MatchConfig holds turn-loop settings.
type MatchConfig struct {
	HumanMoveTimeout   time.Duration `yaml:"human_move_timeout"`
	MaxTurns           int           `yaml:"max_turns"`            // 0 = unlimited
	MaxInvalidAttempts int           `yaml:"max_invalid_attempts"` // 0 = unlimited
	// Retention is how long a finished match stays queryable.
	Retention time.Duration `yaml:"retention"`
}

// AgentConfig holds LLM agent settings.
type AgentConfig struct {
	LLMTimeout        time.Duration `yaml:"llm_timeout"`
	HistoryLength     int           `yaml:"history_length"`
	MaxTokens         int           `yaml:"max_tokens"`
	Temperature       float64       `yaml:"temperature"`
	StructuredReplies bool          `yaml:"structured_replies"`
}

// LLMConfig holds LLM provider settings.
type LLMConfig struct {
	DefaultProvider string               `yaml:"default_provider"`
	Providers       []ProviderConfig     `yaml:"providers"`
	Failover        FailoverConfig       `yaml:"failover"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
	RateLimit       RateLimitConfig      `yaml:"rate_limit"`
}

// FailoverConfig lists providers tried, in order, after the primary fails.
type FailoverConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Fallbacks []string `yaml:"fallbacks"`
}

// CircuitBreakerConfig holds circuit breaker settings for LLM providers.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// RateLimitConfig throttles outbound LLM calls per provider.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"` // 0 = unlimited
	Burst             int `yaml:"burst"`
}

// PoolConfig holds HTTP connection pool settings for LLM providers.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// ProviderConfig holds settings for a single LLM provider.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	Type        string        `yaml:"type"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Region      string        `yaml:"region,omitempty"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
}

// GatewayConfig holds HTTP API settings.
type GatewayConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Addr           string        `yaml:"addr"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	Tokens         []string      `yaml:"tokens"` // empty disables auth
	RateLimit      ClientLimit   `yaml:"rate_limit"`
}

// ClientLimit throttles API requests per client IP.
type ClientLimit struct {
	RequestsPerMinute int      `yaml:"requests_per_minute"` // 0 = unlimited
	Burst             int      `yaml:"burst"`
	TrustedProxies    []string `yaml:"trusted_proxies"` // peers allowed to set X-Forwarded-For
}

// AuditConfig holds the match audit trail settings.
type AuditConfig struct {
	Path    string        `yaml:"path"`     // JSONL file; empty disables the trail
	MaxAge  time.Duration `yaml:"max_age"`  // 0 = keep forever
	MaxSize string        `yaml:"max_size"` // e.g. "100MB"; empty = no limit
}

// TaskConfig schedules a maintenance action.
type TaskConfig struct {
	Name     string `yaml:"name"`
	Schedule string `yaml:"schedule"` // cron expression or duration
	Action   string `yaml:"action"`   // games_rescan | audit_retention
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// defaultDataDir returns the persistent data directory under $HOME/.wasm-arena.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".wasm-arena")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			MaxMemoryPages:         256,
			CallTimeout:            2 * time.Second,
			AllowFallbackAllocator: true,
			CaptureGuestOutput:     true,
		},
		Store: StoreConfig{
			Path: filepath.Join(defaultDataDir(), "arena.db"),
		},
		Match: MatchConfig{
			HumanMoveTimeout: 5 * time.Minute,
			Retention:        time.Hour,
		},
		Agent: AgentConfig{
			LLMTimeout:    60 * time.Second,
			HistoryLength: 10,
			MaxTokens:     256,
			Temperature:   0.2,
		},
		LLM: LLMConfig{
			CircuitBreaker: CircuitBreakerConfig{
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
			RateLimit: RateLimitConfig{
				Burst: 1,
			},
		},
		Gateway: GatewayConfig{
			Addr:           ":8080",
			RequestTimeout: 60 * time.Second,
			MaxUploadBytes: 16 << 20,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env overrides and validates the result.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return finish(cfg)
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := validatePermissions(path); err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	ApplyEnvOverrides(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps ARENA_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ARENA_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("ARENA_STORE_GAMES_DIR"); v != "" {
		cfg.Store.GamesDir = v
	}
	if v := os.Getenv("ARENA_RUNTIME_MAX_MEMORY_PAGES"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil && n > 0 {
			cfg.Runtime.MaxMemoryPages = uint32(n)
		}
	}
	if v := os.Getenv("ARENA_RUNTIME_CALL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Runtime.CallTimeout = d
		}
	}
	if v := os.Getenv("ARENA_MATCH_HUMAN_MOVE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Match.HumanMoveTimeout = d
		}
	}
	if v := os.Getenv("ARENA_AGENT_LLM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Agent.LLMTimeout = d
		}
	}
	if v := os.Getenv("ARENA_LLM_DEFAULT_PROVIDER"); v != "" {
		cfg.LLM.DefaultProvider = v
	}
	if v := os.Getenv("ARENA_GATEWAY_ENABLED"); v == "true" {
		cfg.Gateway.Enabled = true
	}
	if v := os.Getenv("ARENA_GATEWAY_ADDR"); v != "" {
		cfg.Gateway.Addr = v
	}
	if v := os.Getenv("ARENA_GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Tokens = append(cfg.Gateway.Tokens, v)
	}
	if v := os.Getenv("ARENA_AUDIT_PATH"); v != "" {
		cfg.Audit.Path = v
	}
	if v := os.Getenv("ARENA_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("ARENA_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("ARENA_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("ARENA_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}

	// Per-provider API key overrides: ARENA_LLM_PROVIDER_<NAME>_API_KEY
	for i := range cfg.LLM.Providers {
		envKey := fmt.Sprintf("ARENA_LLM_PROVIDER_%s_API_KEY",
			strings.ToUpper(strings.ReplaceAll(cfg.LLM.Providers[i].Name, "-", "_")))
		if v := os.Getenv(envKey); v != "" {
			cfg.LLM.Providers[i].APIKey = v
		}
	}
}

// Provider returns the provider config with the given name.
func (c *LLMConfig) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// validatePermissions rejects config files writable by group or others,
// since they may carry provider API keys.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	if mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
