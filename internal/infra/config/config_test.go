package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, 5*time.Minute, cfg.Match.HumanMoveTimeout)
	assert.Equal(t, uint32(256), cfg.Runtime.MaxMemoryPages)
	assert.True(t, cfg.Runtime.AllowFallbackAllocator)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, ":8080", cfg.Gateway.Addr)
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Agent.HistoryLength)
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arena.yaml")
	content := `
runtime:
  max_memory_pages: 64
  call_timeout: 500ms
store:
  path: "` + filepath.Join(dir, "games.db") + `"
match:
  human_move_timeout: 30s
  max_turns: 200
llm:
  default_provider: "local"
  providers:
    - name: "local"
      type: "ollama"
      base_url: "http://localhost:11434"
      model: "llama3"
logger:
  level: "debug"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(64), cfg.Runtime.MaxMemoryPages)
	assert.Equal(t, 500*time.Millisecond, cfg.Runtime.CallTimeout)
	assert.Equal(t, 30*time.Second, cfg.Match.HumanMoveTimeout)
	assert.Equal(t, 200, cfg.Match.MaxTurns)
	assert.Equal(t, "debug", cfg.Logger.Level)

	p, ok := cfg.LLM.Provider("local")
	require.True(t, ok)
	assert.Equal(t, "llama3", p.Model)
}

func TestLoadRejectsWorldWritable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arena.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logger:\n  level: info\n"), 0600))
	require.NoError(t, os.Chmod(path, 0666))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure permissions")
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arena.yaml")
	require.NoError(t, os.WriteFile(path, []byte("runtime: [unclosed"), 0600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ARENA_MATCH_HUMAN_MOVE_TIMEOUT", "90s")
	t.Setenv("ARENA_LOGGER_LEVEL", "debug")
	t.Setenv("ARENA_GATEWAY_ENABLED", "true")
	t.Setenv("ARENA_RUNTIME_MAX_MEMORY_PAGES", "32")
	t.Setenv("ARENA_LLM_PROVIDER_MAIN_API_KEY", "sk-env")

	cfg := Defaults()
	cfg.LLM.Providers = []ProviderConfig{{Name: "main", Type: "openai"}}
	ApplyEnvOverrides(cfg)

	assert.Equal(t, 90*time.Second, cfg.Match.HumanMoveTimeout)
	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.True(t, cfg.Gateway.Enabled)
	assert.Equal(t, uint32(32), cfg.Runtime.MaxMemoryPages)
	assert.Equal(t, "sk-env", cfg.LLM.Providers[0].APIKey)
}

func TestEnvOverridesIgnoreGarbage(t *testing.T) {
	t.Setenv("ARENA_RUNTIME_CALL_TIMEOUT", "soon")
	cfg := Defaults()
	ApplyEnvOverrides(cfg)
	assert.Equal(t, 2*time.Second, cfg.Runtime.CallTimeout)
}
