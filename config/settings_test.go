package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/richinex/gamemaster/embedding"
	"github.com/richinex/gamemaster/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidProvider(t *testing.T) {
	settings, err := New("openai")
	require.NoError(t, err)
	assert.Equal(t, "openai", settings.LLM.Provider)
	assert.NotEmpty(t, settings.LLM.Model)
}

func TestNewWithAlias(t *testing.T) {
	settings, err := New("claude")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", settings.LLM.Provider, "normalized from 'claude'")
}

func TestNewUnknownProvider(t *testing.T) {
	_, err := New("unknown_provider")
	assert.Error(t, err)
}

func TestDefaults(t *testing.T) {
	s := Default()
	assert.Equal(t, 10, s.Agent.MaxIterations)
	assert.Equal(t, 200, s.Memory.ChunkSize)
	assert.Equal(t, 20, s.Memory.ChunkOverlap)
	assert.Equal(t, 5, s.Memory.RerankTopN)
	assert.Equal(t, 3, s.Memory.RecentTurns)
	assert.Equal(t, embedding.BackendLocal, s.Embedding.Backend)
	assert.NoError(t, s.Validate())
}

func TestAPIKeyForValidProvider(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")

	key, err := APIKeyFor("openai")
	require.NoError(t, err)
	assert.Equal(t, "test-key", key)
}

func TestAPIKeyForMissing(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	_, err := APIKeyFor("gpt")
	assert.Error(t, err)
}

func TestAPIKeyForUnknownProvider(t *testing.T) {
	_, err := APIKeyFor("unknown")
	assert.Error(t, err)
}

func TestModelFor(t *testing.T) {
	t.Setenv("GEMINI_MODEL", "")
	model, err := ModelFor("google")
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-flash", model)

	t.Setenv("GEMINI_MODEL", "gemini-2.5-pro")
	model, err = ModelFor("gemini")
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-pro", model)
}

func TestNewWithInvalidEnvVar(t *testing.T) {
	t.Setenv("LLM_MAX_TOKENS", "not-a-number")

	_, err := New("openai")
	assert.Error(t, err)
}

func TestEnvOverridesDefaults(t *testing.T) {
	t.Setenv("AGENT_MAX_ITERATIONS", "4")
	t.Setenv("MEMORY_SEARCH_K", "12")
	t.Setenv("GAMEMASTER_DB", "/tmp/x.db")

	s, err := New("deepseek")
	require.NoError(t, err)
	assert.Equal(t, 4, s.Agent.MaxIterations)
	assert.Equal(t, 12, s.Memory.SearchK)
	assert.Equal(t, "/tmp/x.db", s.Storage.DBPath)
	assert.Equal(t, 200, s.Memory.ChunkSize, "untouched values keep their defaults")
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gamemaster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
llm:
  provider: anthropic
  temperature: 0.2
memory:
  chunk_size: 50
  chunk_overlap: 5
embedding:
  backend: local
  dimension: 64
`), 0o644))
	t.Setenv("MEMORY_CHUNK_OVERLAP", "10")

	s, err := Load("", path)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", s.LLM.Provider)
	assert.InDelta(t, 0.2, s.LLM.Temperature, 1e-9)
	assert.Equal(t, uint32(4096), s.LLM.MaxTokens)
	assert.Equal(t, 50, s.Memory.ChunkSize)
	assert.Equal(t, 10, s.Memory.ChunkOverlap)
	assert.Equal(t, 64, s.Embedding.Dimension)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("openai", filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidateRejectsBadChunking(t *testing.T) {
	s := Default()
	s.Memory.ChunkOverlap = s.Memory.ChunkSize
	assert.ErrorIs(t, s.Validate(), memory.ErrInvalidChunkConfig)

	t.Setenv("MEMORY_CHUNK_OVERLAP", "500")
	_, err := New("openai")
	assert.ErrorIs(t, err, memory.ErrInvalidChunkConfig)
}

func TestValidateReportsEverything(t *testing.T) {
	s := Default()
	s.LLM.Temperature = 3
	s.Agent.MaxIterations = 0
	s.Embedding.Backend = "word2vec"

	err := s.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "temperature")
	assert.Contains(t, err.Error(), "max iterations")
	assert.ErrorIs(t, err, embedding.ErrUnknownBackend)
}

func TestEmbedderConfig(t *testing.T) {
	s := Default()
	cfg, err := s.EmbedderConfig()
	require.NoError(t, err)
	assert.Equal(t, embedding.BackendLocal, cfg.Backend)
	assert.Empty(t, cfg.APIKey)

	s.Embedding.Backend = "openai"
	t.Setenv("OPENAI_API_KEY", "")
	_, err = s.EmbedderConfig()
	assert.Error(t, err)

	t.Setenv("OPENAI_API_KEY", "sk-test")
	cfg, err = s.EmbedderConfig()
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.APIKey)
}

func TestMustNewPanics(t *testing.T) {
	assert.Panics(t, func() { MustNew("unknown_provider") })
}

func TestSupportedProviders(t *testing.T) {
	assert.Equal(t, []string{"anthropic", "deepseek", "gemini", "openai"}, SupportedProviders())
}
