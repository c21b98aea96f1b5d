// Package config provides application settings.
//
// Settings are layered: built-in defaults, then an optional YAML file,
// then environment variables. New() handles:
// - Environment variable parsing with validation
// - Default value application
// - Provider-specific configuration lookup

package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/richinex/gamemaster/embedding"
	"github.com/richinex/gamemaster/memory"
)

// DefaultDBPath is where the world store lives unless configured.
const DefaultDBPath = ".gamemaster/gamemaster.db"

// Settings holds all application configuration.
type Settings struct {
	LLM       LLMConfig       `yaml:"llm"`
	Agent     AgentConfig     `yaml:"agent"`
	Memory    MemoryConfig    `yaml:"memory"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Storage   StorageConfig   `yaml:"storage"`
}

// LLMConfig holds LLM provider configuration.
type LLMConfig struct {
	Provider    string  `yaml:"provider"     env:"LLM_PROVIDER"`
	Model       string  `yaml:"model"        env:"LLM_MODEL"`
	MaxTokens   uint32  `yaml:"max_tokens"   env:"LLM_MAX_TOKENS"`
	Temperature float64 `yaml:"temperature"  env:"LLM_TEMPERATURE"`
	// RerankModel is the cheaper model used to judge memory relevance.
	// Empty means the main model.
	RerankModel string `yaml:"rerank_model" env:"LLM_RERANK_MODEL"`
}

// AgentConfig holds loop execution configuration.
type AgentConfig struct {
	MaxIterations    int `yaml:"max_iterations"    env:"AGENT_MAX_ITERATIONS"`
	RerankIterations int `yaml:"rerank_iterations" env:"AGENT_RERANK_ITERATIONS"`
}

// MemoryConfig holds chunking and recall parameters.
type MemoryConfig struct {
	ChunkSize    int `yaml:"chunk_size"    env:"MEMORY_CHUNK_SIZE"`
	ChunkOverlap int `yaml:"chunk_overlap" env:"MEMORY_CHUNK_OVERLAP"`
	SearchK      int `yaml:"search_k"      env:"MEMORY_SEARCH_K"`
	RerankTopN   int `yaml:"rerank_top_n"  env:"MEMORY_RERANK_TOP_N"`
	RecentTurns  int `yaml:"recent_turns"  env:"MEMORY_RECENT_TURNS"`
}

// EmbeddingConfig selects the embedding backend.
type EmbeddingConfig struct {
	Backend   string `yaml:"backend"    env:"EMBEDDING_BACKEND"`
	Model     string `yaml:"model"      env:"EMBEDDING_MODEL"`
	Dimension int    `yaml:"dimension"  env:"EMBEDDING_DIMENSION"`
	CacheSize int    `yaml:"cache_size" env:"EMBEDDING_CACHE_SIZE"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	DBPath string `yaml:"db_path" env:"GAMEMASTER_DB"`
}

// providerInfo holds configuration for a specific LLM provider.
type providerInfo struct {
	modelEnv     string
	defaultModel string
	apiKeyEnv    string
}

// Supported providers and their configuration.
var providers = map[string]providerInfo{
	"openai":    {"OPENAI_MODEL", "gpt-4o", "OPENAI_API_KEY"},
	"anthropic": {"ANTHROPIC_MODEL", "claude-sonnet-4-20250514", "ANTHROPIC_API_KEY"},
	"deepseek":  {"DEEPSEEK_MODEL", "deepseek-chat", "DEEPSEEK_API_KEY"},
	"gemini":    {"GEMINI_MODEL", "gemini-2.5-flash", "GEMINI_API_KEY"},
}

// Provider aliases map to canonical names.
var providerAliases = map[string]string{
	"claude": "anthropic",
	"google": "gemini",
	"gpt":    "openai",
}

// Default returns the built-in settings.
func Default() Settings {
	return Settings{
		LLM: LLMConfig{
			Provider:    "gemini",
			MaxTokens:   4096,
			Temperature: 0.7,
		},
		Agent: AgentConfig{
			MaxIterations:    10,
			RerankIterations: memory.DefaultRerankIterations,
		},
		Memory: MemoryConfig{
			ChunkSize:    200,
			ChunkOverlap: 20,
			SearchK:      8,
			RerankTopN:   5,
			RecentTurns:  3,
		},
		Embedding: EmbeddingConfig{
			Backend:   embedding.BackendLocal,
			Dimension: embedding.DefaultHashingDimension,
			CacheSize: embedding.DefaultCacheSize,
		},
		Storage: StorageConfig{DBPath: DefaultDBPath},
	}
}

// New creates settings for the specified provider, loading values from
// environment variables. An empty provider keeps the configured one.
// Returns an error if the provider is unknown or a value is invalid.
func New(provider string) (Settings, error) {
	return Load(provider, "")
}

// Load is New with an optional YAML file applied between the defaults and
// the environment. A missing file is an error; an empty path skips it.
func Load(provider, path string) (Settings, error) {
	s := Default()
	if path != "" {
		if err := LoadFile(path, &s); err != nil {
			return Settings{}, err
		}
	}
	if err := env.Parse(&s); err != nil {
		return Settings{}, fmt.Errorf("parse env: %w", err)
	}
	if provider != "" {
		s.LLM.Provider = provider
	}
	s.LLM.Provider = normalizeProvider(s.LLM.Provider)

	if s.LLM.Model == "" {
		model, err := ModelFor(s.LLM.Provider)
		if err != nil {
			return Settings{}, err
		}
		s.LLM.Model = model
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// MustNew creates settings for the specified provider.
// Panics if the provider is unknown or environment variables are invalid.
// Use this only when configuration errors should be fatal.
func MustNew(provider string) Settings {
	settings, err := New(provider)
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return settings
}

// LoadFile overlays the YAML file at path onto s. Keys absent from the
// file keep their current values.
func LoadFile(path string, s *Settings) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// Validate checks every setting and reports all problems at once.
func (s Settings) Validate() error {
	var errs []error
	if _, err := getProviderInfo(normalizeProvider(s.LLM.Provider)); err != nil {
		errs = append(errs, err)
	}
	if s.LLM.MaxTokens == 0 {
		errs = append(errs, errors.New("llm max tokens must be positive"))
	}
	if s.LLM.Temperature < 0 || s.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm temperature %.2f out of range [0, 2]", s.LLM.Temperature))
	}
	if s.Agent.MaxIterations <= 0 {
		errs = append(errs, fmt.Errorf("agent max iterations %d must be positive", s.Agent.MaxIterations))
	}
	if s.Agent.RerankIterations <= 0 {
		errs = append(errs, fmt.Errorf("agent rerank iterations %d must be positive", s.Agent.RerankIterations))
	}
	if err := memory.ValidateChunking(s.Memory.ChunkSize, s.Memory.ChunkOverlap); err != nil {
		errs = append(errs, err)
	}
	if s.Memory.SearchK <= 0 {
		errs = append(errs, fmt.Errorf("memory search k %d must be positive", s.Memory.SearchK))
	}
	if s.Memory.RerankTopN < 0 || s.Memory.RecentTurns < 0 {
		errs = append(errs, errors.New("memory rerank top n and recent turns must not be negative"))
	}
	switch strings.ToLower(s.Embedding.Backend) {
	case embedding.BackendLocal, embedding.BackendOpenAI, embedding.BackendGemini:
	default:
		errs = append(errs, fmt.Errorf("%w: %q", embedding.ErrUnknownBackend, s.Embedding.Backend))
	}
	if s.Storage.DBPath == "" {
		errs = append(errs, errors.New("storage db path must not be empty"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid settings: %w", errors.Join(errs...))
	}
	return nil
}

// EmbedderConfig resolves the embedding settings, looking up the API key
// of a remote backend from the environment.
func (s Settings) EmbedderConfig() (embedding.Config, error) {
	cfg := embedding.Config{
		Backend:   strings.ToLower(s.Embedding.Backend),
		Model:     s.Embedding.Model,
		Dimension: s.Embedding.Dimension,
		CacheSize: s.Embedding.CacheSize,
	}
	if cfg.Backend == embedding.BackendOpenAI || cfg.Backend == embedding.BackendGemini {
		key, err := APIKeyFor(cfg.Backend)
		if err != nil {
			return embedding.Config{}, fmt.Errorf("embedding: %w", err)
		}
		cfg.APIKey = key
	}
	return cfg, nil
}

// normalizeProvider converts provider aliases to canonical names.
func normalizeProvider(provider string) string {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if canonical, ok := providerAliases[provider]; ok {
		return canonical
	}
	return provider
}

// getProviderInfo returns configuration for a provider.
func getProviderInfo(provider string) (providerInfo, error) {
	info, ok := providers[provider]
	if !ok {
		return providerInfo{}, fmt.Errorf("unknown provider: %q", provider)
	}
	return info, nil
}

// APIKeyFor returns the API key for a provider from environment variables.
func APIKeyFor(provider string) (string, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return "", err
	}

	key := os.Getenv(info.apiKeyEnv)
	if key == "" {
		return "", fmt.Errorf("%s environment variable not set", info.apiKeyEnv)
	}
	return key, nil
}

// ModelFor returns the model for a provider, checking environment first.
func ModelFor(provider string) (string, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return "", err
	}

	if val := os.Getenv(info.modelEnv); val != "" {
		return val, nil
	}
	return info.defaultModel, nil
}

// SupportedProviders returns the supported provider names, sorted.
func SupportedProviders() []string {
	result := make([]string, 0, len(providers))
	for name := range providers {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}
