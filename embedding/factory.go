package embedding

import (
	"fmt"
	"strings"
)

// Backend names accepted by New.
const (
	BackendLocal  = "local"
	BackendOpenAI = "openai"
	BackendGemini = "gemini"
)

// Config selects and parameterizes an embedder.
type Config struct {
	Backend   string
	Model     string
	APIKey    string
	Dimension int // local backend only
	CacheSize int // 0 selects DefaultCacheSize; negative disables caching
}

// New builds the configured embedder, wrapped in an LRU cache unless
// CacheSize is negative.
func New(cfg Config) (Embedder, error) {
	var inner Embedder
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendLocal, "hashing":
		inner = NewHashing(cfg.Dimension)
	case BackendOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai embeddings require an API key")
		}
		inner = NewOpenAI(cfg.APIKey, cfg.Model)
	case BackendGemini, "google":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("gemini embeddings require an API key")
		}
		inner = NewGemini(cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
	if cfg.CacheSize < 0 {
		return inner, nil
	}
	return NewCached(inner, cfg.CacheSize)
}
