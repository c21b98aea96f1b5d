package embedding

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no embedding model is configured.
const DefaultGeminiModel = "text-embedding-004"

// Gemini embeds text through the Gemini embed-content API. The client is
// created on first use so construction never touches the network.
type Gemini struct {
	apiKey string
	model  string
	dim    dimension

	once    sync.Once
	client  *genai.Client
	initErr error
}

// NewGemini creates a Gemini embedder. An empty model selects
// DefaultGeminiModel.
func NewGemini(apiKey, model string) *Gemini {
	if model == "" {
		model = DefaultGeminiModel
	}
	return &Gemini{apiKey: apiKey, model: model}
}

func (g *Gemini) Name() string { return "gemini/" + g.model }

func (g *Gemini) Dimension() int { return g.dim.get() }

func (g *Gemini) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	g.once.Do(func() {
		g.client, g.initErr = genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  g.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
	})
	if g.initErr != nil {
		return nil, fmt.Errorf("%w: gemini client: %w", ErrEmbedding, g.initErr)
	}

	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	resp, err := g.client.Models.EmbedContent(ctx, g.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: gemini: %w", ErrEmbedding, err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: gemini returned %d vectors for %d inputs",
			ErrEmbedding, len(resp.Embeddings), len(texts))
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if e == nil {
			return nil, fmt.Errorf("%w: gemini returned a nil embedding at %d", ErrEmbedding, i)
		}
		out[i] = e.Values
	}
	if err := g.dim.observe(out); err != nil {
		return nil, err
	}
	return out, nil
}
