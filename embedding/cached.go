package embedding

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of vectors kept by Cached when no size
// is configured.
const DefaultCacheSize = 4096

// Cached memoizes an inner embedder's vectors by text. Only misses reach
// the inner embedder, batched in input order. Returned vectors are copies,
// so callers may mutate them freely.
type Cached struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
}

// NewCached wraps inner with an LRU cache of the given size.
func NewCached(inner Embedder, size int) (*Cached, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("embedding cache: %w", err)
	}
	return &Cached{inner: inner, cache: cache}, nil
}

func (c *Cached) Name() string { return c.inner.Name() }

func (c *Cached) Dimension() int { return c.inner.Dimension() }

// Len reports the number of cached vectors.
func (c *Cached) Len() int { return c.cache.Len() }

func (c *Cached) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var (
		missing []string
		slots   = make(map[string][]int)
	)
	for i, t := range texts {
		if v, ok := c.cache.Get(t); ok {
			out[i] = clone(v)
			continue
		}
		if _, seen := slots[t]; !seen {
			missing = append(missing, t)
		}
		slots[t] = append(slots[t], i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := c.inner.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, t := range missing {
		c.cache.Add(t, clone(vecs[j]))
		for _, i := range slots[t] {
			out[i] = clone(vecs[j])
		}
	}
	return out, nil
}

func clone(v []float32) []float32 {
	return append([]float32(nil), v...)
}
