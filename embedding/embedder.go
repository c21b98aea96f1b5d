// Package embedding turns text into fixed-dimension vectors.
//
// Every backend is deterministic for the same input and batch-invariant:
// Embed([a, b]) yields the same vectors as Embed([a]) followed by
// Embed([b]).
package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrEmbedding wraps every backend failure.
	ErrEmbedding = errors.New("embedding failed")
	// ErrDimensionMismatch is returned when a backend changes its output
	// dimension after the first batch.
	ErrDimensionMismatch = errors.New("embedding dimension changed")
	// ErrUnknownBackend is returned by New for an unsupported backend name.
	ErrUnknownBackend = errors.New("unknown embedding backend")
)

// Embedder converts texts to vectors. Implementations must be safe for
// concurrent use.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension is 0 until the first successful Embed call, then fixed.
	Dimension() int
	// Name identifies the backend and model, e.g. "openai/text-embedding-3-small".
	Name() string
}

// dimension records the vector width observed on the first batch and
// rejects any later batch with a different width.
type dimension struct {
	mu sync.RWMutex
	n  int
}

func (d *dimension) get() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.n
}

func (d *dimension) observe(vecs [][]float32) error {
	if len(vecs) == 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, v := range vecs {
		if len(v) == 0 {
			return fmt.Errorf("%w: empty vector", ErrEmbedding)
		}
		if d.n == 0 {
			d.n = len(v)
			continue
		}
		if len(v) != d.n {
			return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), d.n)
		}
	}
	return nil
}
