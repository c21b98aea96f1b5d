package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/richinex/gamemaster/embedding"
	"github.com/richinex/gamemaster/storage"
	"github.com/viterin/vek/vek32"
)

var (
	// ErrClosed is returned by an IndexRegistry after Close.
	ErrClosed = errors.New("index registry closed")
	// ErrNoSnapshotStore is returned by Snapshot and Restore when the
	// registry was built without snapshot storage.
	ErrNoSnapshotStore = errors.New("no snapshot storage configured")
	// ErrUnknownScope is returned by Snapshot for a scope with no live index.
	ErrUnknownScope = errors.New("unknown memory scope")
)

// Match is a search hit.
type Match struct {
	Chunk    MemoryChunk
	Distance float32
}

// scopeIndex holds one scope's chunks and their vectors as parallel
// slices; len(chunks) == len(vectors) always.
type scopeIndex struct {
	mu      sync.RWMutex
	chunks  []MemoryChunk
	vectors [][]float32
	dim     int
}

// IndexRegistry is an in-memory nearest-neighbor store partitioned by
// scope. Scopes are created on first ingestion and never see each other's
// chunks. It is safe for concurrent use.
type IndexRegistry struct {
	embedder  embedding.Embedder
	snapshots storage.SnapshotStorage
	logger    *slog.Logger

	mu     sync.RWMutex
	scopes map[string]*scopeIndex
	closed bool
}

// IndexOption configures an IndexRegistry.
type IndexOption func(*IndexRegistry)

// WithSnapshots enables Snapshot and Restore.
func WithSnapshots(s storage.SnapshotStorage) IndexOption {
	return func(r *IndexRegistry) { r.snapshots = s }
}

// WithIndexLogger sets the registry's logger.
func WithIndexLogger(l *slog.Logger) IndexOption {
	return func(r *IndexRegistry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewIndexRegistry creates an empty registry embedding with e.
func NewIndexRegistry(e embedding.Embedder, opts ...IndexOption) *IndexRegistry {
	r := &IndexRegistry{
		embedder: e,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		scopes:   make(map[string]*scopeIndex),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Embedder returns the registry's embedder.
func (r *IndexRegistry) Embedder() embedding.Embedder {
	return r.embedder
}

func (r *IndexRegistry) scope(scopeID string, create bool) (*scopeIndex, error) {
	if create {
		r.mu.Lock()
		defer r.mu.Unlock()
	} else {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	if r.closed {
		return nil, ErrClosed
	}
	idx, ok := r.scopes[scopeID]
	if !ok && create {
		idx = &scopeIndex{}
		r.scopes[scopeID] = idx
	}
	return idx, nil
}

// Add embeds texts and appends them to the scope, creating it if needed.
// The first batch fixes the scope's vector dimension.
func (r *IndexRegistry) Add(ctx context.Context, scopeID string, texts []string) ([]MemoryChunk, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if _, err := r.scope(scopeID, false); err != nil {
		return nil, err
	}
	vecs, err := r.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("index scope %s: %w", scopeID, err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("index scope %s: %w: %d vectors for %d texts",
			scopeID, embedding.ErrEmbedding, len(vecs), len(texts))
	}

	idx, err := r.scope(scopeID, true)
	if err != nil {
		return nil, err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()

	dim := idx.dim
	if dim == 0 {
		dim = len(vecs[0])
	}
	for _, v := range vecs {
		if len(v) != dim {
			return nil, fmt.Errorf("index scope %s: %w: got %d, want %d",
				scopeID, embedding.ErrDimensionMismatch, len(v), dim)
		}
	}
	idx.dim = dim

	added := make([]MemoryChunk, len(texts))
	for i, t := range texts {
		c := MemoryChunk{ScopeID: scopeID, Seq: len(idx.chunks), Text: t}
		idx.chunks = append(idx.chunks, c)
		idx.vectors = append(idx.vectors, vecs[i])
		added[i] = c
	}
	r.logger.Debug("indexed chunks", "scope", scopeID, "added", len(added), "total", len(idx.chunks))
	return added, nil
}

// Search returns up to k chunks of the scope nearest to query by
// Euclidean distance, nearest first. Ties keep insertion order. An unknown
// or empty scope yields no matches and no error.
func (r *IndexRegistry) Search(ctx context.Context, scopeID, query string, k int) ([]Match, error) {
	idx, err := r.scope(scopeID, false)
	if err != nil {
		return nil, err
	}
	if idx == nil || k <= 0 || r.Len(scopeID) == 0 {
		return []Match{}, nil
	}

	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("search scope %s: %w", scopeID, err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("search scope %s: %w: %d query vectors", scopeID, embedding.ErrEmbedding, len(vecs))
	}
	q := vecs[0]

	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if len(q) != idx.dim {
		return nil, fmt.Errorf("search scope %s: %w: query has %d, index has %d",
			scopeID, embedding.ErrDimensionMismatch, len(q), idx.dim)
	}

	matches := make([]Match, len(idx.chunks))
	for i, v := range idx.vectors {
		matches[i] = Match{Chunk: idx.chunks[i], Distance: vek32.Distance(q, v)}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	return matches[:min(k, len(matches))], nil
}

// Len returns the number of chunks in the scope.
func (r *IndexRegistry) Len(scopeID string) int {
	idx, err := r.scope(scopeID, false)
	if err != nil || idx == nil {
		return 0
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.chunks)
}

// Has reports whether the scope has a live index.
func (r *IndexRegistry) Has(scopeID string) bool {
	idx, err := r.scope(scopeID, false)
	return err == nil && idx != nil
}

// Scopes returns the live scope IDs in sorted order.
func (r *IndexRegistry) Scopes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.scopes))
	for id := range r.scopes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Drop tears down a scope's index. Persisted snapshots are untouched.
// Returns false if the scope had no live index.
func (r *IndexRegistry) Drop(scopeID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.scopes[scopeID]
	delete(r.scopes, scopeID)
	if ok {
		r.logger.Debug("dropped scope index", "scope", scopeID)
	}
	return ok
}

// Close tears down every scope. Further use returns ErrClosed.
func (r *IndexRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scopes = make(map[string]*scopeIndex)
	r.closed = true
	return nil
}

// Snapshot persists the scope's live index, replacing any earlier
// snapshot of it.
func (r *IndexRegistry) Snapshot(ctx context.Context, scopeID string) (int, error) {
	if r.snapshots == nil {
		return 0, ErrNoSnapshotStore
	}
	idx, err := r.scope(scopeID, false)
	if err != nil {
		return 0, err
	}
	if idx == nil {
		return 0, fmt.Errorf("%w: %s", ErrUnknownScope, scopeID)
	}

	idx.mu.RLock()
	stored := make([]storage.StoredChunk, len(idx.chunks))
	for i, c := range idx.chunks {
		stored[i] = storage.StoredChunk{ScopeID: scopeID, Seq: c.Seq, Text: c.Text, Vector: idx.vectors[i]}
	}
	idx.mu.RUnlock()

	if err := r.snapshots.SaveSnapshot(ctx, scopeID, stored); err != nil {
		return 0, fmt.Errorf("snapshot scope %s: %w", scopeID, err)
	}
	r.logger.Info("saved memory snapshot", "scope", scopeID, "chunks", len(stored))
	return len(stored), nil
}

// Restore replaces the scope's live index with its last snapshot and
// returns the number of chunks loaded. With no snapshot the live index is
// left as it is and 0 is returned.
func (r *IndexRegistry) Restore(ctx context.Context, scopeID string) (int, error) {
	if r.snapshots == nil {
		return 0, ErrNoSnapshotStore
	}
	if _, err := r.scope(scopeID, false); err != nil {
		return 0, err
	}
	stored, err := r.snapshots.LoadSnapshot(ctx, scopeID)
	if err != nil {
		return 0, fmt.Errorf("restore scope %s: %w", scopeID, err)
	}
	if len(stored) == 0 {
		return 0, nil
	}

	idx := &scopeIndex{dim: len(stored[0].Vector)}
	for i, s := range stored {
		if len(s.Vector) != idx.dim {
			return 0, fmt.Errorf("restore scope %s: %w: chunk %d has %d, want %d",
				scopeID, embedding.ErrDimensionMismatch, s.Seq, len(s.Vector), idx.dim)
		}
		idx.chunks = append(idx.chunks, MemoryChunk{ScopeID: scopeID, Seq: i, Text: s.Text})
		idx.vectors = append(idx.vectors, s.Vector)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, ErrClosed
	}
	r.scopes[scopeID] = idx
	r.logger.Info("restored memory snapshot", "scope", scopeID, "chunks", len(stored))
	return len(stored), nil
}
