package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/richinex/gamemaster/embedding"
	"github.com/richinex/gamemaster/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIndex(t *testing.T, opts ...IndexOption) *IndexRegistry {
	t.Helper()
	return NewIndexRegistry(embedding.NewHashing(128), opts...)
}

func texts(ms []Match) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Chunk.Text
	}
	return out
}

func TestIndexSearchNearestFirst(t *testing.T) {
	ctx := context.Background()
	idx := newIndex(t)
	_, err := idx.Add(ctx, "s1", []string{
		"the harbor master counts ships at dawn",
		"a red dragon burned the northern village",
		"the baker sells bread in the square",
	})
	require.NoError(t, err)

	ms, err := idx.Search(ctx, "s1", "red dragon village", 2)
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, "a red dragon burned the northern village", ms[0].Chunk.Text)
	assert.LessOrEqual(t, ms[0].Distance, ms[1].Distance)
}

func TestIndexSearchClampsK(t *testing.T) {
	ctx := context.Background()
	idx := newIndex(t)
	_, err := idx.Add(ctx, "s1", []string{"one", "two"})
	require.NoError(t, err)

	ms, err := idx.Search(ctx, "s1", "one", 10)
	require.NoError(t, err)
	assert.Len(t, ms, 2)

	ms, err = idx.Search(ctx, "s1", "one", 0)
	require.NoError(t, err)
	assert.Empty(t, ms)
}

func TestIndexUnknownScope(t *testing.T) {
	ms, err := newIndex(t).Search(context.Background(), "nowhere", "anything", 3)
	require.NoError(t, err)
	assert.NotNil(t, ms)
	assert.Empty(t, ms)
}

func TestIndexScopeIsolation(t *testing.T) {
	ctx := context.Background()
	idx := newIndex(t)
	_, err := idx.Add(ctx, "a", []string{"secret of scope a"})
	require.NoError(t, err)
	_, err = idx.Add(ctx, "b", []string{"secret of scope b", "another b memory"})
	require.NoError(t, err)

	ms, err := idx.Search(ctx, "a", "secret of scope b", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"secret of scope a"}, texts(ms))
	for _, m := range ms {
		assert.Equal(t, "a", m.Chunk.ScopeID)
	}
	assert.Equal(t, []string{"a", "b"}, idx.Scopes())
}

func TestIndexSequenceNumbers(t *testing.T) {
	ctx := context.Background()
	idx := newIndex(t)
	first, err := idx.Add(ctx, "s", []string{"x", "y"})
	require.NoError(t, err)
	second, err := idx.Add(ctx, "s", []string{"z"})
	require.NoError(t, err)

	assert.Equal(t, 0, first[0].Seq)
	assert.Equal(t, 1, first[1].Seq)
	assert.Equal(t, 2, second[0].Seq)
	assert.Equal(t, 3, idx.Len("s"))
}

func TestIndexAddEmptyDoesNotCreateScope(t *testing.T) {
	idx := newIndex(t)
	added, err := idx.Add(context.Background(), "s", nil)
	require.NoError(t, err)
	assert.Empty(t, added)
	assert.False(t, idx.Has("s"))
}

type failingEmbedder struct{ embedding.Embedder }

func (failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, fmt.Errorf("%w: backend down", embedding.ErrEmbedding)
}

func TestIndexEmbeddingFailure(t *testing.T) {
	idx := NewIndexRegistry(failingEmbedder{embedding.NewHashing(8)})
	_, err := idx.Add(context.Background(), "s", []string{"x"})
	assert.ErrorIs(t, err, embedding.ErrEmbedding)
	assert.False(t, idx.Has("s"))
}

type widthEmbedder struct {
	embedding.Embedder
	width int
}

func (w *widthEmbedder) Embed(_ context.Context, ts []string) ([][]float32, error) {
	out := make([][]float32, len(ts))
	for i := range ts {
		out[i] = make([]float32, w.width)
	}
	return out, nil
}

func TestIndexDimensionFixedByFirstBatch(t *testing.T) {
	ctx := context.Background()
	e := &widthEmbedder{width: 4}
	idx := NewIndexRegistry(e)
	_, err := idx.Add(ctx, "s", []string{"a"})
	require.NoError(t, err)

	e.width = 6
	_, err = idx.Add(ctx, "s", []string{"b"})
	assert.ErrorIs(t, err, embedding.ErrDimensionMismatch)
	assert.Equal(t, 1, idx.Len("s"))

	_, err = idx.Add(ctx, "other", []string{"b"})
	assert.NoError(t, err, "each scope fixes its own dimension")
}

func TestIndexDropAndClose(t *testing.T) {
	ctx := context.Background()
	idx := newIndex(t)
	_, err := idx.Add(ctx, "s", []string{"x"})
	require.NoError(t, err)

	assert.True(t, idx.Drop("s"))
	assert.False(t, idx.Drop("s"))
	ms, err := idx.Search(ctx, "s", "x", 1)
	require.NoError(t, err)
	assert.Empty(t, ms)

	require.NoError(t, idx.Close())
	_, err = idx.Add(ctx, "s", []string{"x"})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = idx.Search(ctx, "s", "x", 1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestIndexSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewSqliteInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	idx := newIndex(t, WithSnapshots(store))
	_, err = idx.Add(ctx, "s", []string{"the old mill", "the river ford"})
	require.NoError(t, err)
	before, err := idx.Search(ctx, "s", "river", 2)
	require.NoError(t, err)

	n, err := idx.Snapshot(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	fresh := newIndex(t, WithSnapshots(store))
	n, err = fresh.Restore(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	after, err := fresh.Search(ctx, "s", "river", 2)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	n, err = fresh.Restore(ctx, "never-saved")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, fresh.Has("never-saved"))
}

func TestIndexSnapshotErrors(t *testing.T) {
	ctx := context.Background()
	_, err := newIndex(t).Snapshot(ctx, "s")
	assert.ErrorIs(t, err, ErrNoSnapshotStore)
	_, err = newIndex(t).Restore(ctx, "s")
	assert.ErrorIs(t, err, ErrNoSnapshotStore)

	store, err := storage.NewSqliteInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	_, err = newIndex(t, WithSnapshots(store)).Snapshot(ctx, "missing")
	assert.True(t, errors.Is(err, ErrUnknownScope))
}

func TestIndexConcurrentScopes(t *testing.T) {
	ctx := context.Background()
	idx := newIndex(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			scope := fmt.Sprintf("scope-%d", i%2)
			for j := 0; j < 10; j++ {
				_, err := idx.Add(ctx, scope, []string{fmt.Sprintf("memory %d-%d", i, j)})
				assert.NoError(t, err)
				_, err = idx.Search(ctx, scope, "memory", 3)
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 40, idx.Len("scope-0"))
	assert.Equal(t, 40, idx.Len("scope-1"))
}
