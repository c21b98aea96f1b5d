package embedding

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viterin/vek/vek32"
)

func TestHashingDeterministic(t *testing.T) {
	ctx := context.Background()
	a, err := NewHashing(64).Embed(ctx, []string{"the dragon sleeps"})
	require.NoError(t, err)
	b, err := NewHashing(64).Embed(ctx, []string{"the dragon sleeps"})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestHashingBatchInvariant(t *testing.T) {
	ctx := context.Background()
	e := NewHashing(0)

	both, err := e.Embed(ctx, []string{"a tavern in the rain", "the innkeeper lies"})
	require.NoError(t, err)
	first, err := e.Embed(ctx, []string{"a tavern in the rain"})
	require.NoError(t, err)
	second, err := e.Embed(ctx, []string{"the innkeeper lies"})
	require.NoError(t, err)

	assert.Equal(t, append(first, second...), both)
}

func TestHashingDimensionIsLazy(t *testing.T) {
	e := NewHashing(32)
	assert.Equal(t, 0, e.Dimension())

	_, err := e.Embed(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.Equal(t, 32, e.Dimension())
}

func TestHashingNormalizedAndLexical(t *testing.T) {
	vecs, err := NewHashing(0).Embed(context.Background(), []string{
		"the blacksmith forged a sword",
		"a sword forged by the blacksmith",
		"quarterly tax revenue report",
	})
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	for _, v := range vecs {
		assert.InDelta(t, 1.0, vek32.Norm(v), 1e-5)
	}
	near := vek32.Distance(vecs[0], vecs[1])
	far := vek32.Distance(vecs[0], vecs[2])
	assert.Less(t, near, far)
}

func TestHashingEmptyText(t *testing.T) {
	vecs, err := NewHashing(8).Embed(context.Background(), []string{""})
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 8), vecs[0])
}

func TestHashingCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHashing(8).Embed(ctx, []string{"x"})
	assert.ErrorIs(t, err, context.Canceled)
}

type countingEmbedder struct {
	*Hashing
	calls  atomic.Int32
	inputs atomic.Int32
}

func (c *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(1)
	c.inputs.Add(int32(len(texts)))
	return c.Hashing.Embed(ctx, texts)
}

func TestCachedOnlyEmbedsMisses(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedder{Hashing: NewHashing(16)}
	c, err := NewCached(inner, 10)
	require.NoError(t, err)

	first, err := c.Embed(ctx, []string{"a", "b", "a"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), inner.inputs.Load())
	assert.Equal(t, first[0], first[2])

	second, err := c.Embed(ctx, []string{"b", "c"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), inner.calls.Load())
	assert.Equal(t, int32(3), inner.inputs.Load())
	assert.Equal(t, first[1], second[0])
	assert.Equal(t, 3, c.Len())
}

func TestCachedReturnsCopies(t *testing.T) {
	ctx := context.Background()
	c, err := NewCached(NewHashing(4), 10)
	require.NoError(t, err)

	v, err := c.Embed(ctx, []string{"ember"})
	require.NoError(t, err)
	want := clone(v[0])
	v[0][0] = 99

	again, err := c.Embed(ctx, []string{"ember"})
	require.NoError(t, err)
	assert.Equal(t, want, again[0])
}

func TestCachedMatchesInner(t *testing.T) {
	ctx := context.Background()
	texts := []string{"north gate", "south gate", "north gate"}
	plain, err := NewHashing(0).Embed(ctx, texts)
	require.NoError(t, err)

	c, err := NewCached(NewHashing(0), 0)
	require.NoError(t, err)
	cached, err := c.Embed(ctx, texts)
	require.NoError(t, err)
	assert.Equal(t, plain, cached)
	assert.Equal(t, DefaultHashingDimension, c.Dimension())
}

func TestDimensionMismatch(t *testing.T) {
	var d dimension
	require.NoError(t, d.observe([][]float32{{1, 2}}))
	err := d.observe([][]float32{{1, 2, 3}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, 2, d.get())
}

func TestNew(t *testing.T) {
	e, err := New(Config{})
	require.NoError(t, err)
	assert.IsType(t, &Cached{}, e)
	assert.Equal(t, "local/hashing", e.Name())

	e, err = New(Config{Backend: "local", CacheSize: -1, Dimension: 12})
	require.NoError(t, err)
	assert.IsType(t, &Hashing{}, e)

	_, err = New(Config{Backend: "openai"})
	assert.Error(t, err)

	e, err = New(Config{Backend: "gemini", APIKey: "k", CacheSize: -1})
	require.NoError(t, err)
	assert.Equal(t, "gemini/"+DefaultGeminiModel, e.Name())

	_, err = New(Config{Backend: "word2vec"})
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestRemoteEmptyBatch(t *testing.T) {
	ctx := context.Background()
	v, err := NewOpenAI("k", "").Embed(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, v)

	v, err = NewGemini("k", "").Embed(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, v)
}
