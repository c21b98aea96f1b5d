package dsa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIndex() *PrefixIndex[int] {
	p := NewPrefixIndex[int]()
	p.Insert("3f2a91", 1)
	p.Insert("3f7c00", 2)
	p.Insert("a1b2c3", 3)
	return p
}

func TestResolveUniquePrefix(t *testing.T) {
	key, v, err := newIndex().Resolve("a1")
	require.NoError(t, err)
	assert.Equal(t, "a1b2c3", key)
	assert.Equal(t, 3, v)
}

func TestResolveAmbiguous(t *testing.T) {
	_, _, err := newIndex().Resolve("3f")
	assert.ErrorIs(t, err, ErrAmbiguous)

	key, _, err := newIndex().Resolve("3f7")
	require.NoError(t, err)
	assert.Equal(t, "3f7c00", key)
}

func TestResolveNoMatch(t *testing.T) {
	_, _, err := newIndex().Resolve("zz")
	assert.ErrorIs(t, err, ErrNoMatch)

	_, _, err = newIndex().Resolve("")
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestResolveExactWins(t *testing.T) {
	p := NewPrefixIndex[string]()
	p.Insert("ab", "short")
	p.Insert("abc", "long")

	key, v, err := p.Resolve("ab")
	require.NoError(t, err)
	assert.Equal(t, "ab", key)
	assert.Equal(t, "short", v)
}

func TestStartsWithSorted(t *testing.T) {
	p := newIndex()
	assert.Equal(t, []string{"3f2a91", "3f7c00"}, p.StartsWith("3f"))
	assert.Len(t, p.StartsWith(""), 3)
	assert.Equal(t, 3, p.Len())

	p.Insert("a1b2c3", 9)
	assert.Equal(t, 3, p.Len())
	v, ok := p.Get("a1b2c3")
	assert.True(t, ok)
	assert.Equal(t, 9, v)
}
