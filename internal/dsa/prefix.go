// Package dsa provides data structures shared by the CLI and the engine.
// Uses go-radix for a compressed prefix tree (radix tree).
package dsa

import (
	"errors"
	"fmt"

	"github.com/armon/go-radix"
)

var (
	// ErrNoMatch is returned by Resolve when no key has the prefix.
	ErrNoMatch = errors.New("no match")
	// ErrAmbiguous is returned by Resolve when several keys share the prefix.
	ErrAmbiguous = errors.New("ambiguous prefix")
)

// PrefixIndex maps string keys to values and resolves abbreviated keys,
// the way short commit hashes resolve to full ones.
//
// Time Complexity: O(k) lookups where k is key length.
type PrefixIndex[V any] struct {
	tree *radix.Tree
}

// NewPrefixIndex creates an empty index.
func NewPrefixIndex[V any]() *PrefixIndex[V] {
	return &PrefixIndex[V]{tree: radix.New()}
}

// Insert adds or replaces a key.
func (p *PrefixIndex[V]) Insert(key string, value V) {
	p.tree.Insert(key, value)
}

// Len returns the number of keys.
func (p *PrefixIndex[V]) Len() int {
	return p.tree.Len()
}

// Get looks up an exact key.
func (p *PrefixIndex[V]) Get(key string) (V, bool) {
	val, found := p.tree.Get(key)
	if !found {
		var zero V
		return zero, false
	}
	v, ok := val.(V)
	return v, ok
}

// StartsWith returns all keys that start with prefix, in sorted order.
// Time Complexity: O(k + m) where m is the number of matches.
func (p *PrefixIndex[V]) StartsWith(prefix string) []string {
	var keys []string
	p.tree.WalkPrefix(prefix, func(k string, _ interface{}) bool {
		keys = append(keys, k)
		return false
	})
	return keys
}

// Resolve returns the single key that equals or starts with prefix.
// An exact key wins even when longer keys share it as a prefix.
func (p *PrefixIndex[V]) Resolve(prefix string) (string, V, error) {
	var zero V
	if prefix == "" {
		return "", zero, fmt.Errorf("%w: empty prefix", ErrNoMatch)
	}
	if v, ok := p.Get(prefix); ok {
		return prefix, v, nil
	}
	keys := p.StartsWith(prefix)
	switch len(keys) {
	case 0:
		return "", zero, fmt.Errorf("%w: %q", ErrNoMatch, prefix)
	case 1:
		v, _ := p.Get(keys[0])
		return keys[0], v, nil
	default:
		return "", zero, fmt.Errorf("%w: %q matches %d keys", ErrAmbiguous, prefix, len(keys))
	}
}
