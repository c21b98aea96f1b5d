package storage

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
)

// StoredChunk is one persisted memory chunk with its embedding.
type StoredChunk struct {
	ScopeID string
	Seq     int
	Text    string
	Vector  []float32
}

// SnapshotStorage persists scope indices on explicit request. The live
// index is memory resident; snapshots are never written implicitly.
type SnapshotStorage interface {
	// SaveSnapshot replaces any previous snapshot of the scope.
	SaveSnapshot(ctx context.Context, scopeID string, chunks []StoredChunk) error

	// LoadSnapshot returns chunks ordered by sequence. Empty if none.
	LoadSnapshot(ctx context.Context, scopeID string) ([]StoredChunk, error)

	DeleteSnapshot(ctx context.Context, scopeID string) error
}

// encodeVector packs a vector as little-endian float32s.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(buf))
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v, nil
}
