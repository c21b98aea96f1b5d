// Package memory segments, indexes and reranks narrative text so that
// relevant history can be recalled as grounding context.
package memory

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidChunkConfig is returned for a window size or overlap that
// cannot make progress.
var ErrInvalidChunkConfig = errors.New("invalid chunk configuration")

// MemoryChunk is one stored window of text. Chunks are immutable once
// added to an index.
type MemoryChunk struct {
	ScopeID string `json:"scope_id"`
	Seq     int    `json:"seq"`
	Text    string `json:"text"`
}

// ValidateChunking reports whether maxSize and overlap describe a window
// that advances.
func ValidateChunking(maxSize, overlap int) error {
	switch {
	case maxSize <= 0:
		return fmt.Errorf("%w: max size %d must be positive", ErrInvalidChunkConfig, maxSize)
	case overlap < 0:
		return fmt.Errorf("%w: overlap %d must not be negative", ErrInvalidChunkConfig, overlap)
	case overlap >= maxSize:
		return fmt.Errorf("%w: overlap %d must be smaller than max size %d", ErrInvalidChunkConfig, overlap, maxSize)
	}
	return nil
}

// Chunk splits text on whitespace into windows of at most maxSize tokens.
// Each window after the first begins with the last overlap tokens of the
// one before it. Windows start every maxSize-overlap tokens until the
// start passes the final token, so the last window may be shorter than
// the overlap. Empty text yields an empty slice.
func Chunk(text string, maxSize, overlap int) ([]string, error) {
	if err := ValidateChunking(maxSize, overlap); err != nil {
		return nil, err
	}
	tokens := strings.Fields(text)
	chunks := []string{}
	stride := maxSize - overlap
	for start := 0; start < len(tokens); start += stride {
		end := min(start+maxSize, len(tokens))
		chunks = append(chunks, strings.Join(tokens[start:end], " "))
	}
	return chunks, nil
}
