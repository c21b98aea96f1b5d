package embedding

import (
	"context"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
	"github.com/viterin/vek/vek32"
)

// DefaultHashingDimension is the vector width of the local embedder when
// none is configured.
const DefaultHashingDimension = 384

// Hashing is an offline embedder using signed feature hashing over
// lowercased word unigrams and bigrams. Vectors are L2-normalized, so
// texts sharing vocabulary land close together under Euclidean distance.
type Hashing struct {
	size int
	dim  dimension
}

// NewHashing creates a local embedder producing vectors of the given size.
// A size of zero or less selects DefaultHashingDimension.
func NewHashing(size int) *Hashing {
	if size <= 0 {
		size = DefaultHashingDimension
	}
	return &Hashing{size: size}
}

func (h *Hashing) Name() string { return "local/hashing" }

func (h *Hashing) Dimension() int { return h.dim.get() }

func (h *Hashing) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = h.vector(t)
	}
	if err := h.dim.observe(out); err != nil {
		return nil, err
	}
	return out, nil
}

func (h *Hashing) vector(text string) []float32 {
	v := make([]float32, h.size)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i, w := range words {
		h.add(v, w, 1)
		if i > 0 {
			h.add(v, words[i-1]+" "+w, 0.5)
		}
	}
	if norm := vek32.Norm(v); norm > 0 {
		vek32.DivNumber_Inplace(v, norm)
	}
	return v
}

func (h *Hashing) add(v []float32, feature string, weight float32) {
	sum := xxhash.Sum64String(feature)
	idx := int(sum % uint64(h.size))
	if sum>>63 == 1 {
		weight = -weight
	}
	v[idx] += weight
}
