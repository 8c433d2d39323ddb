package embed

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/nexus-orchestrator/nexus/internal/core"
)

// localDimensions is the vector size of the local embedder. Terms are
// hashed into this many buckets.
const localDimensions = 256

// LocalEmbedder produces deterministic embeddings without a model: a
// normalized hashed bag-of-words vector. Identical texts embed
// identically and texts sharing vocabulary land near each other, which
// is enough for offline runs and tests. Not a substitute for a real
// embedding model.
type LocalEmbedder struct{}

// NewLocal creates a local embedder.
func NewLocal() *LocalEmbedder {
	return &LocalEmbedder{}
}

// Embed returns a unit-length term-frequency vector for text.
func (e *LocalEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	vec := make([]float64, localDimensions)
	for _, term := range tokenize(text) {
		vec[bucket(term)]++
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// bucket hashes a term into a vector index (FNV-1a).
func bucket(term string) int {
	const (
		offset = 2166136261
		prime  = 16777619
	)
	h := uint32(offset)
	for i := 0; i < len(term); i++ {
		h ^= uint32(term[i])
		h *= prime
	}
	return int(h % localDimensions)
}

var _ core.Embedder = (*LocalEmbedder)(nil)
