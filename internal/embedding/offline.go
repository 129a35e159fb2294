package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const offlineDimensions = 256

// OfflineEngine produces deterministic embeddings without any external
// service. Each text is tokenized and tokens are hashed into a fixed-size
// bag-of-words vector, L2-normalized. Texts sharing vocabulary score high
// cosine similarity; disjoint texts score near zero. Suitable for tests and
// air-gapped deployments where drift scoring only needs lexical overlap.
type OfflineEngine struct{}

// NewOfflineEngine creates a deterministic local embedding engine.
func NewOfflineEngine() *OfflineEngine {
	return &OfflineEngine{}
}

// Embed generates a hashed bag-of-words embedding.
func (e *OfflineEngine) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, offlineDimensions)

	for _, token := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(token))
		idx := h.Sum32() % offlineDimensions
		vec[idx]++
	}

	// L2 normalize so cosine similarity is well scaled
	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}

	return vec, nil
}

// EmbedBatch embeds each text independently.
func (e *OfflineEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = vec
	}
	return embeddings, nil
}

// Dimensions returns the dimensionality of embeddings.
func (e *OfflineEngine) Dimensions() int {
	return offlineDimensions
}

// Name returns the engine name.
func (e *OfflineEngine) Name() string {
	return "offline:hashed-bow"
}

// tokenize lowercases and splits on non-alphanumeric runes.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
