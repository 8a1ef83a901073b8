package pipeline

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/rifatrzn/tax-assistant/model"
)

// HashEmbedder is a deterministic embedder without any external service.
// Word tokens and character trigrams are hashed into a fixed number of signed
// buckets and the result is L2 normalised, so texts sharing vocabulary end up
// close in cosine space. It is meant for offline runs and tests.
type HashEmbedder struct {
	dimensions int
}

func NewHashEmbedder(dimensions int) (*HashEmbedder, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive, got %d", model.ErrInvalidConfiguration, dimensions)
	}
	return &HashEmbedder{dimensions: dimensions}, nil
}

func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, serviceError(ctx, err)
	}

	vec := make([]float64, e.dimensions)
	for _, token := range tokenize(text) {
		e.add(vec, "w:"+token, 1)
		padded := " " + token + " "
		runes := []rune(padded)
		for i := 0; i+3 <= len(runes); i++ {
			e.add(vec, "c:"+string(runes[i:i+3]), 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	out := make([]float32, e.dimensions)
	if norm == 0 {
		return out, nil
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}

func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedSequential(ctx, e, texts)
}

func (e *HashEmbedder) Dimensions() int {
	return e.dimensions
}

func (e *HashEmbedder) ModelName() string {
	return fmt.Sprintf("feature-hash-%d", e.dimensions)
}

func (e *HashEmbedder) add(vec []float64, feature string, weight float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	bucket := int(sum % uint64(len(vec)))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[bucket] += weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
