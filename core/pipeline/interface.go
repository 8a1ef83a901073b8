package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rifatrzn/tax-assistant/model"
)

// ChunkFunc splits a document into ordered chunks.
type ChunkFunc func(doc *model.Document) ([]*model.Chunk, error)

// Embedder turns text into fixed length vectors. Implementations do not retry,
// failures are reported as model.ErrEmbeddingService.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per input, aligned by position.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelName() string
}

// serviceError wraps a backend failure as ErrEmbeddingService and tags
// deadline and cancellation of ctx.
func serviceError(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %w: %w", model.ErrEmbeddingService, model.ErrTimeout, err)
	case errors.Is(ctx.Err(), context.Canceled):
		return fmt.Errorf("%w: %w: %w", model.ErrEmbeddingService, model.ErrCancelled, err)
	}
	return fmt.Errorf("%w: %w", model.ErrEmbeddingService, err)
}

// embedSequential implements EmbedBatch on top of Embed.
func embedSequential(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, model.NewEmbeddingError(fmt.Sprintf("batch[%d]", i), err)
		}
		out[i] = vec
	}
	return out, nil
}

func checkDimensions(vec []float32, dimensions int) error {
	if dimensions > 0 && len(vec) != dimensions {
		return fmt.Errorf("%w: malformed payload, got %d dimensions, expected %d", model.ErrEmbeddingService, len(vec), dimensions)
	}
	return nil
}
