package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/rifatrzn/tax-assistant/helper"
	"github.com/rifatrzn/tax-assistant/model"
)

// DefaultLocalModel is the sentence transformer used by LocalEmbedder.
const DefaultLocalModel = "sentence-transformers/all-MiniLM-L6-v2"

// LocalEmbedder runs a sentence transformer in process with hugot.
// Calls are serialised because the pipeline is not safe for concurrent use.
type LocalEmbedder struct {
	mu         sync.Mutex
	modelName  string
	dimensions int
	run        func(texts []string) ([][]float32, error)
	destroy    func() error
}

// DefaultEmbedder creates a LocalEmbedder with all-MiniLM-L6-v2, which
// produces 384-dimensional embeddings.
func DefaultEmbedder() (*LocalEmbedder, error) {
	return NewLocalEmbedder(DefaultLocalModel, "onnx/model.onnx")
}

// NewLocalEmbedder downloads the model if needed and starts a hugot session
// with the pure Go backend.
func NewLocalEmbedder(modelName string, onnxFilePath string) (*LocalEmbedder, error) {
	modelPath, err := helper.PrepareModel(modelName, onnxFilePath)
	if err != nil {
		return nil, err
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create hugot session: %w", err)
	}

	config := hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "embedder-pipeline",
	}
	sentencePipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("failed to create sentence pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("failed to create sentence pipeline: %w", err)
	}

	e := &LocalEmbedder{
		modelName: modelName,
		run: func(texts []string) ([][]float32, error) {
			result, err := sentencePipeline.RunPipeline(texts)
			if err != nil {
				return nil, err
			}
			return result.Embeddings, nil
		},
		destroy: session.Destroy,
	}

	sample, err := e.run([]string{"dimension check"})
	if err != nil || len(sample) != 1 {
		_ = session.Destroy()
		return nil, fmt.Errorf("failed to detect embedding dimension: %v", err)
	}
	e.dimensions = len(sample[0])

	return e, nil
}

func (e *LocalEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *LocalEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, serviceError(ctx, err)
	}

	e.mu.Lock()
	vectors, err := e.run(texts)
	e.mu.Unlock()
	if err != nil {
		return nil, serviceError(ctx, fmt.Errorf("failed to generate embedding: %w", err))
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", model.ErrEmbeddingService, len(vectors), len(texts))
	}
	for _, v := range vectors {
		if err := checkDimensions(v, e.dimensions); err != nil {
			return nil, err
		}
	}

	return vectors, nil
}

func (e *LocalEmbedder) Dimensions() int {
	return e.dimensions
}

func (e *LocalEmbedder) ModelName() string {
	return e.modelName
}

// Close releases the hugot session.
func (e *LocalEmbedder) Close() error {
	if e.destroy == nil {
		return nil
	}
	return e.destroy()
}
