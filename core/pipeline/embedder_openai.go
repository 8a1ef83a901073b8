package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rifatrzn/tax-assistant/model"
)

// DefaultOpenAIModel is the embedding model used when none is configured.
const DefaultOpenAIModel = "text-embedding-3-small"

var openAIModelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAIConfig configures an OpenAI compatible embeddings endpoint.
type OpenAIConfig struct {
	APIKey string
	// BaseURL overrides the API root, e.g. for compatible gateways.
	BaseURL string
	Model   string
	// Dimensions shortens text-embedding-3 vectors. 0 uses the model default.
	Dimensions int
	HTTPClient *http.Client
}

// OpenAIEmbedder calls the embeddings endpoint of the OpenAI API.
// SDK level retries are disabled, retry policy belongs to the caller.
type OpenAIEmbedder struct {
	client     openai.Client
	model      string
	dimensions int
	// sendDimensions is true for models accepting the dimensions parameter.
	sendDimensions bool
}

func NewOpenAIEmbedder(config OpenAIConfig) (*OpenAIEmbedder, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("%w: openai api key is empty", model.ErrInvalidConfiguration)
	}
	if config.Model == "" {
		config.Model = DefaultOpenAIModel
	}

	dimensions := config.Dimensions
	if dimensions == 0 {
		dimensions = openAIModelDimensions[config.Model]
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("%w: unknown dimensions for model %s", model.ErrInvalidConfiguration, config.Model)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	if config.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(config.HTTPClient))
	}

	return &OpenAIEmbedder{
		client:         openai.NewClient(opts...),
		model:          config.Model,
		dimensions:     dimensions,
		sendDimensions: strings.HasPrefix(config.Model, "text-embedding-3") && config.Dimensions > 0,
	}, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	}
	if e.sendDimensions {
		params.Dimensions = openai.Int(int64(e.dimensions))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, serviceError(ctx, fmt.Errorf("status %d: %w", apiErr.StatusCode, err))
		}
		return nil, serviceError(ctx, err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: malformed payload, got %d embeddings for %d inputs", model.ErrEmbeddingService, len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(texts) || out[d.Index] != nil {
			return nil, fmt.Errorf("%w: malformed payload, unexpected index %d", model.ErrEmbeddingService, d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		if err := checkDimensions(vec, e.dimensions); err != nil {
			return nil, err
		}
		out[d.Index] = vec
	}

	return out, nil
}

func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

func (e *OpenAIEmbedder) ModelName() string {
	return e.model
}
