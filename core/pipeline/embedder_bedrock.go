package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/rifatrzn/tax-assistant/model"
	"github.com/tidwall/gjson"
)

// DefaultBedrockModel is the Titan text embedding model.
const DefaultBedrockModel = "amazon.titan-embed-text-v1"

// bedrockInvoker is the part of the bedrockruntime client the embedder uses.
type bedrockInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

type BedrockConfig struct {
	Region  string
	ModelID string
	// Dimensions is only sent to Titan v2 models. 0 uses the model default.
	Dimensions int
}

// BedrockEmbedder calls a Titan embedding model through Bedrock, one
// InvokeModel request per text.
type BedrockEmbedder struct {
	client     bedrockInvoker
	modelID    string
	dimensions int
	isV2       bool
}

// NewBedrockEmbedder loads the default AWS credential chain.
func NewBedrockEmbedder(ctx context.Context, config BedrockConfig) (*BedrockEmbedder, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if config.Region != "" {
		opts = append(opts, awsconfig.WithRegion(config.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return newBedrockEmbedder(bedrockruntime.NewFromConfig(awsCfg), config)
}

func newBedrockEmbedder(client bedrockInvoker, config BedrockConfig) (*BedrockEmbedder, error) {
	if config.ModelID == "" {
		config.ModelID = DefaultBedrockModel
	}
	isV2 := strings.Contains(config.ModelID, "titan-embed-text-v2")

	dimensions := config.Dimensions
	if dimensions == 0 {
		dimensions = 1536
		if isV2 {
			dimensions = 1024
		}
	}
	if dimensions < 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive, got %d", model.ErrInvalidConfiguration, dimensions)
	}

	return &BedrockEmbedder{
		client:     client,
		modelID:    config.ModelID,
		dimensions: dimensions,
		isV2:       isV2,
	}, nil
}

type titanRequest struct {
	InputText  string `json:"inputText"`
	Dimensions int    `json:"dimensions,omitempty"`
	Normalize  bool   `json:"normalize,omitempty"`
}

func (e *BedrockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	request := titanRequest{InputText: text}
	if e.isV2 {
		request.Dimensions = e.dimensions
		request.Normalize = true
	}
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %w", model.ErrEmbeddingService, err)
	}

	out, err := e.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(e.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, serviceError(ctx, err)
	}

	vec, err := parseTitanResponse(out.Body)
	if err != nil {
		return nil, err
	}
	if err := checkDimensions(vec, e.dimensions); err != nil {
		return nil, err
	}

	return vec, nil
}

func (e *BedrockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedSequential(ctx, e, texts)
}

func (e *BedrockEmbedder) Dimensions() int {
	return e.dimensions
}

func (e *BedrockEmbedder) ModelName() string {
	return e.modelID
}

func parseTitanResponse(body []byte) ([]float32, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: malformed payload", model.ErrEmbeddingService)
	}
	embedding := gjson.GetBytes(body, "embedding")
	if !embedding.IsArray() {
		return nil, fmt.Errorf("%w: malformed payload, missing embedding", model.ErrEmbeddingService)
	}

	values := embedding.Array()
	vec := make([]float32, len(values))
	for i, v := range values {
		if v.Type != gjson.Number {
			return nil, fmt.Errorf("%w: malformed payload, non numeric value at %d", model.ErrEmbeddingService, i)
		}
		vec[i] = float32(v.Float())
	}
	return vec, nil
}
