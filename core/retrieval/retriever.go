package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rifatrzn/tax-assistant/core/pipeline"
	"github.com/rifatrzn/tax-assistant/database"
	"github.com/rifatrzn/tax-assistant/helper"
	"github.com/rifatrzn/tax-assistant/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ContextSeparator separates the contents of two results in the context block.
const ContextSeparator = "\n\n"

// Retriever embeds a query and collects the closest stored records.
type Retriever struct {
	embedder     pipeline.Embedder
	store        database.VectorStore
	embedTimeout time.Duration
	storeTimeout time.Duration
	tracer       trace.Tracer
	log          *slog.Logger
}

type RetrieverOption func(*Retriever)

func WithLogger(logger *slog.Logger) RetrieverOption {
	return func(r *Retriever) {
		if logger != nil {
			r.log = logger
		}
	}
}

// WithTimeouts overrides the per-call deadlines, 30s for the embedding call
// and 10s for the store query by default.
func WithTimeouts(embed time.Duration, store time.Duration) RetrieverOption {
	return func(r *Retriever) {
		if embed > 0 {
			r.embedTimeout = embed
		}
		if store > 0 {
			r.storeTimeout = store
		}
	}
}

// NewRetriever creates a new retriever
func NewRetriever(embedder pipeline.Embedder, store database.VectorStore, opts ...RetrieverOption) (*Retriever, error) {
	if embedder == nil || store == nil {
		return nil, helper.NewError("create retriever", fmt.Errorf("%w: embedder and store are required", model.ErrInvalidConfiguration))
	}
	if embedder.Dimensions() != store.Dimension() {
		return nil, helper.NewError("create retriever", fmt.Errorf("%w: embedder %s produces %d dimensions, store expects %d",
			model.ErrDimensionMismatch, embedder.ModelName(), embedder.Dimensions(), store.Dimension()))
	}

	r := &Retriever{
		embedder:     embedder,
		store:        store,
		embedTimeout: 30 * time.Second,
		storeTimeout: 10 * time.Second,
		tracer:       otel.Tracer("github.com/rifatrzn/tax-assistant/core/retrieval"),
		log:          helper.DiscardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Retrieve embeds the query and returns the records scoring at least the
// configured threshold, best first. A nil config uses model.DefaultQueryConfig.
// Embedding or store failures are returned as errors, an empty result is a
// RetrievalContext with status model.ContextNotFound.
func (r *Retriever) Retrieve(ctx context.Context, query string, config *model.QueryConfig) (*model.RetrievalContext, error) {
	if config == nil {
		defaults := model.DefaultQueryConfig()
		config = &defaults
	}
	if err := config.Validate(); err != nil {
		return nil, helper.NewError("retrieve", err)
	}
	if strings.TrimSpace(query) == "" {
		return nil, helper.NewError("retrieve", fmt.Errorf("%w: query is empty", model.ErrInvalidConfiguration))
	}

	ctx, span := r.tracer.Start(ctx, "retrieve", trace.WithAttributes(
		attribute.Int("top_k", config.TopK),
		attribute.Float64("threshold", config.SimilarityThreshold),
	))
	defer span.End()

	embedding, err := r.embedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, helper.NewError("retrieve", err)
	}

	storeCtx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()

	results, err := r.store.Query(storeCtx, embedding, config.SimilarityThreshold, config.TopK)
	if err != nil {
		err = model.ClassifyContextError(ctx, storeCtx, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, helper.NewError("query store", err)
	}

	rc := &model.RetrievalContext{
		Query:   query,
		Results: results,
		Status:  model.ContextNotFound,
	}
	if len(results) > 0 {
		contents := make([]string, len(results))
		for i, result := range results {
			contents[i] = result.Record.Content
		}
		rc.Context = strings.Join(contents, ContextSeparator)
		rc.Status = model.ContextFound
	}

	span.SetAttributes(attribute.Int("results", len(results)))
	r.log.Debug("Retrieved context",
		slog.Int("results", len(results)),
		slog.String("status", string(rc.Status)),
	)
	return rc, nil
}

func (r *Retriever) embedQuery(ctx context.Context, query string) ([]float32, error) {
	embedCtx, cancel := context.WithTimeout(ctx, r.embedTimeout)
	defer cancel()

	embedding, err := r.embedder.Embed(embedCtx, query)
	if err != nil {
		return nil, model.NewEmbeddingError(model.QueryUnit, model.ClassifyContextError(ctx, embedCtx, err))
	}
	return embedding, nil
}
