package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	taxassistant "github.com/rifatrzn/tax-assistant"
	"github.com/rifatrzn/tax-assistant/config"
	"github.com/rifatrzn/tax-assistant/core/pipeline"
	"github.com/rifatrzn/tax-assistant/database"
	"github.com/rifatrzn/tax-assistant/helper"
	"github.com/rifatrzn/tax-assistant/source"
)

func loadConfig(path string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}

	level, err := helper.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	logger := helper.NewLogger(os.Stderr, level)

	for _, warning := range cfg.Validate() {
		logger.Warn("Configuration warning", slog.String("warning", warning))
	}
	return cfg, logger, nil
}

func newEmbedder(ctx context.Context, cfg config.EmbedderConfig) (pipeline.Embedder, error) {
	var (
		embedder pipeline.Embedder
		err      error
	)
	switch cfg.Provider {
	case "openai":
		embedder, err = pipeline.NewOpenAIEmbedder(pipeline.OpenAIConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
		})
	case "bedrock":
		embedder, err = pipeline.NewBedrockEmbedder(ctx, pipeline.BedrockConfig{
			Region:     cfg.Region,
			ModelID:    cfg.Model,
			Dimensions: cfg.Dimensions,
		})
	case "local":
		if cfg.Model == "" {
			embedder, err = pipeline.DefaultEmbedder()
		} else {
			embedder, err = pipeline.NewLocalEmbedder(cfg.Model, cfg.OnnxFile)
		}
	case "hash":
		dimensions := cfg.Dimensions
		if dimensions == 0 {
			dimensions = 384
		}
		embedder, err = pipeline.NewHashEmbedder(dimensions)
	default:
		err = fmt.Errorf("unknown embedder provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return embedder, nil
}

func newAssistant(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*taxassistant.Assistant, error) {
	embedder, err := newEmbedder(ctx, cfg.Embedder)
	if err != nil {
		return nil, helper.NewError("create embedder", err)
	}

	// released again if the assistant cannot be built
	var closers []io.Closer
	if closer, ok := embedder.(io.Closer); ok {
		closers = append(closers, closer)
	}

	opts := []taxassistant.Option{
		taxassistant.WithLogger(logger),
		taxassistant.WithIngestConfig(cfg.Ingest.Model()),
	}
	if cfg.Ingest.Entities {
		tagger, err := pipeline.DefaultEntityTagger()
		if err != nil {
			closeAll(logger, closers)
			return nil, helper.NewError("create entity tagger", err)
		}
		closers = append(closers, tagger)
		opts = append(opts, taxassistant.WithEntityTagger(tagger, float32(cfg.Ingest.EntityMinScore)))
	}

	return buildOrClose(logger, closers, func() (*taxassistant.Assistant, error) {
		return assemble(ctx, cfg, logger, embedder, opts)
	})
}

func assemble(ctx context.Context, cfg *config.Config, logger *slog.Logger, embedder pipeline.Embedder, opts []taxassistant.Option) (*taxassistant.Assistant, error) {
	var store database.VectorStore
	switch cfg.Store.Backend {
	case "postgres":
		dbConfig, err := helper.NewDatabaseConfiguration()
		if err != nil {
			return nil, err
		}
		return taxassistant.NewWithPostgres(dbConfig, embedder, opts...)
	case "qdrant":
		qdrant, err := database.NewQdrantStore(ctx, database.QdrantConfig{
			Host:       cfg.Store.Qdrant.Host,
			Port:       cfg.Store.Qdrant.Port,
			Collection: cfg.Store.Qdrant.Collection,
			Dimension:  embedder.Dimensions(),
		}, logger)
		if err != nil {
			return nil, err
		}
		store = qdrant
	case "memory":
		// only useful for trying out the pipeline, nothing survives the process
		memory, err := database.NewMemoryStore(embedder.Dimensions())
		if err != nil {
			return nil, err
		}
		store = memory
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	a, err := taxassistant.New(store, embedder, opts...)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

// buildOrClose closes every closer when build fails. On success the
// Assistant owns them.
func buildOrClose(logger *slog.Logger, closers []io.Closer, build func() (*taxassistant.Assistant, error)) (*taxassistant.Assistant, error) {
	a, err := build()
	if err != nil {
		closeAll(logger, closers)
		return nil, err
	}
	return a, nil
}

func closeAll(logger *slog.Logger, closers []io.Closer) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			logger.Warn("Close failed", slog.Any("error", err))
		}
	}
}

func newSource(ctx context.Context, cfg *config.Config, logger *slog.Logger) (source.Source, error) {
	switch cfg.Source.Type {
	case "edgar":
		edgar := cfg.Source.Edgar
		return source.NewEdgarSource(source.EdgarConfig{
			UserAgent:         edgar.UserAgent,
			Companies:         edgar.Companies,
			FormTypes:         edgar.FormTypes,
			PerForm:           edgar.PerForm,
			RequestsPerSecond: edgar.RequestsPerSecond,
		}, logger), nil
	case "s3":
		return source.NewS3Source(ctx, source.S3Config{
			Bucket: cfg.Source.S3.Bucket,
			Prefix: cfg.Source.S3.Prefix,
			Region: cfg.Source.S3.Region,
		}, logger)
	case "dir":
		return source.NewDirSource(cfg.Source.Dir.Path, logger), nil
	}
	return nil, fmt.Errorf("unknown source type %q", cfg.Source.Type)
}
