package taxassistant

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/rifatrzn/tax-assistant/core/pipeline"
	"github.com/rifatrzn/tax-assistant/core/retrieval"
	"github.com/rifatrzn/tax-assistant/database"
	"github.com/rifatrzn/tax-assistant/helper"
	"github.com/rifatrzn/tax-assistant/model"
	"github.com/rifatrzn/tax-assistant/source"
	loadSql "github.com/rifatrzn/tax-assistant/sql"
)

// Assistant wires a vector store and an embedder into the ingestion pipeline
// and the retrieval service.
type Assistant struct {
	DB        *helper.Database // Only set by NewWithPostgres
	Store     database.VectorStore
	Embedder  pipeline.Embedder
	Ingestor  *pipeline.Ingestor
	Retriever *retrieval.Retriever
	tagger    *pipeline.EntityTagger
	// Logging
	log *slog.Logger
}

type options struct {
	ingest   model.IngestConfig
	logger   *slog.Logger
	progress pipeline.ProgressFunc
	tagger   *pipeline.EntityTagger
	minScore float32
}

type Option func(*options)

// WithIngestConfig replaces model.DefaultIngestConfig.
func WithIngestConfig(config model.IngestConfig) Option {
	return func(o *options) {
		o.ingest = config
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithProgress(progress pipeline.ProgressFunc) Option {
	return func(o *options) {
		o.progress = progress
	}
}

// WithEntityTagger stores the named entities of every chunk with its record.
// The Assistant closes the tagger.
func WithEntityTagger(tagger *pipeline.EntityTagger, minScore float32) Option {
	return func(o *options) {
		o.tagger = tagger
		o.minScore = minScore
	}
}

func newOptions(opts []Option) *options {
	o := &options{ingest: model.DefaultIngestConfig()}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.New(helper.NewPrettyHandler(os.Stdout, helper.PrettyHandlerOptions{
			SlogOpts: slog.HandlerOptions{
				Level: slog.LevelInfo,
			},
		}))
	}
	return o
}

// New creates an Assistant over the given store and embedder.
func New(store database.VectorStore, embedder pipeline.Embedder, opts ...Option) (*Assistant, error) {
	o := newOptions(opts)
	return newAssistant(store, embedder, o)
}

func newAssistant(store database.VectorStore, embedder pipeline.Embedder, o *options) (*Assistant, error) {
	ingestorOpts := []pipeline.IngestorOption{
		pipeline.WithLogger(o.logger),
		pipeline.WithProgress(o.progress),
	}
	if o.tagger != nil {
		ingestorOpts = append(ingestorOpts, pipeline.WithEntityTagger(o.tagger.Tag, o.minScore))
	}
	ingestor, err := pipeline.NewIngestor(embedder, store, o.ingest, ingestorOpts...)
	if err != nil {
		return nil, helper.NewError("create ingestor", err)
	}

	retriever, err := retrieval.NewRetriever(embedder, store,
		retrieval.WithLogger(o.logger),
		retrieval.WithTimeouts(o.ingest.EmbedTimeout, o.ingest.StoreTimeout),
	)
	if err != nil {
		return nil, helper.NewError("create retriever", err)
	}

	return &Assistant{
		Store:     store,
		Embedder:  embedder,
		Ingestor:  ingestor,
		Retriever: retriever,
		tagger:    o.tagger,
		log:       o.logger,
	}, nil
}

// NewWithPostgres connects to PostgreSQL, loads the SQL functions and creates
// the records table for the embedder's dimension.
func NewWithPostgres(config *helper.DatabaseConfiguration, embedder pipeline.Embedder, opts ...Option) (*Assistant, error) {
	if embedder == nil {
		return nil, helper.NewError("create assistant", fmt.Errorf("%w: embedder is required", model.ErrInvalidConfiguration))
	}
	o := newOptions(opts)

	db, err := helper.NewDatabase("tax-assistant", config, o.logger)
	if err != nil {
		return nil, helper.NewError("connect database", err)
	}

	err = loadSql.Init(db.Instance)
	if err != nil {
		db.Close()
		return nil, helper.NewError("initialize database extensions", err)
	}

	// force=false to not reload if functions already exist
	records, err := database.NewRecordsDBHandler(db, embedder.Dimensions(), false)
	if err != nil {
		db.Close()
		return nil, helper.NewError("create records handler", err)
	}

	a, err := newAssistant(records, embedder, o)
	if err != nil {
		db.Close()
		return nil, err
	}
	a.DB = db
	return a, nil
}

// Ingest chunks, embeds and stores the documents. See pipeline.Ingestor.Ingest.
func (a *Assistant) Ingest(ctx context.Context, docs []*model.Document) (*model.IngestReport, error) {
	return a.Ingestor.Ingest(ctx, docs)
}

// IngestFrom fetches the documents of src and ingests them.
func (a *Assistant) IngestFrom(ctx context.Context, src source.Source) (*model.IngestReport, error) {
	docs, err := src.Fetch(ctx)
	if err != nil {
		return nil, helper.NewError("fetch documents", err)
	}
	a.log.Info("Fetched documents", slog.Int("documents", len(docs)))
	return a.Ingest(ctx, docs)
}

// Retrieve returns the grounding context for a query. A nil config uses
// model.DefaultQueryConfig.
func (a *Assistant) Retrieve(ctx context.Context, query string, config *model.QueryConfig) (*model.RetrievalContext, error) {
	return a.Retriever.Retrieve(ctx, query, config)
}

// Reset removes every stored record.
func (a *Assistant) Reset(ctx context.Context) error {
	return a.Store.Reset(ctx)
}

// ChangeIndexType rebuilds the vector index of the Postgres store as hnsw or
// ivfflat. See database.RecordsDBHandler.ChangeIndexType for params.
func (a *Assistant) ChangeIndexType(ctx context.Context, indexType string, params map[string]interface{}) error {
	records, ok := a.Store.(*database.RecordsDBHandler)
	if !ok {
		return helper.NewError("change index type", fmt.Errorf("%w: index types are only supported by the postgres store", model.ErrInvalidConfiguration))
	}
	return records.ChangeIndexType(ctx, indexType, params)
}

// Close closes the store, the entity tagger and, if it holds resources, the
// embedder.
func (a *Assistant) Close() error {
	err := a.Store.Close()
	if a.tagger != nil {
		if cerr := a.tagger.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if closer, ok := a.Embedder.(interface{ Close() error }); ok {
		if cerr := closer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
