package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rifatrzn/tax-assistant/database"
	"github.com/rifatrzn/tax-assistant/helper"
	"github.com/rifatrzn/tax-assistant/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const tracerName = "github.com/rifatrzn/tax-assistant/core/pipeline"

// ProgressFunc is called after every finished chunk. Calls are serialised.
type ProgressFunc func(processed int, total int)

// Ingestor runs documents through chunking, embedding and storage.
type Ingestor struct {
	embedder Embedder
	store    database.VectorStore
	config   model.IngestConfig
	chunker  ChunkFunc
	newID    func() string
	limiter  *rate.Limiter
	progress ProgressFunc
	tracer   trace.Tracer
	log      *slog.Logger

	tagger         TagFunc
	entityMinScore float32
}

type IngestorOption func(*Ingestor)

func WithLogger(logger *slog.Logger) IngestorOption {
	return func(i *Ingestor) {
		if logger != nil {
			i.log = logger
		}
	}
}

func WithProgress(progress ProgressFunc) IngestorOption {
	return func(i *Ingestor) {
		i.progress = progress
	}
}

// WithChunker replaces the fixed size chunker built from the config.
func WithChunker(chunker ChunkFunc) IngestorOption {
	return func(i *Ingestor) {
		if chunker != nil {
			i.chunker = chunker
		}
	}
}

// WithIDGenerator sets the record id generator, uuid v4 by default.
func WithIDGenerator(newID func() string) IngestorOption {
	return func(i *Ingestor) {
		if newID != nil {
			i.newID = newID
		}
	}
}

// WithEntityTagger adds the named entities of every chunk to its record
// metadata. Entities scoring below minScore are dropped.
func WithEntityTagger(tagger TagFunc, minScore float32) IngestorOption {
	return func(i *Ingestor) {
		i.tagger = tagger
		i.entityMinScore = minScore
	}
}

func WithTracer(tracer trace.Tracer) IngestorOption {
	return func(i *Ingestor) {
		if tracer != nil {
			i.tracer = tracer
		}
	}
}

// NewIngestor validates the configuration and the embedder/store pairing
// before any work starts.
func NewIngestor(embedder Embedder, store database.VectorStore, config model.IngestConfig, opts ...IngestorOption) (*Ingestor, error) {
	if embedder == nil || store == nil {
		return nil, helper.NewError("create ingestor", fmt.Errorf("%w: embedder and store are required", model.ErrInvalidConfiguration))
	}
	if err := config.Validate(); err != nil {
		return nil, helper.NewError("create ingestor", err)
	}
	if embedder.Dimensions() != store.Dimension() {
		return nil, helper.NewError("create ingestor", fmt.Errorf("%w: embedder %s produces %d dimensions, store expects %d",
			model.ErrDimensionMismatch, embedder.ModelName(), embedder.Dimensions(), store.Dimension()))
	}

	i := &Ingestor{
		embedder: embedder,
		store:    store,
		config:   config,
		chunker:  FixedSizeChunker(config.Chunk),
		newID:    uuid.NewString,
		tracer:   otel.Tracer(tracerName),
		log:      helper.DiscardLogger(),
	}
	if config.EmbedRequestsPerSecond > 0 {
		i.limiter = rate.NewLimiter(rate.Limit(config.EmbedRequestsPerSecond), config.EmbedBurst)
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Ingest chunks, embeds and stores every document. Chunk failures are
// recorded in the report and never abort siblings. The error is only set
// for invalid input, a cancelled run returns the partial report with a nil
// error and Cancelled set.
func (i *Ingestor) Ingest(ctx context.Context, docs []*model.Document) (*model.IngestReport, error) {
	start := time.Now()

	ctx, span := i.tracer.Start(ctx, "ingest.batch", trace.WithAttributes(attribute.Int("documents", len(docs))))
	defer span.End()

	var chunks []*model.Chunk
	perDocument := make([]int, len(docs))
	for d, doc := range docs {
		if doc == nil {
			err := fmt.Errorf("%w: document %d is nil", model.ErrInvalidConfiguration, d)
			span.SetStatus(codes.Error, err.Error())
			return nil, helper.NewError("ingest", err)
		}
		docChunks, err := i.chunker(doc)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, helper.NewError(fmt.Sprintf("chunk document %s", doc.ID), err)
		}
		perDocument[d] = len(docChunks)
		chunks = append(chunks, docChunks...)
		i.log.Debug("Document chunked", slog.String("document_id", doc.ID), slog.Int("chunks", len(docChunks)))
	}

	total := len(chunks)
	span.SetAttributes(attribute.Int("chunks", total))
	i.log.Info("Starting ingestion",
		slog.Int("documents", len(docs)),
		slog.Int("chunks", total),
		slog.Int("concurrency", i.config.Concurrency),
		slog.String("model", i.embedder.ModelName()),
	)

	outcomes := make([]model.ChunkOutcome, total)
	for j, chunk := range chunks {
		outcomes[j] = model.ChunkOutcome{
			ChunkID:    chunk.Key(),
			DocumentID: chunk.DocumentID,
			ChunkIndex: chunk.Index,
			Status:     model.ChunkPending,
		}
	}

	tracker := &progressTracker{total: total, fn: i.progress, log: i.log}

	g := errgroup.Group{}
	g.SetLimit(i.config.Concurrency)
	for j, chunk := range chunks {
		if ctx.Err() != nil {
			outcomes[j].Status = model.ChunkFailed
			outcomes[j].Err = fmt.Errorf("%w: %w", model.ErrCancelled, ctx.Err())
			tracker.done()
			continue
		}

		outcome := &outcomes[j]
		g.Go(func() error {
			i.processChunk(ctx, chunk, outcome)
			tracker.done()
			return nil
		})
	}
	_ = g.Wait()

	report := &model.IngestReport{
		Outcomes:    outcomes,
		Documents:   documentReports(docs, perDocument, outcomes),
		TotalChunks: total,
		Processed:   tracker.processed,
		Cancelled:   ctx.Err() != nil,
		Duration:    time.Since(start),
	}

	failed := len(report.Failures())
	span.SetAttributes(attribute.Int("stored", report.Succeeded()), attribute.Int("failed", failed))
	if report.Cancelled {
		span.SetStatus(codes.Error, "cancelled")
		i.log.Warn("Ingestion cancelled", slog.Int("stored", report.Succeeded()), slog.Int("failed", failed), slog.Int("total", total))
	} else {
		i.log.Info("Ingestion finished",
			slog.Int("stored", report.Succeeded()),
			slog.Int("failed", failed),
			slog.Duration("duration", report.Duration),
		)
	}
	return report, nil
}

func (i *Ingestor) processChunk(ctx context.Context, chunk *model.Chunk, outcome *model.ChunkOutcome) {
	ctx, span := i.tracer.Start(ctx, "ingest.chunk", trace.WithAttributes(
		attribute.String("document_id", chunk.DocumentID),
		attribute.Int("chunk_index", chunk.Index),
	))
	defer span.End()

	fail := func(err error) {
		outcome.Status = model.ChunkFailed
		outcome.Err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		i.log.Warn("Chunk failed",
			slog.String("document_id", chunk.DocumentID),
			slog.Int("chunk_index", chunk.Index),
			slog.Any("error", err),
		)
	}

	outcome.Status = model.ChunkEmbedding
	embedding, err := i.embed(ctx, chunk)
	if err != nil {
		fail(err)
		return
	}
	outcome.Status = model.ChunkEmbedded

	record := model.NewStoredRecord(i.newID(), chunk, embedding)
	outcome.RecordID = record.ID
	if i.tagger != nil {
		i.tag(chunk, record)
	}
	if err := i.put(ctx, record); err != nil {
		fail(err)
		return
	}

	outcome.Status = model.ChunkStored
	i.log.Debug("Chunk stored",
		slog.String("document_id", chunk.DocumentID),
		slog.Int("chunk_index", chunk.Index),
		slog.String("record_id", record.ID),
	)
}

func (i *Ingestor) embed(ctx context.Context, chunk *model.Chunk) ([]float32, error) {
	unit := fmt.Sprintf("chunk %s", chunk.Key())

	if i.limiter != nil {
		if err := i.limiter.Wait(ctx); err != nil {
			return nil, model.NewEmbeddingError(unit, model.ClassifyContextError(ctx, nil, err))
		}
	}

	embedCtx, cancel := context.WithTimeout(ctx, i.config.EmbedTimeout)
	defer cancel()

	embedding, err := i.embedder.Embed(embedCtx, chunk.Content)
	if err != nil {
		return nil, model.NewEmbeddingError(unit, model.ClassifyContextError(ctx, embedCtx, err))
	}
	return embedding, nil
}

// tag is best effort, a failing tagger leaves the record without entities.
func (i *Ingestor) tag(chunk *model.Chunk, record *model.StoredRecord) {
	entities, err := i.tagger(chunk.Content)
	if err != nil {
		i.log.Warn("Entity tagging failed",
			slog.String("document_id", chunk.DocumentID),
			slog.Int("chunk_index", chunk.Index),
			slog.Any("error", err),
		)
		return
	}
	for key, value := range entityMetadata(entities, i.entityMinScore) {
		record.Metadata[key] = value
	}
}

// put writes the record, retrying only ErrStoreUnavailable. A duplicate id on
// a retry counts as stored only when the stored record is the one we sent.
func (i *Ingestor) put(ctx context.Context, record *model.StoredRecord) error {
	attempt := 0
	operation := func() error {
		attempt++
		storeCtx, cancel := context.WithTimeout(ctx, i.config.StoreTimeout)
		defer cancel()

		err := i.store.Put(storeCtx, record)
		if err == nil {
			return nil
		}
		err = model.ClassifyContextError(ctx, storeCtx, err)
		if attempt > 1 && errors.Is(err, model.ErrDuplicateID) && i.committedEarlier(ctx, record) {
			return nil
		}
		if errors.Is(err, model.ErrStoreUnavailable) && ctx.Err() == nil {
			i.log.Debug("Store unavailable, retrying",
				slog.String("record_id", record.ID),
				slog.Int("attempt", attempt),
				slog.Any("error", err),
			)
			return err
		}
		return backoff.Permanent(err)
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = i.config.RetryInitialInterval
	exp.MaxElapsedTime = 0
	exp.Reset()

	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(i.config.StoreRetries-1)), ctx)
	err := backoff.Retry(operation, policy)
	if err == nil {
		return nil
	}

	err = model.ClassifyContextError(ctx, nil, err)
	var storeErr *model.StoreError
	if !errors.As(err, &storeErr) {
		err = &model.StoreError{RecordID: record.ID, Err: err}
	}
	return err
}

// committedEarlier reports whether the record under record.ID has our content
// and embedding, i.e. an earlier attempt committed before its response was lost.
func (i *Ingestor) committedEarlier(ctx context.Context, record *model.StoredRecord) bool {
	lookupCtx, cancel := context.WithTimeout(ctx, i.config.StoreTimeout)
	defer cancel()

	existing, err := i.store.Lookup(lookupCtx, record.ID)
	if err != nil || existing == nil {
		return false
	}
	return existing.Content == record.Content && slices.Equal(existing.Embedding, record.Embedding)
}

type progressTracker struct {
	mu        sync.Mutex
	processed int
	total     int
	nextLog   int
	fn        ProgressFunc
	log       *slog.Logger
}

// done counts one finished chunk and logs roughly every tenth of the batch.
func (p *progressTracker) done() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.processed++
	if p.fn != nil {
		p.fn(p.processed, p.total)
	}

	step := p.total / 10
	if step == 0 {
		step = 1
	}
	if p.processed >= p.nextLog || p.processed == p.total {
		p.log.Info("Ingestion progress", slog.Int("processed", p.processed), slog.Int("total", p.total))
		p.nextLog = p.processed + step
	}
}

func documentReports(docs []*model.Document, perDocument []int, outcomes []model.ChunkOutcome) []model.DocumentReport {
	reports := make([]model.DocumentReport, len(docs))
	offset := 0
	for d, doc := range docs {
		report := model.DocumentReport{
			DocumentID:  doc.ID,
			TotalChunks: perDocument[d],
		}
		for _, o := range outcomes[offset : offset+perDocument[d]] {
			switch o.Status {
			case model.ChunkStored:
				report.Stored++
			case model.ChunkFailed:
				report.Failed++
			}
		}
		report.Status = model.DocumentChunked
		if report.Stored+report.Failed == report.TotalChunks {
			report.Status = model.DocumentCompleted
		}
		reports[d] = report
		offset += perDocument[d]
	}
	return reports
}
