package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rifatrzn/tax-assistant/database"
	"github.com/rifatrzn/tax-assistant/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDimensions = 64

// fakeEmbedder wraps the hash embedder and fails for texts containing one of
// the failOn markers.
type fakeEmbedder struct {
	*HashEmbedder
	failOn   []string
	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int32
}

func newFakeEmbedder(t *testing.T, failOn ...string) *fakeEmbedder {
	hash, err := NewHashEmbedder(testDimensions)
	require.NoError(t, err)
	return &fakeEmbedder{HashEmbedder: hash, failOn: failOn}
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	current := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.peak.Load()
		if current <= peak || f.peak.CompareAndSwap(peak, current) {
			break
		}
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, serviceError(ctx, ctx.Err())
		}
	}
	for _, marker := range f.failOn {
		if strings.Contains(text, marker) {
			return nil, fmt.Errorf("%w: status 500", model.ErrEmbeddingService)
		}
	}
	return f.HashEmbedder.Embed(ctx, text)
}

// flakyStore fails the first failures Put calls with ErrStoreUnavailable.
type flakyStore struct {
	*database.MemoryStore
	failures  int
	commit    bool
	mu        sync.Mutex
	attempts  int
	permanent error
}

func (s *flakyStore) Put(ctx context.Context, record *model.StoredRecord) error {
	s.mu.Lock()
	s.attempts++
	attempt := s.attempts
	s.mu.Unlock()

	if s.permanent != nil {
		return s.permanent
	}
	if attempt <= s.failures {
		if s.commit {
			_ = s.MemoryStore.Put(ctx, record)
		}
		return fmt.Errorf("%w: connection reset", model.ErrStoreUnavailable)
	}
	return s.MemoryStore.Put(ctx, record)
}

func newTestStore(t *testing.T) *database.MemoryStore {
	store, err := database.NewMemoryStore(testDimensions)
	require.NoError(t, err)
	return store
}

func testIngestConfig() model.IngestConfig {
	config := model.DefaultIngestConfig()
	config.Chunk = model.ChunkConfig{ChunkSize: 100, Overlap: 20}
	config.RetryInitialInterval = time.Millisecond
	return config
}

func testDocument(id string, length int) *model.Document {
	var sb strings.Builder
	for i := 0; sb.Len() < length; i++ {
		fmt.Fprintf(&sb, "%s word%d ", id, i)
	}
	return &model.Document{
		ID:      id,
		Content: sb.String()[:length],
		Metadata: model.FilingMetadata{
			CompanyName: "Apple Inc.",
			FormType:    "10-K",
		},
	}
}

func TestNewIngestor(t *testing.T) {
	t.Run("Valid configuration", func(t *testing.T) {
		ingestor, err := NewIngestor(newFakeEmbedder(t), newTestStore(t), testIngestConfig())
		assert.NoError(t, err)
		assert.NotNil(t, ingestor)
	})

	t.Run("Invalid chunk configuration", func(t *testing.T) {
		config := testIngestConfig()
		config.Chunk.Overlap = config.Chunk.ChunkSize

		_, err := NewIngestor(newFakeEmbedder(t), newTestStore(t), config)
		assert.ErrorIs(t, err, model.ErrInvalidConfiguration)
	})

	t.Run("Zero concurrency", func(t *testing.T) {
		config := testIngestConfig()
		config.Concurrency = 0

		_, err := NewIngestor(newFakeEmbedder(t), newTestStore(t), config)
		assert.ErrorIs(t, err, model.ErrInvalidConfiguration)
	})

	t.Run("Embedder and store dimensions differ", func(t *testing.T) {
		store, err := database.NewMemoryStore(testDimensions + 1)
		require.NoError(t, err)

		_, err = NewIngestor(newFakeEmbedder(t), store, testIngestConfig())
		assert.ErrorIs(t, err, model.ErrDimensionMismatch)
	})

	t.Run("Missing collaborators", func(t *testing.T) {
		_, err := NewIngestor(nil, newTestStore(t), testIngestConfig())
		assert.ErrorIs(t, err, model.ErrInvalidConfiguration)
	})
}

func TestIngest(t *testing.T) {
	ctx := context.Background()

	t.Run("Ingest documents", func(t *testing.T) {
		store := newTestStore(t)
		ingestor, err := NewIngestor(newFakeEmbedder(t), store, testIngestConfig())
		require.NoError(t, err)

		docs := []*model.Document{testDocument("a", 250), testDocument("b", 90), testDocument("c", 0)}
		report, err := ingestor.Ingest(ctx, docs)

		require.NoError(t, err)
		assert.Equal(t, 4, report.TotalChunks, "250 chars give 3 chunks, 90 chars give 1, empty gives 0")
		assert.Equal(t, 4, report.Succeeded())
		assert.Equal(t, 4, report.Processed)
		assert.Empty(t, report.Failures())
		assert.False(t, report.Cancelled)
		assert.Equal(t, 4, store.Count())

		require.Len(t, report.Documents, 3)
		for _, d := range report.Documents {
			assert.Equal(t, model.DocumentCompleted, d.Status, "document %s", d.DocumentID)
		}
		assert.Equal(t, 3, report.Documents[0].Stored)
		assert.Equal(t, 0, report.Documents[2].TotalChunks)

		for _, o := range report.Outcomes {
			record, ok := store.Get(o.RecordID)
			require.True(t, ok, "Expected record for %s", o.ChunkID)
			meta := model.ParseRecordMetadata(record.Metadata)
			assert.Equal(t, "Apple Inc.", meta.Filing.CompanyName)
			assert.Equal(t, "10-K", meta.Filing.FormType)
			assert.Equal(t, o.ChunkIndex, meta.ChunkIndex)
			assert.Equal(t, o.DocumentID, meta.DocumentID)
		}
	})

	t.Run("One failing chunk is isolated", func(t *testing.T) {
		store := newTestStore(t)
		doc := testDocument("apple", 250)
		chunks, err := ChunkText(doc.Content, 100, 20)
		require.NoError(t, err)
		require.Len(t, chunks, 3)
		// a marker only present in the middle chunk
		marker := "MARKER"
		doc.Content = doc.Content[:120] + marker + doc.Content[120+len(marker):]

		ingestor, err := NewIngestor(newFakeEmbedder(t, marker), store, testIngestConfig())
		require.NoError(t, err)

		report, err := ingestor.Ingest(ctx, []*model.Document{doc, testDocument("msft", 150)})

		require.NoError(t, err)
		failures := report.Failures()
		require.Len(t, failures, 1)
		assert.Equal(t, "apple#1", failures[0].ChunkID)
		assert.ErrorIs(t, failures[0].Err, model.ErrEmbeddingService)

		var embErr *model.EmbeddingError
		require.ErrorAs(t, failures[0].Err, &embErr)
		assert.Equal(t, "chunk apple#1", embErr.Unit)

		assert.Equal(t, report.TotalChunks-1, store.Count())
		assert.Equal(t, model.DocumentCompleted, report.Documents[0].Status)
		assert.Equal(t, 1, report.Documents[0].Failed)
		assert.Equal(t, 2, report.Documents[0].Stored)
	})

	t.Run("Duplicate id is rejected per chunk", func(t *testing.T) {
		store := newTestStore(t)
		ingestor, err := NewIngestor(newFakeEmbedder(t), store, testIngestConfig(),
			WithIDGenerator(func() string { return "same-id" }))
		require.NoError(t, err)

		report, err := ingestor.Ingest(ctx, []*model.Document{testDocument("a", 250)})

		require.NoError(t, err)
		assert.Equal(t, 1, report.Succeeded())
		require.Len(t, report.Failures(), 2)
		for _, f := range report.Failures() {
			assert.ErrorIs(t, f.Err, model.ErrDuplicateID)
			var storeErr *model.StoreError
			assert.ErrorAs(t, f.Err, &storeErr)
		}
		assert.Equal(t, 1, store.Count())
	})

	t.Run("Store unavailable is retried", func(t *testing.T) {
		store := &flakyStore{MemoryStore: newTestStore(t), failures: 2}
		ingestor, err := NewIngestor(newFakeEmbedder(t), store, testIngestConfig())
		require.NoError(t, err)

		report, err := ingestor.Ingest(ctx, []*model.Document{testDocument("a", 50)})

		require.NoError(t, err)
		assert.Equal(t, 1, report.Succeeded())
		assert.Equal(t, 3, store.attempts)
	})

	t.Run("Retries are bounded", func(t *testing.T) {
		store := &flakyStore{MemoryStore: newTestStore(t), failures: 10}
		ingestor, err := NewIngestor(newFakeEmbedder(t), store, testIngestConfig())
		require.NoError(t, err)

		report, err := ingestor.Ingest(ctx, []*model.Document{testDocument("a", 50)})

		require.NoError(t, err)
		require.Len(t, report.Failures(), 1)
		assert.ErrorIs(t, report.Failures()[0].Err, model.ErrStoreUnavailable)
		assert.Equal(t, 3, store.attempts)
		assert.Equal(t, 0, store.Count())
	})

	t.Run("Duplicate after lost response counts as stored", func(t *testing.T) {
		store := &flakyStore{MemoryStore: newTestStore(t), failures: 1, commit: true}
		ingestor, err := NewIngestor(newFakeEmbedder(t), store, testIngestConfig())
		require.NoError(t, err)

		report, err := ingestor.Ingest(ctx, []*model.Document{testDocument("a", 50)})

		require.NoError(t, err)
		assert.Equal(t, 1, report.Succeeded())
		assert.Equal(t, 1, store.Count())
	})

	t.Run("Duplicate of another record after a failed attempt is rejected", func(t *testing.T) {
		store := &flakyStore{MemoryStore: newTestStore(t), failures: 1}
		foreign := &model.StoredRecord{ID: "fixed-id", Content: "someone else", Metadata: model.Metadata{}, Embedding: make([]float32, testDimensions)}
		foreign.Embedding[0] = 1
		require.NoError(t, store.MemoryStore.Put(ctx, foreign))

		ingestor, err := NewIngestor(newFakeEmbedder(t), store, testIngestConfig(),
			WithIDGenerator(func() string { return "fixed-id" }))
		require.NoError(t, err)

		report, err := ingestor.Ingest(ctx, []*model.Document{testDocument("a", 50)})

		require.NoError(t, err)
		assert.Equal(t, 0, report.Succeeded())
		require.Len(t, report.Failures(), 1)
		assert.Equal(t, model.ChunkFailed, report.Outcomes[0].Status)
		assert.ErrorIs(t, report.Failures()[0].Err, model.ErrDuplicateID)
		assert.Equal(t, 2, store.attempts)

		stored, ok := store.Get("fixed-id")
		require.True(t, ok)
		assert.Equal(t, "someone else", stored.Content, "Expected the foreign record to be untouched")
	})

	t.Run("Dimension mismatch is not retried", func(t *testing.T) {
		store := &flakyStore{MemoryStore: newTestStore(t), permanent: &model.StoreError{RecordID: "x", Err: model.ErrDimensionMismatch}}
		ingestor, err := NewIngestor(newFakeEmbedder(t), store, testIngestConfig())
		require.NoError(t, err)

		report, err := ingestor.Ingest(ctx, []*model.Document{testDocument("a", 50)})

		require.NoError(t, err)
		require.Len(t, report.Failures(), 1)
		assert.ErrorIs(t, report.Failures()[0].Err, model.ErrDimensionMismatch)
		assert.Equal(t, 1, store.attempts)
	})

	t.Run("Concurrency is capped", func(t *testing.T) {
		embedder := newFakeEmbedder(t)
		embedder.delay = 10 * time.Millisecond
		config := testIngestConfig()
		config.Concurrency = 2

		ingestor, err := NewIngestor(embedder, newTestStore(t), config)
		require.NoError(t, err)

		report, err := ingestor.Ingest(ctx, []*model.Document{testDocument("a", 800)})

		require.NoError(t, err)
		assert.Equal(t, report.TotalChunks, report.Succeeded())
		assert.LessOrEqual(t, embedder.peak.Load(), int32(2))
	})

	t.Run("Progress reaches total", func(t *testing.T) {
		var calls []int
		ingestor, err := NewIngestor(newFakeEmbedder(t), newTestStore(t), testIngestConfig(),
			WithProgress(func(processed, total int) {
				calls = append(calls, processed)
				assert.Equal(t, 3, total)
			}))
		require.NoError(t, err)

		_, err = ingestor.Ingest(ctx, []*model.Document{testDocument("a", 250)})

		require.NoError(t, err)
		assert.Equal(t, []int{1, 2, 3}, calls)
	})

	t.Run("Cancellation returns partial report", func(t *testing.T) {
		embedder := newFakeEmbedder(t)
		embedder.delay = 20 * time.Millisecond
		config := testIngestConfig()
		config.Concurrency = 1

		ingestor, err := NewIngestor(embedder, newTestStore(t), config)
		require.NoError(t, err)

		cancelCtx, cancel := context.WithCancel(ctx)
		time.AfterFunc(30*time.Millisecond, cancel)

		report, err := ingestor.Ingest(cancelCtx, []*model.Document{testDocument("a", 2000)})

		require.NoError(t, err)
		assert.True(t, report.Cancelled)
		assert.Equal(t, report.TotalChunks, report.Processed)
		assert.Less(t, report.Succeeded(), report.TotalChunks)

		cancelled := 0
		for _, f := range report.Failures() {
			if errors.Is(f.Err, model.ErrCancelled) {
				cancelled++
			}
		}
		assert.Equal(t, len(report.Failures()), cancelled, "Expected every failure to be a cancellation")
		assert.Equal(t, model.DocumentCompleted, report.Documents[0].Status)
	})

	t.Run("Embedding timeout", func(t *testing.T) {
		embedder := newFakeEmbedder(t)
		embedder.delay = time.Second
		config := testIngestConfig()
		config.EmbedTimeout = 10 * time.Millisecond

		ingestor, err := NewIngestor(embedder, newTestStore(t), config)
		require.NoError(t, err)

		report, err := ingestor.Ingest(ctx, []*model.Document{testDocument("a", 50)})

		require.NoError(t, err)
		require.Len(t, report.Failures(), 1)
		assert.ErrorIs(t, report.Failures()[0].Err, model.ErrTimeout)
		assert.ErrorIs(t, report.Failures()[0].Err, model.ErrEmbeddingService)
		assert.False(t, report.Cancelled)
	})

	t.Run("Rate limited embedding", func(t *testing.T) {
		config := testIngestConfig()
		config.EmbedRequestsPerSecond = 1000
		config.EmbedBurst = 1

		ingestor, err := NewIngestor(newFakeEmbedder(t), newTestStore(t), config)
		require.NoError(t, err)

		report, err := ingestor.Ingest(ctx, []*model.Document{testDocument("a", 250)})

		require.NoError(t, err)
		assert.Equal(t, 3, report.Succeeded())
	})

	t.Run("Nil document", func(t *testing.T) {
		ingestor, err := NewIngestor(newFakeEmbedder(t), newTestStore(t), testIngestConfig())
		require.NoError(t, err)

		_, err = ingestor.Ingest(ctx, []*model.Document{nil})
		assert.ErrorIs(t, err, model.ErrInvalidConfiguration)
	})
}

func TestIngestWithEntityTagger(t *testing.T) {
	ctx := context.Background()

	t.Run("Entities are added to record metadata", func(t *testing.T) {
		store := newTestStore(t)
		tagger := func(text string) ([]Entity, error) {
			return []Entity{
				{Text: "Apple Inc.", Label: "ORG", Score: 0.98},
				{Text: "Cupertino", Label: "LOC", Score: 0.3},
			}, nil
		}
		ingestor, err := NewIngestor(newFakeEmbedder(t), store, testIngestConfig(), WithEntityTagger(tagger, 0.5))
		require.NoError(t, err)

		report, err := ingestor.Ingest(ctx, []*model.Document{testDocument("a", 50)})

		require.NoError(t, err)
		require.Equal(t, 1, report.Succeeded())
		record, ok := store.Get(report.Outcomes[0].RecordID)
		require.True(t, ok)
		assert.Equal(t, []interface{}{"Apple Inc."}, record.Metadata["entities_org"])
		assert.NotContains(t, record.Metadata, "entities_loc")
		assert.Equal(t, "Apple Inc.", model.ParseRecordMetadata(record.Metadata).Filing.CompanyName)
	})

	t.Run("Tagger failure still stores the chunk", func(t *testing.T) {
		store := newTestStore(t)
		tagger := func(text string) ([]Entity, error) {
			return nil, errors.New("model not loaded")
		}
		ingestor, err := NewIngestor(newFakeEmbedder(t), store, testIngestConfig(), WithEntityTagger(tagger, 0))
		require.NoError(t, err)

		report, err := ingestor.Ingest(ctx, []*model.Document{testDocument("a", 50)})

		require.NoError(t, err)
		assert.Equal(t, 1, report.Succeeded())
		assert.Equal(t, 1, store.Count())
	})
}
