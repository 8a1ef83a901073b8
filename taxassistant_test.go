package taxassistant

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rifatrzn/tax-assistant/core/pipeline"
	"github.com/rifatrzn/tax-assistant/database"
	"github.com/rifatrzn/tax-assistant/helper"
	"github.com/rifatrzn/tax-assistant/model"
	"github.com/rifatrzn/tax-assistant/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDimensions = 128

func testEmbedder(t *testing.T) *pipeline.HashEmbedder {
	embedder, err := pipeline.NewHashEmbedder(testDimensions)
	require.NoError(t, err)
	return embedder
}

func testDocuments() []*model.Document {
	return []*model.Document{
		{
			ID:       "apple-10k-2023",
			Content:  strings.Repeat("Apple income tax provision and deferred tax assets. ", 40),
			Metadata: model.FilingMetadata{CompanyName: "Apple Inc.", FormType: "10-K"},
		},
		{
			ID:       "msft-10q-2024",
			Content:  strings.Repeat("Microsoft cloud revenue grew with Azure subscriptions. ", 10),
			Metadata: model.FilingMetadata{CompanyName: "Microsoft Corporation", FormType: "10-Q"},
		},
	}
}

func initAssistant(t *testing.T) *Assistant {
	store, err := database.NewMemoryStore(testDimensions)
	require.NoError(t, err)

	a, err := New(store, testEmbedder(t), WithLogger(helper.DiscardLogger()))
	require.NoError(t, err, "failed to create assistant")
	t.Cleanup(func() {
		a.Close()
	})
	return a
}

func TestNew(t *testing.T) {
	t.Run("Valid call New", func(t *testing.T) {
		a := initAssistant(t)
		assert.NotNil(t, a.Ingestor, "Expected assistant to have an ingestor")
		assert.NotNil(t, a.Retriever, "Expected assistant to have a retriever")
		assert.Nil(t, a.DB, "Expected no database for an in-memory store")
	})

	t.Run("Dimension mismatch", func(t *testing.T) {
		store, err := database.NewMemoryStore(testDimensions + 1)
		require.NoError(t, err)

		_, err = New(store, testEmbedder(t), WithLogger(helper.DiscardLogger()))
		assert.ErrorIs(t, err, model.ErrDimensionMismatch)
	})

	t.Run("Invalid ingest config", func(t *testing.T) {
		store, err := database.NewMemoryStore(testDimensions)
		require.NoError(t, err)

		config := model.DefaultIngestConfig()
		config.Chunk.Overlap = -1
		_, err = New(store, testEmbedder(t), WithIngestConfig(config), WithLogger(helper.DiscardLogger()))
		assert.ErrorIs(t, err, model.ErrInvalidConfiguration)
	})
}

func TestIngestAndRetrieve(t *testing.T) {
	ctx := context.Background()
	a := initAssistant(t)

	t.Run("Ingest documents", func(t *testing.T) {
		report, err := a.Ingest(ctx, testDocuments())

		require.NoError(t, err)
		assert.Empty(t, report.Failures())
		assert.Equal(t, report.TotalChunks, report.Succeeded())
		assert.Len(t, report.Documents, 2)
	})

	t.Run("Retrieve grounding context", func(t *testing.T) {
		rc, err := a.Retrieve(ctx, "deferred tax assets", &model.QueryConfig{TopK: 2, SimilarityThreshold: 0.1})

		require.NoError(t, err)
		require.True(t, rc.HasContext())
		assert.LessOrEqual(t, len(rc.Results), 2)
		assert.Equal(t, "Apple Inc.", model.ParseRecordMetadata(rc.Results[0].Record.Metadata).Filing.CompanyName)
	})

	t.Run("Index type needs the postgres store", func(t *testing.T) {
		err := a.ChangeIndexType(ctx, "hnsw", nil)
		assert.ErrorIs(t, err, model.ErrInvalidConfiguration)
	})

	t.Run("Reset removes records", func(t *testing.T) {
		require.NoError(t, a.Reset(ctx))

		rc, err := a.Retrieve(ctx, "deferred tax assets", &model.QueryConfig{TopK: 2, SimilarityThreshold: -1})
		require.NoError(t, err)
		assert.Equal(t, model.ContextNotFound, rc.Status)
	})
}

func TestIngestFrom(t *testing.T) {
	t.Run("Ingest a directory", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "apple.json"),
			[]byte(`{"companyName":"Apple Inc.","formType":"10-K","textContent":"Apple effective tax rate"}`), 0o600))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("Tax notes"), 0o600))

		a := initAssistant(t)
		report, err := a.IngestFrom(context.Background(), source.NewDirSource(dir, nil))

		require.NoError(t, err)
		assert.Equal(t, 2, report.Succeeded())
	})

	t.Run("Source failure", func(t *testing.T) {
		a := initAssistant(t)
		_, err := a.IngestFrom(context.Background(), source.NewDirSource(filepath.Join(t.TempDir(), "missing"), nil))
		assert.Error(t, err)
	})
}

func TestNewWithPostgres(t *testing.T) {
	if dbPort == "" {
		t.Skip("postgres container not started in short mode")
	}
	helper.SetTestDatabaseConfigEnvs(t, dbPort)
	dbConfig, err := helper.NewDatabaseConfiguration()
	require.NoError(t, err)

	a, err := NewWithPostgres(dbConfig, testEmbedder(t), WithLogger(helper.DiscardLogger()))
	require.NoError(t, err, "Expected NewWithPostgres to not return an error")
	t.Cleanup(func() {
		_, _ = a.DB.Instance.Exec(`DROP TABLE IF EXISTS records;`)
		a.Close()
	})
	require.NotNil(t, a.DB, "Expected assistant to have a database instance")

	ctx := context.Background()

	t.Run("Ingest and retrieve", func(t *testing.T) {
		report, err := a.Ingest(ctx, testDocuments())
		require.NoError(t, err)
		assert.Empty(t, report.Failures())

		rc, err := a.Retrieve(ctx, "Azure cloud revenue", &model.QueryConfig{TopK: 1, SimilarityThreshold: 0})
		require.NoError(t, err)
		require.Len(t, rc.Results, 1)
		assert.Equal(t, "Microsoft Corporation", model.ParseRecordMetadata(rc.Results[0].Record.Metadata).Filing.CompanyName)
	})

	t.Run("Change index type", func(t *testing.T) {
		require.NoError(t, a.ChangeIndexType(ctx, "ivfflat", map[string]interface{}{"lists": 1}))

		rc, err := a.Retrieve(ctx, "Azure cloud revenue", &model.QueryConfig{TopK: 1, SimilarityThreshold: 0})
		require.NoError(t, err)
		assert.True(t, rc.HasContext())

		require.NoError(t, a.ChangeIndexType(ctx, "hnsw", nil))
	})

	t.Run("Reset", func(t *testing.T) {
		require.NoError(t, a.Reset(ctx))

		rc, err := a.Retrieve(ctx, "Azure cloud revenue", &model.QueryConfig{TopK: 1, SimilarityThreshold: -1})
		require.NoError(t, err)
		assert.False(t, rc.HasContext())
	})
}
