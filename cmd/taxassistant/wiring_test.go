package main

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	taxassistant "github.com/rifatrzn/tax-assistant"
	"github.com/rifatrzn/tax-assistant/config"
	"github.com/rifatrzn/tax-assistant/helper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingCloser struct {
	closed int
}

func (c *recordingCloser) Close() error {
	c.closed++
	return nil
}

func testConfig(backend string) *config.Config {
	cfg := &config.Config{}
	cfg.Embedder.Provider = "hash"
	cfg.Embedder.Dimensions = 32
	cfg.Store.Backend = backend
	cfg.Ingest = config.IngestConfig{
		ChunkSize:    1000,
		Overlap:      200,
		Concurrency:  5,
		EmbedTimeout: 30 * time.Second,
		StoreTimeout: 10 * time.Second,
		StoreRetries: 3,
	}
	return cfg
}

func TestBuildOrClose(t *testing.T) {
	logger := helper.DiscardLogger()

	t.Run("Failed build closes everything", func(t *testing.T) {
		embedder, tagger := &recordingCloser{}, &recordingCloser{}

		_, err := buildOrClose(logger, []io.Closer{embedder, tagger}, func() (*taxassistant.Assistant, error) {
			return nil, errors.New("store unreachable")
		})

		assert.Error(t, err)
		assert.Equal(t, 1, embedder.closed)
		assert.Equal(t, 1, tagger.closed)
	})

	t.Run("Successful build keeps resources open", func(t *testing.T) {
		embedder := &recordingCloser{}

		a, err := buildOrClose(logger, []io.Closer{embedder}, func() (*taxassistant.Assistant, error) {
			return &taxassistant.Assistant{}, nil
		})

		require.NoError(t, err)
		assert.NotNil(t, a)
		assert.Equal(t, 0, embedder.closed)
	})
}

func TestNewAssistant(t *testing.T) {
	ctx := context.Background()
	logger := helper.DiscardLogger()

	t.Run("Memory backend", func(t *testing.T) {
		a, err := newAssistant(ctx, testConfig("memory"), logger)
		require.NoError(t, err)
		defer a.Close()

		assert.Equal(t, 32, a.Store.Dimension())
	})

	t.Run("Unknown backend", func(t *testing.T) {
		_, err := newAssistant(ctx, testConfig("cassandra"), logger)
		assert.ErrorContains(t, err, "unknown store backend")
	})
}
