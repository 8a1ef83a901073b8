package model

import (
	"fmt"
	"time"
)

// QueryConfig represents configuration for a retrieval query
type QueryConfig struct {
	TopK                int     `json:"top_k"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
}

// DefaultQueryConfig returns the defaults used by the assistant: five results
// with a cosine similarity of at least 0.7.
func DefaultQueryConfig() QueryConfig {
	return QueryConfig{
		TopK:                5,
		SimilarityThreshold: 0.7,
	}
}

func (c QueryConfig) Validate() error {
	if c.TopK <= 0 {
		return fmt.Errorf("%w: top_k must be positive, got %d", ErrInvalidConfiguration, c.TopK)
	}
	if c.SimilarityThreshold < -1 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: similarity threshold must be within [-1, 1], got %v", ErrInvalidConfiguration, c.SimilarityThreshold)
	}
	return nil
}

// ChunkConfig controls the fixed size character chunker.
type ChunkConfig struct {
	ChunkSize int `json:"chunk_size"`
	Overlap   int `json:"overlap"`
}

func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		ChunkSize: 1000,
		Overlap:   200,
	}
}

// Validate enforces 0 <= overlap < chunkSize.
func (c ChunkConfig) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfiguration, c.ChunkSize)
	}
	if c.Overlap < 0 || c.Overlap >= c.ChunkSize {
		return fmt.Errorf("%w: overlap must be within [0, %d), got %d", ErrInvalidConfiguration, c.ChunkSize, c.Overlap)
	}
	return nil
}

// IngestConfig controls the ingestion pipeline.
type IngestConfig struct {
	Chunk ChunkConfig `json:"chunk"`
	// Concurrency caps the number of chunks embedded and stored at once.
	Concurrency  int           `json:"concurrency"`
	EmbedTimeout time.Duration `json:"embed_timeout"`
	StoreTimeout time.Duration `json:"store_timeout"`
	// StoreRetries is the total number of attempts for a store write failing
	// with ErrStoreUnavailable.
	StoreRetries         int           `json:"store_retries"`
	RetryInitialInterval time.Duration `json:"retry_initial_interval"`
	// EmbedRequestsPerSecond of 0 disables the rate limiter.
	EmbedRequestsPerSecond float64 `json:"embed_requests_per_second"`
	EmbedBurst             int     `json:"embed_burst"`
}

func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		Chunk:                DefaultChunkConfig(),
		Concurrency:          5,
		EmbedTimeout:         30 * time.Second,
		StoreTimeout:         10 * time.Second,
		StoreRetries:         3,
		RetryInitialInterval: 200 * time.Millisecond,
	}
}

func (c IngestConfig) Validate() error {
	if err := c.Chunk.Validate(); err != nil {
		return err
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("%w: concurrency must be positive, got %d", ErrInvalidConfiguration, c.Concurrency)
	}
	if c.EmbedTimeout <= 0 || c.StoreTimeout <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfiguration)
	}
	if c.StoreRetries <= 0 {
		return fmt.Errorf("%w: store retries must be at least 1, got %d", ErrInvalidConfiguration, c.StoreRetries)
	}
	if c.RetryInitialInterval < 0 {
		return fmt.Errorf("%w: retry interval must not be negative", ErrInvalidConfiguration)
	}
	if c.EmbedRequestsPerSecond < 0 {
		return fmt.Errorf("%w: embed rate must not be negative", ErrInvalidConfiguration)
	}
	if c.EmbedRequestsPerSecond > 0 && c.EmbedBurst <= 0 {
		return fmt.Errorf("%w: embed burst must be positive when rate limiting", ErrInvalidConfiguration)
	}
	return nil
}
