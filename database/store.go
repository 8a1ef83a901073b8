package database

import (
	"context"
	"fmt"

	"github.com/rifatrzn/tax-assistant/model"
)

// VectorStore persists embedded records and answers similarity queries.
// Implementations must reject a duplicate id with model.ErrDuplicateID and an
// embedding of the wrong length with model.ErrDimensionMismatch, without
// persisting anything in either case.
type VectorStore interface {
	Put(ctx context.Context, record *model.StoredRecord) error
	// Lookup returns the record stored under id, or nil when there is none.
	Lookup(ctx context.Context, id string) (*model.StoredRecord, error)
	// Query returns at most topK results with a cosine similarity of at least
	// threshold, ordered by descending score.
	Query(ctx context.Context, embedding []float32, threshold float64, topK int) ([]*model.RetrievalResult, error)
	// Reset removes every record.
	Reset(ctx context.Context) error
	Dimension() int
	Close() error
}

func validateRecord(record *model.StoredRecord, dimension int) error {
	if record == nil {
		return fmt.Errorf("%w: record is nil", model.ErrInvalidConfiguration)
	}
	if record.ID == "" {
		return &model.StoreError{RecordID: record.ID, Err: fmt.Errorf("%w: record id is empty", model.ErrInvalidConfiguration)}
	}
	if len(record.Embedding) != dimension {
		return &model.StoreError{
			RecordID: record.ID,
			Err:      fmt.Errorf("%w: got %d, store expects %d", model.ErrDimensionMismatch, len(record.Embedding), dimension),
		}
	}
	return nil
}

func validateQuery(embedding []float32, dimension int, topK int) error {
	if len(embedding) != dimension {
		return fmt.Errorf("%w: query has %d dimensions, store expects %d", model.ErrDimensionMismatch, len(embedding), dimension)
	}
	if topK <= 0 {
		return fmt.Errorf("%w: top_k must be positive, got %d", model.ErrInvalidConfiguration, topK)
	}
	return nil
}
