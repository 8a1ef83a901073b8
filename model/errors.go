package model

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfiguration is returned before any work starts when
	// chunking, ingestion or query parameters are out of range.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrEmbeddingService marks a failed call to the embedding backend.
	ErrEmbeddingService = errors.New("embedding service error")
	// ErrTimeout marks a call that hit its per-request deadline.
	ErrTimeout = errors.New("timeout")
	// ErrDuplicateID is returned by a store when the record id already exists.
	ErrDuplicateID = errors.New("duplicate record id")
	// ErrDimensionMismatch is returned by a store when the embedding length
	// differs from the configured dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrStoreUnavailable marks a transport level failure to the store.
	ErrStoreUnavailable = errors.New("vector store unavailable")
	// ErrCancelled marks work abandoned because the caller cancelled.
	ErrCancelled = errors.New("cancelled")
)

// QueryUnit identifies the query text in an EmbeddingError.
const QueryUnit = "query"

// EmbeddingError carries the identity of the text unit whose embedding failed.
type EmbeddingError struct {
	Unit string
	Err  error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding %s: %v", e.Unit, e.Err)
}

// Unwrap exposes both ErrEmbeddingService and the cause.
func (e *EmbeddingError) Unwrap() []error {
	return []error{ErrEmbeddingService, e.Err}
}

// NewEmbeddingError wraps err for the given unit. An error that already is an
// EmbeddingError is re-labelled instead of nested.
func NewEmbeddingError(unit string, err error) *EmbeddingError {
	var embErr *EmbeddingError
	if errors.As(err, &embErr) {
		return &EmbeddingError{Unit: unit, Err: embErr.Err}
	}
	return &EmbeddingError{Unit: unit, Err: err}
}

// StoreError is a rejected or failed store write.
type StoreError struct {
	RecordID string
	Err      error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store record %s: %v", e.RecordID, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// ClassifyContextError maps a context failure of a single call to the error
// taxonomy. parent is the caller's context, call the derived per-call context.
// A cancelled parent becomes ErrCancelled, a deadline hit on the call becomes
// ErrTimeout, anything else is returned unchanged.
func ClassifyContextError(parent context.Context, call context.Context, err error) error {
	if err == nil {
		return nil
	}
	if parent != nil && parent.Err() != nil {
		if errors.Is(err, ErrCancelled) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	if errors.Is(err, ErrTimeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || (call != nil && errors.Is(call.Err(), context.DeadlineExceeded)) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}
