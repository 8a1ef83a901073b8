package model

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmbeddingError(t *testing.T) {
	t.Run("Unwraps to service error and cause", func(t *testing.T) {
		err := NewEmbeddingError("chunk apple#0", ErrTimeout)

		assert.ErrorIs(t, err, ErrEmbeddingService)
		assert.ErrorIs(t, err, ErrTimeout)
		assert.Contains(t, err.Error(), "chunk apple#0")
	})

	t.Run("Relabels nested embedding errors", func(t *testing.T) {
		inner := NewEmbeddingError("batch[1]", errors.New("bad payload"))

		err := NewEmbeddingError(QueryUnit, inner)

		assert.Equal(t, QueryUnit, err.Unit)
		assert.Equal(t, "bad payload", err.Err.Error())
	})
}

func TestClassifyContextError(t *testing.T) {
	t.Run("Cancelled parent becomes ErrCancelled", func(t *testing.T) {
		parent, cancel := context.WithCancel(context.Background())
		cancel()

		err := ClassifyContextError(parent, parent, context.Canceled)

		assert.ErrorIs(t, err, ErrCancelled)
	})

	t.Run("Call deadline becomes ErrTimeout", func(t *testing.T) {
		parent := context.Background()
		call, cancel := context.WithTimeout(parent, 0)
		defer cancel()
		<-call.Done()

		err := ClassifyContextError(parent, call, errors.New("request aborted"))

		assert.ErrorIs(t, err, ErrTimeout)
		assert.NotErrorIs(t, err, ErrCancelled)
	})

	t.Run("Other errors pass through", func(t *testing.T) {
		cause := errors.New("boom")

		assert.Equal(t, cause, ClassifyContextError(context.Background(), context.Background(), cause))
		assert.NoError(t, ClassifyContextError(context.Background(), context.Background(), nil))
	})
}

func TestIngestReport(t *testing.T) {
	t.Run("Counts failures and successes", func(t *testing.T) {
		report := &IngestReport{Outcomes: []ChunkOutcome{
			{ChunkID: "d#0", Status: ChunkStored},
			{ChunkID: "d#1", Status: ChunkFailed, Err: ErrTimeout},
			{ChunkID: "d#2", Status: ChunkStored},
		}}

		assert.Equal(t, 2, report.Succeeded())
		assert.Len(t, report.Failures(), 1)
		assert.Equal(t, "d#1", report.Failures()[0].ChunkID)
	})
}
