package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalEmbedder(t *testing.T) {
	// LocalEmbedder downloads all-MiniLM-L6-v2 on first use

	t.Run("Generate embedding for text", func(t *testing.T) {
		if testing.Short() {
			t.Skip("Skipping LocalEmbedder test in short mode (requires model download)")
		}

		embedder, err := DefaultEmbedder()
		require.NoError(t, err)
		defer embedder.Close()

		embedding, err := embedder.Embed(context.Background(), "Apple Inc. reported net sales of $383 billion.")

		require.NoError(t, err)
		assert.Equal(t, 384, len(embedding), "all-MiniLM-L6-v2 produces 384-dimensional embeddings")
		assert.Equal(t, 384, embedder.Dimensions())
		assert.Equal(t, DefaultLocalModel, embedder.ModelName())

		hasNonZero := false
		for _, val := range embedding {
			if val != 0 {
				hasNonZero = true
				break
			}
		}
		assert.True(t, hasNonZero, "Embedding should contain non-zero values")
	})

	t.Run("Batch is aligned with input", func(t *testing.T) {
		if testing.Short() {
			t.Skip("Skipping LocalEmbedder test in short mode (requires model download)")
		}

		embedder, err := DefaultEmbedder()
		require.NoError(t, err)
		defer embedder.Close()

		ctx := context.Background()
		texts := []string{"revenue grew", "risk factors", "income taxes"}
		batch, err := embedder.EmbedBatch(ctx, texts)
		require.NoError(t, err)
		require.Len(t, batch, 3)

		single, err := embedder.Embed(ctx, texts[1])
		require.NoError(t, err)
		assert.InDeltaSlice(t, single, batch[1], 1e-4)
	})
}
