package pipeline

import (
	"fmt"

	"github.com/rifatrzn/tax-assistant/model"
)

// Span is one window of a text. Start and End are rune offsets, End exclusive.
type Span struct {
	Start int
	End   int
	Text  string
}

// ChunkText slides a window of chunkSize characters across text with a stride
// of chunkSize-overlap. The last window ends at the end of the text and may be
// shorter. Boundaries ignore words and sentences. Empty text yields no spans.
func ChunkText(text string, chunkSize int, overlap int) ([]Span, error) {
	config := model.ChunkConfig{ChunkSize: chunkSize, Overlap: overlap}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil, nil
	}

	stride := chunkSize - overlap
	spans := make([]Span, 0, ChunkCount(n, chunkSize, overlap))
	for start := 0; ; start += stride {
		end := min(start+chunkSize, n)
		spans = append(spans, Span{
			Start: start,
			End:   end,
			Text:  string(runes[start:end]),
		})
		if end == n {
			break
		}
	}

	return spans, nil
}

// ChunkCount returns the number of spans ChunkText produces for a text of
// length characters: ceil((length-overlap)/(chunkSize-overlap)), 1 for short
// texts and 0 for empty ones.
func ChunkCount(length int, chunkSize int, overlap int) int {
	if length <= 0 {
		return 0
	}
	if length <= chunkSize {
		return 1
	}
	stride := chunkSize - overlap
	return (length - overlap + stride - 1) / stride
}

// FixedSizeChunker returns a ChunkFunc using ChunkText with the given config.
func FixedSizeChunker(config model.ChunkConfig) ChunkFunc {
	return func(doc *model.Document) ([]*model.Chunk, error) {
		if doc == nil {
			return nil, fmt.Errorf("%w: document is nil", model.ErrInvalidConfiguration)
		}

		spans, err := ChunkText(doc.Content, config.ChunkSize, config.Overlap)
		if err != nil {
			return nil, err
		}

		chunks := make([]*model.Chunk, len(spans))
		for i, span := range spans {
			chunks[i] = &model.Chunk{
				DocumentID: doc.ID,
				Index:      i,
				Total:      len(spans),
				StartPos:   span.Start,
				EndPos:     span.End,
				Content:    span.Text,
				Metadata:   doc.Metadata,
			}
		}

		return chunks, nil
	}
}

// DefaultChunker splits into 1000 character chunks overlapping by 200.
func DefaultChunker() ChunkFunc {
	return FixedSizeChunker(model.DefaultChunkConfig())
}
