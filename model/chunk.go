package model

import "fmt"

// Chunk is a window of a document's text. Positions are character (rune)
// offsets into Document.Content, EndPos is exclusive.
type Chunk struct {
	DocumentID string         `json:"document_id"`
	Index      int            `json:"chunk_index"`
	Total      int            `json:"total_chunks"`
	StartPos   int            `json:"start_pos"`
	EndPos     int            `json:"end_pos"`
	Content    string         `json:"content"`
	Metadata   FilingMetadata `json:"metadata"`
}

// Key identifies the chunk inside a batch, e.g. "apple-10k-2023#2".
func (c *Chunk) Key() string {
	return fmt.Sprintf("%s#%d", c.DocumentID, c.Index)
}

// RecordMetadata merges the parent document's metadata with the chunk position.
func (c *Chunk) RecordMetadata() RecordMetadata {
	return RecordMetadata{
		Filing:      c.Metadata,
		DocumentID:  c.DocumentID,
		ChunkIndex:  c.Index,
		TotalChunks: c.Total,
	}
}
