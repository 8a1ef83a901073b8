package model

import "time"

// RecordMetadata is the metadata persisted with every record.
type RecordMetadata struct {
	Filing      FilingMetadata
	DocumentID  string
	ChunkIndex  int
	TotalChunks int
}

// Metadata flattens the record metadata for storage.
func (r RecordMetadata) Metadata() Metadata {
	m := r.Filing.Metadata()
	if r.DocumentID != "" {
		m[MetaDocumentID] = r.DocumentID
	}
	m[MetaChunkIndex] = r.ChunkIndex
	m[MetaTotalChunks] = r.TotalChunks
	return m
}

// ParseRecordMetadata reads the structured fields back out of a stored map.
func ParseRecordMetadata(m Metadata) RecordMetadata {
	rest := m.Clone()
	delete(rest, MetaDocumentID)
	delete(rest, MetaChunkIndex)
	delete(rest, MetaTotalChunks)

	r := RecordMetadata{
		Filing:     FilingMetadataFromMap(rest),
		DocumentID: m.String(MetaDocumentID),
	}
	r.ChunkIndex, _ = m.Int(MetaChunkIndex)
	r.TotalChunks, _ = m.Int(MetaTotalChunks)
	return r
}

// StoredRecord is the persisted unit of the vector store.
type StoredRecord struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Metadata  Metadata  `json:"metadata"`
	Embedding []float32 `json:"embedding,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewStoredRecord builds the record for an embedded chunk.
func NewStoredRecord(id string, chunk *Chunk, embedding []float32) *StoredRecord {
	return &StoredRecord{
		ID:        id,
		Content:   chunk.Content,
		Metadata:  chunk.RecordMetadata().Metadata(),
		Embedding: embedding,
	}
}

// Clone returns a deep copy so stores never share slices with callers.
func (r *StoredRecord) Clone() *StoredRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Metadata = r.Metadata.Clone()
	if r.Embedding != nil {
		out.Embedding = make([]float32, len(r.Embedding))
		copy(out.Embedding, r.Embedding)
	}
	return &out
}
