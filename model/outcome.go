package model

import "time"

// ChunkStatus is the per chunk state during ingestion.
type ChunkStatus string

const (
	ChunkPending   ChunkStatus = "pending"
	ChunkEmbedding ChunkStatus = "embedding"
	ChunkEmbedded  ChunkStatus = "embedded"
	ChunkStored    ChunkStatus = "stored"
	ChunkFailed    ChunkStatus = "failed"
)

// DocumentStatus is the per document state during ingestion.
type DocumentStatus string

const (
	DocumentChunked   DocumentStatus = "chunked"
	DocumentCompleted DocumentStatus = "completed"
)

// ChunkOutcome records what happened to one chunk.
type ChunkOutcome struct {
	ChunkID    string      `json:"chunk_id"`
	RecordID   string      `json:"record_id,omitempty"`
	DocumentID string      `json:"document_id"`
	ChunkIndex int         `json:"chunk_index"`
	Status     ChunkStatus `json:"status"`
	Err        error       `json:"-"`
}

// Succeeded reports whether the chunk was stored.
func (o ChunkOutcome) Succeeded() bool {
	return o.Status == ChunkStored
}

// DocumentReport summarises the chunks of one document.
type DocumentReport struct {
	DocumentID  string         `json:"document_id"`
	Status      DocumentStatus `json:"status"`
	TotalChunks int            `json:"total_chunks"`
	Stored      int            `json:"stored"`
	Failed      int            `json:"failed"`
}

// IngestReport is returned by every ingestion run, including cancelled ones.
// Outcomes are ordered by document, then chunk index.
type IngestReport struct {
	Outcomes    []ChunkOutcome   `json:"outcomes"`
	Documents   []DocumentReport `json:"documents"`
	TotalChunks int              `json:"total_chunks"`
	Processed   int              `json:"processed"`
	Cancelled   bool             `json:"cancelled"`
	Duration    time.Duration    `json:"duration"`
}

// Failures returns the outcomes of every failed chunk.
func (r *IngestReport) Failures() []ChunkOutcome {
	var failed []ChunkOutcome
	for _, o := range r.Outcomes {
		if o.Status == ChunkFailed {
			failed = append(failed, o)
		}
	}
	return failed
}

// Succeeded returns the number of stored chunks.
func (r *IngestReport) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Succeeded() {
			n++
		}
	}
	return n
}
