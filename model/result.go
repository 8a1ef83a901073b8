package model

// RetrievalResult pairs a stored record with its cosine similarity to the query.
type RetrievalResult struct {
	Record *StoredRecord `json:"record"`
	Score  float64       `json:"score"`
}

// ContextStatus tells the answer generator whether grounding context exists.
type ContextStatus string

const (
	ContextFound    ContextStatus = "found"
	ContextNotFound ContextStatus = "no_context"
)

// RetrievalContext is the outcome of one successful retrieval. A query that
// failed returns an error instead, so "no context" and "failure" never look alike.
type RetrievalContext struct {
	Query   string             `json:"query"`
	Results []*RetrievalResult `json:"results"`
	Context string             `json:"context"`
	Status  ContextStatus      `json:"status"`
}

// HasContext reports whether at least one record cleared the threshold.
func (r *RetrievalContext) HasContext() bool {
	return r != nil && r.Status == ContextFound
}
