package database

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rifatrzn/tax-assistant/model"
)

// MemoryStore is an in-process VectorStore with brute force cosine search.
// Records keep their insertion order, which breaks ties between equal scores.
type MemoryStore struct {
	mu        sync.RWMutex
	dimension int
	records   []*model.StoredRecord
	index     map[string]int
}

func NewMemoryStore(dimension int) (*MemoryStore, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", model.ErrInvalidConfiguration, dimension)
	}
	return &MemoryStore{
		dimension: dimension,
		index:     make(map[string]int),
	}, nil
}

func (s *MemoryStore) Put(ctx context.Context, record *model.StoredRecord) error {
	if err := ctx.Err(); err != nil {
		return model.ClassifyContextError(ctx, ctx, err)
	}
	if err := validateRecord(record, s.dimension); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[record.ID]; ok {
		return &model.StoreError{RecordID: record.ID, Err: model.ErrDuplicateID}
	}

	stored := record.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = nowUTC()
	}
	s.index[stored.ID] = len(s.records)
	s.records = append(s.records, stored)

	return nil
}

func (s *MemoryStore) Query(ctx context.Context, embedding []float32, threshold float64, topK int) ([]*model.RetrievalResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.ClassifyContextError(ctx, ctx, err)
	}
	if err := validateQuery(embedding, s.dimension, topK); err != nil {
		return nil, err
	}

	s.mu.RLock()
	results := make([]*model.RetrievalResult, 0, len(s.records))
	for _, record := range s.records {
		score := CosineSimilarity(embedding, record.Embedding)
		if score < threshold {
			continue
		}
		results = append(results, &model.RetrievalResult{Record: record.Clone(), Score: score})
	}
	s.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > topK {
		results = results[:topK]
	}

	return results, nil
}

func (s *MemoryStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = nil
	s.index = make(map[string]int)
	return nil
}

func (s *MemoryStore) Lookup(ctx context.Context, id string) (*model.StoredRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.ClassifyContextError(ctx, ctx, err)
	}
	record, ok := s.Get(id)
	if !ok {
		return nil, nil
	}
	return record, nil
}

// Get returns a copy of the record with the given id.
func (s *MemoryStore) Get(id string) (*model.StoredRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return s.records[i].Clone(), true
}

// Count returns the number of stored records.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *MemoryStore) Dimension() int {
	return s.dimension
}

func (s *MemoryStore) Close() error {
	return nil
}

var _ VectorStore = (*MemoryStore)(nil)
