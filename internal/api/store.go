package api

import (
	"sync"
)

// DefaultStoreSize bounds the number of predictions kept for retrieval.
const DefaultStoreSize = 256

// PredictionStore keeps recent predictions by id. When full, the oldest
// entry is evicted.
type PredictionStore struct {
	mu      sync.Mutex
	limit   int
	order   []string
	records map[string]PredictResponse
}

func NewPredictionStore(limit int) *PredictionStore {
	if limit <= 0 {
		limit = DefaultStoreSize
	}
	return &PredictionStore{
		limit:   limit,
		records: make(map[string]PredictResponse),
	}
}

func (s *PredictionStore) Put(resp PredictResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[resp.ID]; !ok {
		s.order = append(s.order, resp.ID)
	}
	s.records[resp.ID] = resp
	for len(s.order) > s.limit {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.records, oldest)
	}
}

func (s *PredictionStore) Get(id string) (PredictResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	return rec, ok
}

func (s *PredictionStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return false
	}
	delete(s.records, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *PredictionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
