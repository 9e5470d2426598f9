package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// MemoryStore is an append-only in-memory audit record store.
type MemoryStore struct {
	mux     sync.RWMutex
	records map[string]Record
	order   []string
}

// NewMemoryStore creates new MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Put appends the record. Existing record is never replaced.
func (s *MemoryStore) Put(_ context.Context, id string, r Record) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	if _, ok := s.records[id]; ok {
		return errors.Join(ErrRecordExists, fmt.Errorf("record %s", id))
	}
	s.records[id] = r
	s.order = append(s.order, id)
	return nil
}

// Get returns the record.
func (s *MemoryStore) Get(_ context.Context, id string) (Record, error) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return Record{}, errors.Join(ErrRecordNotFound, fmt.Errorf("record %s", id))
	}
	return r, nil
}

// Records returns all records in the order they were put.
func (s *MemoryStore) Records() []Record {
	s.mux.RLock()
	defer s.mux.RUnlock()
	out := make([]Record, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id])
	}
	return out
}

// Len returns number of stored records.
func (s *MemoryStore) Len() int {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return len(s.order)
}
