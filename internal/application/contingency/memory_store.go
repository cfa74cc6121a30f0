package contingency

import (
	"context"
	"sync"
)

// MemoryStore estado de contingencia de una sola instancia.
type MemoryStore struct {
	mu       sync.Mutex
	failures map[string]int
	active   map[string]State
}

// NewMemoryStore crea el almacén vacío.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{failures: make(map[string]int), active: make(map[string]State)}
}

var _ StateStore = (*MemoryStore)(nil)

func (s *MemoryStore) RecordFailure(ctx context.Context, issuerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[issuerID]++
	return s.failures[issuerID], nil
}

func (s *MemoryStore) ResetFailures(ctx context.Context, issuerID string) error {
	s.mu.Lock()
	delete(s.failures, issuerID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Failures(ctx context.Context, issuerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures[issuerID], nil
}

func (s *MemoryStore) Activate(ctx context.Context, st State) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[st.IssuerID]; ok {
		return false, nil
	}
	s.active[st.IssuerID] = st
	return true, nil
}

func (s *MemoryStore) Deactivate(ctx context.Context, issuerID string) error {
	s.mu.Lock()
	delete(s.active, issuerID)
	delete(s.failures, issuerID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, issuerID string) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.active[issuerID]
	if !ok {
		return nil, nil
	}
	return &st, nil
}
