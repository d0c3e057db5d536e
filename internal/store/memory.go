package store

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store implementation used in tests and
// single-shot CLI runs without persistence.
type MemoryStore struct {
	mu          sync.RWMutex
	kv          map[string]map[string][]byte
	connections map[string]map[string]map[string]any
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		kv:          make(map[string]map[string][]byte),
		connections: make(map[string]map[string]map[string]any),
	}
}

func (s *MemoryStore) PutKV(ctx context.Context, flowRunID, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.kv[flowRunID] == nil {
		s.kv[flowRunID] = make(map[string][]byte)
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	s.kv[flowRunID][key] = cp
	return nil
}

func (s *MemoryStore) GetKV(ctx context.Context, flowRunID, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.kv[flowRunID][key]
	if !ok {
		return nil, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (s *MemoryStore) DeleteKV(ctx context.Context, flowRunID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.kv[flowRunID], key)
	return nil
}

func (s *MemoryStore) UpsertConnection(ctx context.Context, projectID, name string, value map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connections[projectID] == nil {
		s.connections[projectID] = make(map[string]map[string]any)
	}
	s.connections[projectID][name] = value
	return nil
}

func (s *MemoryStore) GetConnection(ctx context.Context, projectID, name string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.connections[projectID][name]
	if !ok {
		return nil, nil
	}
	return v, nil
}

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
