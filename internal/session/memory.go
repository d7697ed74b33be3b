package session

import (
	"context"
	"sync"
)

// MemoryStore keeps the session in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	pair Pair
	ok   bool
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Get(_ context.Context) (Pair, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair, s.ok, nil
}

func (s *MemoryStore) Set(_ context.Context, pair Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair, s.ok = pair, true
	return nil
}

func (s *MemoryStore) SetAccess(_ context.Context, access string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ok {
		return ErrNoSession
	}
	s.pair.Access = access
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair, s.ok = Pair{}, false
	return nil
}
