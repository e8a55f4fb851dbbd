// Package memory implements an in-memory cart snapshot storage.
package memory

import (
	"context"
	"sync"

	"pmsdesk/pkg/cart"
)

// Storage keeps snapshots in a map. It satisfies cart.Storage.
type Storage struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New creates an empty storage.
func New() *Storage {
	return &Storage{data: make(map[string][]byte)}
}

// Get returns a copy of the snapshot stored under key.
func (s *Storage) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, cart.ErrNoSnapshot
	}
	return append([]byte(nil), v...), nil
}

// Set stores a copy of value under key.
func (s *Storage) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), value...)
	return nil
}

// Remove deletes key. Removing a missing key is not an error.
func (s *Storage) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}
