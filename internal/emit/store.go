// Package emit writes normalized award records as NDJSON, skipping records
// whose content has not changed since they were last emitted.
package emit

import (
	"errors"
	"sync"
)

// ErrStoreClosed is returned by a Store used after Close.
var ErrStoreClosed = errors.New("dedup store closed")

// Store remembers the content fingerprint last emitted for each grant id.
type Store interface {
	Lookup(id string) (fingerprint string, found bool, err error)
	Put(id, fingerprint string) error
	Close() error
}

// MemoryStore is a Store that lives for one process.
type MemoryStore struct {
	mu     sync.RWMutex
	seen   map[string]string
	closed bool
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[string]string)}
}

func (s *MemoryStore) Lookup(id string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", false, ErrStoreClosed
	}

	fp, ok := s.seen[id]

	return fp, ok, nil
}

func (s *MemoryStore) Put(id, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	s.seen[id] = fingerprint

	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	return nil
}

// Len returns the number of ids recorded.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.seen)
}
