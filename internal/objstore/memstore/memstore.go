// Package memstore provides an in-memory implementation of objstore.Store.
package memstore

import (
	"context"
	"errors"
	"sync"

	"github.com/linnemanlabs/prealert/internal/objstore"
)

// Store holds objects in memory. Suitable for dev/testing.
type Store struct {
	mu      sync.RWMutex
	objects map[string]*objstore.Object
	puts    int
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{objects: make(map[string]*objstore.Object)}
}

// Put stores a copy of data under key.
func (s *Store) Put(_ context.Context, key string, data []byte, contentType string) (string, error) {
	if key == "" {
		return "", errors.New("storage key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = &objstore.Object{
		Key:         key,
		ContentType: contentType,
		Data:        append([]byte(nil), data...),
	}
	s.puts++
	return key, nil
}

// Get returns a copy of the object stored under key.
func (s *Store) Get(_ context.Context, key string) (*objstore.Object, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.objects[key]
	if !ok {
		return nil, false, nil
	}
	cp := *o
	cp.Data = append([]byte(nil), o.Data...)
	return &cp, true, nil
}

// Delete removes key. Used by tests to simulate objects missing from storage.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
}

// Puts returns how many Put calls succeeded.
func (s *Store) Puts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.puts
}
