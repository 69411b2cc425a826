// Package storage provides object storage backends used by the durable cache tier.
package storage

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
)

// ErrObjectNotFound is returned by Get when the key does not exist
var ErrObjectNotFound = errors.New("storage: object not found")

// ErrEmptyKey is returned for operations without a storage key
var ErrEmptyKey = errors.New("storage key is required")

// Object is a stored blob with its user metadata
type Object struct {
	Data        []byte
	ContentType string
	Metadata    map[string]string
}

// ObjectStore is a minimal blob store
type ObjectStore interface {
	Put(ctx context.Context, key string, obj Object) error
	// Get returns ErrObjectNotFound when the key does not exist
	Get(ctx context.Context, key string) (Object, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// MemoryObjectStore keeps objects in process. Used when no S3 endpoint is
// configured and in tests.
type MemoryObjectStore struct {
	mu      sync.RWMutex
	objects map[string]Object
}

// NewMemoryObjectStore creates an empty store
func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{objects: make(map[string]Object)}
}

// Put implements ObjectStore
func (s *MemoryObjectStore) Put(_ context.Context, key string, obj Object) error {
	if key == "" {
		return ErrEmptyKey
	}
	obj.Data = slices.Clone(obj.Data)
	obj.Metadata = maps.Clone(obj.Metadata)
	s.mu.Lock()
	s.objects[key] = obj
	s.mu.Unlock()
	return nil
}

// Get implements ObjectStore
func (s *MemoryObjectStore) Get(_ context.Context, key string) (Object, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return Object{}, ErrObjectNotFound
	}
	obj.Data = slices.Clone(obj.Data)
	obj.Metadata = maps.Clone(obj.Metadata)
	return obj, nil
}

// Delete implements ObjectStore
func (s *MemoryObjectStore) Delete(_ context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}

// Exists implements ObjectStore
func (s *MemoryObjectStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	_, ok := s.objects[key]
	s.mu.RUnlock()
	return ok, nil
}

// Len returns the number of stored objects
func (s *MemoryObjectStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

var _ ObjectStore = (*MemoryObjectStore)(nil)
