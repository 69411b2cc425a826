package circuitbreaker

import (
	"context"

	"github.com/puzpuzpuz/xsync/v4"
)

// MemoryStore keeps snapshots in process
type MemoryStore struct {
	states *xsync.Map[string, Snapshot]
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: xsync.NewMap[string, Snapshot]()}
}

// Get implements Store
func (s *MemoryStore) Get(_ context.Context, service string) (Snapshot, error) {
	snap, _ := s.states.Load(service)
	return snap, nil
}

// Update implements Store
func (s *MemoryStore) Update(_ context.Context, service string, fn func(Snapshot) Snapshot) (Snapshot, error) {
	snap, _ := s.states.Compute(service, func(old Snapshot, _ bool) (Snapshot, xsync.ComputeOp) {
		return fn(old), xsync.UpdateOp
	})
	return snap, nil
}

// Delete implements Store
func (s *MemoryStore) Delete(_ context.Context, service string) error {
	s.states.Delete(service)
	return nil
}

var _ Store = (*MemoryStore)(nil)
