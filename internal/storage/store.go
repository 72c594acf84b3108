// Package storage persists Position state across restarts via a
// transactional PersistentStore, with an in-memory implementation for tests
// and a Postgres-backed implementation for production.
package storage

import (
	"context"
	"sync"

	"github.com/atlas-desktop/structure-core/pkg/types"
)

// PersistentStore is the typed DAO PositionManager commits through before
// emitting lifecycle events. Every mutation is expected to be transactional:
// a call either fully applies or leaves prior state untouched.
type PersistentStore interface {
	SavePosition(ctx context.Context, pos *types.Position) error
	UpdatePosition(ctx context.Context, pos *types.Position) error
	LoadOpenPositions(ctx context.Context) ([]*types.Position, error)
	DeletePosition(ctx context.Context, id string) error
	Close() error
}

// InMemoryStore is a PersistentStore for tests and standalone/paper runs.
type InMemoryStore struct {
	mu        sync.RWMutex
	positions map[string]*types.Position
}

// NewInMemoryStore returns an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{positions: make(map[string]*types.Position)}
}

func clonePosition(pos *types.Position) *types.Position {
	cp := *pos
	return &cp
}

func (s *InMemoryStore) SavePosition(ctx context.Context, pos *types.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[pos.ID] = clonePosition(pos)
	return nil
}

func (s *InMemoryStore) UpdatePosition(ctx context.Context, pos *types.Position) error {
	return s.SavePosition(ctx, pos)
}

func (s *InMemoryStore) LoadOpenPositions(ctx context.Context) ([]*types.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Position
	for _, p := range s.positions {
		if p.Status == types.PositionStatusOpen {
			out = append(out, clonePosition(p))
		}
	}
	return out, nil
}

func (s *InMemoryStore) DeletePosition(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions, id)
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
