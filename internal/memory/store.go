package memory

import (
	"context"
	"slices"
	"sync"

	"flightrag/internal/domain"
)

// Store persists the turns of each session.
type Store interface {
	Load(ctx context.Context, userID string) ([]domain.Turn, error)
	Save(ctx context.Context, userID string, turns []domain.Turn) error
	Delete(ctx context.Context, userID string) error
}

// MapStore keeps sessions in process memory.
type MapStore struct {
	mu       sync.RWMutex
	sessions map[string][]domain.Turn
}

func NewMapStore() *MapStore {
	return &MapStore{sessions: make(map[string][]domain.Turn)}
}

func (m *MapStore) Load(_ context.Context, userID string) ([]domain.Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.sessions[userID]), nil
}

func (m *MapStore) Save(_ context.Context, userID string, turns []domain.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[userID] = slices.Clone(turns)
	return nil
}

func (m *MapStore) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
	return nil
}
