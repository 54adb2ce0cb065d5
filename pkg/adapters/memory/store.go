package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/ports"
)

var _ ports.MutationStore = (*Store)(nil)

// Store implements ports.MutationStore in memory.
// Safe for concurrent use.
type Store struct {
	data map[string]domain.Mutation
	mu   sync.RWMutex
}

// NewStore creates a new in-memory mutation store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]domain.Mutation),
	}
}

// Save persists the mutation in memory.
func (s *Store) Save(ctx context.Context, m domain.Mutation) error {
	// Copy to ensure isolation, similar to serialization
	copied := m.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[m.ID] = copied
	return nil
}

// Load retrieves the mutation from memory.
func (s *Store) Load(ctx context.Context, id string) (*domain.Mutation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.data[id]
	if !ok {
		return nil, domain.NotFound("mutation", id)
	}

	// Copy on read so the caller can't mutate store state through the payload map
	ret := m.Clone()
	return &ret, nil
}

// Delete removes the mutation.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, id)
	return nil
}

// List returns every mutation ordered by timestamp.
func (s *Store) List(ctx context.Context) ([]domain.Mutation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Mutation, 0, len(s.data))
	for _, m := range s.data {
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
