package middleware_test

import (
	"context"

	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/ports"
)

// MockStore is a simple map-based store for testing middleware.
// It keeps records by value, so tests can inspect exactly what was written.
type MockStore struct {
	data map[string]domain.Mutation
}

func NewMockStore() *MockStore {
	return &MockStore{
		data: make(map[string]domain.Mutation),
	}
}

func (s *MockStore) Save(ctx context.Context, m domain.Mutation) error {
	s.data[m.ID] = m
	return nil
}

func (s *MockStore) Load(ctx context.Context, id string) (*domain.Mutation, error) {
	m, ok := s.data[id]
	if !ok {
		return nil, domain.NotFound("mutation", id)
	}
	return &m, nil
}

func (s *MockStore) Delete(ctx context.Context, id string) error {
	delete(s.data, id)
	return nil
}

func (s *MockStore) List(ctx context.Context) ([]domain.Mutation, error) {
	out := make([]domain.Mutation, 0, len(s.data))
	for _, m := range s.data {
		out = append(out, m)
	}
	return out, nil
}

var _ ports.MutationStore = (*MockStore)(nil)
