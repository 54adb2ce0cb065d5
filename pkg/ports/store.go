package ports

import (
	"context"

	"github.com/aretw0/lattice/pkg/domain"
)

// GraphStore defines the persistence collaborator for graphs.
// Every operation may suspend and is treated as at-least-once durable;
// the engine delegates all crash-durability guarantees here.
type GraphStore interface {
	// PersistGraph replaces the stored snapshot of a graph.
	PersistGraph(ctx context.Context, snapshot domain.GraphSnapshot) error

	// LoadGraph retrieves a graph snapshot.
	// Returns domain.ErrGraphNotFound if the graph does not exist.
	LoadGraph(ctx context.Context, graphID string) (*domain.GraphSnapshot, error)

	// UpdateNodes upserts nodes by id, creating the graph if needed.
	UpdateNodes(ctx context.Context, graphID string, nodes []domain.GraphNode) error

	// UpdateEdges upserts intra-graph edges by id, creating the graph if needed.
	UpdateEdges(ctx context.Context, graphID string, edges []domain.GraphEdge) error

	// PersistCrossGraphEdges upserts cross-graph edges by id.
	PersistCrossGraphEdges(ctx context.Context, edges []domain.CrossGraphEdge) error

	// DeleteCrossGraphEdges removes cross-graph edges by id. Missing ids are ignored.
	DeleteCrossGraphEdges(ctx context.Context, ids []string) error

	// QueryCrossGraphEdges returns the stored cross-graph edges matching criteria.
	QueryCrossGraphEdges(ctx context.Context, criteria domain.EdgeCriteria) ([]domain.CrossGraphEdge, error)
}

// MutationStore defines how queued mutations are made durable.
// A record is written on every status transition and deleted once synced.
type MutationStore interface {
	// Save upserts the mutation record.
	Save(ctx context.Context, mutation domain.Mutation) error

	// Load retrieves a mutation record.
	// Returns domain.ErrMutationNotFound if the record does not exist.
	Load(ctx context.Context, id string) (*domain.Mutation, error)

	// Delete removes the record. Deleting a missing record is not an error.
	Delete(ctx context.Context, id string) error

	// List returns every stored record.
	List(ctx context.Context) ([]domain.Mutation, error)
}

// RemoteTarget is the authoritative endpoint a mutation queue drains into.
type RemoteTarget interface {
	// Apply sends one mutation. A returned error is treated as a transient failure.
	Apply(ctx context.Context, mutation domain.Mutation) error
}

// RemoteTargetFunc adapts a function to RemoteTarget.
type RemoteTargetFunc func(ctx context.Context, mutation domain.Mutation) error

// Apply calls f.
func (f RemoteTargetFunc) Apply(ctx context.Context, mutation domain.Mutation) error {
	return f(ctx, mutation)
}
