package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/ports"
)

var _ ports.GraphStore = (*GraphStore)(nil)

// GraphStore implements ports.GraphStore in memory.
// Safe for concurrent use.
type GraphStore struct {
	mu     sync.RWMutex
	graphs map[string]domain.GraphSnapshot
	cross  map[string]domain.CrossGraphEdge
}

// NewGraphStore creates an empty graph store.
func NewGraphStore() *GraphStore {
	return &GraphStore{
		graphs: make(map[string]domain.GraphSnapshot),
		cross:  make(map[string]domain.CrossGraphEdge),
	}
}

// NewFromSnapshots creates a graph store seeded with snapshots.
// This is mostly a convenience for tests.
func NewFromSnapshots(snaps ...domain.GraphSnapshot) (*GraphStore, error) {
	s := NewGraphStore()
	for _, snap := range snaps {
		if snap.GraphID == "" {
			return nil, fmt.Errorf("snapshot missing graph id")
		}
		s.graphs[snap.GraphID] = cloneSnapshot(snap)
	}
	return s, nil
}

func (s *GraphStore) PersistGraph(ctx context.Context, snap domain.GraphSnapshot) error {
	if snap.GraphID == "" {
		return domain.Invalid("graphId", "required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graphs[snap.GraphID] = cloneSnapshot(snap)
	return nil
}

func (s *GraphStore) LoadGraph(ctx context.Context, graphID string) (*domain.GraphSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.graphs[graphID]
	if !ok {
		return nil, domain.NotFound("graph", graphID)
	}
	out := cloneSnapshot(snap)
	return &out, nil
}

func (s *GraphStore) UpdateNodes(ctx context.Context, graphID string, nodes []domain.GraphNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.graphs[graphID]
	snap.GraphID = graphID
	snap.UpsertNodes(nodes)
	s.graphs[graphID] = cloneSnapshot(snap)
	return nil
}

func (s *GraphStore) UpdateEdges(ctx context.Context, graphID string, edges []domain.GraphEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.graphs[graphID]
	snap.GraphID = graphID
	snap.UpsertEdges(edges)
	s.graphs[graphID] = cloneSnapshot(snap)
	return nil
}

// RemoveNode drops a node and its edges. Missing graphs and nodes are ignored.
func (s *GraphStore) RemoveNode(ctx context.Context, graphID, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.graphs[graphID]
	if !ok {
		return nil
	}
	snap = cloneSnapshot(snap)
	snap.RemoveNode(nodeID)
	s.graphs[graphID] = snap
	return nil
}

func (s *GraphStore) PersistCrossGraphEdges(ctx context.Context, edges []domain.CrossGraphEdge) error {
	for _, e := range edges {
		if err := e.Validate(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range edges {
		e.Metadata = domain.CopyMap(e.Metadata)
		s.cross[e.ID] = e
	}
	return nil
}

func (s *GraphStore) DeleteCrossGraphEdges(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.cross, id)
	}
	return nil
}

func (s *GraphStore) QueryCrossGraphEdges(ctx context.Context, criteria domain.EdgeCriteria) ([]domain.CrossGraphEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.CrossGraphEdge{}
	for _, e := range s.cross {
		if criteria.Matches(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// cloneSnapshot copies node and edge slices so stored snapshots never alias
// caller memory. Data maps are copied one level deep.
func cloneSnapshot(in domain.GraphSnapshot) domain.GraphSnapshot {
	out := in
	out.Metadata = domain.CopyMap(in.Metadata)
	out.Nodes = make([]domain.GraphNode, len(in.Nodes))
	for i, n := range in.Nodes {
		n.Data = domain.CopyMap(n.Data)
		out.Nodes[i] = n
	}
	out.Edges = make([]domain.GraphEdge, len(in.Edges))
	for i, e := range in.Edges {
		e.Data = domain.CopyMap(e.Data)
		out.Edges[i] = e
	}
	return out
}
