// Package loam stores graph snapshots as documents of a Loam repository, so
// a versioned repository keeps the history of every persisted graph.
package loam

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/loam"

	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/ports"
)

var _ ports.GraphStore = (*GraphStore)(nil)

const (
	kindGraph = "graph"
	kindCross = "cross-edges"

	crossDocID = "cross-edges.json"
)

// Record is the document payload. Graph documents fill Graph; the single
// cross-edge document fills Edges.
type Record struct {
	Kind  string                           `json:"kind" mapstructure:"kind"`
	Graph *domain.GraphSnapshot            `json:"graph,omitempty" mapstructure:"graph"`
	Edges map[string]domain.CrossGraphEdge `json:"edges,omitempty" mapstructure:"edges"`
}

// GraphStore implements ports.GraphStore on top of a typed Loam repository.
//
// Lookups match on the record payload rather than on document ids, so the
// repository's id normalization does not matter.
type GraphStore struct {
	Repo *loam.TypedRepository[Record]

	mu sync.Mutex
}

// New wraps a typed repository.
func New(repo *loam.TypedRepository[Record]) *GraphStore {
	return &GraphStore{Repo: repo}
}

// Open initializes a repository at path. With versioning on, every save is
// recorded by the repository's version control.
func Open(path string, versioning bool) (*GraphStore, error) {
	repo, err := loam.Init(path, loam.WithVersioning(versioning), loam.WithForceTemp(false))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize loam: %w", err)
	}
	return New(loam.NewTypedRepository[Record](repo)), nil
}

func graphDocID(graphID string) string {
	return "graph-" + graphID + ".json"
}

func (s *GraphStore) PersistGraph(ctx context.Context, snap domain.GraphSnapshot) error {
	if snap.GraphID == "" {
		return domain.Invalid("graphId", "required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeGraph(ctx, snap)
}

func (s *GraphStore) LoadGraph(ctx context.Context, graphID string) (*domain.GraphSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.readGraph(ctx, graphID)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, domain.NotFound("graph", graphID)
	}
	return snap, nil
}

func (s *GraphStore) UpdateNodes(ctx context.Context, graphID string, nodes []domain.GraphNode) error {
	return s.modify(ctx, graphID, func(g *domain.GraphSnapshot) bool {
		g.UpsertNodes(nodes)
		return true
	})
}

func (s *GraphStore) UpdateEdges(ctx context.Context, graphID string, edges []domain.GraphEdge) error {
	return s.modify(ctx, graphID, func(g *domain.GraphSnapshot) bool {
		g.UpsertEdges(edges)
		return true
	})
}

// RemoveNode drops a node and its edges. Missing graphs and nodes are ignored.
func (s *GraphStore) RemoveNode(ctx context.Context, graphID, nodeID string) error {
	return s.modify(ctx, graphID, func(g *domain.GraphSnapshot) bool {
		return g.RemoveNode(nodeID)
	})
}

// modify applies fn to the stored graph, or to an empty one, and writes the
// result back when fn reports a change.
func (s *GraphStore) modify(ctx context.Context, graphID string, fn func(*domain.GraphSnapshot) bool) error {
	if graphID == "" {
		return domain.Invalid("graphId", "required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.readGraph(ctx, graphID)
	if err != nil {
		return err
	}
	if snap == nil {
		snap = &domain.GraphSnapshot{GraphID: graphID}
	}
	if !fn(snap) {
		return nil
	}
	return s.writeGraph(ctx, *snap)
}

func (s *GraphStore) PersistCrossGraphEdges(ctx context.Context, edges []domain.CrossGraphEdge) error {
	for _, e := range edges {
		if err := e.Validate(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.readCross(ctx)
	if err != nil {
		return err
	}
	for _, e := range edges {
		all[e.ID] = e
	}
	return s.writeCross(ctx, all)
}

func (s *GraphStore) DeleteCrossGraphEdges(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.readCross(ctx)
	if err != nil {
		return err
	}
	n := len(all)
	for _, id := range ids {
		delete(all, id)
	}
	if len(all) == n {
		return nil
	}
	return s.writeCross(ctx, all)
}

func (s *GraphStore) QueryCrossGraphEdges(ctx context.Context, criteria domain.EdgeCriteria) ([]domain.CrossGraphEdge, error) {
	s.mu.Lock()
	all, err := s.readCross(ctx)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := []domain.CrossGraphEdge{}
	for _, e := range all {
		if criteria.Matches(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// find returns the first record accepted by match, or nil.
func (s *GraphStore) find(ctx context.Context, match func(Record) bool) (*Record, error) {
	docs, err := s.Repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loam list failed: %w", err)
	}
	for _, doc := range docs {
		if match(doc.Data) {
			rec := doc.Data
			return &rec, nil
		}
	}
	return nil, nil
}

func (s *GraphStore) readGraph(ctx context.Context, graphID string) (*domain.GraphSnapshot, error) {
	rec, err := s.find(ctx, func(r Record) bool {
		return r.Kind == kindGraph && r.Graph != nil && r.Graph.GraphID == graphID
	})
	if err != nil || rec == nil {
		return nil, err
	}
	return rec.Graph, nil
}

func (s *GraphStore) writeGraph(ctx context.Context, snap domain.GraphSnapshot) error {
	err := s.Repo.Save(ctx, &loam.DocumentModel[Record]{
		ID:   graphDocID(snap.GraphID),
		Data: Record{Kind: kindGraph, Graph: &snap},
	})
	if err != nil {
		return fmt.Errorf("failed to save graph %s: %w", snap.GraphID, err)
	}
	return nil
}

func (s *GraphStore) readCross(ctx context.Context) (map[string]domain.CrossGraphEdge, error) {
	all := make(map[string]domain.CrossGraphEdge)
	rec, err := s.find(ctx, func(r Record) bool { return r.Kind == kindCross })
	if err != nil {
		return nil, fmt.Errorf("failed to load cross-graph edges: %w", err)
	}
	if rec != nil {
		for id, e := range rec.Edges {
			all[id] = e
		}
	}
	return all, nil
}

func (s *GraphStore) writeCross(ctx context.Context, all map[string]domain.CrossGraphEdge) error {
	err := s.Repo.Save(ctx, &loam.DocumentModel[Record]{
		ID:   crossDocID,
		Data: Record{Kind: kindCross, Edges: all},
	})
	if err != nil {
		return fmt.Errorf("failed to save cross-graph edges: %w", err)
	}
	return nil
}
