package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/ports"
)

var _ ports.GraphStore = (*GraphStore)(nil)

const crossEdgesFile = "cross-edges"

// GraphStore implements ports.GraphStore with one JSON file per graph and a
// single file holding every cross-graph edge.
//
// Read-modify-write updates are serialized within the process only; two
// processes sharing a directory must coordinate through a DistributedLocker.
type GraphStore struct {
	BasePath string

	mu sync.Mutex
}

// NewGraphStore creates a GraphStore rooted at basePath (DefaultPath if empty).
func NewGraphStore(basePath string) *GraphStore {
	if basePath == "" {
		basePath = DefaultPath
	}
	return &GraphStore{BasePath: basePath}
}

func (s *GraphStore) dir() string {
	return filepath.Join(s.BasePath, "graphs")
}

func (s *GraphStore) PersistGraph(ctx context.Context, snap domain.GraphSnapshot) error {
	if err := checkID("graphId", snap.GraphID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(snap)
}

func (s *GraphStore) LoadGraph(ctx context.Context, graphID string) (*domain.GraphSnapshot, error) {
	if err := checkID("graphId", graphID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.read(graphID)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *GraphStore) UpdateNodes(ctx context.Context, graphID string, nodes []domain.GraphNode) error {
	return s.modify(graphID, func(g *domain.GraphSnapshot) { g.UpsertNodes(nodes) })
}

func (s *GraphStore) UpdateEdges(ctx context.Context, graphID string, edges []domain.GraphEdge) error {
	return s.modify(graphID, func(g *domain.GraphSnapshot) { g.UpsertEdges(edges) })
}

// RemoveNode drops a node and its edges. Missing graphs and nodes are ignored.
func (s *GraphStore) RemoveNode(ctx context.Context, graphID, nodeID string) error {
	if err := checkID("graphId", graphID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.read(graphID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	if !snap.RemoveNode(nodeID) {
		return nil
	}
	return s.write(*snap)
}

func (s *GraphStore) modify(graphID string, fn func(*domain.GraphSnapshot)) error {
	if err := checkID("graphId", graphID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.read(graphID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		snap = &domain.GraphSnapshot{GraphID: graphID}
	}
	fn(snap)
	return s.write(*snap)
}

func (s *GraphStore) read(graphID string) (*domain.GraphSnapshot, error) {
	var snap domain.GraphSnapshot
	if err := readJSON(filepath.Join(s.dir(), graphID+".json"), &snap); err != nil {
		if os.IsNotExist(err) {
			return nil, domain.NotFound("graph", graphID)
		}
		return nil, fmt.Errorf("failed to load graph %s: %w", graphID, err)
	}
	return &snap, nil
}

func (s *GraphStore) write(snap domain.GraphSnapshot) error {
	if err := writeJSON(s.dir(), snap.GraphID, snap); err != nil {
		return fmt.Errorf("failed to save graph %s: %w", snap.GraphID, err)
	}
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
	all, err := s.readCross()
	if err != nil {
		return err
	}
	for _, e := range edges {
		all[e.ID] = e
	}
	if err := writeJSON(s.BasePath, crossEdgesFile, all); err != nil {
		return fmt.Errorf("failed to save cross-graph edges: %w", err)
	}
	return nil
}

func (s *GraphStore) DeleteCrossGraphEdges(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.readCross()
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
	if err := writeJSON(s.BasePath, crossEdgesFile, all); err != nil {
		return fmt.Errorf("failed to save cross-graph edges: %w", err)
	}
	return nil
}

func (s *GraphStore) QueryCrossGraphEdges(ctx context.Context, criteria domain.EdgeCriteria) ([]domain.CrossGraphEdge, error) {
	s.mu.Lock()
	all, err := s.readCross()
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

func (s *GraphStore) readCross() (map[string]domain.CrossGraphEdge, error) {
	all := make(map[string]domain.CrossGraphEdge)
	if err := readJSON(filepath.Join(s.BasePath, crossEdgesFile+".json"), &all); err != nil {
		if os.IsNotExist(err) {
			return all, nil
		}
		return nil, fmt.Errorf("failed to load cross-graph edges: %w", err)
	}
	return all, nil
}
