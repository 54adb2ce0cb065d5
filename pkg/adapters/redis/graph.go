package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/ports"
	backend "github.com/redis/go-redis/v9"
)

// ErrContention is returned when an optimistic graph update keeps losing
// WATCH races to other writers.
var ErrContention = errors.New("graph update contention")

const maxTxRetries = 10

var _ ports.GraphStore = (*GraphStore)(nil)

// GraphStore implements ports.GraphStore using Redis.
// Each graph is a JSON string; cross-graph edges live in one hash keyed by edge id.
// Node and edge upserts are read-modify-write under WATCH/MULTI.
type GraphStore struct {
	client *backend.Client
	prefix string
}

// NewGraphStore creates a GraphStore using an existing client.
func NewGraphStore(client *backend.Client, opts ...Option) *GraphStore {
	o := applyOptions(opts)
	return &GraphStore{client: client, prefix: o.prefix}
}

func (s *GraphStore) key(graphID string) string {
	return s.prefix + "graph:" + graphID
}

func (s *GraphStore) crossKey() string {
	return s.prefix + "cross-edges"
}

func (s *GraphStore) PersistGraph(ctx context.Context, snap domain.GraphSnapshot) error {
	if snap.GraphID == "" {
		return domain.Invalid("graphId", "required")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal graph: %w", err)
	}
	if err := s.client.Set(ctx, s.key(snap.GraphID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save graph to redis: %w", err)
	}
	return nil
}

func (s *GraphStore) LoadGraph(ctx context.Context, graphID string) (*domain.GraphSnapshot, error) {
	return s.get(ctx, s.client, graphID)
}

type getter interface {
	Get(ctx context.Context, key string) *backend.StringCmd
}

func (s *GraphStore) get(ctx context.Context, c getter, graphID string) (*domain.GraphSnapshot, error) {
	val, err := c.Get(ctx, s.key(graphID)).Result()
	if err == backend.Nil {
		return nil, domain.NotFound("graph", graphID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load graph from redis: %w", err)
	}
	var snap domain.GraphSnapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal graph: %w", err)
	}
	return &snap, nil
}

func (s *GraphStore) UpdateNodes(ctx context.Context, graphID string, nodes []domain.GraphNode) error {
	return s.modify(ctx, graphID, true, func(g *domain.GraphSnapshot) bool {
		g.UpsertNodes(nodes)
		return true
	})
}

func (s *GraphStore) UpdateEdges(ctx context.Context, graphID string, edges []domain.GraphEdge) error {
	return s.modify(ctx, graphID, true, func(g *domain.GraphSnapshot) bool {
		g.UpsertEdges(edges)
		return true
	})
}

// RemoveNode drops a node and its edges. Missing graphs and nodes are ignored.
func (s *GraphStore) RemoveNode(ctx context.Context, graphID, nodeID string) error {
	return s.modify(ctx, graphID, false, func(g *domain.GraphSnapshot) bool {
		return g.RemoveNode(nodeID)
	})
}

// modify applies fn under an optimistic transaction. When create is false a
// missing graph is left alone. fn reports whether anything changed.
func (s *GraphStore) modify(ctx context.Context, graphID string, create bool, fn func(*domain.GraphSnapshot) bool) error {
	if graphID == "" {
		return domain.Invalid("graphId", "required")
	}
	key := s.key(graphID)

	txf := func(tx *backend.Tx) error {
		snap, err := s.get(ctx, tx, graphID)
		if err != nil {
			if !errors.Is(err, domain.ErrGraphNotFound) {
				return err
			}
			if !create {
				return nil
			}
			snap = &domain.GraphSnapshot{GraphID: graphID}
		}
		if !fn(snap) {
			return nil
		}
		data, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("failed to marshal graph: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err != backend.TxFailedErr {
			return err
		}
	}
	return fmt.Errorf("graph %s: %w", graphID, ErrContention)
}

func (s *GraphStore) PersistCrossGraphEdges(ctx context.Context, edges []domain.CrossGraphEdge) error {
	if len(edges) == 0 {
		return nil
	}
	values := make([]any, 0, len(edges)*2)
	for _, e := range edges {
		if err := e.Validate(); err != nil {
			return err
		}
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal edge %s: %w", e.ID, err)
		}
		values = append(values, e.ID, data)
	}
	if err := s.client.HSet(ctx, s.crossKey(), values...).Err(); err != nil {
		return fmt.Errorf("failed to save cross-graph edges to redis: %w", err)
	}
	return nil
}

func (s *GraphStore) DeleteCrossGraphEdges(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.client.HDel(ctx, s.crossKey(), ids...).Err(); err != nil {
		return fmt.Errorf("failed to delete cross-graph edges from redis: %w", err)
	}
	return nil
}

func (s *GraphStore) QueryCrossGraphEdges(ctx context.Context, criteria domain.EdgeCriteria) ([]domain.CrossGraphEdge, error) {
	all, err := s.client.HGetAll(ctx, s.crossKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load cross-graph edges from redis: %w", err)
	}
	out := []domain.CrossGraphEdge{}
	for id, raw := range all {
		var e domain.CrossGraphEdge
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal edge %s: %w", id, err)
		}
		if criteria.Matches(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
