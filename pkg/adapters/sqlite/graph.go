package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aretw0/lattice/pkg/domain"
)

func (s *Store) PersistGraph(ctx context.Context, snap domain.GraphSnapshot) error {
	if snap.GraphID == "" {
		return domain.Invalid("graphId", "required")
	}
	return s.putGraph(ctx, s.db, snap)
}

func (s *Store) LoadGraph(ctx context.Context, graphID string) (*domain.GraphSnapshot, error) {
	return s.getGraph(ctx, s.db, graphID)
}

func (s *Store) UpdateNodes(ctx context.Context, graphID string, nodes []domain.GraphNode) error {
	return s.modifyGraph(ctx, graphID, true, func(g *domain.GraphSnapshot) bool {
		g.UpsertNodes(nodes)
		return true
	})
}

func (s *Store) UpdateEdges(ctx context.Context, graphID string, edges []domain.GraphEdge) error {
	return s.modifyGraph(ctx, graphID, true, func(g *domain.GraphSnapshot) bool {
		g.UpsertEdges(edges)
		return true
	})
}

// RemoveNode drops a node and its edges. Missing graphs and nodes are ignored.
func (s *Store) RemoveNode(ctx context.Context, graphID, nodeID string) error {
	return s.modifyGraph(ctx, graphID, false, func(g *domain.GraphSnapshot) bool {
		return g.RemoveNode(nodeID)
	})
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) getGraph(ctx context.Context, q querier, graphID string) (*domain.GraphSnapshot, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT snapshot FROM graphs WHERE id = ?`, graphID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound("graph", graphID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load graph %s: %w", graphID, err)
	}
	var snap domain.GraphSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal graph %s: %w", graphID, err)
	}
	return &snap, nil
}

func (s *Store) putGraph(ctx context.Context, q querier, snap domain.GraphSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal graph: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO graphs (id, snapshot) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET snapshot = excluded.snapshot`,
		snap.GraphID, string(raw))
	if err != nil {
		return fmt.Errorf("failed to save graph %s: %w", snap.GraphID, err)
	}
	return nil
}

func (s *Store) modifyGraph(ctx context.Context, graphID string, create bool, fn func(*domain.GraphSnapshot) bool) error {
	if graphID == "" {
		return domain.Invalid("graphId", "required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	snap, err := s.getGraph(ctx, tx, graphID)
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
	if err := s.putGraph(ctx, tx, *snap); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) PersistCrossGraphEdges(ctx context.Context, edges []domain.CrossGraphEdge) error {
	for _, e := range edges {
		if err := e.Validate(); err != nil {
			return err
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cross_edges (id, source_graph, source_node, target_graph, target_node, edge_type, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_graph = excluded.source_graph,
			source_node = excluded.source_node,
			target_graph = excluded.target_graph,
			target_node = excluded.target_node,
			edge_type = excluded.edge_type,
			metadata = excluded.metadata`)
	if err != nil {
		return fmt.Errorf("failed to prepare edge upsert: %w", err)
	}
	defer stmt.Close()

	for _, e := range edges {
		var meta sql.NullString
		if e.Metadata != nil {
			raw, err := json.Marshal(e.Metadata)
			if err != nil {
				return fmt.Errorf("failed to marshal metadata of edge %s: %w", e.ID, err)
			}
			meta = sql.NullString{String: string(raw), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, e.ID, string(e.SourceGraph), e.SourceNode,
			string(e.TargetGraph), e.TargetNode, e.EdgeType, meta); err != nil {
			return fmt.Errorf("failed to save edge %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) DeleteCrossGraphEdges(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	marks := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cross_edges WHERE id IN (`+marks+`)`, args...); err != nil {
		return fmt.Errorf("failed to delete cross-graph edges: %w", err)
	}
	return nil
}

// QueryCrossGraphEdges pushes every set criterion into the WHERE clause.
func (s *Store) QueryCrossGraphEdges(ctx context.Context, criteria domain.EdgeCriteria) ([]domain.CrossGraphEdge, error) {
	var (
		where []string
		args  []any
	)
	add := func(col, val string) {
		if val != "" {
			where = append(where, col+" = ?")
			args = append(args, val)
		}
	}
	add("source_graph", string(criteria.SourceGraph))
	add("source_node", criteria.SourceNode)
	add("target_graph", string(criteria.TargetGraph))
	add("target_node", criteria.TargetNode)
	add("edge_type", criteria.EdgeType)

	query := `SELECT id, source_graph, source_node, target_graph, target_node, edge_type, metadata FROM cross_edges`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cross-graph edges: %w", err)
	}
	defer rows.Close()

	out := []domain.CrossGraphEdge{}
	for rows.Next() {
		var (
			e                  domain.CrossGraphEdge
			srcGraph, tgtGraph string
			meta               sql.NullString
		)
		if err := rows.Scan(&e.ID, &srcGraph, &e.SourceNode, &tgtGraph, &e.TargetNode, &e.EdgeType, &meta); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		e.SourceGraph = domain.GraphType(srcGraph)
		e.TargetGraph = domain.GraphType(tgtGraph)
		if meta.Valid {
			if err := json.Unmarshal([]byte(meta.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata of edge %s: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
