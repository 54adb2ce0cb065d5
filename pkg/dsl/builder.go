package dsl

import (
	"context"
	"fmt"

	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/ports"
)

// Builder manages the graph construction.
type Builder struct {
	graphID string
	order   []string
	nodes   map[string]*NodeBuilder
	meta    map[string]any
}

// New creates a builder for the graph with the given id.
func New(graphID string) *Builder {
	return &Builder{
		graphID: graphID,
		nodes:   make(map[string]*NodeBuilder),
	}
}

// Add starts a node. If the node already exists, it returns the existing builder.
func (b *Builder) Add(id string) *NodeBuilder {
	if nb, ok := b.nodes[id]; ok {
		return nb
	}
	nb := &NodeBuilder{node: domain.GraphNode{ID: id}, builder: b}
	b.nodes[id] = nb
	b.order = append(b.order, id)
	return nb
}

// Meta sets a graph-level metadata entry.
func (b *Builder) Meta(key string, value any) *Builder {
	if b.meta == nil {
		b.meta = make(map[string]any)
	}
	b.meta[key] = value
	return b
}

// Build returns the snapshot. Nodes keep the order they were added in, and
// every edge must point at a node of the same builder.
func (b *Builder) Build() (domain.GraphSnapshot, error) {
	if b.graphID == "" {
		return domain.GraphSnapshot{}, domain.Invalid("graphId", "required")
	}
	snap := domain.GraphSnapshot{
		GraphID:  b.graphID,
		Nodes:    make([]domain.GraphNode, 0, len(b.order)),
		Edges:    []domain.GraphEdge{},
		Metadata: b.meta,
	}
	for _, id := range b.order {
		nb := b.nodes[id]
		snap.Nodes = append(snap.Nodes, nb.node)
		for _, e := range nb.edges {
			if _, ok := b.nodes[e.Target]; !ok {
				return domain.GraphSnapshot{}, fmt.Errorf("edge %q from %q: %w", e.ID, id, domain.Invalid("target", "unknown node "+e.Target))
			}
			snap.Edges = append(snap.Edges, e)
		}
	}
	return snap, nil
}

// Persist builds the snapshot and writes it to store.
func (b *Builder) Persist(ctx context.Context, store ports.GraphStore) error {
	snap, err := b.Build()
	if err != nil {
		return err
	}
	return store.PersistGraph(ctx, snap)
}
