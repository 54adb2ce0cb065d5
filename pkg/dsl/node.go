package dsl

import (
	"context"

	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/ports"
)

// NodeBuilder provides a fluent API for configuring a node.
type NodeBuilder struct {
	node    domain.GraphNode
	edges   []domain.GraphEdge
	builder *Builder
}

// Type sets the entity type of the node.
func (n *NodeBuilder) Type(t string) *NodeBuilder {
	n.node.Type = t
	return n
}

// Set stores a data field on the node.
func (n *NodeBuilder) Set(key string, value any) *NodeBuilder {
	if n.node.Data == nil {
		n.node.Data = make(map[string]any)
	}
	n.node.Data[key] = value
	return n
}

// Data merges fields into the node data.
func (n *NodeBuilder) Data(fields map[string]any) *NodeBuilder {
	for k, v := range fields {
		n.Set(k, v)
	}
	return n
}

// Link adds an edge from this node to target. The edge id is derived from
// both endpoints and the type.
func (n *NodeBuilder) Link(target, edgeType string) *NodeBuilder {
	n.edges = append(n.edges, domain.GraphEdge{
		ID:     n.node.ID + "->" + target + ":" + edgeType,
		Source: n.node.ID,
		Target: target,
		Type:   edgeType,
	})
	return n
}

// Add starts the next node (fluent chaining back to the builder).
func (n *NodeBuilder) Add(id string) *NodeBuilder {
	return n.builder.Add(id)
}

// Build is a shortcut for the parent builder's Build.
func (n *NodeBuilder) Build() (domain.GraphSnapshot, error) {
	return n.builder.Build()
}

// Persist is a shortcut for the parent builder's Persist.
func (n *NodeBuilder) Persist(ctx context.Context, store ports.GraphStore) error {
	return n.builder.Persist(ctx, store)
}
