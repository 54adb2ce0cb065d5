package domain_test

import (
	"testing"

	"github.com/aretw0/lattice/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCrossGraphEdge_Validate(t *testing.T) {
	valid := domain.CrossGraphEdge{
		ID: "e1", SourceGraph: domain.GraphDomain, SourceNode: "user",
		TargetGraph: domain.GraphComponent, TargetNode: "avatar", EdgeType: "renders",
	}
	require.NoError(t, valid.Validate())

	bad := valid
	bad.TargetGraph = "layout"
	assert.ErrorIs(t, bad.Validate(), domain.ErrValidation)

	bad = valid
	bad.EdgeType = ""
	assert.ErrorIs(t, bad.Validate(), domain.ErrValidation)
}

func TestEdgeCriteria_Matches(t *testing.T) {
	e := domain.CrossGraphEdge{
		ID: "e1", SourceGraph: domain.GraphIntent, SourceNode: "save",
		TargetGraph: domain.GraphComponent, TargetNode: "button", EdgeType: "triggers",
	}

	assert.True(t, domain.EdgeCriteria{}.Matches(e))
	assert.True(t, domain.EdgeCriteria{SourceNode: "save", EdgeType: "triggers"}.Matches(e))
	assert.False(t, domain.EdgeCriteria{SourceNode: "save", TargetGraph: domain.GraphDomain}.Matches(e))
}

func TestGraphSnapshot_Upsert(t *testing.T) {
	g := &domain.GraphSnapshot{GraphID: "g"}
	g.UpsertNodes([]domain.GraphNode{{ID: "a"}, {ID: "b"}})
	g.UpsertNodes([]domain.GraphNode{{ID: "a", Type: "card"}})
	g.UpsertEdges([]domain.GraphEdge{{ID: "ab", Source: "a", Target: "b"}})

	require.Len(t, g.Nodes, 2)
	assert.Equal(t, "card", g.Nodes[0].Type)

	assert.True(t, g.RemoveNode("b"))
	assert.Len(t, g.Nodes, 1)
	assert.Empty(t, g.Edges)
	assert.False(t, g.RemoveNode("b"))
}
