package graph_test

import (
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"

	"github.com/aretw0/lattice/internal/presentation/graph"
	"github.com/aretw0/lattice/pkg/domain"
)

func edge(id string, sg domain.GraphType, sn string, tg domain.GraphType, tn, typ string) domain.CrossGraphEdge {
	return domain.CrossGraphEdge{ID: id, SourceGraph: sg, SourceNode: sn, TargetGraph: tg, TargetNode: tn, EdgeType: typ}
}

func TestGenerateMermaid(t *testing.T) {
	tests := []struct {
		name     string
		edges    []domain.CrossGraphEdge
		contains []string
	}{
		{
			name:  "Shapes Per Graph",
			edges: []domain.CrossGraphEdge{edge("e1", domain.GraphIntent, "save", domain.GraphComponent, "button", "triggers")},
			contains: []string{
				"subgraph intent",
				"intent_save[/\"save\"/]",
				"subgraph component",
				"component_button[[\"button\"]]",
				`intent_save -- "triggers" --> component_button`,
			},
		},
		{
			name:  "ID Sanitization",
			edges: []domain.CrossGraphEdge{edge("e1", domain.GraphDomain, "path/to/doc.md", domain.GraphDomain, "hyphen-ated", "links")},
			contains: []string{
				"domain_path_to_doc_md[\"path/to/doc.md\"]",
				"domain_hyphen_ated[\"hyphen-ated\"]",
			},
		},
		{
			name:  "Same Graph Edges Are Dotted",
			edges: []domain.CrossGraphEdge{edge("e1", domain.GraphDomain, "a", domain.GraphDomain, "b", `has "many"`)},
			contains: []string{
				`domain_a -. "has 'many'" .-> domain_b`,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := graph.GenerateMermaid(tt.edges, nil)
			for _, want := range tt.contains {
				assert.Contains(t, got, want)
			}
			assert.NotContains(t, got, "classDef")
		})
	}
}

func TestGenerateMermaid_Overlay(t *testing.T) {
	edges := []domain.CrossGraphEdge{
		edge("e1", domain.GraphIntent, "save", domain.GraphDomain, "doc", "updates"),
		edge("e2", domain.GraphComponent, "editor", domain.GraphDomain, "doc", "renders"),
	}
	got := graph.GenerateMermaid(edges, &graph.Overlay{
		Changed:     []string{"domain:doc"},
		Invalidated: []string{"editor", "editor", "missing"},
	})

	assert.Contains(t, got, "class domain_doc changed;")
	assert.Equal(t, 1, strings.Count(got, "class component_editor invalidated;"))
	assert.NotContains(t, got, "missing")
}

func TestGenerateMermaid_SubgraphOrderIsStable(t *testing.T) {
	edges := []domain.CrossGraphEdge{
		edge("b", domain.GraphComponent, "c", domain.GraphIntent, "i", "x"),
		edge("a", domain.GraphIntent, "i", domain.GraphDomain, "d", "y"),
	}
	got := graph.GenerateMermaid(edges, nil)

	assert.Less(t, strings.Index(got, "subgraph domain"), strings.Index(got, "subgraph intent"))
	assert.Less(t, strings.Index(got, "subgraph intent"), strings.Index(got, "subgraph component"))
	assert.Less(t, strings.Index(got, `"y"`), strings.Index(got, `"x"`))
	assert.Equal(t, got, graph.GenerateMermaid(edges, nil))
}

func TestGenerateMermaid_Golden(t *testing.T) {
	edges := []domain.CrossGraphEdge{
		edge("e3", domain.GraphDomain, "cart", domain.GraphDomain, "user", "belongs to"),
		edge("e1", domain.GraphIntent, "checkout", domain.GraphDomain, "cart", "targets"),
		edge("e2", domain.GraphComponent, "cart-view", domain.GraphDomain, "cart", "renders"),
	}
	got := graph.GenerateMermaid(edges, &graph.Overlay{
		Changed:     []string{"intent:checkout"},
		Invalidated: []string{"domain:cart"},
	})

	// Regenerate with: go test ./internal/presentation/graph -update
	g := goldie.New(t, goldie.WithFixtureDir("testdata"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "checkout", []byte(got))
}
