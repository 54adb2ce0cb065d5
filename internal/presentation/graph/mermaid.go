package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/lattice/pkg/domain"
)

// Overlay lists nodes to highlight, as "<graph>:<node>" keys or bare node ids.
type Overlay struct {
	Changed     []string
	Invalidated []string
}

var graphOrder = []domain.GraphType{domain.GraphDomain, domain.GraphIntent, domain.GraphComponent}

// GenerateMermaid produces a Mermaid flowchart of cross-graph edges with one
// subgraph per graph type. Shapes follow the graph:
// - Domain: [Rectangle]
// - Intent: [/Parallelogram/]
// - Component: [[Subroutine]]
// Edges between different graphs are solid; edges inside one graph are dotted.
func GenerateMermaid(edges []domain.CrossGraphEdge, overlay *Overlay) string {
	nodes := make(map[domain.GraphType]map[string]struct{})
	add := func(g domain.GraphType, n string) {
		if nodes[g] == nil {
			nodes[g] = make(map[string]struct{})
		}
		nodes[g][n] = struct{}{}
	}
	for _, e := range edges {
		add(e.SourceGraph, e.SourceNode)
		add(e.TargetGraph, e.TargetNode)
	}

	var sb strings.Builder
	sb.WriteString("graph LR\n")

	for _, g := range graphOrder {
		ids := sortedKeys(nodes[g])
		if len(ids) == 0 {
			continue
		}
		opener, closer := "[", "]"
		switch g {
		case domain.GraphIntent:
			opener, closer = "[/", "/]"
		case domain.GraphComponent:
			opener, closer = "[[", "]]"
		}
		fmt.Fprintf(&sb, "    subgraph %s\n", g)
		for _, id := range ids {
			fmt.Fprintf(&sb, "        %s%s\"%s\"%s\n", nodeID(g, id), opener, escape(id), closer)
		}
		sb.WriteString("    end\n")
	}

	sorted := make([]domain.CrossGraphEdge, len(edges))
	copy(sorted, edges)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	for _, e := range sorted {
		from, to := nodeID(e.SourceGraph, e.SourceNode), nodeID(e.TargetGraph, e.TargetNode)
		label := escape(e.EdgeType)
		if e.SourceGraph == e.TargetGraph {
			fmt.Fprintf(&sb, "    %s -. \"%s\" .-> %s\n", from, label, to)
		} else {
			fmt.Fprintf(&sb, "    %s -- \"%s\" --> %s\n", from, label, to)
		}
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for high-contrast on light backgrounds, regardless of theme (Light/Dark)
		sb.WriteString("    classDef invalidated fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef changed fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")
		for _, id := range resolve(nodes, overlay.Invalidated) {
			fmt.Fprintf(&sb, "    class %s invalidated;\n", id)
		}
		for _, id := range resolve(nodes, overlay.Changed) {
			fmt.Fprintf(&sb, "    class %s changed;\n", id)
		}
	}

	return sb.String()
}

// resolve maps overlay keys to rendered node ids, skipping nodes not on the chart.
func resolve(nodes map[domain.GraphType]map[string]struct{}, keys []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, key := range keys {
		graph, node, qualified := strings.Cut(key, ":")
		for _, g := range graphOrder {
			if qualified && domain.GraphType(graph) != g {
				continue
			}
			name := key
			if qualified {
				name = node
			}
			if _, ok := nodes[g][name]; !ok {
				continue
			}
			id := nodeID(g, name)
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

func nodeID(g domain.GraphType, node string) string {
	return sanitizeMermaidID(string(g) + "_" + node)
}

func escape(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, ":", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
