package domain

// GraphType is the namespace a cross-graph edge endpoint belongs to.
type GraphType string

const (
	GraphDomain    GraphType = "domain"
	GraphIntent    GraphType = "intent"
	GraphComponent GraphType = "component"
)

// Valid reports whether the graph type belongs to the fixed enumeration.
func (g GraphType) Valid() bool {
	switch g {
	case GraphDomain, GraphIntent, GraphComponent:
		return true
	}
	return false
}

// CrossGraphEdge is a typed relationship between nodes of two graph namespaces.
type CrossGraphEdge struct {
	ID          string         `json:"id"`
	SourceGraph GraphType      `json:"sourceGraph"`
	SourceNode  string         `json:"sourceNode"`
	TargetGraph GraphType      `json:"targetGraph"`
	TargetNode  string         `json:"targetNode"`
	EdgeType    string         `json:"edgeType"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Validate checks required fields and graph types.
func (e CrossGraphEdge) Validate() error {
	switch {
	case e.ID == "":
		return Invalid("id", "required")
	case e.SourceNode == "":
		return Invalid("sourceNode", "required")
	case e.TargetNode == "":
		return Invalid("targetNode", "required")
	case e.EdgeType == "":
		return Invalid("edgeType", "required")
	case !e.SourceGraph.Valid():
		return Invalid("sourceGraph", "unknown graph type "+string(e.SourceGraph))
	case !e.TargetGraph.Valid():
		return Invalid("targetGraph", "unknown graph type "+string(e.TargetGraph))
	}
	return nil
}

// EdgeCriteria selects cross-graph edges. Empty fields match anything.
type EdgeCriteria struct {
	SourceGraph GraphType `json:"sourceGraph,omitempty"`
	SourceNode  string    `json:"sourceNode,omitempty"`
	TargetGraph GraphType `json:"targetGraph,omitempty"`
	TargetNode  string    `json:"targetNode,omitempty"`
	EdgeType    string    `json:"edgeType,omitempty"`
}

// Matches reports whether the edge satisfies every set field.
func (c EdgeCriteria) Matches(e CrossGraphEdge) bool {
	if c.SourceGraph != "" && c.SourceGraph != e.SourceGraph {
		return false
	}
	if c.SourceNode != "" && c.SourceNode != e.SourceNode {
		return false
	}
	if c.TargetGraph != "" && c.TargetGraph != e.TargetGraph {
		return false
	}
	if c.TargetNode != "" && c.TargetNode != e.TargetNode {
		return false
	}
	if c.EdgeType != "" && c.EdgeType != e.EdgeType {
		return false
	}
	return true
}

// GraphNode is a node of a persisted graph.
type GraphNode struct {
	ID   string         `json:"id"`
	Type string         `json:"type,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// GraphEdge is an intra-graph edge of a persisted graph.
type GraphEdge struct {
	ID     string         `json:"id"`
	Source string         `json:"source"`
	Target string         `json:"target"`
	Type   string         `json:"type,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

// GraphSnapshot is the persisted shape of a graph.
type GraphSnapshot struct {
	GraphID  string         `json:"graphId"`
	Nodes    []GraphNode    `json:"nodes"`
	Edges    []GraphEdge    `json:"edges"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// UpsertNodes replaces nodes with matching ids and appends the rest.
func (g *GraphSnapshot) UpsertNodes(nodes []GraphNode) {
	pos := make(map[string]int, len(g.Nodes))
	for i, n := range g.Nodes {
		pos[n.ID] = i
	}
	for _, n := range nodes {
		if i, ok := pos[n.ID]; ok {
			g.Nodes[i] = n
			continue
		}
		pos[n.ID] = len(g.Nodes)
		g.Nodes = append(g.Nodes, n)
	}
}

// UpsertEdges replaces edges with matching ids and appends the rest.
func (g *GraphSnapshot) UpsertEdges(edges []GraphEdge) {
	pos := make(map[string]int, len(g.Edges))
	for i, e := range g.Edges {
		pos[e.ID] = i
	}
	for _, e := range edges {
		if i, ok := pos[e.ID]; ok {
			g.Edges[i] = e
			continue
		}
		pos[e.ID] = len(g.Edges)
		g.Edges = append(g.Edges, e)
	}
}

// RemoveNode drops a node and every edge touching it. It reports whether the node existed.
func (g *GraphSnapshot) RemoveNode(id string) bool {
	found := false
	nodes := g.Nodes[:0]
	for _, n := range g.Nodes {
		if n.ID == id {
			found = true
			continue
		}
		nodes = append(nodes, n)
	}
	g.Nodes = nodes

	edges := g.Edges[:0]
	for _, e := range g.Edges {
		if e.Source == id || e.Target == id {
			continue
		}
		edges = append(edges, e)
	}
	g.Edges = edges
	return found
}
