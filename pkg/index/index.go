package index

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/aretw0/lattice/internal/logging"
	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/observability"
)

// SnapshotVersion is written into every serialized snapshot.
const SnapshotVersion = 1

// DefaultQueryBudget is the duration above which a query is logged as slow.
const DefaultQueryBudget = 5 * time.Millisecond

// Snapshot is the serialized form of an index.
type Snapshot struct {
	Version   int                     `json:"version"`
	Edges     []domain.CrossGraphEdge `json:"edges"`
	Timestamp int64                   `json:"timestamp"`
}

// Stats counts edges per bucket.
type Stats struct {
	Edges       int            `json:"edges"`
	SourceNodes int            `json:"sourceNodes"`
	TargetNodes int            `json:"targetNodes"`
	ByType      map[string]int `json:"byType"`
	GraphPairs  map[string]int `json:"graphPairs"`
}

type graphPair struct {
	source, target domain.GraphType
}

func (p graphPair) String() string {
	return string(p.source) + "->" + string(p.target)
}

type bucket map[string]map[string]struct{}

func (b bucket) add(key, id string) {
	set, ok := b[key]
	if !ok {
		set = make(map[string]struct{})
		b[key] = set
	}
	set[id] = struct{}{}
}

func (b bucket) remove(key, id string) {
	set, ok := b[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(b, key)
	}
}

// Index stores cross-graph edges by id with secondary buckets for source node,
// target node, edge type and graph pair. Every bucket entry references an id
// present in the primary map. It is not safe for concurrent use.
type Index struct {
	edges    map[string]domain.CrossGraphEdge
	bySource bucket
	byTarget bucket
	byType   bucket
	byPair   map[graphPair]map[string]struct{}

	budget  time.Duration
	now     func() time.Time
	logger  *slog.Logger
	metrics *observability.Metrics
}

// Option configures an Index.
type Option func(*Index)

// WithQueryBudget sets the slow-query threshold.
func WithQueryBudget(d time.Duration) Option {
	return func(ix *Index) {
		if d > 0 {
			ix.budget = d
		}
	}
}

// WithLogger configures a logger for slow-query warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(ix *Index) {
		ix.logger = logger
	}
}

// WithMetrics records query counts and durations.
func WithMetrics(m *observability.Metrics) Option {
	return func(ix *Index) {
		ix.metrics = m
	}
}

// WithClock overrides the time source used for snapshots and query timing.
func WithClock(now func() time.Time) Option {
	return func(ix *Index) {
		ix.now = now
	}
}

// New creates an empty index.
func New(opts ...Option) *Index {
	ix := &Index{
		budget: DefaultQueryBudget,
		now:    time.Now,
		logger: logging.NewNop(),
	}
	ix.reset()
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

func (ix *Index) reset() {
	ix.edges = make(map[string]domain.CrossGraphEdge)
	ix.bySource = make(bucket)
	ix.byTarget = make(bucket)
	ix.byType = make(bucket)
	ix.byPair = make(map[graphPair]map[string]struct{})
}

// AddEdge inserts or replaces an edge. Replacing removes the previous version
// from every bucket before reinserting.
func (ix *Index) AddEdge(edge domain.CrossGraphEdge) error {
	if err := edge.Validate(); err != nil {
		return err
	}
	if old, ok := ix.edges[edge.ID]; ok {
		ix.unindex(old)
	}
	edge.Metadata = domain.CopyMap(edge.Metadata)
	ix.edges[edge.ID] = edge
	ix.insert(edge)
	ix.metrics.SetIndexEdges(len(ix.edges))
	return nil
}

// AddEdges inserts every edge, stopping at the first invalid one.
func (ix *Index) AddEdges(edges []domain.CrossGraphEdge) error {
	for _, e := range edges {
		if err := ix.AddEdge(e); err != nil {
			return fmt.Errorf("edge %q: %w", e.ID, err)
		}
	}
	return nil
}

// RemoveEdge deletes an edge. It reports whether the edge existed.
func (ix *Index) RemoveEdge(id string) bool {
	edge, ok := ix.edges[id]
	if !ok {
		return false
	}
	ix.unindex(edge)
	delete(ix.edges, id)
	ix.metrics.SetIndexEdges(len(ix.edges))
	return true
}

// GetEdge returns the edge with the given id.
func (ix *Index) GetEdge(id string) (domain.CrossGraphEdge, bool) {
	e, ok := ix.edges[id]
	if !ok {
		return domain.CrossGraphEdge{}, false
	}
	return detached(e), true
}

// Size returns the number of edges.
func (ix *Index) Size() int {
	return len(ix.edges)
}

// Query returns the edges matching every set field of c, sorted by id.
// Candidates come from the most selective bucket available: source node,
// then target node, then edge type, then graph pair when both graphs are set.
// Without any of those it scans every edge.
func (ix *Index) Query(c domain.EdgeCriteria) []domain.CrossGraphEdge {
	start := ix.now()

	plan, candidates := ix.plan(c)
	out := make([]domain.CrossGraphEdge, 0, len(candidates))
	for id := range candidates {
		e := ix.edges[id]
		if c.Matches(e) {
			out = append(out, detached(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	elapsed := ix.now().Sub(start)
	slow := elapsed > ix.budget
	if slow {
		ix.logger.Warn("slow cross-graph query",
			"plan", plan,
			"duration", elapsed,
			"budget", ix.budget,
			"results", len(out),
		)
	}
	ix.metrics.IndexQuery(plan, elapsed, slow)
	return out
}

func (ix *Index) plan(c domain.EdgeCriteria) (string, map[string]struct{}) {
	switch {
	case c.SourceNode != "":
		return "source", ix.bySource[c.SourceNode]
	case c.TargetNode != "":
		return "target", ix.byTarget[c.TargetNode]
	case c.EdgeType != "":
		return "type", ix.byType[c.EdgeType]
	case c.SourceGraph != "" && c.TargetGraph != "":
		return "graph_pair", ix.byPair[graphPair{c.SourceGraph, c.TargetGraph}]
	}
	all := make(map[string]struct{}, len(ix.edges))
	for id := range ix.edges {
		all[id] = struct{}{}
	}
	return "scan", all
}

// Outgoing returns every edge leaving node.
func (ix *Index) Outgoing(node string) []domain.CrossGraphEdge {
	return ix.Query(domain.EdgeCriteria{SourceNode: node})
}

// Incoming returns every edge entering node.
func (ix *Index) Incoming(node string) []domain.CrossGraphEdge {
	return ix.Query(domain.EdgeCriteria{TargetNode: node})
}

// ByType returns every edge of the given type.
func (ix *Index) ByType(edgeType string) []domain.CrossGraphEdge {
	return ix.Query(domain.EdgeCriteria{EdgeType: edgeType})
}

// Between returns every edge from one graph namespace to another.
func (ix *Index) Between(source, target domain.GraphType) []domain.CrossGraphEdge {
	return ix.Query(domain.EdgeCriteria{SourceGraph: source, TargetGraph: target})
}

// Edges returns every edge sorted by id.
func (ix *Index) Edges() []domain.CrossGraphEdge {
	out := make([]domain.CrossGraphEdge, 0, len(ix.edges))
	for _, e := range ix.edges {
		out = append(out, detached(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats counts edges per bucket.
func (ix *Index) Stats() Stats {
	s := Stats{
		Edges:       len(ix.edges),
		SourceNodes: len(ix.bySource),
		TargetNodes: len(ix.byTarget),
		ByType:      make(map[string]int, len(ix.byType)),
		GraphPairs:  make(map[string]int, len(ix.byPair)),
	}
	for t, set := range ix.byType {
		s.ByType[t] = len(set)
	}
	for p, set := range ix.byPair {
		s.GraphPairs[p.String()] = len(set)
	}
	return s
}

// Clear removes every edge.
func (ix *Index) Clear() {
	ix.reset()
	ix.metrics.SetIndexEdges(0)
}

// Snapshot captures the current edges.
func (ix *Index) Snapshot() Snapshot {
	return Snapshot{
		Version:   SnapshotVersion,
		Edges:     ix.Edges(),
		Timestamp: ix.now().UnixMilli(),
	}
}

// ToJSON serializes the index as {version, edges, timestamp}.
func (ix *Index) ToJSON() ([]byte, error) {
	return json.Marshal(ix.Snapshot())
}

// FromJSON replaces the contents of the index with a serialized snapshot.
// On any error the index is left unchanged.
func (ix *Index) FromJSON(data []byte) error {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode index snapshot: %w", err)
	}
	return ix.Restore(snap)
}

// Restore replaces the contents of the index with snap. Every edge is
// validated before anything is replaced.
func (ix *Index) Restore(snap Snapshot) error {
	if snap.Version > SnapshotVersion {
		return domain.Invalid("version", fmt.Sprintf("unsupported snapshot version %d", snap.Version))
	}
	staged := New(WithQueryBudget(ix.budget), WithClock(ix.now))
	if err := staged.AddEdges(snap.Edges); err != nil {
		return err
	}
	ix.edges = staged.edges
	ix.bySource = staged.bySource
	ix.byTarget = staged.byTarget
	ix.byType = staged.byType
	ix.byPair = staged.byPair
	ix.metrics.SetIndexEdges(len(ix.edges))
	return nil
}

// detached returns e with its own copy of the metadata so callers cannot
// reach the stored map.
func detached(e domain.CrossGraphEdge) domain.CrossGraphEdge {
	e.Metadata = domain.CopyMap(e.Metadata)
	return e
}

func (ix *Index) insert(e domain.CrossGraphEdge) {
	ix.bySource.add(e.SourceNode, e.ID)
	ix.byTarget.add(e.TargetNode, e.ID)
	ix.byType.add(e.EdgeType, e.ID)
	p := graphPair{e.SourceGraph, e.TargetGraph}
	set, ok := ix.byPair[p]
	if !ok {
		set = make(map[string]struct{})
		ix.byPair[p] = set
	}
	set[e.ID] = struct{}{}
}

func (ix *Index) unindex(e domain.CrossGraphEdge) {
	ix.bySource.remove(e.SourceNode, e.ID)
	ix.byTarget.remove(e.TargetNode, e.ID)
	ix.byType.remove(e.EdgeType, e.ID)
	p := graphPair{e.SourceGraph, e.TargetGraph}
	if set, ok := ix.byPair[p]; ok {
		delete(set, e.ID)
		if len(set) == 0 {
			delete(ix.byPair, p)
		}
	}
}
