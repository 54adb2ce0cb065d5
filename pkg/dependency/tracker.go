// Package dependency tracks typed dependency relations between entity ids and
// computes transitive invalidation sets over them.
package dependency

import (
	"log/slog"
	"sort"
	"time"

	"github.com/aretw0/lattice/internal/logging"
	"github.com/aretw0/lattice/pkg/domain"
)

// DefaultMaxDepth bounds transitive walks when no option overrides it.
const DefaultMaxDepth = 50

// Relation declares that TargetID depends on SourceID through EdgeID,
// optionally scoped to one DataKey of the source.
type Relation struct {
	SourceID  string    `json:"sourceId"`
	TargetID  string    `json:"targetId"`
	EdgeID    string    `json:"edgeId"`
	DataKey   string    `json:"dataKey,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func (r Relation) key() relationKey {
	return relationKey{r.SourceID, r.TargetID, r.EdgeID, r.DataKey}
}

type relationKey struct {
	source, target, edge, dataKey string
}

type pair struct {
	source, target string
}

// Result is the outcome of a transitive walk from one source id.
type Result struct {
	Direct     []string `json:"direct"`
	Transitive []string `json:"transitive"`
	MaxDepth   int      `json:"maxDepth"`
	HasCycle   bool     `json:"hasCycle"`
}

func (r Result) clone() Result {
	r.Direct = append([]string(nil), r.Direct...)
	r.Transitive = append([]string(nil), r.Transitive...)
	return r
}

// Stats summarizes the tracker.
type Stats struct {
	Nodes       int      `json:"nodes"`
	Relations   int      `json:"relations"`
	CachedWalks int      `json:"cachedWalks"`
	CacheHits   int      `json:"cacheHits"`
	CacheMisses int      `json:"cacheMisses"`
	CycleNodes  []string `json:"cycleNodes"`
}

// Tracker maintains a bidirectional dependency graph between entity ids.
// It is not safe for concurrent use.
type Tracker struct {
	forward   map[string]map[string]struct{} // source -> dependents
	reverse   map[string]map[string]struct{} // target -> dependencies
	relations map[relationKey]Relation
	pairs     map[pair]int

	cache       map[string]Result
	cacheHits   int
	cacheMisses int
	cycles      map[string]struct{}

	maxDepth    int
	autoCleanup bool
	now         func() time.Time
	logger      *slog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithMaxDepth bounds the breadth-first walk of GetTransitiveDependents.
func WithMaxDepth(depth int) Option {
	return func(t *Tracker) {
		if depth > 0 {
			t.maxDepth = depth
		}
	}
}

// WithAutoCleanup drops empty index entries when their last relation is removed.
func WithAutoCleanup(enabled bool) Option {
	return func(t *Tracker) {
		t.autoCleanup = enabled
	}
}

// WithLogger configures a logger for cycle warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// WithClock overrides the relation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// New creates an empty tracker.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		forward:     make(map[string]map[string]struct{}),
		reverse:     make(map[string]map[string]struct{}),
		relations:   make(map[relationKey]Relation),
		pairs:       make(map[pair]int),
		cache:       make(map[string]Result),
		cycles:      make(map[string]struct{}),
		maxDepth:    DefaultMaxDepth,
		autoCleanup: true,
		now:         time.Now,
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// AddDependency records that rel.TargetID depends on rel.SourceID.
// Self-loops are rejected with a validation error. A relation with the same
// (source, target, edge, dataKey) tuple is left untouched and false is returned.
// A cycle introduced by the relation is logged and recorded, never rejected.
func (t *Tracker) AddDependency(rel Relation) (bool, error) {
	if rel.SourceID == "" {
		return false, domain.Invalid("sourceId", "required")
	}
	if rel.TargetID == "" {
		return false, domain.Invalid("targetId", "required")
	}
	if rel.SourceID == rel.TargetID {
		return false, domain.Invalid("targetId", "self dependency on "+rel.SourceID)
	}
	k := rel.key()
	if _, exists := t.relations[k]; exists {
		return false, nil
	}
	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = t.now()
	}

	t.relations[k] = rel
	t.pairs[pair{rel.SourceID, rel.TargetID}]++
	link(t.forward, rel.SourceID, rel.TargetID)
	link(t.reverse, rel.TargetID, rel.SourceID)
	t.invalidate()

	if path := t.probeCycle(rel.TargetID); path != nil {
		t.cycles[rel.TargetID] = struct{}{}
		t.logger.Warn("dependency cycle detected",
			"source_id", rel.SourceID,
			"target_id", rel.TargetID,
			"edge_id", rel.EdgeID,
			"path", path,
		)
	}
	return true, nil
}

// RemoveDependency deletes one relation. It reports whether it existed.
func (t *Tracker) RemoveDependency(rel Relation) bool {
	k := rel.key()
	if _, exists := t.relations[k]; !exists {
		return false
	}
	t.drop(k)
	t.invalidate()
	return true
}

// RemoveNode purges every relation where id is source or target.
// It returns the number of relations removed.
func (t *Tracker) RemoveNode(id string) int {
	removed := 0
	for k := range t.relations {
		if k.source == id || k.target == id {
			t.drop(k)
			removed++
		}
	}
	if t.autoCleanup {
		delete(t.forward, id)
		delete(t.reverse, id)
	}
	delete(t.cycles, id)
	if removed > 0 {
		t.invalidate()
	}
	return removed
}

// GetDirectDependents returns the ids that depend directly on id, sorted.
func (t *Tracker) GetDirectDependents(id string) []string {
	return sortedKeys(t.forward[id])
}

// GetDirectDependencies returns the ids id depends on directly, sorted.
func (t *Tracker) GetDirectDependencies(id string) []string {
	return sortedKeys(t.reverse[id])
}

// GetRelations returns every relation whose source is id, ordered by target,
// edge and data key.
func (t *Tracker) GetRelations(id string) []Relation {
	var out []Relation
	for k, rel := range t.relations {
		if k.source == id {
			out = append(out, rel)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.TargetID != b.TargetID {
			return a.TargetID < b.TargetID
		}
		if a.EdgeID != b.EdgeID {
			return a.EdgeID < b.EdgeID
		}
		return a.DataKey < b.DataKey
	})
	return out
}

// GetDependentsForKey returns the direct dependents bound to one data key of
// id, plus those bound to no key at all.
func (t *Tracker) GetDependentsForKey(id, dataKey string) []string {
	set := make(map[string]struct{})
	for k := range t.relations {
		if k.source == id && (k.dataKey == "" || k.dataKey == dataKey) {
			set[k.target] = struct{}{}
		}
	}
	return sortedKeys(set)
}

// GetTransitiveDependents walks the dependents of id breadth-first, up to the
// configured max depth. Revisiting a node during the walk sets HasCycle instead
// of looping. Results are cached until the next structural mutation.
func (t *Tracker) GetTransitiveDependents(id string) Result {
	if cached, ok := t.cache[id]; ok {
		t.cacheHits++
		return cached.clone()
	}
	t.cacheMisses++

	type step struct {
		id    string
		depth int
	}
	res := Result{Direct: t.GetDirectDependents(id)}
	visited := map[string]struct{}{id: {}}
	transitive := make(map[string]struct{})
	queue := []step{{id, 0}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= t.maxDepth {
			continue
		}
		for _, next := range sortedKeys(t.forward[cur.id]) {
			if _, seen := visited[next]; seen {
				res.HasCycle = true
				continue
			}
			visited[next] = struct{}{}
			transitive[next] = struct{}{}
			if cur.depth+1 > res.MaxDepth {
				res.MaxDepth = cur.depth + 1
			}
			queue = append(queue, step{next, cur.depth + 1})
		}
	}
	res.Transitive = sortedKeys(transitive)

	t.cache[id] = res
	return res.clone()
}

// GetInvalidationSet returns every id transitively depending on any of the
// changed ids, excluding the changed ids themselves.
func (t *Tracker) GetInvalidationSet(changed ...string) []string {
	out := make(map[string]struct{})
	for _, id := range changed {
		for _, dep := range t.GetTransitiveDependents(id).Transitive {
			out[dep] = struct{}{}
		}
	}
	for _, id := range changed {
		delete(out, id)
	}
	return sortedKeys(out)
}

// HasCycle reports whether a cycle was ever detected through id.
func (t *Tracker) HasCycle(id string) bool {
	_, ok := t.cycles[id]
	return ok
}

// Stats summarizes the tracker.
func (t *Tracker) Stats() Stats {
	nodes := make(map[string]struct{})
	for k := range t.relations {
		nodes[k.source] = struct{}{}
		nodes[k.target] = struct{}{}
	}
	return Stats{
		Nodes:       len(nodes),
		Relations:   len(t.relations),
		CachedWalks: len(t.cache),
		CacheHits:   t.cacheHits,
		CacheMisses: t.cacheMisses,
		CycleNodes:  sortedKeys(t.cycles),
	}
}

// Relations returns every relation, ordered by source then target.
func (t *Tracker) Relations() []Relation {
	out := make([]Relation, 0, len(t.relations))
	for _, rel := range t.relations {
		out = append(out, rel)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceID != out[j].SourceID {
			return out[i].SourceID < out[j].SourceID
		}
		if out[i].TargetID != out[j].TargetID {
			return out[i].TargetID < out[j].TargetID
		}
		if out[i].EdgeID != out[j].EdgeID {
			return out[i].EdgeID < out[j].EdgeID
		}
		return out[i].DataKey < out[j].DataKey
	})
	return out
}

// Clear removes every relation and resets statistics.
func (t *Tracker) Clear() {
	t.forward = make(map[string]map[string]struct{})
	t.reverse = make(map[string]map[string]struct{})
	t.relations = make(map[relationKey]Relation)
	t.pairs = make(map[pair]int)
	t.cycles = make(map[string]struct{})
	t.cacheHits, t.cacheMisses = 0, 0
	t.invalidate()
}

// probeCycle walks the reverse-dependency chain from start depth-first and
// returns the path that closes a loop, or nil.
func (t *Tracker) probeCycle(start string) []string {
	onPath := make(map[string]bool)
	done := make(map[string]bool)
	var path []string

	var visit func(id string) bool
	visit = func(id string) bool {
		if onPath[id] {
			path = append(path, id)
			return true
		}
		if done[id] {
			return false
		}
		onPath[id] = true
		path = append(path, id)
		for _, dep := range sortedKeys(t.reverse[id]) {
			if visit(dep) {
				return true
			}
		}
		path = path[:len(path)-1]
		onPath[id] = false
		done[id] = true
		return false
	}

	if visit(start) {
		return path
	}
	return nil
}

func (t *Tracker) drop(k relationKey) {
	delete(t.relations, k)
	p := pair{k.source, k.target}
	t.pairs[p]--
	if t.pairs[p] > 0 {
		return
	}
	delete(t.pairs, p)
	unlink(t.forward, k.source, k.target, t.autoCleanup)
	unlink(t.reverse, k.target, k.source, t.autoCleanup)
}

// invalidate drops every cached walk. Coarse on purpose: any mutation may
// change any walk.
func (t *Tracker) invalidate() {
	if len(t.cache) > 0 {
		t.cache = make(map[string]Result)
	}
}

func link(m map[string]map[string]struct{}, from, to string) {
	set, ok := m[from]
	if !ok {
		set = make(map[string]struct{})
		m[from] = set
	}
	set[to] = struct{}{}
}

func unlink(m map[string]map[string]struct{}, from, to string, cleanup bool) {
	set, ok := m[from]
	if !ok {
		return
	}
	delete(set, to)
	if cleanup && len(set) == 0 {
		delete(m, from)
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
