package lattice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/lattice/internal/logging"
	"github.com/aretw0/lattice/pkg/adapters/memory"
	"github.com/aretw0/lattice/pkg/adapters/remote"
	"github.com/aretw0/lattice/pkg/bus"
	"github.com/aretw0/lattice/pkg/conflict"
	"github.com/aretw0/lattice/pkg/dependency"
	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/index"
	"github.com/aretw0/lattice/pkg/merge"
	"github.com/aretw0/lattice/pkg/observability"
	"github.com/aretw0/lattice/pkg/persistence/middleware"
	"github.com/aretw0/lattice/pkg/ports"
	"github.com/aretw0/lattice/pkg/queue"
	"github.com/aretw0/lattice/pkg/reactive"
)

// Engine is the high-level entry point for the Lattice library.
// It wires the reactive runtime, dependency tracker, cross-graph index, merge
// strategies, mutation queue and conflict resolver around a shared event bus
// and a pair of stores.
//
// The tracker and the index are single-writer. Engine methods that touch them
// hold IndexLock; hosts that reach the fields directly from several goroutines
// must hold it too.
type Engine struct {
	Runtime  *reactive.Runtime
	Tracker  *dependency.Tracker
	Index    *index.Index
	Merge    *merge.Manager
	Queue    *queue.Queue
	Resolver *conflict.Resolver
	Bus      ports.EventBus
	Metrics  *observability.Metrics

	graphs      ports.GraphStore
	mutations   ports.MutationStore
	remote      ports.RemoteTarget
	locker      ports.DistributedLocker
	registry    prometheus.Registerer
	middlewares []middleware.Middleware
	logger      *slog.Logger

	defaultMerge  merge.Strategy
	queueOpts     []queue.Option
	resolverOpts  []conflict.Option
	indexOpts     []index.Option
	trackerOpts   []dependency.Option
	remoteGraphID string

	mu       sync.Mutex
	unlisten ports.UnsubscribeFunc
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithGraphStore sets where graphs and cross-graph edges are persisted.
// Defaults to an in-memory store.
func WithGraphStore(s ports.GraphStore) Option {
	return func(e *Engine) {
		e.graphs = s
	}
}

// WithMutationStore sets where queued mutations are persisted.
// Defaults to an in-memory store.
func WithMutationStore(s ports.MutationStore) Option {
	return func(e *Engine) {
		e.mutations = s
	}
}

// WithStoreMiddleware wraps the mutation store. The first middleware listed is
// the outermost.
func WithStoreMiddleware(mws ...middleware.Middleware) Option {
	return func(e *Engine) {
		e.middlewares = append(e.middlewares, mws...)
	}
}

// WithRemote sets the target the queue drains into. Defaults to a
// remote.StoreTarget applying mutations to the graph store.
func WithRemote(r ports.RemoteTarget) Option {
	return func(e *Engine) {
		e.remote = r
	}
}

// WithRemoteGraph sets the graph the default remote applies mutations to.
func WithRemoteGraph(graphID string) Option {
	return func(e *Engine) {
		e.remoteGraphID = graphID
	}
}

// WithBus replaces the in-process event bus.
func WithBus(b ports.EventBus) Option {
	return func(e *Engine) {
		e.Bus = b
	}
}

// WithLocker makes sync passes take a distributed lock.
func WithLocker(l ports.DistributedLocker) Option {
	return func(e *Engine) {
		e.locker = l
	}
}

// WithLogger sets a custom structured logger for the engine and its components.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithRegistry registers Prometheus collectors for the queue, the resolver
// and the index on reg.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(e *Engine) {
		e.registry = reg
	}
}

// WithDefaultMerge sets the merge manager's default strategy.
func WithDefaultMerge(s merge.Strategy) Option {
	return func(e *Engine) {
		e.defaultMerge = s
	}
}

// WithQueueOptions forwards options to the mutation queue.
func WithQueueOptions(opts ...queue.Option) Option {
	return func(e *Engine) {
		e.queueOpts = append(e.queueOpts, opts...)
	}
}

// WithResolverOptions forwards options to the conflict resolver.
func WithResolverOptions(opts ...conflict.Option) Option {
	return func(e *Engine) {
		e.resolverOpts = append(e.resolverOpts, opts...)
	}
}

// WithIndexOptions forwards options to the cross-graph index.
func WithIndexOptions(opts ...index.Option) Option {
	return func(e *Engine) {
		e.indexOpts = append(e.indexOpts, opts...)
	}
}

// WithTrackerOptions forwards options to the dependency tracker.
func WithTrackerOptions(opts ...dependency.Option) Option {
	return func(e *Engine) {
		e.trackerOpts = append(e.trackerOpts, opts...)
	}
}

// New creates an Engine. Components are built after every option is applied,
// so component options passed through WithQueueOptions and friends win over
// the engine-level defaults.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		logger:        logging.NewNop(),
		remoteGraphID: remote.DefaultGraphID,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.graphs == nil {
		e.graphs = memory.NewGraphStore()
	}
	if e.mutations == nil {
		e.mutations = memory.NewStore()
	}
	if len(e.middlewares) > 0 {
		e.mutations = middleware.Chain(e.mutations, e.middlewares...)
	}
	if e.remote == nil {
		e.remote = remote.NewStoreTarget(e.graphs, e.remoteGraphID)
	}
	if e.Bus == nil {
		e.Bus = bus.New(bus.WithLogger(e.logger))
	}
	if e.registry != nil {
		m, err := newMetrics(e.registry)
		if err != nil {
			return nil, err
		}
		e.Metrics = m
	}

	e.Runtime = reactive.NewRuntime()
	e.Tracker = dependency.New(append([]dependency.Option{dependency.WithLogger(e.logger)}, e.trackerOpts...)...)
	e.Merge = merge.NewManager(e.defaultMerge)

	ixOpts := []index.Option{index.WithLogger(e.logger)}
	rOpts := []conflict.Option{conflict.WithLogger(e.logger)}
	qOpts := []queue.Option{queue.WithLogger(e.logger), queue.WithBus(e.Bus)}
	if e.Metrics != nil {
		ixOpts = append(ixOpts, index.WithMetrics(e.Metrics))
		rOpts = append(rOpts, conflict.WithMetrics(e.Metrics))
		qOpts = append(qOpts, queue.WithMetrics(e.Metrics))
	}
	if e.locker != nil {
		qOpts = append(qOpts, queue.WithLocker(e.locker))
	}
	e.Index = index.New(append(ixOpts, e.indexOpts...)...)
	e.Resolver = conflict.NewResolver(append(rOpts, e.resolverOpts...)...)
	e.Queue = queue.New(e.mutations, e.remote, append(qOpts, e.queueOpts...)...)

	return e, nil
}

// newMetrics turns the registration panic of observability.NewMetrics into
// an error, since a registry shared across engines rejects duplicates.
func newMetrics(reg prometheus.Registerer) (m *observability.Metrics, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("registering metrics: %v", r)
		}
	}()
	return observability.NewMetrics(reg), nil
}

// Start restores persisted mutations and cross-graph edges, then subscribes
// the queue to connectivity and mutation-intent events on the bus.
// It returns the number of mutations restored.
func (e *Engine) Start(ctx context.Context) (int, error) {
	n, err := e.Queue.Restore(ctx)
	if err != nil {
		return 0, fmt.Errorf("restoring queue: %w", err)
	}
	if err := e.LoadIndex(ctx); err != nil {
		return n, err
	}

	e.mu.Lock()
	if e.unlisten == nil {
		e.unlisten = e.Queue.Listen(e.Bus)
	}
	e.mu.Unlock()

	e.logger.Info("engine started", "restored", n, "edges", e.Index.Size())
	return n, nil
}

// Close detaches the queue from the bus. It does not close the stores.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.unlisten != nil {
		e.unlisten()
		e.unlisten = nil
	}
}

// IndexLock is the lock guarding Index and Tracker.
func (e *Engine) IndexLock() sync.Locker {
	return &e.mu
}

// GraphStore returns the store graphs and cross-graph edges live in.
func (e *Engine) GraphStore() ports.GraphStore {
	return e.graphs
}

// MutationStore returns the mutation store, middlewares included.
func (e *Engine) MutationStore() ports.MutationStore {
	return e.mutations
}

// Remote returns the target the queue drains into.
func (e *Engine) Remote() ports.RemoteTarget {
	return e.remote
}

// NewNode creates a reactive node on the engine's runtime that publishes its
// state changes on the engine's bus.
func (e *Engine) NewNode(id, entityType string) *reactive.Node {
	return reactive.NewNode(id, entityType, e.Bus,
		reactive.WithRuntime(e.Runtime),
		reactive.WithLogger(e.logger),
	)
}

// AddEdge adds a cross-graph edge to the index and writes it through to the
// graph store. The edge stays indexed if the write fails.
func (e *Engine) AddEdge(ctx context.Context, edge domain.CrossGraphEdge) error {
	e.mu.Lock()
	err := e.Index.AddEdge(edge)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	if err := e.graphs.PersistCrossGraphEdges(ctx, []domain.CrossGraphEdge{edge}); err != nil {
		return fmt.Errorf("persisting edge %s: %w", edge.ID, err)
	}
	return nil
}

// QueryEdges runs a criteria query against the index.
func (e *Engine) QueryEdges(c domain.EdgeCriteria) []domain.CrossGraphEdge {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Index.Query(c)
}

// RemoveEdge drops an edge from the index and from the graph store. It
// reports whether the index held the edge.
func (e *Engine) RemoveEdge(ctx context.Context, id string) (bool, error) {
	e.mu.Lock()
	removed := e.Index.RemoveEdge(id)
	e.mu.Unlock()
	if err := e.graphs.DeleteCrossGraphEdges(ctx, []string{id}); err != nil {
		return removed, fmt.Errorf("deleting edge %s: %w", id, err)
	}
	return removed, nil
}

// SaveIndex makes the stored cross-graph edges match the index: every indexed
// edge is written and stored edges the index no longer holds are deleted.
func (e *Engine) SaveIndex(ctx context.Context) error {
	e.mu.Lock()
	edges := e.Index.Edges()
	e.mu.Unlock()

	stored, err := e.graphs.QueryCrossGraphEdges(ctx, domain.EdgeCriteria{})
	if err != nil {
		return fmt.Errorf("saving index: %w", err)
	}
	keep := make(map[string]struct{}, len(edges))
	for _, edge := range edges {
		keep[edge.ID] = struct{}{}
	}
	var stale []string
	for _, edge := range stored {
		if _, ok := keep[edge.ID]; !ok {
			stale = append(stale, edge.ID)
		}
	}

	if len(edges) > 0 {
		if err := e.graphs.PersistCrossGraphEdges(ctx, edges); err != nil {
			return fmt.Errorf("saving index: %w", err)
		}
	}
	if len(stale) > 0 {
		if err := e.graphs.DeleteCrossGraphEdges(ctx, stale); err != nil {
			return fmt.Errorf("saving index: %w", err)
		}
	}
	return nil
}

// LoadIndex replaces the index contents with the edges in the graph store.
func (e *Engine) LoadIndex(ctx context.Context) error {
	edges, err := e.graphs.QueryCrossGraphEdges(ctx, domain.EdgeCriteria{})
	if err != nil {
		return fmt.Errorf("loading index: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.Index.Restore(index.Snapshot{Version: index.SnapshotVersion, Edges: edges}); err != nil {
		return fmt.Errorf("loading index: %w", err)
	}
	return nil
}

// AddDependency records that target depends on source.
func (e *Engine) AddDependency(rel dependency.Relation) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Tracker.AddDependency(rel)
}

// Invalidate returns every node that must be recomputed when the given nodes
// change, sorted by id.
func (e *Engine) Invalidate(changed ...string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Tracker.GetInvalidationSet(changed...)
}

// StateReader is implemented by remotes that can report authoritative state.
type StateReader interface {
	State(ctx context.Context) (domain.ServerState, error)
}

// ErrNoServerState is returned by DetectConflicts when the remote cannot
// report its state.
var ErrNoServerState = errors.New("remote does not expose server state")

// DetectConflicts compares the pending mutations with the remote's state and
// registers any conflicts on the resolver.
func (e *Engine) DetectConflicts(ctx context.Context) ([]domain.Conflict, error) {
	sr, ok := e.remote.(StateReader)
	if !ok {
		return nil, ErrNoServerState
	}
	state, err := sr.State(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading server state: %w", err)
	}
	return e.Resolver.DetectConflicts(e.Queue.Pending(), state), nil
}

// Reconcile detects conflicts, resolves every pending one with strategy (the
// resolver's default when empty) and settles the queue: the conflicting
// mutation is dropped, and a resolution that requires sync is queued again
// carrying the resolved value at the server's version. Manual resolutions
// leave the mutation queued.
func (e *Engine) Reconcile(ctx context.Context, strategy string) ([]domain.ConflictResolution, error) {
	if _, err := e.DetectConflicts(ctx); err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Conflict)
	for _, c := range e.Resolver.Pending() {
		byID[c.ID] = c
	}

	resolutions, resolveErr := e.Resolver.ResolveAll(ctx, strategy)
	var errs []error
	if resolveErr != nil {
		errs = append(errs, resolveErr)
	}
	for _, res := range resolutions {
		if err := e.settle(ctx, byID[res.ConflictID], res); err != nil {
			errs = append(errs, err)
		}
	}
	return resolutions, errors.Join(errs...)
}

func (e *Engine) settle(ctx context.Context, c domain.Conflict, res domain.ConflictResolution) error {
	if res.Strategy == conflict.StrategyManual {
		return nil
	}
	if c.MutationID != "" {
		if err := e.Queue.Remove(ctx, c.MutationID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("dropping mutation %s: %w", c.MutationID, err)
		}
	}
	if !res.RequiresSync {
		return nil
	}
	typ := domain.MutationUpdate
	switch {
	case c.MutationType == domain.MutationDelete:
		typ = domain.MutationDelete
	case c.ServerMissing:
		typ = domain.MutationCreate
	}
	_, err := e.Queue.QueueMutation(ctx, domain.Mutation{
		Type:       typ,
		EntityID:   c.EntityID,
		EntityType: c.EntityType,
		Payload:    res.ResolvedValue,
		Version:    c.ServerVersion,
	})
	if err != nil {
		return fmt.Errorf("queueing resolution of %s: %w", c.ID, err)
	}
	return nil
}
