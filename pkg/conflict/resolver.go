package conflict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aretw0/lattice/internal/logging"
	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/observability"
)

// DefaultHistoryLimit bounds the number of recorded resolutions.
const DefaultHistoryLimit = 100

// Metrics summarizes resolver activity since creation or the last Clear.
type Metrics struct {
	Detected          int            `json:"detected"`
	Resolved          int            `json:"resolved"`
	ByStrategy        map[string]int `json:"byStrategy"`
	RequiringSync     int            `json:"requiringSync"`
	AverageResolution time.Duration  `json:"averageResolution"`
}

// BatchRequest names one conflict to resolve in ResolveConflictsBatch.
type BatchRequest struct {
	ConflictID string         `json:"conflictId"`
	Strategy   string         `json:"strategy"`
	Options    map[string]any `json:"options,omitempty"`
}

// BatchResult is the per-entry outcome of ResolveConflictsBatch.
// Exactly one of Resolution and Err is set.
type BatchResult struct {
	ConflictID string
	Resolution *domain.ConflictResolution
	Err        error
}

// Resolver holds detected conflicts until they are resolved.
// Safe for concurrent use.
type Resolver struct {
	mu         sync.Mutex
	pending    map[string]domain.Conflict
	strategies map[string]Strategy
	history    []domain.ConflictResolution

	detected      int
	resolved      int
	byStrategy    map[string]int
	requiringSync int
	totalLatency  time.Duration

	historyLimit    int
	defaultStrategy string
	logger          *slog.Logger
	metrics         *observability.Metrics
	now             func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHistoryLimit bounds the resolution history. Oldest entries are dropped first.
func WithHistoryLimit(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.historyLimit = n
		}
	}
}

// WithDefaultStrategy sets the strategy ResolveAll uses when none is named.
func WithDefaultStrategy(name string) Option {
	return func(r *Resolver) {
		r.defaultStrategy = name
	}
}

// WithLogger configures a logger for the resolver.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithMetrics records resolver metrics in Prometheus.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

// NewResolver creates a resolver with the built-in strategies registered.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		pending:         make(map[string]domain.Conflict),
		strategies:      builtins(),
		byStrategy:      make(map[string]int),
		historyLimit:    DefaultHistoryLimit,
		defaultStrategy: StrategyLastWriteWins,
		logger:          logging.NewNop(),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterStrategy adds or replaces a named strategy.
func (r *Resolver) RegisterStrategy(name string, s Strategy) error {
	if name == "" {
		return domain.Invalid("strategy", "name required")
	}
	if s == nil {
		return domain.Invalid("strategy", "nil strategy "+name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[name] = s
	return nil
}

// Strategies returns the registered strategy names, sorted.
func (r *Resolver) Strategies() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DetectConflicts compares each mutation with the server record of its entity
// and holds every conflict found until it is resolved.
//
// A missing server record conflicts unless the mutation creates the entity.
// Otherwise versions are compared when both sides carry one, then timestamps
// when both carry one (a strictly newer server conflicts), and finally, for
// updates only, the payload is compared field by field with the server data.
//
// A mutation that already has a pending conflict keeps that conflict's id;
// its server side is refreshed and it is not counted again.
func (r *Resolver) DetectConflicts(mutations []domain.Mutation, server domain.ServerState) []domain.Conflict {
	r.mu.Lock()
	known := make(map[string]string)
	for id, c := range r.pending {
		if c.MutationID != "" {
			known[c.MutationID] = id
		}
	}
	r.mu.Unlock()

	var found, fresh []domain.Conflict
	for _, m := range mutations {
		rec, exists := server[m.EntityID]
		if !diverged(m, rec, exists) {
			continue
		}
		id, seen := known[m.ID]
		if !seen {
			id = uuid.Must(uuid.NewV7()).String()
		}
		c := domain.Conflict{
			ID:             id,
			EntityID:       m.EntityID,
			EntityType:     m.EntityType,
			MutationID:     m.ID,
			MutationType:   m.Type,
			LocalVersion:   m.Version,
			LocalTimestamp: m.Timestamp,
			LocalData:      domain.CopyMap(m.Payload),
			ServerMissing:  !exists,
			DetectedAt:     r.now(),
		}
		if exists {
			c.ServerVersion = rec.Version
			c.ServerTimestamp = rec.Timestamp
			c.ServerData = domain.CopyMap(rec.Data)
			if c.EntityType == "" {
				c.EntityType = rec.EntityType
			}
		}
		found = append(found, c)
		if !seen {
			fresh = append(fresh, c)
		}
	}

	r.mu.Lock()
	for _, c := range found {
		r.pending[c.ID] = c
	}
	r.detected += len(fresh)
	r.mu.Unlock()

	for _, c := range fresh {
		r.metrics.ConflictDetected(c.EntityType)
		r.logger.Info("conflict detected",
			"conflict_id", c.ID,
			"entity_id", c.EntityID,
			"mutation_type", c.MutationType,
			"server_missing", c.ServerMissing,
		)
	}
	return found
}

func diverged(m domain.Mutation, rec domain.ServerRecord, exists bool) bool {
	if !exists {
		return m.Type != domain.MutationCreate
	}
	if m.Version > 0 && rec.Version > 0 {
		return m.Version != rec.Version
	}
	if m.Timestamp > 0 && rec.Timestamp > 0 {
		return rec.Timestamp > m.Timestamp
	}
	if m.Type != domain.MutationUpdate {
		return false
	}
	for k, v := range m.Payload {
		if !sameValue(rec.Data[k], v) {
			return true
		}
	}
	return false
}

// sameValue compares one field shallowly: == for comparable values and
// reference identity for maps and slices. Nested contents are never walked.
func sameValue(a, b any) (same bool) {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	switch va.Kind() {
	case reflect.Map, reflect.Slice:
		return va.Pointer() == vb.Pointer() && va.Len() == vb.Len()
	}
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}

// ResolveConflict settles a pending conflict with the named strategy and
// records the resolution. The conflict leaves the pending set exactly once:
// resolving it again returns domain.ErrConflictNotFound. An unknown strategy
// returns domain.ErrStrategyNotFound and leaves the conflict pending, as does
// a strategy error.
func (r *Resolver) ResolveConflict(ctx context.Context, conflictID, strategy string, opts map[string]any) (domain.ConflictResolution, error) {
	c, s, err := r.claim(conflictID, strategy)
	if err != nil {
		return domain.ConflictResolution{}, err
	}

	out, err := r.run(ctx, s, c, opts)
	if err != nil {
		r.mu.Lock()
		r.pending[c.ID] = c
		r.mu.Unlock()
		return domain.ConflictResolution{}, fmt.Errorf("resolve conflict %s with %s: %w", conflictID, strategy, err)
	}

	res := domain.ConflictResolution{
		ConflictID:    c.ID,
		EntityID:      c.EntityID,
		Strategy:      strategy,
		ResolvedValue: out.Value,
		RequiresSync:  out.RequiresSync,
		Warnings:      out.Warnings,
		ResolvedAt:    r.now(),
	}
	latency := res.ResolvedAt.Sub(c.DetectedAt)
	r.record(res, latency)

	r.metrics.ConflictResolved(strategy, res.RequiresSync, latency)
	r.logger.Info("conflict resolved",
		"conflict_id", c.ID,
		"entity_id", c.EntityID,
		"strategy", strategy,
		"requires_sync", res.RequiresSync,
		"warnings", len(res.Warnings),
	)
	return res, nil
}

func (r *Resolver) claim(conflictID, strategy string) (domain.Conflict, Strategy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.pending[conflictID]
	if !ok {
		return domain.Conflict{}, nil, domain.NotFound("conflict", conflictID)
	}
	s, ok := r.strategies[strategy]
	if !ok {
		return domain.Conflict{}, nil, domain.NotFound("strategy", strategy)
	}
	delete(r.pending, conflictID)
	return c, s, nil
}

func (r *Resolver) run(ctx context.Context, s Strategy, c domain.Conflict, opts map[string]any) (out Outcome, err error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("strategy panicked: %v", p)
		}
	}()
	return s.Resolve(ctx, c, opts)
}

func (r *Resolver) record(res domain.ConflictResolution, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, res)
	if over := len(r.history) - r.historyLimit; over > 0 {
		r.history = append(r.history[:0:0], r.history[over:]...)
	}
	r.resolved++
	r.byStrategy[res.Strategy]++
	if res.RequiresSync {
		r.requiringSync++
	}
	r.totalLatency += latency
}

// ResolveConflictsBatch resolves each entry independently. Errors are
// reported per entry and never stop the batch.
func (r *Resolver) ResolveConflictsBatch(ctx context.Context, reqs []BatchRequest) []BatchResult {
	out := make([]BatchResult, len(reqs))
	for i, req := range reqs {
		out[i].ConflictID = req.ConflictID
		res, err := r.ResolveConflict(ctx, req.ConflictID, req.Strategy, req.Options)
		if err != nil {
			out[i].Err = err
			continue
		}
		out[i].Resolution = &res
	}
	return out
}

// ResolveAll resolves every pending conflict with one strategy, or the
// default strategy when name is empty. Per-conflict errors are joined.
func (r *Resolver) ResolveAll(ctx context.Context, strategy string) ([]domain.ConflictResolution, error) {
	if strategy == "" {
		strategy = r.defaultStrategy
	}
	r.mu.Lock()
	_, known := r.strategies[strategy]
	r.mu.Unlock()
	if !known {
		return nil, domain.NotFound("strategy", strategy)
	}

	var (
		out  []domain.ConflictResolution
		errs []error
	)
	for _, c := range r.Pending() {
		res, err := r.ResolveConflict(ctx, c.ID, strategy, nil)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, res)
	}
	return out, errors.Join(errs...)
}

// Pending returns unresolved conflicts ordered by detection time.
func (r *Resolver) Pending() []domain.Conflict {
	r.mu.Lock()
	out := make([]domain.Conflict, 0, len(r.pending))
	for _, c := range r.pending {
		out = append(out, c)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].DetectedAt.Before(out[j].DetectedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get returns one pending conflict.
func (r *Resolver) Get(conflictID string) (domain.Conflict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.pending[conflictID]
	if !ok {
		return domain.Conflict{}, domain.NotFound("conflict", conflictID)
	}
	return c, nil
}

// History returns recorded resolutions, oldest first.
func (r *Resolver) History() []domain.ConflictResolution {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ConflictResolution(nil), r.history...)
}

// Metrics returns resolver counters.
func (r *Resolver) Metrics() Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := Metrics{
		Detected:      r.detected,
		Resolved:      r.resolved,
		ByStrategy:    make(map[string]int, len(r.byStrategy)),
		RequiringSync: r.requiringSync,
	}
	for k, v := range r.byStrategy {
		m.ByStrategy[k] = v
	}
	if r.resolved > 0 {
		m.AverageResolution = r.totalLatency / time.Duration(r.resolved)
	}
	return m
}

// Clear drops pending conflicts, history and counters. Registered strategies are kept.
func (r *Resolver) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = make(map[string]domain.Conflict)
	r.history = nil
	r.detected, r.resolved, r.requiringSync = 0, 0, 0
	r.byStrategy = make(map[string]int)
	r.totalLatency = 0
}
