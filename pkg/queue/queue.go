package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"golang.org/x/sync/errgroup"

	"github.com/aretw0/lattice/internal/logging"
	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/observability"
	"github.com/aretw0/lattice/pkg/ports"
)

const (
	DefaultMaxRetries = 3
	DefaultBatchSize  = 10

	lockKey = "mutation-queue"
	lockTTL = 30 * time.Second
	source  = "queue"
)

// SyncResult reports the outcome of one Sync call.
type SyncResult struct {
	Synced  int `json:"synced"`
	Failed  int `json:"failed"`
	Retried int `json:"retried"`
	Pending int `json:"pending"`
	// Skipped is set when another pass was already running.
	Skipped bool `json:"skipped,omitempty"`
	// Offline is set when the pass did nothing because the queue is offline.
	Offline bool `json:"offline,omitempty"`
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	Pending  int  `json:"pending"`
	InFlight int  `json:"inFlight"`
	Failed   int  `json:"failed"`
	Online   bool `json:"online"`
	Syncing  bool `json:"syncing"`
}

// Queue accumulates mutations while offline and drains them into a RemoteTarget.
type Queue struct {
	store  ports.MutationStore
	remote ports.RemoteTarget

	bus     ports.Publisher
	locker  ports.DistributedLocker
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time

	maxRetries int
	batchSize  int
	autoSync   bool

	mu        sync.Mutex
	mutations map[string]*domain.Mutation
	online    bool

	syncing atomic.Bool
}

// Option configures a Queue.
type Option func(*Queue)

// WithMaxRetries sets the number of failed attempts after which a mutation is failed.
func WithMaxRetries(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxRetries = n
		}
	}
}

// WithBatchSize bounds how many mutations are applied concurrently.
func WithBatchSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.batchSize = n
		}
	}
}

// WithAutoSync controls whether going online starts a sync pass.
func WithAutoSync(enabled bool) Option {
	return func(q *Queue) {
		q.autoSync = enabled
	}
}

// WithBus publishes queue events.
func WithBus(bus ports.Publisher) Option {
	return func(q *Queue) {
		q.bus = bus
	}
}

// WithLocker serializes sync passes across processes sharing one store.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(q *Queue) {
		q.locker = locker
	}
}

// WithLogger configures a logger for the queue.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = logger
	}
}

// WithMetrics records queue metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(q *Queue) {
		q.metrics = m
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

// WithOnline sets the initial connectivity state. The default is online.
func WithOnline(online bool) Option {
	return func(q *Queue) {
		q.online = online
	}
}

// New creates a queue backed by store that drains into remote.
func New(store ports.MutationStore, remote ports.RemoteTarget, opts ...Option) *Queue {
	q := &Queue{
		store:      store,
		remote:     remote,
		logger:     logging.NewNop(),
		now:        time.Now,
		maxRetries: DefaultMaxRetries,
		batchSize:  DefaultBatchSize,
		autoSync:   true,
		mutations:  make(map[string]*domain.Mutation),
		online:     true,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// QueueMutation assigns an id and timestamp, persists the mutation as pending
// and announces it. The mutation is only held in memory once the store accepted it.
func (q *Queue) QueueMutation(ctx context.Context, m domain.Mutation) (domain.Mutation, error) {
	if m.Type == "" {
		return domain.Mutation{}, domain.Invalid("type", "required")
	}
	m = m.Clone()
	m.ID = uuid.Must(uuid.NewV7()).String()
	m.Timestamp = q.now().UnixMilli()
	m.RetryCount = 0
	m.Status = domain.MutationPending
	m.Error = ""

	if err := q.store.Save(ctx, m); err != nil {
		return domain.Mutation{}, fmt.Errorf("persist mutation: %w", err)
	}

	q.mu.Lock()
	q.mutations[m.ID] = &m
	pending := q.countLocked(domain.MutationPending)
	q.mu.Unlock()

	q.metrics.MutationQueued()
	q.metrics.SetPending(pending)
	q.logger.Debug("mutation queued", "mutation_id", m.ID, "type", m.Type, "entity_id", m.EntityID)
	q.publish(ctx, domain.EventMutationQueued, m.Clone())
	return m.Clone(), nil
}

// Sync runs one pass over the pending mutations. A call overlapping a running
// pass returns immediately with Skipped set. While offline it does nothing.
// Per-mutation remote and store failures are absorbed into the result; only a
// failure to take the distributed lock is returned as an error.
func (q *Queue) Sync(ctx context.Context) (SyncResult, error) {
	if !q.syncing.CompareAndSwap(false, true) {
		q.metrics.SyncSkipped()
		return SyncResult{Skipped: true, Pending: q.count(domain.MutationPending)}, nil
	}
	defer q.syncing.Store(false)

	if !q.IsOnline() {
		return SyncResult{Offline: true, Pending: q.count(domain.MutationPending)}, nil
	}

	if q.locker != nil {
		unlock, err := q.locker.Lock(ctx, lockKey, lockTTL)
		if err != nil {
			return SyncResult{Pending: q.count(domain.MutationPending)}, fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(ctx); err != nil {
				q.logger.Warn("Failed to release distributed lock (will expire via TTL)", "err", err)
			}
		}()
	}

	done := q.metrics.SyncTimer()
	defer done()

	batch := q.Pending()
	q.publish(ctx, domain.EventSyncStarted, domain.SyncReport{Pending: len(batch)})
	q.logger.Info("sync started", "pending", len(batch))

	var res SyncResult
	for start := 0; start < len(batch); start += q.batchSize {
		end := min(start+q.batchSize, len(batch))
		q.syncBatch(ctx, batch[start:end], &res)
	}

	res.Pending = q.count(domain.MutationPending)
	q.metrics.SetPending(res.Pending)
	q.publish(ctx, domain.EventSyncCompleted, domain.SyncReport{
		Synced: res.Synced, Failed: res.Failed, Retried: res.Retried, Pending: res.Pending,
	})
	q.logger.Info("sync completed",
		"synced", res.Synced,
		"failed", res.Failed,
		"retried", res.Retried,
		"pending", res.Pending,
	)
	return res, nil
}

// syncBatch applies a batch concurrently. Completions are handled after every
// remote call returned, so status writes never race each other.
func (q *Queue) syncBatch(ctx context.Context, batch []domain.Mutation, res *SyncResult) {
	inFlight := make([]domain.Mutation, 0, len(batch))
	for _, m := range batch {
		m.Status = domain.MutationSyncing
		if err := q.transition(ctx, m); err != nil {
			q.logger.Warn("mutation left pending, status write failed", "mutation_id", m.ID, "err", err)
			continue
		}
		inFlight = append(inFlight, m)
	}

	errs := make([]error, len(inFlight))
	var g errgroup.Group
	for i, m := range inFlight {
		g.Go(func() error {
			errs[i] = q.apply(ctx, m)
			return nil
		})
	}
	_ = g.Wait()

	for i, m := range inFlight {
		if errs[i] == nil {
			q.complete(ctx, m)
			res.Synced++
			continue
		}
		if q.fail(ctx, m, errs[i]) {
			res.Failed++
		} else {
			res.Retried++
		}
	}
}

func (q *Queue) apply(ctx context.Context, m domain.Mutation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("remote target panicked: %v", r)
		}
	}()
	return q.remote.Apply(ctx, m.Clone())
}

func (q *Queue) complete(ctx context.Context, m domain.Mutation) {
	if err := q.store.Delete(ctx, m.ID); err != nil {
		// The stored record still says syncing; Restore will resubmit it.
		q.logger.Warn("synced mutation not removed from store", "mutation_id", m.ID, "err", err)
	}
	q.mu.Lock()
	delete(q.mutations, m.ID)
	q.mu.Unlock()
	q.metrics.MutationSynced()
	q.logger.Debug("mutation synced", "mutation_id", m.ID)
}

// fail records a failed attempt. It reports whether the mutation is now terminally failed.
func (q *Queue) fail(ctx context.Context, m domain.Mutation, cause error) bool {
	m.RetryCount++
	m.Error = cause.Error()
	m.Status = domain.MutationPending
	terminal := m.RetryCount >= q.maxRetries
	if terminal {
		m.Status = domain.MutationFailed
	}

	if err := q.transition(ctx, m); err != nil {
		q.logger.Warn("mutation status write failed", "mutation_id", m.ID, "status", m.Status, "err", err)
		q.mu.Lock()
		if cur, ok := q.mutations[m.ID]; ok {
			*cur = m
		}
		q.mu.Unlock()
	}

	if terminal {
		q.metrics.MutationFailed()
		q.logger.Error("mutation failed", "mutation_id", m.ID, "attempts", m.RetryCount, "err", cause)
		q.publish(ctx, domain.EventSyncFailed, domain.SyncFailure{
			MutationID: m.ID, Attempts: m.RetryCount, Error: m.Error,
		})
		return true
	}
	q.metrics.MutationRetried()
	q.logger.Warn("mutation sync failed, will retry", "mutation_id", m.ID, "attempt", m.RetryCount, "err", cause)
	return false
}

// transition writes m through to the store, then to memory.
func (q *Queue) transition(ctx context.Context, m domain.Mutation) error {
	if err := q.store.Save(ctx, m); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if cur, ok := q.mutations[m.ID]; ok {
		*cur = m
	}
	return nil
}

// SetOnline records a connectivity change. Going online starts a sync pass
// when auto-sync is enabled and mutations are pending; going offline only
// flips state. Repeating the current state does nothing.
func (q *Queue) SetOnline(ctx context.Context, online bool) {
	q.mu.Lock()
	changed := q.online != online
	q.online = online
	pending := q.countLocked(domain.MutationPending)
	q.mu.Unlock()

	if !changed {
		return
	}
	q.logger.Info("network status changed", "online", online)
	q.publish(ctx, domain.EventNetworkStatusChanged, domain.NetworkStatus{Online: online})

	if online && q.autoSync && pending > 0 {
		if _, err := q.Sync(ctx); err != nil {
			q.logger.Error("automatic sync failed", "err", err)
		}
	}
}

// IsOnline reports the current connectivity state.
func (q *Queue) IsOnline() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.online
}

// Restore loads every stored record into memory. Records left in syncing by
// an interrupted pass are returned to pending. It returns the number of
// records loaded.
func (q *Queue) Restore(ctx context.Context) (int, error) {
	records, err := q.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list mutations: %w", err)
	}

	loaded := make(map[string]*domain.Mutation, len(records))
	for _, m := range records {
		switch m.Status {
		case domain.MutationSynced:
			if err := q.store.Delete(ctx, m.ID); err != nil {
				q.logger.Warn("stale synced record not removed", "mutation_id", m.ID, "err", err)
			}
			continue
		case domain.MutationSyncing, "":
			m.Status = domain.MutationPending
			if err := q.store.Save(ctx, m); err != nil {
				return 0, fmt.Errorf("recover mutation %s: %w", m.ID, err)
			}
		}
		rec := m.Clone()
		loaded[m.ID] = &rec
	}

	q.mu.Lock()
	for id, m := range loaded {
		q.mutations[id] = m
	}
	pending := q.countLocked(domain.MutationPending)
	q.mu.Unlock()

	q.metrics.SetPending(pending)
	q.logger.Info("queue restored", "records", len(loaded), "pending", pending)
	return len(loaded), nil
}

// Get returns one mutation.
func (q *Queue) Get(id string) (domain.Mutation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	m, ok := q.mutations[id]
	if !ok {
		return domain.Mutation{}, domain.NotFound("mutation", id)
	}
	return m.Clone(), nil
}

// Pending returns pending mutations in submission order.
func (q *Queue) Pending() []domain.Mutation {
	return q.list(func(m *domain.Mutation) bool { return m.Status == domain.MutationPending })
}

// Failed returns failed mutations in submission order.
func (q *Queue) Failed() []domain.Mutation {
	return q.list(func(m *domain.Mutation) bool { return m.Status == domain.MutationFailed })
}

// All returns every held mutation in submission order.
func (q *Queue) All() []domain.Mutation {
	return q.list(func(*domain.Mutation) bool { return true })
}

// Retry returns a failed mutation to pending with a fresh retry budget.
func (q *Queue) Retry(ctx context.Context, id string) error {
	m, err := q.Get(id)
	if err != nil {
		return err
	}
	if m.Status != domain.MutationFailed {
		return domain.Invalid("status", fmt.Sprintf("mutation %s is %s, not failed", id, m.Status))
	}
	m.Status = domain.MutationPending
	m.RetryCount = 0
	m.Error = ""
	if err := q.transition(ctx, m); err != nil {
		return fmt.Errorf("retry mutation %s: %w", id, err)
	}
	q.metrics.SetPending(q.count(domain.MutationPending))
	return nil
}

// RetryFailed returns every failed mutation to pending. It stops at the first
// store error and returns how many were reset before it.
func (q *Queue) RetryFailed(ctx context.Context) (int, error) {
	n := 0
	for _, m := range q.Failed() {
		if err := q.Retry(ctx, m.ID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Remove drops a mutation from the store and the queue.
func (q *Queue) Remove(ctx context.Context, id string) error {
	if _, err := q.Get(id); err != nil {
		return err
	}
	if err := q.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("remove mutation %s: %w", id, err)
	}
	q.mu.Lock()
	delete(q.mutations, id)
	pending := q.countLocked(domain.MutationPending)
	q.mu.Unlock()
	q.metrics.SetPending(pending)
	return nil
}

// Stats returns counts per status and the connectivity state.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Pending:  q.countLocked(domain.MutationPending),
		InFlight: q.countLocked(domain.MutationSyncing),
		Failed:   q.countLocked(domain.MutationFailed),
		Online:   q.online,
		Syncing:  q.syncing.Load(),
	}
}

// Listen subscribes the queue to host connectivity and mutation-intent events.
// Intent payloads may be a domain.Mutation or *domain.Mutation; connectivity
// payloads a domain.NetworkStatus, *domain.NetworkStatus or bool.
func (q *Queue) Listen(bus ports.EventBus) ports.UnsubscribeFunc {
	unsubConn := bus.Subscribe(domain.EventConnectivityChanged, func(ctx context.Context, evt domain.Event) {
		online, ok := onlineFrom(evt.Payload)
		if !ok {
			q.logger.Warn("ignoring connectivity event with unexpected payload", "payload_type", fmt.Sprintf("%T", evt.Payload))
			return
		}
		q.SetOnline(ctx, online)
	})
	unsubIntent := bus.Subscribe(domain.EventMutationIntent, func(ctx context.Context, evt domain.Event) {
		var m domain.Mutation
		switch p := evt.Payload.(type) {
		case domain.Mutation:
			m = p
		case *domain.Mutation:
			if p == nil {
				return
			}
			m = *p
		case map[string]any:
			// Events that crossed a process boundary arrive as decoded JSON.
			if err := decodePayload(p, &m); err != nil {
				q.logger.Warn("ignoring undecodable mutation intent", "err", err)
				return
			}
		default:
			q.logger.Warn("ignoring mutation intent with unexpected payload", "payload_type", fmt.Sprintf("%T", evt.Payload))
			return
		}
		if _, err := q.QueueMutation(ctx, m); err != nil {
			q.logger.Error("mutation intent rejected", "err", err)
		}
	})
	return func() {
		unsubConn()
		unsubIntent()
	}
}

func onlineFrom(payload any) (bool, bool) {
	switch p := payload.(type) {
	case domain.NetworkStatus:
		return p.Online, true
	case *domain.NetworkStatus:
		if p == nil {
			return false, false
		}
		return p.Online, true
	case bool:
		return p, true
	case map[string]any:
		var st domain.NetworkStatus
		if _, ok := p["online"]; !ok {
			return false, false
		}
		if err := decodePayload(p, &st); err != nil {
			return false, false
		}
		return st.Online, true
	}
	return false, false
}

// decodePayload maps a generic JSON object onto a domain struct using its json tags.
func decodePayload(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

func (q *Queue) publish(ctx context.Context, t domain.EventType, payload any) {
	if q.bus == nil {
		return
	}
	q.bus.Publish(ctx, domain.Event{Type: t, Timestamp: q.now(), Source: source, Payload: payload})
}

func (q *Queue) list(keep func(*domain.Mutation) bool) []domain.Mutation {
	q.mu.Lock()
	out := make([]domain.Mutation, 0, len(q.mutations))
	for _, m := range q.mutations {
		if keep(m) {
			out = append(out, m.Clone())
		}
	}
	q.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (q *Queue) count(status domain.MutationStatus) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.countLocked(status)
}

func (q *Queue) countLocked(status domain.MutationStatus) int {
	n := 0
	for _, m := range q.mutations {
		if m.Status == status {
			n++
		}
	}
	return n
}

