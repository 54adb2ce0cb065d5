package reactive

import (
	"context"
	"log/slog"
	"sort"

	"github.com/aretw0/lattice/internal/logging"
	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/ports"
)

// Node groups named signals and computed signals under one entity id and
// publishes their changes on the event bus.
type Node struct {
	id         string
	entityType string
	rt         *Runtime
	bus        ports.Publisher
	logger     *slog.Logger

	signals  map[string]*Signal
	computed map[string]*Computed
	unsubs   []func()

	batchDepth int
	pending    map[string]any
	disposed   bool
}

// NodeOption configures a Node.
type NodeOption func(*Node)

// WithRuntime shares a runtime between nodes so computeds may read signals of other nodes.
func WithRuntime(rt *Runtime) NodeOption {
	return func(n *Node) {
		n.rt = rt
	}
}

// WithLogger configures a logger for the node.
func WithLogger(logger *slog.Logger) NodeOption {
	return func(n *Node) {
		n.logger = logger
	}
}

// NewNode creates a reactive node. bus may be nil, in which case changes are not published.
func NewNode(id, entityType string, bus ports.Publisher, opts ...NodeOption) *Node {
	n := &Node{
		id:         id,
		entityType: entityType,
		bus:        bus,
		logger:     logging.NewNop(),
		signals:    make(map[string]*Signal),
		computed:   make(map[string]*Computed),
		pending:    make(map[string]any),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.rt == nil {
		n.rt = NewRuntime()
	}
	return n
}

// ID returns the entity id.
func (n *Node) ID() string { return n.id }

// EntityType returns the entity type.
func (n *Node) EntityType() string { return n.entityType }

// Runtime returns the runtime signals of this node are created in.
func (n *Node) Runtime() *Runtime { return n.rt }

// DefineSignal adds a named signal.
func (n *Node) DefineSignal(key string, initial any) (*Signal, error) {
	if err := n.checkKey(key); err != nil {
		return nil, err
	}
	s := n.rt.NewSignal(initial)
	n.signals[key] = s
	n.unsubs = append(n.unsubs, s.Subscribe(func(value, previous any) {
		n.changed(key, value, previous)
	}))
	return s, nil
}

// DefineComputed adds a named computed signal.
func (n *Node) DefineComputed(key string, fn ComputeFunc) (*Computed, error) {
	if err := n.checkKey(key); err != nil {
		return nil, err
	}
	c := n.rt.NewComputed(fn)
	n.computed[key] = c
	n.unsubs = append(n.unsubs, c.Subscribe(func(value, previous any) {
		n.changed(key, value, previous)
	}))
	return c, nil
}

// Signal returns the named signal.
func (n *Node) Signal(key string) (*Signal, bool) {
	s, ok := n.signals[key]
	return s, ok
}

// Computed returns the named computed signal.
func (n *Node) Computed(key string) (*Computed, bool) {
	c, ok := n.computed[key]
	return c, ok
}

// Get reads a signal or computed signal by key.
func (n *Node) Get(key string) (any, error) {
	if s, ok := n.signals[key]; ok {
		return s.Get(), nil
	}
	if c, ok := n.computed[key]; ok {
		return c.Get()
	}
	return nil, domain.NotFound("signal", n.id+"."+key)
}

// Set writes a signal by key. Computed signals are read-only.
func (n *Node) Set(key string, value any) error {
	s, err := n.writable(key)
	if err != nil {
		return err
	}
	s.Set(value)
	return nil
}

// Update writes fn(current) to a signal by key.
func (n *Node) Update(key string, fn func(current any) any) error {
	s, err := n.writable(key)
	if err != nil {
		return err
	}
	s.Update(fn)
	return nil
}

// Batch runs fn and publishes a single NodeStateBatchChanged for every key
// changed inside it, keeping the last value per key. Nested calls share the
// same pending set; only the outermost call publishes.
func (n *Node) Batch(fn func()) {
	n.batchDepth++
	defer func() {
		n.batchDepth--
		if n.batchDepth == 0 {
			n.flush()
		}
	}()
	fn()
}

// Keys returns every defined key, sorted.
func (n *Node) Keys() []string {
	keys := make([]string, 0, len(n.signals)+len(n.computed))
	for k := range n.signals {
		keys = append(keys, k)
	}
	for k := range n.computed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns the current value of every key. Computeds whose compute
// function fails are omitted.
func (n *Node) Snapshot() map[string]any {
	out := make(map[string]any, len(n.signals)+len(n.computed))
	for k, s := range n.signals {
		out[k] = s.Peek()
	}
	for k, c := range n.computed {
		v, err := c.Get()
		if err != nil {
			n.logger.Debug("computed skipped in snapshot", "entity_id", n.id, "key", k, "err", err)
			continue
		}
		out[k] = v
	}
	return out
}

// Dispose unsubscribes every internal listener and disposes every computed signal.
// Calling Dispose again is a no-op.
func (n *Node) Dispose() {
	if n.disposed {
		return
	}
	for _, unsub := range n.unsubs {
		unsub()
	}
	n.unsubs = nil
	for _, c := range n.computed {
		c.Dispose()
	}
	n.pending = make(map[string]any)
	n.disposed = true
}

// Disposed reports whether Dispose was called.
func (n *Node) Disposed() bool { return n.disposed }

func (n *Node) checkKey(key string) error {
	if n.disposed {
		return domain.Invalid("node", "disposed")
	}
	if key == "" {
		return domain.Invalid("key", "required")
	}
	if _, ok := n.signals[key]; ok {
		return domain.Invalid("key", "duplicate key "+key)
	}
	if _, ok := n.computed[key]; ok {
		return domain.Invalid("key", "duplicate key "+key)
	}
	return nil
}

func (n *Node) writable(key string) (*Signal, error) {
	if s, ok := n.signals[key]; ok {
		return s, nil
	}
	if _, ok := n.computed[key]; ok {
		return nil, domain.Invalid("key", "computed signal "+key+" is read-only")
	}
	return nil, domain.NotFound("signal", n.id+"."+key)
}

func (n *Node) changed(key string, value, previous any) {
	if n.batchDepth > 0 {
		n.pending[key] = value
		return
	}
	n.publish(domain.EventNodeStateChanged, domain.NodeStateChange{
		EntityID:   n.id,
		EntityType: n.entityType,
		Key:        key,
		Value:      value,
		Previous:   previous,
	})
}

func (n *Node) flush() {
	if len(n.pending) == 0 {
		return
	}
	changes := n.pending
	n.pending = make(map[string]any)
	n.publish(domain.EventNodeStateBatchChanged, domain.NodeStateBatchChange{
		EntityID:   n.id,
		EntityType: n.entityType,
		Changes:    changes,
	})
}

func (n *Node) publish(t domain.EventType, payload any) {
	if n.bus == nil {
		return
	}
	n.bus.Publish(context.Background(), domain.NewEvent(t, n.id, payload))
}
