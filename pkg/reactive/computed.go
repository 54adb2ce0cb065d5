package reactive

import "github.com/aretw0/lattice/pkg/domain"

// ComputeFunc derives a value from other signals. Every Get call made while
// it runs is captured as a dependency.
type ComputeFunc func() (any, error)

// Computed is a derived signal recomputed lazily after invalidation.
type Computed struct {
	rt         *Runtime
	compute    ComputeFunc
	value      any
	version    uint64
	dirty      bool
	computing  bool
	disposed   bool
	deps       map[source]struct{}
	dependents map[*Computed]struct{}
	subs       subscribers
}

// NewComputed creates a computed signal. Nothing is computed until the first Get.
func (r *Runtime) NewComputed(fn ComputeFunc) *Computed {
	return &Computed{
		rt:         r,
		compute:    fn,
		dirty:      true,
		deps:       make(map[source]struct{}),
		dependents: make(map[*Computed]struct{}),
	}
}

// Get returns the cached value, recomputing first if dirty.
// An error returned by the compute function is passed straight to the reader
// and the computed stays dirty.
func (c *Computed) Get() (any, error) {
	if c.computing {
		return nil, domain.ErrCircularComputation
	}
	if c.disposed {
		return c.value, nil
	}
	c.rt.track(c)

	if c.dirty {
		if err := c.recompute(); err != nil {
			return nil, err
		}
	}
	return c.value, nil
}

// Peek returns the cached value without recomputing or tracking.
func (c *Computed) Peek() any {
	return c.value
}

// Dirty reports whether the next Get will recompute.
func (c *Computed) Dirty() bool {
	return c.dirty
}

// Version is bumped on every successful recompute.
func (c *Computed) Version() uint64 {
	return c.version
}

// Subscribe registers fn, called after a recompute that changed the value.
func (c *Computed) Subscribe(fn Subscriber) func() {
	return c.subs.add(fn)
}

// Dependencies returns how many sources the last recompute read.
func (c *Computed) Dependencies() int {
	return len(c.deps)
}

// Dispose detaches the computed from every dependency and drops its subscribers.
func (c *Computed) Dispose() {
	if c.disposed {
		return
	}
	c.clearDependencies()
	c.subs.clear()
	c.disposed = true
}

func (c *Computed) recompute() error {
	c.clearDependencies()

	value, err := c.run()
	if err != nil {
		return err
	}

	prev := c.value
	c.value = value
	c.dirty = false
	c.version++

	if !identical(prev, value) {
		c.subs.notify(value, prev)
	}
	return nil
}

func (c *Computed) run() (any, error) {
	c.computing = true
	c.rt.push(c)
	defer func() {
		c.rt.pop()
		c.computing = false
	}()
	return c.compute()
}

// markDirty invalidates the computed and, transitively, everything reading it.
func (c *Computed) markDirty() {
	if c.dirty || c.disposed {
		return
	}
	c.dirty = true
	for _, d := range c.dependentList() {
		d.markDirty()
	}
}

func (c *Computed) addDependency(src source) {
	if src == source(c) {
		return
	}
	c.deps[src] = struct{}{}
	src.addDependent(c)
}

func (c *Computed) clearDependencies() {
	for src := range c.deps {
		src.removeDependent(c)
	}
	c.deps = make(map[source]struct{})
}

func (c *Computed) addDependent(d *Computed) {
	c.dependents[d] = struct{}{}
}

func (c *Computed) removeDependent(d *Computed) {
	delete(c.dependents, d)
}

func (c *Computed) dependentList() []*Computed {
	list := make([]*Computed, 0, len(c.dependents))
	for d := range c.dependents {
		list = append(list, d)
	}
	return list
}
