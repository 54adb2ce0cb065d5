package reactive

// Signal is a reactive value cell.
type Signal struct {
	rt         *Runtime
	value      any
	version    uint64
	subs       subscribers
	dependents map[*Computed]struct{}
}

// NewSignal creates a signal holding initial.
func (r *Runtime) NewSignal(initial any) *Signal {
	return &Signal{
		rt:         r,
		value:      initial,
		dependents: make(map[*Computed]struct{}),
	}
}

// Get returns the current value, registering the signal as a dependency
// of the computed currently being recomputed, if any.
func (s *Signal) Get() any {
	s.rt.track(s)
	return s.value
}

// Peek returns the current value without tracking.
func (s *Signal) Peek() any {
	return s.value
}

// Version is bumped on every effective write.
func (s *Signal) Version() uint64 {
	return s.version
}

// Set stores v. Writing a value identical to the current one is a no-op.
// Otherwise subscribers are notified synchronously and every dependent
// computed is marked dirty without being recomputed.
// It reports whether the value changed.
func (s *Signal) Set(v any) bool {
	if identical(s.value, v) {
		return false
	}
	prev := s.value
	s.value = v
	s.version++

	s.subs.notify(v, prev)

	for _, c := range s.dependentList() {
		c.markDirty()
	}
	return true
}

// Update sets the signal to fn(current).
func (s *Signal) Update(fn func(current any) any) bool {
	return s.Set(fn(s.value))
}

// Subscribe registers fn for every effective write. The returned func unsubscribes.
func (s *Signal) Subscribe(fn Subscriber) func() {
	return s.subs.add(fn)
}

// Dependents returns how many computeds currently depend on the signal.
func (s *Signal) Dependents() int {
	return len(s.dependents)
}

func (s *Signal) addDependent(c *Computed) {
	s.dependents[c] = struct{}{}
}

func (s *Signal) removeDependent(c *Computed) {
	delete(s.dependents, c)
}

func (s *Signal) dependentList() []*Computed {
	list := make([]*Computed, 0, len(s.dependents))
	for c := range s.dependents {
		list = append(list, c)
	}
	return list
}
