package reactive

import "reflect"

// Runtime owns the tracking stack used for automatic dependency capture.
type Runtime struct {
	frames []*Computed
}

// NewRuntime creates an isolated reactive runtime.
func NewRuntime() *Runtime {
	return &Runtime{}
}

// Untrack runs fn without registering any dependency on the computed being recomputed.
func (r *Runtime) Untrack(fn func()) {
	r.push(nil)
	defer r.pop()
	fn()
}

// Tracking reports whether a computed is currently capturing dependencies.
func (r *Runtime) Tracking() bool {
	return r.current() != nil
}

func (r *Runtime) push(c *Computed) {
	r.frames = append(r.frames, c)
}

func (r *Runtime) pop() {
	r.frames[len(r.frames)-1] = nil
	r.frames = r.frames[:len(r.frames)-1]
}

func (r *Runtime) current() *Computed {
	if len(r.frames) == 0 {
		return nil
	}
	return r.frames[len(r.frames)-1]
}

// track registers src as a dependency of the computed on top of the stack.
func (r *Runtime) track(src source) {
	if c := r.current(); c != nil {
		c.addDependency(src)
	}
}

// source is anything a computed can depend on.
type source interface {
	addDependent(c *Computed)
	removeDependent(c *Computed)
}

// Subscriber receives the new and previous value of a signal.
type Subscriber func(value, previous any)

type subscription struct {
	id int
	fn Subscriber
}

// subscribers keeps callbacks in registration order.
type subscribers struct {
	next int
	list []subscription
}

func (s *subscribers) add(fn Subscriber) func() {
	s.next++
	id := s.next
	s.list = append(s.list, subscription{id: id, fn: fn})
	return func() { s.remove(id) }
}

func (s *subscribers) remove(id int) {
	for i, sub := range s.list {
		if sub.id == id {
			s.list = append(s.list[:i:i], s.list[i+1:]...)
			return
		}
	}
}

func (s *subscribers) notify(value, previous any) {
	if len(s.list) == 0 {
		return
	}
	snapshot := append([]subscription(nil), s.list...)
	for _, sub := range snapshot {
		sub.fn(value, previous)
	}
}

func (s *subscribers) clear() {
	s.list = nil
}

// identical is shallow identity: reference types compare by address,
// comparable values with ==. No deep comparison is ever performed.
func identical(a, b any) (same bool) {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}
	switch va.Kind() {
	case reflect.Slice:
		return va.Len() == vb.Len() && va.Pointer() == vb.Pointer()
	case reflect.Map, reflect.Pointer, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return va.Pointer() == vb.Pointer()
	}
	if !va.Type().Comparable() {
		return false
	}
	// Interface fields holding uncomparable values panic on ==.
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}
