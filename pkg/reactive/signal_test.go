package reactive_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/reactive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignal(t *testing.T) {
	t.Run("set notifies subscribers and bumps version", func(t *testing.T) {
		rt := reactive.NewRuntime()
		count := rt.NewSignal(1)
		log := []string{}
		count.Subscribe(func(v, prev any) {
			log = append(log, fmt.Sprintf("%v->%v", prev, v))
		})

		assert.True(t, count.Set(2))
		assert.True(t, count.Update(func(cur any) any { return cur.(int) + 1 }))

		assert.Equal(t, 3, count.Get())
		assert.Equal(t, uint64(2), count.Version())
		assert.Equal(t, []string{"1->2", "2->3"}, log)
	})

	t.Run("identical value is a no-op", func(t *testing.T) {
		rt := reactive.NewRuntime()
		calls := 0
		s := rt.NewSignal("a")
		s.Subscribe(func(any, any) { calls++ })

		assert.False(t, s.Set("a"))
		assert.Equal(t, uint64(0), s.Version())
		assert.Equal(t, 0, calls)
	})

	t.Run("maps compare by reference only", func(t *testing.T) {
		rt := reactive.NewRuntime()
		m := map[string]any{"x": 1}
		s := rt.NewSignal(m)

		assert.False(t, s.Set(m), "same map is identical")
		assert.True(t, s.Set(map[string]any{"x": 1}), "equal content in a new map is a change")
	})

	t.Run("unsubscribe stops notifications", func(t *testing.T) {
		rt := reactive.NewRuntime()
		calls := 0
		s := rt.NewSignal(0)
		unsub := s.Subscribe(func(any, any) { calls++ })

		s.Set(1)
		unsub()
		s.Set(2)

		assert.Equal(t, 1, calls)
	})
}

func TestComputed(t *testing.T) {
	t.Run("memoizes between writes", func(t *testing.T) {
		rt := reactive.NewRuntime()
		runs := 0
		count := rt.NewSignal(2)
		double := rt.NewComputed(func() (any, error) {
			runs++
			return count.Get().(int) * 2, nil
		})

		for i := 0; i < 5; i++ {
			v, err := double.Get()
			require.NoError(t, err)
			assert.Equal(t, 4, v)
		}
		assert.Equal(t, 1, runs)
	})

	t.Run("write marks dirty without recomputing", func(t *testing.T) {
		rt := reactive.NewRuntime()
		runs := 0
		count := rt.NewSignal(1)
		double := rt.NewComputed(func() (any, error) {
			runs++
			return count.Get().(int) * 2, nil
		})
		_, _ = double.Get()

		count.Set(5)
		assert.True(t, double.Dirty())
		assert.Equal(t, 1, runs)

		v, err := double.Get()
		require.NoError(t, err)
		assert.Equal(t, 10, v)
		assert.Equal(t, 2, runs)
	})

	t.Run("cascades through a chain", func(t *testing.T) {
		rt := reactive.NewRuntime()
		log := []string{}
		a := rt.NewSignal(1)
		b := rt.NewComputed(func() (any, error) {
			log = append(log, "b")
			return a.Get().(int) + 1, nil
		})
		c := rt.NewComputed(func() (any, error) {
			log = append(log, "c")
			v, err := b.Get()
			if err != nil {
				return nil, err
			}
			return v.(int) * 10, nil
		})

		v, err := c.Get()
		require.NoError(t, err)
		assert.Equal(t, 20, v)

		a.Set(4)
		assert.True(t, b.Dirty())
		assert.True(t, c.Dirty())

		v, err = c.Get()
		require.NoError(t, err)
		assert.Equal(t, 50, v)
		assert.Equal(t, []string{"c", "b", "c", "b"}, log)
	})

	t.Run("rebuilds dependencies on each recompute", func(t *testing.T) {
		rt := reactive.NewRuntime()
		useA := rt.NewSignal(true)
		a := rt.NewSignal("a")
		b := rt.NewSignal("b")
		pick := rt.NewComputed(func() (any, error) {
			if useA.Get().(bool) {
				return a.Get(), nil
			}
			return b.Get(), nil
		})

		v, _ := pick.Get()
		assert.Equal(t, "a", v)
		assert.Equal(t, 1, a.Dependents())
		assert.Equal(t, 0, b.Dependents())

		useA.Set(false)
		v, _ = pick.Get()
		assert.Equal(t, "b", v)
		assert.Equal(t, 0, a.Dependents())
		assert.Equal(t, 1, b.Dependents())
		assert.Equal(t, 2, pick.Dependencies())
	})

	t.Run("notifies subscribers only after recompute", func(t *testing.T) {
		rt := reactive.NewRuntime()
		count := rt.NewSignal(1)
		double := rt.NewComputed(func() (any, error) {
			return count.Get().(int) * 2, nil
		})
		seen := []any{}
		double.Subscribe(func(v, _ any) { seen = append(seen, v) })

		_, _ = double.Get()
		count.Set(2)
		assert.Equal(t, []any{2}, seen, "write alone must not notify")

		_, _ = double.Get()
		assert.Equal(t, []any{2, 4}, seen)
	})

	t.Run("compute errors propagate and keep it dirty", func(t *testing.T) {
		rt := reactive.NewRuntime()
		boom := errors.New("boom")
		fail := rt.NewSignal(true)
		c := rt.NewComputed(func() (any, error) {
			if fail.Get().(bool) {
				return nil, boom
			}
			return "ok", nil
		})

		_, err := c.Get()
		assert.ErrorIs(t, err, boom)
		assert.True(t, c.Dirty())
		assert.False(t, rt.Tracking(), "tracking stack must be restored")

		fail.Set(false)
		v, err := c.Get()
		require.NoError(t, err)
		assert.Equal(t, "ok", v)
	})

	t.Run("self read is circular", func(t *testing.T) {
		rt := reactive.NewRuntime()
		var self *reactive.Computed
		self = rt.NewComputed(func() (any, error) {
			return self.Get()
		})

		_, err := self.Get()
		assert.ErrorIs(t, err, domain.ErrCircularComputation)
	})

	t.Run("untrack skips dependency capture", func(t *testing.T) {
		rt := reactive.NewRuntime()
		s := rt.NewSignal(1)
		c := rt.NewComputed(func() (any, error) {
			var v any
			rt.Untrack(func() { v = s.Get() })
			return v, nil
		})

		_, _ = c.Get()
		assert.Equal(t, 0, s.Dependents())
	})

	t.Run("dispose detaches from dependencies", func(t *testing.T) {
		rt := reactive.NewRuntime()
		s := rt.NewSignal(1)
		c := rt.NewComputed(func() (any, error) { return s.Get(), nil })
		_, _ = c.Get()
		require.Equal(t, 1, s.Dependents())

		c.Dispose()
		assert.Equal(t, 0, s.Dependents())

		s.Set(2)
		assert.False(t, c.Dirty())
	})

	t.Run("runtimes are isolated", func(t *testing.T) {
		rt1, rt2 := reactive.NewRuntime(), reactive.NewRuntime()
		s := rt2.NewSignal(1)
		c := rt1.NewComputed(func() (any, error) { return s.Get(), nil })

		_, _ = c.Get()
		assert.Equal(t, 0, s.Dependents(), "reads from another runtime are not tracked")
	})
}
