// Package bus provides the in-process event transport.
package bus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/aretw0/lattice/internal/logging"
	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/ports"
)

// Wildcard subscribes a handler to every event type.
const Wildcard domain.EventType = "*"

type subscription struct {
	id      uint64
	handler domain.EventHandler
}

// Bus delivers events synchronously, in subscription order, on the publisher's
// goroutine. A panicking handler is logged and skipped.
type Bus struct {
	mu     sync.RWMutex
	subs   map[domain.EventType][]subscription
	nextID uint64
	logger *slog.Logger
}

var _ ports.EventBus = (*Bus)(nil)

// Option configures a Bus.
type Option func(*Bus)

// WithLogger configures the logger used for handler panics.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:   make(map[domain.EventType][]subscription),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handler for one event type, or every type with Wildcard.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) ports.UnsubscribeFunc {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs[eventType] = append(b.subs[eventType], subscription{id: id, handler: handler})

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(eventType, id) })
	}
}

func (b *Bus) remove(eventType domain.EventType, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[eventType]
	for i, s := range subs {
		if s.id == id {
			b.subs[eventType] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[eventType]) == 0 {
		delete(b.subs, eventType)
	}
}

// Publish delivers evt to every matching handler. Handlers run after the
// subscriber list is copied, so they may subscribe or unsubscribe freely.
func (b *Bus) Publish(ctx context.Context, evt domain.Event) {
	b.mu.RLock()
	targets := make([]subscription, 0, len(b.subs[evt.Type])+len(b.subs[Wildcard]))
	targets = append(targets, b.subs[evt.Type]...)
	if evt.Type != Wildcard {
		targets = append(targets, b.subs[Wildcard]...)
	}
	b.mu.RUnlock()

	for _, s := range targets {
		b.deliver(ctx, s.handler, evt)
	}
}

func (b *Bus) deliver(ctx context.Context, handler domain.EventHandler, evt domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "event", evt.Type, "source", evt.Source, "panic", r)
		}
	}()
	handler(ctx, evt)
}

// Subscribers returns the number of handlers registered for eventType.
func (b *Bus) Subscribers(eventType domain.EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[eventType])
}
