package redis

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/aretw0/lattice/internal/logging"
	"github.com/aretw0/lattice/pkg/bus"
	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/ports"
	backend "github.com/redis/go-redis/v9"
)

var _ ports.EventBus = (*Bus)(nil)

// Bus implements ports.EventBus over Redis pub/sub. Each event type maps to
// the channel <prefix>events:<type>; bus.Wildcard subscribes to the pattern.
//
// Events are JSON encoded, so subscribers in another process receive
// payloads as generic maps rather than the publisher's Go types.
// Delivery is at-most-once: events published while nobody listens are lost.
type Bus struct {
	client *backend.Client
	prefix string
	logger *slog.Logger

	mu   sync.Mutex
	subs map[*backend.PubSub]context.CancelFunc
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBusPrefix sets the channel prefix (default "lattice:").
func WithBusPrefix(prefix string) BusOption {
	return func(b *Bus) {
		b.prefix = prefix
	}
}

// WithBusLogger configures the logger for publish failures and handler panics.
func WithBusLogger(logger *slog.Logger) BusOption {
	return func(b *Bus) {
		b.logger = logger
	}
}

// NewBus creates a pub/sub bus on client.
func NewBus(client *backend.Client, opts ...BusOption) *Bus {
	b := &Bus{
		client: client,
		prefix: DefaultPrefix,
		logger: logging.NewNop(),
		subs:   make(map[*backend.PubSub]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bus) channel(t domain.EventType) string {
	return b.prefix + "events:" + string(t)
}

// Publish encodes evt and publishes it. Failures are logged, never returned.
func (b *Bus) Publish(ctx context.Context, evt domain.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		b.logger.Error("failed to encode event", "event", evt.Type, "err", err)
		return
	}
	if err := b.client.Publish(ctx, b.channel(evt.Type), data).Err(); err != nil {
		b.logger.Warn("failed to publish event", "event", evt.Type, "err", err)
	}
}

// Subscribe starts a receiver goroutine for eventType. The subscription is
// confirmed by the server before Subscribe returns.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) ports.UnsubscribeFunc {
	ctx, cancel := context.WithCancel(context.Background())

	var ps *backend.PubSub
	if eventType == bus.Wildcard {
		ps = b.client.PSubscribe(ctx, b.channel(bus.Wildcard))
	} else {
		ps = b.client.Subscribe(ctx, b.channel(eventType))
	}
	if _, err := ps.Receive(ctx); err != nil {
		b.logger.Warn("subscription not confirmed", "event", eventType, "err", err)
	}

	b.mu.Lock()
	b.subs[ps] = cancel
	b.mu.Unlock()

	msgs := ps.Channel()
	go func() {
		for msg := range msgs {
			var evt domain.Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				b.logger.Warn("dropping undecodable event", "channel", msg.Channel, "err", err)
				continue
			}
			b.deliver(ctx, handler, evt)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { b.release(ps) })
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

func (b *Bus) release(ps *backend.PubSub) {
	b.mu.Lock()
	cancel, ok := b.subs[ps]
	delete(b.subs, ps)
	b.mu.Unlock()
	if !ok {
		return
	}
	cancel()
	_ = ps.Close()
}

// Close ends every subscription. The client itself is left open.
func (b *Bus) Close() error {
	b.mu.Lock()
	subs := make([]*backend.PubSub, 0, len(b.subs))
	for ps := range b.subs {
		subs = append(subs, ps)
	}
	b.mu.Unlock()
	for _, ps := range subs {
		b.release(ps)
	}
	return nil
}
