package redis_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/lattice/pkg/adapters/redis"
	"github.com/aretw0/lattice/pkg/bus"
	"github.com/aretw0/lattice/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type received struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *received) handle(_ context.Context, evt domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *received) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *received) at(i int) domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[i]
}

func TestRedisBus_PublishSubscribe(t *testing.T) {
	_, client := setup(t)
	b := redis.NewBus(client)
	defer b.Close()
	ctx := context.Background()

	var got received
	unsub := b.Subscribe(domain.EventNetworkStatusChanged, got.handle)
	defer unsub()

	b.Publish(ctx, domain.NewEvent(domain.EventNetworkStatusChanged, "queue", domain.NetworkStatus{Online: true}))
	b.Publish(ctx, domain.NewEvent(domain.EventSyncStarted, "queue", nil))

	require.Eventually(t, func() bool { return got.len() == 1 }, 2*time.Second, 10*time.Millisecond)
	evt := got.at(0)
	assert.Equal(t, domain.EventNetworkStatusChanged, evt.Type)
	assert.Equal(t, "queue", evt.Source)
	assert.Equal(t, map[string]any{"online": true}, evt.Payload)
}

func TestRedisBus_Wildcard(t *testing.T) {
	_, client := setup(t)
	b := redis.NewBus(client)
	defer b.Close()
	ctx := context.Background()

	var got received
	defer b.Subscribe(bus.Wildcard, got.handle)()

	b.Publish(ctx, domain.NewEvent(domain.EventSyncStarted, "queue", nil))
	b.Publish(ctx, domain.NewEvent(domain.EventSyncCompleted, "queue", domain.SyncReport{Synced: 2}))

	require.Eventually(t, func() bool { return got.len() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestRedisBus_UnsubscribeAndPanics(t *testing.T) {
	_, client := setup(t)
	b := redis.NewBus(client)
	defer b.Close()
	ctx := context.Background()

	var got received
	unsubPanic := b.Subscribe(domain.EventSyncStarted, func(context.Context, domain.Event) { panic("boom") })
	unsub := b.Subscribe(domain.EventSyncStarted, got.handle)

	b.Publish(ctx, domain.NewEvent(domain.EventSyncStarted, "queue", nil))
	require.Eventually(t, func() bool { return got.len() == 1 }, 2*time.Second, 10*time.Millisecond)

	unsub()
	unsub()
	unsubPanic()
	b.Publish(ctx, domain.NewEvent(domain.EventSyncStarted, "queue", nil))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, got.len())
}
