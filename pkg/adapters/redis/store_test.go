package redis_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/lattice/pkg/adapters/redis"
	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/ports"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*miniredis.Miniredis, *backend.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisStore_Contract(t *testing.T) {
	_, client := setup(t)
	ports.RunMutationStoreContract(t, redis.NewFromClient(client))
}

func TestRedisGraphStore_Contract(t *testing.T) {
	_, client := setup(t)
	ports.RunGraphStoreContract(t, redis.NewGraphStore(client))
}

func TestRedisStore_Prefix(t *testing.T) {
	mr, client := setup(t)

	store := redis.NewFromClient(client, redis.WithPrefix("custom:app:"))
	ctx := context.Background()

	err := store.Save(ctx, domain.Mutation{ID: "m1", Type: domain.MutationCreate, Timestamp: 10})
	require.NoError(t, err)

	assert.True(t, mr.Exists("custom:app:mutation:m1"), "Expected key with custom prefix to exist")
	assert.True(t, mr.Exists("custom:app:mutation-index"), "Expected index with custom prefix to exist")

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "m1", list[0].ID)
}

func TestRedisStore_ListOrderAndStalePruning(t *testing.T) {
	mr, client := setup(t)
	store := redis.NewFromClient(client)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, domain.Mutation{ID: "b", Type: "update", Timestamp: 20}))
	require.NoError(t, store.Save(ctx, domain.Mutation{ID: "c", Type: "update", Timestamp: 10}))
	require.NoError(t, store.Save(ctx, domain.Mutation{ID: "a", Type: "update", Timestamp: 20}))

	// Simulate a record lost outside the store (e.g. eviction).
	mr.Del("lattice:mutation:c")

	list, err := store.List(ctx)
	require.NoError(t, err)
	ids := make([]string, len(list))
	for i, m := range list {
		ids[i] = m.ID
	}
	assert.Equal(t, []string{"a", "b"}, ids)

	members, err := mr.ZMembers("lattice:mutation-index")
	require.NoError(t, err)
	assert.NotContains(t, members, "c", "stale index entry should be pruned")
}

func TestRedisGraphStore_ConcurrentUpdates(t *testing.T) {
	_, client := setup(t)
	store := redis.NewGraphStore(client)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			node := domain.GraphNode{ID: string(rune('a' + i))}
			assert.NoError(t, store.UpdateNodes(ctx, "shared", []domain.GraphNode{node}))
		}(i)
	}
	wg.Wait()

	g, err := store.LoadGraph(ctx, "shared")
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 5, "no upsert may be lost to a concurrent writer")
}

func TestRedisGraphStore_RemoveNode(t *testing.T) {
	mr, client := setup(t)
	store := redis.NewGraphStore(client)
	ctx := context.Background()

	require.NoError(t, store.RemoveNode(ctx, "missing", "a"))
	assert.False(t, mr.Exists("lattice:graph:missing"), "removing from a missing graph must not create it")

	require.NoError(t, store.PersistGraph(ctx, domain.GraphSnapshot{
		GraphID: "g",
		Nodes:   []domain.GraphNode{{ID: "a"}, {ID: "b"}},
		Edges:   []domain.GraphEdge{{ID: "ab", Source: "a", Target: "b"}},
	}))
	require.NoError(t, store.RemoveNode(ctx, "g", "b"))

	g, err := store.LoadGraph(ctx, "g")
	require.NoError(t, err)
	assert.Equal(t, []domain.GraphNode{{ID: "a"}}, g.Nodes)
	assert.Empty(t, g.Edges)
}

func TestRedisLocker_LockUnlock(t *testing.T) {
	mr, client := setup(t)
	locker := redis.NewLocker(client, "test:lock:")
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "resource1", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:lock:lock:resource1"), "Lock key should be set in Redis")

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists("test:lock:lock:resource1"), "Lock key should be removed after unlock")
}

func TestRedisLocker_Contention(t *testing.T) {
	_, client := setup(t)
	locker1 := redis.NewLocker(client, "test:lock:")
	locker2 := redis.NewLocker(client, "test:lock:")
	ctx := context.Background()
	key := "shared-resource"

	unlock1, err := locker1.Lock(ctx, key, 5*time.Second)
	require.NoError(t, err)

	ctxTimeout, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	_, err = locker2.Lock(ctxTimeout, key, 5*time.Second)
	assert.ErrorIs(t, err, redis.ErrLockAcquire)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, unlock1(ctx))

	unlock2, err := locker2.Lock(ctx, key, 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, unlock2(ctx))
}

func TestRedisLocker_StaleUnlockKeepsNewOwner(t *testing.T) {
	mr, client := setup(t)
	locker := redis.NewLocker(client, "")
	ctx := context.Background()

	unlock1, err := locker.Lock(ctx, "k", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	unlock2, err := locker.Lock(ctx, "k", 5*time.Second)
	require.NoError(t, err)

	// The first holder's lease expired; its unlock must not free the new owner.
	require.NoError(t, unlock1(ctx))
	assert.True(t, mr.Exists("lock:k"))
	require.NoError(t, unlock2(ctx))
	assert.False(t, mr.Exists("lock:k"))
}
