package lattice_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/lattice"
	"github.com/aretw0/lattice/pkg/adapters/file"
	"github.com/aretw0/lattice/pkg/adapters/memory"
	"github.com/aretw0/lattice/pkg/adapters/remote"
	"github.com/aretw0/lattice/pkg/dependency"
	"github.com/aretw0/lattice/pkg/dsl"
	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/queue"
)

func TestEngine_ConnectivityDrainsQueueIntoGraph(t *testing.T) {
	ctx := context.Background()
	graphs := memory.NewGraphStore()
	eng, err := lattice.New(
		lattice.WithGraphStore(graphs),
		lattice.WithQueueOptions(queue.WithOnline(false)),
	)
	require.NoError(t, err)

	_, err = eng.Start(ctx)
	require.NoError(t, err)
	defer eng.Close()

	_, err = eng.Queue.QueueMutation(ctx, domain.Mutation{
		Type:       domain.MutationCreate,
		EntityID:   "user-1",
		EntityType: "user",
		Payload:    map[string]any{"name": "Ada"},
	})
	require.NoError(t, err)
	assert.Len(t, eng.Queue.Pending(), 1)

	eng.Bus.Publish(ctx, domain.NewEvent(domain.EventConnectivityChanged, "host", true))

	assert.True(t, eng.Queue.IsOnline())
	assert.Empty(t, eng.Queue.Pending())

	snap, err := graphs.LoadGraph(ctx, remote.DefaultGraphID)
	require.NoError(t, err)
	require.Len(t, snap.Nodes, 1)
	assert.Equal(t, "Ada", snap.Nodes[0].Data["name"])
}

func TestEngine_StartRestoresPersistedMutations(t *testing.T) {
	ctx := context.Background()
	store := file.New(t.TempDir())

	first, err := lattice.New(
		lattice.WithMutationStore(store),
		lattice.WithQueueOptions(queue.WithOnline(false)),
	)
	require.NoError(t, err)
	queued, err := first.Queue.QueueMutation(ctx, domain.Mutation{Type: domain.MutationUpdate, EntityID: "doc-1"})
	require.NoError(t, err)

	second, err := lattice.New(
		lattice.WithMutationStore(store),
		lattice.WithQueueOptions(queue.WithOnline(false)),
	)
	require.NoError(t, err)
	n, err := second.Start(ctx)
	require.NoError(t, err)
	defer second.Close()

	assert.Equal(t, 1, n)
	got, err := second.Queue.Get(queued.ID)
	require.NoError(t, err)
	assert.Equal(t, "doc-1", got.EntityID)
}

func TestEngine_IndexWriteThroughAndLoad(t *testing.T) {
	ctx := context.Background()
	graphs := memory.NewGraphStore()

	eng, err := lattice.New(lattice.WithGraphStore(graphs))
	require.NoError(t, err)

	edge := domain.CrossGraphEdge{
		ID:          "e1",
		SourceGraph: domain.GraphIntent,
		SourceNode:  "intent-1",
		TargetGraph: domain.GraphDomain,
		TargetNode:  "user-1",
		EdgeType:    "targets",
	}
	require.NoError(t, eng.AddEdge(ctx, edge))
	assert.Error(t, eng.AddEdge(ctx, domain.CrossGraphEdge{ID: "bad"}))

	reopened, err := lattice.New(lattice.WithGraphStore(graphs))
	require.NoError(t, err)
	_, err = reopened.Start(ctx)
	require.NoError(t, err)
	defer reopened.Close()

	got := reopened.QueryEdges(domain.EdgeCriteria{TargetNode: "user-1"})
	require.Len(t, got, 1)
	assert.Equal(t, "e1", got[0].ID)
}

func TestEngine_SaveIndexPersistsEveryEdge(t *testing.T) {
	ctx := context.Background()
	graphs := memory.NewGraphStore()
	eng, err := lattice.New(lattice.WithGraphStore(graphs))
	require.NoError(t, err)

	require.NoError(t, eng.Index.AddEdges([]domain.CrossGraphEdge{
		{ID: "a", SourceGraph: domain.GraphComponent, SourceNode: "c1", TargetGraph: domain.GraphDomain, TargetNode: "d1", EdgeType: "renders"},
		{ID: "b", SourceGraph: domain.GraphComponent, SourceNode: "c2", TargetGraph: domain.GraphDomain, TargetNode: "d1", EdgeType: "renders"},
	}))
	require.NoError(t, eng.SaveIndex(ctx))

	stored, err := graphs.QueryCrossGraphEdges(ctx, domain.EdgeCriteria{EdgeType: "renders"})
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	assert.True(t, eng.Index.RemoveEdge("a"))
	require.NoError(t, eng.SaveIndex(ctx))

	stored, err = graphs.QueryCrossGraphEdges(ctx, domain.EdgeCriteria{})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "b", stored[0].ID)
}

func TestEngine_RemoveEdge(t *testing.T) {
	ctx := context.Background()
	graphs := memory.NewGraphStore()
	eng, err := lattice.New(lattice.WithGraphStore(graphs))
	require.NoError(t, err)

	require.NoError(t, eng.AddEdge(ctx, domain.CrossGraphEdge{
		ID: "e1", SourceGraph: domain.GraphIntent, SourceNode: "i", TargetGraph: domain.GraphDomain, TargetNode: "d", EdgeType: "targets",
	}))

	removed, err := eng.RemoveEdge(ctx, "e1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = eng.RemoveEdge(ctx, "e1")
	require.NoError(t, err)
	assert.False(t, removed)

	stored, err := graphs.QueryCrossGraphEdges(ctx, domain.EdgeCriteria{})
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestEngine_DetectConflictsAgainstGraphState(t *testing.T) {
	ctx := context.Background()
	graphs := memory.NewGraphStore()
	require.NoError(t, dsl.New(remote.DefaultGraphID).
		Add("user-1").Type("user").Set("name", "Bob").
		Persist(ctx, graphs))

	eng, err := lattice.New(
		lattice.WithGraphStore(graphs),
		lattice.WithQueueOptions(queue.WithOnline(false)),
	)
	require.NoError(t, err)

	_, err = eng.Queue.QueueMutation(ctx, domain.Mutation{
		Type:     domain.MutationUpdate,
		EntityID: "user-1",
		Payload:  map[string]any{"name": "Ada"},
	})
	require.NoError(t, err)

	conflicts, err := eng.DetectConflicts(ctx)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "user-1", conflicts[0].EntityID)
	assert.Equal(t, "Bob", conflicts[0].ServerData["name"])
	assert.Len(t, eng.Resolver.Pending(), 1)
}

func TestEngine_DetectConflictsNeedsServerState(t *testing.T) {
	eng, err := lattice.New(lattice.WithRemote(remote.NewHTTPTarget("http://127.0.0.1:0/apply")))
	require.NoError(t, err)

	_, err = eng.DetectConflicts(context.Background())
	assert.ErrorIs(t, err, lattice.ErrNoServerState)
}

func TestEngine_Invalidate(t *testing.T) {
	eng, err := lattice.New()
	require.NoError(t, err)

	_, err = eng.AddDependency(dependency.Relation{SourceID: "a", TargetID: "b", EdgeID: "ab"})
	require.NoError(t, err)
	_, err = eng.AddDependency(dependency.Relation{SourceID: "b", TargetID: "c", EdgeID: "bc"})
	require.NoError(t, err)

	assert.Equal(t, []string{"b", "c"}, eng.Invalidate("a"))
	assert.Empty(t, eng.Invalidate("c"))

	// Results are sorted by id, not by distance from the changed node.
	_, err = eng.AddDependency(dependency.Relation{SourceID: "x", TargetID: "z", EdgeID: "xz"})
	require.NoError(t, err)
	_, err = eng.AddDependency(dependency.Relation{SourceID: "z", TargetID: "y", EdgeID: "zy"})
	require.NoError(t, err)
	assert.Equal(t, []string{"y", "z"}, eng.Invalidate("x"))
}

func TestEngine_NodePublishesOnBus(t *testing.T) {
	eng, err := lattice.New()
	require.NoError(t, err)

	var got []domain.EventType
	eng.Bus.Subscribe(domain.EventNodeStateChanged, func(_ context.Context, evt domain.Event) {
		got = append(got, evt.Type)
	})

	node := eng.NewNode("user-1", "user")
	_, err = node.DefineSignal("name", "Ada")
	require.NoError(t, err)
	require.NoError(t, node.Set("name", "Grace"))

	assert.Equal(t, []domain.EventType{domain.EventNodeStateChanged}, got)
	assert.Same(t, eng.Runtime, node.Runtime())
}

func TestEngine_RegistryRejectsDuplicates(t *testing.T) {
	reg := prometheus.NewRegistry()

	_, err := lattice.New(lattice.WithRegistry(reg))
	require.NoError(t, err)

	_, err = lattice.New(lattice.WithRegistry(reg))
	assert.Error(t, err)
}

func TestEngine_ReconcileSettlesQueue(t *testing.T) {
	ctx := context.Background()
	seed := func(t *testing.T) (*lattice.Engine, domain.Mutation) {
		graphs := memory.NewGraphStore()
		require.NoError(t, graphs.UpdateNodes(ctx, remote.DefaultGraphID, []domain.GraphNode{
			{ID: "user-1", Type: "user", Data: map[string]any{"name": "Bob"}},
		}))
		eng, err := lattice.New(
			lattice.WithGraphStore(graphs),
			lattice.WithQueueOptions(queue.WithOnline(false)),
		)
		require.NoError(t, err)
		m, err := eng.Queue.QueueMutation(ctx, domain.Mutation{
			Type:     domain.MutationUpdate,
			EntityID: "user-1",
			Payload:  map[string]any{"name": "Ada"},
		})
		require.NoError(t, err)
		return eng, m
	}

	t.Run("server wins drops the local mutation", func(t *testing.T) {
		eng, _ := seed(t)
		res, err := eng.Reconcile(ctx, "server-wins")
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.False(t, res[0].RequiresSync)
		assert.Empty(t, eng.Queue.All())
		assert.Empty(t, eng.Resolver.Pending())
	})

	t.Run("client wins requeues the local value", func(t *testing.T) {
		eng, original := seed(t)
		res, err := eng.Reconcile(ctx, "client-wins")
		require.NoError(t, err)
		require.Len(t, res, 1)

		pending := eng.Queue.Pending()
		require.Len(t, pending, 1)
		assert.NotEqual(t, original.ID, pending[0].ID)
		assert.Equal(t, domain.MutationUpdate, pending[0].Type)
		assert.Equal(t, "Ada", pending[0].Payload["name"])
	})

	t.Run("manual keeps the local mutation", func(t *testing.T) {
		eng, original := seed(t)
		res, err := eng.Reconcile(ctx, "manual")
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.Contains(t, res[0].Warnings, "Manual resolution required")

		pending := eng.Queue.Pending()
		require.Len(t, pending, 1)
		assert.Equal(t, original.ID, pending[0].ID)
	})
}
