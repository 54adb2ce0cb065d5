package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/aretw0/lattice/pkg/adapters/sqlite"
	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "lattice.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_Contract(t *testing.T) {
	ports.RunMutationStoreContract(t, openTemp(t))
}

func TestSQLiteGraphStore_Contract(t *testing.T) {
	ports.RunGraphStoreContract(t, openTemp(t))
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lattice.db")
	ctx := context.Background()

	store, err := sqlite.Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, domain.Mutation{ID: "m1", Type: "update", Status: domain.MutationSyncing, Timestamp: 5}))
	require.NoError(t, store.Close())

	reopened, err := sqlite.Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	m, err := reopened.Load(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, domain.MutationSyncing, m.Status)
}

func TestSQLiteStore_ListOrderAndCounts(t *testing.T) {
	store := openTemp(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, domain.Mutation{ID: "b", Type: "update", Timestamp: 20, Status: domain.MutationPending}))
	require.NoError(t, store.Save(ctx, domain.Mutation{ID: "c", Type: "update", Timestamp: 10, Status: domain.MutationFailed}))
	require.NoError(t, store.Save(ctx, domain.Mutation{ID: "a", Type: "update", Timestamp: 20, Status: domain.MutationPending}))

	list, err := store.List(ctx)
	require.NoError(t, err)
	ids := make([]string, len(list))
	for i, m := range list {
		ids[i] = m.ID
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)

	counts, err := store.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[domain.MutationStatus]int{domain.MutationPending: 2, domain.MutationFailed: 1}, counts)
}

func TestSQLiteGraphStore_CrossEdgeQuery(t *testing.T) {
	store := openTemp(t)
	ctx := context.Background()

	edges := []domain.CrossGraphEdge{
		{ID: "e2", SourceGraph: domain.GraphIntent, SourceNode: "save", TargetGraph: domain.GraphComponent, TargetNode: "button", EdgeType: "triggers", Metadata: map[string]any{"weight": 2.0}},
		{ID: "e1", SourceGraph: domain.GraphIntent, SourceNode: "save", TargetGraph: domain.GraphDomain, TargetNode: "doc", EdgeType: "writes"},
	}
	require.NoError(t, store.PersistCrossGraphEdges(ctx, edges))

	all, err := store.QueryCrossGraphEdges(ctx, domain.EdgeCriteria{SourceNode: "save"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "e1", all[0].ID)
	assert.Nil(t, all[0].Metadata)
	assert.Equal(t, 2.0, all[1].Metadata["weight"])

	typed, err := store.QueryCrossGraphEdges(ctx, domain.EdgeCriteria{TargetGraph: domain.GraphComponent, EdgeType: "triggers"})
	require.NoError(t, err)
	require.Len(t, typed, 1)
	assert.Equal(t, "e2", typed[0].ID)

	err = store.PersistCrossGraphEdges(ctx, []domain.CrossGraphEdge{{ID: "bad", SourceGraph: "nope"}})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestSQLiteGraphStore_RemoveNode(t *testing.T) {
	store := openTemp(t)
	ctx := context.Background()

	require.NoError(t, store.UpdateNodes(ctx, "g", []domain.GraphNode{{ID: "a"}, {ID: "b"}}))
	require.NoError(t, store.UpdateEdges(ctx, "g", []domain.GraphEdge{{ID: "ab", Source: "a", Target: "b"}}))
	require.NoError(t, store.RemoveNode(ctx, "g", "a"))
	require.NoError(t, store.RemoveNode(ctx, "absent", "a"))

	g, err := store.LoadGraph(ctx, "g")
	require.NoError(t, err)
	assert.Equal(t, []domain.GraphNode{{ID: "b"}}, g.Nodes)
	assert.Empty(t, g.Edges)

	_, err = store.LoadGraph(ctx, "absent")
	assert.ErrorIs(t, err, domain.ErrGraphNotFound)
}
