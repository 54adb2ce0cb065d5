package file_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/lattice/pkg/adapters/file"
	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_Contract(t *testing.T) {
	ports.RunMutationStoreContract(t, file.New(t.TempDir()))
}

func TestFileGraphStore_Contract(t *testing.T) {
	ports.RunGraphStoreContract(t, file.NewGraphStore(t.TempDir()))
}

func TestFileStore_AtomicWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := file.New(dir)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Save(ctx, domain.Mutation{ID: "m1", Type: domain.MutationUpdate, RetryCount: i}))
	}

	entries, err := os.ReadDir(filepath.Join(dir, "mutations"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "m1.json", entries[0].Name())

	loaded, err := store.Load(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.RetryCount)
}

func TestFileStore_ListOrder(t *testing.T) {
	store := file.New(t.TempDir())
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, domain.Mutation{ID: "b", Type: "update", Timestamp: 20}))
	require.NoError(t, store.Save(ctx, domain.Mutation{ID: "c", Type: "update", Timestamp: 10}))
	require.NoError(t, store.Save(ctx, domain.Mutation{ID: "a", Type: "update", Timestamp: 20}))

	list, err := store.List(ctx)
	require.NoError(t, err)
	ids := make([]string, len(list))
	for i, m := range list {
		ids[i] = m.ID
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)
}

func TestFileStore_EmptyDirectory(t *testing.T) {
	store := file.New(filepath.Join(t.TempDir(), "never-created"))
	list, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestFileStore_RejectsPathIDs(t *testing.T) {
	store := file.New(t.TempDir())
	err := store.Save(context.Background(), domain.Mutation{ID: "../escape", Type: "update"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestFileGraphStore_RemoveNode(t *testing.T) {
	store := file.NewGraphStore(t.TempDir())
	ctx := context.Background()

	require.NoError(t, store.PersistGraph(ctx, domain.GraphSnapshot{
		GraphID: "g",
		Nodes:   []domain.GraphNode{{ID: "a"}, {ID: "b"}},
		Edges:   []domain.GraphEdge{{ID: "ab", Source: "a", Target: "b"}},
	}))
	require.NoError(t, store.RemoveNode(ctx, "g", "a"))
	require.NoError(t, store.RemoveNode(ctx, "missing", "a"))

	g, err := store.LoadGraph(ctx, "g")
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 1)
	assert.Empty(t, g.Edges)
}

func TestFileGraphStore_CrossEdgesSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	edge := domain.CrossGraphEdge{
		ID: "e1", SourceGraph: domain.GraphIntent, SourceNode: "save",
		TargetGraph: domain.GraphComponent, TargetNode: "button", EdgeType: "triggers",
	}
	require.NoError(t, file.NewGraphStore(dir).PersistCrossGraphEdges(ctx, []domain.CrossGraphEdge{edge}))

	found, err := file.NewGraphStore(dir).QueryCrossGraphEdges(ctx, domain.EdgeCriteria{TargetNode: "button"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, edge, found[0])
}

func TestFileGraphStore_RejectsInvalidEdge(t *testing.T) {
	store := file.NewGraphStore(t.TempDir())
	err := store.PersistCrossGraphEdges(context.Background(), []domain.CrossGraphEdge{{ID: "x"}})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
