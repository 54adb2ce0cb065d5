package ports

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aretw0/lattice/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunMutationStoreContract runs a suite of tests to verify that a MutationStore implementation
// adheres to the defined interface contract.
func RunMutationStoreContract(t *testing.T, store MutationStore) {
	ctx := context.Background()
	prefix := "contract-" + time.Now().Format("20060102150405")

	t.Run("Save and Load", func(t *testing.T) {
		m := domain.Mutation{
			ID:        prefix + "-save",
			Type:      domain.MutationUpdate,
			EntityID:  "n1",
			Payload:   map[string]any{"value": "five"},
			Timestamp: 1700000000000,
			Status:    domain.MutationPending,
		}
		require.NoError(t, store.Save(ctx, m), "Save should not return error")

		loaded, err := store.Load(ctx, m.ID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, m.Type, loaded.Type)
		assert.Equal(t, m.EntityID, loaded.EntityID)
		assert.Equal(t, m.Timestamp, loaded.Timestamp)
		assert.Equal(t, domain.MutationPending, loaded.Status)
		assert.Equal(t, "five", loaded.Payload["value"])
	})

	t.Run("Save overwrites status", func(t *testing.T) {
		m := domain.Mutation{ID: prefix + "-status", Type: domain.MutationCreate, Status: domain.MutationPending}
		require.NoError(t, store.Save(ctx, m))

		m.Status = domain.MutationFailed
		m.RetryCount = 3
		m.Error = "boom"
		require.NoError(t, store.Save(ctx, m))

		loaded, err := store.Load(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.MutationFailed, loaded.Status)
		assert.Equal(t, 3, loaded.RetryCount)
		assert.Equal(t, "boom", loaded.Error)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+prefix)
		assert.ErrorIs(t, err, domain.ErrMutationNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		id := prefix + "-delete"
		require.NoError(t, store.Save(ctx, domain.Mutation{ID: id, Type: domain.MutationDelete, Status: domain.MutationPending}))
		require.NoError(t, store.Delete(ctx, id), "Delete should not return error")

		_, err := store.Load(ctx, id)
		assert.ErrorIs(t, err, domain.ErrMutationNotFound, "Load after Delete should return ErrMutationNotFound")

		assert.NoError(t, store.Delete(ctx, id), "Delete of a missing record should be idempotent")
	})

	t.Run("List", func(t *testing.T) {
		ids := []string{prefix + "-list-1", prefix + "-list-2"}
		for i, id := range ids {
			require.NoError(t, store.Save(ctx, domain.Mutation{
				ID: id, Type: domain.MutationUpdate, Timestamp: int64(i), Status: domain.MutationPending,
			}))
		}
		defer func() {
			for _, id := range ids {
				_ = store.Delete(ctx, id)
			}
		}()

		list, err := store.List(ctx)
		require.NoError(t, err)
		seen := make(map[string]bool)
		for _, m := range list {
			seen[m.ID] = true
		}
		for _, id := range ids {
			assert.True(t, seen[id], fmt.Sprintf("expected %s in list", id))
		}
	})
}

// RunGraphStoreContract runs a suite of tests to verify that a GraphStore implementation
// adheres to the defined interface contract.
func RunGraphStoreContract(t *testing.T, store GraphStore) {
	ctx := context.Background()
	graphID := "contract-graph-" + time.Now().Format("20060102150405")

	t.Run("Persist and Load", func(t *testing.T) {
		snap := domain.GraphSnapshot{
			GraphID:  graphID,
			Nodes:    []domain.GraphNode{{ID: "a", Type: "card"}, {ID: "b"}},
			Edges:    []domain.GraphEdge{{ID: "ab", Source: "a", Target: "b"}},
			Metadata: map[string]any{"owner": "contract"},
		}
		require.NoError(t, store.PersistGraph(ctx, snap))

		loaded, err := store.LoadGraph(ctx, graphID)
		require.NoError(t, err)
		assert.Equal(t, graphID, loaded.GraphID)
		assert.Len(t, loaded.Nodes, 2)
		assert.Len(t, loaded.Edges, 1)
		assert.Equal(t, "contract", loaded.Metadata["owner"])
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.LoadGraph(ctx, "missing-"+graphID)
		assert.ErrorIs(t, err, domain.ErrGraphNotFound)
	})

	t.Run("Update Nodes and Edges", func(t *testing.T) {
		id := graphID + "-upd"
		require.NoError(t, store.UpdateNodes(ctx, id, []domain.GraphNode{{ID: "x"}}))
		require.NoError(t, store.UpdateNodes(ctx, id, []domain.GraphNode{{ID: "x", Type: "button"}, {ID: "y"}}))
		require.NoError(t, store.UpdateEdges(ctx, id, []domain.GraphEdge{{ID: "xy", Source: "x", Target: "y"}}))

		loaded, err := store.LoadGraph(ctx, id)
		require.NoError(t, err)
		require.Len(t, loaded.Nodes, 2)
		assert.Equal(t, "button", loaded.Nodes[0].Type)
		assert.Len(t, loaded.Edges, 1)
	})

	t.Run("Cross-Graph Edges", func(t *testing.T) {
		edges := []domain.CrossGraphEdge{
			{ID: graphID + "-e1", SourceGraph: domain.GraphIntent, SourceNode: "save", TargetGraph: domain.GraphComponent, TargetNode: "button", EdgeType: "triggers"},
			{ID: graphID + "-e2", SourceGraph: domain.GraphDomain, SourceNode: "doc", TargetGraph: domain.GraphComponent, TargetNode: "editor", EdgeType: "renders"},
		}
		require.NoError(t, store.PersistCrossGraphEdges(ctx, edges))

		found, err := store.QueryCrossGraphEdges(ctx, domain.EdgeCriteria{SourceNode: "save", EdgeType: "triggers"})
		require.NoError(t, err)
		ids := make([]string, 0, len(found))
		for _, e := range found {
			ids = append(ids, e.ID)
		}
		assert.Contains(t, ids, graphID+"-e1")
		assert.NotContains(t, ids, graphID+"-e2")
	})

	t.Run("Delete Cross-Graph Edges", func(t *testing.T) {
		edge := domain.CrossGraphEdge{ID: graphID + "-del", SourceGraph: domain.GraphIntent, SourceNode: "drop", TargetGraph: domain.GraphDomain, TargetNode: "doc", EdgeType: "deletes"}
		require.NoError(t, store.PersistCrossGraphEdges(ctx, []domain.CrossGraphEdge{edge}))

		require.NoError(t, store.DeleteCrossGraphEdges(ctx, []string{edge.ID, graphID + "-never-stored"}))
		require.NoError(t, store.DeleteCrossGraphEdges(ctx, nil))

		found, err := store.QueryCrossGraphEdges(ctx, domain.EdgeCriteria{EdgeType: "deletes"})
		require.NoError(t, err)
		assert.Empty(t, found)
	})
}
