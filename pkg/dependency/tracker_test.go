package dependency

import (
	"errors"
	"testing"

	"github.com/aretw0/lattice/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rel(source, target string) Relation {
	return Relation{SourceID: source, TargetID: target, EdgeID: source + "->" + target}
}

func TestTracker_AddDependency(t *testing.T) {
	tr := New()

	added, err := tr.AddDependency(rel("a", "b"))
	require.NoError(t, err)
	assert.True(t, added)

	added, err = tr.AddDependency(rel("a", "b"))
	require.NoError(t, err)
	assert.False(t, added, "duplicate tuple is ignored")

	assert.Equal(t, []string{"b"}, tr.GetDirectDependents("a"))
	assert.Equal(t, []string{"a"}, tr.GetDirectDependencies("b"))
	assert.Equal(t, 1, tr.Stats().Relations)
}

func TestTracker_RejectsSelfLoop(t *testing.T) {
	tr := New()
	_, err := tr.AddDependency(rel("a", "a"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrValidation))
	assert.Empty(t, tr.GetDirectDependents("a"))
}

func TestTracker_RejectsEmptyIDs(t *testing.T) {
	tr := New()
	_, err := tr.AddDependency(Relation{TargetID: "b"})
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = tr.AddDependency(Relation{SourceID: "a"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestTracker_TransitiveChain(t *testing.T) {
	tr := New()
	_, _ = tr.AddDependency(rel("a", "b"))
	_, _ = tr.AddDependency(rel("b", "c"))

	res := tr.GetTransitiveDependents("a")
	assert.Equal(t, []string{"b"}, res.Direct)
	assert.Equal(t, []string{"b", "c"}, res.Transitive)
	assert.Equal(t, 2, res.MaxDepth)
	assert.False(t, res.HasCycle)
}

func TestTracker_CycleIsRecordedNotRejected(t *testing.T) {
	tr := New()
	_, _ = tr.AddDependency(rel("a", "b"))
	_, _ = tr.AddDependency(rel("b", "c"))

	added, err := tr.AddDependency(rel("c", "a"))
	require.NoError(t, err)
	assert.True(t, added)
	assert.True(t, tr.HasCycle("a"))
	assert.Equal(t, []string{"a"}, tr.Stats().CycleNodes)

	res := tr.GetTransitiveDependents("a")
	assert.True(t, res.HasCycle)
	assert.Equal(t, []string{"b", "c"}, res.Transitive, "walk terminates and excludes the source")
}

func TestTracker_DiamondRevisitFlagsCycle(t *testing.T) {
	tr := New()
	_, _ = tr.AddDependency(rel("a", "b"))
	_, _ = tr.AddDependency(rel("a", "c"))
	_, _ = tr.AddDependency(rel("b", "d"))
	_, _ = tr.AddDependency(rel("c", "d"))

	res := tr.GetTransitiveDependents("a")
	assert.Equal(t, []string{"b", "c", "d"}, res.Transitive)
	assert.True(t, res.HasCycle)
	assert.False(t, tr.HasCycle("d"), "no structural cycle was recorded")
}

func TestTracker_MaxDepth(t *testing.T) {
	tr := New(WithMaxDepth(2))
	_, _ = tr.AddDependency(rel("a", "b"))
	_, _ = tr.AddDependency(rel("b", "c"))
	_, _ = tr.AddDependency(rel("c", "d"))

	res := tr.GetTransitiveDependents("a")
	assert.Equal(t, []string{"b", "c"}, res.Transitive)
	assert.Equal(t, 2, res.MaxDepth)
}

func TestTracker_CacheInvalidation(t *testing.T) {
	tr := New()
	_, _ = tr.AddDependency(rel("a", "b"))

	first := tr.GetTransitiveDependents("a")
	second := tr.GetTransitiveDependents("a")
	assert.Equal(t, first, second)
	stats := tr.Stats()
	assert.Equal(t, 1, stats.CacheHits)
	assert.Equal(t, 1, stats.CacheMisses)

	_, _ = tr.AddDependency(rel("b", "c"))
	assert.Equal(t, 0, tr.Stats().CachedWalks)
	assert.Equal(t, []string{"b", "c"}, tr.GetTransitiveDependents("a").Transitive)
}

func TestTracker_CachedResultIsNotShared(t *testing.T) {
	tr := New()
	_, _ = tr.AddDependency(rel("a", "b"))

	res := tr.GetTransitiveDependents("a")
	res.Transitive[0] = "mutated"
	assert.Equal(t, []string{"b"}, tr.GetTransitiveDependents("a").Transitive)
}

func TestTracker_RemoveDependency(t *testing.T) {
	tr := New()
	r := rel("a", "b")
	_, _ = tr.AddDependency(r)
	_, _ = tr.AddDependency(Relation{SourceID: "a", TargetID: "b", EdgeID: "other"})

	assert.True(t, tr.RemoveDependency(r))
	assert.False(t, tr.RemoveDependency(r))
	assert.Equal(t, []string{"b"}, tr.GetDirectDependents("a"), "second relation keeps the pair linked")

	assert.True(t, tr.RemoveDependency(Relation{SourceID: "a", TargetID: "b", EdgeID: "other"}))
	assert.Empty(t, tr.GetDirectDependents("a"))
	assert.Empty(t, tr.GetDirectDependencies("b"))
}

func TestTracker_RemoveNode(t *testing.T) {
	tr := New()
	_, _ = tr.AddDependency(rel("a", "b"))
	_, _ = tr.AddDependency(rel("b", "c"))
	_, _ = tr.AddDependency(rel("x", "b"))

	assert.Equal(t, 3, tr.RemoveNode("b"))
	assert.Empty(t, tr.GetDirectDependents("a"))
	assert.Empty(t, tr.GetDirectDependencies("c"))
	assert.Equal(t, 0, tr.Stats().Relations)
	assert.Equal(t, 0, tr.Stats().Nodes)
}

func TestTracker_DataKeyScopedRelations(t *testing.T) {
	tr := New()
	_, _ = tr.AddDependency(Relation{SourceID: "tokens", TargetID: "button", EdgeID: "uses_token", DataKey: "color"})
	_, _ = tr.AddDependency(Relation{SourceID: "tokens", TargetID: "card", EdgeID: "uses_token", DataKey: "spacing"})
	_, _ = tr.AddDependency(Relation{SourceID: "tokens", TargetID: "page", EdgeID: "used_by"})

	assert.Equal(t, []string{"button", "page"}, tr.GetDependentsForKey("tokens", "color"))
	assert.Len(t, tr.GetRelations("tokens"), 3)
}

func TestTracker_InvalidationSet(t *testing.T) {
	tr := New()
	_, _ = tr.AddDependency(rel("a", "b"))
	_, _ = tr.AddDependency(rel("b", "c"))
	_, _ = tr.AddDependency(rel("x", "y"))

	assert.Equal(t, []string{"b", "c", "y"}, tr.GetInvalidationSet("a", "x"))
	assert.Equal(t, []string{"c"}, tr.GetInvalidationSet("a", "b"), "changed ids are excluded")
}

func TestTracker_Clear(t *testing.T) {
	tr := New()
	_, _ = tr.AddDependency(rel("a", "b"))
	_, _ = tr.AddDependency(rel("b", "a"))
	tr.GetTransitiveDependents("a")

	tr.Clear()
	stats := tr.Stats()
	assert.Equal(t, 0, stats.Relations)
	assert.Equal(t, 0, stats.CachedWalks)
	assert.Empty(t, stats.CycleNodes)
}

// Forward and reverse maps must mirror each other after any sequence of edits.
func TestTracker_BidirectionalConsistency(t *testing.T) {
	tr := New()
	ids := []string{"a", "b", "c", "d", "e"}
	for i, s := range ids {
		for j, d := range ids {
			if (i+j)%2 == 1 {
				_, _ = tr.AddDependency(rel(s, d))
			}
		}
	}
	tr.RemoveNode("c")
	tr.RemoveDependency(rel("a", "b"))

	for _, s := range ids {
		for _, d := range tr.GetDirectDependents(s) {
			assert.Contains(t, tr.GetDirectDependencies(d), s)
		}
		for _, d := range tr.GetDirectDependencies(s) {
			assert.Contains(t, tr.GetDirectDependents(d), s)
		}
	}
}
