package merge

import (
	"fmt"

	"github.com/aretw0/lattice/pkg/domain"
)

// Manager holds a default strategy and optional per-entity overrides.
type Manager struct {
	def       Strategy
	overrides map[string]Strategy
}

// NewManager creates a manager. A nil default falls back to last-write-wins.
func NewManager(def Strategy) *Manager {
	if def == nil {
		def = LastWriteWins{}
	}
	return &Manager{def: def, overrides: make(map[string]Strategy)}
}

// SetDefault replaces the default strategy.
func (m *Manager) SetDefault(s Strategy) {
	if s != nil {
		m.def = s
	}
}

// Override sets the strategy for one entity. A nil strategy removes the override.
func (m *Manager) Override(entityID string, s Strategy) {
	if s == nil {
		delete(m.overrides, entityID)
		return
	}
	m.overrides[entityID] = s
}

// StrategyFor returns the strategy applied to an entity.
func (m *Manager) StrategyFor(entityID string) Strategy {
	if s, ok := m.overrides[entityID]; ok {
		return s
	}
	return m.def
}

// Merge reconciles two operations with the local entity's strategy.
func (m *Manager) Merge(local, remote domain.GraphOperation, base *domain.GraphSnapshot) domain.MergeResult {
	return m.StrategyFor(local.EntityID).Merge(local, remote, base)
}

// MergeMany merges every local operation against the remote operations on the
// same entity. Local operations without a collision and remote operations on
// entities no local operation touched pass through unchanged. Operations are
// emitted in local order, followed by the uncollided remotes in their input order.
func (m *Manager) MergeMany(locals, remotes []domain.GraphOperation, base *domain.GraphSnapshot) domain.MergeResult {
	buckets := make(map[string][]domain.GraphOperation)
	for _, r := range remotes {
		buckets[r.EntityID] = append(buckets[r.EntityID], r)
	}

	out := domain.MergeResult{
		Success:    true,
		Operations: []domain.GraphOperation{},
		Conflicts:  []string{},
		Metadata:   domain.MergeMetadata{Strategy: m.def.Name()},
	}
	touched := make(map[string]bool)
	merged := 0
	for _, local := range locals {
		bucket := buckets[local.EntityID]
		touched[local.EntityID] = true
		if len(bucket) == 0 {
			out.Operations = append(out.Operations, local)
			continue
		}
		for _, remote := range bucket {
			res := m.Merge(local, remote, base)
			merged++
			out.Success = out.Success && res.Success
			out.Operations = append(out.Operations, res.Operations...)
			out.Conflicts = append(out.Conflicts, res.Conflicts...)
		}
	}

	passed := 0
	for _, r := range remotes {
		if !touched[r.EntityID] {
			out.Operations = append(out.Operations, r)
			passed++
		}
	}
	out.Metadata.Decision = fmt.Sprintf("%d merged, %d remote passed through", merged, passed)
	return out
}
