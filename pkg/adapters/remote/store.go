package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/ports"
)

// ErrUnsupported is returned when the store cannot perform a mutation type.
var ErrUnsupported = errors.New("unsupported by store")

// DefaultGraphID is the graph mutations are written into.
const DefaultGraphID = string(domain.GraphDomain)

// NodeRemover is implemented by stores that can delete a node.
type NodeRemover interface {
	RemoveNode(ctx context.Context, graphID, nodeID string) error
}

var _ ports.RemoteTarget = (*StoreTarget)(nil)

// StoreTarget applies mutations to one graph of a GraphStore, treating the
// store as the authoritative copy. Entities become nodes: creates replace the
// node, other types merge the payload over the existing data, deletes remove it.
// Mutations on the same entity are applied one at a time; share one target
// between every writer of the graph.
type StoreTarget struct {
	store   ports.GraphStore
	graphID string

	mu    sync.Mutex
	locks map[string]*lockEntry
}

// lockEntry holds the per-entity mutex and the number of callers using it.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// NewStoreTarget writes into graphID of store (DefaultGraphID if empty).
func NewStoreTarget(store ports.GraphStore, graphID string) *StoreTarget {
	if graphID == "" {
		graphID = DefaultGraphID
	}
	return &StoreTarget{store: store, graphID: graphID, locks: make(map[string]*lockEntry)}
}

// Apply writes one mutation. The read-merge-write of an update holds the
// entity's lock, so concurrent updates never drop each other's fields.
func (t *StoreTarget) Apply(ctx context.Context, m domain.Mutation) error {
	if m.EntityID == "" {
		return domain.Invalid("entityId", "required")
	}
	entry := t.acquire(m.EntityID)
	entry.mu.Lock()
	defer t.release(m.EntityID, entry)

	switch m.Type {
	case domain.MutationDelete:
		r, ok := t.store.(NodeRemover)
		if !ok {
			return fmt.Errorf("delete %s: %w", m.EntityID, ErrUnsupported)
		}
		return r.RemoveNode(ctx, t.graphID, m.EntityID)

	case domain.MutationCreate:
		return t.store.UpdateNodes(ctx, t.graphID, []domain.GraphNode{{
			ID:   m.EntityID,
			Type: m.EntityType,
			Data: domain.CopyMap(m.Payload),
		}})
	}

	node, err := t.node(ctx, m.EntityID)
	if err != nil {
		return err
	}
	if node.Type == "" {
		node.Type = m.EntityType
	}
	if node.Data == nil {
		node.Data = make(map[string]any, len(m.Payload))
	}
	for k, v := range m.Payload {
		node.Data[k] = v
	}
	return t.store.UpdateNodes(ctx, t.graphID, []domain.GraphNode{node})
}

func (t *StoreTarget) acquire(id string) *lockEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.locks[id]
	if !ok {
		entry = &lockEntry{}
		t.locks[id] = entry
	}
	entry.refs++
	return entry
}

func (t *StoreTarget) release(id string, entry *lockEntry) {
	entry.mu.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	entry.refs--
	if entry.refs <= 0 {
		delete(t.locks, id)
	}
}

// node returns the stored node, or a fresh one when the graph or node is missing.
func (t *StoreTarget) node(ctx context.Context, id string) (domain.GraphNode, error) {
	snap, err := t.store.LoadGraph(ctx, t.graphID)
	if err != nil {
		if errors.Is(err, domain.ErrGraphNotFound) {
			return domain.GraphNode{ID: id}, nil
		}
		return domain.GraphNode{}, fmt.Errorf("failed to load graph %s: %w", t.graphID, err)
	}
	for _, n := range snap.Nodes {
		if n.ID == id {
			n.Data = domain.CopyMap(n.Data)
			return n, nil
		}
	}
	return domain.GraphNode{ID: id}, nil
}

// State reads the graph back as server records, the shape conflict detection
// compares local mutations against.
func (t *StoreTarget) State(ctx context.Context) (domain.ServerState, error) {
	snap, err := t.store.LoadGraph(ctx, t.graphID)
	if err != nil {
		if errors.Is(err, domain.ErrGraphNotFound) {
			return domain.ServerState{}, nil
		}
		return nil, err
	}
	out := make(domain.ServerState, len(snap.Nodes))
	for _, n := range snap.Nodes {
		out[n.ID] = domain.ServerRecord{
			EntityID:   n.ID,
			EntityType: n.Type,
			Data:       domain.CopyMap(n.Data),
		}
	}
	return out, nil
}
