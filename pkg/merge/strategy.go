package merge

import (
	"fmt"

	"github.com/aretw0/lattice/pkg/domain"
)

// Strategy names of the built-in strategies.
const (
	NameLastWriteWins        = "last-write-wins"
	NameFirstWriteWins       = "first-write-wins"
	NameClientPriority       = "client-priority"
	NameOperationalTransform = "operational-transform"
)

// Strategy reconciles two operations on the same entity.
type Strategy interface {
	Name() string
	Merge(local, remote domain.GraphOperation, base *domain.GraphSnapshot) domain.MergeResult
}

func pick(strategy string, winner, loser domain.GraphOperation, decision string) domain.MergeResult {
	return domain.MergeResult{
		Success:    true,
		Operations: []domain.GraphOperation{winner},
		Conflicts:  []string{discarded(loser)},
		Metadata:   domain.MergeMetadata{Strategy: strategy, Decision: decision},
	}
}

func discarded(op domain.GraphOperation) string {
	return fmt.Sprintf("%s: discarded %s from client %q at %d", op.EntityID, op.Type, op.ClientID, op.Timestamp)
}

// LastWriteWins keeps the operation with the later timestamp. Local wins ties.
type LastWriteWins struct{}

func (LastWriteWins) Name() string { return NameLastWriteWins }

func (s LastWriteWins) Merge(local, remote domain.GraphOperation, _ *domain.GraphSnapshot) domain.MergeResult {
	return lastWriteWins(s.Name(), local, remote, "")
}

func lastWriteWins(name string, local, remote domain.GraphOperation, prefix string) domain.MergeResult {
	if remote.Timestamp > local.Timestamp {
		return pick(name, remote, local, prefix+"remote is newer")
	}
	return pick(name, local, remote, prefix+"local is newer or tied")
}

// FirstWriteWins keeps the operation with the earlier timestamp. Local wins ties.
type FirstWriteWins struct{}

func (FirstWriteWins) Name() string { return NameFirstWriteWins }

func (s FirstWriteWins) Merge(local, remote domain.GraphOperation, _ *domain.GraphSnapshot) domain.MergeResult {
	if remote.Timestamp < local.Timestamp {
		return pick(s.Name(), remote, local, "remote is older")
	}
	return pick(s.Name(), local, remote, "local is older or tied")
}

// ClientPriority keeps the operation whose client has the higher priority.
// Unknown clients have priority zero. Equal priorities fall back to last-write-wins.
type ClientPriority struct {
	priorities map[string]int
}

// NewClientPriority copies the priority table.
func NewClientPriority(priorities map[string]int) *ClientPriority {
	p := make(map[string]int, len(priorities))
	for k, v := range priorities {
		p[k] = v
	}
	return &ClientPriority{priorities: p}
}

func (*ClientPriority) Name() string { return NameClientPriority }

func (s *ClientPriority) Merge(local, remote domain.GraphOperation, _ *domain.GraphSnapshot) domain.MergeResult {
	lp, rp := s.priorities[local.ClientID], s.priorities[remote.ClientID]
	switch {
	case rp > lp:
		return pick(s.Name(), remote, local, fmt.Sprintf("remote priority %d > %d", rp, lp))
	case lp > rp:
		return pick(s.Name(), local, remote, fmt.Sprintf("local priority %d > %d", lp, rp))
	}
	return lastWriteWins(s.Name(), local, remote, "equal priority, ")
}

// Func is the signature wrapped by Custom.
type Func func(local, remote domain.GraphOperation, base *domain.GraphSnapshot) (domain.MergeResult, error)

// Custom adapts a caller-supplied function. Errors and panics become a failed
// MergeResult carrying the message as a conflict description.
type Custom struct {
	name string
	fn   Func
}

// NewCustom wraps fn under the given name.
func NewCustom(name string, fn Func) *Custom {
	return &Custom{name: name, fn: fn}
}

func (c *Custom) Name() string { return c.name }

func (c *Custom) Merge(local, remote domain.GraphOperation, base *domain.GraphSnapshot) (res domain.MergeResult) {
	failed := func(msg string) domain.MergeResult {
		return domain.MergeResult{
			Success:   false,
			Conflicts: []string{msg},
			Metadata:  domain.MergeMetadata{Strategy: c.name, Decision: "custom strategy failed"},
		}
	}
	defer func() {
		if r := recover(); r != nil {
			res = failed(fmt.Sprintf("panic: %v", r))
		}
	}()

	if c.fn == nil {
		return failed("no merge function")
	}
	out, err := c.fn(local, remote, base)
	if err != nil {
		return failed(err.Error())
	}
	if out.Metadata.Strategy == "" {
		out.Metadata.Strategy = c.name
	}
	return out
}
