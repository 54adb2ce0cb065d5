package conflict

import (
	"context"
	"sort"
	"strings"

	"github.com/aretw0/lattice/pkg/domain"
)

const (
	StrategyServerWins    = "server-wins"
	StrategyClientWins    = "client-wins"
	StrategyLastWriteWins = "last-write-wins"
	StrategyMerge         = "merge"
	StrategyManual        = "manual"
)

const (
	WarnLocalDiscarded = "Local changes discarded"
	WarnManual         = "Manual resolution required"
	warnOverridden     = "Fields overridden by local changes: "
)

// Outcome is what a strategy decides for one conflict.
type Outcome struct {
	Value        map[string]any
	RequiresSync bool
	Warnings     []string
}

// Strategy settles one conflict. opts carries caller-supplied, strategy
// specific options and may be nil.
type Strategy interface {
	Resolve(ctx context.Context, c domain.Conflict, opts map[string]any) (Outcome, error)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(ctx context.Context, c domain.Conflict, opts map[string]any) (Outcome, error)

func (f StrategyFunc) Resolve(ctx context.Context, c domain.Conflict, opts map[string]any) (Outcome, error) {
	return f(ctx, c, opts)
}

func builtins() map[string]Strategy {
	return map[string]Strategy{
		StrategyServerWins:    StrategyFunc(serverWins),
		StrategyClientWins:    StrategyFunc(clientWins),
		StrategyLastWriteWins: StrategyFunc(lastWriteWins),
		StrategyMerge:         StrategyFunc(mergeFields),
		StrategyManual:        StrategyFunc(manual),
	}
}

func serverWins(_ context.Context, c domain.Conflict, _ map[string]any) (Outcome, error) {
	return Outcome{Value: domain.CopyMap(c.ServerData)}, nil
}

func clientWins(_ context.Context, c domain.Conflict, _ map[string]any) (Outcome, error) {
	return Outcome{Value: domain.CopyMap(c.LocalData), RequiresSync: true}, nil
}

func lastWriteWins(_ context.Context, c domain.Conflict, _ map[string]any) (Outcome, error) {
	if c.ServerTimestamp > c.LocalTimestamp {
		return Outcome{
			Value:    domain.CopyMap(c.ServerData),
			Warnings: []string{WarnLocalDiscarded},
		}, nil
	}
	return Outcome{Value: domain.CopyMap(c.LocalData), RequiresSync: true}, nil
}

// mergeFields overlays local fields on the server data. Keys present on both
// sides with different values are reported as overridden.
func mergeFields(_ context.Context, c domain.Conflict, _ map[string]any) (Outcome, error) {
	value := make(map[string]any, len(c.ServerData)+len(c.LocalData))
	for k, v := range c.ServerData {
		value[k] = v
	}
	var overridden []string
	for k, v := range c.LocalData {
		if sv, ok := c.ServerData[k]; ok && !sameValue(sv, v) {
			overridden = append(overridden, k)
		}
		value[k] = v
	}

	out := Outcome{Value: value, RequiresSync: true}
	if len(overridden) > 0 {
		sort.Strings(overridden)
		out.Warnings = []string{warnOverridden + strings.Join(overridden, ", ")}
	}
	return out, nil
}

func manual(_ context.Context, _ domain.Conflict, _ map[string]any) (Outcome, error) {
	return Outcome{Warnings: []string{WarnManual}}, nil
}
