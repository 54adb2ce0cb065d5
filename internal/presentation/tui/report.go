package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/lattice/pkg/dependency"
	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/index"
	"github.com/aretw0/lattice/pkg/queue"
)

// Report is a point-in-time summary of an engine.
type Report struct {
	Version   string
	Driver    string
	Queue     queue.Stats
	Index     index.Stats
	Tracker   dependency.Stats
	Relations []dependency.Relation
	Conflicts []domain.Conflict
	// ConflictsUnknown is set when the remote cannot report server state.
	ConflictsUnknown bool
}

// Markdown renders the report as a markdown document.
func (r Report) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Lattice %s\n\n", r.Version)
	if r.Driver != "" {
		fmt.Fprintf(&b, "Store driver: `%s`\n\n", r.Driver)
	}

	b.WriteString("## Queue\n\n")
	b.WriteString("| Pending | In flight | Failed | Online |\n")
	b.WriteString("|---|---|---|---|\n")
	fmt.Fprintf(&b, "| %d | %d | %d | %s |\n\n", r.Queue.Pending, r.Queue.InFlight, r.Queue.Failed, yesNo(r.Queue.Online))

	b.WriteString("## Cross-graph index\n\n")
	fmt.Fprintf(&b, "%d edge(s) between %d source and %d target node(s).\n\n", r.Index.Edges, r.Index.SourceNodes, r.Index.TargetNodes)
	if len(r.Index.ByType) > 0 {
		b.WriteString("| Edge type | Count |\n|---|---|\n")
		for _, k := range sortedKeys(r.Index.ByType) {
			fmt.Fprintf(&b, "| %s | %d |\n", k, r.Index.ByType[k])
		}
		b.WriteString("\n")
	}

	if r.Tracker.Relations > 0 {
		b.WriteString("## Dependencies\n\n")
		fmt.Fprintf(&b, "%d relation(s) over %d node(s).\n", r.Tracker.Relations, r.Tracker.Nodes)
		if len(r.Tracker.CycleNodes) > 0 {
			fmt.Fprintf(&b, "\n> Cycles through: %s\n", strings.Join(r.Tracker.CycleNodes, ", "))
		}
		b.WriteString("\n")
		if len(r.Relations) > 0 {
			b.WriteString("| Source | Target | Edge | Key |\n|---|---|---|---|\n")
			for _, rel := range r.Relations {
				fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", rel.SourceID, rel.TargetID, rel.EdgeID, rel.DataKey)
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("## Conflicts\n\n")
	switch {
	case r.ConflictsUnknown:
		b.WriteString("_The remote does not expose server state._\n")
	case len(r.Conflicts) == 0:
		b.WriteString("No conflicts.\n")
	default:
		b.WriteString("| Entity | Mutation | Type | Local v | Server v |\n")
		b.WriteString("|---|---|---|---|---|\n")
		for _, c := range r.Conflicts {
			fmt.Fprintf(&b, "| %s | %s | %s | %d | %d |\n", c.EntityID, c.MutationID, c.MutationType, c.LocalVersion, c.ServerVersion)
		}
	}
	return b.String()
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
