package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aretw0/lattice/internal/presentation/graph"
	"github.com/aretw0/lattice/pkg/domain"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage cross-graph edges",
}

var indexAddCmd = &cobra.Command{
	Use:   "add <id> <source-graph>:<source-node> <target-graph>:<target-node>",
	Short: "Add a cross-graph edge",
	Example: `  lattice index add e1 intent:checkout domain:cart --type targets
  lattice index add e2 component:cart-view domain:cart --type renders --meta '{"weight":2}'`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		edgeType, _ := cmd.Flags().GetString("type")
		meta, _ := cmd.Flags().GetString("meta")

		edge := domain.CrossGraphEdge{ID: args[0], EdgeType: edgeType}
		var err error
		if edge.SourceGraph, edge.SourceNode, err = parseEndpoint(args[1]); err != nil {
			return err
		}
		if edge.TargetGraph, edge.TargetNode, err = parseEndpoint(args[2]); err != nil {
			return err
		}
		if meta != "" {
			if err := json.Unmarshal([]byte(meta), &edge.Metadata); err != nil {
				return fmt.Errorf("--meta must be a JSON object: %w", err)
			}
		}

		s, err := openStack(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := s.AddEdge(cmd.Context(), edge); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added edge '%s'\n", edge.ID)
		return nil
	},
}

var indexQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "List edges matching every given criterion",
	RunE: func(cmd *cobra.Command, args []string) error {
		var c domain.EdgeCriteria
		sg, _ := cmd.Flags().GetString("source-graph")
		tg, _ := cmd.Flags().GetString("target-graph")
		c.SourceGraph = domain.GraphType(sg)
		c.TargetGraph = domain.GraphType(tg)
		c.SourceNode, _ = cmd.Flags().GetString("source")
		c.TargetNode, _ = cmd.Flags().GetString("target")
		c.EdgeType, _ = cmd.Flags().GetString("type")
		asJSON, _ := cmd.Flags().GetBool("json")

		s, err := openStack(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		edges := s.QueryEdges(c)
		p := newPrinter(cmd.OutOrStdout())
		if asJSON {
			return p.json(edges)
		}
		if len(edges) == 0 {
			p.println("No edges found.")
			return nil
		}
		tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSOURCE\tTARGET\tTYPE")
		for _, e := range edges {
			fmt.Fprintf(tw, "%s\t%s:%s\t%s:%s\t%s\n", e.ID, e.SourceGraph, e.SourceNode, e.TargetGraph, e.TargetNode, e.EdgeType)
		}
		return tw.Flush()
	},
}

var indexRmCmd = &cobra.Command{
	Use:   "rm <edge-id>...",
	Short: "Remove edges from the index",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStack(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		for _, id := range args {
			removed, err := s.RemoveEdge(cmd.Context(), id)
			if err != nil {
				return err
			}
			if removed {
				fmt.Fprintf(cmd.OutOrStdout(), "Removed edge '%s'\n", id)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Edge '%s' not found\n", id)
			}
		}
		return nil
	},
}

var indexStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print edge counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStack(cmd)
		if err != nil {
			return err
		}
		defer s.Close()
		return newPrinter(cmd.OutOrStdout()).json(s.Index.Stats())
	},
}

var indexGraphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the cross-graph edges as a Mermaid flowchart",
	Long: `Prints a Mermaid flowchart of every indexed edge. Nodes named with --changed
are highlighted together with the nodes their outgoing edges point at.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		changed, _ := cmd.Flags().GetStringSlice("changed")

		s, err := openStack(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		var overlay *graph.Overlay
		if len(changed) > 0 {
			overlay = &graph.Overlay{Changed: changed}
			for _, key := range changed {
				node := key
				if _, n, ok := strings.Cut(key, ":"); ok {
					node = n
				}
				for _, e := range s.QueryEdges(domain.EdgeCriteria{SourceNode: node}) {
					overlay.Invalidated = append(overlay.Invalidated, string(e.TargetGraph)+":"+e.TargetNode)
				}
			}
		}
		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(s.QueryEdges(domain.EdgeCriteria{}), overlay))
		return nil
	},
}

func parseEndpoint(s string) (domain.GraphType, string, error) {
	graph, node, ok := strings.Cut(s, ":")
	if !ok || node == "" || !domain.GraphType(graph).Valid() {
		return "", "", fmt.Errorf("endpoint %q: want <domain|intent|component>:<node>", s)
	}
	return domain.GraphType(graph), node, nil
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexAddCmd, indexQueryCmd, indexRmCmd, indexStatsCmd, indexGraphCmd)

	indexAddCmd.Flags().String("type", "", "Edge type")
	indexAddCmd.Flags().String("meta", "", "Metadata as a JSON object")
	_ = indexAddCmd.MarkFlagRequired("type")

	indexQueryCmd.Flags().String("source-graph", "", "Source graph")
	indexQueryCmd.Flags().String("source", "", "Source node")
	indexQueryCmd.Flags().String("target-graph", "", "Target graph")
	indexQueryCmd.Flags().String("target", "", "Target node")
	indexQueryCmd.Flags().String("type", "", "Edge type")
	indexQueryCmd.Flags().Bool("json", false, "Print JSON instead of a table")

	indexGraphCmd.Flags().StringSlice("changed", nil, "Nodes to highlight, as <graph>:<node> or <node>")
}
