package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Detect and resolve conflicts between queued mutations and server state",
	Long: `Compares the pending mutations with the state reported by the remote.
Conflicts live only for the duration of one command; use 'serve' to keep them
around for inspection.`,
}

var conflictsDetectCmd = &cobra.Command{
	Use:   "detect",
	Short: "List conflicts without resolving them",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		s, err := openStack(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		found, err := s.DetectConflicts(cmd.Context())
		if err != nil {
			return err
		}
		p := newPrinter(cmd.OutOrStdout())
		if asJSON {
			return p.json(found)
		}
		if len(found) == 0 {
			p.println("No conflicts.")
			return nil
		}
		tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ENTITY\tMUTATION\tTYPE\tLOCAL v\tSERVER v")
		for _, c := range found {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", c.EntityID, c.MutationID, c.MutationType, c.LocalVersion, c.ServerVersion)
		}
		return tw.Flush()
	},
}

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve every conflict with one strategy and update the queue",
	Long: `Resolves every detected conflict. Local mutations that lose are dropped;
resolutions that must reach the server are queued again.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		strategy, _ := cmd.Flags().GetString("strategy")

		s, err := openStack(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		resolutions, err := s.Reconcile(cmd.Context(), strategy)
		p := newPrinter(cmd.OutOrStdout())
		for _, r := range resolutions {
			action := "kept server state"
			if r.RequiresSync {
				action = "requeued"
			}
			p.printf("%s: %s (%s)\n", r.EntityID, action, r.Strategy)
			for _, w := range r.Warnings {
				p.printf("  %s\n", p.faint(w))
			}
		}
		if len(resolutions) == 0 && err == nil {
			p.println("No conflicts.")
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(conflictsCmd)
	conflictsCmd.AddCommand(conflictsDetectCmd, conflictsResolveCmd)

	conflictsDetectCmd.Flags().Bool("json", false, "Print JSON instead of a table")
	conflictsResolveCmd.Flags().String("strategy", "", "server-wins, client-wins, last-write-wins or merge (default from config)")
}
