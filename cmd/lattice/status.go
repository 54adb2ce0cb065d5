package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/aretw0/lattice"
	"github.com/aretw0/lattice/internal/presentation/tui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize the queue, the index and pending conflicts",
	Long: `Prints a markdown report of the configured store. On a terminal the report
is rendered; otherwise the raw markdown is written.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStack(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		r := tui.Report{
			Version: strings.TrimSpace(lattice.Version),
			Driver:  cfg.Store.Driver,
			Queue:   s.Queue.Stats(),
		}
		lock := s.IndexLock()
		lock.Lock()
		r.Index = s.Index.Stats()
		r.Tracker = s.Tracker.Stats()
		r.Relations = s.Tracker.Relations()
		lock.Unlock()

		r.Conflicts, err = s.DetectConflicts(cmd.Context())
		if errors.Is(err, lattice.ErrNoServerState) {
			r.ConflictsUnknown = true
		} else if err != nil {
			return err
		}

		md := r.Markdown()
		out := cmd.OutOrStdout()
		f, ok := out.(*os.File)
		if !ok || !term.IsTerminal(int(f.Fd())) {
			fmt.Fprint(out, md)
			return nil
		}
		width, _, err := term.GetSize(int(f.Fd()))
		if err != nil || width <= 0 {
			width = 80
		}
		render, err := tui.NewRenderer(width)
		if err != nil {
			return err
		}
		rendered, err := render(md)
		if err != nil {
			return err
		}
		fmt.Fprint(out, rendered)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
