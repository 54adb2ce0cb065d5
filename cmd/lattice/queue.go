package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aretw0/lattice/pkg/domain"
)

// openStack builds the engine from the loaded settings and restores its state.
func openStack(cmd *cobra.Command) (*stack, error) {
	s, err := buildStack(cfg, logger, nil)
	if err != nil {
		return nil, err
	}
	if _, err := s.Start(cmd.Context()); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and drive the offline mutation queue",
	Long:  `Add, list, sync, retry and remove mutations persisted by the configured store.`,
}

var queueAddCmd = &cobra.Command{
	Use:   "add <type> <entity-id>",
	Short: "Queue a mutation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		entityType, _ := cmd.Flags().GetString("entity-type")
		data, _ := cmd.Flags().GetString("data")
		version, _ := cmd.Flags().GetInt64("version")

		var payload map[string]any
		if data != "" {
			if err := json.Unmarshal([]byte(data), &payload); err != nil {
				return fmt.Errorf("--data must be a JSON object: %w", err)
			}
		}

		s, err := openStack(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		m, err := s.Queue.QueueMutation(cmd.Context(), domain.Mutation{
			Type:       args[0],
			EntityID:   args[1],
			EntityType: entityType,
			Payload:    payload,
			Version:    version,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), m.ID)
		return nil
	},
}

var queueLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List queued mutations",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		asJSON, _ := cmd.Flags().GetBool("json")

		s, err := openStack(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		var list []domain.Mutation
		for _, m := range s.Queue.All() {
			if status == "" || string(m.Status) == status {
				list = append(list, m)
			}
		}

		p := newPrinter(cmd.OutOrStdout())
		if asJSON {
			if list == nil {
				list = []domain.Mutation{}
			}
			return p.json(list)
		}
		if len(list) == 0 {
			p.println("No mutations queued.")
			return nil
		}

		tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTYPE\tENTITY\tSTATUS\tRETRIES\tQUEUED")
		for _, m := range list {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
				m.ID, m.Type, m.EntityID, p.status(m.Status), m.RetryCount,
				p.faint(time.UnixMilli(m.Timestamp).Format(time.RFC3339)))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		for _, m := range list {
			if m.Error != "" {
				p.printf("%s: %s\n", m.ID, m.Error)
			}
		}
		return nil
	},
}

var queueInspectCmd = &cobra.Command{
	Use:   "inspect <mutation-id>",
	Short: "Print one mutation as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStack(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		m, err := s.Queue.Get(args[0])
		if err != nil {
			return fmt.Errorf("error loading mutation '%s': %w", args[0], err)
		}
		return newPrinter(cmd.OutOrStdout()).json(m)
	},
}

var queueSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync pass against the remote",
	RunE: func(cmd *cobra.Command, args []string) error {
		// An explicit sync ignores the configured connectivity.
		cfg.Queue.Online = true
		s, err := openStack(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		res, err := s.Queue.Sync(cmd.Context())
		if err != nil {
			return err
		}
		p := newPrinter(cmd.OutOrStdout())
		p.printf("synced %d, retried %d, failed %d, pending %d\n", res.Synced, res.Retried, res.Failed, res.Pending)
		return nil
	},
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry [mutation-id...]",
	Short: "Return failed mutations to the queue",
	Long:  `Resets the retry counter of the given failed mutations, or of every failed mutation when none is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStack(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		out := cmd.OutOrStdout()
		if len(args) == 0 {
			n, err := s.Queue.RetryFailed(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Requeued %d mutation(s)\n", n)
			return nil
		}

		var errs []error
		for _, id := range args {
			if err := s.Queue.Retry(cmd.Context(), id); err != nil {
				errs = append(errs, fmt.Errorf("error retrying '%s': %w", id, err))
				continue
			}
			fmt.Fprintf(out, "Requeued mutation '%s'\n", id)
		}
		return errors.Join(errs...)
	},
}

var queueRmCmd = &cobra.Command{
	Use:   "rm <mutation-id>...",
	Short: "Remove one or more mutations",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStack(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		var errs []error
		for _, id := range args {
			if err := s.Queue.Remove(cmd.Context(), id); err != nil {
				errs = append(errs, fmt.Errorf("error removing '%s': %w", id, err))
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed mutation '%s'\n", id)
		}
		return errors.Join(errs...)
	},
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print queue counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStack(cmd)
		if err != nil {
			return err
		}
		defer s.Close()
		return newPrinter(cmd.OutOrStdout()).json(s.Queue.Stats())
	},
}

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueAddCmd, queueLsCmd, queueInspectCmd, queueSyncCmd, queueRetryCmd, queueRmCmd, queueStatsCmd)

	queueAddCmd.Flags().String("entity-type", "", "Entity type recorded on the mutation")
	queueAddCmd.Flags().String("data", "", "Payload as a JSON object")
	queueAddCmd.Flags().Int64("version", 0, "Entity version the mutation was made against")

	queueLsCmd.Flags().String("status", "", "Only list mutations with this status")
	queueLsCmd.Flags().Bool("json", false, "Print JSON instead of a table")
}
