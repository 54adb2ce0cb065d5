package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/lattice/internal/config"
	"github.com/aretw0/lattice/internal/logging"
)

// Settings shared by every subcommand, filled in by the root pre-run.
var (
	cfg    config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "lattice",
	Short: "Lattice is an offline-first graph sync engine",
	Long: `Lattice queues graph mutations while offline, drains them to a remote when
connectivity returns, and detects and resolves conflicts with server state.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
			loaded.LogLevel = lvl
		}
		if driver, _ := cmd.Flags().GetString("store"); driver != "" {
			loaded.Store.Driver = driver
			if err := loaded.Validate(); err != nil {
				return err
			}
		}
		if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
			loaded.Store.Path = dir
		}

		level, err := logging.ParseLevel(loaded.LogLevel)
		if err != nil {
			return err
		}
		cfg = loaded
		logger = logging.NewWithFormat(os.Stderr, level, loaded.LogFormat)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("config", "", "Config file (YAML or JSON); defaults to $"+config.EnvPath)
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("store", "", "Store driver: memory, file, sqlite, redis, loam")
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory (file, loam) or database file (sqlite)")
}
