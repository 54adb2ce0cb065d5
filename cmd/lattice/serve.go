package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/muesli/termenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/aretw0/lattice"
	"github.com/aretw0/lattice/internal/presentation/tui"
	httpAdapter "github.com/aretw0/lattice/pkg/adapters/http"
	"github.com/aretw0/lattice/pkg/adapters/remote"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP sync server",
	Long: `Starts the engine as an HTTP server. It exposes the queue, conflicts, the
cross-graph index, an event stream and Prometheus metrics, and accepts
mutations from other Lattice queues on POST /apply.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}

		if term.IsTerminal(int(os.Stdout.Fd())) {
			tui.PrintBanner(os.Stdout, termenv.ColorProfile())
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		s, err := buildStack(cfg, logger, reg)
		if err != nil {
			return err
		}
		defer s.Close()

		restored, err := s.Start(cmd.Context())
		if err != nil {
			return err
		}

		// Reuse the engine's store target so /apply and the local queue
		// serialize writes to the same entities.
		applier, ok := s.Remote().(*remote.StoreTarget)
		if !ok {
			applier = remote.NewStoreTarget(s.GraphStore(), cfg.Remote.GraphID)
		}

		api := httpAdapter.New(
			httpAdapter.WithQueue(s.Queue),
			httpAdapter.WithResolver(s.Resolver),
			httpAdapter.WithIndex(s.Index, s.IndexLock()),
			httpAdapter.WithEdgeStore(s.GraphStore()),
			httpAdapter.WithApplier(applier),
			httpAdapter.WithEvents(s.Bus),
			httpAdapter.WithGatherer(reg),
			httpAdapter.WithLogger(logger),
			httpAdapter.WithVersion(strings.TrimSpace(lattice.Version)),
		)
		defer api.Close()

		srv := &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           api.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		if cfg.Queue.SyncInterval > 0 {
			go syncLoop(ctx, s, cfg.Queue.SyncInterval)
		}

		// Channel to listen for errors coming from the listener.
		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("starting lattice server", "addr", srv.Addr, "driver", cfg.Store.Driver, "restored", restored)
			serverErrors <- srv.ListenAndServe()
		}()

		// Channel to listen for interrupt or terminate signals.
		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(shutdown)

		select {
		case err := <-serverErrors:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}
			return nil

		case sig := <-shutdown:
			logger.Info("shutting down", "signal", sig.String())
			cancel()

			// Give outstanding requests a deadline for completion.
			sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer scancel()

			if err := srv.Shutdown(sctx); err != nil {
				logger.Error("graceful shutdown did not complete", "timeout", shutdownTimeout, "err", err)
				if err := srv.Close(); err != nil {
					logger.Error("error killing server", "err", err)
				}
			}
			if err := s.SaveIndex(sctx); err != nil {
				logger.Error("failed to save index", "err", err)
			}
			logger.Info("lattice server stopped")
			return nil
		}
	},
}

// syncLoop runs a sync pass every interval until ctx ends.
func syncLoop(ctx context.Context, s *stack, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := s.Queue.Sync(ctx)
			if err != nil {
				logger.Error("periodic sync failed", "err", err)
				continue
			}
			if res.Synced+res.Failed+res.Retried > 0 {
				logger.Info("periodic sync", "synced", res.Synced, "retried", res.Retried, "failed", res.Failed, "pending", res.Pending)
			}
		}
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Address to listen on (default from config, :8080)")
}
