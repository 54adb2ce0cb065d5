package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/lattice"
	"github.com/aretw0/lattice/internal/config"
	"github.com/aretw0/lattice/pkg/adapters/file"
	"github.com/aretw0/lattice/pkg/adapters/loam"
	"github.com/aretw0/lattice/pkg/adapters/memory"
	"github.com/aretw0/lattice/pkg/adapters/redis"
	"github.com/aretw0/lattice/pkg/adapters/remote"
	"github.com/aretw0/lattice/pkg/adapters/sqlite"
	"github.com/aretw0/lattice/pkg/conflict"
	"github.com/aretw0/lattice/pkg/dependency"
	"github.com/aretw0/lattice/pkg/index"
	"github.com/aretw0/lattice/pkg/persistence/middleware"
	"github.com/aretw0/lattice/pkg/queue"
)

// stack is an engine together with the resources its stores hold open.
type stack struct {
	*lattice.Engine
	closers []func() error
}

// Close detaches the engine and releases every store, newest first.
func (s *stack) Close() error {
	s.Engine.Close()
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

// buildStack wires an engine from configuration. A nil registry leaves
// metrics off.
func buildStack(c config.Config, log *slog.Logger, reg prometheus.Registerer) (*stack, error) {
	s := &stack{}
	opts := []lattice.Option{
		lattice.WithLogger(log),
		lattice.WithRemoteGraph(c.Remote.GraphID),
		lattice.WithQueueOptions(
			queue.WithMaxRetries(c.Queue.MaxRetries),
			queue.WithBatchSize(c.Queue.BatchSize),
			queue.WithAutoSync(c.Queue.AutoSync),
			queue.WithOnline(c.Queue.Online),
		),
		lattice.WithResolverOptions(
			conflict.WithDefaultStrategy(c.Conflict.DefaultStrategy),
			conflict.WithHistoryLimit(c.Conflict.HistoryLimit),
		),
		lattice.WithIndexOptions(index.WithQueryBudget(c.Index.QueryBudget)),
		lattice.WithTrackerOptions(
			dependency.WithMaxDepth(c.Dependency.MaxDepth),
			dependency.WithAutoCleanup(c.Dependency.AutoCleanup),
		),
	}
	if reg != nil {
		opts = append(opts, lattice.WithRegistry(reg))
	}

	storeOpts, err := s.stores(c, log)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	opts = append(opts, storeOpts...)

	mws, err := storeMiddleware(c)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	if len(mws) > 0 {
		opts = append(opts, lattice.WithStoreMiddleware(mws...))
	}

	if c.Remote.URL != "" {
		httpOpts := []remote.HTTPOption{
			remote.WithHTTPClient(&http.Client{Timeout: c.Remote.Timeout}),
			remote.WithLogger(log),
		}
		if c.Remote.Token != "" {
			httpOpts = append(httpOpts, remote.WithHeader("Authorization", "Bearer "+c.Remote.Token))
		}
		opts = append(opts, lattice.WithRemote(remote.NewHTTPTarget(c.Remote.URL, httpOpts...)))
	}

	eng, err := lattice.New(opts...)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.Engine = eng
	return s, nil
}

// stores opens the configured driver and returns the engine options using it.
func (s *stack) stores(c config.Config, log *slog.Logger) ([]lattice.Option, error) {
	switch c.Store.Driver {
	case config.DriverMemory:
		return []lattice.Option{
			lattice.WithGraphStore(memory.NewGraphStore()),
			lattice.WithMutationStore(memory.NewStore()),
		}, nil

	case config.DriverFile:
		return []lattice.Option{
			lattice.WithGraphStore(file.NewGraphStore(c.Store.Path)),
			lattice.WithMutationStore(file.New(c.Store.Path)),
		}, nil

	case config.DriverLoam:
		graphs, err := loam.Open(filepath.Join(c.Store.Path, "graphs"), c.Store.Versioning)
		if err != nil {
			return nil, err
		}
		return []lattice.Option{
			lattice.WithGraphStore(graphs),
			lattice.WithMutationStore(file.New(c.Store.Path)),
		}, nil

	case config.DriverSQLite:
		path := c.Store.Path
		if filepath.Ext(path) == "" {
			if err := os.MkdirAll(path, 0755); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
			path = filepath.Join(path, "lattice.db")
		}
		db, err := sqlite.Open(path)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, db.Close)
		return []lattice.Option{
			lattice.WithGraphStore(db),
			lattice.WithMutationStore(db),
		}, nil

	case config.DriverRedis:
		rc := c.Store.Redis
		client := redis.Dial(rc.Addr, rc.Password, rc.DB)
		s.closers = append(s.closers, client.Close)

		b := redis.NewBus(client, redis.WithBusPrefix(rc.Prefix), redis.WithBusLogger(log))
		s.closers = append(s.closers, b.Close)

		opts := []lattice.Option{
			lattice.WithGraphStore(redis.NewGraphStore(client, redis.WithPrefix(rc.Prefix))),
			lattice.WithMutationStore(redis.NewFromClient(client, redis.WithPrefix(rc.Prefix))),
			lattice.WithBus(b),
		}
		if rc.Lock {
			opts = append(opts, lattice.WithLocker(redis.NewLocker(client, rc.Prefix)))
		}
		return opts, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", c.Store.Driver)
}

// storeMiddleware builds the mutation store middlewares. PII masking runs
// before encryption, so masked values are what gets encrypted.
func storeMiddleware(c config.Config) ([]middleware.Middleware, error) {
	var mws []middleware.Middleware
	if len(c.Encryption.PIIFields) > 0 {
		mws = append(mws, middleware.NewPIIMiddleware(c.Encryption.PIIFields))
	}
	keys, err := c.Keys()
	if err != nil {
		return nil, err
	}
	if len(keys) > 0 {
		mws = append(mws, middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
			ActiveKey:    keys[0],
			FallbackKeys: keys[1:],
		}))
	}
	return mws, nil
}
