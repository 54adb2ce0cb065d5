/*
Package lattice is an offline-first graph synchronization engine.

Client state lives in reactive nodes whose signals and computed values update
eagerly. Writes are captured as mutations in a durable offline queue that
drains to a remote target whenever the host reports connectivity. Divergence
between local mutations and server state is detected and settled by pluggable
resolution strategies, and concurrent graph operations are reconciled by merge
strategies.

# Components

  - reactive: Signal, Computed and Node, with explicit dependency tracking.
  - dependency: a graph of node relations answering "what must recompute".
  - index: a queryable index of edges that cross graph namespaces.
  - merge: strategies reconciling two concurrent graph operations.
  - queue: the offline mutation queue.
  - conflict: conflict detection and resolution strategies.

Every collaborator the engine talks to (graph and mutation stores, the remote,
the event bus and the distributed locker) is an interface in package ports, with
adapters for memory, JSON files, SQLite, Redis and HTTP.

# Usage

	eng, err := lattice.New(
		lattice.WithMutationStore(file.New(".lattice/data")),
		lattice.WithRemote(remote.NewHTTPTarget("https://api.example.com/apply")),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer eng.Close()

	ctx := context.Background()
	if _, err := eng.Start(ctx); err != nil {
		log.Fatal(err)
	}

	m, err := eng.Queue.QueueMutation(ctx, domain.Mutation{
		Type:     domain.MutationUpdate,
		EntityID: "user-1",
		Payload:  map[string]any{"name": "Ada"},
	})
	if err != nil {
		log.Fatal(err)
	}

	// Hosts report connectivity; going online triggers a sync pass.
	eng.Bus.Publish(ctx, domain.NewEvent(domain.EventConnectivityChanged, "host", true))
*/
package lattice
