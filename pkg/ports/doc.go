/*
Package ports defines the driven ports (interfaces) for the Lattice engine.

These interfaces decouple the synchronization core from external collaborators,
allowing the engine to work with various storage backends, remote targets and
event transports.

# Key Interfaces

  - GraphStore: durable, key-indexed store for graphs and cross-graph edges.
  - MutationStore: durable record of queued mutations.
  - RemoteTarget: the authoritative endpoint a mutation queue drains into.
  - EventBus: publish/subscribe transport for engine notifications.
  - DistributedLocker: coordinates sync passes across replicas sharing a store.
*/
package ports
