/*
Package domain contains the plain-data model shared by every Lattice component.

It defines the units exchanged between the reactive core, the merge strategies,
the offline mutation queue and the conflict resolver. This package is kept pure
and free of I/O, following Hexagonal Architecture principles: every type here is
serializable to JSON without cycles or executable values.

# Key Entities

  - GraphOperation / MergeResult: the input and output of merge strategies.
  - Mutation: a durable pending write queued while offline.
  - Conflict / ConflictResolution: divergence between a local mutation and server state.
  - CrossGraphEdge: a typed relationship between nodes of two graph namespaces.
  - GraphSnapshot: the persisted shape of a graph.
  - Event: the envelope published on the event bus.
*/
package domain
