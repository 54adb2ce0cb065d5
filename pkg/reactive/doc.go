/*
Package reactive implements signals, lazily recomputed computed signals and
reactive nodes that group them under one entity id.

Invalidation is two-phase: a write marks every dependent computed dirty
(push), and a computed recomputes only when it is next read (pull). Dependency
capture uses an explicit tracking stack owned by a Runtime, pushed and popped
around each recompute, so isolated runtimes never observe each other.

The package is single-threaded: a Runtime and everything created from it must
be used from one goroutine at a time.
*/
package reactive
