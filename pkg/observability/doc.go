/*
Package observability exposes Prometheus collectors for the sync engine.

Metrics are registered on a caller-supplied registry so several engines can
coexist in one process. Every method tolerates a nil *Metrics receiver, which
lets components record unconditionally.
*/
package observability
