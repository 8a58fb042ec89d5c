// Package types defines the coordinator's core data model:
// UniqueProcessId and ComputationId (the identity tuples carried on
// every wire message), WorkerState (the ordered per-worker lifecycle
// enum the phase engine aggregates over), ClientRecord (what the
// registry tracks about one admitted worker), and a restart-filename
// entry type (the coordinator and the restart script writer themselves
// pass a plain hostname-to-paths map). These types
// hold no I/O handles and no synchronization of their own; pkg/registry
// and pkg/coordinator own the live sockets and the locking discipline
// around them.
package types
