// Package registry is the coordinator's worker bookkeeping: the map of
// admitted clients and the minimum/maximum/unanimous WorkerState
// summary the phase engine (pkg/coordinator/phase.go) advances off of. It holds no
// network state of its own; pkg/coordinator owns the actual sockets
// and keys into this package by client number.
package registry
