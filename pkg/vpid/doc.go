// Package vpid implements the coordinator's virtual pid pool: a
// cycling cursor over [40000, 4000000) stepping by 1000, skipping any
// value still held, capped at 40000 simultaneous allocations. The
// stepped pool itself holds only 3960 values, so Alloc reports
// exhaustion once all of those are held. See
// getNewVirtualPid in dmtcp_coordinator.cpp for the algorithm this
// mirrors.
package vpid
