// Package vpid allocates the virtual pids the coordinator hands out in
// response to DMT_GET_VIRTUAL_PID. The allocation scheme mirrors
// dmtcp_coordinator.cpp's getNewVirtualPid: a process-lifetime cursor
// starting at 40,000, stepping by 1,000, wrapping back to the start
// once it reaches 4,000,000, and skipping any value still held by a
// live entry.
package vpid

import "fmt"

const (
	initialPid = 40000
	maxPid     = 4000000
	step       = 1000

	// poolSize is the number of distinct values the stepped pool holds:
	// (maxPid-initialPid)/step = 3960.
	poolSize = (maxPid - initialPid) / step
)

// MaxLiveEntries is MAX_VIRTUAL_PID/100, the ceiling on simultaneously
// allocated virtual pids before Alloc refuses to hand out another one.
const MaxLiveEntries = maxPid / 100

// Allocator hands out virtual pids from the fixed pool, skipping values
// still held by a live entry. It is not safe for concurrent use; the
// coordinator's event loop only ever calls it from the single
// processing goroutine.
type Allocator struct {
	next int32
	held map[int32]struct{}
}

// New creates an allocator with the cursor positioned at the first
// virtual pid the pool will ever hand out.
func New() *Allocator {
	return &Allocator{
		next: initialPid,
		held: make(map[int32]struct{}),
	}
}

// Alloc returns the next free virtual pid and marks it held. It returns
// an error if the pool already has MaxLiveEntries live allocations,
// mirroring the coordinator's fatal JASSERT on exhaustion, or if every
// one of the pool's poolSize values is already held.
func (a *Allocator) Alloc() (int32, error) {
	if len(a.held) >= MaxLiveEntries {
		return 0, fmt.Errorf("vpid: exceeded maximum number of processes allowed (%d)", MaxLiveEntries)
	}

	for probes := 0; probes < poolSize; probes++ {
		pid := a.next
		a.next += step
		if a.next >= maxPid {
			a.next = initialPid
		}
		if _, taken := a.held[pid]; !taken {
			a.held[pid] = struct{}{}
			return pid, nil
		}
	}
	return 0, fmt.Errorf("vpid: all %d virtual pids in [%d, %d) are held", poolSize, initialPid, maxPid)
}

// Reserve marks pid as held without drawing it from the cursor, for a
// worker that rejoins with a caller-supplied virtual pid (a restarting
// worker re-claiming the identity it held before
// checkpointing). It is a no-op if pid
// is already held, so a worker re-registering its own pid never double
// counts against MaxLiveEntries.
func (a *Allocator) Reserve(pid int32) {
	a.held[pid] = struct{}{}
}

// Release returns a virtual pid to the free pool. It is a no-op if the
// pid was never allocated or was already released, matching the
// coordinator's tolerance of duplicate cleanup on disconnect.
func (a *Allocator) Release(pid int32) {
	delete(a.held, pid)
}

// Count returns the number of virtual pids currently held.
func (a *Allocator) Count() int {
	return len(a.held)
}
