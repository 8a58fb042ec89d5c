// Package registry tracks every admitted worker connection and
// computes the aggregate view the phase engine drives off of: the
// minimum and maximum WorkerState across all peers, and whether that
// state is unanimous. It mirrors the bookkeeping _dataSockets and the
// minimumState()/maximumState() helpers perform in dmtcp_coordinator.cpp,
// collapsed into one map keyed by client number since this port has no
// socket object of its own to hang the record off of.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/dmtcp-coordinator/pkg/types"
	"github.com/rs/zerolog"
)

// Registry holds every currently-admitted worker's ClientRecord. The
// coordinator calls it only from its single event-loop goroutine (the
// operator "l"/"s" commands from stdin are dispatched there too), but
// the registry is guarded by a mutex anyway so a reader on another
// goroutine would never race the loop.
type Registry struct {
	mu      sync.RWMutex
	clients map[int]*types.ClientRecord
	byVPid  map[int32]int
	nextNum int
	log     zerolog.Logger
}

func New(log zerolog.Logger) *Registry {
	return &Registry{
		clients: make(map[int]*types.ClientRecord),
		byVPid:  make(map[int32]int),
		log:     log,
	}
}

// Admit assigns the next client number to rec and stores it.
func (r *Registry) Admit(rec *types.ClientRecord) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	num := r.nextNum
	r.nextNum++
	rec.ClientNumber = num
	r.clients[num] = rec
	r.byVPid[rec.VirtualPid] = num
	r.log.Debug().Int("client", num).Str("identity", rec.Identity.String()).Msg("registry: worker admitted")
	return num
}

// Remove drops a client on disconnect.
func (r *Registry) Remove(clientNumber int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.clients[clientNumber]
	if !ok {
		return
	}
	delete(r.byVPid, rec.VirtualPid)
	delete(r.clients, clientNumber)
}

// Get returns the record for a client number.
func (r *Registry) Get(clientNumber int) (*types.ClientRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.clients[clientNumber]
	return rec, ok
}

// ByVirtualPid looks a client up by its allocated virtual pid.
func (r *Registry) ByVirtualPid(vpid int32) (*types.ClientRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	num, ok := r.byVPid[vpid]
	if !ok {
		return nil, false
	}
	return r.clients[num], true
}

// SetState updates one client's WorkerState, the event that drives
// every phase-engine decision.
func (r *Registry) SetState(clientNumber int, state types.WorkerState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.clients[clientNumber]
	if !ok {
		return fmt.Errorf("registry: unknown client %d", clientNumber)
	}
	rec.State = state
	return nil
}

// Count returns the number of currently-admitted workers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// All returns a stable-ordered snapshot of every admitted client, used
// by the "l"/"t" operator commands and by broadcast.
func (r *Registry) All() []*types.ClientRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.ClientRecord, 0, len(r.clients))
	for _, rec := range r.clients {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientNumber < out[j].ClientNumber })
	return out
}

// Aggregate is the minState/maxState/unanimous triple the phase engine
// consults on every state-change event, equivalent to coordinator's
// minimumState()/maximumState() pair evaluated together.
type Aggregate struct {
	Min       types.WorkerState
	Max       types.WorkerState
	Unanimous bool
	NumPeers  int
}

// Status computes the current aggregate. With zero admitted workers,
// Min and Max are both WorkerUnknown and Unanimous is false, matching
// the C++ coordinator's "no peers means no meaningful state" treatment.
func (r *Registry) Status() Aggregate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.clients) == 0 {
		return Aggregate{Min: types.WorkerUnknown, Max: types.WorkerUnknown, Unanimous: false, NumPeers: 0}
	}

	first := true
	var min, max types.WorkerState
	for _, rec := range r.clients {
		if first {
			min, max = rec.State, rec.State
			first = false
			continue
		}
		if rec.State < min {
			min = rec.State
		}
		if rec.State > max {
			max = rec.State
		}
	}
	return Aggregate{Min: min, Max: max, Unanimous: min == max, NumPeers: len(r.clients)}
}
