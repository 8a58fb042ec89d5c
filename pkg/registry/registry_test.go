package registry

import (
	"testing"

	"github.com/cuemby/dmtcp-coordinator/pkg/types"
	"github.com/rs/zerolog"
)

func newTestRegistry() *Registry {
	return New(zerolog.Nop())
}

func TestAdmitAssignsSequentialClientNumbers(t *testing.T) {
	r := newTestRegistry()
	a := &types.ClientRecord{VirtualPid: 40000}
	b := &types.ClientRecord{VirtualPid: 41000}

	if got := r.Admit(a); got != 0 {
		t.Fatalf("first Admit = %d, want 0", got)
	}
	if got := r.Admit(b); got != 1 {
		t.Fatalf("second Admit = %d, want 1", got)
	}
	if r.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", r.Count())
	}
}

func TestByVirtualPidLookup(t *testing.T) {
	r := newTestRegistry()
	rec := &types.ClientRecord{VirtualPid: 42000, Hostname: "hostA"}
	r.Admit(rec)

	got, ok := r.ByVirtualPid(42000)
	if !ok || got.Hostname != "hostA" {
		t.Fatalf("ByVirtualPid miss or wrong record: %+v, %v", got, ok)
	}
	if _, ok := r.ByVirtualPid(99999); ok {
		t.Fatal("expected miss for unknown vpid")
	}
}

func TestRemoveDropsBothIndexes(t *testing.T) {
	r := newTestRegistry()
	rec := &types.ClientRecord{VirtualPid: 40000}
	num := r.Admit(rec)

	r.Remove(num)
	if r.Count() != 0 {
		t.Fatalf("Count() after Remove = %d, want 0", r.Count())
	}
	if _, ok := r.ByVirtualPid(40000); ok {
		t.Fatal("expected vpid index to be cleared on Remove")
	}
	if _, ok := r.Get(num); ok {
		t.Fatal("expected Get to miss after Remove")
	}
}

func TestSetStateUnknownClientErrors(t *testing.T) {
	r := newTestRegistry()
	if err := r.SetState(999, types.WorkerRunning); err == nil {
		t.Fatal("expected error for unknown client")
	}
}

func TestStatusEmptyRegistry(t *testing.T) {
	r := newTestRegistry()
	agg := r.Status()
	if agg.Unanimous {
		t.Fatal("empty registry must not report unanimous")
	}
	if agg.NumPeers != 0 {
		t.Fatalf("NumPeers = %d, want 0", agg.NumPeers)
	}
}

func TestStatusUnanimous(t *testing.T) {
	r := newTestRegistry()
	a := &types.ClientRecord{VirtualPid: 40000, State: types.WorkerSuspended}
	b := &types.ClientRecord{VirtualPid: 41000, State: types.WorkerSuspended}
	r.Admit(a)
	r.Admit(b)

	agg := r.Status()
	if !agg.Unanimous {
		t.Fatal("expected unanimous SUSPENDED")
	}
	if agg.Min != types.WorkerSuspended || agg.Max != types.WorkerSuspended {
		t.Fatalf("got min=%v max=%v, want both WorkerSuspended", agg.Min, agg.Max)
	}
}

func TestStatusMinMaxSpread(t *testing.T) {
	r := newTestRegistry()
	numA := r.Admit(&types.ClientRecord{VirtualPid: 40000, State: types.WorkerRunning})
	r.Admit(&types.ClientRecord{VirtualPid: 41000, State: types.WorkerSuspended})

	agg := r.Status()
	if agg.Unanimous {
		t.Fatal("expected non-unanimous state")
	}
	if agg.Min != types.WorkerRunning || agg.Max != types.WorkerSuspended {
		t.Fatalf("got min=%v max=%v", agg.Min, agg.Max)
	}

	if err := r.SetState(numA, types.WorkerSuspended); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	agg = r.Status()
	if !agg.Unanimous {
		t.Fatal("expected unanimous after both reach SUSPENDED")
	}
}

func TestAllIsSortedByClientNumber(t *testing.T) {
	r := newTestRegistry()
	r.Admit(&types.ClientRecord{VirtualPid: 43000})
	r.Admit(&types.ClientRecord{VirtualPid: 41000})
	r.Admit(&types.ClientRecord{VirtualPid: 42000})

	all := r.All()
	for i := 1; i < len(all); i++ {
		if all[i-1].ClientNumber > all[i].ClientNumber {
			t.Fatalf("All() not sorted: %+v", all)
		}
	}
}
