package types

import "fmt"

// UniqueProcessId identifies a single worker process across its
// lifetime: the host it runs on, its OS pid, the time it started, and a
// generation counter the coordinator bumps on its ComputationId each
// time it starts a checkpoint. Two UniqueProcessIds compare
// componentwise for equality and lexicographically (HostID, Pid,
// StartTime, Generation) for ordering, matching DmtcpUniqueProcessId.
type UniqueProcessId struct {
	HostID     uint64
	Pid        int32
	StartTime  int64
	Generation int32
}

// NullUniqueProcessId is the all-zero sentinel used before a worker has
// completed its handshake.
var NullUniqueProcessId = UniqueProcessId{}

// IsNull reports whether this is the all-zero sentinel value.
func (u UniqueProcessId) IsNull() bool {
	return u == NullUniqueProcessId
}

// Equal reports componentwise equality.
func (u UniqueProcessId) Equal(other UniqueProcessId) bool {
	return u == other
}

// Less implements the lexicographic ordering over
// (HostID, Pid, StartTime, Generation).
func (u UniqueProcessId) Less(other UniqueProcessId) bool {
	if u.HostID != other.HostID {
		return u.HostID < other.HostID
	}
	if u.Pid != other.Pid {
		return u.Pid < other.Pid
	}
	if u.StartTime != other.StartTime {
		return u.StartTime < other.StartTime
	}
	return u.Generation < other.Generation
}

// String renders the identity the way dmtcp_coordinator logs it:
// host:pid:starttime:generation.
func (u UniqueProcessId) String() string {
	return fmt.Sprintf("%d:%d:%d:%d", u.HostID, u.Pid, u.StartTime, u.Generation)
}

// IncrementGeneration returns a copy with Generation bumped by one, used
// when the coordinator starts a checkpoint of the computation.
func (u UniqueProcessId) IncrementGeneration() UniqueProcessId {
	u.Generation++
	return u
}

// ComputationId identifies one computation (the set of all processes
// under a single coordinator run) and additionally carries the
// coordinator timestamp at which the computation was created: seconds
// since epoch shifted left 4 bits, OR'd with a decisecond counter
// 0-9, for a 60-bit value that is unique enough to distinguish
// same-second restarts without a full 64-bit timestamp.
type ComputationId struct {
	UniqueProcessId
	CoordTimeStamp uint64
}

// NullComputationId is the all-zero sentinel preceding the first
// DMT_HELLO_COORDINATOR handshake.
var NullComputationId = ComputationId{}

// IsNull reports whether this is the all-zero sentinel value.
func (c ComputationId) IsNull() bool {
	return c == NullComputationId
}

// String renders the identity the way restart script filenames encode
// it: UniqueProcessId plus a decimal coordinator timestamp.
func (c ComputationId) String() string {
	return fmt.Sprintf("%s-%d", c.UniqueProcessId.String(), c.CoordTimeStamp)
}

// EncodeCoordTimeStamp packs a unix-seconds value and a decisecond
// counter (0-9) into the 60-bit CoordTimeStamp encoding used above.
func EncodeCoordTimeStamp(unixSeconds int64, decisecond int) uint64 {
	return uint64(unixSeconds)<<4 | uint64(decisecond&0xF)
}

// WorkerState is the monotonically-increasing per-worker lifecycle
// state the phase engine aggregates over. Ordering matters: comparisons
// between WorkerState values drive the minimum-state edge table, so the
// numeric values below must never be reordered or reused.
type WorkerState int

const (
	WorkerUnknown WorkerState = iota
	WorkerRunning
	WorkerSuspended
	WorkerFDLeaderElection
	WorkerDrained
	WorkerRestarting
	WorkerCheckpointed
	WorkerNameServiceDataRegistered
	WorkerDoneQuerying
	WorkerRefilled
)

var workerStateNames = map[WorkerState]string{
	WorkerUnknown:                   "UNKNOWN",
	WorkerRunning:                   "RUNNING",
	WorkerSuspended:                 "SUSPENDED",
	WorkerFDLeaderElection:          "FD_LEADER_ELECTION",
	WorkerDrained:                   "DRAINED",
	WorkerRestarting:                "RESTARTING",
	WorkerCheckpointed:              "CHECKPOINTED",
	WorkerNameServiceDataRegistered: "NAME_SERVICE_DATA_REGISTERED",
	WorkerDoneQuerying:              "DONE_QUERYING",
	WorkerRefilled:                  "REFILLED",
}

// String renders the symbolic WorkerState name for logging.
func (s WorkerState) String() string {
	if name, ok := workerStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("WorkerState(%d)", int(s))
}

// ClientRecord is everything the coordinator tracks about one admitted
// worker connection: its identity, the virtual pid it was assigned, its
// declared host/program metadata, its position in the registry, and its
// current lifecycle state. ClientRecord is intentionally free of any
// net.Conn or I/O handle; the registry and event loop own the live
// socket, keyed by ClientNumber, so this type stays serializable and
// easy to exercise in phase-engine tests without a real connection.
type ClientRecord struct {
	Identity        UniqueProcessId
	VirtualPid      int32
	Hostname        string
	ProgramName     string
	CheckpointDir   string
	ClientNumber    int
	State           WorkerState
	RestartUniqueID UniqueProcessId
}

// RestartFilenameEntry records one worker's reported checkpoint image
// filenames, keyed by hostname, for the restart script writer.
type RestartFilenameEntry struct {
	Hostname string
	Files    []string
}
