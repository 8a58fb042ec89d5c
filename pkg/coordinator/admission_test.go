package coordinator

import (
	"testing"

	"github.com/cuemby/dmtcp-coordinator/pkg/types"
	"github.com/cuemby/dmtcp-coordinator/pkg/wire"
	"github.com/stretchr/testify/require"
)

// TestForkDuringSuspend: one worker registered,
// DO_SUSPEND fires, and a third connection (a fork child) arrives
// RUNNING mid-barrier. It must be admitted immediately behind
// DMT_HELLO_WORKER with DO_SUSPEND so it joins the in-flight barrier.
func TestForkDuringSuspend(t *testing.T) {
	c := newTestCoordinator(t)
	admitRunningWorker(c, 1001)
	require.True(t, c.startCheckpoint())
	require.True(t, c.workersRunningAndSuspendMsgSent)

	childPeer, num := admitRunningWorker(c, 1002)
	require.Equal(t, []wire.MessageType{wire.MsgHelloWorker, wire.MsgDoSuspend}, childPeer.types())
	require.False(t, childPeer.isClosed())
	if _, ok := c.clients[num]; !ok {
		t.Fatal("fork child must be admitted into the client registry")
	}
}

// TestRejectForeignComputation: a peer carries
// a non-sentinel compGroup different from the coordinator's active
// ComputationId. The reply must be DMT_REJECT with the socket closed
// before any phase message is emitted.
func TestRejectForeignComputation(t *testing.T) {
	c := newTestCoordinator(t)
	admitRunningWorker(c, 1001) // establishes compID

	peer := newFakePeer("10.0.0.9:40000")
	foreign := types.ComputationId{UniqueProcessId: identity(9999)}
	m := wire.Message{Type: wire.MsgHelloCoordinator, From: identity(2002), State: types.WorkerRunning, CompGroup: foreign}
	extra := wire.EncodeHelloPayload("testhost", "a.out", "")

	res := c.handleFirstMessage(peer, m, extra)
	require.False(t, res.admitted)
	require.Equal(t, []wire.MessageType{wire.MsgReject}, peer.types())
	require.True(t, peer.isClosed())
}

// TestRejectNewWorkerMidBarrier: once the suspend barrier has started,
// any additional never-before-seen worker (not a fork-during-suspend
// case, i.e. arriving after workersRunningAndSuspendMsgSent clears but
// before minState returns to RUNNING) is rejected.
func TestRejectNewWorkerMidBarrier(t *testing.T) {
	c := newTestCoordinator(t)
	_, numA := admitRunningWorker(c, 1001)
	_, numB := admitRunningWorker(c, 1002)
	c.startCheckpoint()
	c.handleOK(numA, wire.Message{State: types.WorkerSuspended})
	c.handleOK(numB, wire.Message{State: types.WorkerSuspended})
	require.False(t, c.workersRunningAndSuspendMsgSent, "clears once minState reaches SUSPENDED")

	peer := newFakePeer("10.0.0.9:40000")
	m := wire.Message{Type: wire.MsgHelloCoordinator, From: identity(3003), State: types.WorkerRunning}
	extra := wire.EncodeHelloPayload("testhost", "a.out", "")
	res := c.handleFirstMessage(peer, m, extra)
	require.False(t, res.admitted)
	require.Equal(t, []wire.MessageType{wire.MsgReject}, peer.types())
}

// TestGetVirtualPidOverWireIsSequentialAndClosesSocket exercises the
// admission dispatcher: 20 consecutive DMT_GET_VIRTUAL_PID connections
// with no registrations yield 40000,41000,...,59000, and each
// connection is closed after its reply.
func TestGetVirtualPidOverWireIsSequentialAndClosesSocket(t *testing.T) {
	c := newTestCoordinator(t)
	for i := 0; i < 20; i++ {
		peer := newFakePeer("x:1")
		res := c.handleFirstMessage(peer, wire.Message{Type: wire.MsgGetVirtualPid}, nil)
		require.False(t, res.admitted)
		require.Len(t, peer.sent, 1)
		require.Equal(t, wire.MsgGetVirtualPidResult, peer.sent[0].Type)
		require.Equal(t, int32(40000+i*1000), peer.sent[0].VirtualPid)
		require.True(t, peer.isClosed())
	}
}

// TestRestartBootstrapInstallsComputationId covers the DMT_RESTART_PROCESS
// first-ever-bootstrap path.
func TestRestartBootstrapInstallsComputationId(t *testing.T) {
	c := newTestCoordinator(t)
	peer := newFakePeer("10.0.0.1:9999")
	compGroup := types.ComputationId{UniqueProcessId: identity(5005)}
	m := wire.Message{Type: wire.MsgRestartProcess, CompGroup: compGroup, NumPeers: 2}

	res := c.handleFirstMessage(peer, m, nil)
	require.False(t, res.admitted)
	require.True(t, c.isRestarting)
	require.Equal(t, int32(2), c.restartNumPeers)
	require.Equal(t, compGroup.UniqueProcessId, c.compID.UniqueProcessId)
	require.Equal(t, []wire.MessageType{wire.MsgRestartProcessReply}, peer.types())
	require.True(t, peer.isClosed())
}

// TestRestartBootstrapRejectsNumPeersMismatch covers the "reject on
// mismatch" branch of the restart bootstrap.
func TestRestartBootstrapRejectsNumPeersMismatch(t *testing.T) {
	c := newTestCoordinator(t)
	compGroup := types.ComputationId{UniqueProcessId: identity(5005)}
	c.handleFirstMessage(newFakePeer("a"), wire.Message{Type: wire.MsgRestartProcess, CompGroup: compGroup, NumPeers: 2}, nil)

	peer := newFakePeer("10.0.0.2:9999")
	res := c.handleFirstMessage(peer, wire.Message{Type: wire.MsgRestartProcess, CompGroup: compGroup, NumPeers: 3}, nil)
	require.False(t, res.admitted)
	require.Equal(t, []wire.MessageType{wire.MsgReject}, peer.types())
}

// TestAdmitClientReservesCallerSuppliedVirtualPid covers the restart-
// rejoin path of admitClient: a worker arriving with a non-zero
// VirtualPid (its prior identity) must mark that pid held in the
// allocator, not just the registry, so a concurrent Alloc() can never
// hand the same pid to a second live client.
func TestAdmitClientReservesCallerSuppliedVirtualPid(t *testing.T) {
	c := newTestCoordinator(t)
	peer := newFakePeer("10.0.0.1:1")
	m := wire.Message{Type: wire.MsgHelloCoordinator, From: identity(7001), State: types.WorkerRestarting, VirtualPid: 41000}

	rec := c.admitClient(peer, m, "testhost", "a.out", "")
	require.Equal(t, int32(41000), rec.VirtualPid)

	for i := 0; i < 3; i++ {
		pid, err := c.vpids.Alloc()
		require.NoError(t, err)
		require.NotEqual(t, int32(41000), pid, "allocator must skip the pid reserved by the restarting worker")
	}
}

// TestFirstRestartingWorkerAccepted: after a restart bootstrap the
// registry is empty, so the first RESTARTING worker must be admitted
// even though the aggregate state still reads UNKNOWN.
func TestFirstRestartingWorkerAccepted(t *testing.T) {
	c := newTestCoordinator(t)
	compGroup := types.ComputationId{UniqueProcessId: identity(5005)}
	c.handleFirstMessage(newFakePeer("driver:1"), wire.Message{Type: wire.MsgRestartProcess, CompGroup: compGroup, NumPeers: 2}, nil)

	peer := newFakePeer("10.0.0.1:40000")
	m := wire.Message{Type: wire.MsgHelloCoordinator, From: identity(5005), State: types.WorkerRestarting, CompGroup: compGroup}
	res := c.handleFirstMessage(peer, m, wire.EncodeHelloPayload("testhost", "a.out", ""))
	require.True(t, res.admitted)
	require.Equal(t, []wire.MessageType{wire.MsgHelloWorker}, peer.types())
	require.Equal(t, int32(1), c.restartConnectedCount)
}

// TestAdmissionRejectsSentinelSenderIdentity: a DMT_HELLO_COORDINATOR
// whose sender identity is still the all-zero sentinel fails
// validation outright, with no DMT_REJECT courtesy reply: a malformed
// sender is a protocol violation, not a wrong-phase rejection.
func TestAdmissionRejectsSentinelSenderIdentity(t *testing.T) {
	c := newTestCoordinator(t)
	peer := newFakePeer("10.0.0.1:40000")
	m := wire.Message{Type: wire.MsgHelloCoordinator, State: types.WorkerRunning}
	res := c.handleFirstMessage(peer, m, nil)
	require.False(t, res.admitted)
	require.Empty(t, peer.sent)
	require.True(t, peer.isClosed())
}

// TestKillInProgressRejectsNewConnections covers the global
// killInProgress gate: every new connection gets
// DMT_KILL_PEER and is closed while a kill is in flight.
func TestKillInProgressRejectsNewConnections(t *testing.T) {
	c := newTestCoordinator(t)
	c.killInProgress = true

	peer := newFakePeer("x:1")
	res := c.handleFirstMessage(peer, wire.Message{Type: wire.MsgHelloCoordinator, From: identity(1), State: types.WorkerRunning}, nil)
	require.False(t, res.admitted)
	require.Equal(t, []wire.MessageType{wire.MsgKillPeer}, peer.types())
	require.True(t, peer.isClosed())
}
