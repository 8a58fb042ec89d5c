package coordinator

import (
	"testing"

	"github.com/cuemby/dmtcp-coordinator/pkg/types"
	"github.com/cuemby/dmtcp-coordinator/pkg/wire"
	"github.com/stretchr/testify/require"
)

// TestBlockingOperatorCheckpoint: a one-shot
// connection sends 'b' then 'c'; the DMT_USER_CMD_RESULT reply is
// deferred until DO_RESUME, and the socket is then closed.
func TestBlockingOperatorCheckpoint(t *testing.T) {
	c := newTestCoordinator(t)
	_, num := admitRunningWorker(c, 1001)

	opPeer := newFakePeer("operator:1")
	res := c.handleFirstMessage(opPeer, wire.Message{Type: wire.MsgUserCmd, CoordCmd: 'b'}, nil)
	require.True(t, res.awaitingCommand)
	require.False(t, opPeer.isClosed(), "the 'b' prefix keeps the one-shot socket open for the follow-up 'c'")

	res = c.handleFirstMessage(opPeer, wire.Message{Type: wire.MsgUserCmd, CoordCmd: 'c'}, nil)
	require.False(t, res.admitted)
	require.Empty(t, opPeer.sent, "the reply must be deferred, not sent immediately")
	require.False(t, opPeer.isClosed())
	require.Same(t, opPeer, c.pendingReply)

	for _, st := range []types.WorkerState{
		types.WorkerSuspended, types.WorkerFDLeaderElection, types.WorkerDrained,
		types.WorkerCheckpointed, types.WorkerNameServiceDataRegistered,
		types.WorkerDoneQuerying, types.WorkerRefilled,
	} {
		c.handleOK(num, wire.Message{State: st})
	}

	require.Len(t, opPeer.sent, 1)
	require.Equal(t, wire.MsgUserCmdResult, opPeer.sent[0].Type)
	require.Equal(t, wire.ErrNone, opPeer.sent[0].CoordErrorCode)
	require.True(t, opPeer.isClosed())
	require.Nil(t, c.pendingReply)
}

// TestCheckpointCommandNotRunningStateIsNoOp covers the 'c' error path:
// repeating it while nothing is RUNNING stays a no-op.
func TestCheckpointCommandNotRunningStateIsNoOp(t *testing.T) {
	c := newTestCoordinator(t)
	// No peers at all: minState is UNKNOWN, never RUNNING.
	peer := newFakePeer("operator:1")
	c.handleFirstMessage(peer, wire.Message{Type: wire.MsgUserCmd, CoordCmd: 'c'}, nil)

	require.Len(t, peer.sent, 1)
	require.Equal(t, wire.MsgUserCmdResult, peer.sent[0].Type)
	require.Equal(t, wire.ErrNotRunningState, peer.sent[0].CoordErrorCode)
	require.True(t, peer.isClosed())
}

// TestInvalidOperatorCommand covers the unknown-command error.
func TestInvalidOperatorCommand(t *testing.T) {
	c := newTestCoordinator(t)
	peer := newFakePeer("operator:1")
	c.handleFirstMessage(peer, wire.Message{Type: wire.MsgUserCmd, CoordCmd: 'z'}, nil)

	require.Len(t, peer.sent, 1)
	require.Equal(t, wire.ErrInvalidCommand, peer.sent[0].CoordErrorCode)
}

// TestStatusCommandReportsUnanimousRunning covers the 's' command.
func TestStatusCommandReportsUnanimousRunning(t *testing.T) {
	c := newTestCoordinator(t)
	admitRunningWorker(c, 1001)
	admitRunningWorker(c, 1002)

	peer := newFakePeer("operator:1")
	c.handleFirstMessage(peer, wire.Message{Type: wire.MsgUserCmd, CoordCmd: 's'}, nil)

	require.Len(t, peer.sent, 1)
	require.Equal(t, wire.ErrNone, peer.sent[0].CoordErrorCode)
	require.Equal(t, int32(2), peer.sent[0].NumPeers)
}

// TestWorkerDmtcpawareIntervalCommandKeepsSocketOpen covers the
// distinction: a worker's own dmtcpaware 'i' call, unlike
// dmtcp_command's, never updates the default interval, and never
// closes the worker's ongoing control connection.
func TestWorkerDmtcpawareIntervalCommandKeepsSocketOpen(t *testing.T) {
	c := newTestCoordinator(t)
	peer, num := admitRunningWorker(c, 1001)
	before := c.defaultCheckpointInterval

	c.handleWorkerUserCmd(num, wire.Message{Type: wire.MsgUserCmd, CoordCmd: 'i', CheckpointInterval: 42})

	require.Equal(t, int32(42), c.checkpointInterval)
	require.Equal(t, before, c.defaultCheckpointInterval, "dmtcpaware path must not update the default")
	require.False(t, peer.isClosed())
	last := peer.last()
	require.Equal(t, wire.MsgUserCmdResult, last.Type)
	require.Equal(t, wire.ErrNone, last.CoordErrorCode)
}
