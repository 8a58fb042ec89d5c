package coordinator

import (
	"fmt"
	"os"

	"github.com/cuemby/dmtcp-coordinator/pkg/events"
	"github.com/cuemby/dmtcp-coordinator/pkg/metrics"
	"github.com/cuemby/dmtcp-coordinator/pkg/types"
	"github.com/cuemby/dmtcp-coordinator/pkg/wire"
)

const helpText = `Commands:
  l : list current clients
  t : list current clients
  s : print status
  i : print/set checkpoint interval
  c : checkpoint now
  b : blocking prefix, next 'c' waits for completion
  k : kill peers
  q : kill peers and quit
  f : force a restart
  h : print this message
`

// handleUserCommand applies one operator character arriving on a
// DMT_USER_CMD connection. peer is nil when the command has no reply
// target: stdin keystrokes (via handleOperatorChar) and the 'q' that
// disconnect synthesizes under --exit-on-last.
func (c *Coordinator) handleUserCommand(peer Peer, cmd byte) admitResult {
	switch normalizeCmd(cmd) {
	case 'l', 't':
		c.printClientList()
		c.replyAndClose(peer, 0, wire.ErrNone)

	case 's':
		agg := c.registry.Status()
		code := wire.ErrNotRunningState
		if agg.Min == types.WorkerRunning && agg.Unanimous {
			code = wire.ErrNone
		}
		fmt.Fprintf(os.Stderr, "Status: numPeers=%d runningAndUnanimous=%v\n", agg.NumPeers, code == wire.ErrNone)
		c.replyAndClose(peer, int32(agg.NumPeers), code)

	case 'i':
		// A bare 'i' with no interval payload is a "get"; handleOperatorCommand
		// is the entry point that also knows how to "set".
		metrics.OperatorCommandsTotal.WithLabelValues("i", "NOERROR").Inc()
		c.replyAndClose(peer, 0, wire.ErrNone)

	case 'c':
		blocking := c.blockNextCheckpoint
		c.blockNextCheckpoint = false
		if !c.startCheckpoint() {
			metrics.OperatorCommandsTotal.WithLabelValues("c", "ERROR_NOT_RUNNING_STATE").Inc()
			c.replyAndClose(peer, 0, wire.ErrNotRunningState)
			break
		}
		metrics.OperatorCommandsTotal.WithLabelValues("c", "NOERROR").Inc()
		if blocking && peer != nil {
			c.pendingReply = peer
			break
		}
		c.replyAndClose(peer, int32(len(c.clients)), wire.ErrNone)

	case 'b':
		c.blockNextCheckpoint = true
		metrics.OperatorCommandsTotal.WithLabelValues("b", "NOERROR").Inc()
		return admitResult{awaitingCommand: true}

	case 'k':
		c.broadcast(wire.MsgKillPeer)
		c.killInProgress = true
		metrics.OperatorCommandsTotal.WithLabelValues("k", "NOERROR").Inc()
		c.recordAudit("operator.command", "k: kill peers")
		c.replyAndClose(peer, 0, wire.ErrNone)

	case 'q':
		metrics.OperatorCommandsTotal.WithLabelValues("q", "NOERROR").Inc()
		c.recordAudit("operator.command", "q: kill peers and quit")
		c.broadcast(wire.MsgKillPeer)
		c.shutdown(0)

	case 'f':
		c.broadcast(wire.MsgForceRestart)
		metrics.OperatorCommandsTotal.WithLabelValues("f", "NOERROR").Inc()
		c.recordAudit("operator.command", "f: force restart")
		c.replyAndClose(peer, 0, wire.ErrNone)

	case 'h', '?':
		fmt.Fprint(os.Stderr, helpText)
		metrics.OperatorCommandsTotal.WithLabelValues("h", "NOERROR").Inc()
		c.replyAndClose(peer, 0, wire.ErrNone)

	case ' ', '\t', '\n', '\r', 0:
		if peer != nil {
			peer.Close()
		}

	default:
		metrics.OperatorCommandsTotal.WithLabelValues(string([]byte{cmd}), "ERROR_INVALID_COMMAND").Inc()
		c.replyAndClose(peer, 0, wire.ErrInvalidCommand)
		c.events.Publish(&events.Event{Type: events.EventOperatorCommand, Message: "invalid command"})
		c.recordAudit("operator.command", fmt.Sprintf("invalid command %q", cmd))
	}
	return admitResult{}
}

// handleOperatorCommand applies one operator character with an optional
// checkpoint-interval payload (the 'i' command). This is the entry
// point used for dmtcp_command connections, where a set-interval also
// becomes the default for future computations, unlike a
// worker's own dmtcpaware call, handled separately by
// handleWorkerUserCmd, which never touches the default.
func (c *Coordinator) handleOperatorCommand(peer Peer, cmd byte, interval int32) admitResult {
	if normalizeCmd(cmd) != 'i' {
		return c.handleUserCommand(peer, cmd)
	}
	if interval > 0 {
		c.checkpointInterval = interval
		c.defaultCheckpointInterval = interval
		c.intervalRaisedForRun = false
	}
	metrics.OperatorCommandsTotal.WithLabelValues("i", "NOERROR").Inc()
	c.replyAndClose(peer, 0, wire.ErrNone)
	return admitResult{}
}

// handleWorkerUserCmd applies a DMT_USER_CMD arriving from an
// already-admitted worker's dmtcpaware library rather than a one-shot
// dmtcp_command connection. Only 'i' (get/set interval, never updating
// the default) is meaningful here; the socket stays open afterward
// since it is the worker's ongoing control connection, not a one-shot
// command socket.
func (c *Coordinator) handleWorkerUserCmd(clientNumber int, m wire.Message) {
	cs, ok := c.clients[clientNumber]
	if !ok {
		return
	}
	if normalizeCmd(m.CoordCmd) != 'i' {
		metrics.OperatorCommandsTotal.WithLabelValues(string([]byte{m.CoordCmd}), "ERROR_INVALID_COMMAND").Inc()
		cs.peer.Send(wire.Message{Type: wire.MsgUserCmdResult, CoordErrorCode: wire.ErrInvalidCommand}, nil)
		return
	}
	if m.CheckpointInterval > 0 {
		c.checkpointInterval = m.CheckpointInterval
		c.intervalRaisedForRun = true
	}
	metrics.OperatorCommandsTotal.WithLabelValues("i", "NOERROR").Inc()
	cs.peer.Send(wire.Message{
		Type:               wire.MsgUserCmdResult,
		CoordErrorCode:     wire.ErrNone,
		CheckpointInterval: c.checkpointInterval,
	}, nil)
}

// handleOperatorChar applies a single stdin keystroke, which carries no
// reply target and no interval payload.
func (c *Coordinator) handleOperatorChar(cmd byte) {
	c.handleUserCommand(nil, cmd)
}

func normalizeCmd(cmd byte) byte {
	if cmd >= 'A' && cmd <= 'Z' {
		return cmd + ('a' - 'A')
	}
	return cmd
}

func (c *Coordinator) replyAndClose(peer Peer, numPeers int32, code wire.CoordErrorCode) {
	if peer == nil {
		return
	}
	peer.Send(wire.Message{Type: wire.MsgUserCmdResult, NumPeers: numPeers, CoordErrorCode: code, CheckpointInterval: int32(c.checkpointInterval)}, nil)
	peer.Close()
}

func (c *Coordinator) printClientList() {
	fmt.Fprintln(os.Stderr, "Client list:")
	for _, rec := range c.registry.All() {
		fmt.Fprintf(os.Stderr, "  %d\t%s[%d]@%s\t%s\t%s\n",
			rec.ClientNumber, rec.ProgramName, rec.VirtualPid, rec.Hostname, rec.Identity.String(), rec.State.String())
	}
}
