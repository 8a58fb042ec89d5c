package coordinator

import (
	"github.com/cuemby/dmtcp-coordinator/pkg/events"
	"github.com/cuemby/dmtcp-coordinator/pkg/metrics"
	"github.com/cuemby/dmtcp-coordinator/pkg/types"
	"github.com/cuemby/dmtcp-coordinator/pkg/wire"
	"github.com/google/uuid"
)

// admitResult tells the per-connection goroutine whether to keep
// reading framed messages off the socket as an admitted client.
type admitResult struct {
	clientNumber    int
	admitted        bool
	awaitingCommand bool
}

// handleFirstMessage classifies the single message read immediately
// after accept. It owns closing the peer in every case
// except a successful admission (handed back via admitResult) and a
// deferred blocking-operator reply (kept open in c.pendingReply).
func (c *Coordinator) handleFirstMessage(peer Peer, m wire.Message, extra []byte) admitResult {
	if err := wire.AssertValid(m); err != nil {
		c.log.Error().Err(err).Str("type", m.Type.String()).Msg("coordinator: fatal protocol violation on admission")
		peer.Close()
		return admitResult{}
	}
	if c.killInProgress {
		peer.Send(wire.Message{Type: wire.MsgKillPeer}, nil)
		peer.Close()
		return admitResult{}
	}

	switch {
	case m.Type == wire.MsgGetVirtualPid:
		c.handleGetVirtualPid(peer)
		return admitResult{}

	case m.Type == wire.MsgUserCmd:
		return c.handleOperatorCommand(peer, m.CoordCmd, m.CheckpointInterval)

	case m.Type == wire.MsgRestartProcess:
		return c.handleRestartBootstrap(peer, m)

	case m.Type == wire.MsgHelloCoordinator && m.State == types.WorkerRestarting:
		return c.handleRestartingWorker(peer, m, extra)

	case m.Type == wire.MsgHelloCoordinator && (m.State == types.WorkerRunning || m.State == types.WorkerUnknown):
		return c.handleNewWorker(peer, m, extra)

	default:
		c.log.Error().Str("type", m.Type.String()).Msg("coordinator: fatal protocol violation on admission")
		peer.Close()
		return admitResult{}
	}
}

func (c *Coordinator) handleGetVirtualPid(peer Peer) {
	pid, err := c.vpids.Alloc()
	if err != nil {
		c.log.Fatal().Err(err).Msg("coordinator: virtual pid pool exhausted")
	}
	peer.Send(wire.Message{Type: wire.MsgGetVirtualPidResult, VirtualPid: pid}, nil)
	peer.Close()
}

// handleNewWorker validates a RUNNING/UNKNOWN DMT_HELLO_COORDINATOR,
// i.e. a freshly-launched (possibly forked) worker joining.
func (c *Coordinator) handleNewWorker(peer Peer, m wire.Message, extra []byte) admitResult {
	hostname, progname, prefixDir := parseHello(extra, peer)
	agg := c.registry.Status()

	if c.workersRunningAndSuspendMsgSent {
		// A fork child racing an in-progress checkpoint barrier: let it
		// join mid-barrier immediately behind DMT_HELLO_WORKER.
		// Invariant: numPeers > 0 and minState != SUSPENDED here.
		rec := c.admitClient(peer, m, hostname, progname, prefixDir)
		peer.Send(wire.Message{Type: wire.MsgHelloWorker, CompGroup: c.compID, VirtualPid: rec.VirtualPid}, nil)
		peer.Send(wire.Message{Type: wire.MsgDoSuspend, CompGroup: c.compID, NumPeers: int32(len(c.clients))}, nil)
		metrics.AdmissionsAccepted.WithLabelValues("fork_during_suspend").Inc()
		return admitResult{clientNumber: rec.ClientNumber, admitted: true}
	}

	if agg.NumPeers > 0 && agg.Min != types.WorkerRunning && agg.Min != types.WorkerUnknown {
		c.reject(peer, "coordinator not accepting new workers mid-barrier")
		return admitResult{}
	}

	if !m.CompGroup.IsNull() {
		c.reject(peer, "worker carries a foreign computation id")
		return admitResult{}
	}

	if c.compID.IsNull() {
		// First-ever peer of a new computation: adopt its identity.
		c.compID = types.ComputationId{UniqueProcessId: m.From, CoordTimeStamp: newTimestamp()}
		c.curTimeStamp = c.compID.CoordTimeStamp
		c.localHostName = hostname
		c.localPrefix = prefixDir
		metrics.Generation.Set(float64(c.compID.Generation))
	} else if hostname == c.localHostName {
		if c.localPrefix != "" && prefixDir != "" && c.localPrefix != prefixDir {
			c.reject(peer, "same-host worker prefix-dir conflict")
			return admitResult{}
		}
	} else {
		if c.remotePrefix == "" {
			c.remotePrefix = prefixDir
		} else if prefixDir != "" && c.remotePrefix != prefixDir {
			c.reject(peer, "remote-host worker prefix-dir conflict")
			return admitResult{}
		}
	}

	rec := c.admitClient(peer, m, hostname, progname, prefixDir)
	peer.Send(wire.Message{Type: wire.MsgHelloWorker, CompGroup: c.compID, VirtualPid: rec.VirtualPid}, nil)
	metrics.AdmissionsAccepted.WithLabelValues("new_worker").Inc()
	c.events.Publish(&events.Event{Type: events.EventWorkerAdmitted, Message: rec.Identity.String()})
	c.recordAudit("worker.admitted", rec.Identity.String())
	c.recomputeAndAct()
	return admitResult{clientNumber: rec.ClientNumber, admitted: true}
}

// handleRestartingWorker validates a worker relaunched from a
// checkpoint image.
func (c *Coordinator) handleRestartingWorker(peer Peer, m wire.Message, extra []byte) admitResult {
	hostname, progname, prefixDir := parseHello(extra, peer)
	agg := c.registry.Status()
	if c.compID.IsNull() || !m.CompGroup.UniqueProcessId.Equal(c.compID.UniqueProcessId) {
		c.reject(peer, "restarting worker belongs to a different computation")
		return admitResult{}
	}
	// The first restarting worker arrives into an empty registry (only
	// the restart driver's bootstrap preceded it), so an aggregate of
	// UNKNOWN with zero peers is still in-barrier.
	if agg.NumPeers > 0 && agg.Min != types.WorkerRestarting && agg.Min != types.WorkerCheckpointed {
		c.reject(peer, "restarting worker arrived outside RESTARTING/CHECKPOINTED barrier")
		return admitResult{}
	}

	rec := c.admitClient(peer, m, hostname, progname, prefixDir)
	c.restartConnectedCount++
	peer.Send(wire.Message{Type: wire.MsgHelloWorker, CompGroup: c.compID, VirtualPid: rec.VirtualPid}, nil)
	metrics.AdmissionsAccepted.WithLabelValues("restarting_worker").Inc()
	c.recomputeAndAct()
	return admitResult{clientNumber: rec.ClientNumber, admitted: true}
}

// handleRestartBootstrap handles DMT_RESTART_PROCESS from the restart
// driver, which may install a brand-new ComputationId, join an
// in-progress restart, or be rejected for a mismatch.
func (c *Coordinator) handleRestartBootstrap(peer Peer, m wire.Message) admitResult {
	switch {
	case c.compID.IsNull():
		c.compID = m.CompGroup
		c.curTimeStamp = newTimestamp()
		c.compID.CoordTimeStamp = c.curTimeStamp
		c.restartNumPeers = m.NumPeers
		c.isRestarting = true
		metrics.RestartsStarted.Inc()
		c.events.Publish(&events.Event{Type: events.EventRestartBootstrap, Message: c.compID.String()})
		c.recordAudit("restart.bootstrap", c.compID.String())

	case m.CompGroup.UniqueProcessId.Equal(c.compID.UniqueProcessId) && m.NumPeers == c.restartNumPeers:
		// Additional restart driver for the same computation.

	default:
		c.reject(peer, "restart bootstrap mismatch")
		return admitResult{}
	}

	peer.Send(wire.Message{Type: wire.MsgRestartProcessReply, CompGroup: c.compID, CoordTimeStamp: c.curTimeStamp}, nil)
	peer.Close()
	return admitResult{}
}

// admitClient stores a new ClientRecord and wires its Peer, assigning a
// fresh virtual pid unless the message already carries one (restart
// rejoining its prior identity).
func (c *Coordinator) admitClient(peer Peer, m wire.Message, hostname, progname, prefixDir string) *types.ClientRecord {
	vp := m.VirtualPid
	if vp == 0 {
		var err error
		vp, err = c.vpids.Alloc()
		if err != nil {
			c.log.Fatal().Err(err).Msg("coordinator: virtual pid pool exhausted")
		}
	} else {
		// Caller-supplied pid (a restarting worker re-claiming its prior
		// identity): mark it held so a concurrent Alloc() can never hand
		// the same pid to a second live client.
		c.vpids.Reserve(vp)
	}
	rec := &types.ClientRecord{
		Identity:      m.From,
		VirtualPid:    vp,
		Hostname:      hostname,
		ProgramName:   progname,
		CheckpointDir: prefixDir,
		State:         m.State,
	}
	num := c.registry.Admit(rec)
	c.clients[num] = &clientState{rec: rec, peer: peer}
	metrics.ClientsConnected.Set(float64(len(c.clients)))
	metrics.VirtualPidsAllocated.Set(float64(c.vpids.Count()))
	return rec
}

// reject closes peer with DMT_REJECT. Each rejection gets its own
// correlation id, logged alongside the reason so an operator can match
// a worker-side "rejected by coordinator" log line back to this event;
// the id never goes on the wire, since the wire ABI is fixed.
func (c *Coordinator) reject(peer Peer, reason string) {
	peer.Send(wire.Message{Type: wire.MsgReject}, nil)
	peer.Close()
	metrics.AdmissionsRejected.WithLabelValues(reason).Inc()
	c.events.Publish(&events.Event{Type: events.EventWorkerRejected, Message: reason})
	c.recordAudit("worker.rejected", reason)
	c.log.Warn().Str("reject_id", uuid.NewString()).Str("reason", reason).Msg("coordinator: rejected connection")
}

// parseHello extracts hostname/progname/prefix-dir from a
// DMT_HELLO_COORDINATOR payload, falling back to the socket's remote
// address when a worker sends an empty payload (e.g. test fixtures).
func parseHello(extra []byte, peer Peer) (hostname, progname, prefixDir string) {
	if len(extra) == 0 {
		return hostnameOf(peer), "", ""
	}
	h, p, d, err := wire.HelloPayload(extra)
	if err != nil {
		return hostnameOf(peer), "", ""
	}
	return h, p, d
}

func hostnameOf(peer Peer) string {
	addr := peer.RemoteAddr()
	for i, ch := range addr {
		if ch == ':' {
			return addr[:i]
		}
	}
	return addr
}
