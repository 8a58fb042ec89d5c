package coordinator

import (
	"fmt"
	"time"

	"github.com/cuemby/dmtcp-coordinator/pkg/events"
	"github.com/cuemby/dmtcp-coordinator/pkg/metrics"
	"github.com/cuemby/dmtcp-coordinator/pkg/types"
	"github.com/cuemby/dmtcp-coordinator/pkg/wire"
)

// phaseEdge is one row of the minState transition table.
type phaseEdge struct {
	from, to types.WorkerState
	act      func(c *Coordinator)
}

var phaseEdges = []phaseEdge{
	{types.WorkerRunning, types.WorkerSuspended, func(c *Coordinator) {
		c.broadcast(wire.MsgDoFDLeaderElection)
		c.workersRunningAndSuspendMsgSent = false
	}},
	{types.WorkerSuspended, types.WorkerFDLeaderElection, func(c *Coordinator) {
		c.broadcast(wire.MsgDoDrain)
	}},
	{types.WorkerFDLeaderElection, types.WorkerDrained, func(c *Coordinator) {
		c.broadcast(wire.MsgDoCheckpoint)
	}},
	{types.WorkerDrained, types.WorkerCheckpointed, func(c *Coordinator) {
		c.writeRestartScript()
		c.lookup.Reset()
		c.broadcast(wire.MsgDoRegisterNameServiceData)
	}},
	{types.WorkerRestarting, types.WorkerCheckpointed, func(c *Coordinator) {
		c.isRestarting = false
		c.lookup.Reset()
		c.broadcast(wire.MsgDoRegisterNameServiceData)
	}},
	{types.WorkerCheckpointed, types.WorkerNameServiceDataRegistered, func(c *Coordinator) {
		c.broadcast(wire.MsgDoSendQueries)
	}},
	{types.WorkerNameServiceDataRegistered, types.WorkerDoneQuerying, func(c *Coordinator) {
		c.broadcast(wire.MsgDoRefill)
	}},
	{types.WorkerDoneQuerying, types.WorkerRefilled, func(c *Coordinator) {
		c.broadcast(wire.MsgDoResume)
		c.isRestarting = false
		if !c.checkpointCycleStart.IsZero() {
			metrics.CheckpointCycleDuration.Observe(time.Since(c.checkpointCycleStart).Seconds())
			c.checkpointCycleStart = time.Time{}
		}
		metrics.CheckpointsCompleted.Inc()
		c.events.Publish(&events.Event{Type: events.EventCheckpointDone, Message: c.compID.String()})
		c.recordAudit("checkpoint.completed", "")
		if c.pendingReply != nil {
			c.pendingReply.Send(wire.Message{Type: wire.MsgUserCmdResult, CoordErrorCode: wire.ErrNone}, nil)
			c.pendingReply.Close()
			c.pendingReply = nil
		}
	}},
}

// effectiveMinState applies the two special-case overrides the phase
// engine uses before consulting the edge table.
func (c *Coordinator) effectiveMinState() types.WorkerState {
	agg := c.registry.Status()
	if agg.NumPeers == 0 {
		return types.WorkerUnknown
	}
	if agg.Min == types.WorkerRunning && !agg.Unanimous && agg.Max == types.WorkerRefilled {
		return types.WorkerRefilled
	}
	if c.isRestarting && agg.Min == types.WorkerCheckpointed && int(c.restartConnectedCount) < int(c.restartNumPeers) {
		return types.WorkerRestarting
	}
	return agg.Min
}

// recomputeAndAct is invoked after any event that may have changed the
// aggregate client state (a DMT_OK, an admission, a disconnect). It
// derives the new effective minState and fires the edge action, if
// any, from lastMinState to it.
func (c *Coordinator) recomputeAndAct() {
	next := c.effectiveMinState()
	if next == c.lastMinState {
		return
	}
	prev := c.lastMinState
	c.lastMinState = next

	for _, e := range phaseEdges {
		if e.from == prev && e.to == next {
			c.log.Info().Str("from", prev.String()).Str("to", next.String()).Msg("coordinator: phase edge")
			c.events.Publish(&events.Event{Type: events.EventPhaseEdge, Message: prev.String() + "->" + next.String()})
			c.recordAudit("phase.edge", prev.String()+"->"+next.String())
			metrics.PhaseEdgeTransitions.WithLabelValues(prev.String(), next.String()).Inc()
			e.act(c)
			return
		}
	}
	c.log.Debug().Str("from", prev.String()).Str("to", next.String()).Msg("coordinator: minState changed with no matching edge")
}

// handleOK applies a DMT_OK: the sender's reported state replaces its
// registry entry, then the phase engine recomputes. An out-of-order
// regression is logged as a protocol anomaly but still adopted
// verbatim, re-deriving minState from whatever the client actually
// reports; the coordinator never blocks on trusting its peers.
func (c *Coordinator) handleOK(clientNumber int, m wire.Message) {
	cs, ok := c.clients[clientNumber]
	if !ok {
		return
	}
	if m.State < cs.rec.State {
		c.log.Warn().Int("client", clientNumber).Str("from", cs.rec.State.String()).Str("to", m.State.String()).
			Msg("coordinator: worker reported non-monotonic state, adopting it anyway")
	}
	if err := c.registry.SetState(clientNumber, m.State); err != nil {
		c.log.Error().Err(err).Int("client", clientNumber).Msg("coordinator: SetState failed")
		return
	}
	cs.rec.State = m.State
	metrics.ClientsByState.Reset()
	for _, rec := range c.registry.All() {
		metrics.ClientsByState.WithLabelValues(rec.State.String()).Inc()
	}
	c.recomputeAndAct()
}

// handleCkptFilename records one checkpoint image path reported during
// the CHECKPOINTED phase.
func (c *Coordinator) handleCkptFilename(extra []byte) {
	filename, hostname, err := wire.CkptFilenamePayload(extra)
	if err != nil {
		c.log.Error().Err(err).Msg("coordinator: malformed DMT_CKPT_FILENAME")
		return
	}
	c.restartFilenames[hostname] = append(c.restartFilenames[hostname], filename)
}

// handleUpdateProcessInfoAfterFork overwrites a client's identity,
// hostname and program name with the values the forked child now
// reports.
func (c *Coordinator) handleUpdateProcessInfoAfterFork(clientNumber int, m wire.Message, extra []byte) {
	cs, ok := c.clients[clientNumber]
	if !ok {
		return
	}
	cs.rec.Identity = m.From
	if len(extra) > 0 {
		if hostname, progname, _, err := wire.HelloPayload(extra); err == nil {
			cs.rec.Hostname = hostname
			cs.rec.ProgramName = progname
		}
	}
}

// handleRegisterNameServiceData inserts one key/value pair into the
// lookup store during the NAME_SERVICE_DATA_REGISTERED barrier.
func (c *Coordinator) handleRegisterNameServiceData(m wire.Message, extra []byte) {
	key, value, err := wire.NameServiceQueryPayload(m, extra)
	if err != nil {
		c.log.Error().Err(err).Msg("coordinator: malformed DMT_REGISTER_NAME_SERVICE_DATA")
		return
	}
	c.lookup.Register(key, value)
	metrics.LookupEntries.Set(float64(c.lookup.Len()))
}

// handleNameServiceQuery answers a lookup with the registered value for
// key, or terminates the connection fatally on miss: the protocol
// assumes every queried key was registered earlier in the barrier.
func (c *Coordinator) handleNameServiceQuery(clientNumber int, m wire.Message, extra []byte) {
	key, _, err := wire.NameServiceQueryPayload(m, extra)
	if err != nil {
		c.log.Error().Err(err).Msg("coordinator: malformed DMT_NAME_SERVICE_QUERY")
		return
	}
	value, ok := c.lookup.Query(key)
	cs, exists := c.clients[clientNumber]
	if !exists {
		return
	}
	if !ok {
		metrics.LookupQueriesTotal.WithLabelValues("miss").Inc()
		c.log.Error().Str("key", string(key)).Msg("coordinator: name-service query for unregistered key")
		cs.peer.Close()
		return
	}
	metrics.LookupQueriesTotal.WithLabelValues("hit").Inc()
	payload := make([]byte, 0, len(key)+len(value))
	payload = append(payload, key...)
	payload = append(payload, value...)
	reply := wire.Message{
		Type:   wire.MsgNameServiceQueryResponse,
		KeyLen: uint32(len(key)),
		ValLen: uint32(len(value)),
	}
	cs.peer.Send(reply, payload)
}

// startCheckpoint begins a new checkpoint cycle. It is only valid when
// every client is RUNNING and no suspend has already been sent; a 'c'
// in any other aggregate state is a no-op.
func (c *Coordinator) startCheckpoint() bool {
	agg := c.registry.Status()
	if agg.NumPeers == 0 || agg.Min != types.WorkerRunning || !agg.Unanimous || c.workersRunningAndSuspendMsgSent {
		return false
	}
	c.checkpointCycleStart = time.Now()
	c.restartFilenames = make(map[string][]string)
	c.compID.UniqueProcessId = c.compID.UniqueProcessId.IncrementGeneration()
	metrics.Generation.Set(float64(c.compID.Generation))
	metrics.CheckpointsStarted.Inc()
	c.events.Publish(&events.Event{Type: events.EventCheckpointStarted, Message: c.compID.String()})
	c.recordAudit("checkpoint.started", fmt.Sprintf("generation=%d", c.compID.Generation))
	c.broadcast(wire.MsgDoSuspend)
	c.workersRunningAndSuspendMsgSent = true
	return true
}
