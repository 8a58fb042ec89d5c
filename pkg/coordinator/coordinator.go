// Package coordinator implements the dmtcp coordinator's core state
// machine: admission/handshake classification, the phase engine that
// drives CHECKPOINT and RESTART barriers, the client registry, virtual
// PID allocation, the in-memory lookup service, operator commands, and
// the restart-script writer. It is the single owned state struct the
// event loop drives: no package-level mutable coordinator
// state exists outside a *Coordinator value.
package coordinator

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/dmtcp-coordinator/pkg/events"
	"github.com/cuemby/dmtcp-coordinator/pkg/log"
	"github.com/cuemby/dmtcp-coordinator/pkg/lookup"
	"github.com/cuemby/dmtcp-coordinator/pkg/metrics"
	"github.com/cuemby/dmtcp-coordinator/pkg/registry"
	"github.com/cuemby/dmtcp-coordinator/pkg/restartscript"
	"github.com/cuemby/dmtcp-coordinator/pkg/storage"
	"github.com/cuemby/dmtcp-coordinator/pkg/types"
	"github.com/cuemby/dmtcp-coordinator/pkg/vpid"
	"github.com/cuemby/dmtcp-coordinator/pkg/wire"
	"github.com/rs/zerolog"
)

// recordAudit appends one diagnostic entry to the audit log alongside
// whatever live event the same call site published: the audit trail is
// a secondary, non-authoritative record of the same lifecycle
// milestones events.Broker fans out to live subscribers. Failures are
// logged, never fatal: the coordinator's own correctness never depends
// on this write succeeding.
func (c *Coordinator) recordAudit(kind, detail string) {
	if err := c.audit.Append(storage.AuditEntry{
		Timestamp:     time.Now(),
		Kind:          kind,
		ComputationID: c.compID.String(),
		Detail:        detail,
	}); err != nil {
		c.log.Debug().Err(err).Str("kind", kind).Msg("coordinator: audit append failed")
	}
}

// clientState bundles everything the coordinator tracks about one
// admitted worker beyond what fits in types.ClientRecord: the live Peer
// used to deliver broadcasts and unicasts.
type clientState struct {
	rec  *types.ClientRecord
	peer Peer
}

// Coordinator is the complete, single-instance state a coordinator
// process owns. Every field is mutated only from the event loop's
// goroutine (see pkg/coordinator/loop.go); no locking is needed for the
// coordinator's own state, though Registry keeps an internal
// mutex for concurrent diagnostic readers.
type Coordinator struct {
	opts Options
	log  zerolog.Logger

	registry *registry.Registry
	vpids    *vpid.Allocator
	lookup   *lookup.Service
	events   *events.Broker
	audit    storage.AuditLog

	clients map[int]*clientState // clientNumber -> live peer + record

	compID       types.ComputationId
	curTimeStamp uint64

	localPrefix   string
	localHostName string
	remotePrefix  string

	restartFilenames map[string][]string

	checkpointInterval        int32
	defaultCheckpointInterval int32
	intervalRaisedForRun      bool

	workersRunningAndSuspendMsgSent bool
	isRestarting                    bool
	restartNumPeers                 int32
	restartConnectedCount           int32

	killInProgress bool

	blockNextCheckpoint bool
	pendingReply        Peer

	checkpointCycleStart time.Time

	lastMinState types.WorkerState
}

// New builds a Coordinator from resolved Options. The caller is
// responsible for exporting opts' env-derived fields before calling
// New (see Options.Finalize).
func New(opts Options) *Coordinator {
	l := log.WithComponent("coordinator")
	broker := events.NewBroker()
	broker.Start()

	auditLog, err := storage.NewBoltAuditLog(opts.TmpDir)
	if err != nil {
		l.Warn().Err(err).Msg("coordinator: audit log disabled, continuing without persistence")
		auditLog = storage.NoopAuditLog{}
	}

	c := &Coordinator{
		opts:                      opts,
		log:                       l,
		registry:                  registry.New(l),
		vpids:                     vpid.New(),
		lookup:                    lookup.New(l),
		events:                    broker,
		audit:                     auditLog,
		clients:                   make(map[int]*clientState),
		restartFilenames:          make(map[string][]string),
		checkpointInterval:        int32(opts.CheckpointInterval),
		defaultCheckpointInterval: int32(opts.CheckpointInterval),
		lastMinState:              types.WorkerUnknown,
	}
	return c
}

// resetComputation clears every piece of state scoped to a single
// active computation, the effect of the last client disconnecting.
func (c *Coordinator) resetComputation() {
	c.compID = types.NullComputationId
	c.curTimeStamp = 0
	c.lookup.Reset()
	c.restartFilenames = make(map[string][]string)
	c.killInProgress = false
	c.workersRunningAndSuspendMsgSent = false
	c.isRestarting = false
	c.restartNumPeers = 0
	c.restartConnectedCount = 0
	c.localPrefix = ""
	c.localHostName = ""
	c.remotePrefix = ""
	c.lastMinState = types.WorkerUnknown
	if c.intervalRaisedForRun {
		c.checkpointInterval = c.defaultCheckpointInterval
		c.intervalRaisedForRun = false
	}
	metrics.Generation.Set(0)
}

// newTimestamp derives the 60-bit coordinator timestamp:
// wall-clock seconds shifted left 4 bits, OR'd with a
// decisecond counter. There is no sub-second clock source worth wiring
// here, so the decisecond field is always 0; it exists for wire
// compatibility with readers that expect the packed shape.
func newTimestamp() uint64 {
	return types.EncodeCoordTimeStamp(time.Now().Unix(), 0)
}

// broadcast sends m (with no payload) to every currently-admitted
// client, in client-number order, recording metrics for the call.
func (c *Coordinator) broadcast(m wire.MessageType) {
	timer := metrics.NewTimer()
	for _, cs := range c.clientsInOrder() {
		msg := wire.Message{Type: m, CompGroup: c.compID, NumPeers: int32(len(c.clients))}
		if err := cs.peer.Send(msg, nil); err != nil {
			c.log.Warn().Err(err).Int("client", cs.rec.ClientNumber).Msg("coordinator: broadcast send failed")
		}
	}
	timer.ObserveDuration(metrics.BroadcastDuration)
	c.log.Debug().Str("type", m.String()).Int("peers", len(c.clients)).Msg("coordinator: broadcast")
}

func (c *Coordinator) clientsInOrder() []*clientState {
	recs := c.registry.All()
	out := make([]*clientState, 0, len(recs))
	for _, r := range recs {
		if cs, ok := c.clients[r.ClientNumber]; ok {
			out = append(out, cs)
		}
	}
	return out
}

// disconnect tears down one client: releases its virtual pid, drops it
// from the registry, and, if it was the last client, resets every
// per-computation piece of state.
func (c *Coordinator) disconnect(clientNumber int) {
	cs, ok := c.clients[clientNumber]
	if !ok {
		return
	}
	c.vpids.Release(cs.rec.VirtualPid)
	c.registry.Remove(clientNumber)
	delete(c.clients, clientNumber)
	cs.peer.Close()

	c.events.Publish(&events.Event{
		Type:    events.EventWorkerDisconnect,
		Message: fmt.Sprintf("worker %s disconnected", cs.rec.Identity),
	})
	c.recordAudit("worker.disconnected", cs.rec.Identity.String())
	c.log.Info().Int("client", clientNumber).Str("identity", cs.rec.Identity.String()).Msg("coordinator: worker disconnected")

	if len(c.clients) == 0 {
		c.resetComputation()
		if c.pendingReply != nil {
			c.pendingReply.Close()
			c.pendingReply = nil
		}
		if c.opts.ExitOnLast {
			c.log.Info().Msg("coordinator: last client gone, exit-on-last configured")
			c.handleUserCommand(nil, 'q')
		}
	} else {
		c.recomputeAndAct()
	}
}

// Shutdown flushes every pending write and terminates the process. It
// is the exported entry point SIGINT/SIGTERM handling in cmd/dmtcp-coordinator
// uses to apply the same effect as operator 'q'.
func (c *Coordinator) Shutdown(code int) {
	c.shutdown(code)
}

// shutdown flushes every pending write and terminates the process, the
// effect of operator 'q' or SIGINT.
func (c *Coordinator) shutdown(code int) {
	c.log.Info().Int("code", code).Msg("coordinator: shutting down")
	for _, cs := range c.clientsInOrder() {
		if err := cs.peer.Flush(2 * time.Second); err != nil {
			c.log.Warn().Err(err).Int("client", cs.rec.ClientNumber).Msg("coordinator: abandoning undrained peer on shutdown")
		}
		cs.peer.Close()
	}
	c.audit.Close()
	os.Exit(code)
}

// Events exposes the coordinator's live event broker so the process
// entry point (and diagnostic tooling) can subscribe to admission,
// phase-edge, and checkpoint lifecycle events without reaching into
// coordinator state.
func (c *Coordinator) Events() *events.Broker {
	return c.events
}

// writeRestartScript is called on the DRAINED->CHECKPOINTED edge; the
// RESTARTING->CHECKPOINTED edge does not write a script.
func (c *Coordinator) writeRestartScript() {
	cfg := restartscript.Config{
		CheckpointDir:      c.opts.CheckpointDir,
		CoordHost:          c.opts.Host,
		CoordPort:          c.opts.Port,
		CheckpointInterval: int(c.checkpointInterval),
		BatchMode:          c.opts.Batch,
		LocalPrefix:        c.localPrefix,
		RemotePrefix:       c.remotePrefix,
		ProgramDir:         programDir(),
	}
	res, err := restartscript.Write(cfg, c.compID.String(), c.compID.Generation, c.restartFilenames, len(c.clients))
	if err != nil {
		c.log.Error().Err(err).Msg("coordinator: failed to write restart script")
		return
	}
	metrics.RestartScriptsWritten.Inc()
	c.events.Publish(&events.Event{
		Type:    events.EventRestartScript,
		Message: res.ScriptPath,
	})
	c.recordAudit("restart.script_written", res.ScriptPath)
	c.log.Info().Str("script", res.ScriptPath).Str("symlink", res.SymlinkPath).Msg("coordinator: restart script written")
}

func programDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}
