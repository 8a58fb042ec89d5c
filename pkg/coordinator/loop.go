package coordinator

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/cuemby/dmtcp-coordinator/pkg/wire"
)

// inboundMsg is the unit the event loop's single consuming goroutine
// drains: every admission decision and every already-admitted client
// message funnels through here so that all coordinator state is only
// ever touched from one goroutine.
type inboundMsg struct {
	// Pre-admission / operator-command round trip: result is non-nil and
	// the sender blocks on it to learn whether to keep the socket open.
	peer   Peer
	msg    wire.Message
	extra  []byte
	result chan admitResult

	// Already-admitted client traffic.
	clientNumber int
	disconnected bool

	// Stdin keystrokes.
	stdinCmd byte
	isStdin  bool
}

// Listen opens the coordinator's TCP listener, reusing the inherited
// descriptor at InheritedListenerFD when the launcher already bound
// one, falling back to a fresh bind on opts.Port otherwise.
func (c *Coordinator) Listen() (net.Listener, error) {
	if f := os.NewFile(uintptr(InheritedListenerFD), "dmtcp-inherited-listener"); f != nil {
		if l, err := net.FileListener(f); err == nil {
			c.log.Info().Msg("coordinator: reusing inherited listener socket")
			return l, nil
		}
		f.Close()
	}
	addr := fmt.Sprintf(":%d", c.opts.Port)
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("coordinator: listen on %s: %w", addr, err)
	}
	c.log.Info().Int("port", c.opts.Port).Msg("coordinator: listening")
	return l, nil
}

// Run drives the event loop: accept/read multiplexing over the
// listener, admitted client sockets, and operator stdin, plus the
// periodic-checkpoint timer. It does not return: a listener error stops
// only the accept goroutine, and shutdown happens via os.Exit in
// c.shutdown.
func (c *Coordinator) Run(listener net.Listener) error {
	inbound := make(chan inboundMsg, 256)

	go c.acceptLoop(listener, inbound)
	if !c.opts.Background && !c.opts.Batch {
		go c.stdinLoop(inbound)
	}

	// nextFire is the deadline the periodic checkpoint is due, computed
	// once per interval rather than re-derived from a fresh
	// checkpointInterval countdown on every dispatched message:
	// otherwise a steady stream
	// of client traffic arriving faster than checkpointInterval apart
	// would starve periodic checkpoints indefinitely. It is only reset
	// when the timer actually fires or when checkpointInterval changes
	// (an 'i' command from an operator or a worker, or the default being
	// restored).
	var nextFire time.Time
	lastInterval := c.checkpointInterval

	for {
		var timerC <-chan time.Time
		if c.checkpointInterval > 0 {
			if c.checkpointInterval != lastInterval || nextFire.IsZero() {
				nextFire = time.Now().Add(time.Duration(c.checkpointInterval) * time.Second)
			}
			timerC = time.After(time.Until(nextFire))
		} else {
			nextFire = time.Time{}
		}
		lastInterval = c.checkpointInterval

		select {
		case im := <-inbound:
			c.dispatch(im)
		case <-timerC:
			c.log.Debug().Msg("coordinator: periodic checkpoint timer fired")
			c.startCheckpoint()
			nextFire = time.Now().Add(time.Duration(c.checkpointInterval) * time.Second)
		}
	}
}

func (c *Coordinator) dispatch(im inboundMsg) {
	if im.isStdin {
		c.handleOperatorChar(im.stdinCmd)
		return
	}
	if im.result != nil {
		im.result <- c.handleFirstMessage(im.peer, im.msg, im.extra)
		return
	}
	if im.disconnected {
		c.disconnect(im.clientNumber)
		return
	}
	c.routeClientMessage(im.clientNumber, im.msg, im.extra)
}

// routeClientMessage dispatches one already-admitted client's message
// to the phase engine or lookup service.
func (c *Coordinator) routeClientMessage(clientNumber int, m wire.Message, extra []byte) {
	if err := wire.AssertValid(m); err != nil {
		c.log.Error().Err(err).Int("client", clientNumber).Msg("coordinator: fatal protocol violation from admitted client")
		c.disconnect(clientNumber)
		return
	}
	switch m.Type {
	case wire.MsgOK:
		c.handleOK(clientNumber, m)
	case wire.MsgCkptFilename:
		c.handleCkptFilename(extra)
	case wire.MsgUpdateProcessInfoAfterFork:
		c.handleUpdateProcessInfoAfterFork(clientNumber, m, extra)
	case wire.MsgRegisterNameServiceData:
		c.handleRegisterNameServiceData(m, extra)
	case wire.MsgNameServiceQuery:
		c.handleNameServiceQuery(clientNumber, m, extra)
	case wire.MsgUserCmd:
		// A worker's dmtcpaware library issuing a command on its own
		// already-admitted control socket, not a one-shot dmtcp_command
		// connection: the reply goes back over the same long-lived
		// socket without closing it.
		c.handleWorkerUserCmd(clientNumber, m)
	default:
		c.log.Error().Int("client", clientNumber).Str("type", m.Type.String()).
			Msg("coordinator: fatal protocol violation from admitted client")
		c.disconnect(clientNumber)
	}
}

func (c *Coordinator) acceptLoop(listener net.Listener, inbound chan<- inboundMsg) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			c.log.Error().Err(err).Msg("coordinator: listener accept failed, stopping accept loop")
			return
		}
		go c.admissionLoop(conn, inbound)
	}
}

// admissionLoop owns one not-yet-admitted socket: it reads framed
// messages one at a time and round-trips each through the event loop
// for classification, looping only while the loop tells it to keep the
// connection open for a follow-up command (the blocking-'b' prefix).
func (c *Coordinator) admissionLoop(conn net.Conn, inbound chan<- inboundMsg) {
	peer := newPeerConn(conn)
	for {
		msg, extra, err := readOneMessage(conn)
		if err != nil {
			peer.Close()
			return
		}
		result := make(chan admitResult, 1)
		inbound <- inboundMsg{peer: peer, msg: msg, extra: extra, result: result}
		res := <-result

		if res.admitted {
			c.clientReadLoop(res.clientNumber, peer, conn, inbound)
			return
		}
		if res.awaitingCommand {
			continue
		}
		return
	}
}

// clientReadLoop owns one admitted client's socket for the rest of its
// life: every framed message is forwarded to the loop goroutine without
// waiting for a reply, since client traffic needs no admission-style
// round trip.
func (c *Coordinator) clientReadLoop(clientNumber int, peer Peer, conn net.Conn, inbound chan<- inboundMsg) {
	for {
		msg, extra, err := readOneMessage(conn)
		if err != nil {
			inbound <- inboundMsg{clientNumber: clientNumber, disconnected: true}
			return
		}
		inbound <- inboundMsg{clientNumber: clientNumber, msg: msg, extra: extra}
	}
}

// stdinLoop forwards operator keystrokes one character at a time; it is
// not started in --background/--batch mode, which detach stdio.
func (c *Coordinator) stdinLoop(inbound chan<- inboundMsg) {
	r := bufio.NewReader(os.Stdin)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return
		}
		inbound <- inboundMsg{isStdin: true, stdinCmd: b}
	}
}
