package coordinator

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cuemby/dmtcp-coordinator/pkg/wire"
)

// Peer is the coordinator's view of one connected socket: enough to
// queue a framed message for delivery, wait for the queue to drain, and
// close the connection. It exists so the phase engine and admission
// logic can be exercised in tests against a fake that never touches a
// real net.Conn.
type Peer interface {
	Send(m wire.Message, extra []byte) error
	Flush(timeout time.Duration) error
	Close() error
	RemoteAddr() string
}

// outboundQueue is the unbounded per-socket write queue: push never
// blocks the caller, and a dedicated writer
// goroutine drains it strictly in FIFO order so one slow peer never
// stalls delivery to anyone else. inflight marks the item the writer
// has popped but not yet finished writing, so drained only reports
// true once every queued byte has actually hit the socket.
type outboundQueue struct {
	mu       sync.Mutex
	items    [][]byte
	inflight bool
	notify   chan struct{}
}

func newOutboundQueue() *outboundQueue {
	return &outboundQueue{notify: make(chan struct{}, 1)}
}

func (q *outboundQueue) push(b []byte) {
	q.mu.Lock()
	q.items = append(q.items, b)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *outboundQueue) pop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	b := q.items[0]
	q.items = q.items[1:]
	q.inflight = true
	return b, true
}

func (q *outboundQueue) done() {
	q.mu.Lock()
	q.inflight = false
	q.mu.Unlock()
}

func (q *outboundQueue) drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0 && !q.inflight
}

// peerConn is the real Peer implementation backing an accepted TCP
// socket. Framing goes through pkg/wire; the write side runs on its own
// goroutine draining outboundQueue so Send is always non-blocking.
type peerConn struct {
	conn   net.Conn
	queue  *outboundQueue
	closed chan struct{}
	once   sync.Once
}

func newPeerConn(conn net.Conn) *peerConn {
	p := &peerConn{
		conn:   conn,
		queue:  newOutboundQueue(),
		closed: make(chan struct{}),
	}
	go p.writeLoop()
	return p
}

func (p *peerConn) writeLoop() {
	for {
		b, ok := p.queue.pop()
		if !ok {
			select {
			case <-p.queue.notify:
				continue
			case <-p.closed:
				return
			}
		}
		_, err := p.conn.Write(b)
		p.queue.done()
		if err != nil {
			p.Close()
			return
		}
	}
}

// Send serializes m+extra and enqueues it for delivery; it never blocks
// on the peer draining its socket.
func (p *peerConn) Send(m wire.Message, extra []byte) error {
	m.ExtraBytes = uint32(len(extra))
	var buf bytes.Buffer
	if err := wire.WriteMessage(&buf, m, extra); err != nil {
		return err
	}
	p.queue.push(buf.Bytes())
	return nil
}

// Flush blocks until the write queue has fully drained onto the socket
// or timeout lapses. The 'q' shutdown path uses it so DMT_KILL_PEER
// actually reaches every peer before its socket closes.
func (p *peerConn) Flush(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for !p.queue.drained() {
		if time.Now().After(deadline) {
			return fmt.Errorf("coordinator: write queue not drained within %s", timeout)
		}
		time.Sleep(5 * time.Millisecond)
	}
	return nil
}

func (p *peerConn) Close() error {
	p.once.Do(func() { close(p.closed) })
	return p.conn.Close()
}

func (p *peerConn) RemoteAddr() string {
	if a := p.conn.RemoteAddr(); a != nil {
		return a.String()
	}
	return "unknown"
}

// readOneMessage reads exactly one framed record, used both for the
// admission handshake and for every subsequent message on an admitted
// connection.
func readOneMessage(r io.Reader) (wire.Message, []byte, error) {
	return wire.ReadMessage(r)
}
