package coordinator

import (
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/dmtcp-coordinator/pkg/types"
	"github.com/cuemby/dmtcp-coordinator/pkg/wire"
)

// fakePeer is an in-memory Peer used to exercise admission and the
// phase engine without a real net.Conn, the same role testify/mock
// would play but hand-rolled since Peer is a small four-method interface
// and a slice of sent messages is all assertions need.
type fakePeer struct {
	mu     sync.Mutex
	sent   []wire.Message
	closed bool
	addr   string
}

func newFakePeer(addr string) *fakePeer {
	return &fakePeer{addr: addr}
}

func (p *fakePeer) Send(m wire.Message, extra []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, m)
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePeer) Flush(time.Duration) error { return nil }

func (p *fakePeer) RemoteAddr() string { return p.addr }

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) types() []wire.MessageType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]wire.MessageType, len(p.sent))
	for i, m := range p.sent {
		out[i] = m.Type
	}
	return out
}

func (p *fakePeer) last() wire.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent[len(p.sent)-1]
}

// newTestCoordinator builds a Coordinator with its audit log rooted at
// a throwaway temp dir, so New()'s real bbolt open succeeds exactly as
// it would in production.
func newTestCoordinator(t interface{ TempDir() string }) *Coordinator {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.CheckpointDir = dir
	opts.TmpDir = dir
	return New(opts)
}

func identity(pid int32) types.UniqueProcessId {
	return types.UniqueProcessId{HostID: 1, Pid: pid, StartTime: 1000}
}

// admitRunningWorker drives one brand-new RUNNING worker through
// handleFirstMessage and returns its peer and client number.
func admitRunningWorker(c *Coordinator, pid int32) (*fakePeer, int) {
	peer := newFakePeer(fmt.Sprintf("10.0.0.%d:40000", pid))
	extra := wire.EncodeHelloPayload("testhost", "a.out", "")
	m := wire.Message{Type: wire.MsgHelloCoordinator, From: identity(pid), State: types.WorkerRunning}
	res := c.handleFirstMessage(peer, m, extra)
	return peer, res.clientNumber
}
