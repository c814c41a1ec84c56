package swarm

import (
	"sync"

	"github.com/vidmesh/vidmesh/internal/protocol"
)

const loopbackBuffer = 256

// LoopbackChannel is an in-process Channel pair used by tests and by
// single-process topologies. Send never blocks: a full buffer returns
// ErrChannelFull, mirroring the transport's fail-silent send semantics.
type LoopbackChannel struct {
	peer *LoopbackChannel

	mu     sync.Mutex
	in     chan protocol.Message
	closed bool
}

var _ Channel = (*LoopbackChannel)(nil)

// NewLoopback returns the two ends of a connected channel pair.
func NewLoopback() (*LoopbackChannel, *LoopbackChannel) {
	a := &LoopbackChannel{in: make(chan protocol.Message, loopbackBuffer)}
	b := &LoopbackChannel{in: make(chan protocol.Message, loopbackBuffer)}
	a.peer = b
	b.peer = a
	return a, b
}

func (ch *LoopbackChannel) Send(msg protocol.Message) error {
	return ch.peer.deliver(msg)
}

func (ch *LoopbackChannel) Recv() <-chan protocol.Message {
	return ch.in
}

func (ch *LoopbackChannel) Close() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return nil
	}
	ch.closed = true
	close(ch.in)
	return nil
}

func (ch *LoopbackChannel) deliver(msg protocol.Message) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return ErrChannelClosed
	}
	select {
	case ch.in <- msg:
		return nil
	default:
		return ErrChannelFull
	}
}
