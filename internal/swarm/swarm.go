// Package swarm is the peer transport layer: secure multiplexed
// connections to remote nodes, each carrying at most one gossip channel.
// Connection lifecycle (dialing, retries, NAT traversal) is owned here;
// the gossip directory only consumes channels.
package swarm

import (
	"context"
	"errors"

	"github.com/vidmesh/vidmesh/internal/protocol"
)

var (
	ErrChannelClosed = errors.New("swarm: channel closed")
	ErrChannelFull   = errors.New("swarm: channel send buffer full")
)

// Channel is one gossip sub-channel on a peer connection.
type Channel interface {
	Send(msg protocol.Message) error
	// Recv yields decoded messages; the channel is closed when the
	// underlying stream closes or errors.
	Recv() <-chan protocol.Message
	Close() error
}

// Conn is one connection to a remote node.
type Conn interface {
	PeerID() string
	// OpenChannel returns the connection's gossip channel, opening the
	// underlying stream if this side is first. If the remote side
	// already opened one, that channel is returned instead: first side
	// to open wins, the second attempt is a no-op.
	OpenChannel(ctx context.Context) (Channel, error)
	Close() error
}

// Swarm joins a topic and surfaces peer connections as they appear.
type Swarm interface {
	JoinTopic(ctx context.Context, topic string) error
	Conns() []Conn
	OnConn(fn func(Conn))
	OnDisconnect(fn func(Conn))
	Close() error
}
