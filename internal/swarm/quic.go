package swarm

import (
	"context"
	"crypto/tls"
	"net"
	"sync"

	"github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"
	"github.com/vidmesh/vidmesh/internal/protocol"
)

// Transport is the QUIC-backed Swarm. One connection per remote node,
// one gossip stream per connection.
type Transport struct {
	addr   string
	logger *logrus.Logger

	mu           sync.Mutex
	listener     *quic.Listener
	conns        map[string]*Peer
	onConn       []func(Conn)
	onDisconnect []func(Conn)
	closed       bool

	tlsConf *tls.Config
	qConf   *quic.Config
}

var _ Swarm = (*Transport)(nil)

func NewTransport(addr string, logger *logrus.Logger) *Transport {
	return &Transport{
		addr:   addr,
		logger: logger,
		conns:  make(map[string]*Peer),
		qConf:  DefaultQUICConfig(),
	}
}

// JoinTopic starts listening for peers of the given topic. The topic is
// carried in the ALPN string, so peers of different topics never finish
// a handshake with each other.
func (t *Transport) JoinTopic(ctx context.Context, topic string) error {
	tlsConf, err := DefaultTLSConfig(topic)
	if err != nil {
		return err
	}

	listener, err := quic.ListenAddr(t.addr, tlsConf, t.qConf)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.tlsConf = tlsConf
	t.listener = listener
	t.mu.Unlock()

	go t.acceptLoop(ctx)
	return nil
}

// Dial connects to a peer that already joined the same topic.
func (t *Transport) Dial(ctx context.Context, addr string) (Conn, error) {
	t.mu.Lock()
	tlsConf := t.tlsConf
	t.mu.Unlock()

	conn, err := quic.DialAddr(ctx, addr, tlsConf, t.qConf)
	if err != nil {
		return nil, err
	}
	return t.register(conn, true), nil
}

func (t *Transport) Conns() []Conn {
	t.mu.Lock()
	defer t.mu.Unlock()

	conns := make([]Conn, 0, len(t.conns))
	for _, p := range t.conns {
		conns = append(conns, p)
	}
	return conns
}

func (t *Transport) OnConn(fn func(Conn)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onConn = append(t.onConn, fn)
}

func (t *Transport) OnDisconnect(fn func(Conn)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDisconnect = append(t.onDisconnect, fn)
}

func (t *Transport) LocalAddr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	listener := t.listener
	conns := make([]*Peer, 0, len(t.conns))
	for _, p := range t.conns {
		conns = append(conns, p)
	}
	t.mu.Unlock()

	for _, p := range conns {
		_ = p.Close()
	}
	if listener != nil {
		return listener.Close()
	}
	return nil
}

func (t *Transport) acceptLoop(ctx context.Context) {
	for {
		conn, err := t.listener.Accept(ctx)
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if !closed {
				t.logger.Warnf("swarm: accept failed: %v", err)
			}
			return
		}
		t.register(conn, false)
	}
}

func (t *Transport) register(conn *quic.Conn, outbound bool) *Peer {
	peer := newPeer(conn, outbound)

	t.mu.Lock()
	t.conns[peer.PeerID()] = peer
	callbacks := append([]func(Conn){}, t.onConn...)
	t.mu.Unlock()

	go func() {
		<-conn.Context().Done()
		t.mu.Lock()
		delete(t.conns, peer.PeerID())
		disconnects := append([]func(Conn){}, t.onDisconnect...)
		t.mu.Unlock()
		for _, fn := range disconnects {
			fn(peer)
		}
	}()

	for _, fn := range callbacks {
		fn(peer)
	}
	return peer
}

// Peer is one QUIC connection to a remote node. The dialing side opens
// the gossip stream, the accepting side accepts it, so exactly one
// stream is ever paired per connection. A second OpenChannel on either
// side is a no-op against the already-registered channel.
type Peer struct {
	conn     *quic.Conn
	outbound bool

	mu     sync.Mutex
	gossip *streamChannel
}

var _ Conn = (*Peer)(nil)

func newPeer(conn *quic.Conn, outbound bool) *Peer {
	return &Peer{conn: conn, outbound: outbound}
}

func (p *Peer) PeerID() string {
	return p.conn.RemoteAddr().String()
}

func (p *Peer) OpenChannel(ctx context.Context) (Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.gossip != nil {
		return p.gossip, nil
	}

	var (
		stream *quic.Stream
		err    error
	)
	if p.outbound {
		stream, err = p.conn.OpenStreamSync(ctx)
	} else {
		stream, err = p.conn.AcceptStream(ctx)
	}
	if err != nil {
		return nil, err
	}

	p.gossip = newStreamChannel(stream)
	return p.gossip, nil
}

func (p *Peer) Close() error {
	p.mu.Lock()
	if p.gossip != nil {
		_ = p.gossip.Close()
	}
	p.mu.Unlock()
	return p.conn.CloseWithError(0, "")
}

// streamChannel frames gossip messages over one QUIC stream.
type streamChannel struct {
	stream *quic.Stream
	codec  *protocol.StreamCodec

	sendMu sync.Mutex
	recv   chan protocol.Message

	closeMu sync.Mutex
	closed  bool
}

var _ Channel = (*streamChannel)(nil)

func newStreamChannel(stream *quic.Stream) *streamChannel {
	ch := &streamChannel{
		stream: stream,
		codec:  protocol.NewStreamCodec(stream),
		recv:   make(chan protocol.Message, 64),
	}
	go ch.readLoop()
	return ch
}

func (ch *streamChannel) Send(msg protocol.Message) error {
	ch.closeMu.Lock()
	if ch.closed {
		ch.closeMu.Unlock()
		return ErrChannelClosed
	}
	ch.closeMu.Unlock()

	ch.sendMu.Lock()
	defer ch.sendMu.Unlock()
	return ch.codec.Encode(msg)
}

func (ch *streamChannel) Recv() <-chan protocol.Message {
	return ch.recv
}

func (ch *streamChannel) Close() error {
	ch.closeMu.Lock()
	defer ch.closeMu.Unlock()
	if ch.closed {
		return nil
	}
	ch.closed = true
	ch.stream.CancelRead(0)
	return ch.stream.Close()
}

func (ch *streamChannel) readLoop() {
	defer close(ch.recv)
	for {
		msg, err := ch.codec.Decode()
		if err != nil {
			ch.closeMu.Lock()
			ch.closed = true
			ch.closeMu.Unlock()
			return
		}
		ch.recv <- msg
	}
}
