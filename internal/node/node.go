// Package node wires the statestore, swarm, gossip directory, seed
// cache, content store and download tracker into one running process.
package node

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/vidmesh/vidmesh/internal/contentstore"
	"github.com/vidmesh/vidmesh/internal/contentstore/torrentstore"
	"github.com/vidmesh/vidmesh/internal/gossip"
	"github.com/vidmesh/vidmesh/internal/prefetch"
	"github.com/vidmesh/vidmesh/internal/seedcache"
	"github.com/vidmesh/vidmesh/internal/statestore"
	"github.com/vidmesh/vidmesh/internal/swarm"
)

// Topic all nodes of the platform gossip on. Carried in the ALPN string,
// so nodes on different topics never handshake.
const Topic = "feed"

const dialTimeout = 10 * time.Second

type Options struct {
	ListenAddr string
	DataDir    string
	// InMemory replaces the on-disk statestore, for thrown-away nodes.
	InMemory  bool
	Bootstrap []string

	// Content overrides the torrent-backed store, for tests.
	Content contentstore.Store

	Logger *logrus.Logger
}

type Node struct {
	ctx    context.Context
	logger *logrus.Logger

	store     statestore.Storer
	transport *swarm.Transport
	directory *gossip.Directory
	cache     *seedcache.Cache
	content   contentstore.Store
	tracker   *prefetch.Tracker

	bootstrap []string
}

func New(ctx context.Context, opts Options) (*Node, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.New()
	}

	var store statestore.Storer
	if opts.InMemory {
		store = statestore.NewInMem()
	} else {
		var err error
		store, err = statestore.NewLevelDB(filepath.Join(opts.DataDir, "state"), log)
		if err != nil {
			return nil, fmt.Errorf("node: opening statestore: %w", err)
		}
	}

	cache, err := seedcache.New(seedcache.Options{
		Store:  store,
		Logger: log,
	})
	if err != nil {
		return nil, fmt.Errorf("node: restoring seed cache: %w", err)
	}

	directory, err := gossip.New(gossip.Options{
		Store:  store,
		Logger: log,
	})
	if err != nil {
		return nil, fmt.Errorf("node: restoring gossip directory: %w", err)
	}

	content := opts.Content
	if content == nil {
		content, err = torrentstore.New(torrentstore.Options{
			DataDir: filepath.Join(opts.DataDir, "content"),
			Logger:  log,
		})
		if err != nil {
			return nil, fmt.Errorf("node: opening content store: %w", err)
		}
	}

	tracker := prefetch.New(prefetch.Options{
		Store:  content,
		Seeds:  cache,
		Logger: log,
	})

	n := &Node{
		ctx:       ctx,
		logger:    log,
		store:     store,
		transport: swarm.NewTransport(opts.ListenAddr, log),
		directory: directory,
		cache:     cache,
		content:   content,
		tracker:   tracker,
		bootstrap: opts.Bootstrap,
	}

	n.transport.OnConn(func(conn swarm.Conn) {
		go n.attachPeer(conn)
	})
	n.transport.OnDisconnect(func(conn swarm.Conn) {
		n.directory.RemovePeer(conn.PeerID())
	})

	return n, nil
}

// Start joins the swarm, dials the bootstrap peers and blocks until
// SIGINT or SIGTERM.
func (n *Node) Start() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	n.logger.Info("Node starting...")

	if err := n.transport.JoinTopic(n.ctx, Topic); err != nil {
		return fmt.Errorf("node: joining topic: %w", err)
	}
	n.logger.Infof("Listening on %s", n.transport.LocalAddr())

	for _, addr := range n.bootstrap {
		go n.dialBootstrap(addr)
	}

	n.logger.Info("Node is now running...")

	<-sigChan
	n.logger.Info("Shutting down node...")

	err := n.Close()
	n.logger.Info("Node stopped")
	return err
}

func (n *Node) Close() error {
	err := n.transport.Close()
	if closer, ok := n.content.(interface{ Close() error }); ok {
		if cerr := closer.Close(); err == nil {
			err = cerr
		}
	}
	if serr := n.store.Close(); err == nil {
		err = serr
	}
	return err
}

func (n *Node) Directory() *gossip.Directory { return n.directory }
func (n *Node) Cache() *seedcache.Cache      { return n.cache }
func (n *Node) Tracker() *prefetch.Tracker   { return n.tracker }
func (n *Node) Content() contentstore.Store  { return n.content }
func (n *Node) Transport() *swarm.Transport  { return n.transport }

// Metrics returns every component collector for registry wiring.
func (n *Node) Metrics() []prometheus.Collector {
	collectors := n.directory.Metrics()
	collectors = append(collectors, n.cache.Metrics()...)
	collectors = append(collectors, n.tracker.Metrics()...)
	return collectors
}

func (n *Node) attachPeer(conn swarm.Conn) {
	ctx, cancel := context.WithTimeout(n.ctx, dialTimeout)
	defer cancel()

	ch, err := conn.OpenChannel(ctx)
	if err != nil {
		n.logger.Warnf("node: opening gossip channel to %s: %v", conn.PeerID(), err)
		_ = conn.Close()
		return
	}
	n.directory.AddPeer(conn.PeerID(), ch)
}

func (n *Node) dialBootstrap(addr string) {
	ctx, cancel := context.WithTimeout(n.ctx, dialTimeout)
	defer cancel()

	if _, err := n.transport.Dial(ctx, addr); err != nil {
		n.logger.Warnf("node: dialing bootstrap peer %s: %v", addr, err)
	}
}
