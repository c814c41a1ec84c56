// Package gossip maintains the local view of every content key known to
// exist on the network, using flood gossip with no central index.
package gossip

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vidmesh/vidmesh/internal/protocol"
	"github.com/vidmesh/vidmesh/internal/statestore"
	"github.com/vidmesh/vidmesh/internal/swarm"
)

// Origin records how a key was first sighted.
type Origin string

const (
	OriginPeer  Origin = "peer"
	OriginLocal Origin = "local"
)

// FeedEntry is one discovered content key. Entries are created on first
// sighting, never mutated, and removed only by an explicit hide.
type FeedEntry struct {
	Key          protocol.ContentKey
	DiscoveredAt time.Time
	Origin       Origin
}

type Options struct {
	Store  statestore.Storer
	Logger *logrus.Logger

	// Now is the clock; nil means time.Now. Tests inject a fixed one.
	Now func() time.Time
}

// Directory owns the feed table, the hidden set, and the gossip channel
// of every connected peer. All state is guarded by one mutex; handlers
// for different peers may run concurrently.
type Directory struct {
	store   statestore.Storer
	logger  *logrus.Logger
	metrics metrics
	now     func() time.Time

	mu       sync.Mutex
	feed     map[protocol.ContentKey]FeedEntry
	hidden   map[protocol.ContentKey]struct{}
	peers    map[string]swarm.Channel
	onUpdate []func()
}

// New loads the persisted hidden set and returns an empty directory.
func New(opts Options) (*Directory, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	d := &Directory{
		store:   opts.Store,
		logger:  opts.Logger,
		metrics: newMetrics(),
		now:     now,
		feed:    make(map[protocol.ContentKey]FeedEntry),
		hidden:  make(map[protocol.ContentKey]struct{}),
		peers:   make(map[string]swarm.Channel),
	}

	var hidden []protocol.ContentKey
	if err := opts.Store.Get(statestore.KeyHiddenSet, &hidden); err != nil {
		if err != statestore.ErrNotFound {
			return nil, err
		}
	}
	for _, key := range hidden {
		d.hidden[key] = struct{}{}
	}

	return d, nil
}

// OnFeedUpdate registers a callback fired once per batch of feed changes.
func (d *Directory) OnFeedUpdate(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onUpdate = append(d.onUpdate, fn)
}

// AddPeer registers the gossip channel for a peer, sends the full known
// set, and consumes the channel until it closes. Registering a peer
// twice is a no-op: the first channel wins.
func (d *Directory) AddPeer(peerID string, ch swarm.Channel) {
	d.mu.Lock()
	if _, exists := d.peers[peerID]; exists {
		d.mu.Unlock()
		return
	}
	d.peers[peerID] = ch
	keys := d.visibleKeysLocked()
	d.mu.Unlock()

	d.metrics.PeersConnected.Inc()
	d.sendToPeer(peerID, ch, &protocol.HaveFullSet{Keys: keys})

	go d.readLoop(peerID, ch)
}

// RemovePeer drops the channel association. Transport retries are not
// our concern; a reconnect arrives as a fresh AddPeer.
func (d *Directory) RemovePeer(peerID string) {
	d.mu.Lock()
	ch, exists := d.peers[peerID]
	delete(d.peers, peerID)
	d.mu.Unlock()

	if exists {
		d.metrics.PeersConnected.Dec()
		_ = ch.Close()
	}
}

// Submit adds a locally published key and always re-announces it, even
// if already known: a peer may not have heard it yet.
func (d *Directory) Submit(raw string) error {
	key, err := protocol.ParseKey(raw)
	if err != nil {
		return err
	}

	if d.addEntry(key, OriginLocal) {
		d.fireFeedUpdate()
	}
	d.broadcast(&protocol.Announce{Key: key}, "")
	return nil
}

// Hide drops a key from the feed and suppresses all future re-adds.
func (d *Directory) Hide(raw string) error {
	key, err := protocol.ParseKey(raw)
	if err != nil {
		return err
	}

	d.mu.Lock()
	_, existed := d.feed[key]
	delete(d.feed, key)
	d.hidden[key] = struct{}{}
	hidden := make([]protocol.ContentKey, 0, len(d.hidden))
	for k := range d.hidden {
		hidden = append(hidden, k)
	}
	d.mu.Unlock()

	if err := d.store.Put(statestore.KeyHiddenSet, hidden); err != nil {
		return err
	}
	if existed {
		d.metrics.FeedSize.Dec()
		d.fireFeedUpdate()
	}
	return nil
}

// RequestRefresh re-sends the full set to every peer, prompting them to
// merge back anything this node is missing.
func (d *Directory) RequestRefresh() {
	d.mu.Lock()
	keys := d.visibleKeysLocked()
	peers := d.peersLocked()
	d.mu.Unlock()

	for peerID, ch := range peers {
		d.sendToPeer(peerID, ch, &protocol.HaveFullSet{Keys: keys})
	}
}

// ListFeed returns all visible entries, newest first.
func (d *Directory) ListFeed() []FeedEntry {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries := make([]FeedEntry, 0, len(d.feed))
	for _, e := range d.feed {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].DiscoveredAt.Equal(entries[j].DiscoveredAt) {
			return entries[i].DiscoveredAt.After(entries[j].DiscoveredAt)
		}
		return entries[i].Key < entries[j].Key
	})
	return entries
}

// Known reports the number of visible feed entries.
func (d *Directory) Known() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.feed)
}

// HandleMessage processes one gossip message from a peer. Malformed
// keys are dropped at this boundary and never corrupt local state.
func (d *Directory) HandleMessage(peerID string, msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.HaveFullSet:
		d.mergeSet(m.Keys)
	case *protocol.SetResponse:
		// Legacy full-set variant, same semantics.
		d.mergeSet(m.Keys)
	case *protocol.Announce:
		if m.Key.Validate() != nil {
			d.logger.Debugf("gossip: dropping malformed key from %s", peerID)
			return
		}
		if d.addEntry(m.Key, OriginPeer) {
			d.fireFeedUpdate()
			// First sight: relay to everyone but the sender. Duplicate
			// announces stop here, which bounds the flood.
			d.broadcast(m, peerID)
			d.metrics.AnnouncesRelayed.Inc()
		}
	case *protocol.NeedSet:
		// Legacy pull, answered with the legacy response type.
		d.mu.Lock()
		keys := d.visibleKeysLocked()
		ch, exists := d.peers[peerID]
		d.mu.Unlock()
		if exists {
			d.sendToPeer(peerID, ch, &protocol.SetResponse{Keys: keys})
		}
	default:
		d.logger.Debugf("gossip: ignoring unexpected message %T from %s", msg, peerID)
	}
}

// mergeSet merges a full snapshot. No re-broadcast: the sender already
// has full knowledge, so flooding would only duplicate traffic.
func (d *Directory) mergeSet(keys []protocol.ContentKey) {
	added := false
	for _, key := range keys {
		if key.Validate() != nil {
			continue
		}
		if d.addEntry(key, OriginPeer) {
			added = true
		}
	}
	if added {
		d.fireFeedUpdate()
	}
}

// addEntry inserts a key on first sight. Returns false for malformed,
// hidden, or already-present keys.
func (d *Directory) addEntry(key protocol.ContentKey, origin Origin) bool {
	if key.Validate() != nil {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, hidden := d.hidden[key]; hidden {
		return false
	}
	if _, exists := d.feed[key]; exists {
		return false
	}

	d.feed[key] = FeedEntry{
		Key:          key,
		DiscoveredAt: d.now(),
		Origin:       origin,
	}
	d.metrics.FeedSize.Inc()
	d.metrics.EntriesAdded.Inc()
	return true
}

// broadcast sends to every connected peer except excludePeer. A stale
// peer fails silently; one bad peer must not abort gossip to the rest.
func (d *Directory) broadcast(msg protocol.Message, excludePeer string) {
	d.mu.Lock()
	peers := d.peersLocked()
	d.mu.Unlock()

	for peerID, ch := range peers {
		if peerID == excludePeer {
			continue
		}
		d.sendToPeer(peerID, ch, msg)
	}
}

func (d *Directory) sendToPeer(peerID string, ch swarm.Channel, msg protocol.Message) {
	if err := ch.Send(msg); err != nil {
		d.metrics.SendsFailed.Inc()
		d.logger.Warnf("gossip: send %s to %s failed: %v", msg.Type(), peerID, err)
	}
}

func (d *Directory) readLoop(peerID string, ch swarm.Channel) {
	for msg := range ch.Recv() {
		d.HandleMessage(peerID, msg)
	}
	d.RemovePeer(peerID)
}

func (d *Directory) fireFeedUpdate() {
	d.mu.Lock()
	callbacks := append([]func(){}, d.onUpdate...)
	d.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

// visibleKeysLocked returns all non-hidden keys; callers hold d.mu.
func (d *Directory) visibleKeysLocked() []protocol.ContentKey {
	keys := make([]protocol.ContentKey, 0, len(d.feed))
	for key := range d.feed {
		keys = append(keys, key)
	}
	return keys
}

// peersLocked snapshots the peer map; callers hold d.mu.
func (d *Directory) peersLocked() map[string]swarm.Channel {
	peers := make(map[string]swarm.Channel, len(d.peers))
	for id, ch := range d.peers {
		peers[id] = ch
	}
	return peers
}
