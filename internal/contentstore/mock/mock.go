// Package mock provides an in-memory content store for tests.
package mock

import (
	"context"
	"sync"

	"github.com/vidmesh/vidmesh/internal/contentstore"
	"github.com/vidmesh/vidmesh/internal/protocol"
)

// Store is a scriptable contentstore.Store. Zero value is usable; set
// the fields before handing it to a tracker.
type Store struct {
	mu sync.Mutex

	Peers      int
	Items      map[string]contentstore.ItemRange
	Local      map[string]int
	ResolveErr error

	// DownloadErr fails DownloadRange. DownloadBlock, when non-nil,
	// blocks DownloadRange until closed, letting tests drive monitor
	// ticks while the bulk request is in flight.
	DownloadErr   error
	DownloadBlock chan struct{}

	monitors map[string]*Monitor
}

var _ contentstore.Store = (*Store)(nil)

func itemID(key protocol.ContentKey, itemPath string) string {
	return string(key) + "|" + itemPath
}

// AddItem registers a resolvable item with the given block counts.
func (s *Store) AddItem(key protocol.ContentKey, itemPath string, totalBlocks, localBlocks int, totalBytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Items == nil {
		s.Items = make(map[string]contentstore.ItemRange)
		s.Local = make(map[string]int)
	}
	id := itemID(key, itemPath)
	s.Items[id] = contentstore.ItemRange{
		Key:         key,
		ItemPath:    itemPath,
		StartBlock:  0,
		EndBlock:    totalBlocks,
		TotalBlocks: totalBlocks,
		TotalBytes:  totalBytes,
	}
	s.Local[id] = localBlocks
}

func (s *Store) PeerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Peers
}

func (s *Store) ResolveItem(_ context.Context, key protocol.ContentKey, itemPath string) (contentstore.ItemRange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ResolveErr != nil {
		return contentstore.ItemRange{}, s.ResolveErr
	}
	r, ok := s.Items[itemID(key, itemPath)]
	if !ok {
		return contentstore.ItemRange{}, contentstore.ErrItemNotFound
	}
	return r, nil
}

func (s *Store) LocalBlockCount(r contentstore.ItemRange) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Local[itemID(r.Key, r.ItemPath)]
}

func (s *Store) DownloadRange(ctx context.Context, _ contentstore.ItemRange) error {
	s.mu.Lock()
	block := s.DownloadBlock
	err := s.DownloadErr
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (s *Store) Monitor(r contentstore.ItemRange) contentstore.Monitor {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.monitors == nil {
		s.monitors = make(map[string]*Monitor)
	}
	m := &Monitor{}
	s.monitors[itemID(r.Key, r.ItemPath)] = m
	return m
}

// ActiveMonitor returns the monitor attached for an item, or nil.
func (s *Store) ActiveMonitor(key protocol.ContentKey, itemPath string) *Monitor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.monitors[itemID(key, itemPath)]
}

// Monitor is a hand-driven contentstore.Monitor.
type Monitor struct {
	mu     sync.Mutex
	fn     func()
	stats  contentstore.MonitorStats
	speed  float64
	closed bool
}

var _ contentstore.Monitor = (*Monitor)(nil)

func (m *Monitor) OnUpdate(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
}

func (m *Monitor) Stats() contentstore.MonitorStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *Monitor) Speed() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.speed
}

func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *Monitor) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Emit sets cumulative stats and fires the update callback, simulating
// a block-arrival tick.
func (m *Monitor) Emit(blocks int, bytes int64, peers int, speed float64) {
	m.mu.Lock()
	m.stats = contentstore.MonitorStats{Blocks: blocks, Bytes: bytes, Peers: peers}
	m.speed = speed
	fn := m.fn
	m.mu.Unlock()

	if fn != nil {
		fn()
	}
}
