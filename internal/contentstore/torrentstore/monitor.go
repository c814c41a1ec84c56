package torrentstore

import (
	"sync"
	"time"

	"github.com/anacrolix/torrent"

	"github.com/vidmesh/vidmesh/internal/contentstore"
)

const speedSamples = 10

// pieceMonitor polls piece completion for one item range and fires the
// update callback whenever new pieces arrive. Blocks and bytes are
// deltas relative to the attach-time baseline; speed is a moving
// average of the last samples, held when the connection stalls.
type pieceMonitor struct {
	t *torrent.Torrent
	r contentstore.ItemRange

	mu       sync.Mutex
	fn       func()
	base     int
	last     int
	lastTime time.Time
	history  []float64
	speed    float64
	done     chan struct{}
	closed   bool
}

var _ contentstore.Monitor = (*pieceMonitor)(nil)

func newMonitor(t *torrent.Torrent, r contentstore.ItemRange) *pieceMonitor {
	m := &pieceMonitor{
		t:    t,
		r:    r,
		done: make(chan struct{}),
	}
	if t != nil {
		m.base = completedPieces(t, r.StartBlock, r.EndBlock)
		m.last = m.base
		m.lastTime = time.Now()
		go m.poll()
	}
	return m
}

func (m *pieceMonitor) OnUpdate(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
}

func (m *pieceMonitor) Stats() contentstore.MonitorStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	blocks := m.last - m.base
	stats := contentstore.MonitorStats{
		Blocks: blocks,
		Bytes:  m.blockBytes() * int64(blocks),
	}
	if m.t != nil {
		stats.Peers = m.t.Stats().ActivePeers
	}
	return stats
}

func (m *pieceMonitor) Speed() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.speed
}

func (m *pieceMonitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.done)
}

func (m *pieceMonitor) poll() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *pieceMonitor) tick() {
	completed := completedPieces(m.t, m.r.StartBlock, m.r.EndBlock)

	m.mu.Lock()
	delta := completed - m.last
	if delta <= 0 {
		m.mu.Unlock()
		return
	}

	now := time.Now()
	if elapsed := now.Sub(m.lastTime).Seconds(); elapsed > 0 {
		instant := float64(delta) * float64(m.blockBytes()) / elapsed
		m.history = append(m.history, instant)
		if len(m.history) > speedSamples {
			m.history = m.history[1:]
		}
		var sum float64
		for _, s := range m.history {
			sum += s
		}
		m.speed = sum / float64(len(m.history))
	}
	m.last = completed
	m.lastTime = now
	fn := m.fn
	m.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// blockBytes approximates per-piece size from the item's byte length.
func (m *pieceMonitor) blockBytes() int64 {
	if m.r.TotalBlocks == 0 {
		return 0
	}
	return m.r.TotalBytes / int64(m.r.TotalBlocks)
}
