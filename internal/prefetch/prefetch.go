// Package prefetch tracks the block-by-block progress of pulling one
// content item from the swarm, one session per (key, itemPath).
package prefetch

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vidmesh/vidmesh/internal/contentstore"
	"github.com/vidmesh/vidmesh/internal/protocol"
	"github.com/vidmesh/vidmesh/internal/seedcache"
)

// Status is the lifecycle state of a download session.
type Status string

const (
	StatusConnecting  Status = "connecting"
	StatusResolving   Status = "resolving"
	StatusDownloading Status = "downloading"
	StatusComplete    Status = "complete"
	StatusError       Status = "error"
	StatusUnknown     Status = "unknown"
)

func terminal(s Status) bool {
	return s == StatusComplete || s == StatusError
}

// Snapshot is the immutable view of a session returned by GetStats.
type Snapshot struct {
	Key              protocol.ContentKey
	ItemPath         string
	Status           Status
	TotalBlocks      int
	DownloadedBlocks int
	TotalBytes       int64
	DownloadedBytes  int64
	PeerCount        int
	Speed            float64
	// Progress is a percentage in [0, 100].
	Progress  float64
	StartedAt time.Time
	Cached    bool
	Err       string
}

// StartResult reports whether the item was already fully local.
type StartResult struct {
	Cached bool
}

// SeedRegistry is how completed downloads are handed to the cache. The
// cache's own synchronized entry point satisfies it.
type SeedRegistry interface {
	AddSeed(key protocol.ContentKey, itemPath string, reason seedcache.Reason, info seedcache.SizeInfo) (bool, error)
}

const defaultGracePeriod = 5 * time.Second

const eventBuffer = 64

type Options struct {
	Store  contentstore.Store
	Seeds  SeedRegistry
	Logger *logrus.Logger

	// GracePeriod keeps a completed session queryable before teardown,
	// so a UI polling right after completion sees a stable snapshot.
	// Zero means the default.
	GracePeriod time.Duration

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

type sessionKey struct {
	key  protocol.ContentKey
	path string
}

// session state is guarded by the tracker mutex. Ticks for one session
// arrive in order from its own event loop; the seeded flag makes the
// complete-and-register step happen at most once.
type session struct {
	snap          Snapshot
	initialBlocks int
	initialBytes  int64
	monitor       contentstore.Monitor
	events        chan struct{}
	stop          chan struct{}
	seeded        bool
	milestone     int
	torndown      bool
}

// Tracker owns the session map.
type Tracker struct {
	store   contentstore.Store
	seeds   SeedRegistry
	logger  *logrus.Logger
	metrics metrics
	grace   time.Duration
	now     func() time.Time

	mu       sync.Mutex
	sessions map[sessionKey]*session
	onStats  []func(protocol.ContentKey, string, Snapshot)
}

func New(opts Options) *Tracker {
	grace := opts.GracePeriod
	if grace == 0 {
		grace = defaultGracePeriod
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Tracker{
		store:    opts.Store,
		seeds:    opts.Seeds,
		logger:   opts.Logger,
		metrics:  newMetrics(),
		grace:    grace,
		now:      now,
		sessions: make(map[sessionKey]*session),
	}
}

// OnStatsUpdate registers a callback fired on every monitor tick.
func (t *Tracker) OnStatsUpdate(fn func(protocol.ContentKey, string, Snapshot)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStats = append(t.onStats, fn)
}

// Start begins (or re-begins, after a terminal session) tracking a
// download. A second Start while a session is live is a no-op: no
// duplicate monitor is ever attached.
func (t *Tracker) Start(ctx context.Context, key protocol.ContentKey, itemPath string) (StartResult, error) {
	sk := sessionKey{key, itemPath}

	t.mu.Lock()
	if existing, ok := t.sessions[sk]; ok {
		if !terminal(existing.snap.Status) {
			t.mu.Unlock()
			return StartResult{Cached: existing.snap.Cached}, nil
		}
		// A terminal session may still be inside its grace window; its
		// teardown timer skips replaced sessions, so release the old
		// monitor and event loop here.
		t.teardownLocked(existing)
	}
	s := &session{
		snap: Snapshot{
			Key:       key,
			ItemPath:  itemPath,
			Status:    StatusConnecting,
			StartedAt: t.now(),
		},
		events: make(chan struct{}, eventBuffer),
		stop:   make(chan struct{}),
	}
	t.sessions[sk] = s
	t.mu.Unlock()
	t.metrics.SessionsStarted.Inc()

	peers := t.store.PeerCount()
	t.mu.Lock()
	s.snap.Status = StatusResolving
	s.snap.PeerCount = peers
	t.mu.Unlock()

	r, err := t.store.ResolveItem(ctx, key, itemPath)
	if err != nil {
		t.logger.Warnf("prefetch: resolving %s/%s: %v", key.Short(), itemPath, err)
		t.failSession(sk, s, err)
		return StartResult{}, err
	}

	initial := t.store.LocalBlockCount(r)
	var initialBytes int64
	if r.TotalBlocks > 0 {
		initialBytes = r.TotalBytes * int64(initial) / int64(r.TotalBlocks)
	}

	t.mu.Lock()
	s.snap.TotalBlocks = r.TotalBlocks
	s.snap.TotalBytes = r.TotalBytes
	s.snap.DownloadedBlocks = initial
	s.snap.DownloadedBytes = initialBytes
	s.initialBlocks = initial
	s.initialBytes = initialBytes

	if initial >= r.TotalBlocks {
		// Fully local already: no monitor, no bulk request.
		s.snap.Status = StatusComplete
		s.snap.Progress = 100
		s.snap.DownloadedBytes = r.TotalBytes
		s.snap.Cached = true
		s.seeded = true
		t.mu.Unlock()

		t.metrics.CacheHits.Inc()
		t.registerSeed(key, itemPath, r)
		t.scheduleTeardown(sk, s)
		return StartResult{Cached: true}, nil
	}

	s.snap.Status = StatusDownloading
	if r.TotalBlocks > 0 {
		s.snap.Progress = 100 * float64(initial) / float64(r.TotalBlocks)
	}
	s.milestone = int(s.snap.Progress / 10)
	monitor := t.store.Monitor(r)
	s.monitor = monitor
	t.mu.Unlock()

	monitor.OnUpdate(func() {
		select {
		case s.events <- struct{}{}:
		default:
			// A pending event already covers this tick: stats are
			// cumulative, nothing is lost.
		}
	})

	go t.eventLoop(sk, s, r)
	go t.runBulkDownload(ctx, sk, s, r)

	return StartResult{}, nil
}

// Stop discards a session: the monitor is detached and nothing is
// registered. Reports whether a session existed.
func (t *Tracker) Stop(key protocol.ContentKey, itemPath string) bool {
	sk := sessionKey{key, itemPath}

	t.mu.Lock()
	s, ok := t.sessions[sk]
	if ok {
		delete(t.sessions, sk)
		t.teardownLocked(s)
	}
	t.mu.Unlock()
	return ok
}

// GetStats returns the current snapshot, or a well-defined unknown
// snapshot when no session exists. It never fails.
func (t *Tracker) GetStats(key protocol.ContentKey, itemPath string) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.sessions[sessionKey{key, itemPath}]; ok {
		return s.snap
	}
	return Snapshot{Key: key, ItemPath: itemPath, Status: StatusUnknown}
}

// eventLoop applies monitor ticks in arrival order, one goroutine per
// session, so per-session ordering needs no global lock.
func (t *Tracker) eventLoop(sk sessionKey, s *session, r contentstore.ItemRange) {
	for {
		select {
		case <-s.stop:
			return
		case <-s.events:
			t.applyTick(sk, s, r)
		}
	}
}

func (t *Tracker) applyTick(sk sessionKey, s *session, r contentstore.ItemRange) {
	stats := s.monitor.Stats()
	speed := s.monitor.Speed()

	t.mu.Lock()
	// Terminal snapshots are frozen: a lagging monitor tick after the
	// bulk request resolved must not walk the counters back down.
	if t.sessions[sk] != s || s.torndown || terminal(s.snap.Status) {
		t.mu.Unlock()
		return
	}

	downloaded := s.initialBlocks + stats.Blocks
	if downloaded > s.snap.TotalBlocks {
		downloaded = s.snap.TotalBlocks
	}
	s.snap.DownloadedBlocks = downloaded
	s.snap.DownloadedBytes = s.initialBytes + stats.Bytes
	if s.snap.DownloadedBytes > s.snap.TotalBytes {
		s.snap.DownloadedBytes = s.snap.TotalBytes
	}
	s.snap.PeerCount = stats.Peers
	s.snap.Speed = speed
	if s.snap.TotalBlocks > 0 {
		s.snap.Progress = 100 * float64(downloaded) / float64(s.snap.TotalBlocks)
	}

	if decile := int(s.snap.Progress / 10); decile > s.milestone {
		s.milestone = decile
		t.logger.Infof("prefetch: %s/%s at %d%% (%d/%d blocks, %d peers)",
			sk.key.Short(), sk.path, decile*10, downloaded, s.snap.TotalBlocks, stats.Peers)
	}

	completedNow := downloaded >= s.snap.TotalBlocks && !s.seeded
	if completedNow {
		// Guarded by the seeded flag: later ticks cannot re-register.
		s.seeded = true
		s.snap.Status = StatusComplete
	}
	snap := s.snap
	callbacks := append([]func(protocol.ContentKey, string, Snapshot){}, t.onStats...)
	t.mu.Unlock()

	if completedNow {
		t.metrics.SessionsCompleted.Inc()
		t.registerSeed(sk.key, sk.path, r)
	}
	for _, fn := range callbacks {
		fn(sk.key, sk.path, snap)
	}
}

// runBulkDownload issues the bulk request for the whole range. The
// monitor only reports new arrivals; the bulk request is what resolves
// when the range is fully satisfied.
func (t *Tracker) runBulkDownload(ctx context.Context, sk sessionKey, s *session, r contentstore.ItemRange) {
	if err := t.store.DownloadRange(ctx, r); err != nil {
		t.logger.Warnf("prefetch: bulk download %s/%s: %v", sk.key.Short(), sk.path, err)
		t.failSession(sk, s, err)
		return
	}

	t.mu.Lock()
	if t.sessions[sk] != s {
		t.mu.Unlock()
		return
	}
	completedNow := !s.seeded
	if completedNow {
		s.seeded = true
	}
	s.snap.Status = StatusComplete
	s.snap.DownloadedBlocks = s.snap.TotalBlocks
	s.snap.DownloadedBytes = s.snap.TotalBytes
	s.snap.Progress = 100
	t.mu.Unlock()

	if completedNow {
		t.metrics.SessionsCompleted.Inc()
		t.registerSeed(sk.key, sk.path, r)
	}
	t.scheduleTeardown(sk, s)
}

// failSession marks a session terminally failed and tears the monitor
// down immediately; no retry lives at this layer. The snapshot stays
// queryable so the failure surfaces through GetStats.
func (t *Tracker) failSession(sk sessionKey, s *session, err error) {
	t.mu.Lock()
	if t.sessions[sk] != s {
		t.mu.Unlock()
		return
	}
	s.snap.Status = StatusError
	s.snap.Err = err.Error()
	t.teardownLocked(s)
	t.mu.Unlock()
	t.metrics.SessionsFailed.Inc()
}

// scheduleTeardown destroys the session after the grace period unless
// it was replaced in the meantime.
func (t *Tracker) scheduleTeardown(sk sessionKey, s *session) {
	time.AfterFunc(t.grace, func() {
		t.mu.Lock()
		if t.sessions[sk] == s {
			delete(t.sessions, sk)
			t.teardownLocked(s)
		}
		t.mu.Unlock()
	})
}

func (t *Tracker) teardownLocked(s *session) {
	if s.torndown {
		return
	}
	s.torndown = true
	if s.monitor != nil {
		s.monitor.Close()
	}
	close(s.stop)
}

func (t *Tracker) registerSeed(key protocol.ContentKey, itemPath string, r contentstore.ItemRange) {
	if _, err := t.seeds.AddSeed(key, itemPath, seedcache.ReasonWatched, seedcache.SizeInfo{
		BlockCount: r.TotalBlocks,
		ByteSize:   r.TotalBytes,
	}); err != nil {
		t.logger.Errorf("prefetch: registering seed %s/%s: %v", key.Short(), itemPath, err)
	}
}
