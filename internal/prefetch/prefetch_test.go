package prefetch

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vidmesh/vidmesh/internal/contentstore"
	"github.com/vidmesh/vidmesh/internal/contentstore/mock"
	"github.com/vidmesh/vidmesh/internal/protocol"
	"github.com/vidmesh/vidmesh/internal/seedcache"
)

func testKey(b byte) protocol.ContentKey {
	return protocol.ContentKey(strings.Repeat(fmt.Sprintf("%02x", b), protocol.KeySize))
}

type seedCall struct {
	key    protocol.ContentKey
	path   string
	reason seedcache.Reason
	info   seedcache.SizeInfo
}

type seedRecorder struct {
	mu    sync.Mutex
	calls []seedCall
}

func (r *seedRecorder) AddSeed(key protocol.ContentKey, itemPath string, reason seedcache.Reason, info seedcache.SizeInfo) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, seedCall{key, itemPath, reason, info})
	return true, nil
}

func (r *seedRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *seedRecorder) last() seedCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[len(r.calls)-1]
}

func newTestTracker(t *testing.T, grace time.Duration) (*Tracker, *mock.Store, *seedRecorder) {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store := &mock.Store{Peers: 3}
	seeds := &seedRecorder{}
	tracker := New(Options{
		Store:       store,
		Seeds:       seeds,
		Logger:      logger,
		GracePeriod: grace,
	})
	return tracker, store, seeds
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestStartCachedShortCircuit(t *testing.T) {
	tracker, store, seeds := newTestTracker(t, time.Hour)
	key := testKey(0x01)
	store.AddItem(key, "ep1.mp4", 10, 10, 1000)

	res, err := tracker.Start(context.Background(), key, "ep1.mp4")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !res.Cached {
		t.Fatal("expected cached start")
	}

	snap := tracker.GetStats(key, "ep1.mp4")
	if snap.Status != StatusComplete {
		t.Fatalf("status = %s, expected %s", snap.Status, StatusComplete)
	}
	if snap.Progress != 100 || snap.DownloadedBlocks != 10 || snap.DownloadedBytes != 1000 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if !snap.Cached {
		t.Fatal("snapshot not marked cached")
	}
	if m := store.ActiveMonitor(key, "ep1.mp4"); m != nil {
		t.Fatal("cached start must not attach a monitor")
	}
	if seeds.count() != 1 {
		t.Fatalf("seed registrations = %d, expected 1", seeds.count())
	}
	if call := seeds.last(); call.reason != seedcache.ReasonWatched || call.info.ByteSize != 1000 {
		t.Fatalf("unexpected registration: %+v", call)
	}
}

func TestProgressAccounting(t *testing.T) {
	tracker, store, seeds := newTestTracker(t, 20*time.Millisecond)
	key := testKey(0x02)
	store.AddItem(key, "ep1.mp4", 100, 20, 10000)
	store.DownloadBlock = make(chan struct{})

	if _, err := tracker.Start(context.Background(), key, "ep1.mp4"); err != nil {
		t.Fatalf("start: %v", err)
	}

	snap := tracker.GetStats(key, "ep1.mp4")
	if snap.Status != StatusDownloading {
		t.Fatalf("status = %s, expected %s", snap.Status, StatusDownloading)
	}
	if snap.DownloadedBlocks != 20 || snap.TotalBlocks != 100 {
		t.Fatalf("unexpected initial accounting: %+v", snap)
	}

	monitor := store.ActiveMonitor(key, "ep1.mp4")
	if monitor == nil {
		t.Fatal("no monitor attached")
	}

	// Monitor reports arrivals since attach; initial blocks stay counted.
	monitor.Emit(30, 3000, 5, 1024)
	waitFor(t, func() bool {
		return tracker.GetStats(key, "ep1.mp4").DownloadedBlocks == 50
	})
	snap = tracker.GetStats(key, "ep1.mp4")
	if snap.Progress != 50 || snap.PeerCount != 5 || snap.Speed != 1024 {
		t.Fatalf("unexpected snapshot at 50%%: %+v", snap)
	}

	monitor.Emit(80, 8000, 5, 1024)
	waitFor(t, func() bool {
		return tracker.GetStats(key, "ep1.mp4").Status == StatusComplete
	})
	snap = tracker.GetStats(key, "ep1.mp4")
	if snap.DownloadedBlocks != 100 || snap.Progress != 100 {
		t.Fatalf("unexpected final snapshot: %+v", snap)
	}
	if seeds.count() != 1 {
		t.Fatalf("seed registrations = %d, expected exactly 1", seeds.count())
	}

	// Late ticks after completion must not re-register.
	monitor.Emit(85, 8500, 5, 1024)
	time.Sleep(20 * time.Millisecond)
	if seeds.count() != 1 {
		t.Fatalf("seed registrations after late tick = %d, expected 1", seeds.count())
	}

	// Let the bulk request return; the session is destroyed after the
	// grace period and a later query sees the unknown snapshot.
	close(store.DownloadBlock)
	waitFor(t, func() bool {
		return tracker.GetStats(key, "ep1.mp4").Status == StatusUnknown
	})
	waitFor(t, monitor.Closed)
}

func TestRestartDuringGraceReleasesOldSession(t *testing.T) {
	tracker, store, _ := newTestTracker(t, time.Hour)
	key := testKey(0x09)
	store.AddItem(key, "ep1.mp4", 100, 0, 10000)
	store.DownloadBlock = make(chan struct{})

	if _, err := tracker.Start(context.Background(), key, "ep1.mp4"); err != nil {
		t.Fatalf("start: %v", err)
	}
	first := store.ActiveMonitor(key, "ep1.mp4")

	// Complete the bulk request; the session sits in its grace window.
	close(store.DownloadBlock)
	waitFor(t, func() bool {
		return tracker.GetStats(key, "ep1.mp4").Status == StatusComplete
	})

	store.DownloadBlock = make(chan struct{})
	defer close(store.DownloadBlock)
	if _, err := tracker.Start(context.Background(), key, "ep1.mp4"); err != nil {
		t.Fatalf("restart: %v", err)
	}

	// The replaced session must not keep its monitor or event loop.
	waitFor(t, first.Closed)
	second := store.ActiveMonitor(key, "ep1.mp4")
	if second == first {
		t.Fatal("restart did not attach a fresh monitor")
	}
	if second.Closed() {
		t.Fatal("fresh session's monitor must stay open")
	}
	if snap := tracker.GetStats(key, "ep1.mp4"); snap.Status != StatusDownloading {
		t.Fatalf("status after restart = %s, expected %s", snap.Status, StatusDownloading)
	}
}

func TestLateTickKeepsCompleteSnapshotStable(t *testing.T) {
	tracker, store, _ := newTestTracker(t, time.Hour)
	key := testKey(0x0a)
	store.AddItem(key, "ep1.mp4", 100, 20, 10000)
	store.DownloadBlock = make(chan struct{})

	if _, err := tracker.Start(context.Background(), key, "ep1.mp4"); err != nil {
		t.Fatalf("start: %v", err)
	}
	monitor := store.ActiveMonitor(key, "ep1.mp4")

	monitor.Emit(30, 3000, 5, 1024)
	waitFor(t, func() bool {
		return tracker.GetStats(key, "ep1.mp4").DownloadedBlocks == 50
	})

	// Bulk resolution forces the snapshot to 100% regardless of how far
	// the polling monitor has caught up.
	close(store.DownloadBlock)
	waitFor(t, func() bool {
		return tracker.GetStats(key, "ep1.mp4").Status == StatusComplete
	})

	// A lagging tick still reporting partial progress must not walk the
	// completed snapshot back down.
	monitor.Emit(40, 4000, 5, 1024)
	time.Sleep(20 * time.Millisecond)
	snap := tracker.GetStats(key, "ep1.mp4")
	if snap.Status != StatusComplete || snap.DownloadedBlocks != 100 || snap.Progress != 100 {
		t.Fatalf("late tick dented the complete snapshot: %+v", snap)
	}
	if snap.DownloadedBytes != 10000 {
		t.Fatalf("late tick dented the byte accounting: %+v", snap)
	}
}

func TestStartIdempotentWhileLive(t *testing.T) {
	tracker, store, _ := newTestTracker(t, time.Hour)
	key := testKey(0x03)
	store.AddItem(key, "ep1.mp4", 100, 0, 10000)
	store.DownloadBlock = make(chan struct{})
	defer close(store.DownloadBlock)

	if _, err := tracker.Start(context.Background(), key, "ep1.mp4"); err != nil {
		t.Fatalf("start: %v", err)
	}
	first := store.ActiveMonitor(key, "ep1.mp4")

	if _, err := tracker.Start(context.Background(), key, "ep1.mp4"); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if store.ActiveMonitor(key, "ep1.mp4") != first {
		t.Fatal("second start attached a new monitor")
	}
}

func TestResolveErrorSurfaced(t *testing.T) {
	tracker, store, seeds := newTestTracker(t, time.Hour)
	key := testKey(0x04)
	store.ResolveErr = contentstore.ErrItemNotFound

	if _, err := tracker.Start(context.Background(), key, "ep1.mp4"); err == nil {
		t.Fatal("expected resolve error")
	}

	snap := tracker.GetStats(key, "ep1.mp4")
	if snap.Status != StatusError {
		t.Fatalf("status = %s, expected %s", snap.Status, StatusError)
	}
	if snap.Err == "" {
		t.Fatal("error snapshot missing message")
	}
	if seeds.count() != 0 {
		t.Fatal("failed session must not register a seed")
	}

	// A terminal session is replaced by a fresh start.
	store.ResolveErr = nil
	store.AddItem(key, "ep1.mp4", 10, 10, 1000)
	res, err := tracker.Start(context.Background(), key, "ep1.mp4")
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if !res.Cached {
		t.Fatal("expected cached restart")
	}
}

func TestBulkDownloadErrorFailsSession(t *testing.T) {
	tracker, store, seeds := newTestTracker(t, time.Hour)
	key := testKey(0x05)
	store.AddItem(key, "ep1.mp4", 100, 0, 10000)
	store.DownloadErr = fmt.Errorf("no reachable peers")

	if _, err := tracker.Start(context.Background(), key, "ep1.mp4"); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, func() bool {
		return tracker.GetStats(key, "ep1.mp4").Status == StatusError
	})
	monitor := store.ActiveMonitor(key, "ep1.mp4")
	waitFor(t, monitor.Closed)
	if seeds.count() != 0 {
		t.Fatal("failed session must not register a seed")
	}
}

func TestUnknownSnapshot(t *testing.T) {
	tracker, _, _ := newTestTracker(t, time.Hour)
	key := testKey(0x06)

	snap := tracker.GetStats(key, "never-started.mp4")
	if snap.Status != StatusUnknown {
		t.Fatalf("status = %s, expected %s", snap.Status, StatusUnknown)
	}
	if snap.TotalBlocks != 0 || snap.DownloadedBlocks != 0 || snap.Progress != 0 || snap.Speed != 0 {
		t.Fatalf("unknown snapshot not zeroed: %+v", snap)
	}
	if snap.Key != key || snap.ItemPath != "never-started.mp4" {
		t.Fatalf("unknown snapshot misses identity: %+v", snap)
	}
}

func TestStopDropsSession(t *testing.T) {
	tracker, store, seeds := newTestTracker(t, time.Hour)
	key := testKey(0x07)
	store.AddItem(key, "ep1.mp4", 100, 0, 10000)
	store.DownloadBlock = make(chan struct{})
	defer close(store.DownloadBlock)

	if _, err := tracker.Start(context.Background(), key, "ep1.mp4"); err != nil {
		t.Fatalf("start: %v", err)
	}
	monitor := store.ActiveMonitor(key, "ep1.mp4")

	if !tracker.Stop(key, "ep1.mp4") {
		t.Fatal("stop reported no session")
	}
	if tracker.Stop(key, "ep1.mp4") {
		t.Fatal("second stop reported a session")
	}
	if snap := tracker.GetStats(key, "ep1.mp4"); snap.Status != StatusUnknown {
		t.Fatalf("status after stop = %s, expected %s", snap.Status, StatusUnknown)
	}
	if !monitor.Closed() {
		t.Fatal("stop did not close the monitor")
	}
	if seeds.count() != 0 {
		t.Fatal("stopped session must not register a seed")
	}
}

func TestStatsCallbackFiresPerTick(t *testing.T) {
	tracker, store, _ := newTestTracker(t, time.Hour)
	key := testKey(0x08)
	store.AddItem(key, "ep1.mp4", 100, 0, 10000)
	store.DownloadBlock = make(chan struct{})
	defer close(store.DownloadBlock)

	var mu sync.Mutex
	var got []Snapshot
	tracker.OnStatsUpdate(func(_ protocol.ContentKey, _ string, snap Snapshot) {
		mu.Lock()
		got = append(got, snap)
		mu.Unlock()
	})

	if _, err := tracker.Start(context.Background(), key, "ep1.mp4"); err != nil {
		t.Fatalf("start: %v", err)
	}
	monitor := store.ActiveMonitor(key, "ep1.mp4")

	monitor.Emit(10, 1000, 2, 512)
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) >= 1
	})
	mu.Lock()
	snap := got[0]
	mu.Unlock()
	if snap.DownloadedBlocks != 10 || snap.PeerCount != 2 || snap.Speed != 512 {
		t.Fatalf("unexpected callback snapshot: %+v", snap)
	}
}
