package seedcache

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vidmesh/vidmesh/internal/protocol"
	"github.com/vidmesh/vidmesh/internal/statestore"
)

const mb = int64(1) << 20

func testCache(t *testing.T) (*Cache, *statestore.InMem) {
	t.Helper()
	store := statestore.NewInMem()
	return testCacheWithStore(t, store), store
}

func testCacheWithStore(t *testing.T, store statestore.Storer) *Cache {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	var tick int64
	c, err := New(Options{
		Store:  store,
		Logger: logger,
		Now: func() time.Time {
			tick++
			return time.Unix(tick, 0)
		},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func key(t *testing.T, c byte) protocol.ContentKey {
	t.Helper()
	k, err := protocol.ParseKey(strings.Repeat(string(c), protocol.KeyHexLen))
	if err != nil {
		t.Fatalf("bad test key: %v", err)
	}
	return k
}

func mustAdd(t *testing.T, c *Cache, k protocol.ContentKey, path string, reason Reason, size int64) {
	t.Helper()
	added, err := c.AddSeed(k, path, reason, SizeInfo{BlockCount: 10, ByteSize: size})
	if err != nil {
		t.Fatalf("AddSeed(%s) failed: %v", path, err)
	}
	if !added {
		t.Fatalf("AddSeed(%s): expected insertion", path)
	}
}

func TestAddSeedIdempotent(t *testing.T) {
	c, _ := testCache(t)
	k := key(t, 'a')

	mustAdd(t, c, k, "/videos/1.mp4", ReasonWatched, mb)

	added, err := c.AddSeed(k, "/videos/1.mp4", ReasonWatched, SizeInfo{ByteSize: mb})
	if err != nil {
		t.Fatalf("AddSeed failed: %v", err)
	}
	if added {
		t.Error("expected duplicate AddSeed to return false")
	}
	if got := c.Status().SeedCount; got != 1 {
		t.Errorf("expected 1 seed, got %d", got)
	}
}

func TestAddSeedWatchedGate(t *testing.T) {
	c, _ := testCache(t)
	off := false
	if err := c.SetConfig(ConfigUpdate{AutoSeedWatched: &off}); err != nil {
		t.Fatalf("SetConfig failed: %v", err)
	}

	added, err := c.AddSeed(key(t, 'a'), "/v/1.mp4", ReasonWatched, SizeInfo{ByteSize: mb})
	if err != nil {
		t.Fatalf("AddSeed failed: %v", err)
	}
	if added {
		t.Error("expected watched seed to be rejected with autoSeedWatched off")
	}

	// Pinned seeds are unaffected by the gate.
	mustAdd(t, c, key(t, 'b'), "/v/2.mp4", ReasonPinned, mb)
}

func TestQuotaNeverEvictsPinned(t *testing.T) {
	c, _ := testCache(t)
	if err := c.SetMaxStorageGB(1); err != nil {
		t.Fatalf("SetMaxStorageGB failed: %v", err)
	}

	// A single pinned 2 GB seed on a 1 GB budget stays in place.
	mustAdd(t, c, key(t, 'a'), "/v/big.mp4", ReasonPinned, 2<<30)

	stats := c.GetStorageStats()
	if stats.UsedBytes != 2<<30 {
		t.Errorf("expected 2GB used, got %d", stats.UsedBytes)
	}
	if stats.OverBy != 1<<30 {
		t.Errorf("expected 1GB over budget, got %d", stats.OverBy)
	}
	if got := c.Status().SeedCount; got != 1 {
		t.Errorf("expected pinned seed to survive, got %d seeds", got)
	}
}

func TestEvictionOrderPriorityBeforeAge(t *testing.T) {
	c, _ := testCache(t)
	limit := 10 * mb
	if err := c.SetConfig(ConfigUpdate{MaxStorageBytes: &limit}); err != nil {
		t.Fatalf("SetConfig failed: %v", err)
	}

	// The subscribed seed is older but higher priority; the watched
	// seed goes first even though it is newer.
	mustAdd(t, c, key(t, 'a'), "/v/sub.mp4", ReasonSubscribed, 6*mb)
	mustAdd(t, c, key(t, 'b'), "/v/watched.mp4", ReasonWatched, 6*mb)

	seeds := c.Seeds()
	if len(seeds) != 1 {
		t.Fatalf("expected 1 seed after enforcement, got %d", len(seeds))
	}
	if seeds[0].Reason != ReasonSubscribed {
		t.Errorf("expected the subscribed seed to survive, got %s", seeds[0].Reason)
	}
}

func TestEvictionOrderAgeWithinPriority(t *testing.T) {
	c, _ := testCache(t)
	limit := 10 * mb
	if err := c.SetConfig(ConfigUpdate{MaxStorageBytes: &limit}); err != nil {
		t.Fatalf("SetConfig failed: %v", err)
	}

	mustAdd(t, c, key(t, 'a'), "/v/old.mp4", ReasonWatched, 6*mb)
	mustAdd(t, c, key(t, 'b'), "/v/new.mp4", ReasonWatched, 6*mb)

	seeds := c.Seeds()
	if len(seeds) != 1 {
		t.Fatalf("expected 1 seed after enforcement, got %d", len(seeds))
	}
	if seeds[0].ItemPath != "/v/new.mp4" {
		t.Errorf("expected the older seed to be evicted first, kept %s", seeds[0].ItemPath)
	}
}

func TestLoweredQuotaEvictsImmediately(t *testing.T) {
	c, _ := testCache(t)
	mustAdd(t, c, key(t, 'a'), "/v/1.mp4", ReasonWatched, 600*mb)
	mustAdd(t, c, key(t, 'b'), "/v/2.mp4", ReasonWatched, 600*mb)

	if err := c.SetMaxStorageGB(1); err != nil {
		t.Fatalf("SetMaxStorageGB failed: %v", err)
	}

	if got := c.Status().SeedCount; got != 1 {
		t.Errorf("expected lowering the quota to evict, got %d seeds", got)
	}
}

func TestSetMaxStorageClamps(t *testing.T) {
	c, _ := testCache(t)

	if err := c.SetMaxStorageGB(0); err != nil {
		t.Fatalf("SetMaxStorageGB failed: %v", err)
	}
	if got := c.Config().MaxStorageBytes; got != 1<<30 {
		t.Errorf("expected clamp to 1GB, got %d", got)
	}

	if err := c.SetMaxStorageGB(1000); err != nil {
		t.Fatalf("SetMaxStorageGB failed: %v", err)
	}
	if got := c.Config().MaxStorageBytes; got != 100<<30 {
		t.Errorf("expected clamp to 100GB, got %d", got)
	}
}

func TestClearCacheKeepsPinned(t *testing.T) {
	c, _ := testCache(t)
	mustAdd(t, c, key(t, 'a'), "/v/1.mp4", ReasonWatched, 2*mb)
	mustAdd(t, c, key(t, 'b'), "/v/2.mp4", ReasonSubscribed, 3*mb)
	mustAdd(t, c, key(t, 'c'), "/v/3.mp4", ReasonPinned, 5*mb)

	cleared, err := c.ClearCache()
	if err != nil {
		t.Fatalf("ClearCache failed: %v", err)
	}
	if cleared != 5*mb {
		t.Errorf("expected 5MB cleared, got %d", cleared)
	}

	seeds := c.Seeds()
	if len(seeds) != 1 || seeds[0].Reason != ReasonPinned {
		t.Errorf("expected only the pinned seed to remain, got %v", seeds)
	}
}

func TestRemoveSeed(t *testing.T) {
	c, _ := testCache(t)
	k := key(t, 'a')
	mustAdd(t, c, k, "/v/1.mp4", ReasonWatched, mb)

	existed, err := c.RemoveSeed(k, "/v/1.mp4")
	if err != nil {
		t.Fatalf("RemoveSeed failed: %v", err)
	}
	if !existed {
		t.Error("expected RemoveSeed to report existence")
	}

	existed, err = c.RemoveSeed(k, "/v/1.mp4")
	if err != nil {
		t.Fatalf("second RemoveSeed failed: %v", err)
	}
	if existed {
		t.Error("expected second RemoveSeed to report absence")
	}
}

func TestMaxItemsPerChannel(t *testing.T) {
	c, _ := testCache(t)
	limit := uint(2)
	if err := c.SetConfig(ConfigUpdate{MaxItemsPerChannel: &limit}); err != nil {
		t.Fatalf("SetConfig failed: %v", err)
	}

	k := key(t, 'a')
	mustAdd(t, c, k, "/v/1.mp4", ReasonWatched, mb)
	mustAdd(t, c, k, "/v/2.mp4", ReasonWatched, mb)
	mustAdd(t, c, k, "/v/3.mp4", ReasonWatched, mb)

	seeds := c.Seeds()
	if len(seeds) != 2 {
		t.Fatalf("expected channel trimmed to 2 items, got %d", len(seeds))
	}
	for _, s := range seeds {
		if s.ItemPath == "/v/1.mp4" {
			t.Error("expected the oldest item to be trimmed")
		}
	}
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	store := statestore.NewInMem()
	c := testCacheWithStore(t, store)

	k := key(t, 'a')
	mustAdd(t, c, k, "/v/1.mp4", ReasonSubscribed, 7*mb)
	if err := c.PinChannel(key(t, 'b')); err != nil {
		t.Fatalf("PinChannel failed: %v", err)
	}
	if err := c.SetMaxStorageGB(3); err != nil {
		t.Fatalf("SetMaxStorageGB failed: %v", err)
	}

	reloaded := testCacheWithStore(t, store)
	seeds := reloaded.Seeds()
	if len(seeds) != 1 || seeds[0].Key != k || seeds[0].ByteSize != 7*mb {
		t.Errorf("expected seed table to survive restart, got %v", seeds)
	}
	if !reloaded.IsPinnedChannel(key(t, 'b')) {
		t.Error("expected pinned channel to survive restart")
	}
	if got := reloaded.Config().MaxStorageBytes; got != 3<<30 {
		t.Errorf("expected config to survive restart, got %d", got)
	}
}

func TestPersistenceFailureSurfacedNotRolledBack(t *testing.T) {
	c, store := testCache(t)
	store.FailPuts = errors.New("disk full")

	added, err := c.AddSeed(key(t, 'a'), "/v/1.mp4", ReasonWatched, SizeInfo{ByteSize: mb})
	if err == nil {
		t.Fatal("expected persistence error to be surfaced")
	}
	if !added {
		t.Error("expected the seed to be inserted in memory despite the write failure")
	}
	if got := c.Status().SeedCount; got != 1 {
		t.Errorf("expected in-memory state to keep the seed, got %d", got)
	}
}
