// Package seedcache decides, under a fixed storage budget, which
// downloaded content this node keeps seeding to other peers.
package seedcache

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vidmesh/vidmesh/internal/protocol"
	"github.com/vidmesh/vidmesh/internal/statestore"
)

// Reason records why a seed is kept. It orders eviction priority:
// watched goes first, subscribed second, pinned never.
type Reason string

const (
	ReasonWatched    Reason = "watched"
	ReasonPinned     Reason = "pinned"
	ReasonSubscribed Reason = "subscribed"
)

func priorityRank(r Reason) int {
	switch r {
	case ReasonWatched:
		return 1
	case ReasonSubscribed:
		return 2
	case ReasonPinned:
		return 3
	default:
		return 0
	}
}

// SeedRecord is one locally retained content item, keyed by (Key, ItemPath).
type SeedRecord struct {
	Key        protocol.ContentKey `json:"contentKey"`
	ItemPath   string              `json:"itemPath"`
	Reason     Reason              `json:"reason"`
	AddedAt    time.Time           `json:"addedAt"`
	BlockCount int                 `json:"blockCount"`
	ByteSize   int64               `json:"byteSize"`
}

// SizeInfo carries the measured size of a completed download.
type SizeInfo struct {
	BlockCount int
	ByteSize   int64
}

const (
	gb = int64(1) << 30

	minStorageGB = 1
	maxStorageGB = 100
)

// Config is the process-wide seeding configuration, persisted as a
// single document and mutated only through SetConfig/SetMaxStorageGB.
type Config struct {
	MaxStorageBytes    int64 `json:"maxStorageBytes"`
	AutoSeedWatched    bool  `json:"autoSeedWatched"`
	AutoSeedSubscribed bool  `json:"autoSeedSubscribed"`
	MaxItemsPerChannel uint  `json:"maxItemsPerChannel"`
}

func DefaultConfig() Config {
	return Config{
		MaxStorageBytes:    10 * gb,
		AutoSeedWatched:    true,
		AutoSeedSubscribed: true,
		MaxItemsPerChannel: 0,
	}
}

// ConfigUpdate is a partial config; nil fields keep their value.
type ConfigUpdate struct {
	MaxStorageBytes    *int64
	AutoSeedWatched    *bool
	AutoSeedSubscribed *bool
	MaxItemsPerChannel *uint
}

// Status is the read-only aggregate for display.
type Status struct {
	SeedCount      int
	PinnedSeeds    int
	PinnedChannels int
	UsedBytes      int64
	MaxBytes       int64
}

// StorageStats reports usage against the budget. UsedBytes may exceed
// MaxBytes when pinned seeds alone are over budget.
type StorageStats struct {
	UsedBytes int64
	MaxBytes  int64
	OverBy    int64
}

type seedKey struct {
	key  protocol.ContentKey
	path string
}

type Options struct {
	Store  statestore.Storer
	Logger *logrus.Logger

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// Cache owns the seed table, the pinned channel set, and the config.
// Every mutating operation writes through to the statestore; a failed
// write is surfaced to the caller but in-memory state is kept, since a
// durability risk is not a reason to silently lose the change.
type Cache struct {
	store   statestore.Storer
	logger  *logrus.Logger
	metrics metrics
	now     func() time.Time

	mu     sync.Mutex
	cfg    Config
	seeds  map[seedKey]SeedRecord
	pinned map[protocol.ContentKey]struct{}
}

// New loads config, pinned set, and seed table from the statestore.
// Missing keys mean first run and yield defaults.
func New(opts Options) (*Cache, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	c := &Cache{
		store:   opts.Store,
		logger:  opts.Logger,
		metrics: newMetrics(),
		now:     now,
		cfg:     DefaultConfig(),
		seeds:   make(map[seedKey]SeedRecord),
		pinned:  make(map[protocol.ContentKey]struct{}),
	}

	if err := opts.Store.Get(statestore.KeySeedingConfig, &c.cfg); err != nil && err != statestore.ErrNotFound {
		return nil, err
	}

	var pinned []protocol.ContentKey
	if err := opts.Store.Get(statestore.KeyPinnedChannels, &pinned); err != nil && err != statestore.ErrNotFound {
		return nil, err
	}
	for _, key := range pinned {
		c.pinned[key] = struct{}{}
	}

	var seeds []SeedRecord
	if err := opts.Store.Get(statestore.KeyActiveSeeds, &seeds); err != nil && err != statestore.ErrNotFound {
		return nil, err
	}
	for _, s := range seeds {
		c.seeds[seedKey{s.Key, s.ItemPath}] = s
	}
	c.metrics.BytesUsed.Set(float64(c.usedBytesLocked()))

	return c, nil
}

// AddSeed registers a completed download or an explicit pin. Returns
// false without error when rejected by config gates or already tracked.
func (c *Cache) AddSeed(key protocol.ContentKey, itemPath string, reason Reason, info SizeInfo) (bool, error) {
	c.mu.Lock()

	if reason == ReasonWatched && !c.cfg.AutoSeedWatched {
		c.mu.Unlock()
		return false, nil
	}
	if reason == ReasonSubscribed && !c.cfg.AutoSeedSubscribed {
		c.mu.Unlock()
		return false, nil
	}

	sk := seedKey{key, itemPath}
	if _, exists := c.seeds[sk]; exists {
		c.mu.Unlock()
		return false, nil
	}

	c.seeds[sk] = SeedRecord{
		Key:        key,
		ItemPath:   itemPath,
		Reason:     reason,
		AddedAt:    c.now(),
		BlockCount: info.BlockCount,
		ByteSize:   info.ByteSize,
	}
	c.metrics.SeedsAdded.Inc()
	c.trimChannelLocked(key)

	err := c.persistSeedsLocked()
	c.enforceQuotaLocked()
	c.mu.Unlock()

	return true, err
}

// RemoveSeed deletes a seed if present and reports whether it existed.
func (c *Cache) RemoveSeed(key protocol.ContentKey, itemPath string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sk := seedKey{key, itemPath}
	if _, exists := c.seeds[sk]; !exists {
		return false, nil
	}
	delete(c.seeds, sk)
	return true, c.persistSeedsLocked()
}

// PinChannel marks a channel "always keep everything from this source".
// A channel pin is a policy flag, not itself a seed.
func (c *Cache) PinChannel(key protocol.ContentKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pinned[key] = struct{}{}
	return c.persistPinnedLocked()
}

func (c *Cache) UnpinChannel(key protocol.ContentKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pinned, key)
	return c.persistPinnedLocked()
}

// IsPinnedChannel reports whether a channel is pinned.
func (c *Cache) IsPinnedChannel(key protocol.ContentKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pinned[key]
	return ok
}

// SetConfig merges a partial update, persists, and re-runs quota
// enforcement: a lowered budget must evict immediately.
func (c *Cache) SetConfig(update ConfigUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if update.MaxStorageBytes != nil {
		c.cfg.MaxStorageBytes = *update.MaxStorageBytes
	}
	if update.AutoSeedWatched != nil {
		c.cfg.AutoSeedWatched = *update.AutoSeedWatched
	}
	if update.AutoSeedSubscribed != nil {
		c.cfg.AutoSeedSubscribed = *update.AutoSeedSubscribed
	}
	if update.MaxItemsPerChannel != nil {
		c.cfg.MaxItemsPerChannel = *update.MaxItemsPerChannel
	}

	err := c.store.Put(statestore.KeySeedingConfig, c.cfg)
	c.enforceQuotaLocked()
	return err
}

// SetMaxStorageGB sets the budget in whole gigabytes, clamped to [1, 100].
func (c *Cache) SetMaxStorageGB(gigs int) error {
	if gigs < minStorageGB {
		gigs = minStorageGB
	}
	if gigs > maxStorageGB {
		gigs = maxStorageGB
	}
	limit := int64(gigs) * gb
	return c.SetConfig(ConfigUpdate{MaxStorageBytes: &limit})
}

// Config returns a copy of the current configuration.
func (c *Cache) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// ClearCache removes every non-pinned seed unconditionally and returns
// the total bytes reclaimed. This is a user-triggered full reclaim, not
// routine eviction: priority and age are ignored.
func (c *Cache) ClearCache() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var cleared int64
	for sk, s := range c.seeds {
		if s.Reason == ReasonPinned {
			continue
		}
		cleared += s.ByteSize
		delete(c.seeds, sk)
	}
	return cleared, c.persistSeedsLocked()
}

// Seeds returns a snapshot of all seed records.
func (c *Cache) Seeds() []SeedRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seedListLocked()
}

func (c *Cache) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		SeedCount:      len(c.seeds),
		PinnedChannels: len(c.pinned),
		UsedBytes:      c.usedBytesLocked(),
		MaxBytes:       c.cfg.MaxStorageBytes,
	}
	for _, s := range c.seeds {
		if s.Reason == ReasonPinned {
			st.PinnedSeeds++
		}
	}
	return st
}

func (c *Cache) GetStorageStats() StorageStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	used := c.usedBytesLocked()
	stats := StorageStats{
		UsedBytes: used,
		MaxBytes:  c.cfg.MaxStorageBytes,
	}
	if used > stats.MaxBytes {
		stats.OverBy = used - stats.MaxBytes
	}
	return stats
}

// enforceQuotaLocked evicts lowest-priority, oldest seeds until usage
// fits the budget or only pinned seeds remain. Pinned records are
// filtered out before the sort: pinning is a hard override, not a
// priority weight, so usage can legally stay above the budget. The
// table is persisted once after the loop.
func (c *Cache) enforceQuotaLocked() {
	used := c.usedBytesLocked()
	c.metrics.BytesUsed.Set(float64(used))
	if used <= c.cfg.MaxStorageBytes {
		return
	}

	evictable := make([]SeedRecord, 0, len(c.seeds))
	for _, s := range c.seeds {
		if s.Reason != ReasonPinned {
			evictable = append(evictable, s)
		}
	}
	sort.Slice(evictable, func(i, j int) bool {
		ri, rj := priorityRank(evictable[i].Reason), priorityRank(evictable[j].Reason)
		if ri != rj {
			return ri < rj
		}
		return evictable[i].AddedAt.Before(evictable[j].AddedAt)
	})

	evicted := 0
	for _, s := range evictable {
		if used <= c.cfg.MaxStorageBytes {
			break
		}
		delete(c.seeds, seedKey{s.Key, s.ItemPath})
		used -= s.ByteSize
		evicted++
		c.metrics.SeedsEvicted.Inc()
		c.logger.Infof("seedcache: evicted %s/%s (%s, %d bytes)", s.Key.Short(), s.ItemPath, s.Reason, s.ByteSize)
	}

	if evicted > 0 {
		if err := c.persistSeedsLocked(); err != nil {
			c.logger.Errorf("seedcache: persisting after eviction: %v", err)
		}
	}
	c.metrics.BytesUsed.Set(float64(used))
}

// trimChannelLocked enforces MaxItemsPerChannel for one channel, oldest
// non-pinned seeds first. A zero limit disables the check.
func (c *Cache) trimChannelLocked(key protocol.ContentKey) {
	limit := int(c.cfg.MaxItemsPerChannel)
	if limit == 0 {
		return
	}

	var items []SeedRecord
	for _, s := range c.seeds {
		if s.Key == key && s.Reason != ReasonPinned {
			items = append(items, s)
		}
	}
	if len(items) <= limit {
		return
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].AddedAt.Before(items[j].AddedAt)
	})
	for _, s := range items[:len(items)-limit] {
		delete(c.seeds, seedKey{s.Key, s.ItemPath})
		c.metrics.SeedsEvicted.Inc()
	}
}

func (c *Cache) usedBytesLocked() int64 {
	var used int64
	for _, s := range c.seeds {
		used += s.ByteSize
	}
	return used
}

func (c *Cache) seedListLocked() []SeedRecord {
	seeds := make([]SeedRecord, 0, len(c.seeds))
	for _, s := range c.seeds {
		seeds = append(seeds, s)
	}
	sort.Slice(seeds, func(i, j int) bool {
		if !seeds[i].AddedAt.Equal(seeds[j].AddedAt) {
			return seeds[i].AddedAt.Before(seeds[j].AddedAt)
		}
		if seeds[i].Key != seeds[j].Key {
			return seeds[i].Key < seeds[j].Key
		}
		return seeds[i].ItemPath < seeds[j].ItemPath
	})
	return seeds
}

func (c *Cache) persistSeedsLocked() error {
	return c.store.Put(statestore.KeyActiveSeeds, c.seedListLocked())
}

func (c *Cache) persistPinnedLocked() error {
	pinned := make([]protocol.ContentKey, 0, len(c.pinned))
	for key := range c.pinned {
		pinned = append(pinned, key)
	}
	sort.Slice(pinned, func(i, j int) bool { return pinned[i] < pinned[j] })
	return c.store.Put(statestore.KeyPinnedChannels, pinned)
}
