// Package contentstore defines the block-storage collaborator the
// download tracker drives: item resolution, local block accounting,
// bulk range downloads, and per-item block-arrival monitors.
package contentstore

import (
	"context"
	"errors"

	"github.com/vidmesh/vidmesh/internal/protocol"
)

// ErrItemNotFound is returned by ResolveItem when the store has no
// directory entry for the item.
var ErrItemNotFound = errors.New("contentstore: item not found")

// ItemRange is the resolved block range of one content item.
// EndBlock is exclusive; TotalBlocks == EndBlock - StartBlock.
type ItemRange struct {
	Key         protocol.ContentKey
	ItemPath    string
	StartBlock  int
	EndBlock    int
	TotalBlocks int
	TotalBytes  int64
}

// MonitorStats is the cumulative accounting of one monitor: blocks and
// bytes that arrived since the monitor was attached, and the current
// peer count serving the transfer.
type MonitorStats struct {
	Blocks int
	Bytes  int64
	Peers  int
}

// Monitor reports incremental block arrivals for one in-progress item.
type Monitor interface {
	// OnUpdate registers the callback fired on each new block arrival.
	OnUpdate(fn func())
	Stats() MonitorStats
	// Speed is the current transfer rate in bytes per second.
	Speed() float64
	Close()
}

// Store is the content store consumed by the tracker.
type Store interface {
	PeerCount() int
	ResolveItem(ctx context.Context, key protocol.ContentKey, itemPath string) (ItemRange, error)
	LocalBlockCount(r ItemRange) int
	// DownloadRange requests the whole range and returns once it is
	// fully satisfied or the transfer fails.
	DownloadRange(ctx context.Context, r ItemRange) error
	Monitor(r ItemRange) Monitor
}
