// Package torrentstore implements the content store over a BitTorrent
// client. Items are files inside registered torrents; blocks are pieces.
package torrentstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/vidmesh/vidmesh/internal/contentstore"
	"github.com/vidmesh/vidmesh/internal/protocol"
)

const pollInterval = 200 * time.Millisecond

type Options struct {
	DataDir       string
	UploadLimit   int64
	DownloadLimit int64
	Logger        *logrus.Logger
}

// Client adapts a torrent client to the contentstore.Store interface.
type Client struct {
	client *torrent.Client
	logger *logrus.Logger

	mu    sync.Mutex
	items map[protocol.ContentKey]*torrent.Torrent
}

var _ contentstore.Store = (*Client)(nil)

func New(opts Options) (*Client, error) {
	cfg := torrent.NewDefaultClientConfig()
	cfg.DataDir = opts.DataDir
	if opts.UploadLimit > 0 {
		cfg.UploadRateLimiter = rate.NewLimiter(rate.Limit(opts.UploadLimit), int(opts.UploadLimit))
	}
	if opts.DownloadLimit > 0 {
		cfg.DownloadRateLimiter = rate.NewLimiter(rate.Limit(opts.DownloadLimit), int(opts.DownloadLimit))
	}

	client, err := torrent.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("torrentstore: creating client: %w", err)
	}

	return &Client{
		client: client,
		logger: opts.Logger,
		items:  make(map[protocol.ContentKey]*torrent.Torrent),
	}, nil
}

// Register binds a content key to a magnet link and waits for metadata.
func (c *Client) Register(ctx context.Context, key protocol.ContentKey, magnet string) error {
	t, err := c.client.AddMagnet(magnet)
	if err != nil {
		return fmt.Errorf("torrentstore: adding magnet: %w", err)
	}

	select {
	case <-t.GotInfo():
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	c.items[key] = t
	c.mu.Unlock()
	return nil
}

func (c *Client) PeerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	peers := 0
	for _, t := range c.items {
		peers += t.Stats().ActivePeers
	}
	return peers
}

func (c *Client) ResolveItem(ctx context.Context, key protocol.ContentKey, itemPath string) (contentstore.ItemRange, error) {
	t, err := c.torrentFor(key)
	if err != nil {
		return contentstore.ItemRange{}, err
	}

	select {
	case <-t.GotInfo():
	case <-ctx.Done():
		return contentstore.ItemRange{}, ctx.Err()
	}

	for _, f := range t.Files() {
		if f.Path() != itemPath && f.DisplayPath() != itemPath {
			continue
		}
		start, end := pieceRange(f.Offset(), f.Length(), t.Info().PieceLength)
		return contentstore.ItemRange{
			Key:         key,
			ItemPath:    itemPath,
			StartBlock:  start,
			EndBlock:    end,
			TotalBlocks: end - start,
			TotalBytes:  f.Length(),
		}, nil
	}
	return contentstore.ItemRange{}, contentstore.ErrItemNotFound
}

func (c *Client) LocalBlockCount(r contentstore.ItemRange) int {
	t, err := c.torrentFor(r.Key)
	if err != nil {
		return 0
	}
	return completedPieces(t, r.StartBlock, r.EndBlock)
}

// DownloadRange prioritizes the range and blocks until every piece in
// it is complete, the torrent closes, or the context is cancelled.
func (c *Client) DownloadRange(ctx context.Context, r contentstore.ItemRange) error {
	t, err := c.torrentFor(r.Key)
	if err != nil {
		return err
	}

	t.DownloadPieces(r.StartBlock, r.EndBlock)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if completedPieces(t, r.StartBlock, r.EndBlock) >= r.TotalBlocks {
				return nil
			}
		case <-t.Closed():
			return fmt.Errorf("torrentstore: torrent closed before range completed")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) Monitor(r contentstore.ItemRange) contentstore.Monitor {
	t, err := c.torrentFor(r.Key)
	if err != nil {
		c.logger.Warnf("torrentstore: monitor for unknown item %s", r.Key.Short())
		return newMonitor(nil, r)
	}
	return newMonitor(t, r)
}

func (c *Client) Close() error {
	errs := c.client.Close()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) torrentFor(key protocol.ContentKey) (*torrent.Torrent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.items[key]
	if !ok {
		return nil, contentstore.ErrItemNotFound
	}
	return t, nil
}

// pieceRange maps a byte extent onto piece indexes; end is exclusive.
func pieceRange(offset, length, pieceLen int64) (start, end int) {
	if pieceLen <= 0 {
		return 0, 0
	}
	start = int(offset / pieceLen)
	if length == 0 {
		return start, start
	}
	end = int((offset + length + pieceLen - 1) / pieceLen)
	return start, end
}

func completedPieces(t *torrent.Torrent, start, end int) int {
	n := 0
	for i := start; i < end && i < t.NumPieces(); i++ {
		if t.PieceState(i).Complete {
			n++
		}
	}
	return n
}
