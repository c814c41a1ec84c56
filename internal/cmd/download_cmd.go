package cmd

import (
	"context"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/vidmesh/vidmesh/internal/contentstore/torrentstore"
	"github.com/vidmesh/vidmesh/internal/prefetch"
	"github.com/vidmesh/vidmesh/internal/protocol"
	"github.com/vidmesh/vidmesh/internal/seedcache"
	"github.com/vidmesh/vidmesh/internal/statestore"
)

const pollInterval = 200 * time.Millisecond

var downloadCmd = &cobra.Command{
	Use:   "download content-key item-path magnet-link",
	Short: "download one item of a content set",
	Long:  `download one item of a content set from the swarm and keep seeding it`,
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		log := newLogger()

		key, err := protocol.ParseKey(args[0])
		if err != nil {
			log.Fatal(err)
			return
		}
		itemPath := args[1]
		magnet := args[2]

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		client, err := torrentstore.New(torrentstore.Options{
			DataDir: filepath.Join(flagDataDir, "content"),
			Logger:  log,
		})
		if err != nil {
			log.Fatal(err)
			return
		}
		defer func() { _ = client.Close() }()

		log.Info("Fetching content metadata...")
		if err := client.Register(ctx, key, magnet); err != nil {
			log.Fatal(err)
			return
		}

		cache, err := seedcache.New(seedcache.Options{
			Store:  statestore.NewInMem(),
			Logger: log,
		})
		if err != nil {
			log.Fatal(err)
			return
		}
		tracker := prefetch.New(prefetch.Options{
			Store:  client,
			Seeds:  cache,
			Logger: log,
		})

		res, err := tracker.Start(ctx, key, itemPath)
		if err != nil {
			log.Fatal(err)
			return
		}
		if res.Cached {
			log.Infof("%s is already complete", itemPath)
			return
		}

		snap := tracker.GetStats(key, itemPath)
		bar := progressbar.NewOptions(snap.TotalBlocks,
			progressbar.OptionSetDescription(itemPath),
			progressbar.OptionShowCount(),
		)
		for {
			snap = tracker.GetStats(key, itemPath)
			switch snap.Status {
			case prefetch.StatusError:
				_ = bar.Exit()
				log.Fatalf("download failed: %s", snap.Err)
				return
			case prefetch.StatusComplete, prefetch.StatusUnknown:
				_ = bar.Finish()
				log.Infof("%s complete (%d blocks, %d peers)", itemPath, snap.TotalBlocks, snap.PeerCount)
				return
			default:
				_ = bar.Set(snap.DownloadedBlocks)
			}
			time.Sleep(pollInterval)
		}
	},
}
