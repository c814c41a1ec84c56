package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vidmesh/vidmesh/internal/gossip"
	"github.com/vidmesh/vidmesh/internal/seedcache"
	"github.com/vidmesh/vidmesh/internal/statestore"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "show local feed and seeding state",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		log := newLogger()

		store, err := statestore.NewLevelDB(filepath.Join(flagDataDir, "state"), log)
		if err != nil {
			log.Fatal(err)
			return
		}
		defer func() { _ = store.Close() }()

		cache, err := seedcache.New(seedcache.Options{
			Store:  store,
			Logger: log,
		})
		if err != nil {
			log.Fatal(err)
			return
		}

		directory, err := gossip.New(gossip.Options{
			Store:  store,
			Logger: log,
		})
		if err != nil {
			log.Fatal(err)
			return
		}

		stats := cache.GetStorageStats()
		status := cache.Status()
		fmt.Printf("storage: %d / %d bytes used", stats.UsedBytes, stats.MaxBytes)
		if stats.OverBy > 0 {
			fmt.Printf(" (pinned content over budget by %d bytes)", stats.OverBy)
		}
		fmt.Println()
		fmt.Printf("seeding: %d items (%d pinned), %d pinned channels\n",
			status.SeedCount, status.PinnedSeeds, status.PinnedChannels)

		entries := directory.ListFeed()
		fmt.Printf("feed: %d entries\n", len(entries))
		for _, e := range entries {
			fmt.Printf("  %s  %s  %s\n", e.Key, e.Origin, e.DiscoveredAt.Format("2006-01-02 15:04:05"))
		}
	},
}
