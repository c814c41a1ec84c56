package cmd

import (
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vidmesh/vidmesh/internal/gossip"
	"github.com/vidmesh/vidmesh/internal/statestore"
)

var submitCmd = &cobra.Command{
	Use:   "submit content-key",
	Short: "submit a content key to the local feed",
	Long:  `submit a content key to the local feed; a running daemon announces it to connected peers`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		log := newLogger()

		directory, store, err := openDirectory(log)
		if err != nil {
			log.Fatal(err)
			return
		}
		defer func() { _ = store.Close() }()

		if err := directory.Submit(args[0]); err != nil {
			log.Fatal(err)
			return
		}
		log.Infof("Submitted %s", args[0])
	},
}

var hideCmd = &cobra.Command{
	Use:   "hide content-key",
	Short: "hide a content key from the local feed",
	Long:  `hide a content key from the local feed; the hide survives restarts and re-gossip`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		log := newLogger()

		directory, store, err := openDirectory(log)
		if err != nil {
			log.Fatal(err)
			return
		}
		defer func() { _ = store.Close() }()

		if err := directory.Hide(args[0]); err != nil {
			log.Fatal(err)
			return
		}
		log.Infof("Hidden %s", args[0])
	},
}

func openDirectory(log *logrus.Logger) (*gossip.Directory, statestore.Storer, error) {
	store, err := statestore.NewLevelDB(filepath.Join(flagDataDir, "state"), log)
	if err != nil {
		return nil, nil, err
	}
	directory, err := gossip.New(gossip.Options{
		Store:  store,
		Logger: log,
	})
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return directory, store, nil
}
