package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/vidmesh/vidmesh/internal/node"
)

var (
	flagBootstrap []string
	flagInMemory  bool
)

var daemonCmd = &cobra.Command{
	Use:   "daemon listen-address",
	Short: "runs a vidmesh node",
	Long:  `runs a vidmesh node: joins the gossip topic, serves content and keeps seeding state`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		listenAddr := args[0]
		log := newLogger()
		log.Debugf("Listen Address: %s", listenAddr)
		log.Debugf("Data Dir: %s", flagDataDir)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		n, err := node.New(ctx, node.Options{
			ListenAddr: listenAddr,
			DataDir:    flagDataDir,
			InMemory:   flagInMemory,
			Bootstrap:  flagBootstrap,
			Logger:     log,
		})
		if err != nil {
			log.Fatal(err)
			return
		}
		if err := n.Start(); err != nil {
			log.Fatal(err)
		}
	},
}

func init() {
	daemonCmd.Flags().StringSliceVar(&flagBootstrap, "bootstrap", nil, "peer addresses to dial on startup")
	daemonCmd.Flags().BoolVar(&flagInMemory, "in-memory", false, "keep node state in memory only")
}
