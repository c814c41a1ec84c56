// Package cmd holds the vidmesh CLI commands.
package cmd

import (
	"log"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vidmesh/vidmesh/internal/logger"
)

var (
	flagDataDir   string
	flagVerbosity string
)

var rootCmd = &cobra.Command{
	Use:  `vidmesh`,
	Long: `vidmesh is a peer to peer video content node`,
	Run: func(cmd *cobra.Command, args []string) {
		log.Println("vidmesh is a peer to peer video content node")
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", defaultDataDir(), "directory for node state and content")
	rootCmd.PersistentFlags().StringVar(&flagVerbosity, "verbosity", "info", "log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(hideCmd)
	rootCmd.AddCommand(statusCmd)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".vidmesh"
	}
	return filepath.Join(home, ".vidmesh")
}

func newLogger() *logrus.Logger {
	return logger.New(os.Stdout, flagVerbosity)
}
