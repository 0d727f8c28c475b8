// Package main is the entry point for the argview server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "argview",
		Short: "argview - viewport coordination for tree sequence viewers",
		Long: `argview sits between a tree sequence viewer and the layout backend. It maps
the viewport to the local trees in view, fetches and caches their layouts,
and serves render-ready buffers, lock-view snapshots and mutation lists.`,
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/server.yaml", "Path to configuration file")

	rootCmd.AddCommand(newServeCommand(&configPath))
	rootCmd.AddCommand(newTUICommand(&configPath))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
