// Package main provides the sx CLI entry point.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags
var Version = "dev"

// humanOutput controls whether to use human-readable output
var humanOutput bool

// configPath overrides the default config file location
var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(ExitError)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sx",
	Short: "Semantic index over a personal paper library",
	Long: `sx maintains a semantic search index over a personal research
paper library.

It mirrors an external reference manager's library into a local SQLite
index of extracted, chunked, and embedded paper content, keeps the index
current with incremental updates, and answers similarity queries over it.
All commands output JSON by default for easy integration with agents and
other tools.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&humanOutput, "human", false, "Use human-readable output instead of JSON")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.config/sx/config.yml)")
	rootCmd.Version = Version
}
