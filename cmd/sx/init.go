package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/matsen/semlib/internal/config"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the index",
	Long: `Initialize the index databases and write a default config file.

The chunk index is pinned to the configured embedding dimensionality on
first creation; reopening it with a different embedding model is an error.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig()

	path := configPath
	if path == "" {
		path = config.Path()
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := cfg.Save(path); err != nil {
			exitWithError(ExitConfigError, "writing default config: %v", err)
		}
	}

	provider := mustBuildProvider(cfg)
	chunks, records := mustOpenStores(cfg.DataDir, provider.Dimensions())
	defer chunks.Close()
	defer records.Close()

	if humanOutput {
		fmt.Printf("Initialized index in %s\n", cfg.DataDir)
		fmt.Printf("Config: %s\n", path)
		fmt.Printf("Embedding: %s (%s, %d dimensions)\n",
			cfg.Embedding.Provider, provider.ModelName(), provider.Dimensions())
	} else {
		outputJSON(StatusResponse{Status: "initialized", Path: cfg.DataDir})
	}
	return nil
}
