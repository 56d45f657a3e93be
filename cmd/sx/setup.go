package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/matsen/semlib/internal/chunk"
	"github.com/matsen/semlib/internal/chunkstore"
	"github.com/matsen/semlib/internal/config"
	"github.com/matsen/semlib/internal/embedding"
	"github.com/matsen/semlib/internal/extractor"
	"github.com/matsen/semlib/internal/recordstore"
	"github.com/matsen/semlib/internal/retry"
	"github.com/matsen/semlib/internal/source"
	"github.com/matsen/semlib/internal/sync"
)

// newLogger builds the CLI logger. Diagnostics go to stderr so stdout stays
// clean JSON for agents.
func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if os.Getenv("SX_DEBUG") != "" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// mustLoadConfig loads the config file or exits with a config error.
func mustLoadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		exitWithError(ExitConfigError, "loading config: %v", err)
	}
	return cfg
}

// mustOpenStores opens the chunk and record databases for one index.
// The caller owns both and must close them.
func mustOpenStores(dataDir string, dims int) (*chunkstore.SQLiteStore, *recordstore.SQLiteStore) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		exitWithError(ExitConfigError, "creating data directory: %v", err)
	}
	chunks, err := chunkstore.OpenSQLite(config.ChunkDBPath(dataDir), dims)
	if err != nil {
		exitWithError(ExitBackend, "opening chunk index: %v", err)
	}
	records, err := recordstore.OpenSQLite(config.RecordDBPath(dataDir))
	if err != nil {
		chunks.Close()
		exitWithError(ExitBackend, "opening record store: %v", err)
	}
	return chunks, records
}

// mustBuildProvider constructs the configured embedding backend. API keys
// come from the environment, with .env honored for local development.
func mustBuildProvider(cfg *config.Config) embedding.Provider {
	_ = godotenv.Load()

	var provider embedding.Provider
	switch cfg.Embedding.Provider {
	case config.ProviderOpenAI:
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			exitWithError(ExitConfigError, "OPENAI_API_KEY not set (required for the openai embedding provider)")
		}
		var opts []embedding.OpenAIOption
		if cfg.Embedding.BaseURL != "" {
			opts = append(opts, embedding.WithOpenAIBaseURL(cfg.Embedding.BaseURL))
		}
		if cfg.Embedding.Model != "" {
			opts = append(opts, embedding.WithOpenAIModel(cfg.Embedding.Model))
		}
		if cfg.Embedding.Dimensions > 0 {
			opts = append(opts, embedding.WithOpenAIDimensions(cfg.Embedding.Dimensions))
		}
		provider = embedding.NewOpenAIProvider(apiKey, opts...)
	default:
		var opts []embedding.OllamaOption
		if cfg.Embedding.BaseURL != "" {
			opts = append(opts, embedding.WithBaseURL(cfg.Embedding.BaseURL))
		}
		if cfg.Embedding.Model != "" {
			opts = append(opts, embedding.WithModel(cfg.Embedding.Model))
		}
		if cfg.Embedding.Dimensions > 0 {
			opts = append(opts, embedding.WithDimensions(cfg.Embedding.Dimensions))
		}
		provider = embedding.NewOllamaProvider(opts...)
	}

	return embedding.WithRetry(provider, retry.DefaultPolicy())
}

// buildExtractor constructs the extraction backend with retries.
func buildExtractor(cfg *config.Config) extractor.Extractor {
	var opts []extractor.OllamaOption
	if cfg.Extraction.BaseURL != "" {
		opts = append(opts, extractor.WithBaseURL(cfg.Extraction.BaseURL))
	}
	if cfg.Extraction.Model != "" {
		opts = append(opts, extractor.WithModel(cfg.Extraction.Model))
	}
	return extractor.WithRetry(extractor.NewOllamaExtractor(opts...), retry.DefaultPolicy())
}

// mustOpenLibrary returns the configured external library source.
func mustOpenLibrary(cfg *config.Config) source.Library {
	if cfg.Source.Export == "" {
		exitWithError(ExitConfigError, "source.export not configured\n\nTip: set the library export path in %s:\n  source:\n    export: ~/papers/library.json", config.Path())
	}
	return source.NewZoteroExport(cfg.Source.Export)
}

// buildUpdater wires the full incremental-update pipeline.
func buildUpdater(cfg *config.Config, chunks *chunkstore.SQLiteStore, records *recordstore.SQLiteStore, provider embedding.Provider, logger *slog.Logger) *sync.Updater {
	maxChars := cfg.Chunking.MaxChars
	if maxChars <= 0 {
		maxChars = chunk.DefaultMaxChunkChars
	}
	chunker := chunk.NewChunker(maxChars, logger)
	return sync.NewUpdater(chunks, records, chunker, provider, buildExtractor(cfg), logger)
}
