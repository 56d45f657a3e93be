// Package config handles index configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/matsen/semlib/internal/federation"
)

// Config is the full configuration, stored in ~/.config/sx/config.yml.
type Config struct {
	// DataDir holds the index databases. Defaults under XDG_DATA_HOME.
	DataDir string `yaml:"data_dir,omitempty"`

	Source     SourceConfig     `yaml:"source,omitempty"`
	Embedding  EmbeddingConfig  `yaml:"embedding,omitempty"`
	Extraction ExtractionConfig `yaml:"extraction,omitempty"`
	Chunking   ChunkingConfig   `yaml:"chunking,omitempty"`
	Federation FederationConfig `yaml:"federation,omitempty"`
}

// SourceConfig locates the external library.
type SourceConfig struct {
	// Export is the path to the library's JSON export file.
	Export string `yaml:"export,omitempty"`
}

// EmbeddingConfig selects and tunes the embedding backend.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider,omitempty"` // ollama or openai
	Model      string `yaml:"model,omitempty"`
	Dimensions int    `yaml:"dimensions,omitempty"`
	BaseURL    string `yaml:"base_url,omitempty"`
}

// ExtractionConfig tunes the extraction backend.
type ExtractionConfig struct {
	Model   string `yaml:"model,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`
}

// ChunkingConfig tunes chunk generation.
type ChunkingConfig struct {
	MaxChars int `yaml:"max_chars,omitempty"`
}

// FederationConfig lists additional indexes to search alongside the local one.
type FederationConfig struct {
	Strategy       string           `yaml:"strategy,omitempty"`
	DedupThreshold float64          `yaml:"dedup_threshold,omitempty"`
	Indexes        []FederatedIndex `yaml:"indexes,omitempty"`
}

// FederatedIndex is one secondary index.
type FederatedIndex struct {
	Name    string  `yaml:"name"`
	DataDir string  `yaml:"data_dir"`
	Weight  float64 `yaml:"weight,omitempty"`
}

// Supported backend providers.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

const (
	configDir  = "sx"
	configFile = "config.yml"

	chunkDBFile  = "chunks.db"
	recordDBFile = "records.db"
)

// Path returns the config file location. Respects XDG_CONFIG_HOME,
// defaults to ~/.config/sx/config.yml.
func Path() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, configDir, configFile)
}

// DefaultDataDir returns the index location used when data_dir is unset.
// Respects XDG_DATA_HOME, defaults to ~/.local/share/sx.
func DefaultDataDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, configDir)
}

// ChunkDBPath returns the chunk index database path under a data dir.
func ChunkDBPath(dataDir string) string {
	return filepath.Join(dataDir, chunkDBFile)
}

// RecordDBPath returns the record database path under a data dir.
func RecordDBPath(dataDir string) string {
	return filepath.Join(dataDir, recordDBFile)
}

// Load reads the config file at path, or the default location when path is
// empty. A missing file yields the default config, not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = Path()
	}

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config: %w", err)
			}
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to path, creating parent directories as needed.
func (c *Config) Save(path string) error {
	if path == "" {
		path = Path()
	}
	if path == "" {
		return fmt.Errorf("cannot resolve config path")
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir()
	}
	c.DataDir = ExpandPath(c.DataDir)
	c.Source.Export = ExpandPath(c.Source.Export)

	if c.Embedding.Provider == "" {
		c.Embedding.Provider = ProviderOllama
	}
	if c.Federation.Strategy == "" {
		c.Federation.Strategy = string(federation.StrategyInterleave)
	}
	if c.Federation.DedupThreshold == 0 {
		c.Federation.DedupThreshold = federation.DefaultDedupThreshold
	}
	for i := range c.Federation.Indexes {
		c.Federation.Indexes[i].DataDir = ExpandPath(c.Federation.Indexes[i].DataDir)
		if c.Federation.Indexes[i].Weight == 0 {
			c.Federation.Indexes[i].Weight = 1
		}
	}
}

// Validate rejects values outside the supported enums and ranges.
func (c *Config) Validate() error {
	switch c.Embedding.Provider {
	case ProviderOllama, ProviderOpenAI:
	default:
		return fmt.Errorf("invalid embedding provider %q (valid: %s, %s)",
			c.Embedding.Provider, ProviderOllama, ProviderOpenAI)
	}
	if _, err := federation.ParseStrategy(c.Federation.Strategy); err != nil {
		return err
	}
	if t := c.Federation.DedupThreshold; t < 0 || t > 1 {
		return fmt.Errorf("dedup_threshold %v outside [0,1]", t)
	}
	for _, idx := range c.Federation.Indexes {
		if idx.Name == "" {
			return fmt.Errorf("federated index missing name")
		}
		if idx.DataDir == "" {
			return fmt.Errorf("federated index %s missing data_dir", idx.Name)
		}
		if idx.Weight < 0 {
			return fmt.Errorf("federated index %s: negative weight %v", idx.Name, idx.Weight)
		}
	}
	return nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
