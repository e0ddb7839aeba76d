// Package config provides configuration loading and structs for the Tansaku server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug    bool           `yaml:"debug"`
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Engine   EngineConfig   `yaml:"engine"`
	Coverage CoverageConfig `yaml:"coverage"`
	Datasets []DatasetConfig `yaml:"datasets"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds the metadata database path.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// EngineConfig holds per-dataset tuning.
type EngineConfig struct {
	// Capacity caps the documents per dataset; zero means unlimited.
	Capacity int `yaml:"capacity"`
	// PreloadWorkers bounds the filter-preload pool.
	PreloadWorkers int `yaml:"preload_workers"`
	// TaskWorkers bounds concurrent background builds across datasets.
	TaskWorkers int `yaml:"task_workers"`
	// DefaultTimeoutMS bounds a search when the query does not say.
	DefaultTimeoutMS int64 `yaml:"default_timeout_ms"`
}

// CoverageConfig holds the default coverage detector tuning.
type CoverageConfig struct {
	MinWordSize              int  `yaml:"min_word_size"`
	LevenshteinMaxWordSize   int  `yaml:"levenshtein_max_word_size"`
	Truncate                 bool `yaml:"truncate"`
	TruncateWordHitTolerance int  `yaml:"truncate_word_hit_tolerance"`
	TruncateWordHitLimit     int  `yaml:"truncate_word_hit_limit"`
	TruncationScore          int  `yaml:"truncation_score"`
}

// DatasetConfig declares a dataset hydrated at startup: its source file is
// loaded, indexed and watched for changes.
type DatasetConfig struct {
	Name       string `yaml:"name"`
	SourcePath string `yaml:"source_path"`
	SchemaPath string `yaml:"schema_path"`
	// Watch reloads and rebuilds the dataset when the source file changes.
	Watch bool `yaml:"watch"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	for i := range cfg.Datasets {
		cfg.Datasets[i].SourcePath = expandPath(cfg.Datasets[i].SourcePath, configDir)
		if cfg.Datasets[i].SchemaPath != "" {
			cfg.Datasets[i].SchemaPath = expandPath(cfg.Datasets[i].SchemaPath, configDir)
		}
	}

	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
