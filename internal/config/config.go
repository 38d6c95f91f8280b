package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FileName is the configuration file at the root of a finman directory.
const FileName = "finman.yaml"

// Environment variables that override the file.
const (
	EnvDatabaseURL = "FINMAN_DATABASE_URL"
	EnvLogLevel    = "FINMAN_LOG_LEVEL"
	EnvOwner       = "FINMAN_OWNER"
)

// Config represents the top-level finman.yaml configuration.
type Config struct {
	Owner    OwnerConfig   `yaml:"owner"`
	Currency string        `yaml:"currency"`
	Log      LogConfig     `yaml:"log"`
	Storage  StorageConfig `yaml:"storage"`
	Import   ImportConfig  `yaml:"import"`
	Metrics  MetricsConfig `yaml:"metrics,omitempty"`
	Git      GitConfig     `yaml:"git"`
}

// OwnerConfig identifies whose data the directory holds.
type OwnerConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name,omitempty"`
}

// LogConfig sets the zerolog level (debug, info, warn, error).
type LogConfig struct {
	Level string `yaml:"level"`
}

// StorageConfig locates drafts, postings and exports. Relative paths are
// resolved against the directory holding finman.yaml.
type StorageConfig struct {
	DataDir     string `yaml:"data_dir"`
	JournalDir  string `yaml:"journal_dir"`
	DatabaseURL string `yaml:"database_url,omitempty"`
}

// ImportConfig controls statement detection and classification.
type ImportConfig struct {
	Readers      []string `yaml:"readers,omitempty"` // detection order; empty means all
	KeepOriginal bool     `yaml:"keep_original"`
	CacheTTL     string   `yaml:"cache_ttl"` // e.g. "10m"
}

// MetricsConfig enables the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// GitConfig controls commits of the journal directory after booking. It only
// applies once the journal directory is a git repository.
type GitConfig struct {
	AutoCommit  bool   `yaml:"auto_commit"`
	AuthorName  string `yaml:"author_name"`
	AuthorEmail string `yaml:"author_email"`
}

// Load reads a finman.yaml file from disk.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if _, err := cfg.CacheTTL(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes a Config to a YAML file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Default returns a Config with sensible defaults for a new directory.
func Default(ownerID string) *Config {
	return &Config{
		Owner:    OwnerConfig{ID: ownerID},
		Currency: "EUR",
		Log:      LogConfig{Level: "info"},
		Storage: StorageConfig{
			DataDir:    "data",
			JournalDir: "journal",
		},
		Import: ImportConfig{
			KeepOriginal: false,
			CacheTTL:     "10m",
		},
		Git: GitConfig{
			AutoCommit:  true,
			AuthorName:  "finman",
			AuthorEmail: "finman@localhost",
		},
	}
}

// LoadEnv loads <dir>/.env into the process environment, if present.
// Variables already set are not overwritten.
func LoadEnv(dir string) error {
	err := godotenv.Load(filepath.Join(dir, ".env"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	return nil
}

// ApplyEnv overrides file settings with FINMAN_* environment variables.
func (c *Config) ApplyEnv() {
	if v, ok := os.LookupEnv(EnvDatabaseURL); ok {
		c.Storage.DatabaseURL = v
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := os.LookupEnv(EnvOwner); ok && v != "" {
		c.Owner.ID = v
	}
}

// CacheTTL parses Import.CacheTTL. An empty value yields zero, meaning the
// caller's default.
func (c *Config) CacheTTL() (time.Duration, error) {
	s := strings.TrimSpace(c.Import.CacheTTL)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parsing cache_ttl %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("cache_ttl %q must not be negative", s)
	}
	return d, nil
}

// DataPath returns the data directory, resolved against base.
func (c *Config) DataPath(base string) string {
	return resolve(base, c.Storage.DataDir, "data")
}

// JournalPath returns the journal export directory, resolved against base.
func (c *Config) JournalPath(base string) string {
	return resolve(base, c.Storage.JournalDir, "journal")
}

func resolve(base, p, fallback string) string {
	if p == "" {
		p = fallback
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
