package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
	"gopkg.in/yaml.v3"

	"github.com/schaermu/dirmirror/internal/digest"
	"github.com/schaermu/dirmirror/internal/tree"
)

const (
	DefaultIntervalSeconds = 60
	DefaultDebounceMillis  = 500
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
)

// Config represents the complete dirmirror configuration
type Config struct {
	Paths PathsConfig `yaml:"paths"`
	Sync  SyncConfig  `yaml:"sync"`
	Watch WatchConfig `yaml:"watch"`
	Log   LogConfig   `yaml:"log"`
}

// PathsConfig configures the mirrored trees
type PathsConfig struct {
	Source   string `yaml:"source"`
	Replica  string `yaml:"replica"`
	LockFile string `yaml:"lock_file"`
}

// SyncConfig configures pass behavior
type SyncConfig struct {
	IntervalSeconds int    `yaml:"interval_seconds"`
	Hash            string `yaml:"hash"`
	QuickCheck      bool   `yaml:"quick_check"`
	CreateReplica   bool   `yaml:"create_replica"`
	DryRun          bool   `yaml:"dry_run"`
}

// WatchConfig configures change-triggered passes
type WatchConfig struct {
	Enabled        bool `yaml:"enabled"`
	DebounceMillis int  `yaml:"debounce_ms"`
}

// LogConfig configures the log sink
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Default returns a configuration with every default applied and no paths
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads, parses and validates the configuration file
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Read parses the configuration file and applies defaults without
// validating, so callers can merge command line values first.
func Read(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	return &cfg, nil
}

// expandEnv expands environment variables in all path fields
func (c *Config) expandEnv() {
	c.Paths.Source = os.ExpandEnv(c.Paths.Source)
	c.Paths.Replica = os.ExpandEnv(c.Paths.Replica)
	c.Paths.LockFile = os.ExpandEnv(c.Paths.LockFile)
	c.Log.File = os.ExpandEnv(c.Log.File)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Sync.IntervalSeconds == 0 {
		c.Sync.IntervalSeconds = DefaultIntervalSeconds
	}
	if c.Sync.Hash == "" {
		c.Sync.Hash = string(digest.Default)
	}
	if c.Watch.DebounceMillis == 0 {
		c.Watch.DebounceMillis = DefaultDebounceMillis
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Paths.Source == "" {
		return fmt.Errorf("paths.source is required")
	}
	if c.Paths.Replica == "" {
		return fmt.Errorf("paths.replica is required")
	}

	if !filepath.IsAbs(c.Paths.Source) {
		return fmt.Errorf("paths.source must be an absolute path: %s", c.Paths.Source)
	}
	if !filepath.IsAbs(c.Paths.Replica) {
		return fmt.Errorf("paths.replica must be an absolute path: %s", c.Paths.Replica)
	}
	if c.Paths.LockFile != "" && !filepath.IsAbs(c.Paths.LockFile) {
		return fmt.Errorf("paths.lock_file must be an absolute path: %s", c.Paths.LockFile)
	}

	// A replica inside the source would be mirrored into itself, and a source
	// inside the replica would be pruned
	if tree.Contains(c.Paths.Source, c.Paths.Replica) || tree.Contains(c.Paths.Replica, c.Paths.Source) {
		return fmt.Errorf("paths.source and paths.replica must not overlap: %s, %s", c.Paths.Source, c.Paths.Replica)
	}
	if c.Paths.LockFile != "" && tree.Contains(c.Paths.Replica, c.Paths.LockFile) {
		return fmt.Errorf("paths.lock_file must not live inside the replica: %s", c.Paths.LockFile)
	}

	if c.Sync.IntervalSeconds <= 0 {
		return fmt.Errorf("sync.interval_seconds must be positive: %d", c.Sync.IntervalSeconds)
	}
	if _, err := digest.Parse(c.Sync.Hash); err != nil {
		return fmt.Errorf("sync.hash: %w", err)
	}

	if c.Watch.DebounceMillis < 0 {
		return fmt.Errorf("watch.debounce_ms must not be negative: %d", c.Watch.DebounceMillis)
	}

	switch c.Log.Format {
	case "text", "json":
		// valid
	default:
		return fmt.Errorf("invalid log.format: %s (must be text or json)", c.Log.Format)
	}

	return nil
}

// Interval returns the time between scheduled passes
func (c *Config) Interval() time.Duration {
	return time.Duration(c.Sync.IntervalSeconds) * time.Second
}

// Debounce returns the quiet period before a watched change triggers a pass
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Watch.DebounceMillis) * time.Millisecond
}

// HashAlgorithm returns the parsed content hash algorithm
func (c *Config) HashAlgorithm() digest.Algorithm {
	algo, err := digest.Parse(c.Sync.Hash)
	if err != nil {
		return digest.Default
	}
	return algo
}

// LockFilePath returns the lock file guarding the replica. Unless configured,
// it lives in the temp directory, named after the replica path.
func (c *Config) LockFilePath() string {
	if c.Paths.LockFile != "" {
		return c.Paths.LockFile
	}
	name := fmt.Sprintf("dirmirror-%016x.lock", xxhash.Sum64String(filepath.Clean(c.Paths.Replica)))
	return filepath.Join(os.TempDir(), name)
}
