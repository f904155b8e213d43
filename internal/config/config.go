// Package config handles nrdwatch configuration from a YAML file.
//
// Every knob has a default tuned for the production deployment; a missing
// config file yields a fully usable Config via Default().
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration decodes YAML scalars in time.ParseDuration syntax ("30s",
// "2m"). A bare integer is nanoseconds, matching time.Duration.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if parsed, err := time.ParseDuration(value.Value); err == nil {
		*d = Duration(parsed)
		return nil
	}
	n, err := strconv.ParseInt(value.Value, 10, 64)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q", value.Value)
	}
	*d = Duration(n)
	return nil
}

// Config is the top-level nrdwatch configuration.
type Config struct {
	// DataDir is the root for feed artifacts, per-day reports, the
	// first-seen ledger and the cumulative candidate file.
	DataDir string `yaml:"data_dir"`

	// Brand is the monitored brand token, matched case-insensitively.
	Brand string `yaml:"brand"`

	Feeds    FeedsConfig    `yaml:"feeds"`
	Patterns PatternsConfig `yaml:"patterns"`
	Lists    ListsConfig    `yaml:"lists"`
	Scanner  ScannerConfig  `yaml:"scanner"`
	Capture  CaptureConfig  `yaml:"capture"`
	Registry RegistryConfig `yaml:"registry"`
	Server   ServerConfig   `yaml:"server"`
}

// FeedsConfig controls the daily feed ingestors.
type FeedsConfig struct {
	// WindowDays is the trailing window of calendar days to fetch,
	// including today.
	WindowDays int `yaml:"window_days"`

	// WhoisDSURL is the base URL of the zip-shaped NRD feed.
	WhoisDSURL string `yaml:"whoisds_url"`

	// SANSURL is the base URL of the gzip-JSON-shaped NRD feed.
	SANSURL string `yaml:"sans_url"`

	Timeout   Duration `yaml:"timeout"`
	MaxBytes  int64    `yaml:"max_bytes"`
	UserAgent string   `yaml:"user_agent"`
}

// PatternsConfig locates the externally maintained pattern files.
type PatternsConfig struct {
	// Dir contains typos.txt, presuf.txt, TLD.txt and keywords.txt.
	Dir string `yaml:"dir"`
}

// ListsConfig locates the ignore and include whitelists.
type ListsConfig struct {
	IgnoreFile  string `yaml:"ignore_file"`
	IncludeFile string `yaml:"include_file"`
}

// ScannerConfig controls the activity scanner.
type ScannerConfig struct {
	// BatchSize is the number of concurrent probes per batch.
	BatchSize int      `yaml:"batch_size"`
	Timeout   Duration `yaml:"timeout"`
	MaxBytes  int64    `yaml:"max_bytes"`
	UserAgent string   `yaml:"user_agent"`
}

// CaptureConfig controls the screenshot capturer.
type CaptureConfig struct {
	Dir       string `yaml:"dir"`
	BatchSize int    `yaml:"batch_size"`

	// MinBytes is the validity floor: captures below it are treated as
	// blank/error pages and discarded.
	MinBytes int64 `yaml:"min_bytes"`

	NavTimeout  Duration `yaml:"nav_timeout"`
	SettleDelay Duration `yaml:"settle_delay"`
	ViewportW   int      `yaml:"viewport_width"`
	ViewportH   int      `yaml:"viewport_height"`

	// ChromePath overrides chrome binary discovery for the fast tier.
	ChromePath string `yaml:"chrome_path"`
}

// RegistryConfig locates the SQLite registry.
type RegistryConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig controls serve mode.
type ServerConfig struct {
	Addr string `yaml:"addr"`

	// Schedule is the cron expression for automatic pipeline runs.
	Schedule string `yaml:"schedule"`
}

// LoadFile reads a YAML configuration file and applies defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.Brand == "" {
		c.Brand = "absa"
	}
	if c.Feeds.WindowDays <= 0 {
		c.Feeds.WindowDays = 7
	}
	if c.Feeds.WhoisDSURL == "" {
		c.Feeds.WhoisDSURL = "https://www.whoisds.com/whois-database/newly-registered-domains"
	}
	if c.Feeds.SANSURL == "" {
		c.Feeds.SANSURL = "https://isc.sans.edu/feeds"
	}
	if c.Feeds.Timeout <= 0 {
		c.Feeds.Timeout = Duration(60 * time.Second)
	}
	if c.Feeds.MaxBytes <= 0 {
		c.Feeds.MaxBytes = 128 << 20
	}
	if c.Feeds.UserAgent == "" {
		c.Feeds.UserAgent = "nrdwatch/1.0"
	}
	if c.Patterns.Dir == "" {
		c.Patterns.Dir = "patterns"
	}
	if c.Lists.IgnoreFile == "" {
		c.Lists.IgnoreFile = "lists/ignore.txt"
	}
	if c.Lists.IncludeFile == "" {
		c.Lists.IncludeFile = "lists/include.txt"
	}
	if c.Scanner.BatchSize <= 0 {
		c.Scanner.BatchSize = 10
	}
	if c.Scanner.Timeout <= 0 {
		c.Scanner.Timeout = Duration(5 * time.Second)
	}
	if c.Scanner.MaxBytes <= 0 {
		c.Scanner.MaxBytes = 2 << 20
	}
	if c.Scanner.UserAgent == "" {
		c.Scanner.UserAgent = "nrdwatch/1.0"
	}
	if c.Capture.Dir == "" {
		c.Capture.Dir = "screenshots"
	}
	if c.Capture.BatchSize <= 0 {
		c.Capture.BatchSize = 3
	}
	if c.Capture.MinBytes <= 0 {
		c.Capture.MinBytes = 10 * 1024
	}
	if c.Capture.NavTimeout <= 0 {
		c.Capture.NavTimeout = Duration(30 * time.Second)
	}
	if c.Capture.SettleDelay <= 0 {
		c.Capture.SettleDelay = Duration(time.Second)
	}
	if c.Capture.ViewportW <= 0 {
		c.Capture.ViewportW = 1920
	}
	if c.Capture.ViewportH <= 0 {
		c.Capture.ViewportH = 1080
	}
	if c.Registry.Path == "" {
		c.Registry.Path = "db/registry.db"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8087"
	}
	if c.Server.Schedule == "" {
		c.Server.Schedule = "30 6 * * *"
	}
}

// DownloadsDir is where per-source, per-day feed artifacts are written.
func (c *Config) DownloadsDir() string { return filepath.Join(c.DataDir, "downloads") }

// ByDateDir is where per-day summaries and clean lists are written.
func (c *Config) ByDateDir() string { return filepath.Join(c.DataDir, "bydate") }

// LedgerPath is the first-seen ledger CSV.
func (c *Config) LedgerPath() string { return filepath.Join(c.DataDir, "first_seen_dates.csv") }

// CumulativePath is the append-only candidate file.
func (c *Config) CumulativePath() string {
	return filepath.Join(c.DataDir, "total_filtered_domains.txt")
}

// IndexPath is the screenshot skip-index.
func (c *Config) IndexPath() string { return filepath.Join(c.Capture.Dir, "index.json") }
