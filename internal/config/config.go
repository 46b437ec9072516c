// Package config handles loading and parsing of the tagdeck host configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds all configuration options for the tagdeck host.
type Config struct {
	// APIBaseURL is the card database endpoint queried for lookups.
	// Default: https://db.ygoprodeck.com/api/v7
	APIBaseURL string `toml:"api_base_url"`

	// DBPath is the path to the card cache database.
	// Default: ~/.tagdeck/tagdeck.db
	DBPath string `toml:"db_path"`

	// ImageDir is the root directory for downloaded card images.
	// Default: ~/.tagdeck/images
	ImageDir string `toml:"image_dir"`

	// Addr is the address the host server listens on.
	// Default: 127.0.0.1:41114. Use 0.0.0.0:41114 to allow companion
	// apps on the local network to connect.
	Addr string `toml:"addr"`

	// Reader selects the card reader by name substring.
	// Default: first reader reported by PC/SC.
	Reader string `toml:"reader"`

	// Simulate runs the host against an in-memory reader instead of
	// PC/SC hardware. Default: false.
	Simulate bool `toml:"simulate"`

	// PollIntervalMs is the reader poll cadence in milliseconds.
	// Default: 1000.
	PollIntervalMs int `toml:"poll_interval_ms"`

	// TagCapacity is the writable tag payload in bytes.
	// Default: 144 (NTAG213).
	TagCapacity int `toml:"tag_capacity"`

	// FetchConcurrency is the number of parallel image downloads.
	// Default: 3.
	FetchConcurrency int `toml:"fetch_concurrency"`

	// FetchRatePerSec caps outgoing card database requests per second.
	// Default: 4.
	FetchRatePerSec float64 `toml:"fetch_rate_per_sec"`

	// Language is the language code written to tags when none is given.
	// Default: EN.
	Language string `toml:"language"`

	// RequireAuth requires device authentication for companion
	// connections. Default: false (auth optional for backward
	// compatibility with unpaired companions).
	RequireAuth bool `toml:"require_auth"`

	// MdnsEnabled advertises the host over mDNS so companion apps can
	// discover it. Default: false (enabled with --mdns or in the
	// generated config).
	MdnsEnabled bool `toml:"mdns_enabled"`

	// KeepAwake inhibits system sleep while the daemon runs, so reader
	// polling and companion connections survive an idle host.
	// Supported on macOS; other platforms run degraded with a warning.
	// Default: false.
	KeepAwake bool `toml:"keep_awake"`

	// LockFile is the path to the single-instance lock file.
	// Default: ~/.tagdeck/tagdeck.lock
	LockFile string `toml:"lock_file"`

	// LogFile is the path logs are written to when running with
	// --daemon. Default: ~/.tagdeck/tagdeck.log
	LogFile string `toml:"log_file"`

	// Pair starts an interactive pairing exchange on startup.
	// Default: false.
	Pair bool `toml:"pair"`

	// QR renders the pairing payload as a terminal QR code.
	// Only meaningful together with pair. Default: false.
	QR bool `toml:"qr"`
}

// Validate checks config values for internal consistency.
// Zero values mean "use default" and always pass.
func (c *Config) Validate() error {
	if c.PollIntervalMs < 0 {
		return fmt.Errorf("invalid poll_interval_ms %d: must not be negative", c.PollIntervalMs)
	}
	if c.TagCapacity < 0 {
		return fmt.Errorf("invalid tag_capacity %d: must not be negative", c.TagCapacity)
	}
	if c.FetchConcurrency < 0 {
		return fmt.Errorf("invalid fetch_concurrency %d: must not be negative", c.FetchConcurrency)
	}
	if c.FetchRatePerSec < 0 {
		return fmt.Errorf("invalid fetch_rate_per_sec %g: must not be negative", c.FetchRatePerSec)
	}
	return nil
}

// DefaultConfigPath returns the default config file location:
// ~/.tagdeck/config.toml
func DefaultConfigPath() (string, error) {
	dir, err := DefaultDataDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(dir, "config.toml"), nil
}

// WriteDefault writes a starter config file to the given path with
// network-ready defaults: listen on all interfaces, require auth, and
// advertise over mDNS. Cache paths are derived from dataDir. The parent
// directory is created if needed. An existing file is never overwritten.
func WriteDefault(path, dataDir string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := fmt.Sprintf(`# tagdeck host configuration

# Card database endpoint.
api_base_url = %q

# Card cache database.
db_path = %q

# Root directory for downloaded card images.
image_dir = %q

# Listen address. 0.0.0.0 accepts companion apps from the local network.
addr = "0.0.0.0:41114"

# Require device authentication for companion connections.
require_auth = true

# Advertise the host over mDNS for companion discovery.
mdns_enabled = true

# Keep the host awake while the daemon runs (macOS).
# keep_awake = true

# Reader poll cadence in milliseconds.
poll_interval_ms = %d

# Writable tag payload in bytes (144 for NTAG213).
tag_capacity = %d

# Parallel image downloads.
fetch_concurrency = %d

# Card database requests per second.
fetch_rate_per_sec = %.1f

# Language code written to tags.
language = %q
`,
		DefaultAPIBaseURL,
		filepath.Join(dataDir, "tagdeck.db"),
		filepath.Join(dataDir, "images"),
		DefaultPollIntervalMs,
		DefaultTagCapacity,
		DefaultFetchConcurrency,
		DefaultFetchRatePerSec,
		DefaultLanguage,
	)

	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Load reads the config file at the given path. If path is empty, the
// default location is used; a missing file at the default location is
// not an error and yields an empty Config. An explicitly given path
// must exist.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		defPath, err := DefaultConfigPath()
		if err != nil {
			return nil, err
		}
		path = defPath
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if explicit {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return &Config{}, nil
	}

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &cfg, nil
}
