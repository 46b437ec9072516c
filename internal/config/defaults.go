package config

import (
	"os"
	"path/filepath"
)

// DefaultAddr is the default listen address for the host server.
// Loopback only; set addr to 0.0.0.0:41114 to accept companion
// connections from the local network.
const DefaultAddr = "127.0.0.1:41114"

// DefaultAPIBaseURL is the card database endpoint queried for lookups.
const DefaultAPIBaseURL = "https://db.ygoprodeck.com/api/v7"

// DefaultPollIntervalMs is the reader poll cadence in milliseconds.
const DefaultPollIntervalMs = 1000

// DefaultTagCapacity is the writable tag payload in bytes (NTAG213).
const DefaultTagCapacity = 144

// DefaultFetchConcurrency is the number of parallel image downloads.
const DefaultFetchConcurrency = 3

// DefaultFetchRatePerSec caps outgoing card database requests per second.
const DefaultFetchRatePerSec = 4.0

// DefaultLanguage is the language code written to tags when none is given.
const DefaultLanguage = "EN"

// DefaultDataDir returns the tagdeck data directory: ~/.tagdeck
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".tagdeck"), nil
}

// DefaultDBPath returns the default card cache database location:
// ~/.tagdeck/tagdeck.db
func DefaultDBPath() (string, error) {
	dir, err := DefaultDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "tagdeck.db"), nil
}

// DefaultImageDir returns the default image store root:
// ~/.tagdeck/images
func DefaultImageDir() (string, error) {
	dir, err := DefaultDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "images"), nil
}

// DefaultLockPath returns the default single-instance lock file:
// ~/.tagdeck/tagdeck.lock
func DefaultLockPath() (string, error) {
	dir, err := DefaultDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "tagdeck.lock"), nil
}

// DefaultLogPath returns the default daemon log file:
// ~/.tagdeck/tagdeck.log
func DefaultLogPath() (string, error) {
	dir, err := DefaultDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "tagdeck.log"), nil
}
