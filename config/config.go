// Package config holds the datastore configuration: a plain struct with
// defaults, a validator and TOML file loading.
package config

import (
	"github.com/BurntSushi/toml"
	"github.com/pingcap/errors"
)

type Config struct {
	// DataDir is where the commit log lives. Must exist and be writable.
	DataDir  string `toml:"data-dir"`
	LogLevel string `toml:"log-level"`

	// BlobThreshold externalizes String/Bytes payloads of at least this many
	// bytes to the blob store. Zero disables externalization.
	BlobThreshold int `toml:"blob-threshold"`

	Log Engine `toml:"log"` // Commit log engine options.
}

// Engine tunes the Badger store backing the commit log.
type Engine struct {
	ValueThreshold   int   `toml:"value-threshold"`     // If value size >= this threshold, only store value offsets in tree.
	MaxTableSize     int64 `toml:"max-table-size"`      // Each table is at most this size.
	NumMemTables     int   `toml:"num-mem-tables"`      // Maximum number of tables to keep in memory, before stalling.
	NumL0Tables      int   `toml:"num-L0-tables"`       // Maximum number of Level 0 tables before we start compacting.
	NumL0TablesStall int   `toml:"num-L0-tables-stall"` // Maximum number of Level 0 tables before stalling.
	VlogFileSize     int64 `toml:"vlog-file-size"`      // Value log file size.
	// Sync every append to disk. Turning this off trades durability of the
	// newest transactions for throughput.
	SyncWrite     bool `toml:"sync-write"`
	NumCompactors int  `toml:"num-compactors"`
}

const MB = 1024 * 1024

// NewDefaultConfig returns the configuration used when no file is given.
func NewDefaultConfig() *Config {
	return &Config{
		DataDir:       "/tmp/kepler",
		LogLevel:      "info",
		BlobThreshold: 256,
		Log: Engine{
			ValueThreshold:   256,
			MaxTableSize:     64 * MB,
			NumMemTables:     3,
			NumL0Tables:      4,
			NumL0TablesStall: 8,
			VlogFileSize:     256 * MB,
			SyncWrite:        true,
			NumCompactors:    1,
		},
	}
}

func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data-dir must be set")
	}
	if c.BlobThreshold < 0 {
		return errors.New("blob-threshold must be >= 0")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error", "fatal":
	default:
		return errors.Errorf("unknown log-level %q", c.LogLevel)
	}
	if c.Log.NumMemTables <= 0 || c.Log.NumCompactors <= 0 {
		return errors.New("log engine worker counts must be positive")
	}
	return nil
}

// FromTOML loads path over the defaults.
func FromTOML(path string) (*Config, error) {
	c := NewDefaultConfig()
	if _, err := toml.DecodeFile(path, c); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
