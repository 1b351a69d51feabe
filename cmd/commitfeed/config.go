package main

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	formatText = "text"
	formatJSON = "json"

	defaultDSN      = "postgres://localhost:5432/eventstore?sslmode=disable"
	defaultInterval = 5 * time.Second
	defaultBuffer   = 64
	defaultPageSize = 512

	envDSN = "COMMITFEED_DSN"
)

var validFormats = []string{formatText, formatJSON}

var (
	errEmptyDSN        = errors.New("database dsn must not be empty")
	errInvalidFormat   = errors.New("output format must be one of text, json")
	errInvalidInterval = errors.New("polling interval must be greater than zero")
	errInvalidBuffer   = errors.New("subscription buffer must not be negative")
	errInvalidPageSize = errors.New("page size must be greater than zero")
)

// Config is the commitfeed configuration file. Command line flags override it.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Feed     FeedConfig     `yaml:"feed"`
	Output   OutputConfig   `yaml:"output"`
}

type DatabaseConfig struct {
	DSN            string `yaml:"dsn"`
	ReplicaDSN     string `yaml:"replica_dsn"`
	CommitsTable   string `yaml:"commits_table"`
	SnapshotsTable string `yaml:"snapshots_table"`
	PageSize       int    `yaml:"page_size"`
}

type FeedConfig struct {
	// Bucket restricts the feed to one bucket; empty follows all buckets.
	Bucket string `yaml:"bucket"`

	// From is the checkpoint to resume after; empty starts at the beginning.
	From     string        `yaml:"from"`
	Interval time.Duration `yaml:"interval"`
	Buffer   int           `yaml:"buffer"`
}

type OutputConfig struct {
	Format  string `yaml:"format"`
	Verbose bool   `yaml:"verbose"`
}

func defaultConfig() Config {
	return Config{
		Database: DatabaseConfig{
			DSN:            defaultDSN,
			CommitsTable:   "commits",
			SnapshotsTable: "snapshots",
			PageSize:       defaultPageSize,
		},
		Feed: FeedConfig{
			Interval: defaultInterval,
			Buffer:   defaultBuffer,
		},
		Output: OutputConfig{
			Format: formatText,
		},
	}
}

// loadConfig reads the YAML file at path over the defaults. An empty path returns the defaults.
// COMMITFEED_DSN overrides the configured DSN.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}

		if err = yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if dsn := os.Getenv(envDSN); dsn != "" {
		cfg.Database.DSN = dsn
	}

	return cfg, nil
}

// Validate checks the values a feed cannot start without.
func (c Config) Validate() error {
	if c.Database.DSN == "" {
		return errEmptyDSN
	}

	if c.Database.PageSize <= 0 {
		return errInvalidPageSize
	}

	if !slices.Contains(validFormats, c.Output.Format) {
		return fmt.Errorf("%w, got %q", errInvalidFormat, c.Output.Format)
	}

	if c.Feed.Interval <= 0 {
		return errInvalidInterval
	}

	if c.Feed.Buffer < 0 {
		return errInvalidBuffer
	}

	return nil
}
