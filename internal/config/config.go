// Package config loads the service configuration from a JSON file and
// can watch that file for changes at runtime.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config is the full service configuration.
type Config struct {
	// Repositories is the directory holding one git repository per
	// wiki.
	Repositories string `json:"repositories"`

	// Database is the path of the badger metadata store.
	Database string `json:"database"`

	// Domain is the default email domain used for commit authorship
	// on new wikis. It can be changed at runtime by editing the
	// config file.
	Domain string `json:"domain"`

	// ProcessTimeoutMS bounds each git subprocess invocation.
	ProcessTimeoutMS int `json:"process_timeout_ms"`

	LogLevel string `json:"log_level"` // debug, info, warn, error
}

// Defaults applied to fields the file leaves unset.
const (
	defaultRepositories   = "repositories"
	defaultDatabase       = "deepwell.db"
	defaultDomain         = "example.org"
	defaultProcessTimeout = 1800
	defaultLogLevel       = "info"
)

// Path returns the config file location: $DEEPWELL_CONFIG if set,
// otherwise config.json in the working directory.
func Path() string {
	if path := os.Getenv("DEEPWELL_CONFIG"); path != "" {
		return path
	}
	return "config.json"
}

// Load reads and validates the configuration at path. A missing file
// is an error; missing fields get defaults.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var config Config
	if err := json.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	config.applyDefaults()
	return &config, nil
}

// Default returns a configuration of nothing but defaults, for when no
// config file exists.
func Default() *Config {
	var config Config
	config.applyDefaults()
	return &config
}

func (c *Config) applyDefaults() {
	if c.Repositories == "" {
		c.Repositories = defaultRepositories
	}
	if c.Database == "" {
		c.Database = defaultDatabase
	}
	if c.Domain == "" {
		c.Domain = defaultDomain
	}
	if c.ProcessTimeoutMS <= 0 {
		c.ProcessTimeoutMS = defaultProcessTimeout
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
}

// ProcessTimeout returns the subprocess deadline as a duration.
func (c *Config) ProcessTimeout() time.Duration {
	return time.Duration(c.ProcessTimeoutMS) * time.Millisecond
}
