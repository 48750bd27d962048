// Package config loads the watcher configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the watcher configuration.
type Config struct {
	Client Client `yaml:"client"`
	Store  *Store `yaml:"store,omitempty"`
}

// Client configures the realtime connection.
type Client struct {
	Debug   bool `yaml:"debug"`
	Sandbox bool `yaml:"sandbox"`

	// Endpoint overrides the production/sandbox URL selection.
	Endpoint string `yaml:"endpoint,omitempty"`

	// BackoffSeconds is the fixed delay between reconnect attempts.
	// Zero uses the client default.
	BackoffSeconds float64 `yaml:"backoff_seconds,omitempty"`

	// MaxAttempts bounds reconnect attempts. Zero uses the client
	// default; a negative value means never give up.
	MaxAttempts int `yaml:"max_attempts,omitempty"`

	// CacheSize bounds the in-memory message cache.
	CacheSize int `yaml:"cache_size,omitempty"`
}

// Store configures the optional Firestore event archive.
type Store struct {
	ProjectID   string `yaml:"project_id"`
	Database    string `yaml:"database,omitempty"`
	Credentials string `yaml:"credentials,omitempty"`
	Collection  string `yaml:"collection,omitempty"`
}

// Backoff returns the configured backoff as a duration.
func (c Client) Backoff() time.Duration {
	return time.Duration(c.BackoffSeconds * float64(time.Second))
}

// Load reads configuration from the specified YAML file.
// Environment variables override file values:
//   - P2PWS_ENDPOINT overrides client.endpoint
//   - P2PWS_SANDBOX=true overrides client.sandbox
//   - P2PWS_DEBUG=true overrides client.debug
//   - P2PWS_FIRESTORE_PROJECT overrides store.project_id
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// LoadFromEnv builds a configuration from environment variables alone,
// for running without a config file.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if endpoint := os.Getenv("P2PWS_ENDPOINT"); endpoint != "" {
		c.Client.Endpoint = endpoint
	}
	if err := applyBoolEnv("P2PWS_SANDBOX", &c.Client.Sandbox); err != nil {
		return err
	}
	if err := applyBoolEnv("P2PWS_DEBUG", &c.Client.Debug); err != nil {
		return err
	}
	if project := os.Getenv("P2PWS_FIRESTORE_PROJECT"); project != "" {
		if c.Store == nil {
			c.Store = &Store{}
		}
		c.Store.ProjectID = project
	}
	return nil
}

// applyBoolEnv overrides dst with the named variable when it is set.
// A value ParseBool rejects is a configuration error, not a false.
func applyBoolEnv(name string, dst *bool) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s value %q: %w", name, v, err)
	}
	*dst = b
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Client.BackoffSeconds < 0 {
		return fmt.Errorf("client.backoff_seconds must not be negative")
	}
	if c.Client.CacheSize < 0 {
		return fmt.Errorf("client.cache_size must not be negative")
	}
	if c.Store != nil && c.Store.ProjectID == "" {
		return fmt.Errorf("store.project_id is required when store is configured")
	}
	return nil
}
