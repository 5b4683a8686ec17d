// Package config provides YAML configuration parsing for PulseFeed.
//
// This package enables running PulseFeed as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
//
// Example configuration:
//
//	port: 8080
//	encryption_key: ${SECRET_ENCRYPTION_KEY}
//
//	store:
//	  backend: redis
//	  redis_url: ${REDIS_URL:-redis://localhost:6379/0}
//
//	integrations:
//	  - id: pihole-main
//	    kind: piHole
//	    name: Pi-hole
//	    url: http://pi.hole
//	    secrets:
//	      - kind: apiKey
//	        value: <output of "pulsefeed encrypt">
//
//	jobs:
//	  downloads: { schedule: every-10-seconds }
//	  calendar: { prevent_manual_execution: true }
//
//	ping_urls: [https://example.com]
package config

import (
	"fmt"
	"maps"
	"net/url"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jpalmerr/pulsefeed"
	"github.com/jpalmerr/pulsefeed/internal/integration"
	"github.com/jpalmerr/pulsefeed/internal/poller"
	"github.com/jpalmerr/pulsefeed/internal/scheduler"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

const (
	defaultPort = 8080

	minPingTimeout = 1 * time.Second
	maxPingTimeout = 1 * time.Minute
)

var knownJobs = []string{
	pulsefeed.JobDNSHole,
	pulsefeed.JobDownloads,
	pulsefeed.JobCalendar,
	pulsefeed.JobPing,
}

// Config is the root configuration structure for PulseFeed.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Title is the dashboard title. Defaults to "PulseFeed" if not set.
	Title string `yaml:"title"`

	// Port is the HTTP server port. Defaults to 8080.
	Port int `yaml:"port"`

	// EncryptionKey decrypts integration secrets. Required when any
	// integration has secrets. Usually supplied as ${SECRET_ENCRYPTION_KEY}.
	EncryptionKey string `yaml:"encryption_key"`

	// Store selects where channels, lists and the request cache live.
	Store StoreConfig `yaml:"store"`

	// Integrations are the upstream services jobs poll.
	Integrations []IntegrationConfig `yaml:"integrations"`

	// Jobs overrides the built-in job registrations, keyed by job name.
	Jobs map[string]JobConfig `yaml:"jobs"`

	// PingURLs are probed by the ping job on every tick.
	PingURLs []string `yaml:"ping_urls"`

	// PingTimeout bounds each probe. Must be between 1s and 1m if set.
	PingTimeout Duration `yaml:"ping_timeout"`

	// MaxConcurrency bounds per-job parallelism. Defaults to 8.
	MaxConcurrency int `yaml:"max_concurrency"`
}

// StoreConfig selects the storage backend.
type StoreConfig struct {
	// Backend is "memory" (default) or "redis".
	Backend string `yaml:"backend"`

	// RedisURL is required for the redis backend.
	// Supports environment variable substitution.
	RedisURL string `yaml:"redis_url"`

	// CacheCapacity bounds the in-memory request cache.
	CacheCapacity int `yaml:"cache_capacity"`
}

// IntegrationConfig defines one upstream service.
type IntegrationConfig struct {
	// ID addresses the integration's channels. Must be unique.
	ID string `yaml:"id"`

	// Kind selects the adapter: piHole, sabNzbd or sonarr.
	Kind string `yaml:"kind"`

	// Name is the display name. Defaults to ID.
	Name string `yaml:"name"`

	// URL is the base URL of the service.
	// Supports environment variable substitution.
	URL string `yaml:"url"`

	// Secrets are encrypted credentials.
	Secrets []SecretConfig `yaml:"secrets"`
}

// SecretConfig is one encrypted credential.
type SecretConfig struct {
	// Kind is apiKey, username or password.
	Kind string `yaml:"kind"`

	// Value is the ciphertext produced by the encrypt command.
	// Supports environment variable substitution.
	Value string `yaml:"value"`
}

// JobConfig overrides one built-in job. Omitted fields keep the default.
type JobConfig struct {
	// Schedule is a five-field cron pattern or a shorthand such as
	// "every-minute", "every-5-seconds" or "never".
	Schedule string `yaml:"schedule"`

	RunOnStart             *bool `yaml:"run_on_start"`
	PreventManualExecution *bool `yaml:"prevent_manual_execution"`
	Disabled               bool  `yaml:"disabled"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		// submatches[2] is ":-..." (non-empty if default syntax was used)
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Environment variables in the file are expanded before parsing.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in encryption_key, store.redis_url,
// integration URLs, secret values and ping_urls. Defaults are applied for
// Port (8080) and Store.Backend (memory).
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = BackendMemory
	}

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.MaxConcurrency < 0 {
		return fmt.Errorf("max_concurrency cannot be negative, got %d", c.MaxConcurrency)
	}

	key, err := expandEnvVars(c.EncryptionKey)
	if err != nil {
		return fmt.Errorf("encryption_key: %w", err)
	}
	c.EncryptionKey = key

	if err := c.Store.expandAndValidate(); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Integrations))
	for i := range c.Integrations {
		ic := &c.Integrations[i]

		if ic.ID == "" {
			return fmt.Errorf("integrations[%d]: id is required", i)
		}
		if seen[ic.ID] {
			return fmt.Errorf("integrations[%d] (%s): duplicate id", i, ic.ID)
		}
		seen[ic.ID] = true

		if _, err := integration.ParseKind(ic.Kind); err != nil {
			return fmt.Errorf("integrations[%d] (%s): %w", i, ic.ID, err)
		}

		if ic.URL == "" {
			return fmt.Errorf("integrations[%d] (%s): url is required", i, ic.ID)
		}
		expanded, err := expandEnvVars(ic.URL)
		if err != nil {
			return fmt.Errorf("integrations[%d] (%s): url: %w", i, ic.ID, err)
		}
		ic.URL = expanded

		parsedURL, err := url.Parse(ic.URL)
		if err != nil {
			return fmt.Errorf("integrations[%d] (%s): invalid url: %w", i, ic.ID, err)
		}
		if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
			return fmt.Errorf("integrations[%d] (%s): url scheme must be http or https, got %q", i, ic.ID, parsedURL.Scheme)
		}

		kinds := make(map[string]bool, len(ic.Secrets))
		for j := range ic.Secrets {
			sc := &ic.Secrets[j]
			switch sc.Kind {
			case pulsefeed.SecretAPIKey, pulsefeed.SecretUsername, pulsefeed.SecretPassword:
			default:
				return fmt.Errorf("integrations[%d] (%s): secrets[%d]: kind must be apiKey, username, or password", i, ic.ID, j)
			}
			if kinds[sc.Kind] {
				return fmt.Errorf("integrations[%d] (%s): secrets[%d]: duplicate kind %q", i, ic.ID, j, sc.Kind)
			}
			kinds[sc.Kind] = true

			value, err := expandEnvVars(sc.Value)
			if err != nil {
				return fmt.Errorf("integrations[%d] (%s): secrets[%d]: %w", i, ic.ID, j, err)
			}
			if value == "" {
				return fmt.Errorf("integrations[%d] (%s): secrets[%d]: value is required", i, ic.ID, j)
			}
			sc.Value = value
		}

		if len(ic.Secrets) > 0 && c.EncryptionKey == "" {
			return fmt.Errorf("integrations[%d] (%s): encryption_key is required when secrets are configured", i, ic.ID)
		}
	}

	// sorted so the first error is deterministic
	for _, name := range slices.Sorted(maps.Keys(c.Jobs)) {
		if !slices.Contains(knownJobs, name) {
			return fmt.Errorf("jobs[%s]: unknown job (expected one of %s)", name, strings.Join(knownJobs, ", "))
		}
		if sched := c.Jobs[name].Schedule; sched != "" {
			if _, err := scheduler.ParseSchedule(sched); err != nil {
				return fmt.Errorf("jobs[%s]: %w", name, err)
			}
		}
	}

	for i, raw := range c.PingURLs {
		expanded, err := expandEnvVars(raw)
		if err != nil {
			return fmt.Errorf("ping_urls[%d]: %w", i, err)
		}
		if err := poller.ValidateURL(expanded); err != nil {
			return fmt.Errorf("ping_urls[%d]: %w", i, err)
		}
		c.PingURLs[i] = expanded
	}

	if c.PingTimeout != 0 {
		if c.PingTimeout.Duration() < minPingTimeout {
			return fmt.Errorf("ping_timeout must be at least %s, got %s", minPingTimeout, c.PingTimeout.Duration())
		}
		if c.PingTimeout.Duration() > maxPingTimeout {
			return fmt.Errorf("ping_timeout must not exceed %s, got %s", maxPingTimeout, c.PingTimeout.Duration())
		}
	}

	return nil
}

func (s *StoreConfig) expandAndValidate() error {
	if s.CacheCapacity < 0 {
		return fmt.Errorf("store.cache_capacity cannot be negative, got %d", s.CacheCapacity)
	}

	switch s.Backend {
	case BackendMemory:
		return nil
	case BackendRedis:
	default:
		return fmt.Errorf("store.backend must be %q or %q, got %q", BackendMemory, BackendRedis, s.Backend)
	}

	if s.RedisURL == "" {
		return fmt.Errorf("store.redis_url is required for the redis backend")
	}
	expanded, err := expandEnvVars(s.RedisURL)
	if err != nil {
		return fmt.Errorf("store.redis_url: %w", err)
	}
	s.RedisURL = expanded

	u, err := url.Parse(s.RedisURL)
	if err != nil {
		return fmt.Errorf("store.redis_url: %w", err)
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return fmt.Errorf("store.redis_url scheme must be redis or rediss, got %q", u.Scheme)
	}
	return nil
}
