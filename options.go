package pulsefeed

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/jpalmerr/pulsefeed/internal/scheduler"
)

// pfConfig holds mutable state during PulseFeed construction.
type pfConfig struct {
	title           string
	port            int
	maxConcurrency  int
	cacheCapacity   int
	logger          *slog.Logger
	integrations    []Integration
	encryptionKey   string
	redisURL        string
	redisClient     redis.UniversalClient
	jobs            map[string]JobOverride
	pingURLs        []string
	pingTimeout     time.Duration
	registry        *prometheus.Registry
	statusCallbacks []func(JobRun)
}

// JobOverride adjusts how one of the built-in jobs is registered.
//
// Zero fields keep the job's default. Schedule accepts a five-field cron
// pattern or a shorthand such as "every-minute", "every-5-seconds" or
// "never".
type JobOverride struct {
	Schedule               string
	RunOnStart             *bool
	PreventManualExecution *bool
	Disabled               bool
}

// Option is a function that configures a [PulseFeed] instance during construction.
//
// Option implements the functional options pattern, allowing optional
// configuration to be passed to [New] in a type-safe, extensible way.
// Options return an error if validation fails.
type Option func(*pfConfig) error

// WithIntegration adds a single [Integration] to the set jobs iterate over.
//
// Can be called multiple times. Integration IDs must be unique.
func WithIntegration(i Integration) Option {
	return func(cfg *pfConfig) error {
		cfg.integrations = append(cfg.integrations, i.clone())
		return nil
	}
}

// WithIntegrations adds multiple [Integration] values.
//
// Equivalent to calling [WithIntegration] for each.
func WithIntegrations(integrations ...Integration) Option {
	return func(cfg *pfConfig) error {
		for _, i := range integrations {
			cfg.integrations = append(cfg.integrations, i.clone())
		}
		return nil
	}
}

// WithEncryptionKey sets the key used to decrypt integration secrets.
//
// The key is either 64 hex characters or a passphrase. It is required when
// any integration carries secrets.
//
// Returns an error if the key is empty.
func WithEncryptionKey(key string) Option {
	return func(cfg *pfConfig) error {
		if key == "" {
			return errors.New("encryption key cannot be empty")
		}
		cfg.encryptionKey = key
		return nil
	}
}

// WithRedisURL stores channels, lists and the request cache in Redis.
//
// The URL uses the redis:// or rediss:// scheme, for example
// redis://localhost:6379/0. The client is owned by the PulseFeed and closed
// when [PulseFeed.Start] returns. Without a Redis option, everything is kept
// in process memory.
//
// Returns an error if the URL cannot be parsed.
func WithRedisURL(rawURL string) Option {
	return func(cfg *pfConfig) error {
		if _, err := redis.ParseURL(rawURL); err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}
		cfg.redisURL = rawURL
		return nil
	}
}

// WithRedisClient is like [WithRedisURL] for a client the caller owns.
// The client is not closed by the PulseFeed.
//
// Returns an error if the client is nil.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(cfg *pfConfig) error {
		if client == nil {
			return errors.New("redis client cannot be nil")
		}
		cfg.redisClient = client
		return nil
	}
}

// WithCacheCapacity bounds the number of entries of the in-memory request
// cache. Ignored when a Redis option is set. Defaults to 1024.
//
// Returns an error if the value is zero or negative.
func WithCacheCapacity(n int) Option {
	return func(cfg *pfConfig) error {
		if n <= 0 {
			return errors.New("cache capacity must be positive")
		}
		cfg.cacheCapacity = n
		return nil
	}
}

// WithJob overrides the registration of the built-in job called name
// ("dnsHole", "downloads", "calendar" or "ping").
//
// Example:
//
//	pf, err := pulsefeed.New(
//	    pulsefeed.WithJob("downloads", pulsefeed.JobOverride{Schedule: "every-10-seconds"}),
//	    pulsefeed.WithJob("calendar", pulsefeed.JobOverride{Disabled: true}),
//	)
//
// Returns an error if the schedule does not parse. Unknown job names are
// reported by [New].
func WithJob(name string, override JobOverride) Option {
	return func(cfg *pfConfig) error {
		if name == "" {
			return errors.New("job name cannot be empty")
		}
		if override.Schedule != "" {
			if _, err := scheduler.ParseSchedule(override.Schedule); err != nil {
				return fmt.Errorf("job %q: %w", name, err)
			}
		}
		if cfg.jobs == nil {
			cfg.jobs = make(map[string]JobOverride)
		}
		cfg.jobs[name] = override
		return nil
	}
}

// WithPingURLs adds URLs the ping job probes on every tick, in addition to
// the ones widgets register at runtime.
func WithPingURLs(urls ...string) Option {
	return func(cfg *pfConfig) error {
		cfg.pingURLs = append(cfg.pingURLs, urls...)
		return nil
	}
}

// WithPingTimeout bounds each URL probe of the ping job. Defaults to 10s.
//
// Returns an error if the duration is zero or negative.
func WithPingTimeout(d time.Duration) Option {
	return func(cfg *pfConfig) error {
		if d <= 0 {
			return errors.New("ping timeout must be positive")
		}
		cfg.pingTimeout = d
		return nil
	}
}

// WithPort sets the HTTP port for the API and dashboard server.
//
// Defaults to 8080 if not specified.
//
// Returns an error if the port is outside the valid range (1-65535).
func WithPort(port int) Option {
	return func(cfg *pfConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithMaxConcurrency bounds how many integrations or URLs one job run
// processes at the same time. Defaults to 8 if not specified.
//
// Returns an error if the value is zero or negative.
func WithMaxConcurrency(n int) Option {
	return func(cfg *pfConfig) error {
		if n <= 0 {
			return errors.New("max concurrency must be positive")
		}
		cfg.maxConcurrency = n
		return nil
	}
}

// WithLogger sets a custom [slog.Logger] for the PulseFeed instance.
//
// If not specified, [slog.Default] is used.
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *pfConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithMetricsRegistry registers the PulseFeed's metrics on reg and serves reg
// at GET /metrics. A registry must not be shared by two PulseFeed instances.
//
// If not specified, a fresh registry with the Go runtime and process
// collectors is used.
//
// Returns an error if reg is nil.
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(cfg *pfConfig) error {
		if reg == nil {
			return errors.New("metrics registry cannot be nil")
		}
		cfg.registry = reg
		return nil
	}
}

// WithStatusCallback registers a function to be called on every job status
// transition.
//
// Multiple callbacks may be registered by calling WithStatusCallback multiple
// times; they execute in registration order.
//
// IMPORTANT: Callbacks must be non-blocking. They run synchronously on the
// job's goroutine. Panics within callbacks are recovered and logged.
//
// Example:
//
//	pf, err := pulsefeed.New(
//	    pulsefeed.WithStatusCallback(func(run pulsefeed.JobRun) {
//	        if run.Status == pulsefeed.JobError {
//	            log.Printf("ALERT: job %s failed: %s", run.JobName, run.ErrorSummary)
//	        }
//	    }),
//	)
//
// Nil callbacks are silently ignored.
func WithStatusCallback(cb func(JobRun)) Option {
	return func(cfg *pfConfig) error {
		if cb == nil {
			return nil
		}
		cfg.statusCallbacks = append(cfg.statusCallbacks, cb)
		return nil
	}
}

// WithTitle sets the dashboard title displayed in the browser tab and header.
//
// If not specified, defaults to "PulseFeed".
func WithTitle(title string) Option {
	return func(cfg *pfConfig) error {
		cfg.title = title
		return nil
	}
}
