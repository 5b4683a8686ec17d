package pulsefeed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"

	"github.com/jpalmerr/pulsefeed/dashboard"
	"github.com/jpalmerr/pulsefeed/internal/channel"
	"github.com/jpalmerr/pulsefeed/internal/integration"
	"github.com/jpalmerr/pulsefeed/internal/integration/adapters"
	"github.com/jpalmerr/pulsefeed/internal/jobs"
	"github.com/jpalmerr/pulsefeed/internal/jobstatus"
	"github.com/jpalmerr/pulsefeed/internal/requestcache"
	"github.com/jpalmerr/pulsefeed/internal/scheduler"
	"github.com/jpalmerr/pulsefeed/internal/secrets"
	"github.com/jpalmerr/pulsefeed/internal/server"
)

const (
	defaultPort      = 8080
	redisPingTimeout = 5 * time.Second
)

// Built-in job names.
const (
	JobDNSHole   = jobs.JobDNSHole
	JobDownloads = jobs.JobDownloads
	JobCalendar  = jobs.JobCalendar
	JobPing      = jobs.JobPing
)

var (
	// ErrAlreadyStarted is returned by a second call to [PulseFeed.Start].
	ErrAlreadyStarted = errors.New("pulsefeed already started")

	// ErrJobNotFound is returned when triggering an unknown job.
	ErrJobNotFound = scheduler.ErrJobNotFound

	// ErrManualTriggerRejected is returned when triggering a job that
	// prevents manual execution.
	ErrManualTriggerRejected = scheduler.ErrManualTriggerRejected

	// ErrJobRunning is returned when triggering a job whose previous run
	// has not finished.
	ErrJobRunning = scheduler.ErrJobRunning

	// ErrNotStarted is returned when triggering outside [PulseFeed.Start].
	ErrNotStarted = scheduler.ErrNotStarted
)

// PulseFeed is the main orchestrator for scheduled integration polling and
// live fan-out to dashboard subscribers.
//
// PulseFeed runs the built-in jobs on their schedules, publishes each job's
// results on per-integration channels and serves the management API, the
// channel subscriptions and the dashboard over HTTP. It is created using
// [New] with functional options and started with [PulseFeed.Start].
//
// The typical lifecycle is:
//
//	pf, err := pulsefeed.New(
//	    pulsefeed.WithEncryptionKey(os.Getenv("SECRET_ENCRYPTION_KEY")),
//	    pulsefeed.WithIntegration(pulsefeed.Integration{ID: "pihole", Kind: "piHole", URL: "http://pi.hole"}),
//	)
//	if err != nil {
//	    slog.Error("failed to create pulsefeed", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	pf.Start(ctx) // blocks until context cancelled
//
// A PulseFeed runs once: resources are released when Start returns.
type PulseFeed struct {
	title        string
	port         int
	logger       *slog.Logger
	integrations []Integration
	jobNames     []string

	broker      channel.Broker
	ownsBroker  bool
	redisClient redis.UniversalClient
	publisher   *jobstatus.Publisher
	scheduler   *scheduler.Scheduler
	pipeline    *jobs.Pipeline
	server      *server.Server

	started  atomic.Bool
	released atomic.Bool
}

// New creates a new [PulseFeed] instance with the given options.
//
// Integrations are optional; without any, only the ping job has work to do.
// Other options have sensible defaults:
//   - Port: 8080
//   - Max concurrency: 8
//   - Storage: in process memory, request cache bounded to 1024 entries
//
// Returns an error if any option is invalid, if integration IDs repeat, if
// an integration carries secrets but no encryption key is configured, or if
// a job override names an unknown job.
func New(opts ...Option) (*PulseFeed, error) {
	cfg := &pfConfig{
		port:           defaultPort,
		maxConcurrency: jobs.DefaultMaxConcurrency,
		cacheCapacity:  requestcache.DefaultCapacity,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	records, err := buildRecords(cfg.integrations)
	if err != nil {
		return nil, err
	}

	decrypter, err := newDecrypter(cfg.encryptionKey, records)
	if err != nil {
		return nil, err
	}

	reg := cfg.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	pf := &PulseFeed{
		title:        cfg.title,
		port:         cfg.port,
		logger:       logger,
		integrations: cfg.integrations,
		redisClient:  cfg.redisClient,
	}

	var cacheStore requestcache.Store
	if cfg.redisURL != "" {
		// validated by WithRedisURL
		redisOpts, _ := redis.ParseURL(cfg.redisURL)
		pf.redisClient = redis.NewClient(redisOpts)
		pf.ownsBroker = true
	}
	if pf.redisClient != nil {
		// closing a RedisBroker closes its client
		pf.broker = channel.NewRedisBroker(pf.redisClient)
		cacheStore = requestcache.NewRedisStore(pf.redisClient, channel.DefaultRedisPrefix)
	} else {
		pf.broker = channel.NewMemoryBroker()
		pf.ownsBroker = true
		cacheStore = requestcache.NewMemoryStore(cfg.cacheCapacity)
	}

	callbacks := cfg.statusCallbacks
	pf.publisher = jobstatus.New(
		jobstatus.WithLogger(logger),
		jobstatus.WithSink(channel.Named[jobstatus.Run](pf.broker, jobstatus.Topic)),
		jobstatus.WithMetrics(jobstatus.NewMetrics(reg)),
		jobstatus.WithListener(func(run jobstatus.Run) {
			for _, cb := range callbacks {
				invokeCallbackSafe(cb, toJobRun(run), logger)
			}
		}),
	)

	pf.scheduler = scheduler.New(
		scheduler.WithLogger(logger),
		scheduler.WithHooks(pf.publisher),
	)

	pf.pipeline, err = jobs.NewPipeline(jobs.Deps{
		Integrations:   integration.StaticSource(records),
		Registry:       adapters.NewRegistry(),
		Decrypter:      decrypter,
		Broker:         pf.broker,
		CacheStore:     cacheStore,
		PingURLs:       lo.Uniq(cfg.pingURLs),
		ProbeTimeout:   cfg.pingTimeout,
		MaxConcurrency: cfg.maxConcurrency,
		Logger:         logger,
		CacheMetrics:   requestcache.NewMetrics(reg),
	})
	if err != nil {
		pf.release()
		return nil, err
	}

	overrides := lo.MapValues(cfg.jobs, func(o JobOverride, _ string) jobs.Override {
		return jobs.Override(o)
	})
	pf.jobNames, err = jobs.Register(pf.scheduler, pf.pipeline, overrides)
	if err != nil {
		pf.release()
		return nil, err
	}
	pf.publisher.Track(pf.jobNames...)

	pf.server = server.NewServer(server.Config{
		Port:     cfg.port,
		Title:    cfg.title,
		Assets:   dashboard.Assets,
		Broker:   pf.broker,
		Jobs:     pf.scheduler,
		Statuses: pf.publisher,
		Pipeline: pf.pipeline,
		Gatherer: reg,
		Metrics:  server.NewMetrics(reg),
		Logger:   logger,
	})

	return pf, nil
}

// buildRecords validates integrations and rejects duplicate IDs.
func buildRecords(integrations []Integration) ([]integration.Record, error) {
	records := make([]integration.Record, 0, len(integrations))
	seen := make(map[string]bool, len(integrations))
	for _, i := range integrations {
		if seen[i.ID] {
			return nil, fmt.Errorf("duplicate integration id: %q", i.ID)
		}
		seen[i.ID] = true

		rec, err := i.record()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// newDecrypter builds the secret resolver. Without a key, integrations must
// not carry secrets.
func newDecrypter(key string, records []integration.Record) (integration.Decrypter, error) {
	if key != "" {
		return secrets.NewResolver(key)
	}
	if withSecrets, ok := lo.Find(records, func(r integration.Record) bool { return len(r.Secrets) > 0 }); ok {
		return nil, fmt.Errorf("integration %q has secrets but no encryption key is configured", withSecrets.ID)
	}
	return noKey{}, nil
}

type noKey struct{}

func (noKey) Decrypt(string) (string, error) {
	return "", fmt.Errorf("%w: no encryption key configured", secrets.ErrDecryption)
}

// Start runs the scheduled jobs and serves the API and dashboard.
//
// Start is a blocking call that runs until the provided context is cancelled.
// During execution:
//
//   - The HTTP server starts on the configured port
//   - Jobs registered with run-on-start execute immediately, the rest on
//     their schedules
//   - Every job result is published to its channel and fanned out to
//     subscribers
//
// On cancellation, Start stops triggering jobs, waits for running jobs to
// return and releases the Redis client if it owns one.
//
// Returns nil on graceful shutdown. Returns an error if Redis is unreachable,
// if the HTTP server fails to start, or if Start was already called.
func (pf *PulseFeed) Start(ctx context.Context) error {
	if !pf.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer pf.release()

	pf.logger.Info("pulsefeed starting",
		"integration_count", len(pf.integrations),
		"jobs", pf.jobNames,
	)

	// check if context already cancelled
	if ctx.Err() != nil {
		return nil
	}

	if pf.redisClient != nil {
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		err := pf.redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis unreachable: %w", err)
		}
	}

	if err := pf.server.Start(ctx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	pf.logger.Info("dashboard available", "url", fmt.Sprintf("http://localhost:%d", pf.port))

	pf.scheduler.Start(ctx)

	<-ctx.Done()
	pf.scheduler.Stop()
	pf.logger.Info("pulsefeed stopped")
	return nil
}

// release frees what the PulseFeed owns. Safe to call more than once.
func (pf *PulseFeed) release() {
	if pf.scheduler != nil {
		pf.scheduler.Stop()
	}
	if pf.pipeline != nil {
		pf.pipeline.Close()
	}
	if pf.ownsBroker && pf.released.CompareAndSwap(false, true) {
		if err := pf.broker.Close(); err != nil {
			pf.logger.Warn("failed to close broker", "error", err)
		}
	}
}

// Integrations returns a copy of the configured integrations.
func (pf *PulseFeed) Integrations() []Integration {
	return lo.Map(pf.integrations, func(i Integration, _ int) Integration { return i.clone() })
}

// Jobs returns the names of the registered jobs, sorted.
func (pf *PulseFeed) Jobs() []string {
	names := slices.Clone(pf.jobNames)
	slices.Sort(names)
	return names
}

// Port returns the configured HTTP port for the API and dashboard server.
func (pf *PulseFeed) Port() int {
	return pf.port
}

// Addr returns the address the server listens on, or nil before Start.
func (pf *PulseFeed) Addr() net.Addr {
	return pf.server.Addr()
}

// Trigger runs the named job now. The run is asynchronous; follow it with
// [PulseFeed.JobStatus] or a status callback.
//
// Errors: [ErrJobNotFound], [ErrManualTriggerRejected], [ErrJobRunning] and
// [ErrNotStarted].
func (pf *PulseFeed) Trigger(ctx context.Context, name string) error {
	return pf.scheduler.Trigger(ctx, name)
}

// JobStatus returns the latest run of the named job. Jobs that have not run
// yet report [JobIdle].
func (pf *PulseFeed) JobStatus(name string) (JobRun, bool) {
	run, ok := pf.publisher.Status(name)
	if !ok {
		return JobRun{}, false
	}
	return toJobRun(run), true
}

// RegisterPingURL adds url to the set probed on the next ping tick. Results
// are published on the channel of that URL.
func (pf *PulseFeed) RegisterPingURL(ctx context.Context, url string) error {
	return pf.pipeline.RegisterPingURL(ctx, url)
}

// invokeCallbackSafe calls a status callback with panic recovery.
// Panics are logged but do not propagate.
func invokeCallbackSafe(cb func(JobRun), run JobRun, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("status callback panicked",
				"panic", r,
				"job", run.JobName,
			)
		}
	}()
	cb(run)
}
