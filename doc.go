// Package pulsefeed provides an embeddable polling pipeline that keeps
// dashboard widgets fed with data from self-hosted services.
//
// PulseFeed runs named jobs on cron schedules. Each job iterates over the
// configured integrations, asks the integration's adapter for data and
// publishes the result on a channel addressed by widget kind and integration
// ID. Channels remember their last value, so a widget that subscribes late
// still renders immediately. Job progress is broadcast on its own channel
// and served by a small management API.
//
// # Quick Start
//
// Configure integrations and start the server with graceful shutdown:
//
//	pf, _ := pulsefeed.New(
//	    pulsefeed.WithEncryptionKey(os.Getenv("SECRET_ENCRYPTION_KEY")),
//	    pulsefeed.WithIntegration(pulsefeed.Integration{
//	        ID:      "pihole",
//	        Kind:    "piHole",
//	        URL:     "http://pi.hole",
//	        Secrets: map[string]string{pulsefeed.SecretAPIKey: encryptedKey},
//	    }),
//	)
//
//	// Set up graceful shutdown on SIGINT/SIGTERM
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	pf.Start(ctx) // blocks until context is cancelled
//
// # Jobs
//
// Four jobs are registered by default:
//
//   - dnsHole: Pi-hole summaries, every minute and on start
//   - downloads: SABnzbd queues, every 5 seconds
//   - calendar: Sonarr calendars through a one-hour request cache, every hour and on start
//   - ping: reachability of registered URLs, every minute
//
// Use [WithJob] to change a schedule, disable a job or forbid manual
// triggers. A failing integration never stops the others; a run is reported
// as failed only when every integration failed.
//
// # Storage
//
// By default channels, the ping URL list and the request cache live in
// process memory. [WithRedisURL] moves them to Redis so several processes
// can share published state.
//
// # Architecture
//
// PulseFeed consists of several internal packages (under internal/):
//
//   - internal/scheduler: Named cron jobs with run-on-start and manual triggers
//   - internal/jobstatus: Job run lifecycle records and their broadcast
//   - internal/requestcache: TTL cache with single-flight fetches
//   - internal/channel: Topic pub/sub with last-state retention
//   - internal/integration: Adapter registry and vendor clients
//   - internal/secrets: Credential encryption
//   - internal/jobs: The built-in jobs
//   - internal/poller: URL probing for the ping job
//   - internal/server: HTTP API, SSE and WebSocket streams
//   - dashboard: Embedded web UI assets
//
// The internal packages are not part of the public API and may change
// without notice.
package pulsefeed
