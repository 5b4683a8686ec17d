package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/jpalmerr/pulsefeed/internal/channel"
	"github.com/jpalmerr/pulsefeed/internal/integration"
	"github.com/jpalmerr/pulsefeed/internal/poller"
	"github.com/jpalmerr/pulsefeed/internal/requestcache"
)

// Job names.
const (
	JobDNSHole   = "dnsHole"
	JobDownloads = "downloads"
	JobCalendar  = "calendar"
	JobPing      = "ping"
)

// Widget kinds used in channel topics.
const (
	WidgetDNSHole   = "dnsHoleSummary"
	WidgetDownloads = "downloads"
	WidgetCalendar  = "calendar"
)

const (
	// PingListName is the list widgets add their URLs to.
	PingListName = "pingUrl"

	// DefaultMaxConcurrency bounds per-item work inside one job run.
	DefaultMaxConcurrency = 8

	// CalendarTTL is how long a calendar response is served from cache.
	CalendarTTL = time.Hour

	calendarQueryKey   = "calendarEvents"
	calendarWindowDays = 7
	calendarDateLayout = "2006-01-02"
)

var (
	ErrIntegrationNotFound = errors.New("integration not found")
	ErrUnknownJob          = errors.New("unknown job")
)

// PingTopic is the channel topic carrying probe results for url.
func PingTopic(url string) string {
	return "ping:" + url
}

// Prober checks the reachability of one URL.
type Prober interface {
	Probe(ctx context.Context, url string) poller.Result
}

// Deps are the collaborators the reference jobs run against.
type Deps struct {
	Integrations integration.Source
	Registry     *integration.Registry
	Decrypter    integration.Decrypter
	Broker       channel.Broker
	CacheStore   requestcache.Store

	// Prober defaults to a [poller.Prober] owned by the pipeline, bounded
	// by ProbeTimeout when set.
	Prober       Prober
	ProbeTimeout time.Duration

	// PingURLs are probed on every tick in addition to registered ones.
	PingURLs []string

	MaxConcurrency int
	Logger         *slog.Logger
	CacheMetrics   *requestcache.Metrics

	// Now overrides time.Now for calendar ranges and cache freshness.
	Now func() time.Time
}

// CalendarRange is the cache descriptor of a calendar request. Dates are
// whole days so every tick of one day shares a cache entry.
type CalendarRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Pipeline holds the reference jobs and the handlers they share.
type Pipeline struct {
	deps        Deps
	logger      *slog.Logger
	now         func() time.Time
	limit       int
	prober      Prober
	ownedProber *poller.Prober
	pingURLs    *channel.List[string]
	calendar    *requestcache.Handler[CalendarRange, []integration.CalendarEvent]
}

// NewPipeline validates deps and builds the shared cached handlers.
func NewPipeline(deps Deps) (*Pipeline, error) {
	switch {
	case deps.Integrations == nil:
		return nil, errors.New("jobs: integration source is required")
	case deps.Registry == nil:
		return nil, errors.New("jobs: integration registry is required")
	case deps.Decrypter == nil:
		return nil, errors.New("jobs: secret decrypter is required")
	case deps.Broker == nil:
		return nil, errors.New("jobs: broker is required")
	case deps.CacheStore == nil:
		return nil, errors.New("jobs: cache store is required")
	}

	for _, u := range deps.PingURLs {
		if err := poller.ValidateURL(u); err != nil {
			return nil, fmt.Errorf("jobs: ping url %q: %w", u, err)
		}
	}

	p := &Pipeline{
		deps:     deps,
		logger:   deps.Logger,
		now:      deps.Now,
		limit:    deps.MaxConcurrency,
		prober:   deps.Prober,
		pingURLs: channel.NewList[string](deps.Broker, PingListName),
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.limit <= 0 {
		p.limit = DefaultMaxConcurrency
	}
	if p.prober == nil {
		p.ownedProber = poller.NewProber(
			poller.WithLogger(p.logger),
			poller.WithTimeout(deps.ProbeTimeout),
		)
		p.prober = p.ownedProber
	}

	calendar, err := requestcache.NewHandler(deps.CacheStore, requestcache.Config[CalendarRange, []integration.CalendarEvent]{
		QueryKey: calendarQueryKey,
		TTL:      CalendarTTL,
		Fetch:    p.fetchCalendar,
	},
		requestcache.WithLogger(p.logger),
		requestcache.WithMetrics(deps.CacheMetrics),
		requestcache.WithClock(p.now),
	)
	if err != nil {
		return nil, fmt.Errorf("jobs: %w", err)
	}
	p.calendar = calendar

	return p, nil
}

// Close releases the pipeline's own prober, if it created one.
func (p *Pipeline) Close() {
	if p.ownedProber != nil {
		p.ownedProber.Close()
	}
}

// forEachIntegration runs fn for every integration providing capability.
// Failures are logged with the integration's identity; the run fails only
// when every integration failed.
func (p *Pipeline) forEachIntegration(ctx context.Context, job string, capability integration.Capability, fn func(context.Context, integration.Record) error) error {
	records, err := p.deps.Integrations.Integrations(ctx)
	if err != nil {
		return fmt.Errorf("list integrations: %w", err)
	}
	records = p.deps.Registry.Filter(records, capability)

	failures := Settle(ctx, p.limit, records, fn)
	for _, f := range failures {
		attrs := []any{
			"job", job,
			"integration_id", f.Item.ID,
			"integration_kind", string(f.Item.Kind),
			"integration_name", f.Item.Name,
			"error", f.Err,
		}
		var panicErr *PanicError
		if errors.As(f.Err, &panicErr) {
			attrs = append(attrs, "correlation_id", panicErr.CorrelationID, "stack", string(panicErr.Stack))
		}
		p.logger.Error("integration iteration failed", attrs...)
	}

	return allFailed(len(records), failures)
}

func (p *Pipeline) runDNSHole(ctx context.Context) error {
	return p.forEachIntegration(ctx, JobDNSHole, integration.CapabilityDNSHole, func(ctx context.Context, rec integration.Record) error {
		client, err := integration.CreateAs[integration.DNSHoleSummaryProvider](ctx, p.deps.Registry, p.deps.Decrypter, rec)
		if err != nil {
			return err
		}
		summary, err := client.DNSHoleSummary(ctx)
		if err != nil {
			return fmt.Errorf("dns hole summary: %w", err)
		}
		return channel.ItemAndIntegration[integration.DNSHoleSummary](p.deps.Broker, WidgetDNSHole, rec.ID).
			PublishAndUpdateLastState(ctx, summary)
	})
}

func (p *Pipeline) runDownloads(ctx context.Context) error {
	return p.forEachIntegration(ctx, JobDownloads, integration.CapabilityDownloads, func(ctx context.Context, rec integration.Record) error {
		client, err := integration.CreateAs[integration.DownloadQueueProvider](ctx, p.deps.Registry, p.deps.Decrypter, rec)
		if err != nil {
			return err
		}
		queue, err := client.DownloadQueue(ctx)
		if err != nil {
			return fmt.Errorf("download queue: %w", err)
		}
		return channel.ItemAndIntegration[integration.DownloadQueue](p.deps.Broker, WidgetDownloads, rec.ID).
			PublishAndUpdateLastState(ctx, queue)
	})
}

// runCalendar always refreshes the cache so on-demand readers between ticks
// see the value this run published.
func (p *Pipeline) runCalendar(ctx context.Context) error {
	rng := p.calendarRange()
	return p.forEachIntegration(ctx, JobCalendar, integration.CapabilityCalendar, func(ctx context.Context, rec integration.Record) error {
		req, err := p.calendar.For(rec, rng)
		if err != nil {
			return err
		}
		events, err := req.Get(ctx, requestcache.GetOptions{ForceUpdate: true})
		if err != nil {
			return err
		}
		return channel.ItemAndIntegration[[]integration.CalendarEvent](p.deps.Broker, WidgetCalendar, rec.ID).
			PublishAndUpdateLastState(ctx, events)
	})
}

// Calendar returns the current calendar window of one integration, served
// from cache while fresh.
func (p *Pipeline) Calendar(ctx context.Context, integrationID string) ([]integration.CalendarEvent, error) {
	records, err := p.deps.Integrations.Integrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list integrations: %w", err)
	}
	rec, ok := lo.Find(records, func(r integration.Record) bool { return r.ID == integrationID })
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrIntegrationNotFound, integrationID)
	}
	if !p.deps.Registry.Supports(rec.Kind, integration.CapabilityCalendar) {
		return nil, fmt.Errorf("integration %s: %w: %s", rec.ID, integration.ErrUnsupportedCapability, integration.CapabilityCalendar)
	}

	req, err := p.calendar.For(rec, p.calendarRange())
	if err != nil {
		return nil, err
	}
	return req.Get(ctx, requestcache.GetOptions{})
}

func (p *Pipeline) calendarRange() CalendarRange {
	now := p.now().UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return CalendarRange{
		Start: start.Format(calendarDateLayout),
		End:   start.AddDate(0, 0, calendarWindowDays).Format(calendarDateLayout),
	}
}

func (p *Pipeline) fetchCalendar(ctx context.Context, rec integration.Record, rng CalendarRange) ([]integration.CalendarEvent, error) {
	start, err := time.Parse(calendarDateLayout, rng.Start)
	if err != nil {
		return nil, fmt.Errorf("calendar start: %w", err)
	}
	end, err := time.Parse(calendarDateLayout, rng.End)
	if err != nil {
		return nil, fmt.Errorf("calendar end: %w", err)
	}

	client, err := integration.CreateAs[integration.CalendarProvider](ctx, p.deps.Registry, p.deps.Decrypter, rec)
	if err != nil {
		return nil, err
	}
	return client.CalendarEvents(ctx, start, end)
}

// RegisterPingURL adds url to the list probed on the next ping tick.
func (p *Pipeline) RegisterPingURL(ctx context.Context, url string) error {
	if err := poller.ValidateURL(url); err != nil {
		return err
	}
	return p.pingURLs.Add(ctx, url)
}

// clearPingURLs drops URLs left over from a previous process.
func (p *Pipeline) clearPingURLs(ctx context.Context) error {
	return p.pingURLs.Clear(ctx)
}

// runPing probes every registered and configured URL once and publishes each
// result on its own channel. The registered URLs it read are removed
// afterwards; widgets register again for the next tick.
func (p *Pipeline) runPing(ctx context.Context) error {
	registered, err := p.pingURLs.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("read ping urls: %w", err)
	}
	urls := lo.Uniq(append(slices.Clone(p.deps.PingURLs), registered...))

	failures := Settle(ctx, p.limit, urls, func(ctx context.Context, url string) error {
		result := p.prober.Probe(ctx, url)
		return channel.Named[poller.Result](p.deps.Broker, PingTopic(url)).PublishAndUpdateLastState(ctx, result)
	})
	for _, f := range failures {
		p.logger.Error("ping publish failed", "job", JobPing, "url", f.Item, "error", f.Err)
	}

	if err := p.pingURLs.Remove(ctx, registered...); err != nil {
		return fmt.Errorf("clear ping urls: %w", err)
	}
	return allFailed(len(urls), failures)
}
