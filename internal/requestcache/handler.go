package requestcache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/jpalmerr/pulsefeed/internal/integration"
)

const defaultFetchTimeout = 30 * time.Second

// FetchFunc performs the live upstream call for one integration and input.
type FetchFunc[In, Out any] func(ctx context.Context, record integration.Record, input In) (Out, error)

// Config describes one family of cached requests.
type Config[In, Out any] struct {
	// QueryKey names the request family, e.g. "sonarrCalendar". It prefixes
	// every cache key the handler derives.
	QueryKey string

	// TTL is how long a fetched value counts as fresh.
	TTL time.Duration

	// FetchTimeout bounds one upstream call. Defaults to 30s.
	FetchTimeout time.Duration

	Fetch FetchFunc[In, Out]
}

// Handler serves cache-aside requests with single-flight coalescing.
//
// A Handler is built once per request family and shared; it holds the
// in-flight markers, so two handlers for the same family would not coalesce.
type Handler[In, Out any] struct {
	store   Store
	cfg     Config[In, Out]
	group   singleflight.Group
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// Option configures a [Handler].
type Option func(*handlerOptions)

type handlerOptions struct {
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// WithLogger sets the logger for store failures and fetch panics.
func WithLogger(logger *slog.Logger) Option {
	return func(o *handlerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records hits, misses and fetches.
func WithMetrics(m *Metrics) Option {
	return func(o *handlerOptions) {
		o.metrics = m
	}
}

// WithClock overrides time.Now for freshness checks.
func WithClock(now func() time.Time) Option {
	return func(o *handlerOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// NewHandler validates cfg and builds a handler on store.
func NewHandler[In, Out any](store Store, cfg Config[In, Out], opts ...Option) (*Handler[In, Out], error) {
	switch {
	case store == nil:
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	case cfg.QueryKey == "":
		return nil, fmt.Errorf("%w: query key is required", ErrInvalidConfig)
	case cfg.TTL <= 0:
		return nil, fmt.Errorf("%w: %s: ttl must be positive", ErrInvalidConfig, cfg.QueryKey)
	case cfg.Fetch == nil:
		return nil, fmt.Errorf("%w: %s: fetch function is required", ErrInvalidConfig, cfg.QueryKey)
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}

	o := handlerOptions{logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	return &Handler[In, Out]{
		store:   store,
		cfg:     cfg,
		logger:  o.logger,
		metrics: o.metrics,
		now:     o.now,
	}, nil
}

// For binds an integration and an input descriptor. The cache key is
// "<query>:<integration id>:<descriptor signature>".
func (h *Handler[In, Out]) For(record integration.Record, input In) (*Request[In, Out], error) {
	sig, err := Key(input)
	if err != nil {
		return nil, fmt.Errorf("%s: cache key: %w", h.cfg.QueryKey, err)
	}
	return &Request[In, Out]{
		handler: h,
		record:  record,
		input:   input,
		key:     h.cfg.QueryKey + ":" + record.ID + ":" + sig,
	}, nil
}

// GetOptions controls one [Request.Get] call.
type GetOptions struct {
	// ForceUpdate skips the fresh-entry check. Scheduled jobs set it to
	// refresh on their own cadence; on-demand readers leave it unset.
	ForceUpdate bool
}

// Request is a handler bound to one integration and descriptor.
type Request[In, Out any] struct {
	handler *Handler[In, Out]
	record  integration.Record
	input   In
	key     string
}

// Key returns the cache key of the request.
func (r *Request[In, Out]) Key() string {
	return r.key
}

// Get returns the cached value while it is fresh, unless opts.ForceUpdate is
// set. Otherwise it joins the in-flight fetch for the key or starts one. A
// successful fetch replaces the cache entry; a failed one leaves it untouched
// and returns a [*FetchError].
//
// Cancelling ctx stops the wait, not the fetch: other callers may be joined
// to it, so it runs to completion (bounded by the fetch timeout) and its
// result is still cached.
func (r *Request[In, Out]) Get(ctx context.Context, opts GetOptions) (Out, error) {
	h := r.handler
	logger := h.logger.With("query", h.cfg.QueryKey, "integration_id", r.record.ID)

	if !opts.ForceUpdate {
		if value, ok := r.cached(ctx, logger); ok {
			h.metrics.hit(h.cfg.QueryKey)
			return value, nil
		}
		h.metrics.miss(h.cfg.QueryKey)
	}

	h.metrics.wait(h.cfg.QueryKey, 1)
	defer h.metrics.wait(h.cfg.QueryKey, -1)

	results := h.group.DoChan(r.key, func() (any, error) {
		return r.fetch(context.WithoutCancel(ctx), logger)
	})

	select {
	case res := <-results:
		if res.Shared {
			h.metrics.joined(h.cfg.QueryKey)
		}
		if res.Err != nil {
			var zero Out
			return zero, res.Err
		}
		return res.Val.(Out), nil
	case <-ctx.Done():
		var zero Out
		return zero, ctx.Err()
	}
}

// cached returns the entry's value when it exists and is fresh. Store and
// decode failures count as a miss.
func (r *Request[In, Out]) cached(ctx context.Context, logger *slog.Logger) (Out, bool) {
	var value Out

	entry, ok, err := r.handler.store.Get(ctx, r.key)
	if err != nil {
		logger.Warn("cache read failed", "cache_key", r.key, "error", err)
		return value, false
	}
	if !ok || !entry.Fresh(r.handler.now()) {
		return value, false
	}
	if err := json.Unmarshal(entry.Value, &value); err != nil {
		logger.Warn("cache entry undecodable", "cache_key", r.key, "error", err)
		return value, false
	}
	return value, true
}

// fetch runs the upstream call once for every caller joined on the key.
func (r *Request[In, Out]) fetch(ctx context.Context, logger *slog.Logger) (result any, err error) {
	h := r.handler
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			correlationID := uuid.NewString()
			logger.Error("fetch panic",
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", rec),
				"stack", string(debug.Stack()),
			)
			err = r.fetchError(fmt.Errorf("fetch panic (correlation_id: %s)", correlationID))
		}
		h.metrics.fetched(h.cfg.QueryKey, time.Since(start), err)
	}()

	ctx, cancel := context.WithTimeout(ctx, h.cfg.FetchTimeout)
	defer cancel()

	value, err := h.cfg.Fetch(ctx, r.record, r.input)
	if err != nil {
		return nil, r.fetchError(err)
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return nil, r.fetchError(fmt.Errorf("encode value: %w", err))
	}
	entry := Entry{Key: r.key, Value: raw, FetchedAt: h.now(), TTL: h.cfg.TTL}
	if err := h.store.Set(ctx, entry); err != nil {
		logger.Warn("cache write failed", "cache_key", r.key, "error", err)
	}
	return value, nil
}

func (r *Request[In, Out]) fetchError(err error) *FetchError {
	return &FetchError{
		Query:           r.handler.cfg.QueryKey,
		IntegrationID:   r.record.ID,
		IntegrationName: r.record.Name,
		Err:             err,
	}
}

// Invalidate removes the cached entry, e.g. after the integration changed.
func (r *Request[In, Out]) Invalidate(ctx context.Context) error {
	return r.handler.store.Delete(ctx, r.key)
}
