package jobstatus

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Topic is the channel topic job status transitions are published on.
const Topic = "cron-job-status"

// Status is a job's display state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Run describes the latest run of one job.
//
// Transitions are published with Status running, then success or error.
// The record kept by [Publisher] moves back to idle once a run finishes;
// LastOutcome keeps the result for display.
type Run struct {
	JobName      string    `json:"jobName"`
	RunID        string    `json:"runId,omitempty"`
	Status       Status    `json:"status"`
	LastOutcome  Status    `json:"lastOutcome,omitempty"`
	StartedAt    time.Time `json:"startedAt,omitzero"`
	FinishedAt   time.Time `json:"finishedAt,omitzero"`
	DurationMs   int64     `json:"durationMs,omitempty"`
	ErrorSummary string    `json:"errorSummary,omitempty"`
}

// Sink receives every transition. A *channel.Channel[Run] satisfies it.
type Sink interface {
	PublishAndUpdateLastState(ctx context.Context, run Run) error
}

const defaultPublishTimeout = 2 * time.Second

// Publisher records job run lifecycle events.
//
// It implements the scheduler's hooks. None of its methods panic or block
// the caller for longer than the publish timeout; sink failures are logged
// and otherwise ignored.
type Publisher struct {
	logger         *slog.Logger
	sink           Sink
	metrics        *Metrics
	now            func() time.Time
	publishTimeout time.Duration
	listeners      []func(Run)

	mu   sync.RWMutex
	runs map[string]Run
}

// Option configures a [Publisher].
type Option func(*Publisher)

// WithLogger sets the logger used for sink failures.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithSink publishes every transition to sink.
func WithSink(sink Sink) Option {
	return func(p *Publisher) {
		p.sink = sink
	}
}

// WithMetrics records run counts and durations.
func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		if now != nil {
			p.now = now
		}
	}
}

// WithPublishTimeout bounds each sink publish. Defaults to 2s.
func WithPublishTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.publishTimeout = d
		}
	}
}

// WithListener calls fn synchronously for every transition.
func WithListener(fn func(Run)) Option {
	return func(p *Publisher) {
		if fn != nil {
			p.listeners = append(p.listeners, fn)
		}
	}
}

// New creates a [Publisher].
func New(opts ...Option) *Publisher {
	p := &Publisher{
		logger:         slog.Default(),
		now:            time.Now,
		publishTimeout: defaultPublishTimeout,
		runs:           make(map[string]Run),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Track seeds idle records for jobs that have not run yet, so [Publisher.All]
// lists every registered job.
func (p *Publisher) Track(jobNames ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, name := range jobNames {
		if _, ok := p.runs[name]; !ok {
			p.runs[name] = Run{JobName: name, Status: StatusIdle}
		}
	}
}

// BeforeCallback marks jobName as running.
func (p *Publisher) BeforeCallback(jobName string) {
	defer p.recoverHook("before_callback", jobName)

	p.mu.Lock()
	prev := p.runs[jobName]
	run := Run{
		JobName:     jobName,
		RunID:       uuid.NewString(),
		Status:      StatusRunning,
		LastOutcome: prev.LastOutcome,
		StartedAt:   p.now(),
	}
	p.runs[jobName] = run
	p.mu.Unlock()

	p.metrics.runStarted(jobName)
	p.emit(run)
}

// OnCallbackSuccess marks the current run of jobName as successful.
func (p *Publisher) OnCallbackSuccess(jobName string, duration time.Duration) {
	defer p.recoverHook("on_callback_success", jobName)

	run := p.finish(jobName, StatusSuccess, duration, "")
	p.metrics.runSucceeded(jobName, duration)
	p.emit(run)
}

// OnCallbackError marks the current run of jobName as failed and stores a
// redacted summary of err.
func (p *Publisher) OnCallbackError(jobName string, err error) {
	defer p.recoverHook("on_callback_error", jobName)

	run := p.finish(jobName, StatusError, 0, Summarize(err))
	p.metrics.runFailed(jobName)
	p.emit(run)
}

// finish closes the current run and returns the transition to publish.
func (p *Publisher) finish(jobName string, outcome Status, duration time.Duration, summary string) Run {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	run := p.runs[jobName]
	run.JobName = jobName
	if run.StartedAt.IsZero() {
		run.StartedAt = now
	}
	if duration <= 0 {
		duration = now.Sub(run.StartedAt)
	}
	run.FinishedAt = now
	run.DurationMs = duration.Milliseconds()
	run.Status = outcome
	run.LastOutcome = outcome
	run.ErrorSummary = summary

	stored := run
	stored.Status = StatusIdle
	p.runs[jobName] = stored
	return run
}

func (p *Publisher) emit(run Run) {
	for _, fn := range p.listeners {
		fn(run)
	}

	if p.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.publishTimeout)
	defer cancel()
	if err := p.sink.PublishAndUpdateLastState(ctx, run); err != nil {
		p.logger.Warn("failed to publish job status",
			"job", run.JobName,
			"status", run.Status,
			"error", err,
		)
	}
}

func (p *Publisher) recoverHook(hook, jobName string) {
	if r := recover(); r != nil {
		p.logger.Error("job status hook panicked",
			"hook", hook,
			"job", jobName,
			"panic", r,
		)
	}
}

// Status returns the latest run of jobName.
func (p *Publisher) Status(jobName string) (Run, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	run, ok := p.runs[jobName]
	return run, ok
}

// All returns the latest run of every known job, sorted by name.
func (p *Publisher) All() []Run {
	p.mu.RLock()
	runs := make([]Run, 0, len(p.runs))
	for _, run := range p.runs {
		runs = append(runs, run)
	}
	p.mu.RUnlock()

	slices.SortFunc(runs, func(a, b Run) int {
		return cmp.Compare(a.JobName, b.JobName)
	})
	return runs
}
