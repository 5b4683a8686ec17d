package scheduler

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/samber/lo"
)

// Trigger identifies what caused a job execution.
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
	TriggerStart    Trigger = "start"
)

// Definition describes a named unit of recurring work.
//
// Definitions are registered once at startup with [Scheduler.Register] and
// are immutable afterwards.
type Definition struct {
	// Name uniquely identifies the job.
	Name string

	// Schedule is a five-field cron pattern or a named shorthand
	// (see [ParseSchedule]).
	Schedule string

	// RunOnStart fires the job once when the scheduler starts, in addition
	// to its schedule.
	RunOnStart bool

	// PreventManualExecution makes [Scheduler.Trigger] reject this job.
	// Scheduled triggers still fire.
	PreventManualExecution bool

	// BeforeStart is an optional setup hook run before the first execution.
	// A failing hook aborts only that run; it is retried before the next one.
	BeforeStart func(ctx context.Context) error

	// Callback performs the job's work.
	Callback func(ctx context.Context) error
}

// Hooks receive run lifecycle events. Implementations must not block for
// long and must not panic; the scheduler recovers panics regardless.
type Hooks interface {
	BeforeCallback(jobName string)
	OnCallbackSuccess(jobName string, duration time.Duration)
	OnCallbackError(jobName string, err error)
}

type noopHooks struct{}

func (noopHooks) BeforeCallback(string) {}

func (noopHooks) OnCallbackSuccess(string, time.Duration) {}

func (noopHooks) OnCallbackError(string, error) {}

// EntryInfo is a read-only view of a registered job.
type EntryInfo struct {
	Name                   string    `json:"name"`
	Schedule               string    `json:"schedule"`
	RunOnStart             bool      `json:"run_on_start"`
	PreventManualExecution bool      `json:"prevent_manual_execution"`
	Running                bool      `json:"running"`
	NextRun                time.Time `json:"next_run,omitzero"`
}

type entry struct {
	def      Definition
	schedule Schedule
	cronID   cron.EntryID

	running  atomic.Bool
	prepared bool // BeforeStart succeeded; guarded by running
}

// Scheduler triggers registered jobs on their schedules.
//
// Each firing runs the job callback in its own goroutine, so the scheduler
// never waits on a callback's I/O. A job's runs never overlap: a trigger that
// arrives while the previous run is still executing is skipped and logged.
//
// All lifecycle methods (Start, Stop) are safe for concurrent use.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
	hooks  Hooks
	now    func() time.Time

	location *time.Location

	mu      sync.Mutex
	entries map[string]*entry
	started bool
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithLogger sets the logger used for trigger and run events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHooks installs run lifecycle hooks, typically a job status publisher.
func WithHooks(h Hooks) Option {
	return func(s *Scheduler) {
		if h != nil {
			s.hooks = h
		}
	}
}

// WithLocation sets the time zone cron patterns are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithClock overrides the clock used to measure run durations.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a [Scheduler]. Jobs are added with [Scheduler.Register] before
// calling [Scheduler.Start].
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:   slog.Default(),
		hooks:    noopHooks{},
		now:      time.Now,
		location: time.Local,
		entries:  make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cron = cron.New(
		cron.WithLocation(s.location),
		cron.WithLogger(cronLogger{s.logger}),
	)
	return s
}

// Register adds a job definition.
//
// It fails with a [*ConfigurationError] (matching [ErrScheduleConfiguration])
// when the name is empty or already registered, when the schedule cannot be
// parsed, when no callback is given, or when the scheduler already started.
func (s *Scheduler) Register(def Definition) error {
	if def.Name == "" {
		return &ConfigurationError{Job: def.Name, Reason: "name is required"}
	}
	if def.Callback == nil {
		return &ConfigurationError{Job: def.Name, Reason: "callback is required"}
	}

	schedule, err := ParseSchedule(def.Schedule)
	if err != nil {
		return &ConfigurationError{Job: def.Name, Reason: "malformed schedule", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started || s.stopped {
		return &ConfigurationError{Job: def.Name, Reason: "scheduler already started"}
	}
	if _, exists := s.entries[def.Name]; exists {
		return &ConfigurationError{Job: def.Name, Reason: "duplicate job name"}
	}

	e := &entry{def: def, schedule: schedule}
	if !schedule.Never {
		e.cronID = s.cron.Schedule(schedule.timing, cron.FuncJob(func() {
			s.fire(e, TriggerSchedule)
		}))
	}
	s.entries[def.Name] = e

	s.logger.Info("job registered",
		"job", def.Name,
		"schedule", schedule.Expression,
		"run_on_start", def.RunOnStart,
	)
	return nil
}

// MustRegister is like Register but panics on error. It is meant for startup
// wiring where a configuration error is fatal anyway.
func (s *Scheduler) MustRegister(def Definition) {
	if err := s.Register(def); err != nil {
		panic(err)
	}
}

// Keys returns the names of all registered jobs in sorted order.
func (s *Scheduler) Keys() []string {
	s.mu.Lock()
	keys := lo.Keys(s.entries)
	s.mu.Unlock()

	slices.Sort(keys)
	return keys
}

// Entries returns a snapshot of all registered jobs sorted by name.
func (s *Scheduler) Entries() []EntryInfo {
	s.mu.Lock()
	entries := lo.Values(s.entries)
	s.mu.Unlock()

	infos := lo.Map(entries, func(e *entry, _ int) EntryInfo {
		info := EntryInfo{
			Name:                   e.def.Name,
			Schedule:               e.schedule.Expression,
			RunOnStart:             e.def.RunOnStart,
			PreventManualExecution: e.def.PreventManualExecution,
			Running:                e.running.Load(),
		}
		if !e.schedule.Never {
			info.NextRun = s.cron.Entry(e.cronID).Next
		}
		return info
	})
	slices.SortFunc(infos, func(a, b EntryInfo) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return infos
}

// Start begins firing scheduled triggers and runs RunOnStart jobs.
//
// Start is non-blocking. If ctx is nil, context.Background() is used; the
// context is passed to every callback and cancelling it stops the scheduler's
// runs from doing further work. Start is idempotent; calling it after Stop is
// a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	var onStart []*entry
	for _, e := range s.entries {
		if e.def.RunOnStart {
			onStart = append(onStart, e)
		}
	}
	jobCount := len(s.entries)
	s.cron.Start()
	s.mu.Unlock()

	s.logger.Info("scheduler started", "jobs", jobCount)

	for _, e := range onStart {
		s.fire(e, TriggerStart)
	}
}

// Stop halts scheduled triggers and waits for running callbacks to return.
//
// Stop is idempotent and safe to call before Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	wasStarted := s.started && !s.stopped
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	if wasStarted {
		<-s.cron.Stop().Done()
	}
	s.wg.Wait()

	if wasStarted {
		s.logger.Info("scheduler stopped")
	}
}

// Trigger runs the named job now, outside its schedule.
//
// The run starts asynchronously; Trigger returns once it has been accepted.
// Errors: [ErrJobNotFound], [ErrManualTriggerRejected] when the job was
// registered with PreventManualExecution, [ErrJobRunning] when the previous
// run has not finished, [ErrNotStarted] outside Start/Stop.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	e, exists := s.entries[name]
	running := s.started && !s.stopped
	s.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	if e.def.PreventManualExecution {
		s.logger.Warn("manual trigger rejected", "job", name)
		return fmt.Errorf("%w: %s", ErrManualTriggerRejected, name)
	}
	if !running {
		return ErrNotStarted
	}

	s.logger.Info("manual trigger requested", "job", name)
	if !s.fire(e, TriggerManual) {
		return fmt.Errorf("%w: %s", ErrJobRunning, name)
	}
	return nil
}

// fire starts a run of e unless its previous run is still executing.
// It reports whether a run was started.
func (s *Scheduler) fire(e *entry, trigger Trigger) bool {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return false
	}
	ctx := s.ctx
	s.wg.Add(1)
	s.mu.Unlock()

	if !e.running.CompareAndSwap(false, true) {
		s.wg.Done()
		s.logger.Warn("previous run still executing, skipping trigger",
			"job", e.def.Name,
			"trigger", trigger,
		)
		return false
	}

	go func() {
		defer s.wg.Done()
		defer e.running.Store(false)
		s.run(ctx, e, trigger)
	}()
	return true
}

// run executes one job run and reports its lifecycle to the hooks.
func (s *Scheduler) run(ctx context.Context, e *entry, trigger Trigger) {
	name := e.def.Name
	s.callHook("before_callback", name, func() { s.hooks.BeforeCallback(name) })

	start := s.now()
	s.logger.Debug("job run started", "job", name, "trigger", trigger)

	err := s.invoke(ctx, e)
	duration := s.now().Sub(start)

	if err != nil {
		s.logger.Error("job run failed",
			"job", name,
			"trigger", trigger,
			"duration_ms", duration.Milliseconds(),
			"error", err,
		)
		s.callHook("on_callback_error", name, func() { s.hooks.OnCallbackError(name, err) })
		return
	}

	s.logger.Debug("job run completed",
		"job", name,
		"trigger", trigger,
		"duration_ms", duration.Milliseconds(),
	)
	s.callHook("on_callback_success", name, func() { s.hooks.OnCallbackSuccess(name, duration) })
}

// invoke calls BeforeStart (until it has succeeded once) and the callback,
// converting panics into errors carrying a correlation id.
func (s *Scheduler) invoke(ctx context.Context, e *entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			s.logger.Error("job panic",
				"job", e.def.Name,
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("job panic (correlation_id: %s)", correlationID)
		}
	}()

	if e.def.BeforeStart != nil && !e.prepared {
		if err := e.def.BeforeStart(ctx); err != nil {
			return fmt.Errorf("before start: %w", err)
		}
		e.prepared = true
	}

	return e.def.Callback(ctx)
}

// callHook runs a status hook with panic recovery so that a broken status
// sink can never take down a job run.
func (s *Scheduler) callHook(hook, job string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("status hook panicked",
				"hook", hook,
				"job", job,
				"panic", r,
			)
		}
	}()
	fn()
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

// IsConfigurationError reports whether err is a registration error.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrScheduleConfiguration)
}
