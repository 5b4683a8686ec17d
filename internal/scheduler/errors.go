package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrScheduleConfiguration marks registration errors that must stop startup:
	// duplicate job names, malformed schedules, missing callbacks.
	ErrScheduleConfiguration = errors.New("schedule configuration error")

	// ErrManualTriggerRejected is returned when a job registered with
	// PreventManualExecution is triggered manually.
	ErrManualTriggerRejected = errors.New("manual trigger rejected")

	// ErrJobNotFound is returned when triggering an unknown job.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobRunning is returned when a manual trigger hits a job whose previous
	// run has not finished.
	ErrJobRunning = errors.New("job already running")

	// ErrNotStarted is returned when triggering before Start or after Stop.
	ErrNotStarted = errors.New("scheduler not running")
)

// ConfigurationError describes why a job definition was refused.
type ConfigurationError struct {
	Job    string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("%s: job %q: %s", ErrScheduleConfiguration, e.Job, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is reports ErrScheduleConfiguration as a match so callers can test the class.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrScheduleConfiguration
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}
