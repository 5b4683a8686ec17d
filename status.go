package pulsefeed

import (
	"time"

	"github.com/jpalmerr/pulsefeed/internal/jobstatus"
)

// JobStatus is the state of a job's current or latest run.
//
// A job is [JobRunning] while its callback executes and [JobIdle] otherwise.
// [JobSuccess] and [JobError] describe how a finished run ended; they appear
// on [JobRun.Status] for the transition that closes a run and on
// [JobRun.LastOutcome] afterwards.
type JobStatus string

const (
	// JobIdle indicates the job is waiting for its next trigger.
	JobIdle JobStatus = "idle"

	// JobRunning indicates the job's callback is executing.
	JobRunning JobStatus = "running"

	// JobSuccess indicates the run finished without error.
	JobSuccess JobStatus = "success"

	// JobError indicates the run returned an error or panicked.
	JobError JobStatus = "error"
)

// String returns the string representation of the status.
// This implements the fmt.Stringer interface.
func (s JobStatus) String() string {
	return string(s)
}

// JobRun describes one status transition of a job.
//
// The same record is broadcast on the job status channel and served by
// GET /api/jobs. ErrorSummary never contains credentials; it is a redacted
// form of the error the callback returned.
type JobRun struct {
	// JobName is the registered name of the job.
	JobName string

	// RunID identifies the run across its transitions.
	RunID string

	// Status is the state this transition moved the job into.
	Status JobStatus

	// LastOutcome is the result of the most recent finished run, if any.
	LastOutcome JobStatus

	// StartedAt is when the run began.
	StartedAt time.Time

	// FinishedAt is when the run ended. Zero while running.
	FinishedAt time.Time

	// Duration is how long the run took. Zero while running.
	Duration time.Duration

	// ErrorSummary describes the failure of an errored run.
	ErrorSummary string
}

func toJobRun(run jobstatus.Run) JobRun {
	return JobRun{
		JobName:      run.JobName,
		RunID:        run.RunID,
		Status:       JobStatus(run.Status),
		LastOutcome:  JobStatus(run.LastOutcome),
		StartedAt:    run.StartedAt,
		FinishedAt:   run.FinishedAt,
		Duration:     time.Duration(run.DurationMs) * time.Millisecond,
		ErrorSummary: run.ErrorSummary,
	}
}
