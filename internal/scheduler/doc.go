// Package scheduler triggers named jobs on cron-like schedules.
//
// A [Scheduler] is constructed once at process start and handed to whatever
// needs to register, list, or trigger jobs. Jobs are described by a
// [Definition] and registered before [Scheduler.Start]; duplicate names and
// malformed schedules are reported as [ErrScheduleConfiguration] so startup
// can fail fast.
//
// Schedule expressions are either five-field cron patterns (minute, hour,
// day-of-month, month, day-of-week) or one of the named shorthands:
//
//	every-N-seconds, every-minute, every-5-minutes, every-10-minutes,
//	every-hour, every-day, every-week, never
//
// Overlap policy: a job's runs never overlap. When a trigger fires while the
// previous run of the same job is still executing, the trigger is skipped and
// a warning is logged. Manual triggers in that state return [ErrJobRunning].
package scheduler
