// Package jobstatus records the run lifecycle of scheduled jobs.
//
// A [Publisher] is installed as the scheduler's hooks. Each run moves a job
// from idle to running, then to success or error, and back to idle; error is
// a display state, not a terminal one. Transitions are broadcast on the
// [Topic] channel and the latest run per job is kept for status queries.
package jobstatus
