// Package poller probes plain URLs for the ping job.
//
// The main components are:
//
//   - [Client]: pooled HTTP client with per-request timeouts
//   - [Prober]: HEAD-then-GET reachability check producing a [Result]
//
// A probe never fails: unreachable hosts, invalid URLs and panics all turn
// into a down [Result] so one bad URL cannot stop the rest of a tick.
package poller
