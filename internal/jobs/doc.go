// Package jobs wires the reference jobs onto the scheduler.
//
// Each job iterates the integrations whose kind provides one capability,
// calls the adapter directly or through a cached handler, and publishes the
// result on that integration's channel. Per-integration work fans out
// through [Settle]: one integration failing is logged with its identity and
// never stops the others, and a run only fails when every integration did.
//
//	dnsHole    every-minute      Pi-hole summary     item:dnsHoleSummary:integration:<id>
//	downloads  every-5-seconds   SABnzbd queue       item:downloads:integration:<id>
//	calendar   every-hour        Sonarr calendar     item:calendar:integration:<id> (cached, 1h)
//	ping       every-minute      registered URLs     ping:<url>
package jobs
