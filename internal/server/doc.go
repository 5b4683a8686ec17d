// Package server provides the HTTP surface of PulseFeed.
//
//   - Management: GET /api/jobs, POST /api/jobs/{name}/trigger and the
//     job status stream at GET /api/jobs/events
//   - Subscriptions: GET /api/channels/{kind}/{integrationID} for the last
//     state, with /sse and /ws variants streaming every publish
//   - Widgets: POST /api/ping-urls, GET /api/ping?url=, GET /api/ping/sse?url=
//     and GET /api/integrations/{integrationID}/calendar
//   - Operations: GET /metrics and GET /healthz
//   - Dashboard: GET / when assets are configured
//
// The server supports graceful shutdown via context cancellation, with a
// 5-second timeout for in-flight requests.
package server
