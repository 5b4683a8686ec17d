// Package dashboard provides the embedded job status page.
//
// The page lists every scheduled job with its next run and last outcome,
// follows status transitions over /api/jobs/events and offers a manual
// trigger button for jobs that allow it.
package dashboard

import "embed"

// Assets is an embedded filesystem containing the dashboard web UI.
//
// The filesystem structure is:
//
//	assets/
//	  index.html    - Job status page with inline CSS and JavaScript
//
//go:embed assets/*
var Assets embed.FS
