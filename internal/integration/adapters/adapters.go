// Package adapters registers the built-in vendor clients.
package adapters

import (
	"github.com/jpalmerr/pulsefeed/internal/integration"
	"github.com/jpalmerr/pulsefeed/internal/integration/pihole"
	"github.com/jpalmerr/pulsefeed/internal/integration/sabnzbd"
	"github.com/jpalmerr/pulsefeed/internal/integration/sonarr"
)

// NewRegistry returns a registry with every built-in kind.
func NewRegistry() *integration.Registry {
	r := integration.NewRegistry()
	r.Register(integration.KindPiHole, pihole.New, integration.CapabilityDNSHole)
	r.Register(integration.KindSABnzbd, sabnzbd.New, integration.CapabilityDownloads)
	r.Register(integration.KindSonarr, sonarr.New, integration.CapabilityCalendar)
	return r
}
