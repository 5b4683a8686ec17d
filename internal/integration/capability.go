package integration

import (
	"context"
	"time"
)

// Capability names a group of methods a client may expose. Jobs are written
// against one capability and only iterate integrations whose kind has it.
type Capability string

const (
	CapabilityDNSHole   Capability = "dnsHole"
	CapabilityDownloads Capability = "downloads"
	CapabilityCalendar  Capability = "calendar"
)

// DNSHoleSummaryProvider is implemented by DNS filtering clients.
type DNSHoleSummaryProvider interface {
	Client
	DNSHoleSummary(ctx context.Context) (DNSHoleSummary, error)
}

// DownloadQueueProvider is implemented by download clients.
type DownloadQueueProvider interface {
	Client
	DownloadQueue(ctx context.Context) (DownloadQueue, error)
}

// CalendarProvider is implemented by media managers with a release calendar.
type CalendarProvider interface {
	Client
	CalendarEvents(ctx context.Context, start, end time.Time) ([]CalendarEvent, error)
}

// DNSHoleSummary is today's blocking statistics of a DNS filter.
type DNSHoleSummary struct {
	Enabled             bool    `json:"enabled"`
	DomainsBeingBlocked int     `json:"domainsBeingBlocked"`
	DNSQueriesToday     int     `json:"dnsQueriesToday"`
	AdsBlockedToday     int     `json:"adsBlockedToday"`
	AdsPercentageToday  float64 `json:"adsPercentageToday"`
}

// DownloadQueue is a snapshot of a download client's queue.
type DownloadQueue struct {
	Paused         bool           `json:"paused"`
	SpeedBytes     int64          `json:"speedBytes"`
	RemainingBytes int64          `json:"remainingBytes"`
	Items          []DownloadItem `json:"items"`
}

// DownloadItem is one entry of a [DownloadQueue].
type DownloadItem struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Status         string  `json:"status"`
	Progress       float64 `json:"progress"`
	SizeBytes      int64   `json:"sizeBytes"`
	RemainingBytes int64   `json:"remainingBytes"`
}

// CalendarEvent is one scheduled release.
type CalendarEvent struct {
	Title         string    `json:"title"`
	SeriesTitle   string    `json:"seriesTitle,omitempty"`
	SeasonNumber  int       `json:"seasonNumber,omitempty"`
	EpisodeNumber int       `json:"episodeNumber,omitempty"`
	AirDate       time.Time `json:"airDate"`
	HasFile       bool      `json:"hasFile"`
}
