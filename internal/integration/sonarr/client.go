// Package sonarr is a client for the Sonarr v3 API.
package sonarr

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/jpalmerr/pulsefeed/internal/integration"
)

type episode struct {
	Title         string    `json:"title"`
	SeasonNumber  int       `json:"seasonNumber"`
	EpisodeNumber int       `json:"episodeNumber"`
	AirDateUTC    time.Time `json:"airDateUtc"`
	HasFile       bool      `json:"hasFile"`
	Series        struct {
		Title string `json:"title"`
	} `json:"series"`
}

// Client reads the release calendar of a Sonarr instance.
type Client struct {
	http *resty.Client
}

var _ integration.CalendarProvider = (*Client)(nil)

// New is an [integration.Factory]. It requires an apiKey secret, sent in the
// X-Api-Key header.
func New(record integration.Record, creds integration.Credentials) (integration.Client, error) {
	apiKey, err := creds.Require(integration.SecretAPIKey)
	if err != nil {
		return nil, err
	}
	return &Client{http: integration.NewHTTPClient(record).SetHeader("X-Api-Key", apiKey)}, nil
}

func (c *Client) Kind() integration.Kind { return integration.KindSonarr }

// CalendarEvents returns episodes airing between start and end.
func (c *Client) CalendarEvents(ctx context.Context, start, end time.Time) ([]integration.CalendarEvent, error) {
	var body []episode
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"start":         start.UTC().Format(time.RFC3339),
			"end":           end.UTC().Format(time.RFC3339),
			"includeSeries": "true",
		}).
		SetResult(&body).
		Get("/api/v3/calendar")
	if err != nil {
		return nil, fmt.Errorf("sonarr calendar: %w", integration.RequestError(err))
	}
	if err := integration.CheckResponse(resp); err != nil {
		return nil, fmt.Errorf("sonarr calendar: %w", err)
	}

	events := make([]integration.CalendarEvent, 0, len(body))
	for _, ep := range body {
		events = append(events, integration.CalendarEvent{
			Title:         ep.Title,
			SeriesTitle:   ep.Series.Title,
			SeasonNumber:  ep.SeasonNumber,
			EpisodeNumber: ep.EpisodeNumber,
			AirDate:       ep.AirDateUTC,
			HasFile:       ep.HasFile,
		})
	}
	return events, nil
}
