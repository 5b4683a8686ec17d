// Package pihole is a client for the Pi-hole admin API.
package pihole

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-resty/resty/v2"

	"github.com/jpalmerr/pulsefeed/internal/integration"
)

type summaryResponse struct {
	Status              string  `json:"status"`
	DomainsBeingBlocked int     `json:"domains_being_blocked"`
	DNSQueriesToday     int     `json:"dns_queries_today"`
	AdsBlockedToday     int     `json:"ads_blocked_today"`
	AdsPercentageToday  float64 `json:"ads_percentage_today"`
}

// Client reads blocking statistics from a Pi-hole.
type Client struct {
	http  *resty.Client
	token string
}

var _ integration.DNSHoleSummaryProvider = (*Client)(nil)

// New is an [integration.Factory]. It requires an apiKey secret.
func New(record integration.Record, creds integration.Credentials) (integration.Client, error) {
	token, err := creds.Require(integration.SecretAPIKey)
	if err != nil {
		return nil, err
	}
	return &Client{http: integration.NewHTTPClient(record), token: token}, nil
}

func (c *Client) Kind() integration.Kind { return integration.KindPiHole }

// DNSHoleSummary returns today's summary.
func (c *Client) DNSHoleSummary(ctx context.Context) (integration.DNSHoleSummary, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("summaryRaw", "").
		SetQueryParam("auth", c.token).
		Get("/admin/api.php")
	if err != nil {
		return integration.DNSHoleSummary{}, fmt.Errorf("pihole summary: %w", integration.RequestError(err))
	}
	if err := integration.CheckResponse(resp); err != nil {
		return integration.DNSHoleSummary{}, fmt.Errorf("pihole summary: %w", err)
	}

	// Pi-hole answers an unauthenticated request with an empty array
	raw := bytes.TrimSpace(resp.Body())
	if len(raw) == 0 || raw[0] == '[' {
		return integration.DNSHoleSummary{}, fmt.Errorf("pihole summary: unauthorized")
	}
	var body summaryResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return integration.DNSHoleSummary{}, fmt.Errorf("pihole summary: decode: %w", err)
	}
	if body.Status == "" {
		return integration.DNSHoleSummary{}, fmt.Errorf("pihole summary: unauthorized")
	}

	return integration.DNSHoleSummary{
		Enabled:             body.Status == "enabled",
		DomainsBeingBlocked: body.DomainsBeingBlocked,
		DNSQueriesToday:     body.DNSQueriesToday,
		AdsBlockedToday:     body.AdsBlockedToday,
		AdsPercentageToday:  body.AdsPercentageToday,
	}, nil
}
