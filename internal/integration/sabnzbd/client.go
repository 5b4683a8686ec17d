// Package sabnzbd is a client for the SABnzbd JSON API.
package sabnzbd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/jpalmerr/pulsefeed/internal/integration"
)

const mib = 1024 * 1024

type queueResponse struct {
	Queue struct {
		Paused bool   `json:"paused"`
		KBPerS string `json:"kbpersec"`
		MBLeft string `json:"mbleft"`
		Slots  []struct {
			NzoID      string `json:"nzo_id"`
			Filename   string `json:"filename"`
			Status     string `json:"status"`
			Percentage string `json:"percentage"`
			MB         string `json:"mb"`
			MBLeft     string `json:"mbleft"`
		} `json:"slots"`
	} `json:"queue"`
	Error string `json:"error"`
}

// Client reads the download queue of a SABnzbd instance.
type Client struct {
	http   *resty.Client
	apiKey string
}

var _ integration.DownloadQueueProvider = (*Client)(nil)

// New is an [integration.Factory]. It requires an apiKey secret.
func New(record integration.Record, creds integration.Credentials) (integration.Client, error) {
	apiKey, err := creds.Require(integration.SecretAPIKey)
	if err != nil {
		return nil, err
	}
	return &Client{http: integration.NewHTTPClient(record), apiKey: apiKey}, nil
}

func (c *Client) Kind() integration.Kind { return integration.KindSABnzbd }

// DownloadQueue returns the current queue.
func (c *Client) DownloadQueue(ctx context.Context) (integration.DownloadQueue, error) {
	var body queueResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"mode":   "queue",
			"output": "json",
			"apikey": c.apiKey,
		}).
		SetResult(&body).
		Get("/api")
	if err != nil {
		return integration.DownloadQueue{}, fmt.Errorf("sabnzbd queue: %w", integration.RequestError(err))
	}
	if err := integration.CheckResponse(resp); err != nil {
		return integration.DownloadQueue{}, fmt.Errorf("sabnzbd queue: %w", err)
	}
	if body.Error != "" {
		return integration.DownloadQueue{}, fmt.Errorf("sabnzbd queue: %s", body.Error)
	}

	q := integration.DownloadQueue{
		Paused:         body.Queue.Paused,
		SpeedBytes:     int64(parseFloat(body.Queue.KBPerS) * 1024),
		RemainingBytes: int64(parseFloat(body.Queue.MBLeft) * mib),
		Items:          make([]integration.DownloadItem, 0, len(body.Queue.Slots)),
	}
	for _, slot := range body.Queue.Slots {
		q.Items = append(q.Items, integration.DownloadItem{
			ID:             slot.NzoID,
			Name:           slot.Filename,
			Status:         strings.ToLower(slot.Status),
			Progress:       parseFloat(slot.Percentage) / 100,
			SizeBytes:      int64(parseFloat(slot.MB) * mib),
			RemainingBytes: int64(parseFloat(slot.MBLeft) * mib),
		})
	}
	return q, nil
}

// parseFloat reads SABnzbd's stringly typed numbers; malformed values are 0.
func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}
