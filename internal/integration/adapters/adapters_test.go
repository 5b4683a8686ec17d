package adapters

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpalmerr/pulsefeed/internal/integration"
)

type plainDecrypter struct{}

func (plainDecrypter) Decrypt(s string) (string, error) { return s, nil }

func record(kind integration.Kind, url string) integration.Record {
	return integration.Record{
		ID:      string(kind) + "-1",
		Kind:    kind,
		URL:     url,
		Secrets: []integration.Secret{{Kind: integration.SecretAPIKey, EncryptedValue: "key-123"}},
	}
}

func TestNewRegistry_Capabilities(t *testing.T) {
	r := NewRegistry()

	assert.True(t, r.Supports(integration.KindPiHole, integration.CapabilityDNSHole))
	assert.True(t, r.Supports(integration.KindSABnzbd, integration.CapabilityDownloads))
	assert.True(t, r.Supports(integration.KindSonarr, integration.CapabilityCalendar))
	assert.False(t, r.Supports(integration.KindPiHole, integration.CapabilityCalendar))
}

func TestPiHole_DNSHoleSummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/admin/api.php", r.URL.Path)
		assert.Equal(t, "key-123", r.URL.Query().Get("auth"))
		assert.True(t, r.URL.Query().Has("summaryRaw"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"enabled","domains_being_blocked":120000,"dns_queries_today":5000,"ads_blocked_today":750,"ads_percentage_today":15.0}`))
	}))
	defer srv.Close()

	client, err := integration.CreateAs[integration.DNSHoleSummaryProvider](
		context.Background(), NewRegistry(), plainDecrypter{}, record(integration.KindPiHole, srv.URL))
	require.NoError(t, err)

	got, err := client.DNSHoleSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, integration.DNSHoleSummary{
		Enabled:             true,
		DomainsBeingBlocked: 120000,
		DNSQueriesToday:     5000,
		AdsBlockedToday:     750,
		AdsPercentageToday:  15.0,
	}, got)
}

func TestSABnzbd_DownloadQueue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "queue", r.URL.Query().Get("mode"))
		assert.Equal(t, "key-123", r.URL.Query().Get("apikey"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"queue":{"paused":false,"kbpersec":"2048","mbleft":"10","slots":[
			{"nzo_id":"SABnzbd_nzo_1","filename":"Some.Show.S01E01","status":"Downloading","percentage":"50","mb":"20","mbleft":"10"}
		]}}`))
	}))
	defer srv.Close()

	client, err := integration.CreateAs[integration.DownloadQueueProvider](
		context.Background(), NewRegistry(), plainDecrypter{}, record(integration.KindSABnzbd, srv.URL))
	require.NoError(t, err)

	q, err := client.DownloadQueue(context.Background())
	require.NoError(t, err)
	assert.False(t, q.Paused)
	assert.Equal(t, int64(2048*1024), q.SpeedBytes)
	assert.Equal(t, int64(10*1024*1024), q.RemainingBytes)
	require.Len(t, q.Items, 1)
	assert.Equal(t, "SABnzbd_nzo_1", q.Items[0].ID)
	assert.Equal(t, "downloading", q.Items[0].Status)
	assert.InDelta(t, 0.5, q.Items[0].Progress, 1e-9)
}

func TestSABnzbd_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":false,"error":"API Key Incorrect"}`))
	}))
	defer srv.Close()

	client, err := integration.CreateAs[integration.DownloadQueueProvider](
		context.Background(), NewRegistry(), plainDecrypter{}, record(integration.KindSABnzbd, srv.URL))
	require.NoError(t, err)

	_, err = client.DownloadQueue(context.Background())
	assert.ErrorContains(t, err, "API Key Incorrect")
}

func TestSonarr_CalendarEvents(t *testing.T) {
	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 7)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/calendar", r.URL.Path)
		assert.Equal(t, "key-123", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "2026-05-01T00:00:00Z", r.URL.Query().Get("start"))
		assert.Equal(t, "2026-05-08T00:00:00Z", r.URL.Query().Get("end"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"title":"Pilot","seasonNumber":1,"episodeNumber":1,"airDateUtc":"2026-05-03T01:00:00Z","hasFile":false,"series":{"title":"Some Show"}}]`))
	}))
	defer srv.Close()

	client, err := integration.CreateAs[integration.CalendarProvider](
		context.Background(), NewRegistry(), plainDecrypter{}, record(integration.KindSonarr, srv.URL))
	require.NoError(t, err)

	events, err := client.CalendarEvents(context.Background(), start, end)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Some Show", events[0].SeriesTitle)
	assert.Equal(t, time.Date(2026, 5, 3, 1, 0, 0, 0, time.UTC), events[0].AirDate)
}

func TestAdapters_HTTPErrorHidesURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, err := integration.CreateAs[integration.CalendarProvider](
		context.Background(), NewRegistry(), plainDecrypter{}, record(integration.KindSonarr, srv.URL))
	require.NoError(t, err)

	_, err = client.CalendarEvents(context.Background(), time.Now(), time.Now())
	var httpErr *integration.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
	assert.NotContains(t, err.Error(), "key-123")
}

func TestAdapters_TransportErrorHidesSecrets(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	base := "http://" + ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx := context.Background()
	r := NewRegistry()

	pihole, err := integration.CreateAs[integration.DNSHoleSummaryProvider](ctx, r, plainDecrypter{}, record(integration.KindPiHole, base))
	require.NoError(t, err)
	_, err = pihole.DNSHoleSummary(ctx)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "key-123")
	assert.Contains(t, err.Error(), "pihole summary: get request")

	sab, err := integration.CreateAs[integration.DownloadQueueProvider](ctx, r, plainDecrypter{}, record(integration.KindSABnzbd, base))
	require.NoError(t, err)
	_, err = sab.DownloadQueue(ctx)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "key-123")
	assert.Contains(t, err.Error(), "connection refused")

	sonarr, err := integration.CreateAs[integration.CalendarProvider](ctx, r, plainDecrypter{}, record(integration.KindSonarr, base))
	require.NoError(t, err)
	_, err = sonarr.CalendarEvents(ctx, time.Now(), time.Now())
	require.Error(t, err)
	assert.NotContains(t, err.Error(), base)
}
