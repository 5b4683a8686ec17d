package pulsefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

const piholeToken = "pihole-token"

// newPiHole serves a Pi-hole summary to requests carrying piholeToken.
func newPiHole(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/admin/api.php" || r.URL.Query().Get("auth") != piholeToken {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte("[]"))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"enabled","domains_being_blocked":120000,"dns_queries_today":5000,"ads_blocked_today":750,"ads_percentage_today":15}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

type dnsHoleState struct {
	Value struct {
		Enabled         bool `json:"enabled"`
		AdsBlockedToday int  `json:"adsBlockedToday"`
	} `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// runUntil starts pf and returns a function that stops it.
func runUntil(t *testing.T, pf *PulseFeed) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- pf.Start(ctx)
	}()
	return func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Start() error = %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Start() did not return")
		}
	}
}

// pollLastState polls the channel endpoint until it returns a value.
func pollLastState(t *testing.T, port int, path string) dnsHoleState {
	t.Helper()
	url := fmt.Sprintf("http://localhost:%d%s", port, path)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			if resp.StatusCode == http.StatusOK {
				var state dnsHoleState
				err := json.NewDecoder(resp.Body).Decode(&state)
				resp.Body.Close()
				if err != nil {
					t.Fatalf("decode last state: %v", err)
				}
				return state
			}
			resp.Body.Close()
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("no last state at %s", path)
	return dnsHoleState{}
}

func TestPulseFeed_PublishesIntegrationData(t *testing.T) {
	pihole := newPiHole(t)

	pf, err := New(
		WithEncryptionKey(testKey),
		WithIntegration(Integration{
			ID:      "pihole",
			Kind:    "piHole",
			Name:    "Pi-hole",
			URL:     pihole.URL,
			Secrets: map[string]string{SecretAPIKey: encrypt(t, piholeToken)},
		}),
		WithPort(19300),
		WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	stop := runUntil(t, pf)
	defer stop()

	state := pollLastState(t, pf.Port(), "/api/channels/dnsHoleSummary/pihole")

	if !state.Value.Enabled {
		t.Error("Enabled = false, want true")
	}
	if state.Value.AdsBlockedToday != 750 {
		t.Errorf("AdsBlockedToday = %d, want 750", state.Value.AdsBlockedToday)
	}
	if state.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should not be zero")
	}
}

func TestPulseFeed_RedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	pihole := newPiHole(t)

	pf, err := New(
		WithEncryptionKey(testKey),
		WithIntegration(Integration{
			ID:      "pihole",
			Kind:    "piHole",
			URL:     pihole.URL,
			Secrets: map[string]string{SecretAPIKey: encrypt(t, piholeToken)},
		}),
		WithRedisURL("redis://"+mr.Addr()),
		WithPort(19301),
		WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	stop := runUntil(t, pf)

	state := pollLastState(t, pf.Port(), "/api/channels/dnsHoleSummary/pihole")
	if state.Value.AdsBlockedToday != 750 {
		t.Errorf("AdsBlockedToday = %d, want 750", state.Value.AdsBlockedToday)
	}

	stop()

	// last state outlives the process that published it
	if !mr.Exists("pulsefeed:state:item:dnsHoleSummary:integration:pihole") {
		t.Error("last state not stored in redis")
	}
}

func TestPulseFeed_RedisCacheKeys(t *testing.T) {
	mr := miniredis.RunT(t)
	sonarr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("[]"))
	}))
	t.Cleanup(sonarr.Close)

	pf, err := New(
		WithEncryptionKey(testKey),
		WithIntegration(Integration{
			ID:      "sonarr",
			Kind:    "sonarr",
			URL:     sonarr.URL,
			Secrets: map[string]string{SecretAPIKey: encrypt(t, "sonarr-key")},
		}),
		WithRedisURL("redis://"+mr.Addr()),
		WithPort(19303),
		WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	stop := runUntil(t, pf)
	defer stop()

	url := fmt.Sprintf("http://localhost:%d/api/integrations/sonarr/calendar", pf.Port())
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("GET %s never succeeded", url)
		}
		time.Sleep(25 * time.Millisecond)
	}

	var cached []string
	for _, key := range mr.Keys() {
		if strings.HasPrefix(key, "pulsefeed:cache:") {
			cached = append(cached, key)
		}
	}
	if len(cached) == 0 {
		t.Fatalf("no cache entries in redis, keys = %v", mr.Keys())
	}
	for _, key := range cached {
		if !strings.HasPrefix(key, "pulsefeed:cache:calendarEvents:sonarr:") {
			t.Errorf("cache key = %q, want pulsefeed:cache:calendarEvents:sonarr:<input>", key)
		}
	}
}

func TestPulseFeed_RedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	pf, err := New(
		WithRedisURL("redis://"+addr),
		WithPort(19302),
		WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	err = pf.Start(context.Background())
	if err == nil {
		t.Fatal("Start() error = nil, want redis error")
	}
}

func TestPulseFeed_RegisterPingURL(t *testing.T) {
	pf, err := New(WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := pf.RegisterPingURL(context.Background(), "ftp://example.com"); err == nil {
		t.Error("RegisterPingURL() expected error for ftp url, got nil")
	}
	if err := pf.RegisterPingURL(context.Background(), "https://example.com"); err != nil {
		t.Errorf("RegisterPingURL() error = %v", err)
	}
}
