// Command example runs PulseFeed as a library against mock homelab services.
//
//	go run ./example
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/pulsefeed"
	"github.com/jpalmerr/pulsefeed/example/mockhomelab"
)

const mockAddr = "localhost:9999"

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	// start the mock Pi-hole, SABnzbd and Sonarr
	ln, err := net.Listen("tcp", mockAddr)
	if err != nil {
		logger.Error("failed to start mock services", "error", err)
		os.Exit(1)
	}
	go func() {
		_ = http.Serve(ln, mockhomelab.New(logger).Handler())
	}()

	// secrets are stored encrypted; a real deployment keeps the key in the
	// environment and the ciphertext in config
	key, err := pulsefeed.GenerateEncryptionKey()
	if err != nil {
		logger.Error("failed to generate key", "error", err)
		os.Exit(1)
	}
	apiKey, err := pulsefeed.EncryptSecret(key, mockhomelab.APIKey)
	if err != nil {
		logger.Error("failed to encrypt api key", "error", err)
		os.Exit(1)
	}

	base := "http://" + mockAddr
	secrets := map[string]string{pulsefeed.SecretAPIKey: apiKey}

	pf, err := pulsefeed.New(
		pulsefeed.WithTitle("PulseFeed Demo"),
		pulsefeed.WithPort(8080),
		pulsefeed.WithLogger(logger),
		pulsefeed.WithEncryptionKey(key),
		pulsefeed.WithIntegrations(
			pulsefeed.Integration{ID: "pihole", Kind: "piHole", Name: "Pi-hole", URL: base, Secrets: secrets},
			pulsefeed.Integration{ID: "sab", Kind: "sabNzbd", Name: "SABnzbd", URL: base, Secrets: secrets},
			pulsefeed.Integration{ID: "sonarr", Kind: "sonarr", Name: "Sonarr", URL: base, Secrets: secrets},
		),
		pulsefeed.WithJob(pulsefeed.JobDownloads, pulsefeed.JobOverride{Schedule: "every-5-seconds"}),
		pulsefeed.WithJob(pulsefeed.JobDNSHole, pulsefeed.JobOverride{Schedule: "every-10-seconds"}),
		pulsefeed.WithPingURLs(base+"/api/v3/calendar", "https://example.com"),
		pulsefeed.WithPingTimeout(5*time.Second),
		pulsefeed.WithStatusCallback(func(run pulsefeed.JobRun) {
			if run.Status == pulsefeed.JobError {
				logger.Warn("job failed", "job", run.JobName, "error", run.ErrorSummary)
			}
		}),
	)
	if err != nil {
		logger.Error("failed to create pulsefeed", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  PulseFeed Demo")
	fmt.Println()
	fmt.Println("  Dashboard:  http://localhost:8080")
	fmt.Println("  Jobs:       http://localhost:8080/api/jobs")
	fmt.Println("  Pi-hole:    http://localhost:8080/api/channels/dnsHoleSummary/pihole")
	fmt.Println("  Downloads:  http://localhost:8080/api/channels/downloads/sab/sse")
	fmt.Println("  Calendar:   http://localhost:8080/api/integrations/sonarr/calendar")
	fmt.Println("  Metrics:    http://localhost:8080/metrics")
	fmt.Println()
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := pf.Start(ctx); err != nil {
		logger.Error("pulsefeed error", "error", err)
		os.Exit(1)
	}
}
