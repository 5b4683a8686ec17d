// Standalone mock homelab for testing the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockserver
//
// Then in another terminal:
//
//	export SECRET_ENCRYPTION_KEY=$(go run ./cmd/pulsefeed encrypt --generate-key)
//	export DEMO_API_KEY=$(go run ./cmd/pulsefeed encrypt demo-api-key)
//	go run ./cmd/pulsefeed serve -c example/config.yaml
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/jpalmerr/pulsefeed/example/mockhomelab"
)

func main() {
	addr := flag.String("addr", ":9999", "listen address")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	fmt.Printf("Mock homelab listening on %s\n", *addr)
	fmt.Println("  Pi-hole:  /admin/api.php")
	fmt.Println("  SABnzbd:  /api?mode=queue")
	fmt.Println("  Sonarr:   /api/v3/calendar")
	fmt.Printf("  API key:  %s\n", mockhomelab.APIKey)
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	if err := http.ListenAndServe(*addr, mockhomelab.New(logger).Handler()); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
