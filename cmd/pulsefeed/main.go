// Package main is the entry point for the pulsefeed CLI.
//
// PulseFeed can be run either as a library (SDK) or as a standalone binary
// with YAML configuration. This CLI provides the standalone binary approach.
//
// Usage:
//
//	pulsefeed serve -c config.yaml          # Start the feed server
//	pulsefeed validate -c config.yaml       # Validate configuration
//	pulsefeed encrypt --generate-key        # Generate an encryption key
//	pulsefeed encrypt -k <key> <secret>     # Encrypt an integration secret
//	pulsefeed jobs list                     # List jobs of a running server
//	pulsefeed jobs trigger ping             # Run a job now
//	pulsefeed version                       # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set by GoReleaser at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "pulsefeed",
	Short: "A polling cache and live feed for homelab services",
	Long: `PulseFeed polls homelab services on a schedule and fans the results
out to dashboards.

Jobs read Pi-hole, SABnzbd and Sonarr integrations and probe URLs. Every
result is cached and published on a channel, served over HTTP as JSON,
Server-Sent Events and WebSocket.

Quick start:
  1. Generate a key:     pulsefeed encrypt --generate-key
  2. Encrypt API keys:   pulsefeed encrypt -k <key> <api key>
  3. Create a config file (pulsefeed.yaml)
  4. Run: pulsefeed serve -c pulsefeed.yaml

Example config:
  port: 8080
  encryption_key: ${SECRET_ENCRYPTION_KEY}
  integrations:
    - id: pihole
      kind: piHole
      url: http://pi.hole
      secrets:
        - kind: apiKey
          value: <encrypted>`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this pulsefeed binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "pulsefeed %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
