package main

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/jpalmerr/pulsefeed/config"
)

// validateCmd validates a config file without starting the server.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a PulseFeed configuration file without starting the server.

This command parses the YAML, expands environment variables, and validates
all fields. Secrets are not decrypted. It's useful for CI/CD pipelines or
pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  pulsefeed validate -c config.yaml
  pulsefeed validate --config /etc/pulsefeed/config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	kinds := lo.Uniq(lo.Map(cfg.Integrations, func(ic config.IntegrationConfig, _ int) string {
		return ic.Kind
	}))
	overridden := slices.Sorted(maps.Keys(cfg.Jobs))

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Port:          %d\n", cfg.Port)
	fmt.Fprintf(out, "  Store:         %s\n", cfg.Store.Backend)
	fmt.Fprintf(out, "  Integrations:  %d (%s)\n", len(cfg.Integrations), strings.Join(kinds, ", "))
	fmt.Fprintf(out, "  Job overrides: %s\n", lo.Ternary(len(overridden) == 0, "none", strings.Join(overridden, ", ")))
	fmt.Fprintf(out, "  Ping URLs:     %d\n", len(cfg.PingURLs))

	return nil
}
