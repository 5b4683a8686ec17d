package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	slogmulti "github.com/samber/slog-multi"
	"github.com/spf13/cobra"

	"github.com/jpalmerr/pulsefeed"
	"github.com/jpalmerr/pulsefeed/config"
)

const (
	shutdownTimeout = 10 * time.Second
)

// logOptions selects how the CLI logs.
type logOptions struct {
	format string
	level  string
	file   string
}

// newLogger builds the CLI logger. Records always go to stderr; with a log
// file they are also appended to it as JSON. The returned closer releases
// the file.
func newLogger(stderr io.Writer, opts logOptions) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(opts.level)); err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q", opts.level)
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handlers []slog.Handler
	switch strings.ToLower(opts.format) {
	case "", "json":
		handlers = append(handlers, slog.NewJSONHandler(stderr, handlerOpts))
	case "text":
		handlers = append(handlers, slog.NewTextHandler(stderr, handlerOpts))
	default:
		return nil, nil, fmt.Errorf("invalid log format %q (expected json or text)", opts.format)
	}

	var closer io.Closer = io.NopCloser(nil)
	if opts.file != "" {
		f, err := os.OpenFile(opts.file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		handlers = append(handlers, slog.NewJSONHandler(f, handlerOpts))
		closer = f
	}

	if len(handlers) == 1 {
		return slog.New(handlers[0]), closer, nil
	}
	return slog.New(slogmulti.Fanout(handlers...)), closer, nil
}

// loadEnvFile loads KEY=value pairs into the environment before the config
// is expanded. Variables already set are kept. A missing default file is
// not an error.
func loadEnvFile(path string, explicit bool) error {
	if _, err := os.Stat(path); err != nil {
		if !explicit && os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// serveCmd starts the PulseFeed server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the feed server",
	Long: `Start the PulseFeed server.

The server will:
  - Load environment variables from the env file, if present
  - Load configuration from the specified YAML file
  - Schedule the dnsHole, downloads, calendar and ping jobs
  - Serve the API and dashboard on the configured port

The server runs until interrupted (Ctrl+C) or receives SIGTERM.

Example:
  pulsefeed serve -c config.yaml
  pulsefeed serve -c /etc/pulsefeed/config.yaml --env-file /etc/pulsefeed/.env --log-format text`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	serveCmd.Flags().String("env-file", ".env", "path to a dotenv file loaded before the config")
	serveCmd.Flags().String("log-format", "json", "log format: json or text")
	serveCmd.Flags().String("log-level", "info", "log level: debug, info, warn or error")
	serveCmd.Flags().String("log-file", "", "also append JSON logs to this file")
	_ = serveCmd.MarkFlagRequired("config")
}

func runServe(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("log-format")
	level, _ := cmd.Flags().GetString("log-level")
	logFile, _ := cmd.Flags().GetString("log-file")

	logger, closer, err := newLogger(cmd.ErrOrStderr(), logOptions{format: format, level: level, file: logFile})
	if err != nil {
		return err
	}
	defer closer.Close()

	envFile, _ := cmd.Flags().GetString("env-file")
	if err := loadEnvFile(envFile, cmd.Flags().Changed("env-file")); err != nil {
		return err
	}

	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Info("config loaded",
		"integrations", len(cfg.Integrations),
		"ping_urls", len(cfg.PingURLs),
		"store", cfg.Store.Backend,
	)

	opts := append(config.BuildOptions(cfg), pulsefeed.WithLogger(logger))
	pf, err := pulsefeed.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create PulseFeed: %w", err)
	}

	logger.Info("starting server", "port", cfg.Port, "jobs", pf.Jobs())

	// cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		errChan <- pf.Start(ctx)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info("shutdown complete")
		return nil

	case <-ctx.Done():
		// signal received, wait for graceful shutdown with timeout
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}
}
