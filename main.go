package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"prosthesisgw/server"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "prosthesisgw",
	Short: "Keycloak session gateway for the prosthesis records API",
	Long: `prosthesisgw performs the Keycloak authorization-code login, keeps the
session in cookies, and serves role-guarded user and report listings.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("GATEWAY_CONFIG"), "Path to YAML config (optional, environment overrides it)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "Logging level (debug, info, warn, error)")
	rootCmd.AddCommand(serveCmd, migrateCmd, configCmd, checkIDPCmd)
}

func newLogger() (*slog.Logger, error) {
	level, err := parseLogLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger, nil
}

// setup returns the logger and the validated configuration every command needs.
func setup() (*slog.Logger, server.Config, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, server.Config{}, err
	}
	if configPath != "" {
		logger.Debug("loading config", "path", configPath)
	}
	cfg, err := server.LoadConfig(configPath)
	if err != nil {
		return nil, server.Config{}, fmt.Errorf("load config: %w", err)
	}
	return logger, cfg, nil
}

func parseLogLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "err":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level")
	}
}
