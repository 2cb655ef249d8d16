package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"docgate/internal/config"
)

var (
	cfg    config.Config
	logger *slog.Logger

	rootCmd = &cobra.Command{
		Use:   "docgate",
		Short: "Security gateway between a shared document store and a text generator",
		Long: `docgate mirrors whitelisted folders from the document store, scrubs
secrets and injected instructions from their content, transforms them with a
generator and holds risky outputs for human review.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg = config.Load()
			logger = newLogger(cfg.LogLevel)
			slog.SetDefault(logger)
		},
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd, syncCmd, reviewCmd, scanCmd, tokenCmd)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
