package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"endobit.io/app/log"
)

func newRootCmd() *cobra.Command {
	var logLevel string

	cmd := cobra.Command{
		Use:     "preheat",
		Short:   "Predictive preheating for heated zones",
		Version: version,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			level, err := parseLevel(logLevel)
			if err != nil {
				return err
			}

			handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
			slog.SetDefault(slog.New(handler))

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&logLevel, "log", "info", "log level (trace, debug, info, warn, error)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSessionsCmd())
	cmd.AddCommand(newPlotCmd())
	cmd.AddCommand(newVersionCmd())

	return &cmd
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "trace":
		return log.LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}

	return 0, fmt.Errorf("invalid log level %q", s)
}
