// Package cli wires Pivot's three roles (fwd, proxy, reuse) into a cobra
// command tree, parses the "[+][IP:]PORT" address syntax used by fwd and
// proxy (reuse takes plain addresses), and installs the process-wide
// log/slog handler before any subcommand runs.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Root builds the "pivot" command tree. cancel is invoked by a
// subcommand's background serve loop if it fails fatally after startup,
// so the process can shut down cleanly via the same context the top-level
// signal handler created.
func Root(cancel context.CancelFunc) *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:           "pivot [command]",
		Short:         "Layer-4 network pivoting toolkit",
		Long:          "pivot forwards, proxies, and redirects TCP/UDP traffic for use as a pivot point during authorized network assessments.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			lvl, err := parseLogLevel(logLevel)
			if err != nil {
				return err
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&logLevel, "log", "info", "log level: debug|info|warn|error")

	cmd.AddCommand(fwdCommand(cancel))
	cmd.AddCommand(proxyCommand(cancel))
	cmd.AddCommand(reuseCommand(cancel))

	return cmd
}

func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q", level)
	}
}
