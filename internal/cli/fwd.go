package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zwxxb/pivot/internal/forward"
)

func fwdCommand(cancel context.CancelFunc) *cobra.Command {
	var locals []string
	var remotes []string
	var socket string
	var udp bool

	cmd := &cobra.Command{
		Use:           "fwd",
		Short:         "Forward TCP or UDP traffic between local listeners, remotes, and Unix sockets",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runFwd(ctx, cancel, locals, remotes, socket, udp)
		},
	}

	cmd.Flags().StringArrayVar(&locals, "local", nil, "[+][IP:]PORT, repeatable")
	cmd.Flags().StringArrayVar(&remotes, "remote", nil, "[+]IP:PORT, repeatable")
	cmd.Flags().StringVar(&socket, "socket", "", "Unix domain socket path")
	cmd.Flags().BoolVar(&udp, "udp", false, "forward UDP instead of TCP")

	return cmd
}

func runFwd(ctx context.Context, cancel context.CancelFunc, locals, remotes []string, socket string, udp bool) error {
	cfg := forward.Config{Socket: socket, UDP: udp}

	for _, raw := range locals {
		addr, tlsEnabled, err := parseLocal(raw)
		if err != nil {
			return fmt.Errorf("parse --local %q: %w", raw, err)
		}
		cfg.Local = append(cfg.Local, forward.Endpoint{Addr: addr, TLS: tlsEnabled})
	}
	for _, raw := range remotes {
		addr, tlsEnabled, err := parseRemote(raw)
		if err != nil {
			return fmt.Errorf("parse --remote %q: %w", raw, err)
		}
		cfg.Remote = append(cfg.Remote, forward.Endpoint{Addr: addr, TLS: tlsEnabled})
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid forward parameters: %w", err)
	}

	if err := forward.Start(ctx, cfg); err != nil {
		cancel()
		return err
	}
	return nil
}
