package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/zwxxb/pivot/internal/reuse"
)

func reuseCommand(cancel context.CancelFunc) *cobra.Command {
	var local, remote, fallback, external string
	var timeoutSeconds int

	cmd := &cobra.Command{
		Use:           "reuse",
		Short:         "Intercept traffic on a shared port via SO_REUSEPORT and classify by source IP",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cfg := reuse.Config{
				Local:    local,
				Remote:   remote,
				Fallback: fallback,
				External: external,
			}
			if timeoutSeconds > 0 {
				cfg.Timeout = time.Duration(timeoutSeconds) * time.Second
			}
			if err := reuse.Run(ctx, cfg); err != nil {
				cancel()
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&local, "local", "", "bind address")
	cmd.Flags().StringVar(&remote, "remote", "", "primary redirect target")
	cmd.Flags().StringVar(&fallback, "fallback", "", "fallback redirect target")
	cmd.Flags().StringVar(&external, "external", "", "source IP routed to the primary target")
	cmd.Flags().IntVar(&timeoutSeconds, "timeout", 0, "accept-phase deadline in seconds, 0 means unbounded")

	_ = cmd.MarkFlagRequired("local")
	_ = cmd.MarkFlagRequired("remote")
	_ = cmd.MarkFlagRequired("external")

	return cmd
}
