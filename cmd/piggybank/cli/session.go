package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"piggybank/internal/bootstrap"
	"piggybank/internal/config"
)

func newSessionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Maintain conversation sessions",
	}
	cmd.AddCommand(
		newSessionSweepCmd(a),
		newSessionClearCmd(a),
	)
	return cmd
}

func newSessionSweepCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete sessions idle longer than the session TTL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, func(ctx context.Context, b *bootstrap.App, cfg config.Config) error {
				n, err := b.Sessions.Sweep(ctx)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %d idle sessions (ttl %s)\n", n, cfg.SessionTTL)
				return err
			})
		},
	}
}

func newSessionClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, func(ctx context.Context, b *bootstrap.App, _ config.Config) error {
				n, err := b.Sessions.Reset(ctx)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %d sessions\n", n)
				return err
			})
		},
	}
}
