package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"piggybank/internal/bootstrap"
	"piggybank/internal/config"
	"piggybank/internal/ledger"
	"piggybank/internal/session"
	"piggybank/internal/transport/mcpserver"
)

func newMCPCmd(a *app) *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the piggy bank tools over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, func(ctx context.Context, b *bootstrap.App, cfg config.Config) error {
				sub, err := b.Ledger.Authenticate(ctx, token)
				if err != nil {
					if errors.Is(err, ledger.ErrNotFound) {
						return errors.New("mcp: unknown subscription token")
					}
					return fmt.Errorf("mcp: authenticate: %w", err)
				}
				srv, err := mcpserver.New(b.Tools, sub.ID, Version)
				if err != nil {
					return err
				}
				reaper, err := session.NewReaper(b.Sessions, cfg.SweepInterval)
				if err != nil {
					return err
				}

				slog.Info("serving mcp", "subscription_id", sub.ID, "subscription", sub.Name)
				ctx, cancel := context.WithCancel(ctx)
				defer cancel()
				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					// The reaper stops once the client goes away.
					defer cancel()
					return srv.Run(gctx, a.transport())
				})
				g.Go(func() error {
					return reaper.Run(gctx)
				})
				return g.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "subscription token the tools act for")
	_ = cmd.MarkFlagRequired("token")
	return cmd
}
