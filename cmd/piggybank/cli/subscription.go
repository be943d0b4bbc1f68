package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"piggybank/internal/bootstrap"
	"piggybank/internal/config"
)

func newSubscriptionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscription",
		Short: "Manage subscriptions",
	}
	cmd.AddCommand(newSubscriptionCreateCmd(a))
	return cmd
}

func newSubscriptionCreateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create a subscription and print its access token",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.Join(args, " ")
			return a.run(cmd, func(ctx context.Context, b *bootstrap.App, _ config.Config) error {
				sub, err := b.Ledger.CreateSubscription(ctx, name)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				_, _ = fmt.Fprintf(out, "subscription: %d\t%s\n", sub.ID, sub.Name)
				_, err = fmt.Fprintf(out, "token: %s\n", sub.Token)
				return err
			})
		},
	}
}
