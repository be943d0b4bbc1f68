// Package cli implements the piggybank operator commands.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"piggybank/internal/bootstrap"
	"piggybank/internal/config"
)

// Version is stamped at build time.
var Version = "dev"

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCmd(config.Load, func() mcp.Transport { return &mcp.StdioTransport{} }).ExecuteContext(ctx)
}

type loadFunc func(files ...string) (config.Config, error)

// app is opened per command so that help and version never touch the database.
type app struct {
	load      loadFunc
	transport func() mcp.Transport
	envFile   string
}

// run opens the piggy bank for the duration of fn. Logs go to stderr since
// stdout may carry the MCP stream.
func (a *app) run(cmd *cobra.Command, fn func(ctx context.Context, b *bootstrap.App, cfg config.Config) error) error {
	var files []string
	if a.envFile != "" {
		files = append(files, a.envFile)
	}
	cfg, err := a.load(files...)
	if err != nil {
		return err
	}
	slog.SetDefault(newLogger(cmd.ErrOrStderr(), cfg.LogLevel))

	b, err := bootstrap.Open(cmd.Context(), cfg, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			slog.Warn("close database", "err", err)
		}
	}()
	return fn(cmd.Context(), b, cfg)
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func newRootCmd(load loadFunc, transport func() mcp.Transport) *cobra.Command {
	a := &app{load: load, transport: transport}
	rootCmd := &cobra.Command{
		Use:           "piggybank",
		Short:         "Operate the piggy bank ledger",
		Long:          "piggybank provisions subscriptions, maintains conversation sessions and serves the piggy bank tools over MCP.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&a.envFile, "env-file", "", "load configuration from this file instead of .env")

	rootCmd.AddCommand(
		newVersionCmd(),
		newSubscriptionCmd(a),
		newSessionCmd(a),
		newMCPCmd(a),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), Version)
			return err
		},
	}
}
