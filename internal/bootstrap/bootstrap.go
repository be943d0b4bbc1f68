// Package bootstrap wires the ledger, sessions and tools from configuration.
// Both the Lambda entry point and the operator CLI build on it.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"piggybank/internal/config"
	"piggybank/internal/ledger"
	"piggybank/internal/repository"
	"piggybank/internal/repository/sqlite"
	"piggybank/internal/session"
	"piggybank/internal/tools"
	"piggybank/internal/usecase"
)

type App struct {
	Store    *sqlite.Store
	Ledger   *ledger.Service
	Sessions *session.Manager
	Tools    *tools.Dispatcher
}

// Open opens the SQLite database and builds the services on top of it.
// awsCfg is only needed for the dynamodb session backend; when nil it is
// loaded from the default chain on demand.
func Open(ctx context.Context, cfg config.Config, awsCfg *aws.Config) (*App, error) {
	store, err := sqlite.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	app, err := build(ctx, cfg, awsCfg, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return app, nil
}

func build(ctx context.Context, cfg config.Config, awsCfg *aws.Config, store *sqlite.Store) (*App, error) {
	led, err := ledger.NewService(store, ledger.WithOverdraftLimit(cfg.OverdraftLimitCents))
	if err != nil {
		return nil, fmt.Errorf("bootstrap: ledger: %w", err)
	}
	backend, err := sessionStore(ctx, cfg, awsCfg, store)
	if err != nil {
		return nil, err
	}
	sessions, err := session.NewManager(backend,
		session.WithTTL(cfg.SessionTTL),
		session.WithSeed(usecase.SeedAccounts(led)),
		session.WithLazySweep(cfg.SweepInterval),
	)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: sessions: %w", err)
	}
	dispatcher, err := tools.NewDispatcher(led)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: tools: %w", err)
	}
	return &App{Store: store, Ledger: led, Sessions: sessions, Tools: dispatcher}, nil
}

func sessionStore(ctx context.Context, cfg config.Config, awsCfg *aws.Config, store *sqlite.Store) (session.Store, error) {
	switch cfg.SessionBackend {
	case config.BackendSQLite:
		return store, nil
	case config.BackendDynamoDB:
		if awsCfg == nil {
			loaded, err := awsconfig.LoadDefaultConfig(ctx)
			if err != nil {
				return nil, fmt.Errorf("bootstrap: load AWS config: %w", err)
			}
			awsCfg = &loaded
		}
		client, err := repository.New(awsdynamodb.NewFromConfig(*awsCfg), cfg.StateTable)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: dynamodb sessions: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown session backend %q", cfg.SessionBackend)
	}
}

// PrepareSessions runs the startup session pass: a bulk clear when
// configured, otherwise a sweep of idle sessions.
func (a *App) PrepareSessions(ctx context.Context, clear bool) error {
	if clear {
		n, err := a.Sessions.Reset(ctx)
		if err != nil {
			return fmt.Errorf("bootstrap: clear sessions: %w", err)
		}
		slog.Info("cleared sessions at startup", "deleted", n)
		return nil
	}
	n, err := a.Sessions.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: sweep sessions: %w", err)
	}
	slog.Info("swept idle sessions at startup", "deleted", n)
	return nil
}

func (a *App) Close() error {
	return a.Store.Close()
}
