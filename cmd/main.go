package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"piggybank/handler"
	"piggybank/internal/bootstrap"
	"piggybank/internal/config"
	"piggybank/internal/integrations/openai"
	"piggybank/internal/integrations/paramstore"
	"piggybank/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})))

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	// ---- Ledger, sessions, tools ----
	app, err := bootstrap.Open(ctx, cfg, &awsCfg)
	if err != nil {
		slog.Error("failed to open piggy bank", "err", err)
		os.Exit(1)
	}
	if err := app.PrepareSessions(ctx, cfg.ClearSessionsOnStart); err != nil {
		slog.Error("failed to prepare sessions", "err", err)
		os.Exit(1)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		slog.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	openaiClient, err := openai.NewClient(ssmClient, cfg.ParamPrefix, openai.WithBaseURL(cfg.OpenAIBaseURL))
	if err != nil {
		slog.Error("failed to create OpenAI client", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	askService, err := usecase.NewAskService(ssmClient, openaiClient, app.Ledger, app.Sessions, app.Tools, usecase.Options{
		ParamPrefix:    cfg.ParamPrefix,
		MaxQuestionLen: cfg.MaxQuestionLen,
		MaxToolRounds:  cfg.MaxToolRounds,
	})
	if err != nil {
		slog.Error("failed to create ask service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(askService)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}
