package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"chat-relay/handler"
	"chat-relay/internal/app"
	"chat-relay/internal/config"
	"chat-relay/internal/integrations/telegram"
	"chat-relay/internal/logging"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadRelay(os.LookupEnv)
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format, os.Stdout)
	slog.SetDefault(logger)
	if err := telegram.InstallLogger(logger); err != nil {
		slog.Error("failed to install telegram logger", "err", err)
		os.Exit(1)
	}

	// No registry: Lambda has no scrape endpoint.
	relay, err := app.BuildRelay(ctx, cfg, nil, logger)
	if err != nil {
		slog.Error("failed to build relay", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(relay.Relay, cfg.WebhookSecret, handler.WithLogger(logger))
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}
