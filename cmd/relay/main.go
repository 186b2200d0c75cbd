package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"chat-relay/internal/app"
	"chat-relay/internal/config"
	"chat-relay/internal/domain"
	"chat-relay/internal/heartbeat"
	"chat-relay/internal/integrations/telegram"
	"chat-relay/internal/logging"
	"chat-relay/internal/status"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("failed to load .env", "err", err)
		os.Exit(1)
	}
	cfg, err := config.LoadRelay(os.LookupEnv)
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	slog.SetDefault(logger)
	if err := telegram.InstallLogger(logger); err != nil {
		slog.Error("failed to install telegram logger", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	relay, err := app.BuildRelay(ctx, cfg, reg, logger)
	if err != nil {
		slog.Error("failed to build relay", "err", err)
		os.Exit(1)
	}
	defer relay.Close()

	listener, err := telegram.NewListener(relay.Bot, telegram.WithListenerLogger(logger))
	if err != nil {
		slog.Error("failed to create listener", "err", err)
		os.Exit(1)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		heartbeat.Run(ctx, cfg.HeartbeatInterval, logger)
	}()

	if cfg.StatusAddr != "" {
		srv, err := status.New(cfg.StatusAddr, reg, logger)
		if err != nil {
			slog.Error("failed to create status server", "err", err)
			os.Exit(1)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx); err != nil {
				slog.Error("status server stopped", "err", err)
			}
		}()
	}

	slog.Info("relay started", "model", cfg.Model, "history_backend", cfg.HistoryBackend)
	err = listener.Run(ctx, func(ctx context.Context, msg domain.InboundMessage) {
		relay.Relay.Handle(ctx, msg)
	})
	stop()
	wg.Wait()
	if err != nil {
		slog.Error("listener stopped", "err", err)
		os.Exit(1)
	}
	slog.Info("relay stopped")
}
