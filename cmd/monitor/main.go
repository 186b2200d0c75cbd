package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"

	"chat-relay/internal/config"
	"chat-relay/internal/integrations/telegram"
	"chat-relay/internal/logging"
	"chat-relay/internal/monitor"
	"chat-relay/internal/status"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("failed to load .env", "err", err)
		os.Exit(1)
	}
	cfg, err := config.LoadMonitor(os.LookupEnv)
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

	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		slog.Error("failed to connect telegram", "err", err)
		os.Exit(1)
	}
	alerter, err := telegram.NewAlerter(bot, cfg.ChatID)
	if err != nil {
		slog.Error("failed to create alerter", "err", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	m, err := monitor.New(monitor.Config{
		Deadline:        cfg.TrialEnd,
		ThresholdDays:   cfg.ThresholdDays,
		Interval:        cfg.CheckInterval,
		DeployCommand:   cfg.DeployCommand,
		RegisterCommand: cfg.RegisterCommand,
	}, alerter, monitor.ExecRunner{Dir: cfg.WorkDir},
		monitor.WithLogger(logger),
		monitor.WithMetrics(monitor.NewMetrics(reg)),
	)
	if err != nil {
		slog.Error("failed to create monitor", "err", err)
		os.Exit(1)
	}

	if cfg.StatusAddr != "" {
		srv, err := status.New(cfg.StatusAddr, reg, logger)
		if err != nil {
			slog.Error("failed to create status server", "err", err)
			os.Exit(1)
		}
		go func() {
			if err := srv.Run(ctx); err != nil {
				slog.Error("status server stopped", "err", err)
			}
		}()
	}

	slog.Info("trial monitor started", "deadline", cfg.TrialEnd.Format("2006-01-02"), "interval", cfg.CheckInterval.String())
	if err := m.Run(ctx); err != nil {
		slog.Error("monitor stopped", "err", err)
		os.Exit(1)
	}
	slog.Info("trial monitor stopped")
}
