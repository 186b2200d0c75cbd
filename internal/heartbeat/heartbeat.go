// Package heartbeat emits a periodic liveness log line.
package heartbeat

import (
	"context"
	"log/slog"
	"time"
)

const DefaultInterval = 5 * time.Minute

// Run logs a heartbeat every interval until ctx is cancelled.
func Run(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			logger.Info("heartbeat", "at", now.UTC().Format(time.RFC3339))
		}
	}
}
