package telegram

import (
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// botLogger routes the client library's own log lines (polling failures,
// retries) into slog.
type botLogger struct {
	logger *slog.Logger
}

func (b botLogger) Println(v ...interface{}) {
	b.logger.Warn("telegram client", "detail", strings.TrimSpace(fmt.Sprintln(v...)))
}

func (b botLogger) Printf(format string, v ...interface{}) {
	b.logger.Warn("telegram client", "detail", strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// InstallLogger makes the Bot API client log through logger.
func InstallLogger(logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	return tgbotapi.SetLogger(botLogger{logger: logger})
}
