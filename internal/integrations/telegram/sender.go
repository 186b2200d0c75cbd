// Package telegram adapts the Telegram Bot API to the relay and the trial
// monitor.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// botAPI is the send side of *tgbotapi.BotAPI.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Sender delivers relay replies rendered as HTML.
type Sender struct {
	api botAPI
}

func NewSender(api botAPI) (*Sender, error) {
	if api == nil {
		return nil, errors.New("telegram: bot api must not be nil")
	}
	return &Sender{api: api}, nil
}

func (s *Sender) SendReply(ctx context.Context, chatID int64, text string) error {
	return send(ctx, s.api, chatID, text, tgbotapi.ModeHTML)
}

// Alerter sends Markdown alerts to one fixed chat.
type Alerter struct {
	api    botAPI
	chatID int64
}

func NewAlerter(api botAPI, chatID int64) (*Alerter, error) {
	if api == nil {
		return nil, errors.New("telegram: bot api must not be nil")
	}
	if chatID == 0 {
		return nil, errors.New("telegram: alert chat id must not be zero")
	}
	return &Alerter{api: api, chatID: chatID}, nil
}

func (a *Alerter) SendAlert(ctx context.Context, text string) error {
	return send(ctx, a.api, a.chatID, text, tgbotapi.ModeMarkdown)
}

func send(ctx context.Context, api botAPI, chatID int64, text, parseMode string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("telegram: message text must not be empty")
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = parseMode
	if _, err := api.Send(msg); err != nil {
		return fmt.Errorf("telegram: send message to %d: %w", chatID, err)
	}
	return nil
}
