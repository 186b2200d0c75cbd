package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"chat-relay/internal/domain"
)

const defaultPollTimeout = 30

// updatesAPI is the long-polling side of *tgbotapi.BotAPI.
type updatesAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Handler processes one inbound message.
type Handler func(ctx context.Context, msg domain.InboundMessage)

// Listener long-polls for updates and runs Handler for every message in
// its own goroutine.
type Listener struct {
	api         updatesAPI
	logger      *slog.Logger
	pollTimeout int
	onPanic     func(v any)
}

type ListenerOption func(*Listener)

func WithListenerLogger(l *slog.Logger) ListenerOption {
	return func(ln *Listener) {
		if l != nil {
			ln.logger = l
		}
	}
}

// WithPanicHandler replaces the default crash-after-delay behaviour for a
// panicking message handler.
func WithPanicHandler(f func(v any)) ListenerOption {
	return func(ln *Listener) {
		if f != nil {
			ln.onPanic = f
		}
	}
}

func NewListener(api updatesAPI, opts ...ListenerOption) (*Listener, error) {
	if api == nil {
		return nil, errors.New("telegram: updates api must not be nil")
	}
	l := &Listener{
		api:         api,
		logger:      slog.Default(),
		pollTimeout: defaultPollTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.onPanic == nil {
		l.onPanic = l.crash
	}
	return l, nil
}

// Run blocks until ctx is cancelled or the update stream closes. In-flight
// handlers are not cancelled with ctx; Run waits for them before returning.
func (l *Listener) Run(ctx context.Context, handle Handler) error {
	if handle == nil {
		return errors.New("telegram: handler must not be nil")
	}
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = l.pollTimeout
	updates := l.api.GetUpdatesChan(cfg)

	handlerCtx := context.WithoutCancel(ctx)
	var wg sync.WaitGroup
	defer wg.Wait()

	l.logger.Info("telegram polling started")
	for {
		select {
		case <-ctx.Done():
			l.api.StopReceivingUpdates()
			l.logger.Info("telegram polling stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			msg, ok := FromUpdate(update)
			if !ok {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() {
					if v := recover(); v != nil {
						l.onPanic(v)
					}
				}()
				handle(handlerCtx, msg)
			}()
		}
	}
}

var (
	crashDelay = time.Second
	exit       = os.Exit
)

func (l *Listener) crash(v any) {
	l.logger.Error("uncaught panic in message handler", "panic", fmt.Sprint(v), "stack", string(debug.Stack()))
	time.Sleep(crashDelay)
	exit(1)
}

// FromUpdate extracts the relay's view of an update. Updates without a
// message (edits, callbacks, channel posts) are ignored.
func FromUpdate(update tgbotapi.Update) (domain.InboundMessage, bool) {
	m := update.Message
	if m == nil {
		return domain.InboundMessage{}, false
	}
	msg := domain.InboundMessage{UserID: domain.UnknownUserID, Text: m.Text}
	if msg.Text == "" {
		msg.Text = m.Caption
	}
	if m.Chat != nil {
		msg.ChatID = m.Chat.ID
	}
	if m.From != nil && m.From.ID != 0 {
		msg.UserID = strconv.FormatInt(m.From.ID, 10)
	}
	return msg, true
}
