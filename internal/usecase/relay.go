package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"chat-relay/internal/domain"
)

const defaultMaxTokens = 700

// MatchMode selects how a reply is attached to its history row.
type MatchMode string

const (
	// MatchRequestID patches the row inserted for this message.
	MatchRequestID MatchMode = "request_id"
	// MatchLatest patches the newest row for the user, for tables without a
	// request_id column.
	MatchLatest MatchMode = "latest"
)

type LLMClient interface {
	Complete(ctx context.Context, model string, messages []domain.ChatMessage, maxTokens int) ([]string, error)
}

type HistoryStore interface {
	Insert(ctx context.Context, rec domain.ChatHistoryRecord) error
	Latest(ctx context.Context, userID string) (domain.ChatHistoryRecord, bool, error)
	SetResponse(ctx context.Context, rec domain.ChatHistoryRecord, response string) error
}

type ReplySender interface {
	SendReply(ctx context.Context, chatID int64, text string) error
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// Config holds the relay's static settings.
type Config struct {
	Model         string
	SystemPrompt  string
	FallbackReply string
	MaxTokens     int
	Source        string
	Match         MatchMode
}

// Relay forwards one chat message to the completion endpoint and sends the
// reply back, logging the turn to the history store when one is configured.
type Relay struct {
	llm     LLMClient
	history HistoryStore
	sender  ReplySender
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

type RelayOption func(*Relay)

func WithLogger(l *slog.Logger) RelayOption {
	return func(r *Relay) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithMetrics(m *Metrics) RelayOption {
	return func(r *Relay) {
		r.metrics = m
	}
}

// Outcome reports what happened to one inbound message.
type Outcome struct {
	// Skipped is set for blank messages; nothing else happened.
	Skipped      bool
	Record       domain.ChatHistoryRecord
	Reply        string
	UsedFallback bool
	Errors       []*Error
}

// Err joins the step errors, or returns nil when every step succeeded.
func (o Outcome) Err() error {
	errs := make([]error, 0, len(o.Errors))
	for _, e := range o.Errors {
		errs = append(errs, e)
	}
	return errors.Join(errs...)
}

// NewRelay builds a Relay. history may be nil, which disables persistence.
func NewRelay(llm LLMClient, history HistoryStore, sender ReplySender, cfg Config, opts ...RelayOption) (*Relay, error) {
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if sender == nil {
		return nil, errors.New("usecase: reply sender must not be nil")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("usecase: model must not be empty")
	}
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.FallbackReply == "" {
		cfg.FallbackReply = DefaultFallbackReply
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Source == "" {
		cfg.Source = domain.SourceTelegram
	}
	switch cfg.Match {
	case "":
		cfg.Match = MatchRequestID
	case MatchRequestID, MatchLatest:
	default:
		return nil, errors.New("usecase: unknown history match mode " + string(cfg.Match))
	}

	r := &Relay{
		llm:     llm,
		history: history,
		sender:  sender,
		cfg:     cfg,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Handle runs the pipeline for one message: record inbound, request a
// completion, dispatch the reply, record the response. A failing step is
// logged and the next one still runs; every non-blank message gets exactly
// one reply attempt carrying either the completion or the fallback text.
func (r *Relay) Handle(ctx context.Context, msg domain.InboundMessage) Outcome {
	if strings.TrimSpace(msg.Text) == "" {
		return Outcome{Skipped: true}
	}
	if msg.UserID == "" {
		msg.UserID = domain.UnknownUserID
	}
	log := r.logger.With("chat_id", msg.ChatID, "user_id", msg.UserID)
	log.Info("message received", "text_len", len(msg.Text))

	var out Outcome
	out.Record = domain.ChatHistoryRecord{
		RequestID: newUUID(),
		UserID:    msg.UserID,
		Source:    r.cfg.Source,
		Message:   msg.Text,
		Timestamp: r.now().UTC(),
		Model:     r.cfg.Model,
	}

	if err := r.recordInbound(ctx, out.Record); err != nil {
		log.Error("history insert failed", "request_id", out.Record.RequestID, "err", err)
		out.Errors = append(out.Errors, err)
	}

	reply, err := r.requestCompletion(ctx, msg.Text)
	if err != nil {
		out.Errors = append(out.Errors, err)
		out.UsedFallback = true
		if err.Err == nil {
			log.Warn("completion returned no usable choices", "model", r.cfg.Model, "reason", err.Reason)
		} else {
			attrs := []any{"model", r.cfg.Model, "err", err.Err}
			if status, ok := upstreamStatusCode(err.Err); ok {
				attrs = append(attrs, "status", status)
			}
			log.Error("completion request failed", attrs...)
		}
	}
	out.Reply = reply

	if err := r.dispatch(ctx, msg.ChatID, reply); err != nil {
		log.Error("reply send failed", "err", err)
		out.Errors = append(out.Errors, err)
	}

	if err := r.recordResponse(ctx, out.Record, reply); err != nil {
		log.Error("history update failed", "request_id", out.Record.RequestID, "err", err)
		out.Errors = append(out.Errors, err)
	}

	r.metrics.observe(out)
	return out
}

func (r *Relay) recordInbound(ctx context.Context, rec domain.ChatHistoryRecord) *Error {
	if r.history == nil {
		return nil
	}
	if err := r.history.Insert(ctx, rec); err != nil {
		return newError(StepRecordInbound, "insert_failed", err)
	}
	return nil
}

// requestCompletion always returns a reply; the error explains a fallback.
func (r *Relay) requestCompletion(ctx context.Context, text string) (string, *Error) {
	choices, err := r.llm.Complete(ctx, r.cfg.Model, buildPromptMessages(r.cfg.SystemPrompt, text), r.cfg.MaxTokens)
	if err != nil {
		return r.cfg.FallbackReply, newError(StepCompletion, "request_failed", err)
	}
	if len(choices) == 0 {
		return r.cfg.FallbackReply, newError(StepCompletion, "empty_choices", nil)
	}
	if strings.TrimSpace(choices[0]) == "" {
		return r.cfg.FallbackReply, newError(StepCompletion, "empty_content", nil)
	}
	return choices[0], nil
}

func (r *Relay) dispatch(ctx context.Context, chatID int64, reply string) *Error {
	if err := r.sender.SendReply(ctx, chatID, reply); err != nil {
		return newError(StepDispatch, "send_failed", err)
	}
	return nil
}

func (r *Relay) recordResponse(ctx context.Context, rec domain.ChatHistoryRecord, reply string) *Error {
	if r.history == nil {
		return nil
	}
	target := rec
	if r.cfg.Match == MatchLatest {
		latest, found, err := r.history.Latest(ctx, rec.UserID)
		if err != nil {
			return newError(StepRecordResponse, "select_failed", err)
		}
		if !found {
			return nil
		}
		target = latest
	}
	if err := r.history.SetResponse(ctx, target, reply); err != nil {
		return newError(StepRecordResponse, "update_failed", err)
	}
	return nil
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

var newUUID = func() string {
	return uuid.NewString()
}
