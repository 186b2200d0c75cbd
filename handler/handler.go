// Package handler adapts Telegram webhook deliveries arriving through API
// Gateway to the relay pipeline.
package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"chat-relay/internal/domain"
	"chat-relay/internal/integrations/telegram"
	"chat-relay/internal/usecase"
)

const (
	secretHeader      = "X-Telegram-Bot-Api-Secret-Token"
	correlationHeader = "X-Correlation-Id"
)

type relay interface {
	Handle(ctx context.Context, msg domain.InboundMessage) usecase.Outcome
}

type Handler struct {
	relay  relay
	secret string
	logger *slog.Logger
}

type Option func(*Handler)

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHandler builds the webhook handler. An empty secret disables the
// X-Telegram-Bot-Api-Secret-Token check.
func NewHandler(r relay, secret string, opts ...Option) (*Handler, error) {
	if r == nil {
		return nil, errors.New("handler: relay must not be nil")
	}
	h := &Handler{relay: r, secret: secret, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type webhookResponse struct {
	OK        bool   `json:"ok"`
	RequestID string `json:"requestId,omitempty"`
	Skipped   bool   `json:"skipped,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handle answers 200 for every parsed update, including ones the relay
// ignores or fails on, so Telegram does not redeliver them.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := header(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = newCorrelationID()
	}
	log := h.logger.With("correlation_id", correlationID)

	if h.secret != "" && subtle.ConstantTimeCompare([]byte(header(req.Headers, secretHeader)), []byte(h.secret)) != 1 {
		log.Warn("webhook secret mismatch")
		return jsonResponse(http.StatusUnauthorized, correlationID, errorResponse{Error: "unauthorized"}), nil
	}

	var update tgbotapi.Update
	if err := json.Unmarshal([]byte(req.Body), &update); err != nil {
		log.Warn("invalid webhook body", "err", err)
		return jsonResponse(http.StatusBadRequest, correlationID, errorResponse{Error: "invalid_body"}), nil
	}

	msg, ok := telegram.FromUpdate(update)
	if !ok {
		log.Debug("update without message ignored", "update_id", update.UpdateID)
		return jsonResponse(http.StatusOK, correlationID, webhookResponse{OK: true, Skipped: true}), nil
	}

	out := h.relay.Handle(ctx, msg)
	if err := out.Err(); err != nil {
		log.Warn("relay finished with step errors", "update_id", update.UpdateID, "request_id", out.Record.RequestID, "err", err)
	}
	return jsonResponse(http.StatusOK, correlationID, webhookResponse{
		OK:        true,
		RequestID: out.Record.RequestID,
		Skipped:   out.Skipped,
	}), nil
}

func jsonResponse(status int, correlationID string, body any) events.APIGatewayProxyResponse {
	b, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		b = []byte(`{"error":"internal"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(b),
	}
}

// header looks a key up case-insensitively; API Gateway preserves the
// client's casing.
func header(headers map[string]string, key string) string {
	if v, ok := headers[key]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

var newCorrelationID = func() string {
	return uuid.NewString()
}
