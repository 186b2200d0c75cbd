package usecase

import (
	"strings"

	"chat-relay/internal/domain"
)

const (
	DefaultSystemPrompt  = "You are Mike, a helpful AI assistant for Pak Ya."
	DefaultFallbackReply = "Maaf Pak Ya, ada masalah teknikal. Sila cuba lagi."
)

// buildPromptMessages returns the single-turn prompt: persona, then the user text.
func buildPromptMessages(systemPrompt, text string) []domain.ChatMessage {
	return []domain.ChatMessage{
		{Role: "system", Content: strings.TrimSpace(systemPrompt)},
		{Role: "user", Content: text},
	}
}
