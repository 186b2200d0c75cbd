package domain

import "time"

// SourceTelegram tags records written by the Telegram relay.
const SourceTelegram = "telegram"

// ChatHistoryRecord is one persisted relay turn. It is inserted with a nil
// Response before the completion call and patched once a reply exists.
type ChatHistoryRecord struct {
	// ID is the backend row key. Empty until the row is read back.
	ID        string
	RequestID string
	UserID    string
	Source    string
	Message   string
	Response  *string
	Timestamp time.Time
	Model     string
}
