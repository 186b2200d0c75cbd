package domain

// ChatMessage is the provider-agnostic chat message shape sent to the
// completion endpoint.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UnknownUserID is used when the platform does not report a sender.
const UnknownUserID = "unknown"

// InboundMessage is one chat message received from the platform.
type InboundMessage struct {
	ChatID int64
	UserID string
	Text   string
}
