// Package repository persists ChatHistoryRecords to the configured row store.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chat-relay/internal/domain"
)

// ErrNotFound is returned when a response patch matched no row.
var ErrNotFound = errors.New("repository: record not found")

// Store is implemented by every history backend.
type Store interface {
	Insert(ctx context.Context, rec domain.ChatHistoryRecord) error
	Latest(ctx context.Context, userID string) (domain.ChatHistoryRecord, bool, error)
	SetResponse(ctx context.Context, rec domain.ChatHistoryRecord, response string) error
}

var (
	_ Store = (*Client)(nil)
	_ Store = (*Supabase)(nil)
	_ Store = (*Postgres)(nil)
)

// HTTPStatusError captures non-2xx row store responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("repository: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

func validateRecord(op string, rec domain.ChatHistoryRecord) error {
	if rec.RequestID == "" {
		return fmt.Errorf("repository: %s: request id is required", op)
	}
	if rec.UserID == "" {
		return fmt.Errorf("repository: %s: user id is required", op)
	}
	return nil
}

func timestampOrNow(ts time.Time) time.Time {
	if ts.IsZero() {
		return time.Now().UTC()
	}
	return ts.UTC()
}
