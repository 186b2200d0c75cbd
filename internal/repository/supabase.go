package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/supabase-community/postgrest-go"

	"chat-relay/internal/domain"
)

const (
	supabaseColumns       = "id,request_id,user_id,source,message,response,ts,model"
	supabaseLegacyColumns = "id,user_id,source,message,response,ts,model"
	supabaseTimeout       = 10 * time.Second
)

// Zone-less layout used by "timestamp without time zone" columns.
const pgTimestamp = "2006-01-02T15:04:05.999999999"

// supabaseRow is the chat_history row shape exposed by PostgREST.
type supabaseRow struct {
	ID        json.RawMessage `json:"id,omitempty"`
	RequestID *string         `json:"request_id,omitempty"`
	UserID    string          `json:"user_id"`
	Source    string          `json:"source"`
	Message   string          `json:"message"`
	Response  *string         `json:"response"`
	Timestamp string          `json:"ts"`
	Model     string          `json:"model"`
}

// Supabase talks to a Supabase project's PostgREST endpoint.
type Supabase struct {
	restURL   string
	apiKey    string
	table     string
	requestID bool
	transport http.RoundTripper
	timeout   time.Duration
}

type SupabaseOption func(*Supabase)

// WithSupabaseHTTPClient takes the transport and timeout from httpClient.
func WithSupabaseHTTPClient(httpClient *http.Client) SupabaseOption {
	return func(s *Supabase) {
		if httpClient == nil {
			return
		}
		if httpClient.Transport != nil {
			s.transport = httpClient.Transport
		}
		if httpClient.Timeout > 0 {
			s.timeout = httpClient.Timeout
		}
	}
}

// WithSupabaseRequestID controls whether the table has a request_id
// column. Legacy chat_history tables do not; rows are then written without
// it and patched by id only.
func WithSupabaseRequestID(enabled bool) SupabaseOption {
	return func(s *Supabase) {
		s.requestID = enabled
	}
}

// NewSupabase creates a Supabase row store for table.
func NewSupabase(baseURL, apiKey, table string, opts ...SupabaseOption) (*Supabase, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("repository: supabase URL must not be empty")
	}
	if u, err := url.Parse(baseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("repository: invalid supabase URL %q", baseURL)
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("repository: supabase key must not be empty")
	}
	if strings.TrimSpace(table) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	s := &Supabase{
		restURL:   baseURL + "/rest/v1",
		apiKey:    strings.TrimSpace(apiKey),
		table:     table,
		requestID: true,
		transport: http.DefaultTransport,
		timeout:   supabaseTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Insert posts one row with a null response.
func (s *Supabase) Insert(ctx context.Context, rec domain.ChatHistoryRecord) error {
	if err := validateRecord("Insert", rec); err != nil {
		return err
	}
	row := supabaseRow{
		UserID:    rec.UserID,
		Source:    rec.Source,
		Message:   rec.Message,
		Response:  rec.Response,
		Timestamp: timestampOrNow(rec.Timestamp).Format(time.RFC3339Nano),
		Model:     rec.Model,
	}
	if s.requestID {
		requestID := rec.RequestID
		row.RequestID = &requestID
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	client, rt, err := s.client(ctx)
	if err != nil {
		return fmt.Errorf("repository: Insert: %w", err)
	}
	if _, _, err := client.From(s.table).Insert([]supabaseRow{row}, false, "", "minimal", "").Execute(); err != nil {
		return s.wrap("Insert", rt, err)
	}
	return nil
}

// Latest selects the newest row for userID ordered by ts.
func (s *Supabase) Latest(ctx context.Context, userID string) (domain.ChatHistoryRecord, bool, error) {
	columns := supabaseColumns
	if !s.requestID {
		columns = supabaseLegacyColumns
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	client, rt, err := s.client(ctx)
	if err != nil {
		return domain.ChatHistoryRecord{}, false, fmt.Errorf("repository: Latest: %w", err)
	}
	raw, _, err := client.From(s.table).
		Select(columns, "", false).
		Eq("user_id", userID).
		Order("ts", &postgrest.OrderOpts{Ascending: false}).
		Limit(1, "").
		Execute()
	if err != nil {
		return domain.ChatHistoryRecord{}, false, s.wrap("Latest", rt, err)
	}

	var rows []supabaseRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return domain.ChatHistoryRecord{}, false, fmt.Errorf("repository: Latest decode: %w", err)
	}
	if len(rows) == 0 {
		return domain.ChatHistoryRecord{}, false, nil
	}
	rec, err := rows[0].record()
	if err != nil {
		return domain.ChatHistoryRecord{}, false, fmt.Errorf("repository: Latest decode: %w", err)
	}
	return rec, true, nil
}

// SetResponse patches the row by id when known, otherwise by request_id.
func (s *Supabase) SetResponse(ctx context.Context, rec domain.ChatHistoryRecord, response string) error {
	var column, value string
	switch {
	case rec.ID != "":
		column, value = "id", rec.ID
	case rec.RequestID != "" && s.requestID:
		column, value = "request_id", rec.RequestID
	default:
		return errors.New("repository: SetResponse: row id or request id is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	client, rt, err := s.client(ctx)
	if err != nil {
		return fmt.Errorf("repository: SetResponse: %w", err)
	}
	raw, _, err := client.From(s.table).
		Update(map[string]string{"response": response}, "representation", "").
		Eq(column, value).
		Execute()
	if err != nil {
		return s.wrap("SetResponse", rt, err)
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return fmt.Errorf("repository: SetResponse decode: %w", err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("repository: SetResponse: %w", ErrNotFound)
	}
	return nil
}

// client builds a PostgREST client whose requests carry ctx. postgrest-go
// has no per-call context, so a fresh client is bound to each operation.
func (s *Supabase) client(ctx context.Context) (*postgrest.Client, *contextTransport, error) {
	c := postgrest.NewClient(s.restURL, "", nil)
	if c.ClientError != nil {
		return nil, nil, c.ClientError
	}
	c.SetApiKey(s.apiKey).SetAuthToken(s.apiKey)
	rt := &contextTransport{ctx: ctx, next: s.transport}
	c.Transport.Parent = rt
	return c, rt, nil
}

// wrap attaches the HTTP status, which postgrest-go drops from its errors.
func (s *Supabase) wrap(op string, rt *contextTransport, err error) error {
	if rt.status >= 300 {
		err = &HTTPStatusError{StatusCode: rt.status, URL: s.restURL + "/" + s.table, Body: err.Error()}
	}
	return fmt.Errorf("repository: %s: %w", op, err)
}

// contextTransport binds requests to ctx and remembers the last status.
type contextTransport struct {
	ctx    context.Context
	next   http.RoundTripper
	status int
}

func (t *contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	res, err := t.next.RoundTrip(req.WithContext(t.ctx))
	if res != nil {
		t.status = res.StatusCode
	}
	return res, err
}

func (r supabaseRow) record() (domain.ChatHistoryRecord, error) {
	rec := domain.ChatHistoryRecord{
		ID:       strings.Trim(string(r.ID), `"`),
		UserID:   r.UserID,
		Source:   r.Source,
		Message:  r.Message,
		Response: r.Response,
		Model:    r.Model,
	}
	if r.RequestID != nil {
		rec.RequestID = *r.RequestID
	}
	if r.Timestamp != "" {
		ts, err := parseTimestamp(r.Timestamp)
		if err != nil {
			return domain.ChatHistoryRecord{}, err
		}
		rec.Timestamp = ts
	}
	return rec, nil
}

// parseTimestamp accepts timestamptz output and zone-less timestamps,
// which are read as UTC.
func parseTimestamp(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts, nil
	}
	ts, err := time.Parse(pgTimestamp, strings.Replace(s, " ", "T", 1))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse ts %q: %w", s, err)
	}
	return ts.UTC(), nil
}
