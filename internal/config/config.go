// Package config reads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendSupabase = "supabase"
	BackendDynamoDB = "dynamodb"
	BackendPostgres = "postgres"
	BackendNone     = "none"
)

const (
	defaultBaseURL        = "https://openrouter.ai/api/v1"
	defaultModel          = "meta-llama/llama-3.1-8b-instruct:free"
	defaultMaxTokens      = 700
	defaultHistoryTable   = "chat_history"
	defaultStatusAddr     = ":5000"
	defaultHeartbeat      = 5 * time.Minute
	defaultRequestTimeout = 60 * time.Second

	defaultTrialEnd      = "2025-09-06"
	defaultCheckInterval = 6 * time.Hour
	defaultThresholdDays = 3
)

// LookupEnv matches os.LookupEnv.
type LookupEnv func(key string) (string, bool)

type Logging struct {
	Level  string
	Format string
}

// Relay configures cmd/relay and cmd/webhook.
type Relay struct {
	Logging Logging

	ParamPrefix      string
	TelegramToken    string
	OpenRouterAPIKey string
	BaseURL          string
	Model            string
	MaxTokens        int
	SystemPrompt     string
	FallbackReply    string
	RequestTimeout   time.Duration

	HistoryBackend string
	HistoryTable   string
	HistoryMatch   string
	SupabaseURL    string
	SupabaseKey    string
	DatabaseURL    string

	HeartbeatInterval time.Duration
	StatusAddr        string
	WebhookSecret     string
}

// Monitor configures cmd/monitor.
type Monitor struct {
	Logging Logging

	BotToken        string
	ChatID          int64
	TrialEnd        time.Time
	CheckInterval   time.Duration
	ThresholdDays   int
	DeployCommand   string
	RegisterCommand string
	WorkDir         string
	StatusAddr      string
}

// LoadDotEnv loads the given files (".env" by default) into the process
// environment. Missing files are ignored; existing variables win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return nil
}

// LoadRelay parses relay settings. Secrets may still be empty when
// PARAM_PREFIX is set; call Validate once they are resolved.
func LoadRelay(lookup LookupEnv) (Relay, error) {
	r := reader{lookup: lookup}
	cfg := Relay{
		Logging:          loadLogging(r),
		ParamPrefix:      r.str("PARAM_PREFIX", ""),
		TelegramToken:    r.str("TELEGRAM_BOT_TOKEN", ""),
		OpenRouterAPIKey: r.str("OPENROUTER_API_KEY", ""),
		BaseURL:          r.str("OPENAI_BASE_URL", defaultBaseURL),
		Model:            r.str("OPENAI_MODEL", defaultModel),
		MaxTokens:        r.integer("MAX_TOKENS", defaultMaxTokens),
		SystemPrompt:     r.str("SYSTEM_PROMPT", ""),
		FallbackReply:    r.str("FALLBACK_REPLY", ""),
		RequestTimeout:   r.duration("REQUEST_TIMEOUT", defaultRequestTimeout),

		HistoryBackend: strings.ToLower(r.str("HISTORY_BACKEND", BackendSupabase)),
		HistoryTable:   r.str("HISTORY_TABLE", defaultHistoryTable),
		HistoryMatch:   strings.ToLower(r.str("HISTORY_MATCH", "request_id")),
		SupabaseURL:    r.str("SUPABASE_URL", ""),
		SupabaseKey:    r.str("SUPABASE_ANON_KEY", r.str("SUPABASE_SERVICE_ROLE_KEY", "")),
		DatabaseURL:    r.str("DATABASE_URL", ""),

		HeartbeatInterval: r.duration("HEARTBEAT_INTERVAL", defaultHeartbeat),
		StatusAddr:        r.raw("STATUS_ADDR", defaultStatusAddr),
		WebhookSecret:     r.str("TELEGRAM_WEBHOOK_SECRET", ""),
	}
	if cfg.MaxTokens <= 0 {
		r.fail("MAX_TOKENS", "must be positive")
	}
	if cfg.HeartbeatInterval <= 0 {
		r.fail("HEARTBEAT_INTERVAL", "must be positive")
	}
	switch cfg.HistoryBackend {
	case BackendSupabase, BackendDynamoDB, BackendPostgres, BackendNone:
	default:
		r.fail("HISTORY_BACKEND", "unknown backend "+strconv.Quote(cfg.HistoryBackend))
	}
	switch cfg.HistoryMatch {
	case "request_id", "latest":
	default:
		r.fail("HISTORY_MATCH", "must be request_id or latest")
	}
	return cfg, r.err()
}

// Validate reports missing credentials. Supabase credentials are optional;
// see SupabaseConfigured.
func (c Relay) Validate() error {
	var errs []error
	if c.TelegramToken == "" {
		errs = append(errs, missing("TELEGRAM_BOT_TOKEN"))
	}
	if c.OpenRouterAPIKey == "" {
		errs = append(errs, missing("OPENROUTER_API_KEY"))
	}
	if c.HistoryBackend == BackendPostgres && c.DatabaseURL == "" {
		errs = append(errs, missing("DATABASE_URL"))
	}
	return errors.Join(errs...)
}

// SupabaseConfigured reports whether both Supabase credentials are set.
// Without them the default backend turns persistence off instead of
// failing startup.
func (c Relay) SupabaseConfigured() bool {
	return c.SupabaseURL != "" && c.SupabaseKey != ""
}

// LoadMonitor parses monitor settings; BOT_TOKEN and CHAT_ID are required.
func LoadMonitor(lookup LookupEnv) (Monitor, error) {
	r := reader{lookup: lookup}
	cfg := Monitor{
		Logging:         loadLogging(r),
		BotToken:        r.str("BOT_TOKEN", ""),
		CheckInterval:   r.duration("CHECK_INTERVAL", defaultCheckInterval),
		ThresholdDays:   r.integer("TRIAL_THRESHOLD_DAYS", defaultThresholdDays),
		DeployCommand:   r.str("DEPLOY_COMMAND", ""),
		RegisterCommand: r.str("REGISTER_COMMAND", ""),
		WorkDir:         r.str("DEPLOY_DIR", ""),
		StatusAddr:      r.raw("STATUS_ADDR", ""),
	}
	if cfg.BotToken == "" {
		r.errs = append(r.errs, missing("BOT_TOKEN"))
	}

	chatID := r.str("CHAT_ID", "")
	if chatID == "" {
		r.errs = append(r.errs, missing("CHAT_ID"))
	} else if id, err := strconv.ParseInt(chatID, 10, 64); err != nil {
		r.fail("CHAT_ID", "must be an integer")
	} else {
		cfg.ChatID = id
	}

	end, err := ParseDate(r.str("TRIAL_END_DATE", defaultTrialEnd))
	if err != nil {
		r.fail("TRIAL_END_DATE", err.Error())
	}
	cfg.TrialEnd = end

	if cfg.CheckInterval <= 0 {
		r.fail("CHECK_INTERVAL", "must be positive")
	}
	if cfg.ThresholdDays < 0 {
		r.fail("TRIAL_THRESHOLD_DAYS", "must not be negative")
	}
	return cfg, r.err()
}

// ParseDate accepts a calendar date (midnight UTC) or an RFC 3339 timestamp.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected YYYY-MM-DD or RFC 3339, got %q", s)
	}
	return t, nil
}

func loadLogging(r reader) Logging {
	return Logging{
		Level:  r.str("LOG_LEVEL", "info"),
		Format: r.str("LOG_FORMAT", "json"),
	}
}

func missing(key string) error {
	return fmt.Errorf("config: %s is required", key)
}

type reader struct {
	lookup LookupEnv
	errs   []error
}

func (r *reader) get(key string) string {
	v, _ := r.lookup(key)
	return strings.TrimSpace(v)
}

// raw returns def only when key is unset, so an explicit empty value
// switches the setting off.
func (r *reader) raw(key, def string) string {
	v, ok := r.lookup(key)
	if !ok {
		return def
	}
	return strings.TrimSpace(v)
}

func (r *reader) str(key, def string) string {
	if v := r.get(key); v != "" {
		return v
	}
	return def
}

func (r *reader) integer(key string, def int) int {
	v := r.get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, "must be an integer")
		return def
	}
	return n
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := r.get(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, "must be a duration like 5m")
		return def
	}
	return d
}

func (r *reader) fail(key, reason string) {
	r.errs = append(r.errs, fmt.Errorf("config: %s %s", key, reason))
}

func (r *reader) err() error {
	return errors.Join(r.errs...)
}
