package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func env(vals map[string]string) LookupEnv {
	return func(key string) (string, bool) {
		v, ok := vals[key]
		return v, ok
	}
}

func TestLoadRelay_Defaults(t *testing.T) {
	cfg, err := LoadRelay(env(map[string]string{}))
	require.NoError(t, err)
	require.Equal(t, "https://openrouter.ai/api/v1", cfg.BaseURL)
	require.Equal(t, "meta-llama/llama-3.1-8b-instruct:free", cfg.Model)
	require.Equal(t, 700, cfg.MaxTokens)
	require.Equal(t, BackendSupabase, cfg.HistoryBackend)
	require.Equal(t, "chat_history", cfg.HistoryTable)
	require.Equal(t, "request_id", cfg.HistoryMatch)
	require.Equal(t, 5*time.Minute, cfg.HeartbeatInterval)
	require.Equal(t, 60*time.Second, cfg.RequestTimeout)
	require.Equal(t, ":5000", cfg.StatusAddr)
	require.Equal(t, Logging{Level: "info", Format: "json"}, cfg.Logging)
}

func TestLoadRelay_Overrides(t *testing.T) {
	cfg, err := LoadRelay(env(map[string]string{
		"TELEGRAM_BOT_TOKEN":        "tg",
		"OPENROUTER_API_KEY":        "or",
		"OPENAI_MODEL":              "openai/gpt-4o-mini",
		"MAX_TOKENS":                "256",
		"HISTORY_BACKEND":           "DynamoDB",
		"HISTORY_MATCH":             "latest",
		"SUPABASE_SERVICE_ROLE_KEY": "service",
		"HEARTBEAT_INTERVAL":        "30s",
		"STATUS_ADDR":               "",
		"LOG_FORMAT":                "text",
	}))
	require.NoError(t, err)
	require.Equal(t, "tg", cfg.TelegramToken)
	require.Equal(t, "or", cfg.OpenRouterAPIKey)
	require.Equal(t, "openai/gpt-4o-mini", cfg.Model)
	require.Equal(t, 256, cfg.MaxTokens)
	require.Equal(t, BackendDynamoDB, cfg.HistoryBackend)
	require.Equal(t, "latest", cfg.HistoryMatch)
	require.Equal(t, "service", cfg.SupabaseKey)
	require.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	require.Empty(t, cfg.StatusAddr)
	require.Equal(t, "text", cfg.Logging.Format)
	require.NoError(t, cfg.Validate())
}

func TestLoadRelay_AnonKeyWinsOverServiceRole(t *testing.T) {
	cfg, err := LoadRelay(env(map[string]string{
		"SUPABASE_ANON_KEY":         "anon",
		"SUPABASE_SERVICE_ROLE_KEY": "service",
	}))
	require.NoError(t, err)
	require.Equal(t, "anon", cfg.SupabaseKey)
	require.False(t, cfg.SupabaseConfigured())

	cfg.SupabaseURL = "https://project.supabase.co"
	require.True(t, cfg.SupabaseConfigured())
}

func TestLoadRelay_InvalidValues(t *testing.T) {
	_, err := LoadRelay(env(map[string]string{
		"MAX_TOKENS":         "lots",
		"HEARTBEAT_INTERVAL": "soon",
		"HISTORY_BACKEND":    "mongo",
		"HISTORY_MATCH":      "oldest",
	}))
	require.ErrorContains(t, err, "MAX_TOKENS")
	require.ErrorContains(t, err, "HEARTBEAT_INTERVAL")
	require.ErrorContains(t, err, "HISTORY_BACKEND")
	require.ErrorContains(t, err, "HISTORY_MATCH")
}

func TestRelayValidate(t *testing.T) {
	cfg, err := LoadRelay(env(map[string]string{}))
	require.NoError(t, err)

	err = cfg.Validate()
	require.ErrorContains(t, err, "TELEGRAM_BOT_TOKEN")
	require.ErrorContains(t, err, "OPENROUTER_API_KEY")

	cfg.TelegramToken, cfg.OpenRouterAPIKey = "tg", "or"
	require.Equal(t, BackendSupabase, cfg.HistoryBackend)
	require.NoError(t, cfg.Validate(), "missing supabase credentials only disable persistence")
	require.False(t, cfg.SupabaseConfigured())

	cfg.HistoryBackend = BackendPostgres
	require.ErrorContains(t, cfg.Validate(), "DATABASE_URL")

	cfg.HistoryBackend = BackendNone
	require.NoError(t, cfg.Validate())
}

func TestLoadMonitor(t *testing.T) {
	cfg, err := LoadMonitor(env(map[string]string{
		"BOT_TOKEN": "tg",
		"CHAT_ID":   "-100123",
	}))
	require.NoError(t, err)
	require.Equal(t, int64(-100123), cfg.ChatID)
	require.Equal(t, time.Date(2025, 9, 6, 0, 0, 0, 0, time.UTC), cfg.TrialEnd)
	require.Equal(t, 6*time.Hour, cfg.CheckInterval)
	require.Equal(t, 3, cfg.ThresholdDays)
	require.Empty(t, cfg.StatusAddr)
}

func TestLoadMonitor_RequiresBotAndChat(t *testing.T) {
	_, err := LoadMonitor(env(map[string]string{}))
	require.ErrorContains(t, err, "BOT_TOKEN is required")
	require.ErrorContains(t, err, "CHAT_ID is required")

	_, err = LoadMonitor(env(map[string]string{
		"BOT_TOKEN":      "tg",
		"CHAT_ID":        "me",
		"TRIAL_END_DATE": "next week",
	}))
	require.ErrorContains(t, err, "CHAT_ID must be an integer")
	require.ErrorContains(t, err, "TRIAL_END_DATE")
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2025-09-06")
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, 9, 6, 0, 0, 0, 0, time.UTC), d)

	d, err = ParseDate("2025-09-06T12:00:00+08:00")
	require.NoError(t, err)
	require.True(t, d.Equal(time.Date(2025, 9, 6, 4, 0, 0, 0, time.UTC)))

	_, err = ParseDate("06/09/2025")
	require.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	const key = "CHAT_RELAY_DOTENV_TEST"
	t.Cleanup(func() { os.Unsetenv(key) })

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(key+"=from-file\n"), 0o600))

	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env"), path))
	require.Equal(t, "from-file", os.Getenv(key))
}
