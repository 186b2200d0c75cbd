// Package app wires configuration into the relay shared by the polling
// and webhook binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"chat-relay/internal/config"
	"chat-relay/internal/integrations/openai"
	"chat-relay/internal/integrations/paramstore"
	"chat-relay/internal/integrations/telegram"
	"chat-relay/internal/repository"
	"chat-relay/internal/usecase"
)

const (
	paramTelegramToken = "telegram-bot-token"
	paramOpenRouterKey = "openrouter-api-key"
	paramSupabaseKey   = "supabase-key"
)

// Relay is a fully wired relay plus the bot it replies through.
type Relay struct {
	Relay *usecase.Relay
	Bot   *tgbotapi.BotAPI

	closers []func()
}

// Close releases backend connections.
func (r *Relay) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// BuildRelay resolves secrets, validates cfg and constructs every client.
// reg may be nil to skip metrics.
func BuildRelay(ctx context.Context, cfg config.Relay, reg prometheus.Registerer, logger *slog.Logger) (*Relay, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var awsCfg *aws.Config
	loadAWS := func() (aws.Config, error) {
		if awsCfg != nil {
			return *awsCfg, nil
		}
		c, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return aws.Config{}, fmt.Errorf("app: load AWS config: %w", err)
		}
		awsCfg = &c
		return c, nil
	}

	var params *paramstore.Client
	if cfg.ParamPrefix != "" {
		c, err := loadAWS()
		if err != nil {
			return nil, err
		}
		params, err = paramstore.New(awsssm.NewFromConfig(c), cfg.ParamPrefix)
		if err != nil {
			return nil, err
		}
	}
	if err := resolveSecrets(ctx, &cfg, params, logger); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	bot, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("app: connect telegram: %w", err)
	}
	logger.Info("telegram bot authorized", "username", bot.Self.UserName)

	sender, err := telegram.NewSender(bot)
	if err != nil {
		return nil, err
	}
	llm, err := openai.NewClient(cfg.OpenRouterAPIKey,
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
	)
	if err != nil {
		return nil, err
	}

	out := &Relay{Bot: bot}
	history, err := newHistoryStore(ctx, cfg, loadAWS, out)
	if err != nil {
		out.Close()
		return nil, err
	}
	if history == nil {
		logger.Warn("chat history persistence disabled", "backend", cfg.HistoryBackend,
			"reason", disabledReason(cfg))
	} else {
		logger.Info("chat history backend ready", "backend", cfg.HistoryBackend, "table", cfg.HistoryTable)
	}

	opts := []usecase.RelayOption{usecase.WithLogger(logger)}
	if reg != nil {
		opts = append(opts, usecase.WithMetrics(usecase.NewMetrics(reg)))
	}
	out.Relay, err = usecase.NewRelay(llm, history, sender, usecase.Config{
		Model:         cfg.Model,
		SystemPrompt:  cfg.SystemPrompt,
		FallbackReply: cfg.FallbackReply,
		MaxTokens:     cfg.MaxTokens,
		Match:         usecase.MatchMode(cfg.HistoryMatch),
	}, opts...)
	if err != nil {
		out.Close()
		return nil, err
	}
	return out, nil
}

// resolveSecrets fills empty credentials from Parameter Store. The
// Supabase key is optional: a failed lookup leaves it empty.
func resolveSecrets(ctx context.Context, cfg *config.Relay, params *paramstore.Client, logger *slog.Logger) error {
	var err error
	if cfg.TelegramToken, err = params.Resolve(ctx, cfg.TelegramToken, paramTelegramToken); err != nil {
		return fmt.Errorf("app: resolve telegram token: %w", err)
	}
	if cfg.OpenRouterAPIKey, err = params.Resolve(ctx, cfg.OpenRouterAPIKey, paramOpenRouterKey); err != nil {
		return fmt.Errorf("app: resolve openrouter key: %w", err)
	}
	if cfg.HistoryBackend == config.BackendSupabase {
		key, err := params.Resolve(ctx, cfg.SupabaseKey, paramSupabaseKey)
		if err != nil {
			logger.Warn("supabase key not found in parameter store", "err", err)
		}
		cfg.SupabaseKey = key
	}
	return nil
}

// newHistoryStore returns a nil store for the "none" backend and for
// supabase without credentials; the relay then skips persistence.
func newHistoryStore(ctx context.Context, cfg config.Relay, loadAWS func() (aws.Config, error), out *Relay) (usecase.HistoryStore, error) {
	switch cfg.HistoryBackend {
	case config.BackendSupabase:
		if !cfg.SupabaseConfigured() {
			return nil, nil
		}
		return repository.NewSupabase(cfg.SupabaseURL, cfg.SupabaseKey, cfg.HistoryTable,
			repository.WithSupabaseHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
			repository.WithSupabaseRequestID(cfg.HistoryMatch != string(usecase.MatchLatest)))
	case config.BackendDynamoDB:
		c, err := loadAWS()
		if err != nil {
			return nil, err
		}
		return repository.New(awsdynamodb.NewFromConfig(c), cfg.HistoryTable)
	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("app: open postgres: %w", err)
		}
		out.closers = append(out.closers, pool.Close)
		store, err := repository.NewPostgres(pool, cfg.HistoryTable)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, nil
	}
}

func disabledReason(cfg config.Relay) string {
	if cfg.HistoryBackend == config.BackendSupabase {
		return "SUPABASE_URL or Supabase key not set"
	}
	return "HISTORY_BACKEND=none"
}
