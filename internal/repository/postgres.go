package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"chat-relay/internal/domain"
)

// pgxAPI is the subset of *pgxpool.Pool used by Postgres.
type pgxAPI interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres stores chat history directly in a Postgres table, for
// deployments that reach the Supabase database without PostgREST.
type Postgres struct {
	db    pgxAPI
	table string
}

// NewPostgres creates a Postgres row store for table.
func NewPostgres(db pgxAPI, table string) (*Postgres, error) {
	if db == nil {
		return nil, errors.New("repository: db must not be nil")
	}
	table = strings.TrimSpace(table)
	if table == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Postgres{db: db, table: pgx.Identifier{table}.Sanitize()}, nil
}

// EnsureSchema creates the history table when it does not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.db.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+p.table+` (
		id BIGSERIAL PRIMARY KEY,
		request_id TEXT UNIQUE,
		user_id TEXT NOT NULL,
		source TEXT NOT NULL,
		message TEXT NOT NULL,
		response TEXT,
		ts TIMESTAMPTZ NOT NULL DEFAULT now(),
		model TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("repository: EnsureSchema: %w", err)
	}
	return nil
}

func (p *Postgres) Insert(ctx context.Context, rec domain.ChatHistoryRecord) error {
	if err := validateRecord("Insert", rec); err != nil {
		return err
	}
	_, err := p.db.Exec(ctx,
		`INSERT INTO `+p.table+` (request_id, user_id, source, message, response, ts, model)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.RequestID, rec.UserID, rec.Source, rec.Message, rec.Response, timestampOrNow(rec.Timestamp), rec.Model,
	)
	if err != nil {
		return fmt.Errorf("repository: Insert: %w", err)
	}
	return nil
}

func (p *Postgres) Latest(ctx context.Context, userID string) (domain.ChatHistoryRecord, bool, error) {
	var (
		rec       domain.ChatHistoryRecord
		id        int64
		requestID *string
	)
	err := p.db.QueryRow(ctx,
		`SELECT id, request_id, user_id, source, message, response, ts, model
		FROM `+p.table+` WHERE user_id = $1 ORDER BY ts DESC LIMIT 1`,
		userID,
	).Scan(&id, &requestID, &rec.UserID, &rec.Source, &rec.Message, &rec.Response, &rec.Timestamp, &rec.Model)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ChatHistoryRecord{}, false, nil
	}
	if err != nil {
		return domain.ChatHistoryRecord{}, false, fmt.Errorf("repository: Latest: %w", err)
	}
	rec.ID = strconv.FormatInt(id, 10)
	if requestID != nil {
		rec.RequestID = *requestID
	}
	return rec, true, nil
}

func (p *Postgres) SetResponse(ctx context.Context, rec domain.ChatHistoryRecord, response string) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	switch {
	case rec.ID != "":
		id, perr := strconv.ParseInt(rec.ID, 10, 64)
		if perr != nil {
			return fmt.Errorf("repository: SetResponse: parse row id: %w", perr)
		}
		tag, err = p.db.Exec(ctx, `UPDATE `+p.table+` SET response = $1 WHERE id = $2`, response, id)
	case rec.RequestID != "":
		tag, err = p.db.Exec(ctx, `UPDATE `+p.table+` SET response = $1 WHERE request_id = $2`, response, rec.RequestID)
	default:
		return errors.New("repository: SetResponse: row id or request id is required")
	}
	if err != nil {
		return fmt.Errorf("repository: SetResponse: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("repository: SetResponse: %w", ErrNotFound)
	}
	return nil
}
