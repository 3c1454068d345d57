// Package archive persists room transcripts to Postgres. It is optional
// tooling around the room core: rooms never depend on it, and every write is
// best effort.
package archive

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config describes how the store initialises its Postgres connection pool.
type Config struct {
	DSN             string
	MaxConnections  int32
	MinConnections  int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ApplicationName string
}

// Store writes transcript rows through a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore opens the connection pool. Call Init before recording to ensure
// the schema exists.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("archive: postgres dsn required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("archive: parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if name := strings.TrimSpace(cfg.ApplicationName); name != "" {
		poolCfg.ConnConfig.RuntimeParams["application_name"] = name
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("archive: open postgres pool: %w", err)
	}
	return &Store{pool: pool}, nil
}

const transcriptSchema = `
CREATE TABLE IF NOT EXISTS room_transcripts (
    id BIGSERIAL PRIMARY KEY,
    room_id TEXT NOT NULL,
    message_id TEXT NOT NULL DEFAULT '',
    author_id TEXT NOT NULL,
    author_name TEXT NOT NULL,
    content TEXT NOT NULL,
    occurred_at TIMESTAMPTZ NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS room_transcripts_room_idx
    ON room_transcripts (room_id, occurred_at);
`

// Init applies the transcript schema. Safe to run repeatedly.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, transcriptSchema); err != nil {
		return fmt.Errorf("archive: apply schema: %w", err)
	}
	return nil
}

// ChatRecord is one transcript row.
type ChatRecord struct {
	RoomID     string
	MessageID  string
	AuthorID   string
	AuthorName string
	Content    string
	OccurredAt time.Time
}

// RecordChat inserts one transcript row.
func (s *Store) RecordChat(ctx context.Context, record ChatRecord) error {
	occurredAt := record.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO room_transcripts (room_id, message_id, author_id, author_name, content, occurred_at)
         VALUES ($1, $2, $3, $4, $5, $6)`,
		record.RoomID, record.MessageID, record.AuthorID, record.AuthorName, record.Content, occurredAt)
	if err != nil {
		return fmt.Errorf("archive: insert transcript row: %w", err)
	}
	return nil
}

// Close releases the pool, honouring the context deadline.
func (s *Store) Close(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
