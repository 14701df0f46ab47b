// Package audit provides PostgreSQL-backed storage for the bot's audit trail:
// every redacted message and every settings command, so moderators can
// review what the bot did and who changed it.
package audit

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// validResults is the set of allowed command results, matching the CHECK
// constraint on the command_log table.
var validResults = map[string]bool{
	"ok":     true,
	"denied": true,
	"error":  true,
}

// Redaction is one replaced message.
type Redaction struct {
	MessageID  string
	ChannelID  string
	GuildID    string
	AuthorID   string
	AuthorName string
	Triggered  bool
	Replaced   int // number of words replaced
	Instance   string
}

// CommandEntry is one slash command invocation.
type CommandEntry struct {
	Command     string
	InvokerID   string
	InvokerName string
	Result      string // "ok", "denied" or "error"
	Detail      string
}

// Recorder persists audit entries.
type Recorder interface {
	RecordRedaction(ctx context.Context, r Redaction) error
	RecordCommand(ctx context.Context, c CommandEntry) error
}

// Nop discards everything. It is used when no database is configured.
type Nop struct{}

func (Nop) RecordRedaction(context.Context, Redaction) error { return nil }
func (Nop) RecordCommand(context.Context, CommandEntry) error { return nil }

// Store manages audit rows in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a new audit store backed by the given database handle.
// The schema must already be migrated; see Migrate.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to databaseURL, applies pending migrations and returns a
// ready store.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("audit: open: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: ping: %w", err)
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return NewStore(db), nil
}

// Migrate applies every embedded migration that has not run yet.
func Migrate(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("audit: migrations source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("audit: migrations driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("audit: migrate init: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("audit: migrate up: %w", err)
	}
	return nil
}

// RecordRedaction inserts a redaction row. Recording the same message twice
// is a no-op.
func (s *Store) RecordRedaction(ctx context.Context, r Redaction) error {
	if r.MessageID == "" {
		return fmt.Errorf("audit: redaction without message id")
	}
	if r.Replaced <= 0 {
		return fmt.Errorf("audit: redaction of message %s replaced %d words", r.MessageID, r.Replaced)
	}

	const query = `
		INSERT INTO redactions (id, message_id, channel_id, guild_id, author_id, author_name, triggered, replaced, instance)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (message_id) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query,
		uuid.New(),
		r.MessageID,
		r.ChannelID,
		r.GuildID,
		r.AuthorID,
		r.AuthorName,
		r.Triggered,
		r.Replaced,
		r.Instance,
	)
	if err != nil {
		return fmt.Errorf("audit: insert redaction: %w", err)
	}
	return nil
}

// RecordCommand inserts a command_log row. The result is validated against
// the allowed set before insertion.
func (s *Store) RecordCommand(ctx context.Context, c CommandEntry) error {
	if !validResults[c.Result] {
		return fmt.Errorf("audit: invalid command result %q", c.Result)
	}

	const query = `
		INSERT INTO command_log (id, command, invoker_id, invoker_name, result, detail)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db.ExecContext(ctx, query,
		uuid.New(),
		c.Command,
		c.InvokerID,
		c.InvokerName,
		c.Result,
		c.Detail,
	)
	if err != nil {
		return fmt.Errorf("audit: insert command: %w", err)
	}
	return nil
}

// CountRecent returns how many of an author's messages were redacted within
// window.
func (s *Store) CountRecent(ctx context.Context, authorID string, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM redactions
		WHERE author_id = $1
		  AND created_at >= NOW() - make_interval(secs => $2)`

	var count int
	err := s.db.QueryRowContext(ctx, query, authorID, window.Seconds()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("audit: count recent: %w", err)
	}
	return count, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
