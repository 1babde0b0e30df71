// Package history keeps an append-only audit of mutating operations in
// a local SQLite database. It is best-effort: a failed write is logged
// by the caller and never fails the command that triggered it.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Action identifies the mutating operation an event records.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDeploy Action = "deploy"
	ActionDelete Action = "delete"
)

// Event is one audited operation against one service.
type Event struct {
	OccurredAt time.Time `json:"occurred_at"`
	Service    string    `json:"service"`
	Action     Action    `json:"action"`
	OK         bool      `json:"ok"`
	Detail     string    `json:"detail,omitempty"`
}

// Sink records and queries events.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Query(ctx context.Context, service string, limit int) ([]Event, error)
	Close() error
}

// SQLite is a Sink backed by modernc.org/sqlite.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and if needed creates) the history database.
// DSN forms: "sqlite:///path/to/file.db", "/path/to/file.db",
// ":memory:".
func OpenSQLite(dsn string) (*SQLite, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty sqlite DSN")
	}
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = strings.TrimPrefix(dsn, "sqlite://")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLite{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) ensureSchema(ctx context.Context) error {
	stmt := `CREATE TABLE IF NOT EXISTS deploy_history(
		timestamp TIMESTAMP NOT NULL DEFAULT (CURRENT_TIMESTAMP),
		service TEXT NOT NULL,
		action TEXT NOT NULL,
		ok INTEGER NOT NULL,
		detail TEXT
	);`
	_, err := s.db.ExecContext(ctx, stmt)
	return err
}

func (s *SQLite) Send(ctx context.Context, e Event) error {
	occurred := e.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}
	ok := 0
	if e.OK {
		ok = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deploy_history(timestamp, service, action, ok, detail)
		VALUES(?, ?, ?, ?, ?);`,
		occurred.UTC(), e.Service, string(e.Action), ok, e.Detail)
	return err
}

// Query returns the most recent events, newest first, optionally
// filtered to one service. limit <= 0 means a default of 50.
func (s *SQLite) Query(ctx context.Context, service string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT timestamp, service, action, ok, detail FROM deploy_history`
	args := []any{}
	if service != "" {
		query += ` WHERE service = ?`
		args = append(args, service)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var (
			e      Event
			ok     int
			detail sql.NullString
		)
		if err := rows.Scan(&e.OccurredAt, &e.Service, &e.Action, &ok, &detail); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		e.OK = ok != 0
		e.Detail = detail.String
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Nop discards events; used when history is disabled in config.
type Nop struct{}

func (Nop) Send(context.Context, Event) error { return nil }

func (Nop) Query(context.Context, string, int) ([]Event, error) {
	return nil, errors.New("history is disabled in the configuration")
}

func (Nop) Close() error { return nil }
