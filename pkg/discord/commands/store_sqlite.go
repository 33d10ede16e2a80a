package commands

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// SQLiteStore persists published command sets so List survives restarts.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = &SQLiteStore{}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite command store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// SQLiteDSNForFile builds a DSN with WAL and a busy timeout.
func SQLiteDSNForFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("sqlite command store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS published_commands (
		  scope TEXT NOT NULL,
		  name TEXT NOT NULL,
		  command_id TEXT NOT NULL,
		  description TEXT NOT NULL,
		  version TEXT NOT NULL DEFAULT '',
		  published_at_ms INTEGER NOT NULL,
		  PRIMARY KEY (scope, name)
		);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite command store: migrate")
		}
	}
	return nil
}

// Replace swaps the scope's rows for cmds in one transaction.
func (s *SQLiteStore) Replace(ctx context.Context, scope string, cmds []PublishedCommand) (retErr error) {
	if s == nil || s.db == nil {
		return errors.New("sqlite command store: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	scope = strings.TrimSpace(scope)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite command store: begin")
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM published_commands WHERE scope = ?`, scope); err != nil {
		return errors.Wrap(err, "sqlite command store: clear scope")
	}
	for _, c := range cmds {
		publishedAt := c.PublishedAt
		if publishedAt.IsZero() {
			publishedAt = time.Now()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO published_commands (scope, name, command_id, description, version, published_at_ms)
			VALUES (?, ?, ?, ?, ?, ?)
		`, scope, c.Name, c.ID, c.Description, c.Version, publishedAt.UnixMilli())
		if err != nil {
			return errors.Wrapf(err, "sqlite command store: insert %q", c.Name)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "sqlite command store: commit")
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, scope string) ([]PublishedCommand, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite command store: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	scope = strings.TrimSpace(scope)
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, command_id, description, version, published_at_ms
		FROM published_commands
		WHERE scope = ?
		ORDER BY name ASC
	`, scope)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite command store: list")
	}
	defer func() { _ = rows.Close() }()

	var out []PublishedCommand
	for rows.Next() {
		var (
			c  PublishedCommand
			ms int64
		)
		if err := rows.Scan(&c.Name, &c.ID, &c.Description, &c.Version, &ms); err != nil {
			return nil, errors.Wrap(err, "sqlite command store: scan")
		}
		c.Scope = scope
		c.PublishedAt = time.UnixMilli(ms)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite command store: rows")
	}
	return out, nil
}
