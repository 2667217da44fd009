package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// timestamps are stored in UTC with a fixed width so they sort as text
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore keeps reports in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and creates if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("report store path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir db dir: %w", err)
		}
		path += "?_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS reports (
			hostname    TEXT PRIMARY KEY,
			url         TEXT NOT NULL,
			reported_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reports_reported_at ON reports(reported_at)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, hostname string) (*Entry, error) {
	var (
		e  Entry
		ts string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT hostname, url, reported_at FROM reports WHERE hostname = ?`, hostname,
	).Scan(&e.Hostname, &e.URL, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query report: %w", err)
	}

	e.Timestamp, err = time.Parse(timeLayout, ts)
	if err != nil {
		return nil, fmt.Errorf("parse report timestamp: %w", err)
	}
	return &e, nil
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, e Entry) error {
	if e.Hostname == "" {
		return fmt.Errorf("report hostname is empty")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reports (hostname, url, reported_at) VALUES (?, ?, ?)
		 ON CONFLICT(hostname) DO UPDATE SET url = excluded.url, reported_at = excluded.reported_at`,
		e.Hostname, e.URL, e.Timestamp.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}

// Remove implements Store.
func (s *SQLiteStore) Remove(ctx context.Context, hostname string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reports WHERE hostname = ?`, hostname)
	if err != nil {
		return fmt.Errorf("remove report: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove report: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT hostname, url, reported_at FROM reports ORDER BY reported_at DESC, hostname`)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e  Entry
			ts string
		)
		if err := rows.Scan(&e.Hostname, &e.URL, &ts); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		if e.Timestamp, err = time.Parse(timeLayout, ts); err != nil {
			return nil, fmt.Errorf("parse report timestamp: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
