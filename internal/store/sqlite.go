package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/chef-cts/internal/domain"
	"github.com/ashureev/chef-cts/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes writers to keep SQLITE_BUSY rare
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", sqliteDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

// sqliteDSN applies the pragmas on every pooled connection. modernc.org/sqlite
// only understands the _pragma form.
func sqliteDSN(dbPath string) string {
	return dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS turns (
		turn_id TEXT PRIMARY KEY,
		request_id TEXT,
		thread_id TEXT,
		run_id TEXT,
		thread_created INTEGER NOT NULL DEFAULT 0,
		outcome TEXT NOT NULL,
		error_kind TEXT,
		stage TEXT,
		message_length INTEGER NOT NULL DEFAULT 0,
		reply_length INTEGER NOT NULL DEFAULT 0,
		transport TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_started ON turns(started_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RecordTurn stores the outcome of one relayed turn.
func (s *SQLiteStore) RecordTurn(ctx context.Context, turn *domain.TurnRecord) error {
	query := `
	INSERT INTO turns (turn_id, request_id, thread_id, run_id, thread_created, outcome,
		error_kind, stage, message_length, reply_length, transport, started_at, duration_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	created := 0
	if turn.ThreadCreated {
		created = 1
	}

	err := shared.RetryOnConflict(ctx, 3, 50*time.Millisecond, func() error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		_, err := s.db.ExecContext(ctx, query,
			turn.TurnID, nullString(turn.RequestID), nullString(turn.ThreadID), nullString(turn.RunID),
			created, string(turn.Outcome), nullString(turn.ErrorKind), nullString(turn.Stage),
			turn.MessageLength, turn.ReplyLength, turn.Transport,
			turn.StartedAt.UnixMilli(), turn.Duration.Milliseconds(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

// TurnStats aggregates turns started at or after since.
func (s *SQLiteStore) TurnStats(ctx context.Context, since time.Time) (*domain.TurnStats, error) {
	stats := &domain.TurnStats{
		Since:       since,
		ByOutcome:   make(map[string]int64),
		ByErrorKind: make(map[string]int64),
	}
	sinceMs := since.UnixMilli()

	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(thread_created), 0), COALESCE(AVG(duration_ms), 0)
		FROM turns WHERE started_at >= ?`, sinceMs)
	if err := row.Scan(&stats.Total, &stats.ThreadsCreated, &stats.AvgDurationMs); err != nil {
		return nil, fmt.Errorf("scan turn totals: %w", err)
	}

	if err := s.countBy(ctx, "outcome", sinceMs, stats.ByOutcome); err != nil {
		return nil, err
	}
	if err := s.countBy(ctx, "error_kind", sinceMs, stats.ByErrorKind); err != nil {
		return nil, err
	}
	return stats, nil
}

// countBy groups turns by a fixed column name; column is never user input.
func (s *SQLiteStore) countBy(ctx context.Context, column string, sinceMs int64, into map[string]int64) error {
	query := fmt.Sprintf(`
		SELECT %[1]s, COUNT(*) FROM turns
		WHERE started_at >= ? AND %[1]s IS NOT NULL
		GROUP BY %[1]s`, column)

	rows, err := s.db.QueryContext(ctx, query, sinceMs)
	if err != nil {
		return fmt.Errorf("query turns by %s: %w", column, err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close turn stats rows", "error", closeErr)
		}
	}()

	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan turns by %s: %w", column, err)
		}
		into[key] = n
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate turns by %s: %w", column, err)
	}
	return nil
}

// DeleteTurnsBefore removes turns older than cutoff.
func (s *SQLiteStore) DeleteTurnsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	result, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE started_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete old turns: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func nullString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
