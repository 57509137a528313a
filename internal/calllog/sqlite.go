package calllog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite stores call logs in a local database file.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLite) initSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS call_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL DEFAULT '',
			phone_number TEXT NOT NULL,
			caller_name TEXT NOT NULL DEFAULT '',
			direction TEXT NOT NULL,
			status TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 0,
			reason TEXT NOT NULL DEFAULT '',
			started_at INTEGER NOT NULL,
			duration_seconds INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_call_logs_started ON call_logs(started_at)`,
		`CREATE TABLE IF NOT EXISTS call_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			event_data TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_call_events_session ON call_events(session_id, id)`,
		`CREATE TABLE IF NOT EXISTS device_push_tokens (
			token TEXT PRIMARY KEY,
			platform TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) Insert(ctx context.Context, r Record) (int64, error) {
	r = defaults(r)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO call_logs (session_id, phone_number, caller_name, direction, status, confidence, reason, started_at, duration_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.SessionID, r.PhoneNumber, r.CallerName, string(r.Direction), string(r.Status),
		r.Confidence, r.Reason, r.StartedAt.UnixMilli(), r.DurationSeconds)
	if err != nil {
		return 0, fmt.Errorf("insert call log: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLite) Update(ctx context.Context, id int64, f Fields) error {
	if f.empty() {
		return nil
	}
	query, args := updateSQL(f, func(int) string { return "?" })
	args[len(args)-1] = id
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update call log: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

const sqliteSelect = `
	SELECT id, session_id, phone_number, caller_name, direction, status, confidence, reason, started_at, duration_seconds
	FROM call_logs`

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRecord(row scanner) (Record, error) {
	var r Record
	var direction, status string
	var startedMs int64
	err := row.Scan(&r.ID, &r.SessionID, &r.PhoneNumber, &r.CallerName, &direction, &status,
		&r.Confidence, &r.Reason, &startedMs, &r.DurationSeconds)
	r.Direction = Direction(direction)
	r.Status = Status(status)
	r.StartedAt = time.UnixMilli(startedMs).UTC()
	return r, err
}

func (s *SQLite) Get(ctx context.Context, id int64) (Record, error) {
	r, err := scanSQLiteRecord(s.db.QueryRowContext(ctx, sqliteSelect+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return r, err
}

func (s *SQLite) List(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, sqliteSelect+` ORDER BY started_at DESC, id DESC LIMIT ?`, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		r, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) FROM call_logs
	`, string(StatusFraud)).Scan(&st.Total, &st.Threats)
	return st, err
}

func (s *SQLite) InsertEvent(ctx context.Context, sessionID, eventType string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO call_events (session_id, event_type, event_data, created_at)
		VALUES (?, ?, ?, ?)
	`, sessionID, eventType, string(data), time.Now().UnixMilli())
	return err
}

func (s *SQLite) Events(ctx context.Context, sessionID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, event_type, COALESCE(event_data, '{}'), created_at
		FROM call_events WHERE session_id = ? ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var data string
		var createdMs int64
		if err := rows.Scan(&ev.SessionID, &ev.Type, &data, &createdMs); err != nil {
			return nil, err
		}
		ev.Data = []byte(data)
		ev.CreatedAt = time.UnixMilli(createdMs).UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() {
	s.db.Close()
}
