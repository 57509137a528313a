package calllog

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres stores call logs in PostgreSQL.
type Postgres struct {
	db *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// OpenPostgres connects, pings and ensures the schema exists.
func OpenPostgres(ctx context.Context, url string) (*Postgres, error) {
	db, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := NewPostgres(db)
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS call_logs (
			id               BIGSERIAL PRIMARY KEY,
			session_id       TEXT NOT NULL DEFAULT '',
			phone_number     TEXT NOT NULL,
			caller_name      TEXT NOT NULL DEFAULT '',
			direction        TEXT NOT NULL,
			status           TEXT NOT NULL,
			confidence       DOUBLE PRECISION NOT NULL DEFAULT 0,
			reason           TEXT NOT NULL DEFAULT '',
			started_at       TIMESTAMPTZ NOT NULL,
			duration_seconds BIGINT NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_call_logs_started ON call_logs (started_at DESC);
		CREATE TABLE IF NOT EXISTS call_events (
			id         BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			event_data JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_call_events_session ON call_events (session_id, id);
		CREATE TABLE IF NOT EXISTS device_push_tokens (
			token      TEXT PRIMARY KEY,
			platform   TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Postgres) Insert(ctx context.Context, r Record) (int64, error) {
	r = defaults(r)
	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO call_logs (session_id, phone_number, caller_name, direction, status, confidence, reason, started_at, duration_seconds)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING id
	`, r.SessionID, r.PhoneNumber, r.CallerName, string(r.Direction), string(r.Status),
		r.Confidence, r.Reason, r.StartedAt, r.DurationSeconds).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert call log: %w", err)
	}
	return id, nil
}

func (s *Postgres) Update(ctx context.Context, id int64, f Fields) error {
	if f.empty() {
		return nil
	}
	query, args := updateSQL(f, func(n int) string { return "$" + strconv.Itoa(n) })
	args[len(args)-1] = id
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update call log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const pgSelect = `
	SELECT id, session_id, phone_number, caller_name, direction, status, confidence, reason, started_at, duration_seconds
	FROM call_logs`

func scanRecord(row pgx.Row) (Record, error) {
	var r Record
	var direction, status string
	err := row.Scan(&r.ID, &r.SessionID, &r.PhoneNumber, &r.CallerName, &direction, &status,
		&r.Confidence, &r.Reason, &r.StartedAt, &r.DurationSeconds)
	r.Direction = Direction(direction)
	r.Status = Status(status)
	return r, err
}

func (s *Postgres) Get(ctx context.Context, id int64) (Record, error) {
	r, err := scanRecord(s.db.QueryRow(ctx, pgSelect+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return r, err
}

func (s *Postgres) List(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.Query(ctx, pgSelect+` ORDER BY started_at DESC, id DESC LIMIT $1`, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Postgres) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE status = $1) FROM call_logs
	`, string(StatusFraud)).Scan(&st.Total, &st.Threats)
	return st, err
}

func (s *Postgres) InsertEvent(ctx context.Context, sessionID, eventType string, data []byte) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO call_events (session_id, event_type, event_data)
		VALUES ($1, $2, $3)
	`, sessionID, eventType, data)
	return err
}

func (s *Postgres) Events(ctx context.Context, sessionID string) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT session_id, event_type, COALESCE(event_data::text, '{}'), created_at
		FROM call_events WHERE session_id = $1 ORDER BY id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var data string
		if err := rows.Scan(&ev.SessionID, &ev.Type, &data, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Data = []byte(data)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Postgres) Close() {
	s.db.Close()
}
