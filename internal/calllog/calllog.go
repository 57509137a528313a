// Package calllog persists one record per monitored call plus the session
// event journal.
package calllog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a record id does not exist.
var ErrNotFound = errors.New("call log record not found")

type Status string

const (
	StatusSafe    Status = "SAFE"
	StatusFraud   Status = "FRAUD"
	StatusUnknown Status = "UNKNOWN"
)

type Direction string

const (
	DirectionIncoming Direction = "INCOMING"
	DirectionOutgoing Direction = "OUTGOING"
)

// Record is one monitored call.
type Record struct {
	ID              int64     `json:"id"`
	SessionID       string    `json:"session_id"`
	PhoneNumber     string    `json:"phone_number"`
	CallerName      string    `json:"caller_name,omitempty"`
	Direction       Direction `json:"direction"`
	Status          Status    `json:"status"`
	Confidence      float64   `json:"confidence"`
	Reason          string    `json:"reason,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	DurationSeconds int64     `json:"duration_seconds"`
}

// Fields is a partial update. Nil fields are left unchanged.
type Fields struct {
	PhoneNumber     *string
	CallerName      *string
	Status          *Status
	Confidence      *float64
	Reason          *string
	DurationSeconds *int64
}

// Verdict returns the fields written when a call is classified.
func Verdict(status Status, confidence float64, reason string) Fields {
	return Fields{Status: &status, Confidence: &confidence, Reason: &reason}
}

func (f Fields) empty() bool {
	return f.PhoneNumber == nil && f.CallerName == nil && f.Status == nil &&
		f.Confidence == nil && f.Reason == nil && f.DurationSeconds == nil
}

// Stats are the dashboard counters.
type Stats struct {
	Total   int `json:"total"`
	Threats int `json:"threats"`
}

// Event is one journal entry.
type Event struct {
	SessionID string    `json:"session_id"`
	Type      string    `json:"type"`
	Data      []byte    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is implemented by the Postgres and SQLite backends.
type Store interface {
	Insert(ctx context.Context, r Record) (int64, error)
	Update(ctx context.Context, id int64, f Fields) error
	Get(ctx context.Context, id int64) (Record, error)
	List(ctx context.Context, limit int) ([]Record, error)
	Stats(ctx context.Context) (Stats, error)
	InsertEvent(ctx context.Context, sessionID, eventType string, data []byte) error
	Events(ctx context.Context, sessionID string) ([]Event, error)
	RegisterPushToken(ctx context.Context, token, platform string) error
	UnregisterPushToken(ctx context.Context, token string) error
	PushTokens(ctx context.Context) ([]PushToken, error)
	Close()
}

// Open selects a backend from dsn: postgres:// and postgresql:// URLs use
// Postgres, anything else is treated as a SQLite file path.
func Open(ctx context.Context, dsn string) (Store, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return OpenPostgres(ctx, dsn)
	}
	return OpenSQLite(ctx, dsn)
}

// updateSQL builds the SET clause for f. placeholder renders the n-th bind
// parameter; the record id is bound last.
func updateSQL(f Fields, placeholder func(n int) string) (string, []any) {
	var (
		sets []string
		args []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = %s", col, placeholder(len(args))))
	}
	if f.PhoneNumber != nil {
		add("phone_number", *f.PhoneNumber)
	}
	if f.CallerName != nil {
		add("caller_name", *f.CallerName)
	}
	if f.Status != nil {
		add("status", string(*f.Status))
	}
	if f.Confidence != nil {
		add("confidence", *f.Confidence)
	}
	if f.Reason != nil {
		add("reason", *f.Reason)
	}
	if f.DurationSeconds != nil {
		add("duration_seconds", *f.DurationSeconds)
	}
	args = append(args, nil)
	query := fmt.Sprintf("UPDATE call_logs SET %s WHERE id = %s", strings.Join(sets, ", "), placeholder(len(args)))
	return query, args
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 50
	}
	return limit
}

func defaults(r Record) Record {
	if r.Direction == "" {
		r.Direction = DirectionIncoming
	}
	if r.Status == "" {
		r.Status = StatusUnknown
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	return r
}
