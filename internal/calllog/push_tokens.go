package calllog

import (
	"context"
	"time"
)

// PushToken is a device registered for fraud alert pushes.
type PushToken struct {
	Token     string    `json:"token"`
	Platform  string    `json:"platform"` // "ios" or "android"
	CreatedAt time.Time `json:"created_at"`
}

// RegisterPushToken registers or refreshes a device push token
func (s *Postgres) RegisterPushToken(ctx context.Context, token, platform string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO device_push_tokens (token, platform)
		VALUES ($1, $2)
		ON CONFLICT (token) DO UPDATE SET
			platform = EXCLUDED.platform,
			created_at = NOW()
	`, token, platform)
	return err
}

// UnregisterPushToken removes a device push token
func (s *Postgres) UnregisterPushToken(ctx context.Context, token string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM device_push_tokens WHERE token = $1`, token)
	return err
}

// PushTokens returns every registered device, oldest first
func (s *Postgres) PushTokens(ctx context.Context) ([]PushToken, error) {
	rows, err := s.db.Query(ctx, `
		SELECT token, platform, created_at
		FROM device_push_tokens
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []PushToken
	for rows.Next() {
		var t PushToken
		if err := rows.Scan(&t.Token, &t.Platform, &t.CreatedAt); err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func (s *SQLite) RegisterPushToken(ctx context.Context, token, platform string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_push_tokens (token, platform, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (token) DO UPDATE SET
			platform = excluded.platform,
			created_at = excluded.created_at
	`, token, platform, time.Now().UnixMilli())
	return err
}

func (s *SQLite) UnregisterPushToken(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM device_push_tokens WHERE token = ?`, token)
	return err
}

func (s *SQLite) PushTokens(ctx context.Context) ([]PushToken, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT token, platform, created_at
		FROM device_push_tokens
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []PushToken
	for rows.Next() {
		var t PushToken
		var createdMs int64
		if err := rows.Scan(&t.Token, &t.Platform, &createdMs); err != nil {
			return nil, err
		}
		t.CreatedAt = time.UnixMilli(createdMs).UTC()
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}
