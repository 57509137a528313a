package eventlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

// EventType represents the type of session event
type EventType string

const (
	EventCallStarted            EventType = "call_started"
	EventCallerUpdated          EventType = "caller_updated"
	EventTranscriptHeard        EventType = "transcript_heard"
	EventLocalTranscript        EventType = "local_transcript"
	EventKeywordDetected        EventType = "keyword_detected"
	EventServerAlert            EventType = "server_alert"
	EventAlertRaised            EventType = "alert_raised"
	EventAlertUpdated           EventType = "alert_updated"
	EventConnectionOpened       EventType = "connection_opened"
	EventConnectionLost         EventType = "connection_lost"
	EventReconnectScheduled     EventType = "reconnect_scheduled"
	EventCaptureFailed          EventType = "capture_failed"
	EventTranscriberUnavailable EventType = "transcriber_unavailable"
	EventCallEnded              EventType = "call_ended"
)

// Writer persists journal rows.
type Writer interface {
	InsertEvent(ctx context.Context, sessionID, eventType string, data []byte) error
}

// Logger provides async event logging to the call log store
type Logger struct {
	w   Writer
	log zerolog.Logger
}

// New creates a new event logger. A nil writer disables journaling.
func New(w Writer, logger zerolog.Logger) *Logger {
	return &Logger{w: w, log: logger.With().Str("component", "eventlog").Logger()}
}

// Log writes an event synchronously
func (l *Logger) Log(ctx context.Context, sessionID string, eventType EventType, data map[string]any) error {
	if l == nil || l.w == nil || sessionID == "" {
		return nil // Silently skip if no store or session ID
	}

	dataJSON, err := json.Marshal(data)
	if err != nil || data == nil {
		dataJSON = []byte("{}")
	}

	return l.w.InsertEvent(ctx, sessionID, string(eventType), dataJSON)
}

// LogAsync logs an event without blocking the caller
func (l *Logger) LogAsync(sessionID string, eventType EventType, data map[string]any) {
	if l == nil || l.w == nil || sessionID == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := l.Log(ctx, sessionID, eventType, data); err != nil {
			l.log.Warn().Err(err).Str("session_id", sessionID).Str("event", string(eventType)).Msg("journal write failed")
		}
	}()
}
