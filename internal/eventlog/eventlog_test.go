package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type memWriter struct {
	mu   sync.Mutex
	rows []row
	err  error
	got  chan struct{}
}

type row struct {
	session, eventType string
	data               []byte
}

func newMemWriter() *memWriter {
	return &memWriter{got: make(chan struct{}, 16)}
}

func (m *memWriter) InsertEvent(_ context.Context, sessionID, eventType string, data []byte) error {
	m.mu.Lock()
	m.rows = append(m.rows, row{sessionID, eventType, data})
	m.mu.Unlock()
	m.got <- struct{}{}
	return m.err
}

func TestEventTypeConstants(t *testing.T) {
	expectedEvents := map[EventType]string{
		EventCallStarted:            "call_started",
		EventCallerUpdated:          "caller_updated",
		EventTranscriptHeard:        "transcript_heard",
		EventLocalTranscript:        "local_transcript",
		EventKeywordDetected:        "keyword_detected",
		EventServerAlert:            "server_alert",
		EventAlertRaised:            "alert_raised",
		EventAlertUpdated:           "alert_updated",
		EventConnectionOpened:       "connection_opened",
		EventConnectionLost:         "connection_lost",
		EventReconnectScheduled:     "reconnect_scheduled",
		EventCaptureFailed:          "capture_failed",
		EventTranscriberUnavailable: "transcriber_unavailable",
		EventCallEnded:              "call_ended",
	}

	for eventType, expectedValue := range expectedEvents {
		if string(eventType) != expectedValue {
			t.Errorf("EventType %q = %q, want %q", expectedValue, string(eventType), expectedValue)
		}
	}
}

func TestLoggerLogWithNilWriter(t *testing.T) {
	logger := New(nil, zerolog.Nop())

	err := logger.Log(context.Background(), "test-session", EventCallStarted, map[string]any{
		"test_key": "test_value",
	})
	if err != nil {
		t.Errorf("Log with nil writer should return nil error, got %v", err)
	}

	// Should not panic
	logger.LogAsync("test-session", EventCallStarted, nil)

	var nilLogger *Logger
	nilLogger.LogAsync("test-session", EventCallEnded, nil)
}

func TestLoggerLogWithEmptySessionID(t *testing.T) {
	w := newMemWriter()
	logger := New(w, zerolog.Nop())

	if err := logger.Log(context.Background(), "", EventCallStarted, nil); err != nil {
		t.Errorf("Log with empty session ID should return nil error, got %v", err)
	}
	if len(w.rows) != 0 {
		t.Errorf("rows = %d, want 0", len(w.rows))
	}
}

func TestLoggerLog(t *testing.T) {
	w := newMemWriter()
	logger := New(w, zerolog.Nop())

	err := logger.Log(context.Background(), "s1", EventKeywordDetected, map[string]any{
		"keyword":    "OTP",
		"confidence": 0.85,
	})
	if err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if len(w.rows) != 1 || w.rows[0].eventType != "keyword_detected" || w.rows[0].session != "s1" {
		t.Fatalf("rows = %+v", w.rows)
	}
	var data map[string]any
	if err := json.Unmarshal(w.rows[0].data, &data); err != nil {
		t.Fatalf("data not JSON: %v", err)
	}
	if data["keyword"] != "OTP" {
		t.Errorf("data = %v", data)
	}

	logger.Log(context.Background(), "s1", EventCallEnded, nil)
	if string(w.rows[1].data) != "{}" {
		t.Errorf("nil data encoded as %s, want {}", w.rows[1].data)
	}
}

func TestLoggerLogAsync(t *testing.T) {
	w := newMemWriter()
	w.err = errors.New("disk full")
	logger := New(w, zerolog.Nop())

	logger.LogAsync("s2", EventConnectionLost, map[string]any{"code": 1006})

	select {
	case <-w.got:
	case <-time.After(2 * time.Second):
		t.Fatal("LogAsync never wrote")
	}
}
