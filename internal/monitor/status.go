package monitor

import (
	"time"

	"github.com/lukasbauer/callguard/internal/capture"
	"github.com/lukasbauer/callguard/internal/stream"
)

// Status indicator texts.
const (
	StatusIdle               = "Idle"
	StatusMonitoring         = "Monitoring for fraud..."
	StatusConnected          = "Connected"
	StatusConnectionFailed   = "Connection failed"
	StatusDisconnected       = "Disconnected"
	StatusLocalModelMissing  = "Local model missing"
	StatusMicrophoneDisabled = "Microphone unavailable"
)

// Snapshot is the observable state of the monitor.
type Snapshot struct {
	State       string         `json:"state"`
	SessionID   string         `json:"session_id,omitempty"`
	PhoneNumber string         `json:"phone_number,omitempty"`
	CallerName  string         `json:"caller_name,omitempty"`
	Status      string         `json:"status"`
	AlertRaised bool           `json:"alert_raised"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	Stream      *stream.Stats  `json:"stream,omitempty"`
	Capture     *capture.Stats `json:"capture,omitempty"`
}

// Observer receives live updates for in-call UIs. Implementations must not
// block.
type Observer interface {
	PublishStatus(s Snapshot)
	PublishHeard(sessionID, text string)
}
