package monitor

import (
	"context"

	"github.com/lukasbauer/callguard/internal/detect"
	"github.com/lukasbauer/callguard/internal/eventlog"
	"github.com/lukasbauer/callguard/internal/stream"
)

// onMessage runs on the stream control loop.
func (m *Monitor) onMessage(r *run, raw []byte) {
	res, ok := m.interp.Interpret(raw)
	if !ok {
		return
	}
	m.detected(r, res)
}

// onLocalTranscript runs on the capture loop after the text was forwarded
// to the analysis service.
func (m *Monitor) onLocalTranscript(r *run, text string) {
	r.log.Debug().Str("text", text).Msg("local transcript")
	m.cfg.Journal.LogAsync(r.sess.ID, eventlog.EventLocalTranscript, map[string]any{"text": text})
	if res, ok := m.interp.CheckText(text); ok {
		m.detected(r, res)
	}
}

// heard is the interpreter's hook for transcripts from the service.
func (m *Monitor) heard(text string) {
	m.mu.Lock()
	r := m.current
	m.mu.Unlock()
	if r == nil {
		return
	}
	m.cfg.Journal.LogAsync(r.sess.ID, eventlog.EventTranscriptHeard, map[string]any{"text": text})
	if m.cfg.Observer != nil {
		m.cfg.Observer.PublishHeard(r.sess.ID, text)
	}
}

func (m *Monitor) detected(r *run, res detect.Result) {
	eventType := eventlog.EventKeywordDetected
	data := map[string]any{
		"confidence": res.Confidence,
		"reason":     res.Reason,
	}
	if res.Source == detect.SourceServer {
		eventType = eventlog.EventServerAlert
	} else {
		data["keyword"] = res.Keyword
	}
	m.cfg.Journal.LogAsync(r.sess.ID, eventType, data)

	if m.cfg.Alerts == nil {
		return
	}
	r.detections <- res
}

// reportLoop hands detections to the alert coordinator one at a time, in
// the order they arrived, so the stored verdict is always the latest one.
// It runs off the stream and capture loops because sinks may take seconds.
func (m *Monitor) reportLoop(r *run) {
	defer close(r.reported)
	for res := range r.detections {
		if m.cfg.Alerts.Report(context.Background(), r.sess, res) {
			m.publish()
		}
	}
}

// onConnEvent runs on the stream control loop.
func (m *Monitor) onConnEvent(r *run, ev stream.ConnEvent) {
	switch ev.Kind {
	case stream.ConnOpened:
		m.cfg.Journal.LogAsync(r.sess.ID, eventlog.EventConnectionOpened, nil)
		m.setStatus(r, StatusConnected)
	case stream.ConnFailed:
		data := map[string]any{}
		if ev.Err != nil {
			data["error"] = ev.Err.Error()
		}
		m.cfg.Journal.LogAsync(r.sess.ID, eventlog.EventConnectionLost, data)
		m.setStatus(r, StatusConnectionFailed)
	case stream.ConnLost:
		m.cfg.Journal.LogAsync(r.sess.ID, eventlog.EventConnectionLost, map[string]any{
			"code":   ev.Code,
			"reason": ev.Reason,
		})
		m.setStatus(r, StatusDisconnected)
	case stream.ReconnectScheduled:
		m.cfg.Journal.LogAsync(r.sess.ID, eventlog.EventReconnectScheduled, map[string]any{
			"attempt":  ev.Attempt,
			"delay_ms": ev.Delay.Milliseconds(),
		})
	}
}
