package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/lukasbauer/callguard/internal/audio"
	"github.com/lukasbauer/callguard/internal/monitor"
	"github.com/lukasbauer/callguard/internal/session"
)

type startCallResponse struct {
	Started bool             `json:"started"`
	Ignored bool             `json:"ignored,omitempty"`
	Status  monitor.Snapshot `json:"status"`
}

func (r *Router) handleStartCall(w http.ResponseWriter, req *http.Request) {
	var body struct {
		PhoneNumber string `json:"phone_number"`
	}
	// An empty body is allowed; the number then shows as unknown.
	if req.ContentLength != 0 {
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
			return
		}
	}

	s, started, err := r.monitor.Start(req.Context(), strings.TrimSpace(body.PhoneNumber))
	switch {
	case errors.Is(err, monitor.ErrDraining):
		http.Error(w, `{"error": "shutting down"}`, http.StatusServiceUnavailable)
		return
	case errors.Is(err, audio.ErrDeviceUnavailable):
		http.Error(w, `{"error": "microphone unavailable"}`, http.StatusConflict)
		return
	case err != nil:
		r.log.Error().Err(err).Msg("start call failed")
		captureError(req, err, "start call failed")
		http.Error(w, `{"error": "failed to start monitoring"}`, http.StatusInternalServerError)
		return
	}

	if started {
		r.log.Info().Str("session_id", s.ID).Str("client", clientName(req.Context())).Msg("monitoring started")
	}
	writeJSON(w, http.StatusOK, startCallResponse{
		Started: started,
		Ignored: s == nil,
		Status:  r.monitor.Snapshot(),
	})
}

func (r *Router) handleEndCall(w http.ResponseWriter, req *http.Request) {
	stopped := r.monitor.Stop()
	if stopped {
		r.log.Info().Str("client", clientName(req.Context())).Msg("monitoring stopped")
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stopped": stopped,
		"status":  r.monitor.Snapshot(),
	})
}

func (r *Router) handleUpdateCaller(w http.ResponseWriter, req *http.Request) {
	var body struct {
		PhoneNumber string `json:"phone_number"`
		CallerName  string `json:"caller_name"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}

	s, err := r.monitor.UpdateCaller(req.Context(), strings.TrimSpace(body.PhoneNumber), strings.TrimSpace(body.CallerName))
	if errors.Is(err, monitor.ErrNoSession) {
		http.Error(w, `{"error": "no active call"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		// The session was refined even though the record write failed.
		r.log.Warn().Err(err).Str("session_id", s.ID).Msg("caller update not persisted")
	}
	writeJSON(w, http.StatusOK, callerView(s))
}

func callerView(s *session.CallSession) map[string]string {
	return map[string]string{
		"session_id":   s.ID,
		"phone_number": s.PhoneNumber(),
		"caller_name":  s.CallerName(),
	}
}

func (r *Router) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, r.monitor.Snapshot())
}

func (r *Router) handleListCalls(w http.ResponseWriter, req *http.Request) {
	limit := 100
	if v := req.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, `{"error": "limit must be a positive integer"}`, http.StatusBadRequest)
			return
		}
		limit = n
	}

	calls, err := r.calls.List(req.Context(), limit)
	if err != nil {
		r.log.Error().Err(err).Msg("list calls failed")
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, calls)
}

// eventView decodes the stored JSON payload so clients get an object rather
// than base64.
type eventView struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt string          `json:"created_at"`
}

func (r *Router) handleCallEvents(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("sessionId")
	if id == "" {
		http.Error(w, `{"error": "missing id"}`, http.StatusBadRequest)
		return
	}

	events, err := r.calls.Events(req.Context(), id)
	if err != nil {
		r.log.Error().Err(err).Str("session_id", id).Msg("list events failed")
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}

	out := make([]eventView, 0, len(events))
	for _, e := range events {
		v := eventView{Type: e.Type, CreatedAt: e.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00")}
		if json.Valid(e.Data) {
			v.Data = e.Data
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

func (r *Router) handleStats(w http.ResponseWriter, req *http.Request) {
	stats, err := r.calls.Stats(req.Context())
	if err != nil {
		r.log.Error().Err(err).Msg("stats failed")
		http.Error(w, `{"error": "database error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (r *Router) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, r.monitor.Settings().Values())
}

func (r *Router) handleUpdateSettings(w http.ResponseWriter, req *http.Request) {
	var u monitor.SettingsUpdate
	if err := json.NewDecoder(req.Body).Decode(&u); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}
	v := r.monitor.Settings().Apply(u)
	r.log.Info().
		Bool("protection_enabled", v.ProtectionEnabled).
		Bool("voice_alerts", v.VoiceAlerts).
		Bool("haptic_alerts", v.HapticAlerts).
		Msg("settings updated")
	writeJSON(w, http.StatusOK, v)
}
