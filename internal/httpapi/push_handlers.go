package httpapi

import (
	"encoding/json"
	"net/http"
)

// handlePushRegister registers a device push token
func (r *Router) handlePushRegister(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Token    string `json:"token"`
		Platform string `json:"platform"`
	}

	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}

	if body.Token == "" {
		http.Error(w, `{"error": "token is required"}`, http.StatusBadRequest)
		return
	}

	if body.Platform != "ios" && body.Platform != "android" {
		http.Error(w, `{"error": "platform must be 'ios' or 'android'"}`, http.StatusBadRequest)
		return
	}

	if err := r.calls.RegisterPushToken(req.Context(), body.Token, body.Platform); err != nil {
		r.log.Error().Err(err).Msg("failed to register push token")
		http.Error(w, `{"error": "failed to register token"}`, http.StatusInternalServerError)
		return
	}

	r.log.Info().Str("platform", body.Platform).Str("client", clientName(req.Context())).Msg("push token registered")
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handlePushUnregister removes a device push token
func (r *Router) handlePushUnregister(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Token string `json:"token"`
	}

	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}

	if body.Token == "" {
		http.Error(w, `{"error": "token is required"}`, http.StatusBadRequest)
		return
	}

	if err := r.calls.UnregisterPushToken(req.Context(), body.Token); err != nil {
		r.log.Error().Err(err).Msg("failed to unregister push token")
		http.Error(w, `{"error": "failed to unregister token"}`, http.StatusInternalServerError)
		return
	}

	r.log.Info().Str("client", clientName(req.Context())).Msg("push token unregistered")
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
