// Package httpapi exposes the control API used by the telephony-event source
// and the live observer socket used by in-call UIs.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/lukasbauer/callguard/internal/calllog"
	"github.com/lukasbauer/callguard/internal/monitor"
	"github.com/rs/zerolog"
)

type RouterConfig struct {
	// JWT Authentication
	JWTSecret string
}

// CallStore is the read side of the call log plus device registration.
type CallStore interface {
	List(ctx context.Context, limit int) ([]calllog.Record, error)
	Stats(ctx context.Context) (calllog.Stats, error)
	Events(ctx context.Context, sessionID string) ([]calllog.Event, error)
	RegisterPushToken(ctx context.Context, token, platform string) error
	UnregisterPushToken(ctx context.Context, token string) error
}

type Router struct {
	cfg     RouterConfig
	log     zerolog.Logger
	monitor *monitor.Monitor
	calls   CallStore
	hub     *Hub
	mux     *http.ServeMux
}

func NewRouter(cfg RouterConfig, logger zerolog.Logger, m *monitor.Monitor, calls CallStore, hub *Hub) http.Handler {
	r := &Router{
		cfg:     cfg,
		log:     logger.With().Str("component", "httpapi").Logger(),
		monitor: m,
		calls:   calls,
		hub:     hub,
		mux:     http.NewServeMux(),
	}

	r.routes()
	return withSentryRecovery(withCORS(r.mux))
}

func (r *Router) routes() {
	// Health check
	r.mux.HandleFunc("GET /healthz", r.handleHealthz)

	// Call lifecycle, driven by the telephony-event source
	r.mux.HandleFunc("POST /v1/calls/start", r.withAuth(r.handleStartCall))
	r.mux.HandleFunc("POST /v1/calls/end", r.withAuth(r.handleEndCall))
	r.mux.HandleFunc("POST /v1/calls/caller", r.withAuth(r.handleUpdateCaller))

	// Monitor state and history
	r.mux.HandleFunc("GET /v1/status", r.withAuth(r.handleStatus))
	r.mux.HandleFunc("GET /v1/calls", r.withAuth(r.handleListCalls))
	r.mux.HandleFunc("GET /v1/calls/{sessionId}/events", r.withAuth(r.handleCallEvents))
	r.mux.HandleFunc("GET /v1/stats", r.withAuth(r.handleStats))

	// Settings
	r.mux.HandleFunc("GET /v1/settings", r.withAuth(r.handleGetSettings))
	r.mux.HandleFunc("PATCH /v1/settings", r.withAuth(r.handleUpdateSettings))

	// Push notifications
	r.mux.HandleFunc("POST /v1/push/register", r.withAuth(r.handlePushRegister))
	r.mux.HandleFunc("POST /v1/push/unregister", r.withAuth(r.handlePushUnregister))

	// Live observers
	r.mux.HandleFunc("GET /v1/live", r.withAuth(r.handleLive))
}

func (r *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// captureError sends an error to Sentry with request context
func captureError(req *http.Request, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}
