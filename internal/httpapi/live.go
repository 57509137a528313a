package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lukasbauer/callguard/internal/alert"
	"github.com/lukasbauer/callguard/internal/monitor"
	"github.com/rs/zerolog"
)

// ErrNoObservers is returned by ShowPopup when no in-call UI is connected.
var ErrNoObservers = errors.New("no live observers connected")

// Live event types.
const (
	EventStatus     = "status"
	EventHeard      = "heard"
	EventPopup      = "popup"
	EventFraudAlert = "fraud_alert"
)

const (
	liveSendBuffer = 64
	liveWriteWait  = 5 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = 25 * time.Second
)

// LiveEvent is the envelope written to observers.
type LiveEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type heardView struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

type popupView struct {
	alert.Alert
	Title    string `json:"title"`
	Body     string `json:"body"`
	Action   string `json:"action,omitempty"`
	Category string `json:"category"`
}

// Hub fans live monitor events out to websocket observers. It implements
// monitor.Observer, alert.Popup and alert.Broadcaster.
type Hub struct {
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*liveClient]struct{}
	closed  bool
}

type liveClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
	done chan struct{}
}

func (c *liveClient) close() {
	c.once.Do(func() { close(c.done) })
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		log: logger.With().Str("component", "live").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*liveClient]struct{}),
	}
}

// Observers returns the number of connected observers.
func (h *Hub) Observers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) PublishStatus(s monitor.Snapshot) {
	h.broadcast(EventStatus, s)
}

func (h *Hub) PublishHeard(sessionID, text string) {
	h.broadcast(EventHeard, heardView{SessionID: sessionID, Text: text})
}

// ShowPopup asks every observer to show the in-call warning.
func (h *Hub) ShowPopup(_ context.Context, a alert.Alert) error {
	v := popupView{
		Alert:    a,
		Title:    alert.NotificationTitle,
		Body:     alert.NotificationBody(a),
		Category: alert.HandoverCategory,
	}
	if a.HandoverNumber != "" {
		v.Action = alert.HandoverAction
	}
	if h.broadcast(EventPopup, v) == 0 {
		return ErrNoObservers
	}
	return nil
}

// BroadcastAlert emits the alert to anyone listening. Having no listeners is
// not an error.
func (h *Hub) BroadcastAlert(_ context.Context, a alert.Alert) error {
	h.broadcast(EventFraudAlert, a)
	return nil
}

// broadcast queues the event on every observer and returns how many accepted
// it. Observers whose buffer is full are dropped.
func (h *Hub) broadcast(eventType string, data any) int {
	b, err := json.Marshal(LiveEvent{Type: eventType, Data: data})
	if err != nil {
		h.log.Error().Err(err).Str("type", eventType).Msg("encode live event")
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	delivered := 0
	for c := range h.clients {
		select {
		case c.send <- b:
			delivered++
		default:
			h.log.Warn().Msg("observer too slow, dropping")
			delete(h.clients, c)
			c.close()
		}
	}
	return delivered
}

// Serve upgrades the request and streams events until the observer leaves.
// initial, when set, is sent before any broadcast.
func (h *Hub) Serve(w http.ResponseWriter, req *http.Request, initial *monitor.Snapshot) {
	conn, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("live upgrade failed")
		return
	}

	c := &liveClient{conn: conn, send: make(chan []byte, liveSendBuffer), done: make(chan struct{})}
	if initial != nil {
		if b, err := json.Marshal(LiveEvent{Type: EventStatus, Data: initial}); err == nil {
			c.send <- b
		}
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Info().Int("observers", n).Msg("observer connected")

	go h.readLoop(c)
	h.writeLoop(c)

	h.remove(c)
	_ = conn.Close()
	h.log.Info().Msg("observer disconnected")
}

func (h *Hub) remove(c *liveClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// readLoop discards inbound messages and keeps the pong deadline fresh.
func (h *Hub) readLoop(c *liveClient) {
	defer c.close()
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(livePongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(livePongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *liveClient) {
	ping := time.NewTicker(livePingPeriod)
	defer ping.Stop()
	for {
		select {
		case b := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(liveWriteWait)); err != nil {
				return
			}
		case <-c.done:
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}
	}
}

// Close disconnects every observer and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

func (r *Router) handleLive(w http.ResponseWriter, req *http.Request) {
	if r.hub == nil {
		http.Error(w, `{"error": "live updates disabled"}`, http.StatusNotFound)
		return
	}
	snap := r.monitor.Snapshot()
	r.hub.Serve(w, req, &snap)
}
