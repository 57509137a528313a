package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lukasbauer/callguard/internal/alert"
	"github.com/lukasbauer/callguard/internal/monitor"
	"github.com/rs/zerolog"
)

type rawEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func dialHub(t *testing.T, hub *Hub, initial *monitor.Snapshot) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		hub.Serve(w, req, initial)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	eventually(t, "observer registered", func() bool { return hub.Observers() > 0 })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) rawEvent {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev rawEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
	return ev
}

func TestHub_Events(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	conn := dialHub(t, hub, &monitor.Snapshot{State: monitor.StatusIdle, Status: monitor.StatusIdle})

	if ev := readEvent(t, conn); ev.Type != EventStatus {
		t.Fatalf("first event = %s, want initial status", ev.Type)
	}

	hub.PublishHeard("s1", "please read me the OTP")
	ev := readEvent(t, conn)
	var heard heardView
	_ = json.Unmarshal(ev.Data, &heard)
	if ev.Type != EventHeard || heard.SessionID != "s1" || heard.Text != "please read me the OTP" {
		t.Errorf("heard event = %s %+v", ev.Type, heard)
	}

	hub.PublishStatus(monitor.Snapshot{State: "STREAMING", Status: monitor.StatusConnected, SessionID: "s1"})
	ev = readEvent(t, conn)
	var snap monitor.Snapshot
	_ = json.Unmarshal(ev.Data, &snap)
	if ev.Type != EventStatus || snap.Status != monitor.StatusConnected {
		t.Errorf("status event = %s %+v", ev.Type, snap)
	}

	a := alert.Alert{SessionID: "s1", PhoneNumber: "+15551234", Confidence: 0.85, Reason: "Suspicious keyword detected: OTP", HandoverNumber: "+19793418014"}
	if err := hub.ShowPopup(context.Background(), a); err != nil {
		t.Fatalf("ShowPopup: %v", err)
	}
	ev = readEvent(t, conn)
	var popup popupView
	_ = json.Unmarshal(ev.Data, &popup)
	if ev.Type != EventPopup {
		t.Fatalf("event = %s, want popup", ev.Type)
	}
	if popup.Title != alert.NotificationTitle || popup.Body != "Confidence: 85%. Tap for options." || popup.Action != alert.HandoverAction {
		t.Errorf("popup = %+v", popup)
	}
	if popup.SessionID != "s1" || popup.PhoneNumber != "+15551234" {
		t.Errorf("popup alert fields = %+v", popup.Alert)
	}

	if err := hub.BroadcastAlert(context.Background(), a); err != nil {
		t.Fatalf("BroadcastAlert: %v", err)
	}
	if ev := readEvent(t, conn); ev.Type != EventFraudAlert {
		t.Errorf("event = %s, want fraud_alert", ev.Type)
	}
}

func TestHub_NoObservers(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	err := hub.ShowPopup(context.Background(), alert.Alert{})
	if !errors.Is(err, ErrNoObservers) {
		t.Errorf("ShowPopup err = %v, want ErrNoObservers", err)
	}
	if err := hub.BroadcastAlert(context.Background(), alert.Alert{}); err != nil {
		t.Errorf("BroadcastAlert without observers = %v, want nil", err)
	}
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	conn := dialHub(t, hub, nil)

	hub.Close()
	if hub.Observers() != 0 {
		t.Errorf("observers after Close = %d", hub.Observers())
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("read after Close = %v, want going-away close", err)
	}
}

func TestLiveRoute(t *testing.T) {
	api := newTestAPI(t, nil)
	srv := httptest.NewServer(api.handler)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/live?token=" + api.token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ev := readEvent(t, conn)
	var snap monitor.Snapshot
	_ = json.Unmarshal(ev.Data, &snap)
	if ev.Type != EventStatus || snap.State != monitor.StatusIdle {
		t.Errorf("initial event = %s %+v", ev.Type, snap)
	}

	eventually(t, "observer registered", func() bool { return api.hub.Observers() == 1 })
	api.do(t, http.MethodPost, "/v1/calls/start", map[string]string{"phone_number": "+15551234"})
	ev = readEvent(t, conn)
	_ = json.Unmarshal(ev.Data, &snap)
	if ev.Type != EventStatus || snap.PhoneNumber != "+15551234" {
		t.Errorf("status after start = %s %+v", ev.Type, snap)
	}
}
