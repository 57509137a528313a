// Package stream maintains the websocket connection to the call-analysis
// service for one call session.
package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lukasbauer/callguard/internal/protocol"
	"github.com/lukasbauer/callguard/internal/session"
	"github.com/rs/zerolog"
)

// ErrConnectionFailure wraps dial and handshake errors.
var ErrConnectionFailure = errors.New("analysis connection failure")

// CloseReason is sent with the normal-closure frame when a session stops.
const CloseReason = "Recording stopped"

const (
	DefaultReconnectDelay = 3 * time.Second
	defaultDialTimeout    = 10 * time.Second
	defaultWriteTimeout   = 5 * time.Second
)

// Config holds the connection settings for the analysis service.
type Config struct {
	URL            string
	APIKey         string
	AssistantID    string
	ReconnectDelay time.Duration
	DialTimeout    time.Duration
	WriteTimeout   time.Duration
	Dialer         *websocket.Dialer
}

// SessionState reports the lifecycle state of the owning session.
type SessionState interface {
	State() session.State
}

// ConnEventKind classifies connection lifecycle notifications.
type ConnEventKind int

const (
	ConnOpened ConnEventKind = iota
	ConnFailed
	ConnLost
	ReconnectScheduled
)

func (k ConnEventKind) String() string {
	switch k {
	case ConnOpened:
		return "opened"
	case ConnFailed:
		return "failed"
	case ConnLost:
		return "lost"
	case ReconnectScheduled:
		return "reconnect_scheduled"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ConnEvent describes a connection lifecycle change.
type ConnEvent struct {
	Kind    ConnEventKind
	Code    int
	Reason  string
	Err     error
	Attempt int
	Delay   time.Duration
}

// Handlers receive inbound traffic. They are invoked from the client's
// control loop, one at a time, in arrival order.
type Handlers struct {
	OnMessage   func(raw []byte)
	OnConnEvent func(ConnEvent)
}

// Stats are counters for the lifetime of a client.
type Stats struct {
	Connects     uint64 `json:"connects"`
	Reconnects   uint64 `json:"reconnects"`
	SentFrames   uint64 `json:"sent_frames"`
	SentBytes    uint64 `json:"sent_bytes"`
	Dropped      uint64 `json:"dropped"`
	Transcripts  uint64 `json:"transcripts"`
	Received     uint64 `json:"received"`
	Disconnected uint64 `json:"disconnected"`
}

// Client owns at most one open connection at a time.
type Client struct {
	cfg      Config
	sess     SessionState
	handlers Handlers
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	events chan event
	done   chan struct{}

	started   atomic.Bool
	closeOnce sync.Once

	mu   sync.Mutex // guards conn and all writes
	conn *websocket.Conn

	connects     atomic.Uint64
	reconnects   atomic.Uint64
	sentFrames   atomic.Uint64
	sentBytes    atomic.Uint64
	dropped      atomic.Uint64
	transcripts  atomic.Uint64
	received     atomic.Uint64
	disconnected atomic.Uint64
}

type eventKind int

const (
	evOpened eventKind = iota
	evDialFailed
	evMessage
	evClosed
)

type event struct {
	kind eventKind
	gen  uint64
	conn *websocket.Conn
	data []byte
	err  error
}

// New creates a client. Nothing is dialed until Start.
func New(cfg Config, sess SessionState, h Handlers, logger zerolog.Logger) *Client {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &Client{
		cfg:      cfg,
		sess:     sess,
		handlers: h,
		log:      logger.With().Str("component", "stream").Logger(),
		events:   make(chan event, 64),
		done:     make(chan struct{}),
	}
}

// Start dials the service and runs the control loop until ctx is done or
// Close is called.
func (c *Client) Start(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	go c.run()
}

// SendAudio forwards one PCM frame. Frames are dropped while disconnected.
func (c *Client) SendAudio(frame []byte) bool {
	if c.write(websocket.BinaryMessage, frame) {
		c.sentFrames.Add(1)
		c.sentBytes.Add(uint64(len(frame)))
		return true
	}
	c.dropped.Add(1)
	return false
}

// SendTranscript forwards locally transcribed text.
func (c *Client) SendTranscript(text string) bool {
	b, err := protocol.Encode(protocol.NewTranscriptUpdate(text))
	if err != nil {
		return false
	}
	if c.write(websocket.TextMessage, b) {
		c.transcripts.Add(1)
		return true
	}
	return false
}

func (c *Client) write(messageType int, data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return false
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		c.log.Debug().Err(err).Msg("write failed")
		return false
	}
	return true
}

// Connected reports whether a connection is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close cancels any pending reconnect, sends a normal-closure frame and
// waits for the control loop to exit. It is idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if !c.started.CompareAndSwap(false, true) {
			c.cancel()
			<-c.done
			return
		}
		close(c.done)
	})
	return nil
}

// Done is closed once the client has shut down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Stats returns a snapshot of the client counters.
func (c *Client) Stats() Stats {
	return Stats{
		Connects:     c.connects.Load(),
		Reconnects:   c.reconnects.Load(),
		SentFrames:   c.sentFrames.Load(),
		SentBytes:    c.sentBytes.Load(),
		Dropped:      c.dropped.Load(),
		Transcripts:  c.transcripts.Load(),
		Received:     c.received.Load(),
		Disconnected: c.disconnected.Load(),
	}
}

func (c *Client) run() {
	defer close(c.done)

	var (
		gen     uint64
		dialing bool
		timer   *time.Timer
		timerC  <-chan time.Time
	)

	dial := func() {
		gen++
		dialing = true
		go c.dial(gen)
	}

	scheduleReconnect := func() {
		if c.sess.State() != session.Streaming {
			c.log.Debug().Stringer("state", c.sess.State()).Msg("session not streaming, not reconnecting")
			return
		}
		if timer != nil {
			c.log.Debug().Msg("reconnect already pending")
			return
		}
		attempt := c.reconnects.Add(1)
		timer = time.NewTimer(c.cfg.ReconnectDelay)
		timerC = timer.C
		c.log.Warn().Uint64("attempt", attempt).Dur("delay", c.cfg.ReconnectDelay).Msg("reconnect scheduled")
		c.emit(ConnEvent{Kind: ReconnectScheduled, Attempt: int(attempt), Delay: c.cfg.ReconnectDelay})
	}

	dial()

	for {
		select {
		case <-c.ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			c.shutdown()
			return

		case <-timerC:
			timer, timerC = nil, nil
			if c.sess.State() != session.Streaming {
				c.log.Debug().Stringer("state", c.sess.State()).Msg("reconnect skipped")
				continue
			}
			if dialing || c.Connected() {
				continue
			}
			c.log.Info().Msg("reconnecting")
			dial()

		case ev := <-c.events:
			if ev.gen != gen {
				if ev.conn != nil {
					ev.conn.Close()
				}
				continue
			}
			switch ev.kind {
			case evOpened:
				dialing = false
				if err := c.open(ev.conn); err != nil {
					c.log.Error().Err(err).Msg("setup failed")
					c.disconnected.Add(1)
					c.emit(ConnEvent{Kind: ConnFailed, Err: err})
					scheduleReconnect()
					continue
				}
				go c.readLoop(gen, ev.conn)

			case evDialFailed:
				dialing = false
				c.log.Error().Err(ev.err).Msg("connection failed")
				c.emit(ConnEvent{Kind: ConnFailed, Err: ev.err})
				scheduleReconnect()

			case evMessage:
				c.received.Add(1)
				if c.handlers.OnMessage != nil {
					c.handlers.OnMessage(ev.data)
				}

			case evClosed:
				c.detach()
				c.disconnected.Add(1)
				ce := ConnEvent{Kind: ConnLost, Err: ev.err, Code: websocket.CloseAbnormalClosure}
				var closeErr *websocket.CloseError
				if errors.As(ev.err, &closeErr) {
					ce.Code = closeErr.Code
					ce.Reason = closeErr.Text
				}
				c.log.Warn().Int("code", ce.Code).Str("reason", ce.Reason).Msg("connection closed")
				c.emit(ce)
				scheduleReconnect()
			}
		}
	}
}

func (c *Client) dial(gen uint64) {
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.DialTimeout)
	defer cancel()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+c.cfg.APIKey)

	conn, resp, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, headers)
	ev := event{kind: evOpened, gen: gen, conn: conn}
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w: %v (status %d)", ErrConnectionFailure, err, resp.StatusCode)
		} else {
			err = fmt.Errorf("%w: %v", ErrConnectionFailure, err)
		}
		ev = event{kind: evDialFailed, gen: gen, err: err}
	}
	c.post(ev)
}

// open installs conn as the current connection and sends the setup
// handshake. Sends are permitted as soon as setup is written.
func (c *Client) open(conn *websocket.Conn) error {
	setup, err := protocol.Encode(protocol.NewSetup(c.cfg.AssistantID, c.cfg.APIKey))
	if err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, setup); err != nil {
		c.mu.Unlock()
		conn.Close()
		return fmt.Errorf("%w: send setup: %v", ErrConnectionFailure, err)
	}
	c.conn = conn
	c.mu.Unlock()

	n := c.connects.Add(1)
	c.log.Info().Uint64("connects", n).Msg("connected, setup sent")
	c.emit(ConnEvent{Kind: ConnOpened})
	return nil
}

func (c *Client) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			c.post(event{kind: evClosed, gen: gen, err: err})
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if !c.post(event{kind: evMessage, gen: gen, data: data}) {
			return
		}
	}
}

// post delivers ev to the control loop. It reports false once the client
// is shutting down, closing any connection carried by ev.
func (c *Client) post(ev event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.ctx.Done():
		if ev.conn != nil {
			ev.conn.Close()
		}
		return false
	}
}

func (c *Client) detach() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (c *Client) shutdown() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, CloseReason)
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
		c.log.Info().Msg("connection closed")
	}
}

func (c *Client) emit(ev ConnEvent) {
	if c.handlers.OnConnEvent != nil {
		c.handlers.OnConnEvent(ev)
	}
}
