// Package monitor drives one call session at a time: it opens capture, the
// analysis stream and local transcription when a call starts, routes every
// detection to the alert coordinator, and converges all exit paths on a
// single cleanup.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lukasbauer/callguard/internal/audio"
	"github.com/lukasbauer/callguard/internal/calllog"
	"github.com/lukasbauer/callguard/internal/capture"
	"github.com/lukasbauer/callguard/internal/detect"
	"github.com/lukasbauer/callguard/internal/eventlog"
	"github.com/lukasbauer/callguard/internal/session"
	"github.com/lukasbauer/callguard/internal/stream"
	"github.com/lukasbauer/callguard/internal/transcribe"
	"github.com/rs/zerolog"
)

var (
	// ErrDraining is returned by Start once Shutdown has begun.
	ErrDraining = errors.New("monitor is shutting down")
	// ErrNoSession is returned when an operation needs an active call.
	ErrNoSession = errors.New("no active call")
)

// DefaultKeepAliveMax bounds how long a session may run without a stop.
const DefaultKeepAliveMax = 10 * time.Minute

const (
	storeTimeout    = 5 * time.Second
	detectionBuffer = 64
)

// CallLog is the part of the call-log store the monitor writes to.
type CallLog interface {
	Insert(ctx context.Context, r calllog.Record) (int64, error)
	Update(ctx context.Context, id int64, f calllog.Fields) error
}

// Reporter receives fraud results. *alert.Coordinator implements it.
type Reporter interface {
	Report(ctx context.Context, s *session.CallSession, r detect.Result) bool
}

// Config wires the monitor's collaborators.
type Config struct {
	Stream       stream.Config
	Capture      capture.Config
	KeepAliveMax time.Duration

	// NewSource returns a fresh, unopened audio source per call.
	NewSource func() (audio.Source, error)
	// NewTranscriber returns the local transcription engine. It may be nil,
	// and an error only disables local detection for the call.
	NewTranscriber func() (transcribe.Transcriber, error)

	// Keywords for the local heuristic; empty selects detect.DefaultKeywords.
	Keywords []string

	Log      CallLog
	Journal  *eventlog.Logger
	Alerts   Reporter
	Settings *Settings
	Observer Observer
}

// Monitor owns the current call session.
type Monitor struct {
	cfg      Config
	log      zerolog.Logger
	interp   *detect.Interpreter
	registry registry

	startMu sync.Mutex
	mu      sync.Mutex
	current *run
	status  string
}

// run is everything owned by one session.
type run struct {
	sess      *session.CallSession
	log       zerolog.Logger
	cancel    context.CancelFunc
	client    *stream.Client
	pipeline  *capture.Pipeline
	tr        transcribe.Transcriber
	keepAlive *keepAlive

	// detections carries fraud results to reportLoop in arrival order.
	detections chan detect.Result
	reported   chan struct{}

	stopOnce sync.Once
	closed   chan struct{}
}

func New(cfg Config, logger zerolog.Logger) *Monitor {
	if cfg.KeepAliveMax <= 0 {
		cfg.KeepAliveMax = DefaultKeepAliveMax
	}
	if cfg.Settings == nil {
		cfg.Settings = NewSettings(SettingsValues{ProtectionEnabled: true, VoiceAlerts: true, HapticAlerts: true})
	}
	m := &Monitor{
		cfg:    cfg,
		log:    logger.With().Str("component", "monitor").Logger(),
		status: StatusIdle,
	}
	m.interp = detect.New(detect.Config{Keywords: cfg.Keywords, OnHeard: m.heard}, logger)
	return m
}

// Settings returns the live toggles.
func (m *Monitor) Settings() *Settings {
	return m.cfg.Settings
}

// Interpreter returns the detection interpreter shared by all sessions.
func (m *Monitor) Interpreter() *detect.Interpreter {
	return m.interp
}

// Start begins monitoring a call. Starting while a session is active returns
// that session with started=false. When protection is disabled the call is
// ignored and (nil, false, nil) is returned. A session still shutting down
// is waited for so resources never overlap.
//
// Starts are serialized on startMu. The store insert and device open run
// without m.mu; it is held only while the new run is published.
func (m *Monitor) Start(ctx context.Context, phoneNumber string) (*session.CallSession, bool, error) {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	for {
		r := m.currentRun()
		if r == nil || r.sess.State() != session.Stopping {
			break
		}
		select {
		case <-r.closed:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}

	if r := m.currentRun(); r != nil {
		m.log.Debug().Str("session_id", r.sess.ID).Msg("call already monitored, ignoring start")
		return r.sess, false, nil
	}
	if !m.cfg.Settings.ProtectionEnabled() {
		m.log.Info().Msg("protection disabled, ignoring call")
		return nil, false, nil
	}
	if !m.registry.admit() {
		return nil, false, ErrDraining
	}

	s := session.New(phoneNumber)
	s.Transition(session.Starting)
	r := &run{
		sess:       s,
		log:        m.log.With().Str("session_id", s.ID).Logger(),
		detections: make(chan detect.Result, detectionBuffer),
		reported:   make(chan struct{}),
		closed:     make(chan struct{}),
	}
	r.log.Info().Str("phone_number", s.PhoneNumber()).Msg("call started")

	m.createRecord(ctx, r)
	m.cfg.Journal.LogAsync(s.ID, eventlog.EventCallStarted, map[string]any{
		"phone_number": s.PhoneNumber(),
	})

	pipeline, err := m.openCapture(r)
	if err != nil {
		r.log.Error().Err(err).Msg("capture unavailable, aborting session")
		m.cfg.Journal.LogAsync(s.ID, eventlog.EventCaptureFailed, map[string]any{"error": err.Error()})
		s.Transition(session.Stopping)
		m.finish(r)
		m.mu.Lock()
		s.Transition(session.Closed)
		m.setStatusLocked(StatusMicrophoneDisabled)
		m.mu.Unlock()
		m.registry.release()
		close(r.closed)
		return nil, false, err
	}
	tr := m.openTranscriber(r)

	m.mu.Lock()
	defer m.mu.Unlock()

	r.pipeline = pipeline
	r.tr = tr
	s.Transition(session.Streaming)

	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.client = stream.New(m.cfg.Stream, s, stream.Handlers{
		OnMessage:   func(raw []byte) { m.onMessage(r, raw) },
		OnConnEvent: func(ev stream.ConnEvent) { m.onConnEvent(r, ev) },
	}, r.log)
	// Every field of r is set before anything that may stop the session
	// can run.
	r.keepAlive = newKeepAlive(func() {
		r.log.Warn().Dur("max", m.cfg.KeepAliveMax).Msg("keep-alive ceiling reached, stopping session")
		m.stop(r)
	})
	go m.reportLoop(r)
	r.client.Start(runCtx)
	r.keepAlive.arm(m.cfg.KeepAliveMax)
	go func() {
		if err := pipeline.Run(runCtx, r.client, r.tr); err != nil {
			r.log.Error().Err(err).Msg("capture failed, stopping session")
			m.cfg.Journal.LogAsync(s.ID, eventlog.EventCaptureFailed, map[string]any{"error": err.Error()})
			m.stop(r)
		}
	}()

	m.current = r
	if r.tr == nil && m.cfg.NewTranscriber != nil {
		m.setStatusLocked(StatusLocalModelMissing)
	} else {
		m.setStatusLocked(StatusMonitoring)
	}
	return s, true, nil
}

// currentRun returns the published run, if any.
func (m *Monitor) currentRun() *run {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// settledRun waits for an in-flight Start before reading the current run.
func (m *Monitor) settledRun() *run {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	return m.currentRun()
}

func (m *Monitor) createRecord(ctx context.Context, r *run) {
	if m.cfg.Log == nil {
		return
	}
	ictx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	id, err := m.cfg.Log.Insert(ictx, calllog.Record{
		SessionID:   r.sess.ID,
		PhoneNumber: r.sess.PhoneNumber(),
		Direction:   calllog.DirectionIncoming,
		Status:      calllog.StatusUnknown,
		StartedAt:   r.sess.StartedAt,
	})
	if err != nil {
		r.log.Error().Err(err).Msg("creating call log record")
		return
	}
	r.sess.SetLogRecordID(id)
}

func (m *Monitor) openCapture(r *run) (*capture.Pipeline, error) {
	if m.cfg.NewSource == nil {
		return nil, fmt.Errorf("%w: no audio source configured", audio.ErrDeviceUnavailable)
	}
	src, err := m.cfg.NewSource()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
	}

	cfg := m.cfg.Capture
	cfg.OnTranscript = func(text string) { m.onLocalTranscript(r, text) }
	cfg.OnTranscriberError = func(err error) {
		m.cfg.Journal.LogAsync(r.sess.ID, eventlog.EventTranscriberUnavailable, map[string]any{"error": err.Error()})
		m.setStatus(r, StatusLocalModelMissing)
	}
	return capture.Open(src, cfg, r.log)
}

func (m *Monitor) openTranscriber(r *run) transcribe.Transcriber {
	if m.cfg.NewTranscriber == nil {
		return nil
	}
	tr, err := m.cfg.NewTranscriber()
	if err != nil {
		r.log.Warn().Err(err).Msg("local transcription unavailable")
		m.cfg.Journal.LogAsync(r.sess.ID, eventlog.EventTranscriberUnavailable, map[string]any{"error": err.Error()})
		return nil
	}
	r.log.Info().Str("engine", tr.Name()).Msg("local transcription ready")
	return tr
}

// Stop ends the current call. It is a no-op without an active session and
// returns once cleanup has finished.
func (m *Monitor) Stop() bool {
	r := m.settledRun()
	if r == nil {
		return false
	}
	stopped := m.stop(r)
	<-r.closed
	return stopped
}

// stop runs the session cleanup exactly once across every exit path. It
// reports whether this call performed it.
func (m *Monitor) stop(r *run) bool {
	stopped := false
	r.stopOnce.Do(func() {
		stopped = true
		go m.cleanup(r)
	})
	return stopped
}

func (m *Monitor) cleanup(r *run) {
	s := r.sess
	s.Transition(session.Stopping)
	r.log.Info().Msg("stopping session")

	r.keepAlive.Release()
	r.cancel()
	if err := r.client.Close(); err != nil {
		r.log.Warn().Err(err).Msg("closing analysis stream")
	}
	<-r.pipeline.Done()
	// Both producers have exited; the report loop drains what they queued.
	close(r.detections)
	<-r.reported

	if r.tr != nil {
		if err := r.tr.Close(); err != nil {
			r.log.Warn().Err(err).Msg("releasing transcriber")
		}
	}

	m.finish(r)

	m.mu.Lock()
	s.Transition(session.Closed)
	if m.current == r {
		m.current = nil
	}
	m.setStatusLocked(StatusIdle)
	m.mu.Unlock()

	m.registry.release()
	close(r.closed)
}

// finish writes the call duration and the end-of-call journal entry.
func (m *Monitor) finish(r *run) {
	s := r.sess
	duration := int64(time.Since(s.StartedAt).Seconds())
	data := map[string]any{
		"duration_seconds": duration,
		"alert_raised":     s.AlertRaised(),
	}
	if r.client != nil {
		st := r.client.Stats()
		data["frames_sent"] = st.SentFrames
		data["frames_dropped"] = st.Dropped
		data["reconnects"] = st.Reconnects
	}
	if r.pipeline != nil {
		data["windows"] = r.pipeline.Stats().Windows
	}

	if id := s.LogRecordID(); id != 0 && m.cfg.Log != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := m.cfg.Log.Update(ctx, id, calllog.Fields{DurationSeconds: &duration}); err != nil {
			r.log.Error().Err(err).Msg("writing call duration")
		}
	}
	m.cfg.Journal.LogAsync(s.ID, eventlog.EventCallEnded, data)
	r.log.Info().Int64("duration_seconds", duration).Bool("alert_raised", s.AlertRaised()).Msg("call ended")
}

// Shutdown stops admitting calls, ends the current one and waits for every
// session to release its resources.
func (m *Monitor) Shutdown(ctx context.Context) error {
	m.registry.startDraining()
	m.Stop()
	return m.registry.wait(ctx)
}

// Draining reports whether Shutdown has begun.
func (m *Monitor) Draining() bool {
	return m.registry.isDraining()
}

// UpdateCaller refines the number and name of the current call.
func (m *Monitor) UpdateCaller(ctx context.Context, phoneNumber, callerName string) (*session.CallSession, error) {
	r := m.settledRun()
	if r == nil {
		return nil, ErrNoSession
	}
	s := r.sess
	if !s.RefineCaller(phoneNumber, callerName) {
		return s, nil
	}
	r.log.Info().Str("phone_number", s.PhoneNumber()).Str("caller_name", s.CallerName()).Msg("caller refined")
	m.cfg.Journal.LogAsync(s.ID, eventlog.EventCallerUpdated, map[string]any{
		"phone_number": s.PhoneNumber(),
		"caller_name":  s.CallerName(),
	})

	if id := s.LogRecordID(); id != 0 && m.cfg.Log != nil {
		phone, name := s.PhoneNumber(), s.CallerName()
		uctx, cancel := context.WithTimeout(ctx, storeTimeout)
		defer cancel()
		if err := m.cfg.Log.Update(uctx, id, calllog.Fields{PhoneNumber: &phone, CallerName: &name}); err != nil {
			return s, fmt.Errorf("update call log: %w", err)
		}
	}
	m.publish()
	return s, nil
}

// Current returns the active session, if any.
func (m *Monitor) Current() *session.CallSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	return m.current.sess
}

// Snapshot returns the observable monitor state.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Monitor) snapshotLocked() Snapshot {
	snap := Snapshot{State: StatusIdle, Status: m.status}
	r := m.current
	if r == nil {
		return snap
	}
	s := r.sess
	started := s.StartedAt
	snap.State = s.State().String()
	snap.SessionID = s.ID
	snap.PhoneNumber = s.PhoneNumber()
	snap.CallerName = s.CallerName()
	snap.AlertRaised = s.AlertRaised()
	snap.StartedAt = &started
	if r.client != nil {
		st := r.client.Stats()
		snap.Stream = &st
	}
	if r.pipeline != nil {
		st := r.pipeline.Stats()
		snap.Capture = &st
	}
	return snap
}

func (m *Monitor) setStatus(r *run, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != r {
		return
	}
	m.setStatusLocked(status)
}

func (m *Monitor) setStatusLocked(status string) {
	if m.status == status {
		return
	}
	m.status = status
	m.log.Debug().Str("status", status).Msg("status changed")
	if m.cfg.Observer != nil {
		m.cfg.Observer.PublishStatus(m.snapshotLocked())
	}
}

func (m *Monitor) publish() {
	if m.cfg.Observer == nil {
		return
	}
	m.cfg.Observer.PublishStatus(m.Snapshot())
}
