// Package alert fans a fraud detection out to the user-facing alert sinks,
// once per call session.
package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/lukasbauer/callguard/internal/calllog"
	"github.com/lukasbauer/callguard/internal/detect"
	"github.com/lukasbauer/callguard/internal/eventlog"
	"github.com/lukasbauer/callguard/internal/session"
	"github.com/rs/zerolog"
)

// Alert is what every sink receives.
type Alert struct {
	SessionID      string    `json:"session_id"`
	PhoneNumber    string    `json:"phone_number"`
	CallerName     string    `json:"caller_name,omitempty"`
	Confidence     float64   `json:"confidence"`
	Reason         string    `json:"reason"`
	Source         string    `json:"source"`
	HandoverNumber string    `json:"handover_number,omitempty"`
	RaisedAt       time.Time `json:"raised_at"`
}

// Sink interfaces, one per alert channel.
type (
	Vibrator interface {
		Vibrate(ctx context.Context, a Alert) error
	}
	Speaker interface {
		Speak(ctx context.Context, a Alert) error
	}
	Notifier interface {
		Notify(ctx context.Context, a Alert) error
	}
	Popup interface {
		ShowPopup(ctx context.Context, a Alert) error
	}
	Broadcaster interface {
		BroadcastAlert(ctx context.Context, a Alert) error
	}
)

// Sinks groups the alert consumers. Nil sinks are skipped.
type Sinks struct {
	Vibrate   Vibrator
	Speak     Speaker
	Notify    Notifier
	Popup     Popup
	Broadcast Broadcaster
}

// Preferences gate the optional sinks. A nil Preferences enables everything.
type Preferences interface {
	HapticAlerts() bool
	VoiceAlerts() bool
}

// LogUpdater is the part of the call log the coordinator writes to.
type LogUpdater interface {
	Update(ctx context.Context, id int64, f calllog.Fields) error
}

// SinkError names the sink that failed.
type SinkError struct {
	Sink string
	Err  error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("alert sink %s: %v", e.Sink, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

// Config configures a Coordinator.
type Config struct {
	Sinks          Sinks
	Log            LogUpdater
	Journal        *eventlog.Logger
	Preferences    Preferences
	HandoverNumber string
	SinkTimeout    time.Duration
}

// Coordinator deduplicates detections per session.
type Coordinator struct {
	cfg Config
	log zerolog.Logger
}

func New(cfg Config, logger zerolog.Logger) *Coordinator {
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = 10 * time.Second
	}
	return &Coordinator{cfg: cfg, log: logger.With().Str("component", "alert").Logger()}
}

// Report records a fraud result for s. The persisted record always takes the
// latest verdict; the sinks run only for the first result of the session.
// It reports whether this call performed the fan-out.
func (c *Coordinator) Report(ctx context.Context, s *session.CallSession, r detect.Result) bool {
	if !r.IsFraud {
		return false
	}
	log := c.log.With().Str("session_id", s.ID).Logger()

	c.persist(ctx, s, r, log)

	if !s.MarkAlertRaised() {
		log.Info().Float64("confidence", r.Confidence).Str("reason", r.Reason).Msg("alert already raised, metadata updated")
		c.cfg.Journal.LogAsync(s.ID, eventlog.EventAlertUpdated, map[string]any{
			"confidence": r.Confidence,
			"reason":     r.Reason,
		})
		return false
	}

	a := Alert{
		SessionID:      s.ID,
		PhoneNumber:    s.PhoneNumber(),
		CallerName:     s.CallerName(),
		Confidence:     r.Confidence,
		Reason:         r.Reason,
		Source:         string(r.Source),
		HandoverNumber: c.cfg.HandoverNumber,
		RaisedAt:       time.Now().UTC(),
	}
	log.Warn().Str("phone_number", a.PhoneNumber).Float64("confidence", a.Confidence).Str("reason", a.Reason).Msg("fraud alert raised")
	c.cfg.Journal.LogAsync(s.ID, eventlog.EventAlertRaised, map[string]any{
		"confidence": a.Confidence,
		"reason":     a.Reason,
		"source":     a.Source,
	})

	errs := c.fanOut(ctx, a)
	for _, err := range errs {
		log.Error().Err(err).Msg("alert sink failed")
		captureSinkError(err, a)
	}
	return true
}

func (c *Coordinator) persist(ctx context.Context, s *session.CallSession, r detect.Result, log zerolog.Logger) {
	id := s.LogRecordID()
	if id == 0 || c.cfg.Log == nil {
		log.Debug().Msg("no call log record, skipping verdict update")
		return
	}
	uctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.cfg.Log.Update(uctx, id, calllog.Verdict(calllog.StatusFraud, r.Confidence, r.Reason)); err != nil {
		log.Error().Err(err).Int64("record_id", id).Msg("updating call log verdict")
	}
}

// fanOut runs every enabled sink in order. A failing or panicking sink does
// not stop the others.
func (c *Coordinator) fanOut(ctx context.Context, a Alert) []error {
	haptic, voice := true, true
	if p := c.cfg.Preferences; p != nil {
		haptic, voice = p.HapticAlerts(), p.VoiceAlerts()
	}

	sinks := c.cfg.Sinks
	var steps []step
	add := func(name string, fn func(context.Context) error) {
		steps = append(steps, step{name, fn})
	}
	if sinks.Vibrate != nil && haptic {
		add("vibrate", func(ctx context.Context) error { return sinks.Vibrate.Vibrate(ctx, a) })
	}
	if sinks.Speak != nil && voice {
		add("speak", func(ctx context.Context) error { return sinks.Speak.Speak(ctx, a) })
	}
	if sinks.Notify != nil {
		add("notify", func(ctx context.Context) error { return sinks.Notify.Notify(ctx, a) })
	}
	if sinks.Popup != nil {
		add("popup", func(ctx context.Context) error { return sinks.Popup.ShowPopup(ctx, a) })
	}
	if sinks.Broadcast != nil {
		add("broadcast", func(ctx context.Context) error { return sinks.Broadcast.BroadcastAlert(ctx, a) })
	}

	var errs []error
	for _, step := range steps {
		if err := c.invoke(ctx, step.name, step.fn); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

type step struct {
	name string
	fn   func(context.Context) error
}

func (c *Coordinator) invoke(ctx context.Context, name string, fn func(context.Context) error) (err error) {
	sctx, cancel := context.WithTimeout(ctx, c.cfg.SinkTimeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			err = &SinkError{Sink: name, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()
	if e := fn(sctx); e != nil {
		return &SinkError{Sink: name, Err: e}
	}
	return nil
}

func captureSinkError(err error, a Alert) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("session_id", a.SessionID)
		scope.SetExtra("reason", a.Reason)
		sentry.CaptureException(err)
	})
}
