package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/lukasbauer/callguard/internal/alert"
	"github.com/lukasbauer/callguard/internal/audio"
	"github.com/lukasbauer/callguard/internal/calllog"
	"github.com/lukasbauer/callguard/internal/eventlog"
	"github.com/lukasbauer/callguard/internal/httpapi"
	"github.com/lukasbauer/callguard/internal/monitor"
	"github.com/lukasbauer/callguard/internal/notifications"
	"github.com/lukasbauer/callguard/internal/stream"
	"github.com/lukasbauer/callguard/internal/transcribe"
	"github.com/lukasbauer/callguard/internal/tts"
	"github.com/rs/zerolog"
)

type App struct {
	cfg     Config
	log     zerolog.Logger
	store   calllog.Store
	hub     *httpapi.Hub
	monitor *monitor.Monitor
}

func New(cfg Config, logger zerolog.Logger) (*App, error) {
	if cfg.AnalysisURL == "" {
		return nil, errors.New("ANALYSIS_WS_URL is required")
	}
	if cfg.JWTSecret == "" {
		logger.Warn().Msg("JWT_SECRET not set, control API will refuse requests")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := calllog.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open call log: %w", err)
	}
	el := eventlog.New(store, logger)

	apns, err := notifications.NewAPNsClient(notifications.APNsConfig{
		KeyPath:    cfg.APNsKeyPath,
		KeyID:      cfg.APNsKeyID,
		TeamID:     cfg.APNsTeamID,
		BundleID:   cfg.APNsBundleID,
		Production: cfg.APNsProduction,
	}, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("apns: %w", err)
	}

	settings := monitor.NewSettings(monitor.SettingsValues{
		ProtectionEnabled: cfg.ProtectionEnabled,
		VoiceAlerts:       cfg.VoiceAlerts,
		HapticAlerts:      cfg.HapticAlerts,
	})
	hub := httpapi.NewHub(logger)
	player := audio.NewPlayer()

	sinks := alert.Sinks{
		Vibrate:   alert.NewToneVibrator(player),
		Popup:     hub,
		Broadcast: hub,
	}
	if cfg.ElevenLabsAPIKey != "" {
		sinks.Speak = tts.NewSpeaker(tts.NewElevenLabsClient(tts.ElevenLabsConfig{
			APIKey:     cfg.ElevenLabsAPIKey,
			VoiceID:    cfg.TTSVoiceID,
			Stability:  -1,
			Similarity: -1,
		}), player, logger)
	} else {
		logger.Info().Msg("ELEVENLABS_API_KEY not set, voice alerts disabled")
	}
	notifier := notifications.NewNotifier(apns, cfg.APNsDeviceTokens, store, notifications.NewDiscord(cfg.DiscordWebhookURL), logger)
	if notifier.Enabled() {
		sinks.Notify = notifier
	}

	coordinator := alert.New(alert.Config{
		Sinks:          sinks,
		Log:            store,
		Journal:        el,
		Preferences:    settings,
		HandoverNumber: cfg.HandoverNumber,
	}, logger)

	mon := monitor.New(monitor.Config{
		Stream: stream.Config{
			URL:            cfg.AnalysisURL,
			APIKey:         cfg.AnalysisAPIKey,
			AssistantID:    cfg.AnalysisAssistantID,
			ReconnectDelay: cfg.ReconnectDelay,
		},
		KeepAliveMax: cfg.KeepAliveMax,
		NewSource:    func() (audio.Source, error) { return audio.OpenSource(cfg.AudioSource) },
		NewTranscriber: func() (transcribe.Transcriber, error) {
			return transcribe.NewWhisper(cfg.WhisperModelPath)
		},
		Keywords: cfg.FraudKeywords,
		Log:      store,
		Journal:  el,
		Alerts:   coordinator,
		Settings: settings,
		Observer: hub,
	}, logger)

	return &App{
		cfg:     cfg,
		log:     logger,
		store:   store,
		hub:     hub,
		monitor: mon,
	}, nil
}

func (a *App) Router() http.Handler {
	routerCfg := httpapi.RouterConfig{
		JWTSecret: a.cfg.JWTSecret,
	}
	return httpapi.NewRouter(routerCfg, a.log, a.monitor, a.store, a.hub)
}

// Shutdown refuses new calls, ends the active one and waits for its cleanup.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.monitor.Shutdown(ctx)
	a.hub.Close()
	return err
}

func (a *App) Close() error {
	if a.store != nil {
		a.store.Close()
	}
	return nil
}
