package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/lukasbauer/callguard/internal/stream"
)

type Config struct {
	HTTPAddr    string
	DatabaseURL string
	LogLevel    string
	Environment string
	SentryDSN   string

	// JWT Authentication
	JWTSecret string
	JWTExpiry time.Duration

	// Remote call-analysis service
	AnalysisURL         string
	AnalysisAPIKey      string
	AnalysisAssistantID string
	ReconnectDelay      time.Duration

	// Session
	KeepAliveMax   time.Duration
	HandoverNumber string
	FraudKeywords  []string

	// Audio
	AudioSource      string
	WhisperModelPath string

	// Settings defaults
	ProtectionEnabled bool
	VoiceAlerts       bool
	HapticAlerts      bool

	// Voice alerts
	ElevenLabsAPIKey string
	TTSVoiceID       string

	// Push notifications (APNs)
	APNsKeyPath      string
	APNsKeyID        string
	APNsTeamID       string
	APNsBundleID     string
	APNsProduction   bool
	APNsDeviceTokens []string

	DiscordWebhookURL string
}

// LoadConfigFromEnv reads the environment, after loading .env when one
// exists. Variables already set take precedence over the file.
func LoadConfigFromEnv() Config {
	_ = godotenv.Load()

	return Config{
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		DatabaseURL: getenv("DATABASE_URL", "callguard.db"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		Environment: getenv("ENVIRONMENT", "development"),
		SentryDSN:   os.Getenv("SENTRY_DSN"),

		// JWT Authentication
		JWTSecret: os.Getenv("JWT_SECRET"), // Required - no fallback for security
		JWTExpiry: getenvDuration("JWT_EXPIRY", 24*time.Hour),

		AnalysisURL:         os.Getenv("ANALYSIS_WS_URL"),
		AnalysisAPIKey:      os.Getenv("ANALYSIS_API_KEY"),
		AnalysisAssistantID: os.Getenv("ANALYSIS_ASSISTANT_ID"),
		ReconnectDelay:      getenvDuration("RECONNECT_DELAY", stream.DefaultReconnectDelay),

		KeepAliveMax:   getenvDuration("KEEPALIVE_MAX", 10*time.Minute),
		HandoverNumber: os.Getenv("HANDOVER_NUMBER"),
		FraudKeywords:  parseList(os.Getenv("FRAUD_KEYWORDS")),

		AudioSource:      getenv("AUDIO_SOURCE", "device"),
		WhisperModelPath: os.Getenv("WHISPER_MODEL_PATH"),

		ProtectionEnabled: getenvBool("PROTECTION_ENABLED", true),
		VoiceAlerts:       getenvBool("VOICE_ALERTS", true),
		HapticAlerts:      getenvBool("HAPTIC_ALERTS", true),

		ElevenLabsAPIKey: os.Getenv("ELEVENLABS_API_KEY"),
		TTSVoiceID:       os.Getenv("TTS_VOICE_ID"),

		APNsKeyPath:      os.Getenv("APNS_KEY_PATH"),
		APNsKeyID:        os.Getenv("APNS_KEY_ID"),
		APNsTeamID:       os.Getenv("APNS_TEAM_ID"),
		APNsBundleID:     os.Getenv("APNS_BUNDLE_ID"),
		APNsProduction:   getenvBool("APNS_PRODUCTION", false),
		APNsDeviceTokens: parseList(os.Getenv("APNS_DEVICE_TOKENS")),

		DiscordWebhookURL: os.Getenv("DISCORD_WEBHOOK_URL"),
	}
}

// parseList splits a comma-separated value, dropping blanks.
func parseList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvBool(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// getenvDuration accepts Go durations ("3s") or plain seconds ("3").
func getenvDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}
