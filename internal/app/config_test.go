package app

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestGetenv(t *testing.T) {
	tests := []struct {
		name     string
		envKey   string
		envValue string
		defValue string
		want     string
	}{
		{
			name:     "env set",
			envKey:   "TEST_ENV_VAR",
			envValue: "custom_value",
			defValue: "default",
			want:     "custom_value",
		},
		{
			name:     "env not set",
			envKey:   "TEST_ENV_VAR_NOTSET",
			envValue: "",
			defValue: "default",
			want:     "default",
		},
		{
			name:     "empty default",
			envKey:   "TEST_ENV_VAR_EMPTY",
			envValue: "",
			defValue: "",
			want:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.envKey, tt.envValue)
			}

			got := getenv(tt.envKey, tt.defValue)
			if got != tt.want {
				t.Errorf("getenv(%q, %q) = %q, want %q", tt.envKey, tt.defValue, got, tt.want)
			}
		})
	}
}

func TestGetenvBool(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      bool
		want     bool
	}{
		{"unset uses default true", "", true, true},
		{"unset uses default false", "", false, false},
		{"false", "false", true, false},
		{"zero", "0", true, false},
		{"true", "true", false, true},
		{"invalid uses default", "maybe", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_BOOL", tt.envValue)
			if got := getenvBool("TEST_BOOL", tt.def); got != tt.want {
				t.Errorf("getenvBool = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetenvDuration(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		want     time.Duration
	}{
		{"unset", "", 3 * time.Second},
		{"go duration", "250ms", 250 * time.Millisecond},
		{"plain seconds", "5", 5 * time.Second},
		{"negative", "-1s", 3 * time.Second},
		{"garbage", "soon", 3 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_DURATION", tt.envValue)
			if got := getenvDuration("TEST_DURATION", 3*time.Second); got != tt.want {
				t.Errorf("getenvDuration = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"otp", []string{"otp"}},
		{" otp , cvv,,pin ", []string{"otp", "cvv", "pin"}},
		{" , ", nil},
	}
	for _, tt := range tests {
		if got := parseList(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("parseList(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("RECONNECT_DELAY", "")
	t.Setenv("KEEPALIVE_MAX", "")
	t.Setenv("PROTECTION_ENABLED", "")
	t.Setenv("VOICE_ALERTS", "false")
	t.Setenv("FRAUD_KEYWORDS", "otp, gift card")
	t.Setenv("APNS_DEVICE_TOKENS", "a,b")
	t.Setenv("ANALYSIS_WS_URL", "wss://analysis.example.com/ws")

	cfg := LoadConfigFromEnv()

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.DatabaseURL != "callguard.db" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.ReconnectDelay != 3*time.Second {
		t.Errorf("ReconnectDelay = %v, want 3s", cfg.ReconnectDelay)
	}
	if cfg.KeepAliveMax != 10*time.Minute {
		t.Errorf("KeepAliveMax = %v, want 10m", cfg.KeepAliveMax)
	}
	if !cfg.ProtectionEnabled || cfg.VoiceAlerts || !cfg.HapticAlerts {
		t.Errorf("toggles = %v/%v/%v", cfg.ProtectionEnabled, cfg.VoiceAlerts, cfg.HapticAlerts)
	}
	if !reflect.DeepEqual(cfg.FraudKeywords, []string{"otp", "gift card"}) {
		t.Errorf("FraudKeywords = %v", cfg.FraudKeywords)
	}
	if len(cfg.APNsDeviceTokens) != 2 {
		t.Errorf("APNsDeviceTokens = %v", cfg.APNsDeviceTokens)
	}
	if cfg.AnalysisURL != "wss://analysis.example.com/ws" {
		t.Errorf("AnalysisURL = %q", cfg.AnalysisURL)
	}
}

func TestNew_RequiresAnalysisURL(t *testing.T) {
	if _, err := New(Config{}, NewLogger("error", "test")); err == nil {
		t.Error("expected error without ANALYSIS_WS_URL")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "warn", "production")
	log.Info().Msg("hidden")
	log.Warn().Str("component", "test").Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %d, want 1: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("production output should be JSON: %v", err)
	}
	if entry["message"] != "shown" || entry["component"] != "test" {
		t.Errorf("entry = %v", entry)
	}

	buf.Reset()
	devLog := newLogger(&buf, "bogus", "development")
	devLog.Info().Msg("console")
	if !strings.Contains(buf.String(), "console") || strings.HasPrefix(buf.String(), "{") {
		t.Errorf("development output = %q, want console format", buf.String())
	}
}
