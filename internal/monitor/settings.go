package monitor

import "sync/atomic"

// Settings are the user toggles. They are safe for concurrent use and
// satisfy alert.Preferences.
type Settings struct {
	protection atomic.Bool
	voice      atomic.Bool
	haptic     atomic.Bool
}

// SettingsValues is the JSON view of Settings.
type SettingsValues struct {
	ProtectionEnabled bool `json:"protection_enabled"`
	VoiceAlerts       bool `json:"voice_alerts"`
	HapticAlerts      bool `json:"haptic_alerts"`
}

// SettingsUpdate changes the non-nil toggles.
type SettingsUpdate struct {
	ProtectionEnabled *bool `json:"protection_enabled"`
	VoiceAlerts       *bool `json:"voice_alerts"`
	HapticAlerts      *bool `json:"haptic_alerts"`
}

func NewSettings(v SettingsValues) *Settings {
	s := &Settings{}
	s.protection.Store(v.ProtectionEnabled)
	s.voice.Store(v.VoiceAlerts)
	s.haptic.Store(v.HapticAlerts)
	return s
}

func (s *Settings) ProtectionEnabled() bool { return s.protection.Load() }
func (s *Settings) VoiceAlerts() bool       { return s.voice.Load() }
func (s *Settings) HapticAlerts() bool      { return s.haptic.Load() }

func (s *Settings) Values() SettingsValues {
	return SettingsValues{
		ProtectionEnabled: s.ProtectionEnabled(),
		VoiceAlerts:       s.VoiceAlerts(),
		HapticAlerts:      s.HapticAlerts(),
	}
}

// Apply stores the toggles present in u and returns the resulting values.
func (s *Settings) Apply(u SettingsUpdate) SettingsValues {
	if u.ProtectionEnabled != nil {
		s.protection.Store(*u.ProtectionEnabled)
	}
	if u.VoiceAlerts != nil {
		s.voice.Store(*u.VoiceAlerts)
	}
	if u.HapticAlerts != nil {
		s.haptic.Store(*u.HapticAlerts)
	}
	return s.Values()
}
