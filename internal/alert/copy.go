package alert

import (
	"fmt"
	"math"
	"time"
)

// User-facing alert copy.
const (
	NotificationTitle = "Fraud Call Detected!"
	HandoverAction    = "Handover to AI"
	HandoverCategory  = "FRAUD_ALERT"
)

// HapticPattern alternates pause and pulse durations, starting with a pause.
var HapticPattern = []time.Duration{
	0,
	500 * time.Millisecond,
	200 * time.Millisecond,
	500 * time.Millisecond,
	200 * time.Millisecond,
	500 * time.Millisecond,
}

// VoiceMessage is the text spoken to the user when an alert fires.
func VoiceMessage(a Alert) string {
	msg := "Warning! Potential fraud call detected. "
	if a.Confidence > 0.8 {
		msg += "High confidence. "
	}
	msg += a.Reason
	msg += " Consider ending this call or handing over to AI assistant."
	return msg
}

// NotificationBody renders the confidence as a whole percentage.
func NotificationBody(a Alert) string {
	return fmt.Sprintf("Confidence: %d%%. Tap for options.", int(math.Round(a.Confidence*100)))
}
