// Package protocol encodes and decodes the JSON messages exchanged with the
// remote call-analysis service.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedMessage is returned when an inbound payload is not a JSON object.
var ErrMalformedMessage = errors.New("malformed protocol message")

// Inbound type discriminators.
const (
	TypeTranscript   = "transcript"
	TypeLiveCaption  = "live-caption"
	TypeFraudAlert   = "FRAUD_ALERT"
	TypeSpeechUpdate = "speech-update"
	TypeError        = "error"
)

// SeverityHigh is the only severity the service marks as high confidence.
const SeverityHigh = "HIGH"

// Message is one decoded inbound message. The concrete type is one of
// Transcript, FraudAlert, SpeechUpdate, Error or Unknown.
type Message interface {
	messageType() string
}

// Transcript carries recognised caller speech.
type Transcript struct {
	Text string
}

// FraudAlert is a fraud verdict computed by the remote service.
type FraudAlert struct {
	Severity   string
	Keywords   string
	Transcript string
}

// SpeechUpdate reports remote voice-activity changes. It is informational.
type SpeechUpdate struct {
	Raw json.RawMessage
}

// Error is a service-side error report.
type Error struct {
	Message string
}

// Unknown is any message whose type is not recognised.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (Transcript) messageType() string   { return TypeTranscript }
func (FraudAlert) messageType() string   { return TypeFraudAlert }
func (SpeechUpdate) messageType() string { return TypeSpeechUpdate }
func (Error) messageType() string        { return TypeError }
func (u Unknown) messageType() string    { return u.Type }

// TypeOf returns the wire discriminator of m.
func TypeOf(m Message) string {
	if m == nil {
		return ""
	}
	return m.messageType()
}

type envelope struct {
	Type       string          `json:"type"`
	Transcript json.RawMessage `json:"transcript"`
	Text       json.RawMessage `json:"text"`
	Severity   json.RawMessage `json:"severity"`
	Keywords   json.RawMessage `json:"keywords"`
	Error      json.RawMessage `json:"error"`
	Message    json.RawMessage `json:"message"`
}

// Parse decodes one inbound text frame. Only payloads that are not JSON
// objects fail; unrecognised or partially filled messages decode to their
// best matching variant.
func Parse(raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch env.Type {
	case TypeTranscript, TypeLiveCaption:
		return Transcript{Text: transcriptText(env)}, nil
	case TypeFraudAlert:
		return FraudAlert{
			Severity:   stringValue(env.Severity),
			Keywords:   joinKeywords(env.Keywords),
			Transcript: transcriptText(env),
		}, nil
	case TypeSpeechUpdate:
		return SpeechUpdate{Raw: append(json.RawMessage(nil), raw...)}, nil
	case TypeError:
		msg := stringValue(env.Error)
		if msg == "" {
			msg = stringValue(env.Message)
		}
		if msg == "" {
			msg = "Unknown error"
		}
		return Error{Message: msg}, nil
	default:
		return Unknown{Type: env.Type, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
}

// transcriptText tries the known transcript layouts in order:
//
//  1. {"transcript": {"transcript": "..."}}
//  2. {"transcript": "..."}
//  3. {"text": "..."}
func transcriptText(env envelope) string {
	if isObject(env.Transcript) {
		var nested struct {
			Transcript string `json:"transcript"`
		}
		if err := json.Unmarshal(env.Transcript, &nested); err == nil && nested.Transcript != "" {
			return nested.Transcript
		}
	}
	if s := stringValue(env.Transcript); s != "" {
		return s
	}
	return stringValue(env.Text)
}

// joinKeywords accepts either a single string or a list of strings.
func joinKeywords(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, ", ")
	}
	return stringValue(raw)
}

// stringValue returns raw as a string. Non-string scalars are rendered
// verbatim; objects, arrays and null yield "".
func stringValue(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	switch raw[0] {
	case '{', '[', 'n':
		return ""
	}
	return string(raw)
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}
