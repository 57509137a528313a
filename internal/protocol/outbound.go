package protocol

import "encoding/json"

// AudioFormat declares the PCM layout of outbound binary frames.
type AudioFormat struct {
	SampleRate int    `json:"sampleRate"`
	Encoding   string `json:"encoding"`
	Container  string `json:"container"`
	Channels   int    `json:"channels"`
}

// Linear16Mono is the only format the capture pipeline produces.
var Linear16Mono = AudioFormat{
	SampleRate: 16000,
	Encoding:   "linear16",
	Container:  "raw",
	Channels:   1,
}

// Setup is the first message sent on every new connection.
type Setup struct {
	Type        string      `json:"type"`
	AssistantID string      `json:"assistantId"`
	PublicKey   string      `json:"publicKey"`
	InputFormat AudioFormat `json:"inputFormat"`
}

// NewSetup builds the setup handshake for the given assistant.
func NewSetup(assistantID, apiKey string) Setup {
	return Setup{
		Type:        "setup",
		AssistantID: assistantID,
		PublicKey:   apiKey,
		InputFormat: Linear16Mono,
	}
}

// TranscriptUpdate forwards locally transcribed text to the service.
type TranscriptUpdate struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewTranscriptUpdate wraps text for sending.
func NewTranscriptUpdate(text string) TranscriptUpdate {
	return TranscriptUpdate{Type: "transcript_update", Text: text}
}

// Encode marshals an outbound message.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}
