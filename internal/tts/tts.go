// Package tts speaks fraud warnings on the local output device.
package tts

import "context"

// Client defines the interface for text-to-speech providers.
type Client interface {
	// Synthesize converts text to 16 kHz mono linear16 PCM.
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
