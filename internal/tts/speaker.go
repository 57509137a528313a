package tts

import (
	"context"
	"fmt"
	"time"

	"github.com/lukasbauer/callguard/internal/alert"
	"github.com/lukasbauer/callguard/internal/audio"
	"github.com/rs/zerolog"
)

const playbackTimeout = 30 * time.Second

// Speaker is the voice alert sink. Synthesis happens within the caller's
// context; playback continues in the background so the remaining sinks are
// not held up by the length of the warning.
type Speaker struct {
	client Client
	player audio.Player
	log    zerolog.Logger
}

// NewSpeaker returns a speaker. A nil client disables voice alerts.
func NewSpeaker(client Client, player audio.Player, logger zerolog.Logger) *Speaker {
	return &Speaker{
		client: client,
		player: player,
		log:    logger.With().Str("component", "tts").Logger(),
	}
}

func (s *Speaker) Speak(ctx context.Context, a alert.Alert) error {
	text := alert.VoiceMessage(a)
	if s.client == nil || s.player == nil {
		s.log.Info().Str("text", text).Msg("voice alerts not configured, skipping")
		return nil
	}

	pcm, err := s.client.Synthesize(ctx, text)
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}
	if len(pcm) == 0 {
		return fmt.Errorf("synthesize: empty audio")
	}

	go func() {
		pctx, cancel := context.WithTimeout(context.Background(), playbackTimeout)
		defer cancel()
		if err := s.player.Play(pctx, pcm, audio.SampleRate); err != nil {
			s.log.Error().Err(err).Str("session_id", a.SessionID).Msg("voice alert playback failed")
		}
	}()
	return nil
}
