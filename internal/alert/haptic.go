package alert

import (
	"context"

	"github.com/lukasbauer/callguard/internal/audio"
)

const (
	hapticFreq   = 180.0
	hapticVolume = 0.6
)

// ToneVibrator renders HapticPattern as a low buzz on the output device.
type ToneVibrator struct {
	player audio.Player
	pcm    []byte
}

func NewToneVibrator(player audio.Player) *ToneVibrator {
	return &ToneVibrator{
		player: player,
		pcm:    audio.Pattern(audio.SampleRate, hapticFreq, HapticPattern, hapticVolume),
	}
}

func (v *ToneVibrator) Vibrate(ctx context.Context, _ Alert) error {
	if v == nil || v.player == nil {
		return nil
	}
	return v.player.Play(ctx, v.pcm, audio.SampleRate)
}
