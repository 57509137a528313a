package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// SilenceDB is reported for empty or all-zero input.
const SilenceDB = -96.0

// EnergyDB returns the mean signal energy of little-endian 16-bit PCM in
// decibels relative to full scale.
func EnergyDB(pcm []byte) float64 {
	n := len(pcm) / BytesPerSample
	if n == 0 {
		return SilenceDB
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
		sum += s * s
	}
	mean := sum / float64(n)
	if mean <= 0 {
		return SilenceDB
	}
	db := 10 * math.Log10(mean)
	if db < SilenceDB {
		return SilenceDB
	}
	return db
}

// Normalize decodes little-endian 16-bit PCM into dst as samples in [-1, 1).
// It returns dst resliced to the decoded length.
func Normalize(dst []float32, pcm []byte) []float32 {
	n := len(pcm) / BytesPerSample
	if cap(dst) < n {
		dst = make([]float32, n)
	}
	dst = dst[:n]
	for i := 0; i < n; i++ {
		dst[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
	}
	return dst
}

func bytesToInt16(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// Tone renders a sine beep with a short exponential decay tail.
func Tone(sampleRate int, freq float64, d time.Duration, volume float64) []byte {
	n := int(float64(sampleRate) * d.Seconds())
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		t := float64(i) / float64(sampleRate)
		// fade the last 10 ms to avoid a click
		env := 1.0
		if rem := float64(n-i) / float64(sampleRate); rem < 0.01 {
			env = math.Exp(-(0.01 - rem) * 400)
		}
		s := int16(math.Sin(2*math.Pi*freq*t) * 32767 * volume * env)
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// Pattern renders a vibration-style timing pattern as audio: entries
// alternate between silence and tone, starting with silence.
func Pattern(sampleRate int, freq float64, timings []time.Duration, volume float64) []byte {
	var out []byte
	for i, d := range timings {
		if d <= 0 {
			continue
		}
		if i%2 == 0 {
			out = append(out, make([]byte, int(float64(sampleRate)*d.Seconds())*2)...)
			continue
		}
		out = append(out, Tone(sampleRate, freq, d, volume)...)
	}
	return out
}
