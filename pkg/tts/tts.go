// Package tts speaks replies: a Provider synthesizes audio for a text in a
// language, an Output plays it, and a Speaker ties the two together so a
// stop trigger can interrupt playback at any point.
//
// Example usage:
//
//	provider, _ := tts.NewGoogle(ctx, tts.WithAPIKey(os.Getenv("GOOGLE_API_KEY")))
//	defer provider.Close()
//
//	speaker := tts.NewSpeaker(provider, playback.NewPlayer())
//	go func() { <-stop; speaker.Cancel() }()
//	err := speaker.Speak(ctx, "Hello world", "en")
package tts

import (
	"context"
	"time"
)

// Provider defines the TTS provider interface.
// All implementations must satisfy this interface for seamless provider switching.
type Provider interface {
	// Synthesize converts text to audio, returning the complete audio buffer.
	// lang is an ISO-639-1 code ("en") or a full locale ("en-GB").
	Synthesize(ctx context.Context, text, lang string) (*AudioResult, error)

	// Health checks provider connectivity and credentials.
	Health(ctx context.Context) error

	// Name identifies the provider in logs and errors.
	Name() string

	// Close releases any resources held by the provider.
	Close() error
}

// Output plays synthesized audio. Play blocks until playback finishes or
// ctx is done, and must stop audible output promptly on cancellation.
type Output interface {
	Play(ctx context.Context, audio *AudioResult) error
}

// AudioResult represents a complete audio synthesis result.
type AudioResult struct {
	// Audio contains the encoded audio data.
	Audio []byte

	// Format describes the audio encoding and sample rate.
	Format AudioFormat

	// Duration is the estimated playback duration, zero if unknown.
	Duration time.Duration

	// CharCount is the number of characters synthesized.
	CharCount int

	// LatencyMs is the synthesis round trip in milliseconds.
	LatencyMs int64
}

// AudioFormat describes the audio encoding parameters.
type AudioFormat struct {
	Encoding   Encoding
	SampleRate int
	Channels   int
	BitDepth   int // PCM only
}

// Encoding represents audio container/codec types.
type Encoding string

const (
	EncodingMP3 Encoding = "mp3"
	EncodingWAV Encoding = "wav" // RIFF with PCM16 payload
	EncodingPCM Encoding = "pcm" // headerless little-endian PCM16
)

// PCMDuration returns the playback length of headerless PCM16 audio.
func PCMDuration(n, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	frames := n / (2 * channels)
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}
