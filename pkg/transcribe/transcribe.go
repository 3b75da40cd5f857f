// Package transcribe turns an utterance's samples into text and decides
// whether that text is worth answering.
//
// The default backend is any server speaking the OpenAI audio transcription
// API (OpenAI itself, faster-whisper-server, whisper.cpp server, LM Studio).
package transcribe

import (
	"context"
	"errors"
)

var (
	// ErrEmptyAudio is returned when there are no samples to transcribe.
	ErrEmptyAudio = errors.New("transcribe: empty audio")

	// ErrTranscriptionFailed wraps every backend failure.
	ErrTranscriptionFailed = errors.New("transcribe: transcription failed")
)

// Transcriber maps PCM samples in [-1, 1] to text.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error)
}

// Func adapts a function to Transcriber.
type Func func(ctx context.Context, samples []float32, sampleRate int) (string, error)

// Transcribe calls f.
func (f Func) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	return f(ctx, samples, sampleRate)
}
