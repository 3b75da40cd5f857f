package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/teslashibe/go-voiceloop/internal/httpc"
)

// Whisper transcribes through the OpenAI audio transcription endpoint.
type Whisper struct {
	client *openai.Client
	config *Config
}

// NewWhisper creates a transcriber for an OpenAI-compatible server.
func NewWhisper(opts ...Option) *Whisper {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	oc.HTTPClient = httpc.NewClient(cfg.Timeout)

	return &Whisper{
		client: openai.NewClientWithConfig(oc),
		config: cfg,
	}
}

// Transcribe uploads the samples as a WAV file and returns the trimmed text.
func (w *Whisper) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	if len(samples) == 0 {
		return "", ErrEmptyAudio
	}
	if sampleRate <= 0 {
		return "", fmt.Errorf("%w: sample rate %d", ErrTranscriptionFailed, sampleRate)
	}

	start := time.Now()
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.config.Model,
		FilePath: "utterance.wav",
		Reader:   bytes.NewReader(EncodeWAV(samples, sampleRate)),
		Language: w.config.Language,
		Prompt:   w.config.Prompt,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTranscriptionFailed, err)
	}

	text := strings.TrimSpace(resp.Text)
	w.config.Logger.Debug("transcribed",
		"model", w.config.Model,
		"audio_ms", len(samples)*1000/sampleRate,
		"latency_ms", time.Since(start).Milliseconds(),
		"chars", len(text),
	)
	return text, nil
}

// Name identifies the backend in logs.
func (w *Whisper) Name() string {
	return "whisper"
}

var _ Transcriber = (*Whisper)(nil)
