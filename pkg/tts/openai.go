package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/teslashibe/go-voiceloop/internal/httpc"
)

const providerOpenAI = "openai"

// OpenAI voice options
const (
	VoiceAlloy   = "alloy"
	VoiceEcho    = "echo"
	VoiceFable   = "fable"
	VoiceOnyx    = "onyx"
	VoiceNova    = "nova"
	VoiceShimmer = "shimmer"
)

// OpenAI model options
const (
	ModelTTS1   = "tts-1"    // Standard quality, faster
	ModelTTS1HD = "tts-1-hd" // Higher quality, slower
)

// OpenAI implements Provider for OpenAI TTS. The language is inferred by the
// model from the text, so lang only shows up in logs.
type OpenAI struct {
	client *openai.Client
	config *Config
	logger *slog.Logger
}

// NewOpenAI creates a new OpenAI TTS provider.
func NewOpenAI(opts ...Option) (*OpenAI, error) {
	cfg := DefaultConfig()
	cfg.Model = ModelTTS1
	cfg.Voice = VoiceShimmer
	cfg.BaseURL = "https://api.openai.com/v1"
	cfg.Apply(opts...)

	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.Voice == "" {
		cfg.Voice = VoiceShimmer
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	oc.HTTPClient = httpc.NewClient(cfg.Timeout)

	return &OpenAI{
		client: openai.NewClientWithConfig(oc),
		config: cfg,
		logger: cfg.Logger.With("component", "tts.openai"),
	}, nil
}

// Synthesize converts text to MP3 audio.
func (o *OpenAI) Synthesize(ctx context.Context, text, lang string) (*AudioResult, error) {
	start := time.Now()

	format := openai.SpeechResponseFormatMp3
	if o.config.Encoding == EncodingWAV {
		format = openai.SpeechResponseFormatWav
	}

	audio, err := withRetry(ctx, o.config, o.logger, func() ([]byte, error) {
		resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
			Model:          openai.SpeechModel(o.config.Model),
			Input:          text,
			Voice:          openai.SpeechVoice(o.config.Voice),
			ResponseFormat: format,
			Speed:          o.config.SpeakingRate,
		})
		if err != nil {
			return nil, o.convertError(err)
		}
		defer resp.Close()
		return io.ReadAll(resp)
	})
	if err != nil {
		return nil, err
	}
	latency := time.Since(start).Milliseconds()

	o.logger.Debug("synthesized audio",
		"chars", len(text),
		"bytes", len(audio),
		"latency_ms", latency,
		"voice", o.config.Voice,
		"lang", lang,
	)

	af := AudioFormat{Encoding: EncodingMP3, SampleRate: 24000, Channels: 1}
	if format == openai.SpeechResponseFormatWav {
		af = AudioFormat{Encoding: EncodingWAV, SampleRate: 24000, Channels: 1, BitDepth: 16}
	}
	return &AudioResult{
		Audio:     audio,
		Format:    af,
		CharCount: len(text),
		LatencyMs: latency,
	}, nil
}

// Health lists models to verify connectivity and the API key.
func (o *OpenAI) Health(ctx context.Context) error {
	if _, err := o.client.ListModels(ctx); err != nil {
		return o.convertError(err)
	}
	return nil
}

// Name returns "openai".
func (o *OpenAI) Name() string {
	return providerOpenAI
}

// Close releases resources.
func (o *OpenAI) Close() error {
	return nil
}

func (o *OpenAI) convertError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := ""
		if apiErr.Code != nil {
			code = fmt.Sprint(apiErr.Code)
		}
		return &APIError{
			StatusCode: apiErr.HTTPStatusCode,
			Message:    apiErr.Message,
			Code:       code,
			Provider:   providerOpenAI,
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &APIError{
			StatusCode: reqErr.HTTPStatusCode,
			Message:    reqErr.Error(),
			Provider:   providerOpenAI,
		}
	}
	return WrapError(providerOpenAI, err)
}

var _ Provider = (*OpenAI)(nil)
