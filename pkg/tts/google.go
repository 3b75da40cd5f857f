package tts

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	texttospeech "google.golang.org/api/texttospeech/v1"

	"github.com/teslashibe/go-voiceloop/internal/httpc"
)

const providerGoogle = "google"

// Google implements Provider with the Cloud Text-to-Speech REST API.
//
// Credentials are resolved in order: API key, service account file,
// application default credentials.
type Google struct {
	service *texttospeech.Service
	config  *Config
	logger  *slog.Logger
}

// NewGoogle creates a Google Cloud TTS provider.
func NewGoogle(ctx context.Context, opts ...Option) (*Google, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	clientOpts, err := googleClientOptions(ctx, cfg)
	if err != nil {
		return nil, WrapError(providerGoogle, err)
	}

	svc, err := texttospeech.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, WrapError(providerGoogle, fmt.Errorf("create service: %w", err))
	}

	return &Google{
		service: svc,
		config:  cfg,
		logger:  cfg.Logger.With("component", "tts.google"),
	}, nil
}

func googleClientOptions(ctx context.Context, cfg *Config) ([]option.ClientOption, error) {
	var opts []option.ClientOption
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(strings.TrimSuffix(cfg.BaseURL, "/")+"/"))
	}

	if cfg.APIKey != "" {
		return append(opts, option.WithAPIKey(cfg.APIKey)), nil
	}

	var ts oauth2.TokenSource
	if cfg.CredentialsFile != "" {
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read credentials: %w", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, data, texttospeech.CloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("parse credentials: %w", err)
		}
		ts = creds.TokenSource
	} else {
		var err error
		ts, err = google.DefaultTokenSource(ctx, texttospeech.CloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("%w: no API key and no default credentials: %v", ErrNoAPIKey, err)
		}
	}

	// Reuse the shared transport underneath the token refresher.
	base := context.WithValue(ctx, oauth2.HTTPClient, httpc.NewClient(cfg.Timeout))
	return append(opts, option.WithHTTPClient(oauth2.NewClient(base, ts))), nil
}

// Synthesize converts text to MP3 (or LINEAR16 WAV) audio in the given language.
func (g *Google) Synthesize(ctx context.Context, text, lang string) (*AudioResult, error) {
	start := time.Now()
	locale := Locale(lang)

	encoding := "MP3"
	if g.config.Encoding == EncodingWAV {
		encoding = "LINEAR16"
	}

	req := &texttospeech.SynthesizeSpeechRequest{
		Input: &texttospeech.SynthesisInput{Text: text},
		Voice: &texttospeech.VoiceSelectionParams{
			LanguageCode: locale,
			Name:         g.voiceFor(locale),
		},
		AudioConfig: &texttospeech.AudioConfig{
			AudioEncoding: encoding,
			SpeakingRate:  g.config.SpeakingRate,
		},
	}

	resp, err := withRetry(ctx, g.config, g.logger, func() (*texttospeech.SynthesizeSpeechResponse, error) {
		resp, err := g.service.Text.Synthesize(req).Context(ctx).Do()
		return resp, g.convertError(err)
	})
	if err != nil {
		return nil, err
	}

	audio, err := base64.StdEncoding.DecodeString(resp.AudioContent)
	if err != nil {
		return nil, WrapError(providerGoogle, fmt.Errorf("decode audio: %w", err))
	}
	latency := time.Since(start).Milliseconds()

	g.logger.Debug("synthesized audio",
		"chars", len(text),
		"bytes", len(audio),
		"latency_ms", latency,
		"locale", locale,
	)

	format := AudioFormat{Encoding: EncodingMP3, SampleRate: 24000, Channels: 1}
	if encoding == "LINEAR16" {
		format = AudioFormat{Encoding: EncodingWAV, SampleRate: 24000, Channels: 1, BitDepth: 16}
	}
	return &AudioResult{
		Audio:     audio,
		Format:    format,
		CharCount: len(text),
		LatencyMs: latency,
	}, nil
}

// voiceFor keeps a configured voice only when it belongs to locale, so a
// per-call language switch still gets a matching voice.
func (g *Google) voiceFor(locale string) string {
	if g.config.Voice != "" && strings.HasPrefix(strings.ToLower(g.config.Voice), strings.ToLower(locale)) {
		return g.config.Voice
	}
	return ""
}

// Health lists English voices to verify connectivity and credentials.
func (g *Google) Health(ctx context.Context) error {
	_, err := g.service.Voices.List().LanguageCode("en-US").Context(ctx).Do()
	return g.convertError(err)
}

// Name returns "google".
func (g *Google) Name() string {
	return providerGoogle
}

// Close releases resources.
func (g *Google) Close() error {
	return nil
}

func (g *Google) convertError(err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		code := ""
		if len(gerr.Errors) > 0 {
			code = gerr.Errors[0].Reason
		}
		return &APIError{
			StatusCode: gerr.Code,
			Message:    gerr.Message,
			Code:       code,
			Provider:   providerGoogle,
		}
	}
	return WrapError(providerGoogle, err)
}

var _ Provider = (*Google)(nil)
