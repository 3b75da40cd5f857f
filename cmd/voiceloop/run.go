package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-voiceloop/internal/config"
	"github.com/teslashibe/go-voiceloop/internal/log"
	"github.com/teslashibe/go-voiceloop/pkg/audioio"
	"github.com/teslashibe/go-voiceloop/pkg/control"
	"github.com/teslashibe/go-voiceloop/pkg/inference"
	"github.com/teslashibe/go-voiceloop/pkg/playback"
	"github.com/teslashibe/go-voiceloop/pkg/segment"
	"github.com/teslashibe/go-voiceloop/pkg/session"
	"github.com/teslashibe/go-voiceloop/pkg/telemetry"
	"github.com/teslashibe/go-voiceloop/pkg/transcribe"
	"github.com/teslashibe/go-voiceloop/pkg/tts"
	"github.com/teslashibe/go-voiceloop/pkg/vad"
	"github.com/teslashibe/go-voiceloop/pkg/web"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the voice loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			log.Init(cfg.LogLevel)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, log.L(), cmd.OutOrStdout())
		},
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer) error {
	tel := telemetry.NewMetrics("voiceloop")
	queue := audioio.NewFrameQueue(cfg.Audio.QueueCapacity, cfg.Audio.Overflow)

	classifier, err := newClassifier(cfg)
	if err != nil {
		return err
	}
	engine, err := segment.New(cfg.Segment, classifier,
		segment.WithLogger(logger.With("component", "segment")),
	)
	if err != nil {
		return err
	}

	filters, err := transcribe.BuildFilters(cfg.Transcribe.ArtifactPrefixes, cfg.Transcribe.ArtifactPatterns)
	if err != nil {
		return err
	}
	stt := transcribe.NewWhisper(
		transcribe.WithBaseURL(cfg.Transcribe.BaseURL),
		transcribe.WithAPIKey(cfg.Transcribe.APIKey),
		transcribe.WithModel(cfg.Transcribe.Model),
		transcribe.WithLanguage(cfg.Transcribe.Language),
		transcribe.WithPrompt(cfg.Transcribe.Prompt),
		transcribe.WithTimeout(cfg.Transcribe.Timeout),
		transcribe.WithLogger(logger.With("component", "transcribe")),
	)

	chat, err := newChatProvider(cfg, logger)
	if err != nil {
		return err
	}
	defer chat.Close()
	responder := inference.NewResponder(chat,
		inference.WithStripReasoning(cfg.Chat.StripReasoning),
		inference.WithResponderLogger(logger),
	)

	voice, err := newVoiceProvider(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer voice.Close()
	speaker := tts.NewSpeaker(voice, newOutput(cfg, logger), tts.WithSpeakerLogger(logger))

	var triggers control.Source
	if cfg.Session.Keyboard {
		kb, err := control.NewKeyboard(control.DefaultKeyMap(), logger)
		if err != nil {
			logger.Warn("keyboard unavailable, use the web API to control capture", "error", err)
		} else {
			defer kb.Close()
			triggers = kb
		}
	}

	// The source only consults the gate once Run has started it.
	var ctrl *session.Controller
	source, err := audioio.NewSource(cfg.Audio, queue, func() bool { return ctrl.Capturing() }, logger)
	if err != nil {
		return err
	}
	defer source.Close()

	ctrl, err = session.New(session.Deps{
		Queue:       queue,
		Engine:      engine,
		Transcriber: stt,
		Filter:      filters,
		Responder:   responder,
		Speaker:     speaker,
		Source:      source,
		Triggers:    triggers,
	},
		session.WithLanguage(cfg.TTS.Language),
		session.WithLogger(logger),
		session.WithTelemetry(tel),
		session.WithHistory(cfg.Session.History),
		session.WithRecording(cfg.Session.StartRecording),
	)
	if err != nil {
		return err
	}

	if cfg.Web.Addr != "" {
		srv := web.NewServer(cfg.Web.Addr, ctrl, web.WithMetrics(tel.Handler()), web.WithLogger(logger))
		go func() {
			if err := srv.Start(ctx); err != nil {
				logger.Error("web surface stopped", "error", err)
			}
		}()
	}

	events, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()
	go printEvents(events, out)

	fmt.Fprintf(out, "voiceloop ready: space toggles recording, esc stops playback, ctrl-c quits\r\n")
	return ctrl.Run(ctx)
}

func newClassifier(cfg *config.Config) (vad.Classifier, error) {
	opts := []vad.EnergyOption{vad.WithSampleRate(cfg.Audio.SampleRate)}
	if cfg.VAD.ThresholdDBFS != 0 {
		opts = append(opts, vad.WithThreshold(cfg.VAD.ThresholdDBFS))
	}
	return vad.NewEnergy(vad.Sensitivity(cfg.VAD.Sensitivity), opts...)
}

func newChatProvider(cfg *config.Config, logger *slog.Logger) (inference.Provider, error) {
	opts := []inference.Option{
		inference.WithModel(cfg.Chat.Model),
		inference.WithAPIKey(cfg.Chat.APIKey),
		inference.WithMaxTokens(cfg.Chat.MaxTokens),
		inference.WithTemperature(cfg.Chat.Temperature),
		inference.WithTimeout(cfg.Chat.Timeout),
		inference.WithLogger(logger),
	}

	var primary inference.Provider
	switch cfg.Chat.Provider {
	case config.ChatOpenAI:
		primary = inference.NewOpenAI(opts...)
	default:
		client, err := inference.NewClient(append(opts, inference.WithBaseURL(cfg.Chat.BaseURL))...)
		if err != nil {
			return nil, err
		}
		primary = client
	}

	key := cfg.OpenAIKey()
	if !cfg.Chat.FallbackOpenAI || key == "" || cfg.Chat.Provider == config.ChatOpenAI {
		return primary, nil
	}
	fallback := inference.NewOpenAI(
		inference.WithAPIKey(key),
		inference.WithMaxTokens(cfg.Chat.MaxTokens),
		inference.WithLogger(logger),
	)
	return inference.NewChainWithLogger(logger, primary, fallback)
}

func newVoiceProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (tts.Provider, error) {
	primary, err := voiceProvider(ctx, cfg.TTS.Provider, cfg, logger)
	if err != nil {
		return nil, err
	}
	if cfg.TTS.Fallback == "" || cfg.TTS.Fallback == cfg.TTS.Provider {
		return primary, nil
	}
	fallback, err := voiceProvider(ctx, cfg.TTS.Fallback, cfg, logger)
	if err != nil {
		logger.Warn("tts fallback unavailable", "provider", cfg.TTS.Fallback, "error", err)
		return primary, nil
	}
	return tts.NewChainWithLogger(logger, primary, fallback)
}

func voiceProvider(ctx context.Context, name string, cfg *config.Config, logger *slog.Logger) (tts.Provider, error) {
	opts := []tts.Option{
		tts.WithSpeakingRate(cfg.TTS.SpeakingRate),
		tts.WithTimeout(cfg.TTS.Timeout),
		tts.WithLogger(logger),
	}
	if cfg.TTS.Voice != "" {
		opts = append(opts, tts.WithVoice(cfg.TTS.Voice))
	}
	if cfg.TTS.Model != "" {
		opts = append(opts, tts.WithModel(cfg.TTS.Model))
	}

	switch name {
	case config.TTSGoogle:
		if name == cfg.TTS.Provider {
			opts = append(opts, tts.WithAPIKey(cfg.TTS.APIKey))
		}
		return tts.NewGoogle(ctx, append(opts, tts.WithCredentialsFile(cfg.TTS.CredentialsFile))...)
	case config.TTSOpenAI:
		key := cfg.OpenAIKey()
		if name == cfg.TTS.Provider && cfg.TTS.APIKey != "" {
			key = cfg.TTS.APIKey
		}
		return tts.NewOpenAI(append(opts, tts.WithAPIKey(key))...)
	case config.TTSMock:
		return tts.NewMock(), nil
	}
	return nil, fmt.Errorf("unknown tts provider %q", name)
}

func newOutput(cfg *config.Config, logger *slog.Logger) tts.Output {
	if cfg.TTS.Provider == config.TTSMock {
		return &tts.MockOutput{}
	}
	return playback.NewPlayer(
		playback.WithSampleRate(cfg.Playback.SampleRate),
		playback.WithBuffer(cfg.Playback.Buffer),
		playback.WithLogger(logger),
	)
}

// printEvents writes the conversation to the terminal. Lines end in \r\n
// because the keyboard watcher leaves the terminal in raw mode.
func printEvents(events <-chan session.Event, out io.Writer) {
	for ev := range events {
		switch ev.Type {
		case session.EventState:
			if ev.UtteranceID != "" {
				fmt.Fprintf(out, "... thinking\r\n")
			}
		case session.EventTranscript:
			fmt.Fprintf(out, "you: %s\r\n", ev.Text)
		case session.EventReply:
			fmt.Fprintf(out, "assistant: %s\r\n", ev.Text)
		case session.EventError:
			fmt.Fprintf(out, "! %s failed: %s\r\n", ev.Stage, ev.Error)
		case session.EventTurn:
			if ev.Turn != nil && ev.Turn.Outcome == session.OutcomeSpoken {
				fmt.Fprintf(out, "  (transcript %s, reply %s, first audio %s)\r\n",
					session.FormatLatency(ev.Turn.Transcript),
					session.FormatLatency(ev.Turn.Reply),
					session.FormatLatency(ev.Turn.FirstAudio))
			}
		}
	}
}
