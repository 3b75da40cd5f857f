package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// SpeakTrace receives per-call timing hooks, in the style of httptrace.
// Nil fields are skipped.
type SpeakTrace struct {
	// Synthesized fires once audio is ready, before playback starts.
	Synthesized func(res *AudioResult)
}

type speakTraceKey struct{}

// WithSpeakTrace returns a context carrying trace hooks for Speak.
func WithSpeakTrace(ctx context.Context, t *SpeakTrace) context.Context {
	return context.WithValue(ctx, speakTraceKey{}, t)
}

// ContextSpeakTrace returns the hooks attached to ctx, or nil.
func ContextSpeakTrace(ctx context.Context) *SpeakTrace {
	t, _ := ctx.Value(speakTraceKey{}).(*SpeakTrace)
	return t
}

// Speaker synthesizes and plays one reply at a time. Cancel interrupts the
// current Speak from any goroutine.
type Speaker struct {
	provider Provider
	output   Output
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	gen    uint64

	speaking atomic.Bool
}

// SpeakerOption configures a Speaker.
type SpeakerOption func(*Speaker)

// WithSpeakerLogger sets the structured logger.
func WithSpeakerLogger(l *slog.Logger) SpeakerOption {
	return func(s *Speaker) { s.logger = l }
}

// NewSpeaker pairs a provider with an output.
func NewSpeaker(p Provider, out Output, opts ...SpeakerOption) *Speaker {
	s := &Speaker{
		provider: p,
		output:   out,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "tts.speaker")
	return s
}

// Speak synthesizes text in lang and blocks until playback completes.
// It returns ErrPlaybackCancelled when Cancel or ctx interrupted it.
func (s *Speaker) Speak(ctx context.Context, text, lang string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}

	ctx, cancel := context.WithCancel(ctx)
	gen := s.begin(cancel)
	defer s.end(gen, cancel)

	start := time.Now()
	res, err := s.provider.Synthesize(ctx, text, lang)
	if err != nil {
		if ctx.Err() != nil {
			return ErrPlaybackCancelled
		}
		return err
	}
	if t := ContextSpeakTrace(ctx); t != nil && t.Synthesized != nil {
		t.Synthesized(res)
	}

	err = s.output.Play(ctx, res)
	switch {
	case ctx.Err() != nil:
		s.logger.Debug("playback cancelled", "after_ms", time.Since(start).Milliseconds())
		return ErrPlaybackCancelled
	case errors.Is(err, context.Canceled):
		return ErrPlaybackCancelled
	case err != nil:
		return fmt.Errorf("tts: play: %w", err)
	}

	s.logger.Debug("spoke",
		"provider", s.provider.Name(),
		"chars", len(text),
		"total_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Cancel interrupts the in-flight Speak, if any, and reports whether there was one.
func (s *Speaker) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

// Speaking reports whether a Speak call is in flight.
func (s *Speaker) Speaking() bool {
	return s.speaking.Load()
}

func (s *Speaker) begin(cancel context.CancelFunc) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		// A newer call supersedes the old one.
		s.cancel()
	}
	s.gen++
	s.cancel = cancel
	s.speaking.Store(true)
	return s.gen
}

func (s *Speaker) end(gen uint64, cancel context.CancelFunc) {
	cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen {
		s.cancel = nil
		s.speaking.Store(false)
	}
}
