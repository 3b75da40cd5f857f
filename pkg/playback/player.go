package playback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"

	"github.com/teslashibe/go-voiceloop/pkg/tts"
)

// DefaultSampleRate is the rate the speaker is opened at; clips at other
// rates are resampled.
const DefaultSampleRate = beep.SampleRate(44100)

// Player implements tts.Output on the default audio device.
type Player struct {
	rate   beep.SampleRate
	buffer time.Duration
	logger *slog.Logger

	initOnce sync.Once
	initErr  error

	// One clip at a time; speaker.Clear stops everything.
	mu       sync.Mutex
	speaking atomic.Bool

	// Callbacks
	OnPlaybackStart func()
	OnPlaybackEnd   func()
}

// Option configures a Player.
type Option func(*Player)

// WithSampleRate sets the device rate.
func WithSampleRate(rate int) Option {
	return func(p *Player) { p.rate = beep.SampleRate(rate) }
}

// WithBuffer sets the device buffer length. Shorter buffers stop faster.
func WithBuffer(d time.Duration) Option {
	return func(p *Player) { p.buffer = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Player) { p.logger = l }
}

// NewPlayer creates a player. The device is opened on first Play.
func NewPlayer(opts ...Option) *Player {
	p := &Player{
		rate:   DefaultSampleRate,
		buffer: 50 * time.Millisecond,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "playback")
	return p
}

func (p *Player) init() error {
	p.initOnce.Do(func() {
		if err := speaker.Init(p.rate, p.rate.N(p.buffer)); err != nil {
			p.initErr = fmt.Errorf("playback: init speaker: %w", err)
		}
	})
	return p.initErr
}

// Play decodes audio and blocks until it finishes or ctx is done. On
// cancellation the speaker is cleared before returning.
func (p *Player) Play(ctx context.Context, audio *tts.AudioResult) error {
	if err := p.init(); err != nil {
		return err
	}

	streamer, format, err := Decode(audio)
	if err != nil {
		return err
	}
	defer streamer.Close()

	var s beep.Streamer = streamer
	if format.SampleRate != p.rate {
		s = beep.Resample(4, format.SampleRate, p.rate, s)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	done := make(chan struct{})
	p.speaking.Store(true)
	if p.OnPlaybackStart != nil {
		p.OnPlaybackStart()
	}
	defer func() {
		p.speaking.Store(false)
		if p.OnPlaybackEnd != nil {
			p.OnPlaybackEnd()
		}
	}()

	start := time.Now()
	speaker.Play(beep.Seq(s, beep.Callback(func() { close(done) })))

	select {
	case <-done:
		p.logger.Debug("playback finished",
			"duration_ms", time.Since(start).Milliseconds(),
			"clip_ms", format.SampleRate.D(streamer.Len()).Milliseconds(),
		)
		return streamer.Err()
	case <-ctx.Done():
		speaker.Clear()
		p.logger.Debug("playback stopped", "after_ms", time.Since(start).Milliseconds())
		return ctx.Err()
	}
}

// Speaking reports whether a clip is playing.
func (p *Player) Speaking() bool {
	return p.speaking.Load()
}

var _ tts.Output = (*Player)(nil)
