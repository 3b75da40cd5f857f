package segment

import (
	"fmt"
	"log/slog"
	"time"
)

// Config holds segmentation parameters.
type Config struct {
	// SilenceTimeout is how long contiguous silence after speech must last
	// before the utterance is complete. The pause must strictly exceed it.
	// Default: 1.5s
	SilenceTimeout time.Duration `yaml:"silence_timeout" json:"silence_timeout"`

	// MinSpeechChunks is the minimum number of speech frames an utterance
	// needs to be emitted. Shorter ones are discarded as noise blips.
	// Default: 10
	MinSpeechChunks int `yaml:"min_speech_chunks" json:"min_speech_chunks"`

	// MaxUtterance caps accumulated speech. Reaching it emits the utterance
	// immediately. Zero disables the cap.
	// Default: 30s
	MaxUtterance time.Duration `yaml:"max_utterance" json:"max_utterance"`
}

// DefaultConfig returns the default segmentation parameters.
func DefaultConfig() Config {
	return Config{
		SilenceTimeout:  1500 * time.Millisecond,
		MinSpeechChunks: 10,
		MaxUtterance:    30 * time.Second,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.SilenceTimeout <= 0 {
		return fmt.Errorf("silence_timeout must be positive, got %v", c.SilenceTimeout)
	}
	if c.MinSpeechChunks < 0 {
		return fmt.Errorf("min_speech_chunks must not be negative, got %d", c.MinSpeechChunks)
	}
	if c.MaxUtterance < 0 {
		return fmt.Errorf("max_utterance must not be negative, got %v", c.MaxUtterance)
	}
	return nil
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the monotonic clock, typically with a ManualClock.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClassificationHook is called with every classifier error.
// It runs on the engine's goroutine and must not block.
func WithClassificationHook(fn func(error)) Option {
	return func(e *Engine) { e.onClassifyErr = fn }
}

// WithIDGenerator overrides utterance id generation.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}
