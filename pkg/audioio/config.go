// Package audioio captures fixed-duration PCM frames and hands them to the
// segmentation loop through a bounded queue.
//
// This package supports two backends:
//   - PortAudio - live microphone capture (build with -tags portaudio)
//   - Mock - CI/Testing without hardware
//
// The backend is selected from configuration; "auto" prefers PortAudio when
// it was compiled in.
package audioio

import (
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendAuto selects PortAudio when available, otherwise mock.
	BackendAuto Backend = "auto"
	// BackendPortAudio uses PortAudio for cross-platform capture.
	BackendPortAudio Backend = "portaudio"
	// BackendMock uses a synthetic source for testing.
	BackendMock Backend = "mock"
)

// OverflowPolicy decides which frame is lost when the queue is full.
type OverflowPolicy string

const (
	// DropOldest overwrites the oldest queued frame.
	DropOldest OverflowPolicy = "drop_oldest"
	// DropNewest discards the frame being pushed.
	DropNewest OverflowPolicy = "drop_newest"
)

// Config holds audio capture configuration.
type Config struct {
	// Backend specifies which audio backend to use.
	// Default: "auto"
	Backend Backend `yaml:"backend" json:"backend"`

	// SampleRate is the frame sample rate in Hz.
	// Default: 16000
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// Channels is the number of audio channels. Only mono is framed.
	// Default: 1
	Channels int `yaml:"channels" json:"channels"`

	// FrameDuration is the length of one frame.
	// Default: 20ms (320 samples at 16kHz)
	FrameDuration time.Duration `yaml:"frame_duration" json:"frame_duration"`

	// Device is a PortAudio input device name. Empty selects the default input.
	Device string `yaml:"device" json:"device"`

	// QueueCapacity is the number of frames the capture queue holds.
	// Default: 500 (10s of audio)
	QueueCapacity int `yaml:"queue_capacity" json:"queue_capacity"`

	// Overflow is the queue policy when full.
	// Default: drop_oldest
	Overflow OverflowPolicy `yaml:"overflow" json:"overflow"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:       BackendAuto,
		SampleRate:    16000,
		Channels:      1,
		FrameDuration: 20 * time.Millisecond,
		Device:        "",
		QueueCapacity: 500,
		Overflow:      DropOldest,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels != 1 {
		return fmt.Errorf("channels must be 1, got %d", c.Channels)
	}
	switch c.FrameDuration {
	case 10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond:
	default:
		return fmt.Errorf("frame_duration must be 10ms, 20ms or 30ms, got %v", c.FrameDuration)
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("queue_capacity must be positive, got %d", c.QueueCapacity)
	}
	switch c.Overflow {
	case DropOldest, DropNewest:
	default:
		return fmt.Errorf("unknown overflow policy %q", c.Overflow)
	}
	switch c.Backend {
	case BackendAuto, BackendPortAudio, BackendMock:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	return nil
}

// FrameSize returns the number of samples per frame.
func (c *Config) FrameSize() int {
	return int(int64(c.SampleRate) * int64(c.FrameDuration) / int64(time.Second))
}

// FrameBytes returns the size of a frame in bytes (int16 samples).
func (c *Config) FrameBytes() int {
	return c.FrameSize() * c.Channels * 2
}
