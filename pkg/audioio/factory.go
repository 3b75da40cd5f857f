package audioio

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrPortAudioUnavailable is returned when the binary was built without -tags portaudio.
var ErrPortAudioUnavailable = errors.New("audioio: built without portaudio support (use -tags portaudio)")

// DeviceInfo describes a capture device.
type DeviceInfo struct {
	Name              string  `json:"name"`
	HostAPI           string  `json:"host_api"`
	MaxInputChannels  int     `json:"max_input_channels"`
	DefaultSampleRate float64 `json:"default_sample_rate"`
	Default           bool    `json:"default"`
}

// NewSource creates a new audio source with the given configuration,
// pushing frames into queue while gate is open.
// If cfg.Backend is BackendAuto, the best available backend is selected.
func NewSource(cfg Config, queue *FrameQueue, gate Gate, logger *slog.Logger, opts ...MockSourceOption) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if queue == nil {
		return nil, fmt.Errorf("audioio: nil frame queue")
	}

	if logger == nil {
		logger = slog.Default()
	}

	backend := cfg.Backend
	if backend == BackendAuto {
		backend = detectBestBackend()
	}

	logger.Info("creating audio source",
		"backend", backend,
		"sample_rate", cfg.SampleRate,
		"frame_ms", cfg.FrameDuration.Milliseconds(),
		"queue_capacity", queue.Cap(),
	)

	switch backend {
	case BackendMock:
		return NewMockSource(cfg, queue, gate, logger, opts...), nil
	case BackendPortAudio:
		return newPortAudioSource(cfg, queue, gate, logger)
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}
}

// detectBestBackend returns the best backend compiled into this binary.
func detectBestBackend() Backend {
	if portAudioAvailable {
		return BackendPortAudio
	}
	return BackendMock
}

// AvailableBackends returns the list of backends compiled into this binary.
func AvailableBackends() []Backend {
	backends := []Backend{BackendMock}
	if portAudioAvailable {
		backends = append(backends, BackendPortAudio)
	}
	return backends
}
