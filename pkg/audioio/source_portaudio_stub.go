//go:build !portaudio

package audioio

import (
	"log/slog"
)

const portAudioAvailable = false

// newPortAudioSource returns an error when PortAudio is not compiled in.
func newPortAudioSource(cfg Config, queue *FrameQueue, gate Gate, logger *slog.Logger) (Source, error) {
	return nil, ErrPortAudioUnavailable
}

// ListInputDevices returns an error when PortAudio is not compiled in.
func ListInputDevices() ([]DeviceInfo, error) {
	return nil, ErrPortAudioUnavailable
}
