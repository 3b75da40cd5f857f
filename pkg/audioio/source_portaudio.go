//go:build portaudio

package audioio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"
)

const portAudioAvailable = true

// PortAudioSource captures microphone audio through PortAudio's callback API.
// The callback runs on the audio thread: it frames, gates and enqueues, and
// never blocks.
type PortAudioSource struct {
	cfg    Config
	logger *slog.Logger
	out    *pusher

	mu       sync.Mutex
	running  bool
	closed   bool
	stream   *portaudio.Stream
	framer   *Framer
	inRate   int
	resample bool
}

func newPortAudioSource(cfg Config, queue *FrameQueue, gate Gate, logger *slog.Logger) (Source, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	s := &PortAudioSource{
		cfg:    cfg,
		logger: logger,
		out:    newPusher(queue, gate),
		framer: NewFramer(cfg.FrameSize(), cfg.SampleRate),
	}

	logger.Info("portaudio source created",
		"device", deviceLabel(cfg.Device),
		"sample_rate", cfg.SampleRate,
	)

	return s, nil
}

func deviceLabel(name string) string {
	if name == "" {
		return "default"
	}
	return name
}

func findInputDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		return portaudio.DefaultInputDevice()
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.MaxInputChannels > 0 && strings.EqualFold(d.Name, name) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("input device %q not found", name)
}

// Start opens the input stream. If the device refuses the configured rate,
// capture falls back to the device's default rate and is resampled.
func (s *PortAudioSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return nil
	}

	dev, err := findInputDevice(s.cfg.Device)
	if err != nil {
		return fmt.Errorf("portaudio: %w", err)
	}

	stream, rate, err := s.open(dev, s.cfg.SampleRate)
	if err != nil {
		fallback := int(dev.DefaultSampleRate)
		s.logger.Warn("device rejected sample rate, resampling",
			"device", dev.Name,
			"wanted", s.cfg.SampleRate,
			"using", fallback,
			"error", err,
		)
		stream, rate, err = s.open(dev, fallback)
		if err != nil {
			return fmt.Errorf("failed to open input stream: %w", err)
		}
	}

	s.inRate = rate
	s.resample = rate != s.cfg.SampleRate
	s.framer.Reset()

	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to start input stream: %w", err)
	}

	s.stream = stream
	s.running = true

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("portaudio capture started",
		"device", dev.Name,
		"device_rate", rate,
		"resample", s.resample,
	)
	return nil
}

func (s *PortAudioSource) open(dev *portaudio.DeviceInfo, rate int) (*portaudio.Stream, int, error) {
	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = 1
	params.SampleRate = float64(rate)
	params.FramesPerBuffer = rate * int(s.cfg.FrameDuration.Milliseconds()) / 1000

	stream, err := portaudio.OpenStream(params, s.callback)
	if err != nil {
		return nil, 0, err
	}
	return stream, rate, nil
}

// callback runs on the PortAudio thread.
func (s *PortAudioSource) callback(in []int16) {
	samples := in
	if s.resample {
		samples = Resample(in, s.inRate, s.cfg.SampleRate)
	}
	s.framer.Write(samples, s.out.push)
}

// Stop halts audio capture.
func (s *PortAudioSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	err := s.stream.Stop()
	if cerr := s.stream.Close(); err == nil {
		err = cerr
	}
	s.stream = nil

	s.logger.Info("portaudio capture stopped")
	return err
}

// Config returns the audio configuration.
func (s *PortAudioSource) Config() Config {
	return s.cfg
}

// Name returns "portaudio".
func (s *PortAudioSource) Name() string {
	return string(BackendPortAudio)
}

// Stats returns source statistics.
func (s *PortAudioSource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	return s.out.stats(s.Name(), running)
}

// Close stops capture and terminates PortAudio.
func (s *PortAudioSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.Stop()
	if terr := portaudio.Terminate(); err == nil {
		err = terr
	}
	return err
}

// ListInputDevices returns the input-capable PortAudio devices.
func ListInputDevices() ([]DeviceInfo, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, err
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	def, _ := portaudio.DefaultInputDevice()

	var out []DeviceInfo
	for _, d := range devices {
		if d.MaxInputChannels == 0 {
			continue
		}
		out = append(out, DeviceInfo{
			Name:              d.Name,
			HostAPI:           d.HostApi.Name,
			MaxInputChannels:  d.MaxInputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			Default:           def != nil && def.Name == d.Name,
		})
	}
	return out, nil
}

var _ Source = (*PortAudioSource)(nil)
