package audioio

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"
)

// MockSource is a synthetic audio source for testing and demos.
// It generates silence, a steady sine wave, or tone bursts separated by
// silence, at real-time frame cadence.
type MockSource struct {
	cfg    Config
	logger *slog.Logger
	out    *pusher

	mu      sync.Mutex
	running bool
	closed  bool
	stopCh  chan struct{}
	done    chan struct{}

	// Synthetic audio generation
	phase     float64
	frequency float64 // Hz, 0 = silence
	amplitude float64 // 0.0 to 1.0

	// Burst pattern in frames; zero means continuous.
	toneFrames  int
	quietFrames int
	position    int

	script []Frame
	seq    uint64
}

// MockSourceOption configures a MockSource.
type MockSourceOption func(*MockSource)

// WithSineWave configures the mock to generate a sine wave.
func WithSineWave(frequency, amplitude float64) MockSourceOption {
	return func(m *MockSource) {
		m.frequency = frequency
		m.amplitude = amplitude
	}
}

// WithBursts alternates tone frames and silent frames, which looks like
// short spoken turns to the segmentation engine. Requires WithSineWave.
func WithBursts(toneFrames, quietFrames int) MockSourceOption {
	return func(m *MockSource) {
		m.toneFrames = toneFrames
		m.quietFrames = quietFrames
	}
}

// WithScript plays the given frames first, then falls back to the
// configured generator.
func WithScript(frames []Frame) MockSourceOption {
	return func(m *MockSource) {
		m.script = frames
	}
}

// NewMockSource creates a new mock audio source pushing into queue.
func NewMockSource(cfg Config, queue *FrameQueue, gate Gate, logger *slog.Logger, opts ...MockSourceOption) *MockSource {
	if logger == nil {
		logger = slog.Default()
	}

	m := &MockSource{
		cfg:       cfg,
		logger:    logger,
		out:       newPusher(queue, gate),
		frequency: 0, // Silence by default
		amplitude: 0.5,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Start begins generating audio.
func (m *MockSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return io.ErrClosedPipe
	}
	if m.running {
		return nil
	}

	m.running = true
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})

	go m.generateLoop(ctx, m.stopCh, m.done)

	m.logger.Info("mock audio source started",
		"sample_rate", m.cfg.SampleRate,
		"frequency", m.frequency,
	)

	return nil
}

func (m *MockSource) generateLoop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.cfg.FrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			go m.Stop()
			return
		case <-stop:
			return
		case <-ticker.C:
			m.out.push(m.nextFrame())
		}
	}
}

func (m *MockSource) nextFrame() Frame {
	m.seq++
	if len(m.script) > 0 {
		f := m.script[0]
		m.script = m.script[1:]
		f.Seq = m.seq
		return f
	}

	size := m.cfg.FrameSize()
	samples := make([]int16, size)

	tone := m.frequency > 0
	if tone && m.toneFrames > 0 {
		cycle := m.toneFrames + m.quietFrames
		tone = m.position%cycle < m.toneFrames
		m.position++
	}

	if tone {
		for i := 0; i < size; i++ {
			sample := m.amplitude * math.Sin(2*math.Pi*m.frequency*m.phase/float64(m.cfg.SampleRate))
			samples[i] = int16(sample * 32767)

			m.phase++
			if m.phase >= float64(m.cfg.SampleRate) {
				m.phase = 0
			}
		}
	}
	// else: samples are already zero (silence)

	return Frame{
		Samples:    samples,
		SampleRate: m.cfg.SampleRate,
		Seq:        m.seq,
	}
}

// Stop halts audio generation and waits for the generator to exit.
func (m *MockSource) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	close(m.stopCh)
	done := m.done
	m.mu.Unlock()

	<-done
	m.logger.Info("mock audio source stopped")

	return nil
}

// Config returns the audio configuration.
func (m *MockSource) Config() Config {
	return m.cfg
}

// Name returns "mock".
func (m *MockSource) Name() string {
	return string(BackendMock)
}

// Close releases resources.
func (m *MockSource) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	return m.Stop()
}

// Stats returns source statistics.
func (m *MockSource) Stats() SourceStats {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()

	return m.out.stats(m.Name(), running)
}

// Ensure MockSource implements Source.
var _ Source = (*MockSource)(nil)
