package tts

import (
	"context"
	"sync"
	"time"
)

// Mock implements Provider for testing.
// All methods can be customized via function fields.
type Mock struct {
	// SynthesizeFunc is called when Synthesize is invoked.
	// If nil, returns silent PCM of roughly natural length.
	SynthesizeFunc func(ctx context.Context, text, lang string) (*AudioResult, error)

	// HealthFunc is called when Health is invoked.
	HealthFunc func(ctx context.Context) error

	// CloseFunc is called when Close is invoked.
	CloseFunc func() error

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a method invocation for verification.
type MockCall struct {
	Method string
	Text   string
	Lang   string
	Time   time.Time
}

// NewMock creates a new mock provider with sensible defaults.
func NewMock() *Mock {
	return &Mock{}
}

// SilentPCM returns ~20ms of 24kHz silence per character.
func SilentPCM(text string) *AudioResult {
	const bytesPerChar = 960
	return &AudioResult{
		Audio: make([]byte, len(text)*bytesPerChar),
		Format: AudioFormat{
			Encoding:   EncodingPCM,
			SampleRate: 24000,
			Channels:   1,
			BitDepth:   16,
		},
		CharCount: len(text),
		LatencyMs: 1,
		Duration:  time.Duration(len(text)) * 20 * time.Millisecond,
	}
}

// Synthesize calls SynthesizeFunc and records the call.
func (m *Mock) Synthesize(ctx context.Context, text, lang string) (*AudioResult, error) {
	m.recordCall("Synthesize", text, lang)
	if m.SynthesizeFunc != nil {
		return m.SynthesizeFunc(ctx, text, lang)
	}
	return SilentPCM(text), nil
}

// Health calls HealthFunc and records the call.
func (m *Mock) Health(ctx context.Context) error {
	m.recordCall("Health", "", "")
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return nil
}

// Name returns "mock".
func (m *Mock) Name() string {
	return "mock"
}

// Close calls CloseFunc and records the call.
func (m *Mock) Close() error {
	m.recordCall("Close", "", "")
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

func (m *Mock) recordCall(method, text, lang string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{
		Method: method,
		Text:   text,
		Lang:   lang,
		Time:   time.Now(),
	})
}

// Calls returns all recorded method calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallCount returns the number of times a method was called.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// LastCall returns the most recent call, or nil if none.
func (m *Mock) LastCall() *MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	call := m.calls[len(m.calls)-1]
	return &call
}

// WithError returns a mock that always returns the given error.
func WithError(err error) *Mock {
	return &Mock{
		SynthesizeFunc: func(ctx context.Context, text, lang string) (*AudioResult, error) {
			return nil, err
		},
		HealthFunc: func(ctx context.Context) error {
			return err
		},
	}
}

// WithLatency wraps a mock to add artificial latency.
func WithLatency(m *Mock, delay time.Duration) *Mock {
	original := m.SynthesizeFunc
	m.SynthesizeFunc = func(ctx context.Context, text, lang string) (*AudioResult, error) {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if original != nil {
			return original(ctx, text, lang)
		}
		return SilentPCM(text), nil
	}
	return m
}

// MockOutput implements Output by sleeping for the clip duration, or for
// PlayTime when set, and returning early when ctx is done.
type MockOutput struct {
	PlayTime time.Duration
	Err      error

	mu      sync.Mutex
	played  []*AudioResult
	stopped int
}

// Play waits out the clip or the context.
func (o *MockOutput) Play(ctx context.Context, audio *AudioResult) error {
	o.mu.Lock()
	o.played = append(o.played, audio)
	wait, err := o.PlayTime, o.Err
	o.mu.Unlock()

	if err != nil {
		return err
	}
	if wait == 0 {
		wait = audio.Duration
	}

	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		o.mu.Lock()
		o.stopped++
		o.mu.Unlock()
		return ctx.Err()
	}
}

// Played returns the number of clips started.
func (o *MockOutput) Played() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.played)
}

// Stopped returns the number of clips cut short.
func (o *MockOutput) Stopped() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopped
}

var (
	_ Provider = (*Mock)(nil)
	_ Output   = (*MockOutput)(nil)
)
