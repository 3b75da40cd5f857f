package transcribe

import (
	"context"
	"sync"
	"time"
)

// Mock implements Transcriber for testing.
type Mock struct {
	// TranscribeFunc is called when Transcribe is invoked.
	// If nil, returns Text.
	TranscribeFunc func(ctx context.Context, samples []float32, sampleRate int) (string, error)

	// Text is the canned transcript used when TranscribeFunc is nil.
	Text string

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records one Transcribe invocation.
type MockCall struct {
	Samples    int
	SampleRate int
	Time       time.Time
}

// NewMock returns a Mock that always answers text.
func NewMock(text string) *Mock {
	return &Mock{Text: text}
}

// Transcribe records the call and returns the configured result.
func (m *Mock) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Samples: len(samples), SampleRate: sampleRate, Time: time.Now()})
	m.mu.Unlock()

	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, samples, sampleRate)
	}
	return m.Text, nil
}

// Calls returns all recorded calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallCount returns the number of Transcribe calls.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

var _ Transcriber = (*Mock)(nil)
