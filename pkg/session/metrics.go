package session

import (
	"sync"
	"time"
)

// Outcome is how a turn ended.
type Outcome string

const (
	OutcomeSpoken    Outcome = "spoken"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFiltered  Outcome = "filtered"
	OutcomeFailed    Outcome = "failed"
)

// TurnMetrics tracks latency at each stage of one turn.
// Latencies are measured from the moment the utterance was emitted, which is
// when the pause after speech crossed the silence timeout.
type TurnMetrics struct {
	UtteranceID string  `json:"utterance_id"`
	Outcome     Outcome `json:"outcome"`
	FailedStage Stage   `json:"failed_stage,omitempty"`

	SpeechEnd time.Time     `json:"speech_end"`
	Speech    time.Duration `json:"speech"` // accumulated speech audio

	Transcript time.Duration `json:"transcript"`            // emission to transcript
	Reply      time.Duration `json:"reply,omitempty"`       // emission to reply text
	FirstAudio time.Duration `json:"first_audio,omitempty"` // emission to synthesized audio
	Total      time.Duration `json:"total"`                 // emission to resume
}

// Metrics keeps a rolling window of finished turns.
// It is goroutine-safe.
type Metrics struct {
	mu      sync.Mutex
	history []TurnMetrics
	size    int

	onUpdate func(TurnMetrics)
}

// NewMetrics keeps the last size turns (100 when size <= 0).
func NewMetrics(size int) *Metrics {
	if size <= 0 {
		size = 100
	}
	return &Metrics{history: make([]TurnMetrics, 0, size), size: size}
}

// OnUpdate sets a callback that fires for every recorded turn.
func (m *Metrics) OnUpdate(fn func(TurnMetrics)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdate = fn
}

// Record archives a finished turn.
func (m *Metrics) Record(t TurnMetrics) {
	m.mu.Lock()
	m.history = append(m.history, t)
	if len(m.history) > m.size {
		m.history = m.history[1:]
	}
	fn := m.onUpdate
	m.mu.Unlock()

	if fn != nil {
		fn(t)
	}
}

// Turns returns the recorded turns, oldest first.
func (m *Metrics) Turns() []TurnMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TurnMetrics, len(m.history))
	copy(out, m.history)
	return out
}

// Len returns the number of recorded turns.
func (m *Metrics) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.history)
}

// Average returns mean latencies over spoken turns in the window.
func (m *Metrics) Average() TurnMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	var avg TurnMetrics
	n := 0
	for _, h := range m.history {
		if h.Outcome != OutcomeSpoken {
			continue
		}
		avg.Speech += h.Speech
		avg.Transcript += h.Transcript
		avg.Reply += h.Reply
		avg.FirstAudio += h.FirstAudio
		avg.Total += h.Total
		n++
	}
	if n == 0 {
		return TurnMetrics{}
	}

	d := time.Duration(n)
	avg.Outcome = OutcomeSpoken
	avg.Speech /= d
	avg.Transcript /= d
	avg.Reply /= d
	avg.FirstAudio /= d
	avg.Total /= d
	return avg
}

// FormatLatency renders a duration for status lines: "850ms" or "1.25s".
func FormatLatency(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(10 * time.Millisecond).String()
}
