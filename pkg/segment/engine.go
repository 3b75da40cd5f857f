package segment

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-voiceloop/pkg/audioio"
	"github.com/teslashibe/go-voiceloop/pkg/vad"
)

// Outcome describes what processing one frame (or one control call) did.
type Outcome struct {
	From, To State

	// Utterance is set when an utterance completed.
	Utterance *Utterance

	// Discarded is set when an in-flight utterance was dropped.
	Discarded DiscardReason
}

// Changed reports whether the state moved.
func (o Outcome) Changed() bool {
	return o.From != o.To
}

// Stats are cumulative engine counters.
type Stats struct {
	FramesProcessed        int64 `json:"frames_processed"`
	FramesIgnored          int64 `json:"frames_ignored"`
	SpeechFrames           int64 `json:"speech_frames"`
	ClassificationFailures int64 `json:"classification_failures"`
	Emitted                int64 `json:"emitted"`
	Forced                 int64 `json:"forced"`
	DiscardedTooShort      int64 `json:"discarded_too_short"`
	DiscardedStopped       int64 `json:"discarded_stopped"`
	DiscardedReset         int64 `json:"discarded_reset"`
}

// Engine is the segmentation state machine. Frames must be fed from a single
// goroutine in arrival order. The lock only makes State and Stats safe to
// read from elsewhere.
type Engine struct {
	cfg        Config
	classifier vad.Classifier
	clock      Clock
	logger     *slog.Logger
	newID      func() string

	onClassifyErr func(error)

	mu    sync.Mutex
	state State
	stats Stats

	// In-flight utterance. lastSpeech is meaningful only in Speaking and TrailingSilence.
	buf          []int16
	sampleRate   int
	speechFrames int
	startedAt    time.Duration
	lastSpeech   time.Duration
	firstSeq     uint64
	lastSeq      uint64
}

// New creates an engine in Idle.
func New(cfg Config, classifier vad.Classifier, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("segment: %w", err)
	}
	if classifier == nil {
		return nil, fmt.Errorf("segment: nil classifier")
	}
	e := &Engine{
		cfg:        cfg,
		classifier: vad.Safe(classifier),
		clock:      NewMonotonicClock(),
		logger:     slog.Default(),
		newID:      uuid.NewString,
		state:      Idle,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Stats returns a snapshot of the counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Pending returns the number of samples accumulated for the in-flight utterance.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.buf)
}

// SetRecording applies the recording toggle. Enabling from Idle moves to
// Listening with an empty buffer. Disabling from any state moves to Idle and
// abandons the partial utterance.
func (e *Engine) SetRecording(on bool) Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := Outcome{From: e.state}
	switch {
	case on && e.state == Idle:
		e.clearLocked()
		e.state = Listening
	case !on && e.state != Idle:
		if e.inFlightLocked() {
			out.Discarded = DiscardStopped
			e.stats.DiscardedStopped++
		}
		e.clearLocked()
		e.state = Idle
	}
	out.To = e.state
	return out
}

// Reset drops any in-flight utterance and resumes listening. An Idle engine
// stays Idle. The session calls this after a reply has been spoken.
func (e *Engine) Reset() Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := Outcome{From: e.state}
	if e.inFlightLocked() {
		out.Discarded = DiscardReset
		e.stats.DiscardedReset++
	}
	e.clearLocked()
	if e.state != Idle {
		e.state = Listening
	}
	out.To = e.state
	return out
}

// Process feeds one frame through the state machine.
func (e *Engine) Process(f audioio.Frame) Outcome {
	speech, err := e.classifier.Classify(f)
	if err != nil {
		speech = false
	}
	now := e.clock.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	if err != nil {
		e.stats.ClassificationFailures++
		if e.onClassifyErr != nil {
			e.onClassifyErr(err)
		}
	}

	out := Outcome{From: e.state}
	if e.state == Idle {
		e.stats.FramesIgnored++
		out.To = e.state
		return out
	}
	e.stats.FramesProcessed++

	switch e.state {
	case Listening:
		if speech {
			e.startedAt = now
			e.firstSeq = f.Seq
			e.sampleRate = f.SampleRate
			e.appendSpeechLocked(f, now)
			e.state = Speaking
		}

	case Speaking, TrailingSilence:
		if speech {
			e.appendSpeechLocked(f, now)
			e.state = Speaking
			break
		}
		e.state = TrailingSilence
		if now-e.lastSpeech > e.cfg.SilenceTimeout {
			e.finishLocked(&out, now, false)
		}
	}

	if e.state == Speaking && e.maxSamplesLocked() > 0 && len(e.buf) >= e.maxSamplesLocked() {
		e.finishLocked(&out, now, true)
	}

	out.To = e.state
	return out
}

func (e *Engine) appendSpeechLocked(f audioio.Frame, now time.Duration) {
	e.buf = append(e.buf, f.Samples...)
	e.speechFrames++
	e.stats.SpeechFrames++
	e.lastSpeech = now
	e.lastSeq = f.Seq
}

// finishLocked closes the in-flight utterance, emitting it or discarding it
// as too short, and returns to Listening.
func (e *Engine) finishLocked(out *Outcome, now time.Duration, forced bool) {
	if e.speechFrames < e.cfg.MinSpeechChunks || len(e.buf) == 0 {
		out.Discarded = DiscardTooShort
		e.stats.DiscardedTooShort++
		e.logger.Debug("utterance discarded",
			"reason", DiscardTooShort,
			"speech_frames", e.speechFrames,
			"min", e.cfg.MinSpeechChunks,
		)
	} else {
		out.Utterance = &Utterance{
			ID:           e.newID(),
			Samples:      e.buf,
			SampleRate:   e.sampleRate,
			SpeechFrames: e.speechFrames,
			StartedAt:    e.startedAt,
			LastSpeechAt: e.lastSpeech,
			EmittedAt:    now,
			FirstSeq:     e.firstSeq,
			LastSeq:      e.lastSeq,
			Forced:       forced,
		}
		e.stats.Emitted++
		if forced {
			e.stats.Forced++
		}
		// Ownership moves to the receiver; start a fresh buffer.
		e.buf = nil
	}
	e.clearLocked()
	e.state = Listening
}

func (e *Engine) maxSamplesLocked() int {
	if e.cfg.MaxUtterance <= 0 || e.sampleRate <= 0 {
		return 0
	}
	return int(int64(e.sampleRate) * int64(e.cfg.MaxUtterance) / int64(time.Second))
}

func (e *Engine) inFlightLocked() bool {
	return e.state == Speaking || e.state == TrailingSilence
}

func (e *Engine) clearLocked() {
	e.buf = e.buf[:0]
	e.speechFrames = 0
	e.startedAt = 0
	e.lastSpeech = 0
	e.firstSeq = 0
	e.lastSeq = 0
}
