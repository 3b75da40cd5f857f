// Package session runs the voice loop. Frames flow from the capture queue
// through the segmentation engine; each completed utterance becomes one turn
// (transcribe, filter, reply, speak) while capture is suppressed, and the loop
// then resumes listening.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-voiceloop/internal/log"
	"github.com/teslashibe/go-voiceloop/pkg/audioio"
	"github.com/teslashibe/go-voiceloop/pkg/control"
	"github.com/teslashibe/go-voiceloop/pkg/segment"
	"github.com/teslashibe/go-voiceloop/pkg/telemetry"
	"github.com/teslashibe/go-voiceloop/pkg/transcribe"
	"github.com/teslashibe/go-voiceloop/pkg/tts"
)

// Responder turns a transcript into reply text.
type Responder interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Speaker renders reply text as audio. Cancel must interrupt an in-flight
// Speak from another goroutine, which then returns tts.ErrPlaybackCancelled.
type Speaker interface {
	Speak(ctx context.Context, text, lang string) error
	Cancel() bool
}

// Deps are the collaborators a Controller drives.
type Deps struct {
	Queue       *audioio.FrameQueue
	Engine      *segment.Engine
	Transcriber transcribe.Transcriber
	Responder   Responder
	Speaker     Speaker

	// Filter drops transcripts that should not be answered.
	// Nil uses transcribe.DefaultFilters.
	Filter transcribe.FilterChain

	// Source is started by Run and stopped when Run returns. Optional.
	// Build it with Controller.Capturing as its gate.
	Source audioio.Source

	// Triggers delivers user actions. Optional.
	Triggers control.Source
}

// Option configures a Controller.
type Option func(*Controller)

// WithLanguage sets the language passed to speech output. Default "en".
func WithLanguage(lang string) Option {
	return func(c *Controller) { c.lang = lang }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithTelemetry exports counters and latencies to Prometheus.
func WithTelemetry(m *telemetry.Metrics) Option {
	return func(c *Controller) { c.tel = m }
}

// WithHistory sets how many finished turns are kept. Default 100.
func WithHistory(n int) Option {
	return func(c *Controller) { c.metrics = NewMetrics(n) }
}

// WithErrorHandler is called with every recoverable failure, after it has
// been logged. It runs on the loop or turn goroutine and must not block.
func WithErrorHandler(fn func(error)) Option {
	return func(c *Controller) { c.onError = fn }
}

// WithRecording enables recording as soon as Run starts.
func WithRecording(on bool) Option {
	return func(c *Controller) { c.startRecording = on }
}

// WithEventBuffer sets the per-subscriber event buffer. Default 64.
func WithEventBuffer(n int) Option {
	return func(c *Controller) { c.events = newBroadcaster(n) }
}

// Controller owns the recording and suppressed flags and sequences turns.
// Only one turn runs at a time.
type Controller struct {
	deps           Deps
	filter         transcribe.FilterChain
	lang           string
	logger         *slog.Logger
	tel            *telemetry.Metrics
	metrics        *Metrics
	events         *broadcaster
	onError        func(error)
	startRecording bool

	recording  atomic.Bool
	suppressed atomic.Bool
	running    atomic.Bool

	// serializes SetRecording so the flag and the engine agree
	recMu sync.Mutex

	// owned by the Run goroutine
	seenDropped      int64
	seenClassifyErrs int64
}

// New validates deps and builds a Controller. Recording starts disabled.
func New(deps Deps, opts ...Option) (*Controller, error) {
	switch {
	case deps.Queue == nil:
		return nil, errors.New("session: nil frame queue")
	case deps.Engine == nil:
		return nil, errors.New("session: nil segmentation engine")
	case deps.Transcriber == nil:
		return nil, errors.New("session: nil transcriber")
	case deps.Responder == nil:
		return nil, errors.New("session: nil responder")
	case deps.Speaker == nil:
		return nil, errors.New("session: nil speaker")
	}

	c := &Controller{
		deps:    deps,
		filter:  deps.Filter,
		lang:    "en",
		logger:  log.L(),
		metrics: NewMetrics(0),
		events:  newBroadcaster(0),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.filter == nil {
		c.filter = transcribe.DefaultFilters()
	}
	c.seenDropped = deps.Queue.Dropped()
	c.seenClassifyErrs = deps.Engine.Stats().ClassificationFailures
	c.logger = c.logger.With("component", "session")
	return c, nil
}

// Run consumes frames until ctx is cancelled or a Quit trigger arrives, and
// returns nil in both cases. Stage failures never end Run. An in-flight turn
// is cancelled and awaited before Run returns.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer c.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	if c.deps.Source != nil {
		if err := c.deps.Source.Start(ctx); err != nil {
			return fmt.Errorf("session: start capture: %w", err)
		}
		defer c.deps.Source.Stop()
	}

	if c.startRecording {
		c.SetRecording(true)
	}

	var triggers <-chan control.Trigger
	if c.deps.Triggers != nil {
		triggers = c.deps.Triggers.Triggers()
	}

	done := make(chan TurnMetrics, 1)
	c.logger.Info("session started", "language", c.lang, "recording", c.Recording())

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("session stopped")
			return nil

		case t, ok := <-triggers:
			if !ok {
				triggers = nil
				continue
			}
			if t == control.Quit {
				c.logger.Info("quit requested")
				return nil
			}
			c.handleTrigger(t)

		case <-c.deps.Queue.Ready():
			u := c.consume()
			if u == nil {
				continue
			}
			c.beginTurn(u)
			wg.Add(1)
			go func() {
				defer wg.Done()
				done <- c.runTurn(ctx, u)
			}()

		case tm := <-done:
			c.endTurn(tm)
		}
	}
}

func (c *Controller) handleTrigger(t control.Trigger) {
	c.logger.Debug("trigger", "trigger", t)
	switch t {
	case control.ToggleRecording:
		c.ToggleRecording()
	case control.StopPlayback:
		c.StopPlayback()
	}
}

// consume drains the queue through the engine. It stops early and returns
// the utterance when one completes; frames left behind are dropped on resume.
func (c *Controller) consume() *segment.Utterance {
	defer c.checkCounters()

	for {
		f, ok := c.deps.Queue.TryPop()
		if !ok {
			return nil
		}
		if c.suppressed.Load() {
			c.tel.RecordFrame("suppressed")
			continue
		}

		out := c.deps.Engine.Process(f)
		if out.From == segment.Idle {
			c.tel.RecordFrame("ignored")
		} else {
			c.tel.RecordFrame("processed")
		}
		c.applyOutcome(out)

		if out.Utterance != nil {
			return out.Utterance
		}
	}
}

func (c *Controller) applyOutcome(out segment.Outcome) {
	if out.Discarded != segment.NotDiscarded {
		c.logger.Debug("utterance discarded", "reason", out.Discarded)
		c.tel.RecordDiscard(out.Discarded.String())
		c.publish(Event{Type: EventDiscarded, Reason: out.Discarded.String()})
	}
	if out.Changed() {
		c.tel.SetState(out.To.String(), allStates...)
		c.publish(Event{Type: EventState})
	}
}

var allStates = []string{
	segment.Idle.String(),
	segment.Listening.String(),
	segment.Speaking.String(),
	segment.TrailingSilence.String(),
}

// checkCounters turns queue overflow and classifier failures into counters
// and events. Neither interrupts the loop.
func (c *Controller) checkCounters() {
	if d := c.deps.Queue.Dropped(); d > c.seenDropped {
		n := d - c.seenDropped
		c.seenDropped = d
		c.tel.RecordDropped(n)
		err := &StageError{Stage: StageCapture, Err: fmt.Errorf("%d frames dropped", n)}
		c.logger.Debug("frames dropped", "count", n, "total", d)
		c.publish(Event{Type: EventDropped, Count: n, Stage: StageCapture, Error: err.Error()})
		if c.onError != nil {
			c.onError(err)
		}
	}

	if f := c.deps.Engine.Stats().ClassificationFailures; f > c.seenClassifyErrs {
		n := f - c.seenClassifyErrs
		c.seenClassifyErrs = f
		c.tel.RecordClassificationFailures(n)
		c.logger.Debug("classification failed, treated as silence", "count", n)
	}
}

func (c *Controller) beginTurn(u *segment.Utterance) {
	c.suppressed.Store(true)
	c.tel.RecordUtterance(u.Duration())
	c.logger.Debug("utterance ready",
		"utterance", u.ID,
		"speech_frames", u.SpeechFrames,
		"audio_ms", u.Duration().Milliseconds(),
		"forced", u.Forced,
	)
	c.publish(Event{Type: EventState, UtteranceID: u.ID})
}

// runTurn carries one utterance through the pipeline. It never returns an
// error: failures are reported and recorded in the metrics.
func (c *Controller) runTurn(ctx context.Context, u *segment.Utterance) TurnMetrics {
	start := time.Now()
	tm := TurnMetrics{UtteranceID: u.ID, SpeechEnd: start, Speech: u.Duration()}
	finish := func(o Outcome) TurnMetrics {
		tm.Outcome = o
		tm.Total = time.Since(start)
		return tm
	}
	fail := func(stage Stage, err error) TurnMetrics {
		tm.FailedStage = stage
		c.report(ctx, &StageError{Stage: stage, UtteranceID: u.ID, Err: err})
		return finish(OutcomeFailed)
	}

	text, err := c.deps.Transcriber.Transcribe(ctx, u.Float32(), u.SampleRate)
	tm.Transcript = time.Since(start)
	c.tel.RecordStage(string(StageTranscribe), tm.Transcript)
	if err != nil {
		return fail(StageTranscribe, err)
	}

	text = strings.TrimSpace(text)
	reason := c.filter.Check(text)
	if reason == "" && text == "" {
		reason = "empty"
	}
	if reason != "" {
		c.logger.Debug("transcript discarded", "utterance", u.ID, "reason", reason)
		c.tel.RecordDiscard("filtered")
		c.publish(Event{Type: EventDiscarded, UtteranceID: u.ID, Text: text, Reason: reason})
		return finish(OutcomeFiltered)
	}
	c.logger.Info("user", "text", text)
	c.publish(Event{Type: EventTranscript, UtteranceID: u.ID, Text: text})

	reply, err := c.deps.Responder.Generate(ctx, text)
	tm.Reply = time.Since(start)
	c.tel.RecordStage(string(StageRespond), tm.Reply-tm.Transcript)
	if err != nil {
		return fail(StageRespond, err)
	}
	c.logger.Info("assistant", "text", reply)
	c.publish(Event{Type: EventReply, UtteranceID: u.ID, Text: reply})

	speakStart := time.Now()
	trace := &tts.SpeakTrace{
		Synthesized: func(*tts.AudioResult) { tm.FirstAudio = time.Since(start) },
	}
	err = c.deps.Speaker.Speak(tts.WithSpeakTrace(ctx, trace), reply, c.lang)
	c.tel.RecordStage(string(StageSpeak), time.Since(speakStart))
	switch {
	case errors.Is(err, tts.ErrPlaybackCancelled):
		c.logger.Debug("playback stopped", "utterance", u.ID)
		return finish(OutcomeCancelled)
	case err != nil:
		return fail(StageSpeak, err)
	}
	return finish(OutcomeSpoken)
}

// endTurn resumes capture: stale frames are dropped, the engine returns to
// Listening (or stays Idle) and the suppressed flag clears.
func (c *Controller) endTurn(tm TurnMetrics) {
	if n := c.deps.Queue.Drain(); n > 0 {
		c.logger.Debug("dropped stale frames", "count", n)
	}
	out := c.deps.Engine.Reset()
	c.suppressed.Store(false)
	if out.Discarded != segment.NotDiscarded {
		c.tel.RecordDiscard(out.Discarded.String())
	}
	c.tel.SetState(out.To.String(), allStates...)

	c.metrics.Record(tm)
	c.tel.RecordTurn(string(tm.Outcome))
	c.logger.Debug("turn finished",
		"utterance", tm.UtteranceID,
		"outcome", tm.Outcome,
		"transcript", FormatLatency(tm.Transcript),
		"reply", FormatLatency(tm.Reply),
		"first_audio", FormatLatency(tm.FirstAudio),
		"total", FormatLatency(tm.Total),
	)
	c.publish(Event{Type: EventTurn, UtteranceID: tm.UtteranceID, Turn: &tm})
}

func (c *Controller) report(ctx context.Context, err *StageError) {
	if ctx.Err() != nil {
		// Shutting down; the failure is a consequence, not news.
		c.logger.Debug("stage aborted", "stage", err.Stage, "utterance", err.UtteranceID)
		return
	}
	c.logger.Warn("stage failed", "stage", err.Stage, "utterance", err.UtteranceID, "error", err.Err)
	c.tel.RecordStageError(string(err.Stage))
	c.publish(Event{
		Type:        EventError,
		UtteranceID: err.UtteranceID,
		Stage:       err.Stage,
		Error:       err.Err.Error(),
	})
	if c.onError != nil {
		c.onError(err)
	}
}

// SetRecording enables or disables capture. Disabling mid-utterance
// abandons the partial utterance.
func (c *Controller) SetRecording(on bool) {
	c.recMu.Lock()
	prev := c.recording.Swap(on)
	out := c.deps.Engine.SetRecording(on)
	c.recMu.Unlock()

	c.tel.SetRecording(on)
	if out.Discarded != segment.NotDiscarded {
		c.logger.Debug("utterance discarded", "reason", out.Discarded)
		c.tel.RecordDiscard(out.Discarded.String())
		c.publish(Event{Type: EventDiscarded, Reason: out.Discarded.String()})
	}
	if prev != on || out.Changed() {
		c.logger.Info("recording", "enabled", on)
		c.tel.SetState(out.To.String(), allStates...)
		c.publish(Event{Type: EventState})
	}
}

// ToggleRecording flips the recording flag and returns the new value.
func (c *Controller) ToggleRecording() bool {
	c.recMu.Lock()
	on := !c.recording.Load()
	c.recMu.Unlock()
	c.SetRecording(on)
	return on
}

// StopPlayback interrupts the reply being spoken, if any, and reports
// whether there was one. The turn then ends and capture resumes.
func (c *Controller) StopPlayback() bool {
	stopped := c.deps.Speaker.Cancel()
	if stopped {
		c.logger.Debug("playback stop requested")
	}
	return stopped
}

// Recording reports whether the user has capture enabled.
func (c *Controller) Recording() bool {
	return c.recording.Load()
}

// Suppressed reports whether a turn is in progress.
func (c *Controller) Suppressed() bool {
	return c.suppressed.Load()
}

// Capturing is the capture gate: frames are wanted only while recording
// and no turn is in progress. Safe to call from a device callback.
func (c *Controller) Capturing() bool {
	return c.recording.Load() && !c.suppressed.Load()
}

// Running reports whether Run is active.
func (c *Controller) Running() bool {
	return c.running.Load()
}

// State returns the segmentation state.
func (c *Controller) State() segment.State {
	return c.deps.Engine.State()
}

// Language returns the speech output language.
func (c *Controller) Language() string {
	return c.lang
}

// Subscribe returns a channel of events and a func that unsubscribes and
// closes it. Events are dropped for subscribers that fall behind.
func (c *Controller) Subscribe() (<-chan Event, func()) {
	return c.events.subscribe()
}

// Turns returns recent finished turns, oldest first.
func (c *Controller) Turns() []TurnMetrics {
	return c.metrics.Turns()
}

// Metrics returns the turn history.
func (c *Controller) Metrics() *Metrics {
	return c.metrics
}

// Status is a point-in-time snapshot for status displays.
type Status struct {
	State      string        `json:"state"`
	Recording  bool          `json:"recording"`
	Suppressed bool          `json:"suppressed"`
	Running    bool          `json:"running"`
	Language   string        `json:"language"`
	QueueLen   int           `json:"queue_len"`
	QueueCap   int           `json:"queue_cap"`
	Dropped    int64         `json:"dropped"`
	Engine     segment.Stats `json:"engine"`
	Turns      int           `json:"turns"`
	Average    TurnMetrics   `json:"average"`
}

// Status returns the current snapshot.
func (c *Controller) Status() Status {
	return Status{
		State:      c.State().String(),
		Recording:  c.Recording(),
		Suppressed: c.Suppressed(),
		Running:    c.Running(),
		Language:   c.lang,
		QueueLen:   c.deps.Queue.Len(),
		QueueCap:   c.deps.Queue.Cap(),
		Dropped:    c.deps.Queue.Dropped(),
		Engine:     c.deps.Engine.Stats(),
		Turns:      c.metrics.Len(),
		Average:    c.metrics.Average(),
	}
}

func (c *Controller) publish(ev Event) {
	ev.Time = time.Now()
	ev.State = c.State().String()
	ev.Recording = c.Recording()
	ev.Suppressed = c.Suppressed()
	c.events.publish(ev)
}
