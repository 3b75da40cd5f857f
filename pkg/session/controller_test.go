package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/teslashibe/go-voiceloop/internal/log"
	"github.com/teslashibe/go-voiceloop/pkg/audioio"
	"github.com/teslashibe/go-voiceloop/pkg/control"
	"github.com/teslashibe/go-voiceloop/pkg/inference"
	"github.com/teslashibe/go-voiceloop/pkg/segment"
	"github.com/teslashibe/go-voiceloop/pkg/telemetry"
	"github.com/teslashibe/go-voiceloop/pkg/transcribe"
	"github.com/teslashibe/go-voiceloop/pkg/tts"
	"github.com/teslashibe/go-voiceloop/pkg/vad"
)

const (
	frameSamples = 320
	frameStep    = 20 * time.Millisecond
	waitFor      = 2 * time.Second
)

// rig wires a controller to mocks. Simulated time advances one frame period
// per classified frame, so timing depends only on the frames pushed.
type rig struct {
	t      *testing.T
	queue  *audioio.FrameQueue
	clock  *segment.ManualClock
	engine *segment.Engine
	stt    *transcribe.Mock
	llm    *inference.Mock
	voice  *tts.Mock
	out    *tts.MockOutput
	ctrl   *Controller
	events <-chan Event

	seq  uint64
	errc chan error

	mu   sync.Mutex
	errs []error
}

func newRig(t *testing.T, queueCap int, deps func(*Deps), opts ...Option) *rig {
	t.Helper()
	r := &rig{
		t:     t,
		queue: audioio.NewFrameQueue(queueCap, audioio.DropOldest),
		clock: &segment.ManualClock{},
		stt:   transcribe.NewMock("what time is it"),
		llm:   inference.NewMock("It is noon."),
		voice: tts.NewMock(),
		out:   &tts.MockOutput{PlayTime: 10 * time.Millisecond},
	}

	classifier := vad.Func(func(f audioio.Frame) (bool, error) {
		r.clock.Advance(frameStep)
		if len(f.Samples) == 0 {
			return false, vad.ErrMalformedFrame
		}
		return f.Samples[0] != 0, nil
	})
	eng, err := segment.New(segment.DefaultConfig(), classifier,
		segment.WithClock(r.clock),
		segment.WithLogger(log.Discard()),
	)
	if err != nil {
		t.Fatalf("segment.New: %v", err)
	}
	r.engine = eng

	d := Deps{
		Queue:       r.queue,
		Engine:      eng,
		Transcriber: r.stt,
		Responder:   inference.NewResponder(r.llm, inference.WithResponderLogger(log.Discard())),
		Speaker:     tts.NewSpeaker(r.voice, r.out, tts.WithSpeakerLogger(log.Discard())),
	}
	if deps != nil {
		deps(&d)
	}

	opts = append([]Option{
		WithLogger(log.Discard()),
		WithEventBuffer(1024),
		WithErrorHandler(func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		}),
	}, opts...)
	ctrl, err := New(d, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.ctrl = ctrl

	events, unsubscribe := ctrl.Subscribe()
	r.events = events
	t.Cleanup(unsubscribe)
	return r
}

func (r *rig) run() {
	r.t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	r.errc = make(chan error, 1)
	go func() { r.errc <- r.ctrl.Run(ctx) }()
	r.t.Cleanup(func() {
		cancel()
		select {
		case <-r.errc:
		case <-time.After(waitFor):
			r.t.Error("Run did not return after cancel")
		}
	})
	r.waitUntil("running", r.ctrl.Running)
}

func (r *rig) push(speech bool, n int) {
	for i := 0; i < n; i++ {
		r.seq++
		s := make([]int16, frameSamples)
		if speech {
			for j := range s {
				s[j] = 1000
			}
		}
		r.queue.Push(audioio.Frame{Samples: s, SampleRate: 16000, Seq: r.seq})
	}
}

// utterance pushes speech followed by enough silence to end it.
func (r *rig) utterance(speechFrames int) {
	r.push(true, speechFrames)
	r.push(false, 80)
}

func (r *rig) next(typ EventType) Event {
	r.t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case ev, ok := <-r.events:
			if !ok {
				r.t.Fatalf("event stream closed waiting for %s", typ)
			}
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			r.t.Fatalf("timed out waiting for %s event", typ)
		}
	}
}

func (r *rig) waitUntil(what string, cond func() bool) {
	r.t.Helper()
	deadline := time.Now().Add(waitFor)
	for !cond() {
		if time.Now().After(deadline) {
			r.t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (r *rig) errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Fatal("expected error for empty deps")
	}
}

func TestController_FullTurn(t *testing.T) {
	r := newRig(t, 500, nil, WithRecording(true), WithLanguage("es"))
	r.run()
	r.utterance(20)

	tr := r.next(EventTranscript)
	if tr.Text != "what time is it" {
		t.Errorf("transcript = %q", tr.Text)
	}
	if !tr.Suppressed {
		t.Error("capture should be suppressed during the turn")
	}
	reply := r.next(EventReply)
	if reply.Text != "It is noon." {
		t.Errorf("reply = %q", reply.Text)
	}
	turn := r.next(EventTurn)
	if turn.Turn == nil || turn.Turn.Outcome != OutcomeSpoken {
		t.Fatalf("unexpected turn %+v", turn.Turn)
	}
	if turn.Suppressed || turn.State != "listening" {
		t.Errorf("expected resumed listening, got state=%s suppressed=%v", turn.State, turn.Suppressed)
	}
	if turn.Turn.FirstAudio <= 0 || turn.Turn.Total < turn.Turn.FirstAudio {
		t.Errorf("bad latencies %+v", turn.Turn)
	}

	calls := r.stt.Calls()
	if len(calls) != 1 || calls[0].Samples != 20*frameSamples || calls[0].SampleRate != 16000 {
		t.Fatalf("unexpected transcription calls %+v", calls)
	}
	req := r.llm.LastCall().Request
	if len(req.Messages) != 1 || req.Messages[0].Role != inference.RoleUser || req.Messages[0].Content != "what time is it" {
		t.Errorf("expected a single user message, got %+v", req.Messages)
	}
	if last := r.voice.LastCall(); last == nil || last.Text != "It is noon." || last.Lang != "es" {
		t.Errorf("unexpected synthesis %+v", last)
	}
	if r.out.Played() != 1 {
		t.Errorf("expected one clip played, got %d", r.out.Played())
	}
	if got := len(r.ctrl.Turns()); got != 1 {
		t.Errorf("expected 1 turn recorded, got %d", got)
	}
	if r.queue.Len() != 0 {
		t.Errorf("expected leftover frames drained, %d queued", r.queue.Len())
	}
}

func TestController_AllSilenceNoTurn(t *testing.T) {
	r := newRig(t, 500, nil, WithRecording(true))
	r.run()
	r.push(false, 200)

	r.waitUntil("queue drained", func() bool { return r.queue.Len() == 0 })
	if r.stt.CallCount() != 0 {
		t.Errorf("expected no transcription, got %d", r.stt.CallCount())
	}
	if r.ctrl.State() != segment.Listening {
		t.Errorf("expected listening, got %v", r.ctrl.State())
	}
}

func TestController_TooShortDiscarded(t *testing.T) {
	r := newRig(t, 500, nil, WithRecording(true))
	r.run()
	r.utterance(3)

	ev := r.next(EventDiscarded)
	if ev.Reason != "too_short" {
		t.Errorf("reason = %q", ev.Reason)
	}
	if r.stt.CallCount() != 0 {
		t.Error("too-short utterance must not be transcribed")
	}
}

func TestController_ArtifactFiltered(t *testing.T) {
	r := newRig(t, 500, nil, WithRecording(true))
	r.stt.Text = "Subtitle Editor: Someone"
	r.run()
	r.utterance(20)

	ev := r.next(EventDiscarded)
	if ev.Reason == "" || ev.Text != "Subtitle Editor: Someone" {
		t.Errorf("unexpected discard %+v", ev)
	}
	turn := r.next(EventTurn)
	if turn.Turn.Outcome != OutcomeFiltered {
		t.Errorf("outcome = %s", turn.Turn.Outcome)
	}
	if r.llm.CallCount("Chat") != 0 || r.out.Played() != 0 {
		t.Error("filtered transcript must not be answered")
	}
	if len(r.errors()) != 0 {
		t.Errorf("filtering is not an error: %v", r.errors())
	}
}

func TestController_EmptyTranscriptWithCustomFilter(t *testing.T) {
	r := newRig(t, 500, func(d *Deps) {
		d.Filter = transcribe.FilterChain{transcribe.DropPrefix("[MUSIC]")}
	}, WithRecording(true))
	r.stt.Text = "   "
	r.run()
	r.utterance(20)

	if ev := r.next(EventDiscarded); ev.Reason != "empty" {
		t.Errorf("reason = %q", ev.Reason)
	}
	if r.llm.CallCount("Chat") != 0 {
		t.Error("empty transcript must not be answered")
	}
}

func TestController_TranscriptionFailureRecovers(t *testing.T) {
	cause := errors.New("server on fire")
	r := newRig(t, 500, nil, WithRecording(true))
	var n int
	var mu sync.Mutex
	r.stt.TranscribeFunc = func(ctx context.Context, samples []float32, rate int) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		if n == 1 {
			return "", cause
		}
		return "second try", nil
	}
	r.run()
	r.utterance(20)

	ev := r.next(EventError)
	if ev.Stage != StageTranscribe {
		t.Errorf("stage = %s", ev.Stage)
	}
	turn := r.next(EventTurn)
	if turn.Turn.Outcome != OutcomeFailed || turn.Turn.FailedStage != StageTranscribe {
		t.Errorf("unexpected turn %+v", turn.Turn)
	}

	errs := r.errors()
	if len(errs) != 1 || !errors.Is(errs[0], ErrTranscriptionFailed) || !errors.Is(errs[0], cause) {
		t.Fatalf("unexpected reported errors %v", errs)
	}

	r.utterance(20)
	if tr := r.next(EventTranscript); tr.Text != "second try" {
		t.Errorf("expected the loop to keep going, got %q", tr.Text)
	}
	if turn := r.next(EventTurn); turn.Turn.Outcome != OutcomeSpoken {
		t.Errorf("second turn outcome = %s", turn.Turn.Outcome)
	}
}

func TestController_ResponseFailure(t *testing.T) {
	r := newRig(t, 500, func(d *Deps) {
		d.Responder = inference.NewResponder(inference.WithError(inference.ErrProviderUnavailable))
	}, WithRecording(true))
	r.run()
	r.utterance(20)

	turn := r.next(EventTurn)
	if turn.Turn.FailedStage != StageRespond {
		t.Errorf("failed stage = %s", turn.Turn.FailedStage)
	}
	errs := r.errors()
	if len(errs) != 1 || !errors.Is(errs[0], ErrResponseGenerationFailed) {
		t.Fatalf("unexpected errors %v", errs)
	}
	if r.voice.CallCount("Synthesize") != 0 {
		t.Error("nothing should be spoken after a response failure")
	}
	if r.ctrl.Suppressed() {
		t.Error("capture should resume")
	}
}

func TestController_SpeechOutputFailure(t *testing.T) {
	r := newRig(t, 500, nil, WithRecording(true))
	r.out.Err = errors.New("device unplugged")
	r.run()
	r.utterance(20)

	turn := r.next(EventTurn)
	if turn.Turn.FailedStage != StageSpeak {
		t.Errorf("failed stage = %s", turn.Turn.FailedStage)
	}
	errs := r.errors()
	if len(errs) != 1 || !errors.Is(errs[0], ErrSpeechOutputFailed) {
		t.Fatalf("unexpected errors %v", errs)
	}
	if stage, ok := StageOf(errs[0]); !ok || stage != StageSpeak {
		t.Errorf("StageOf = %s, %v", stage, ok)
	}
}

func TestController_StopPlaybackResumesPromptly(t *testing.T) {
	r := newRig(t, 500, nil, WithRecording(true))
	r.out.PlayTime = 10 * time.Second
	r.run()
	r.utterance(20)
	r.next(EventReply)

	// Speak starts just after the reply event.
	r.waitUntil("playback", func() bool { return r.out.Played() == 1 })
	start := time.Now()
	if !r.ctrl.StopPlayback() {
		t.Fatal("expected an in-flight reply to stop")
	}

	turn := r.next(EventTurn)
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("resume took %v", elapsed)
	}
	if turn.Turn.Outcome != OutcomeCancelled {
		t.Errorf("outcome = %s", turn.Turn.Outcome)
	}
	if turn.Suppressed || !r.ctrl.Capturing() {
		t.Error("capture should be re-enabled after cancellation")
	}
	if len(r.errors()) != 0 {
		t.Errorf("cancellation is not an error: %v", r.errors())
	}
	if r.ctrl.StopPlayback() {
		t.Error("nothing should be playing now")
	}
}

func TestController_SuppressesCaptureDuringTurn(t *testing.T) {
	r := newRig(t, 500, nil, WithRecording(true))
	r.out.PlayTime = 10 * time.Second
	r.run()
	r.utterance(20)
	r.waitUntil("playback", func() bool { return r.out.Played() == 1 })

	if r.ctrl.Capturing() {
		t.Error("gate should be closed while replying")
	}

	// Frames that slip past the gate must not reach the engine.
	before := r.engine.Stats().FramesProcessed
	r.utterance(20)
	r.waitUntil("queue drained", func() bool { return r.queue.Len() == 0 })
	if got := r.engine.Stats().FramesProcessed; got != before {
		t.Errorf("engine processed %d frames while suppressed", got-before)
	}

	r.ctrl.StopPlayback()
	r.next(EventTurn)
	if r.stt.CallCount() != 1 {
		t.Errorf("expected one transcription, got %d", r.stt.CallCount())
	}
}

func TestController_StopRecordingDiscardsUtterance(t *testing.T) {
	r := newRig(t, 500, nil, WithRecording(true))
	r.run()
	r.push(true, 15)
	r.waitUntil("speaking", func() bool { return r.ctrl.State() == segment.Speaking })

	r.ctrl.SetRecording(false)
	if ev := r.next(EventDiscarded); ev.Reason != "stopped" {
		t.Errorf("reason = %q", ev.Reason)
	}
	if r.ctrl.State() != segment.Idle || r.ctrl.Recording() {
		t.Errorf("expected idle, got %v recording=%v", r.ctrl.State(), r.ctrl.Recording())
	}
	if r.engine.Pending() != 0 {
		t.Error("buffer should be empty")
	}

	r.push(false, 80)
	r.waitUntil("queue drained", func() bool { return r.queue.Len() == 0 })
	if r.stt.CallCount() != 0 {
		t.Error("discarded utterance must not be transcribed")
	}

	r.ctrl.SetRecording(true)
	if r.ctrl.State() != segment.Listening || r.engine.Pending() != 0 {
		t.Errorf("expected empty listening engine, got %v with %d samples", r.ctrl.State(), r.engine.Pending())
	}
}

func TestController_Triggers(t *testing.T) {
	ch := control.NewChannel(4)
	r := newRig(t, 500, func(d *Deps) { d.Triggers = ch })

	ctx := context.Background()
	errc := make(chan error, 1)
	go func() { errc <- r.ctrl.Run(ctx) }()
	r.waitUntil("running", r.ctrl.Running)

	ch.Send(control.ToggleRecording)
	r.waitUntil("recording", r.ctrl.Recording)
	if r.ctrl.State() != segment.Listening {
		t.Errorf("state = %v", r.ctrl.State())
	}

	if err := r.ctrl.Run(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run = %v", err)
	}

	ch.Send(control.Quit)
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(waitFor):
		t.Fatal("quit did not stop Run")
	}
}

func TestController_OverflowReported(t *testing.T) {
	tel := telemetry.NewMetrics("test")
	r := newRig(t, 4, nil, WithTelemetry(tel))
	r.push(false, 10)
	r.run()

	ev := r.next(EventDropped)
	if ev.Count != 6 {
		t.Errorf("dropped count = %d", ev.Count)
	}
	errs := r.errors()
	if len(errs) != 1 || !errors.Is(errs[0], ErrBufferOverflow) {
		t.Fatalf("unexpected errors %v", errs)
	}
	if got := testutil.ToFloat64(tel.FramesDropped); got != 6 {
		t.Errorf("telemetry dropped = %v", got)
	}
}

func TestController_ClassificationFailureCounted(t *testing.T) {
	tel := telemetry.NewMetrics("test")
	r := newRig(t, 500, nil, WithRecording(true), WithTelemetry(tel))
	r.run()

	r.seq++
	r.queue.Push(audioio.Frame{SampleRate: 16000, Seq: r.seq})
	r.waitUntil("failure counted", func() bool {
		return r.ctrl.Status().Engine.ClassificationFailures == 1
	})
	r.push(false, 1)
	r.waitUntil("telemetry", func() bool {
		return testutil.ToFloat64(tel.ClassificationFailures) == 1
	})
	if r.ctrl.State() != segment.Listening {
		t.Errorf("failure must count as silence, state = %v", r.ctrl.State())
	}
	if len(r.errors()) != 0 {
		t.Errorf("classification failures are not reported: %v", r.errors())
	}
}

func TestController_Status(t *testing.T) {
	r := newRig(t, 500, nil, WithLanguage("fr"))
	st := r.ctrl.Status()
	if st.State != "idle" || st.Recording || st.Running || st.Language != "fr" || st.QueueCap != 500 {
		t.Errorf("unexpected status %+v", st)
	}
}
