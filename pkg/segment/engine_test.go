package segment

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/teslashibe/go-voiceloop/pkg/audioio"
	"github.com/teslashibe/go-voiceloop/pkg/vad"
)

const (
	frameSamples = 320
	frameStep    = 20 * time.Millisecond
)

// markerClassifier treats a frame as speech when its first sample is non-zero.
// That keeps tests independent of energy thresholds.
var markerClassifier = vad.Func(func(f audioio.Frame) (bool, error) {
	if len(f.Samples) == 0 {
		return false, vad.ErrMalformedFrame
	}
	return f.Samples[0] != 0, nil
})

type harness struct {
	t     *testing.T
	eng   *Engine
	clock *ManualClock
	seq   uint64
	ids   int

	emitted   []*Utterance
	discarded []DiscardReason
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	h := &harness{t: t, clock: &ManualClock{}}
	opts = append([]Option{
		WithClock(h.clock),
		WithIDGenerator(func() string {
			h.ids++
			return fmt.Sprintf("utt-%d", h.ids)
		}),
	}, opts...)
	eng, err := New(cfg, markerClassifier, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.eng = eng
	return h
}

func (h *harness) frame(speech bool) audioio.Frame {
	h.seq++
	s := make([]int16, frameSamples)
	if speech {
		for i := range s {
			s[i] = int16(h.seq%100 + 1)
		}
	}
	return audioio.Frame{Samples: s, SampleRate: 16000, Seq: h.seq}
}

// feed advances the clock one frame period, then processes a frame.
func (h *harness) feed(speech bool, n int) {
	for i := 0; i < n; i++ {
		h.clock.Advance(frameStep)
		h.record(h.eng.Process(h.frame(speech)))
	}
}

func (h *harness) record(o Outcome) {
	if o.Utterance != nil {
		h.emitted = append(h.emitted, o.Utterance)
	}
	if o.Discarded != NotDiscarded {
		h.discarded = append(h.discarded, o.Discarded)
	}
}

func (h *harness) start() {
	h.record(h.eng.SetRecording(true))
	if h.eng.State() != Listening {
		h.t.Fatalf("expected Listening after enabling recording, got %v", h.eng.State())
	}
}

func TestEngine_StartsIdle(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	if h.eng.State() != Idle {
		t.Fatalf("expected Idle, got %v", h.eng.State())
	}

	// Frames while Idle are ignored, even speech.
	h.feed(true, 50)
	if h.eng.State() != Idle || len(h.emitted) != 0 {
		t.Errorf("idle engine reacted to frames: state %v, %d events", h.eng.State(), len(h.emitted))
	}
	if h.eng.Stats().FramesIgnored != 50 {
		t.Errorf("expected 50 ignored frames, got %d", h.eng.Stats().FramesIgnored)
	}
}

func TestEngine_AllSilenceNeverLeavesListening(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.start()

	for i := 0; i < 1000; i++ {
		h.feed(false, 1)
		if s := h.eng.State(); s != Listening {
			t.Fatalf("frame %d: left Listening for %v", i, s)
		}
	}
	if len(h.emitted) != 0 {
		t.Errorf("expected no events, got %d", len(h.emitted))
	}
}

func TestEngine_SingleUtteranceScenario(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.start()

	h.feed(true, 20) // 0.02s .. 0.40s
	if h.eng.State() != Speaking {
		t.Fatalf("expected Speaking, got %v", h.eng.State())
	}

	var emittedAt time.Duration
	for i := 1; i <= 80; i++ {
		before := len(h.emitted)
		h.feed(false, 1)
		if len(h.emitted) > before {
			if emittedAt != 0 {
				t.Fatalf("second event at silence frame %d", i)
			}
			emittedAt = h.clock.Now()
			if i != 76 {
				t.Errorf("expected event on silence frame 76 (first pause > 1.5s), got frame %d", i)
			}
		}
	}

	if len(h.emitted) != 1 {
		t.Fatalf("expected exactly one event, got %d", len(h.emitted))
	}
	u := h.emitted[0]
	if len(u.Samples) != 20*320 {
		t.Errorf("expected 6400 samples, got %d", len(u.Samples))
	}
	if u.SpeechFrames != 20 {
		t.Errorf("expected 20 speech frames, got %d", u.SpeechFrames)
	}
	if emittedAt < 1900*time.Millisecond || emittedAt > 1940*time.Millisecond {
		t.Errorf("expected emission near 1.9s, got %v", emittedAt)
	}
	if u.EmittedAt != emittedAt {
		t.Errorf("EmittedAt %v does not match clock %v", u.EmittedAt, emittedAt)
	}
	if u.StartedAt != 20*time.Millisecond || u.LastSpeechAt != 400*time.Millisecond {
		t.Errorf("unexpected timestamps start=%v last=%v", u.StartedAt, u.LastSpeechAt)
	}
	if u.Duration() != 400*time.Millisecond {
		t.Errorf("expected 400ms of audio, got %v", u.Duration())
	}
	if u.ID != "utt-1" {
		t.Errorf("unexpected id %q", u.ID)
	}
	if h.eng.State() != Listening || h.eng.Pending() != 0 {
		t.Errorf("expected Listening with empty buffer after emit, got %v with %d samples", h.eng.State(), h.eng.Pending())
	}
}

func TestEngine_PayloadExcludesSilence(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.start()

	h.feed(false, 5) // leading silence, dropped
	h.feed(true, 6)
	h.feed(false, 10) // short gap, timing only
	h.feed(true, 6)
	h.feed(false, 80)

	if len(h.emitted) != 1 {
		t.Fatalf("expected one event, got %d", len(h.emitted))
	}
	u := h.emitted[0]
	if len(u.Samples) != 12*320 {
		t.Errorf("expected only the 12 speech frames, got %d samples", len(u.Samples))
	}
	for i, s := range u.Samples {
		if s == 0 {
			t.Fatalf("silence sample found in payload at %d", i)
		}
	}
	if u.FirstSeq != 6 || u.LastSeq != 27 {
		t.Errorf("unexpected seq range %d..%d", u.FirstSeq, u.LastSeq)
	}
}

func TestEngine_SpeechResetsPauseTimer(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.start()

	h.feed(true, 15)
	// 1.4s of silence, one speech frame, 1.4s of silence: 2.8s of silence in
	// total but never 1.5s contiguous.
	h.feed(false, 70)
	if h.eng.State() != TrailingSilence {
		t.Fatalf("expected TrailingSilence, got %v", h.eng.State())
	}
	h.feed(true, 1)
	if h.eng.State() != Speaking {
		t.Fatalf("expected Speaking after interrupting speech, got %v", h.eng.State())
	}
	h.feed(false, 70)

	if len(h.emitted) != 0 {
		t.Fatalf("pause accrued cumulatively: got %d events", len(h.emitted))
	}

	// Contiguous silence past the timeout completes it.
	h.feed(false, 6)
	if len(h.emitted) != 1 {
		t.Fatalf("expected one event after contiguous timeout, got %d", len(h.emitted))
	}
	if h.emitted[0].SpeechFrames != 16 {
		t.Errorf("expected 16 speech frames, got %d", h.emitted[0].SpeechFrames)
	}
}

func TestEngine_PauseMustExceedTimeout(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.start()
	h.feed(true, 10)

	// Exactly 1.5s after the last speech frame: not yet.
	h.feed(false, 75)
	if len(h.emitted) != 0 {
		t.Fatal("pause equal to timeout must not emit")
	}
	h.feed(false, 1)
	if len(h.emitted) != 1 {
		t.Fatal("pause beyond timeout must emit")
	}
}

func TestEngine_TooShortIsDiscarded(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.start()

	h.feed(true, 3)
	h.feed(false, 80)

	if len(h.emitted) != 0 {
		t.Fatalf("expected no event for 3 speech frames, got %d", len(h.emitted))
	}
	if len(h.discarded) != 1 || h.discarded[0] != DiscardTooShort {
		t.Errorf("expected one too-short discard, got %v", h.discarded)
	}
	if h.eng.State() != Listening || h.eng.Pending() != 0 {
		t.Errorf("expected clean Listening after discard, got %v with %d samples", h.eng.State(), h.eng.Pending())
	}

	// The next valid utterance is unaffected by the discarded one.
	h.feed(true, 10)
	h.feed(false, 80)
	if len(h.emitted) != 1 || len(h.emitted[0].Samples) != 10*320 {
		t.Fatalf("expected a clean 10 frame utterance after discard")
	}
}

func TestEngine_MinSpeechChunksBoundary(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.start()

	h.feed(true, 9)
	h.feed(false, 80)
	h.feed(true, 10)
	h.feed(false, 80)

	if len(h.emitted) != 1 || h.emitted[0].SpeechFrames != 10 {
		t.Fatalf("expected only the 10 frame utterance, got %d events", len(h.emitted))
	}
}

func TestEngine_StopMidSpeechDiscards(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.start()

	h.feed(true, 30)
	h.record(h.eng.SetRecording(false))
	if h.eng.State() != Idle {
		t.Fatalf("expected Idle, got %v", h.eng.State())
	}
	if len(h.discarded) != 1 || h.discarded[0] != DiscardStopped {
		t.Errorf("expected a stopped discard, got %v", h.discarded)
	}

	h.feed(false, 100)
	h.start()
	if h.eng.Pending() != 0 {
		t.Errorf("expected empty buffer after re-enabling, got %d samples", h.eng.Pending())
	}
	h.feed(false, 100)
	if len(h.emitted) != 0 {
		t.Fatalf("discarded utterance leaked an event")
	}
}

func TestEngine_StopDuringTrailingSilence(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.start()
	h.feed(true, 30)
	h.feed(false, 10)

	o := h.eng.SetRecording(false)
	if o.From != TrailingSilence || o.To != Idle || o.Discarded != DiscardStopped {
		t.Errorf("unexpected outcome %+v", o)
	}
}

func TestEngine_SetRecordingIdempotent(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.start()
	h.feed(true, 5)

	// Enabling again while already recording keeps the utterance.
	if o := h.eng.SetRecording(true); o.Changed() || o.Discarded != NotDiscarded {
		t.Errorf("redundant enable changed state: %+v", o)
	}
	if h.eng.Pending() != 5*320 {
		t.Errorf("redundant enable dropped samples")
	}

	h.eng.SetRecording(false)
	if o := h.eng.SetRecording(false); o.Changed() || o.Discarded != NotDiscarded {
		t.Errorf("redundant disable reported %+v", o)
	}
}

func TestEngine_ZeroFramesZeroEvents(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.start()

	h.clock.Advance(time.Hour)
	if len(h.emitted) != 0 || h.eng.State() != Listening {
		t.Errorf("time alone produced activity")
	}

	// Same with an utterance in flight: the timeout is evaluated per frame.
	h.feed(true, 20)
	h.clock.Advance(time.Hour)
	if len(h.emitted) != 0 || h.eng.State() != Speaking {
		t.Errorf("time alone completed an utterance")
	}
}

func TestEngine_ResetResumesListening(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.start()
	h.feed(true, 20)

	o := h.eng.Reset()
	if o.To != Listening || o.Discarded != DiscardReset {
		t.Errorf("unexpected reset outcome %+v", o)
	}
	if h.eng.Pending() != 0 {
		t.Errorf("reset kept %d samples", h.eng.Pending())
	}

	h.eng.SetRecording(false)
	if o := h.eng.Reset(); o.To != Idle {
		t.Errorf("reset must not start recording, got %v", o.To)
	}
}

func TestEngine_ClassificationFailureIsSilence(t *testing.T) {
	var hooked []error
	h := newHarness(t, DefaultConfig(), WithClassificationHook(func(err error) {
		hooked = append(hooked, err)
	}))
	h.start()
	h.feed(true, 20)

	bad := audioio.Frame{SampleRate: 16000} // empty: classifier errors
	for i := 0; i < 80; i++ {
		h.clock.Advance(frameStep)
		h.record(h.eng.Process(bad))
	}

	if len(h.emitted) != 1 {
		t.Fatalf("failed frames should count as silence and end the utterance, got %d events", len(h.emitted))
	}
	if len(h.emitted[0].Samples) != 6400 {
		t.Errorf("failed frames leaked into the payload: %d samples", len(h.emitted[0].Samples))
	}
	if got := h.eng.Stats().ClassificationFailures; got != 80 {
		t.Errorf("expected 80 classification failures, got %d", got)
	}
	if len(hooked) != 80 || !errors.Is(hooked[0], vad.ErrMalformedFrame) {
		t.Errorf("hook saw %d errors, first %v", len(hooked), hooked)
	}
}

func TestEngine_ClassifierPanicIsSilence(t *testing.T) {
	calls := 0
	panicky := vad.Func(func(f audioio.Frame) (bool, error) {
		calls++
		if calls > 20 {
			panic("corrupt frame")
		}
		return true, nil
	})
	clock := &ManualClock{}
	eng, err := New(DefaultConfig(), panicky, WithClock(clock))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	eng.SetRecording(true)

	var events int
	for i := 0; i < 100; i++ {
		clock.Advance(frameStep)
		if o := eng.Process(audioio.Frame{Samples: make([]int16, 320), SampleRate: 16000}); o.Utterance != nil {
			events++
		}
	}
	if events != 1 {
		t.Errorf("expected one event, got %d", events)
	}
}

func TestEngine_MaxUtteranceForcesEmit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxUtterance = time.Second
	h := newHarness(t, cfg)
	h.start()

	h.feed(true, 120)

	if len(h.emitted) != 2 {
		t.Fatalf("expected two forced events for 2.4s of speech, got %d", len(h.emitted))
	}
	for _, u := range h.emitted {
		if !u.Forced || len(u.Samples) != 16000 {
			t.Errorf("expected forced 1s utterance, got forced=%v samples=%d", u.Forced, len(u.Samples))
		}
	}
	if h.eng.State() != Speaking {
		t.Errorf("expected ongoing speech to keep accumulating, got %v", h.eng.State())
	}
	if h.eng.Stats().Forced != 2 {
		t.Errorf("expected 2 forced in stats, got %d", h.eng.Stats().Forced)
	}
}

func TestEngine_EmittedBufferNotReused(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.start()
	h.feed(true, 10)
	h.feed(false, 80)
	first := h.emitted[0]
	snapshot := append([]int16(nil), first.Samples...)

	h.feed(true, 10)
	h.feed(false, 80)

	for i := range snapshot {
		if first.Samples[i] != snapshot[i] {
			t.Fatalf("emitted utterance mutated at sample %d", i)
		}
	}
}

func TestEngine_MultipleUtterancesInOrder(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.start()
	for i := 0; i < 3; i++ {
		h.feed(true, 10+i)
		h.feed(false, 80)
	}
	if len(h.emitted) != 3 {
		t.Fatalf("expected 3 events, got %d", len(h.emitted))
	}
	for i, u := range h.emitted {
		if u.SpeechFrames != 10+i {
			t.Errorf("event %d: expected %d frames, got %d", i, 10+i, u.SpeechFrames)
		}
		if i > 0 && u.FirstSeq <= h.emitted[i-1].LastSeq {
			t.Errorf("event %d overlaps the previous one", i)
		}
	}
	if st := h.eng.Stats(); st.Emitted != 3 {
		t.Errorf("expected 3 emitted in stats, got %d", st.Emitted)
	}
}

func TestNew_Validation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SilenceTimeout = 0
	if _, err := New(cfg, markerClassifier); err == nil {
		t.Error("expected error for zero timeout")
	}
	if _, err := New(DefaultConfig(), nil); err == nil {
		t.Error("expected error for nil classifier")
	}
}

func TestState_String(t *testing.T) {
	want := map[State]string{
		Idle:            "idle",
		Listening:       "listening",
		Speaking:        "speaking",
		TrailingSilence: "trailing_silence",
		State(42):       "unknown",
	}
	for s, w := range want {
		if s.String() != w {
			t.Errorf("%d: got %q, want %q", s, s.String(), w)
		}
	}
}
