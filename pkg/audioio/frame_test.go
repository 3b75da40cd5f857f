package audioio

import (
	"testing"
	"time"
)

func TestConfig_Defaults(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.FrameSize() != 320 {
		t.Errorf("expected 320 samples per frame, got %d", cfg.FrameSize())
	}
	if cfg.FrameBytes() != 640 {
		t.Errorf("expected 640 bytes per frame, got %d", cfg.FrameBytes())
	}
}

func TestConfig_Validate(t *testing.T) {
	bad := []func(*Config){
		func(c *Config) { c.SampleRate = 0 },
		func(c *Config) { c.Channels = 2 },
		func(c *Config) { c.FrameDuration = 15 * time.Millisecond },
		func(c *Config) { c.QueueCapacity = 0 },
		func(c *Config) { c.Overflow = "block" },
		func(c *Config) { c.Backend = "alsa" },
	}
	for i, mutate := range bad {
		cfg := DefaultConfig()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestFrame_Duration(t *testing.T) {
	f := Frame{Samples: make([]int16, 320), SampleRate: 16000}
	if f.Duration() != 20*time.Millisecond {
		t.Errorf("expected 20ms, got %v", f.Duration())
	}
	if (Frame{}).Duration() != 0 {
		t.Error("expected zero duration without a sample rate")
	}
}

func TestFrame_BytesRoundTrip(t *testing.T) {
	f := Frame{Samples: []int16{1, -2, 300}, SampleRate: 16000}
	back := FrameFromBytes(f.Bytes(), 16000)
	for i := range f.Samples {
		if back.Samples[i] != f.Samples[i] {
			t.Errorf("sample %d: expected %d, got %d", i, f.Samples[i], back.Samples[i])
		}
	}
}

func TestFramer_SplitsIntoFixedFrames(t *testing.T) {
	fr := NewFramer(4, 16000)
	var got []Frame
	emit := func(f Frame) { got = append(got, f) }

	fr.Write([]int16{1, 2, 3}, emit)
	if len(got) != 0 {
		t.Fatalf("expected no frame from a partial write, got %d", len(got))
	}
	fr.Write([]int16{4, 5, 6, 7, 8, 9}, emit)
	if len(got) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(got))
	}
	if got[0].Samples[0] != 1 || got[1].Samples[0] != 5 {
		t.Errorf("unexpected frame contents %v %v", got[0].Samples, got[1].Samples)
	}
	if got[0].Seq != 1 || got[1].Seq != 2 {
		t.Errorf("unexpected seq numbers %d %d", got[0].Seq, got[1].Seq)
	}

	// The emitted frame must not alias the framer's buffer.
	fr.Write([]int16{10, 11, 12}, emit)
	if got[1].Samples[0] != 5 {
		t.Errorf("frame mutated by later writes: %v", got[1].Samples)
	}

	fr.Reset()
	fr.Write([]int16{20, 21, 22, 23}, emit)
	if got[len(got)-1].Samples[0] != 20 {
		t.Errorf("expected reset to drop the partial frame, got %v", got[len(got)-1].Samples)
	}
}
