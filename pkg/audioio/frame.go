package audioio

import (
	"time"
)

// Frame is one fixed-duration block of mono PCM16 audio.
// Frames are treated as immutable once pushed to a queue.
type Frame struct {
	// Samples contains PCM16 audio samples.
	Samples []int16

	// SampleRate is the sample rate of this frame.
	SampleRate int

	// Seq is the capture sequence number, starting at 1 for each source run.
	Seq uint64
}

// Bytes returns the raw little-endian bytes of the frame.
func (f Frame) Bytes() []byte {
	return SamplesToBytes(f.Samples)
}

// FrameFromBytes builds a frame from raw PCM16 little-endian bytes.
func FrameFromBytes(data []byte, sampleRate int) Frame {
	return Frame{
		Samples:    BytesToSamples(data),
		SampleRate: sampleRate,
	}
}

// Duration returns the duration of this frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate == 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// Framer slices an arbitrary stream of samples into fixed-size frames.
// Device callbacks rarely deliver exactly one frame per call.
type Framer struct {
	size       int
	sampleRate int
	pending    []int16
	seq        uint64
}

// NewFramer returns a Framer producing frames of size samples.
func NewFramer(size, sampleRate int) *Framer {
	return &Framer{
		size:       size,
		sampleRate: sampleRate,
		pending:    make([]int16, 0, size*2),
	}
}

// Write appends samples and calls emit once per completed frame.
// The emitted frame owns its sample slice.
func (f *Framer) Write(samples []int16, emit func(Frame)) {
	f.pending = append(f.pending, samples...)
	for len(f.pending) >= f.size {
		out := make([]int16, f.size)
		copy(out, f.pending[:f.size])
		f.seq++
		emit(Frame{Samples: out, SampleRate: f.sampleRate, Seq: f.seq})
		f.pending = append(f.pending[:0], f.pending[f.size:]...)
	}
}

// Reset drops any partial frame.
func (f *Framer) Reset() {
	f.pending = f.pending[:0]
}
