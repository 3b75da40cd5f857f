package segment

import (
	"time"

	"github.com/teslashibe/go-voiceloop/pkg/audioio"
)

// Utterance is a completed run of speech frames. Once emitted it belongs to
// the receiver; the engine never touches it again.
type Utterance struct {
	ID         string
	Samples    []int16
	SampleRate int

	// SpeechFrames is the number of speech-classified frames in Samples.
	SpeechFrames int

	// Clock readings for the first speech frame, the last speech frame and emission.
	StartedAt    time.Duration
	LastSpeechAt time.Duration
	EmittedAt    time.Duration

	FirstSeq uint64
	LastSeq  uint64

	// Forced is set when MaxUtterance cut the utterance before the pause ended.
	Forced bool
}

// Duration returns the length of the accumulated audio.
func (u *Utterance) Duration() time.Duration {
	if u.SampleRate == 0 {
		return 0
	}
	return time.Duration(len(u.Samples)) * time.Second / time.Duration(u.SampleRate)
}

// Float32 returns the samples scaled into [-1, 1) for speech-to-text.
func (u *Utterance) Float32() []float32 {
	return audioio.ToFloat32(u.Samples)
}
