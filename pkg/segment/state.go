// Package segment turns a stream of classified audio frames into discrete
// utterances, using trailing silence to decide where a turn ends.
package segment

// State is the segmentation engine state.
type State int32

const (
	// Idle means recording is off. Frames are ignored.
	Idle State = iota
	// Listening means recording is on and no speech has been seen since the last reset.
	Listening
	// Speaking means speech frames are being accumulated.
	Speaking
	// TrailingSilence means speech was seen and the pause timer is running.
	TrailingSilence
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Speaking:
		return "speaking"
	case TrailingSilence:
		return "trailing_silence"
	default:
		return "unknown"
	}
}

// MarshalText lets State appear as a string in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// DiscardReason says why an in-flight utterance was dropped without an event.
type DiscardReason int

const (
	NotDiscarded DiscardReason = iota
	// DiscardTooShort: fewer speech frames than MinSpeechChunks at timeout.
	DiscardTooShort
	// DiscardStopped: recording was disabled mid-utterance.
	DiscardStopped
	// DiscardReset: the caller reset the engine while an utterance was open.
	DiscardReset
)

func (r DiscardReason) String() string {
	switch r {
	case NotDiscarded:
		return "none"
	case DiscardTooShort:
		return "too_short"
	case DiscardStopped:
		return "stopped"
	case DiscardReset:
		return "reset"
	default:
		return "unknown"
	}
}
