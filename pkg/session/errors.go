package session

import (
	"errors"
	"fmt"
)

// Failure classes. None of them stops the loop; each ends the current turn
// (or, for overflow and classification, is only counted).
var (
	ErrClassificationFailure    = errors.New("session: classification failure")
	ErrTranscriptionFailed      = errors.New("session: transcription failed")
	ErrResponseGenerationFailed = errors.New("session: response generation failed")
	ErrSpeechOutputFailed       = errors.New("session: speech output failed")
	ErrBufferOverflow           = errors.New("session: frame buffer overflow")

	// ErrAlreadyRunning is returned by a second concurrent Run.
	ErrAlreadyRunning = errors.New("session: already running")
)

// Stage names a step of the voice loop.
type Stage string

const (
	StageCapture    Stage = "capture"
	StageClassify   Stage = "classify"
	StageTranscribe Stage = "transcribe"
	StageRespond    Stage = "respond"
	StageSpeak      Stage = "speak"
)

func (s Stage) sentinel() error {
	switch s {
	case StageCapture:
		return ErrBufferOverflow
	case StageClassify:
		return ErrClassificationFailure
	case StageTranscribe:
		return ErrTranscriptionFailed
	case StageRespond:
		return ErrResponseGenerationFailed
	case StageSpeak:
		return ErrSpeechOutputFailed
	default:
		return nil
	}
}

// StageError is a recoverable failure tied to one stage and, when known,
// one utterance. errors.Is matches both the stage sentinel and the cause.
type StageError struct {
	Stage       Stage
	UtteranceID string
	Err         error
}

func (e *StageError) Error() string {
	if e.UtteranceID != "" {
		return fmt.Sprintf("session: %s [%s]: %v", e.Stage, e.UtteranceID, e.Err)
	}
	return fmt.Sprintf("session: %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the failing stage.
func (e *StageError) Is(target error) bool {
	s := e.Stage.sentinel()
	return s != nil && target == s
}

// StageOf returns the stage of the first StageError in err's chain.
func StageOf(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
