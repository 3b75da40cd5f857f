// Package vad classifies single audio frames as speech or silence.
//
// Classifiers are stateless: the answer depends only on the frame and the
// fixed configuration. Callers treat any error as silence.
package vad

import (
	"errors"
	"fmt"

	"github.com/teslashibe/go-voiceloop/pkg/audioio"
)

// Sensitivity mirrors the WebRTC VAD aggressiveness knob.
// 0 lets the most frames through as speech, 3 is the strictest.
type Sensitivity int

const (
	SensitivityPermissive Sensitivity = 0
	SensitivityLow        Sensitivity = 1
	SensitivityHigh       Sensitivity = 2
	SensitivityStrict     Sensitivity = 3
)

// Valid reports whether s is in 0..3.
func (s Sensitivity) Valid() bool {
	return s >= SensitivityPermissive && s <= SensitivityStrict
}

var (
	// ErrMalformedFrame is returned for empty frames, unexpected sample rates
	// or lengths that are not 10, 20 or 30 ms.
	ErrMalformedFrame = errors.New("vad: malformed frame")

	// ErrClassifierPanic wraps a recovered panic from a classifier.
	ErrClassifierPanic = errors.New("vad: classifier panicked")
)

// Classifier decides whether one frame contains speech.
type Classifier interface {
	Classify(frame audioio.Frame) (bool, error)
}

// Func adapts a plain function to Classifier.
type Func func(frame audioio.Frame) (bool, error)

// Classify calls f.
func (f Func) Classify(frame audioio.Frame) (bool, error) {
	return f(frame)
}

// CheckFrame validates the shape of a frame. sampleRate of 0 accepts any rate.
func CheckFrame(frame audioio.Frame, sampleRate int) error {
	if len(frame.Samples) == 0 {
		return fmt.Errorf("%w: empty", ErrMalformedFrame)
	}
	if frame.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrMalformedFrame, frame.SampleRate)
	}
	if sampleRate > 0 && frame.SampleRate != sampleRate {
		return fmt.Errorf("%w: sample rate %d, want %d", ErrMalformedFrame, frame.SampleRate, sampleRate)
	}
	n := len(frame.Samples)
	for _, ms := range []int{10, 20, 30} {
		if n == frame.SampleRate*ms/1000 {
			return nil
		}
	}
	return fmt.Errorf("%w: %d samples at %d Hz", ErrMalformedFrame, n, frame.SampleRate)
}

// Safe wraps c so a panic inside Classify becomes ErrClassifierPanic.
func Safe(c Classifier) Classifier {
	return Func(func(frame audioio.Frame) (speech bool, err error) {
		defer func() {
			if r := recover(); r != nil {
				speech = false
				err = fmt.Errorf("%w: %v", ErrClassifierPanic, r)
			}
		}()
		return c.Classify(frame)
	})
}
