package vad

import (
	"fmt"
	"math"

	"github.com/teslashibe/go-voiceloop/pkg/audioio"
)

// Per-sensitivity limits. Level is frame RMS in dBFS; frames below it are
// silence. Broadband hiss crosses zero far more often than voiced speech, so
// the stricter levels also cap the zero-crossing rate.
var energyProfiles = [...]struct {
	minDBFS float64
	maxZCR  float64
}{
	SensitivityPermissive: {minDBFS: -50, maxZCR: 1},
	SensitivityLow:        {minDBFS: -45, maxZCR: 1},
	SensitivityHigh:       {minDBFS: -40, maxZCR: 0.6},
	SensitivityStrict:     {minDBFS: -35, maxZCR: 0.45},
}

// Energy is an RMS-energy classifier with a zero-crossing-rate guard.
type Energy struct {
	sensitivity Sensitivity
	sampleRate  int
	minDBFS     float64
	maxZCR      float64
}

// EnergyOption configures an Energy classifier.
type EnergyOption func(*Energy)

// WithSampleRate rejects frames at any other rate as malformed.
func WithSampleRate(hz int) EnergyOption {
	return func(e *Energy) { e.sampleRate = hz }
}

// WithThreshold overrides the dBFS level for the chosen sensitivity.
func WithThreshold(dbfs float64) EnergyOption {
	return func(e *Energy) { e.minDBFS = dbfs }
}

// NewEnergy returns an energy classifier for the given sensitivity (0-3).
func NewEnergy(s Sensitivity, opts ...EnergyOption) (*Energy, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("vad: sensitivity must be 0-3, got %d", s)
	}
	p := energyProfiles[s]
	e := &Energy{
		sensitivity: s,
		minDBFS:     p.minDBFS,
		maxZCR:      p.maxZCR,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Classify reports whether frame looks like speech.
func (e *Energy) Classify(frame audioio.Frame) (bool, error) {
	if err := CheckFrame(frame, e.sampleRate); err != nil {
		return false, err
	}
	if DBFS(audioio.RMS(frame.Samples)) < e.minDBFS {
		return false, nil
	}
	return audioio.ZeroCrossingRate(frame.Samples) <= e.maxZCR, nil
}

// Sensitivity returns the configured level.
func (e *Energy) Sensitivity() Sensitivity {
	return e.sensitivity
}

// DBFS converts a normalized RMS amplitude to decibels relative to full scale.
func DBFS(rms float64) float64 {
	if rms <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(rms)
}

var _ Classifier = (*Energy)(nil)
