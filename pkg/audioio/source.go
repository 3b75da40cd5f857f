package audioio

import (
	"context"
	"io"
	"sync/atomic"
)

// Gate reports whether captured frames should be enqueued right now.
// Sources call it from the capture thread, so it must be cheap and
// non-blocking (an atomic load).
type Gate func() bool

// Open is a Gate that always admits frames.
func Open() bool { return true }

// Source captures audio from a microphone or other input device and pushes
// fixed-size frames into a FrameQueue.
type Source interface {
	// Start begins audio capture.
	// Frames are pushed to the queue given at construction while the gate is open.
	Start(ctx context.Context) error

	// Stop halts audio capture.
	// It is safe to call Stop multiple times.
	Stop() error

	// Config returns the current audio configuration.
	Config() Config

	// Stats returns capture counters.
	Stats() SourceStats

	// Name returns the backend name (e.g., "portaudio", "mock").
	Name() string

	// Close releases all resources.
	// After Close, the source cannot be restarted.
	io.Closer
}

// SourceStats contains statistics about the audio source.
type SourceStats struct {
	// FramesCaptured is the total number of frames produced by the device.
	FramesCaptured int64 `json:"frames_captured"`

	// FramesGated is the number of frames discarded because the gate was closed.
	FramesGated int64 `json:"frames_gated"`

	// Overruns is the number of frames lost to queue overflow.
	Overruns int64 `json:"overruns"`

	// Running indicates if the source is currently capturing.
	Running bool `json:"running"`

	// Backend is the name of the audio backend.
	Backend string `json:"backend"`
}

// pusher is the shared enqueue path for every source: gate check, push,
// counters. It never blocks the capture thread.
type pusher struct {
	queue *FrameQueue
	gate  Gate

	captured atomic.Int64
	gated    atomic.Int64
	overruns atomic.Int64
}

func newPusher(queue *FrameQueue, gate Gate) *pusher {
	if gate == nil {
		gate = Open
	}
	return &pusher{queue: queue, gate: gate}
}

func (p *pusher) push(f Frame) {
	p.captured.Add(1)
	if !p.gate() {
		p.gated.Add(1)
		return
	}
	if p.queue.Push(f) {
		p.overruns.Add(1)
	}
}

func (p *pusher) stats(backend string, running bool) SourceStats {
	return SourceStats{
		FramesCaptured: p.captured.Load(),
		FramesGated:    p.gated.Load(),
		Overruns:       p.overruns.Load(),
		Running:        running,
		Backend:        backend,
	}
}
