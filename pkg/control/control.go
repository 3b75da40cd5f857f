// Package control delivers discrete user triggers (toggle capture, stop
// playback, quit) from the keyboard or any other front end.
package control

import (
	"sync"
)

// Trigger is one discrete user action.
type Trigger int

const (
	ToggleRecording Trigger = iota + 1
	StopPlayback
	Quit
)

func (t Trigger) String() string {
	switch t {
	case ToggleRecording:
		return "toggle_recording"
	case StopPlayback:
		return "stop_playback"
	case Quit:
		return "quit"
	default:
		return "unknown"
	}
}

// Source produces triggers until closed. The channel is closed after Close.
type Source interface {
	Triggers() <-chan Trigger
	Close() error
}

// Channel is an in-process Source, used by the web API and tests.
type Channel struct {
	ch     chan Trigger
	mu     sync.Mutex
	closed bool
}

// NewChannel creates a Source with the given buffer.
func NewChannel(buffer int) *Channel {
	return &Channel{ch: make(chan Trigger, buffer)}
}

// Send delivers t without blocking and reports whether it was accepted.
func (c *Channel) Send(t Trigger) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.ch <- t:
		return true
	default:
		return false
	}
}

// Triggers returns the trigger stream.
func (c *Channel) Triggers() <-chan Trigger {
	return c.ch
}

// Close stops the source.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
	return nil
}

// merged fans several sources into one.
type merged struct {
	sources []Source
	out     chan Trigger
	wg      sync.WaitGroup
}

// Merge combines sources; the result closes once every input has closed.
// Closing the result closes every input.
func Merge(sources ...Source) Source {
	m := &merged{sources: sources, out: make(chan Trigger, len(sources))}
	for _, s := range sources {
		m.wg.Add(1)
		go func(s Source) {
			defer m.wg.Done()
			for t := range s.Triggers() {
				m.out <- t
			}
		}(s)
	}
	go func() {
		m.wg.Wait()
		close(m.out)
	}()
	return m
}

func (m *merged) Triggers() <-chan Trigger {
	return m.out
}

func (m *merged) Close() error {
	var firstErr error
	for _, s := range m.sources {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var (
	_ Source = (*Channel)(nil)
	_ Source = (*merged)(nil)
)
