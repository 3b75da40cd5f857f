package session

import (
	"sync"
	"time"
)

// EventType identifies what an Event reports.
type EventType string

const (
	EventState      EventType = "state"      // segmentation state or flags changed
	EventTranscript EventType = "transcript" // accepted transcript, about to be answered
	EventReply      EventType = "reply"      // reply text, about to be spoken
	EventTurn       EventType = "turn"       // turn finished, Turn carries timings
	EventDiscarded  EventType = "discarded"  // utterance or transcript dropped without a reply
	EventDropped    EventType = "dropped"    // capture frames lost to overflow
	EventError      EventType = "error"      // recoverable stage failure
)

// Event is published to subscribers. Every event carries a snapshot of the
// session flags so a consumer never needs a separate status call.
type Event struct {
	Type       EventType `json:"type"`
	Time       time.Time `json:"time"`
	State      string    `json:"state"`
	Recording  bool      `json:"recording"`
	Suppressed bool      `json:"suppressed"`

	UtteranceID string       `json:"utterance_id,omitempty"`
	Text        string       `json:"text,omitempty"`
	Reason      string       `json:"reason,omitempty"`
	Stage       Stage        `json:"stage,omitempty"`
	Error       string       `json:"error,omitempty"`
	Count       int64        `json:"count,omitempty"`
	Turn        *TurnMetrics `json:"turn,omitempty"`
}

// broadcaster fans events out to subscribers. Slow subscribers lose events
// instead of stalling the frame loop.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	buf    int
}

func newBroadcaster(buf int) *broadcaster {
	if buf <= 0 {
		buf = 64
	}
	return &broadcaster{subs: make(map[int]chan Event), buf: buf}
}

func (b *broadcaster) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.buf)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
