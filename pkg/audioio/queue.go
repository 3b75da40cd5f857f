package audioio

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrQueueClosed is returned by Pop once the queue is closed and empty.
var ErrQueueClosed = errors.New("audioio: frame queue closed")

// FrameQueue is a bounded FIFO between the capture callback and the
// segmentation loop. Push never blocks: when full, one frame is dropped
// according to the overflow policy and the drop counter is incremented.
type FrameQueue struct {
	mu     sync.Mutex
	buf    []Frame
	head   int
	size   int
	policy OverflowPolicy
	closed bool

	ready   chan struct{}
	dropped atomic.Int64
	pushed  atomic.Int64
}

// NewFrameQueue creates a queue holding at most capacity frames.
func NewFrameQueue(capacity int, policy OverflowPolicy) *FrameQueue {
	if capacity <= 0 {
		capacity = 1
	}
	if policy == "" {
		policy = DropOldest
	}
	return &FrameQueue{
		buf:    make([]Frame, capacity),
		policy: policy,
		ready:  make(chan struct{}, 1),
	}
}

// Push enqueues a frame. It reports whether a frame was dropped to make room
// (or, under DropNewest, whether f itself was discarded).
func (q *FrameQueue) Push(f Frame) (dropped bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return true
	}
	if q.size == len(q.buf) {
		dropped = true
		if q.policy == DropNewest {
			q.mu.Unlock()
			q.dropped.Add(1)
			return true
		}
		// Overwrite the oldest slot.
		q.buf[q.head] = Frame{}
		q.head = (q.head + 1) % len(q.buf)
		q.size--
	}
	q.buf[(q.head+q.size)%len(q.buf)] = f
	q.size++
	q.mu.Unlock()

	if dropped {
		q.dropped.Add(1)
	}
	q.pushed.Add(1)
	q.signal()
	return dropped
}

func (q *FrameQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// TryPop removes the oldest frame without blocking.
func (q *FrameQueue) TryPop() (Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return Frame{}, false
	}
	f := q.buf[q.head]
	q.buf[q.head] = Frame{}
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	return f, true
}

// Pop blocks until a frame is available, the context ends or the queue is
// closed and drained.
func (q *FrameQueue) Pop(ctx context.Context) (Frame, error) {
	for {
		if f, ok := q.TryPop(); ok {
			return f, nil
		}
		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return Frame{}, ErrQueueClosed
		}
		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-q.ready:
		}
	}
}

// Ready fires after a push. A single signal may cover several frames,
// so consumers should drain with TryPop.
func (q *FrameQueue) Ready() <-chan struct{} {
	return q.ready
}

// Drain discards every queued frame and returns how many were removed.
func (q *FrameQueue) Drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.size
	for i := range q.buf {
		q.buf[i] = Frame{}
	}
	q.head, q.size = 0, 0
	return n
}

// Len returns the number of queued frames.
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap returns the queue capacity.
func (q *FrameQueue) Cap() int {
	return len(q.buf)
}

// Dropped returns the number of frames lost to overflow.
func (q *FrameQueue) Dropped() int64 {
	return q.dropped.Load()
}

// Pushed returns the number of frames accepted.
func (q *FrameQueue) Pushed() int64 {
	return q.pushed.Load()
}

// Close stops accepting frames and wakes blocked consumers.
func (q *FrameQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}
