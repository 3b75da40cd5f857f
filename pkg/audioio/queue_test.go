package audioio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func seqFrame(seq uint64) Frame {
	return Frame{Samples: []int16{int16(seq)}, SampleRate: 16000, Seq: seq}
}

func TestFrameQueue_FIFO(t *testing.T) {
	q := NewFrameQueue(4, DropOldest)
	for i := uint64(1); i <= 3; i++ {
		if q.Push(seqFrame(i)) {
			t.Fatalf("unexpected drop at %d", i)
		}
	}
	for i := uint64(1); i <= 3; i++ {
		f, ok := q.TryPop()
		if !ok || f.Seq != i {
			t.Fatalf("pop %d: got seq %d ok=%v", i, f.Seq, ok)
		}
	}
	if _, ok := q.TryPop(); ok {
		t.Error("expected empty queue")
	}
}

func TestFrameQueue_DropOldest(t *testing.T) {
	q := NewFrameQueue(3, DropOldest)
	for i := uint64(1); i <= 5; i++ {
		q.Push(seqFrame(i))
	}

	if q.Dropped() != 2 {
		t.Errorf("expected 2 drops, got %d", q.Dropped())
	}
	if q.Len() != 3 {
		t.Fatalf("expected 3 queued, got %d", q.Len())
	}
	for _, want := range []uint64{3, 4, 5} {
		f, _ := q.TryPop()
		if f.Seq != want {
			t.Errorf("expected seq %d, got %d", want, f.Seq)
		}
	}
}

func TestFrameQueue_DropNewest(t *testing.T) {
	q := NewFrameQueue(3, DropNewest)
	for i := uint64(1); i <= 5; i++ {
		dropped := q.Push(seqFrame(i))
		if dropped != (i > 3) {
			t.Errorf("push %d: dropped=%v", i, dropped)
		}
	}

	if q.Dropped() != 2 {
		t.Errorf("expected 2 drops, got %d", q.Dropped())
	}
	for _, want := range []uint64{1, 2, 3} {
		f, _ := q.TryPop()
		if f.Seq != want {
			t.Errorf("expected seq %d, got %d", want, f.Seq)
		}
	}
}

func TestFrameQueue_PushNeverBlocks(t *testing.T) {
	q := NewFrameQueue(1, DropOldest)
	done := make(chan struct{})
	go func() {
		for i := uint64(0); i < 10000; i++ {
			q.Push(seqFrame(i))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("producer blocked on a full queue")
	}
	if q.Dropped() != 9999 {
		t.Errorf("expected 9999 drops, got %d", q.Dropped())
	}
}

func TestFrameQueue_PopWaits(t *testing.T) {
	q := NewFrameQueue(4, DropOldest)
	go func() {
		time.Sleep(20 * time.Millisecond)
		q.Push(seqFrame(7))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	f, err := q.Pop(ctx)
	if err != nil {
		t.Fatalf("Pop failed: %v", err)
	}
	if f.Seq != 7 {
		t.Errorf("expected seq 7, got %d", f.Seq)
	}
}

func TestFrameQueue_PopContext(t *testing.T) {
	q := NewFrameQueue(4, DropOldest)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := q.Pop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestFrameQueue_Close(t *testing.T) {
	q := NewFrameQueue(4, DropOldest)
	q.Push(seqFrame(1))
	q.Close()

	if !q.Push(seqFrame(2)) {
		t.Error("push after close should report a drop")
	}

	ctx := context.Background()
	if f, err := q.Pop(ctx); err != nil || f.Seq != 1 {
		t.Fatalf("expected queued frame before close error, got %v %v", f.Seq, err)
	}
	if _, err := q.Pop(ctx); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("expected ErrQueueClosed, got %v", err)
	}
}

func TestFrameQueue_Drain(t *testing.T) {
	q := NewFrameQueue(4, DropOldest)
	q.Push(seqFrame(1))
	q.Push(seqFrame(2))

	if n := q.Drain(); n != 2 {
		t.Errorf("expected 2 drained, got %d", n)
	}
	if q.Len() != 0 {
		t.Errorf("expected empty queue after drain")
	}
	q.Push(seqFrame(3))
	if f, _ := q.TryPop(); f.Seq != 3 {
		t.Errorf("expected seq 3 after drain, got %d", f.Seq)
	}
}

func TestFrameQueue_ConcurrentOrder(t *testing.T) {
	q := NewFrameQueue(64, DropNewest)
	const n = 5000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := uint64(1); i <= n; i++ {
			for q.Push(seqFrame(i)) {
				// DropNewest rejected it; retry once there is room.
				time.Sleep(time.Microsecond)
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var last uint64
	for i := 0; i < n; i++ {
		f, err := q.Pop(ctx)
		if err != nil {
			t.Fatalf("Pop failed after %d frames: %v", i, err)
		}
		if f.Seq != last+1 {
			t.Fatalf("out of order: got %d after %d", f.Seq, last)
		}
		last = f.Seq
	}
	wg.Wait()
}
