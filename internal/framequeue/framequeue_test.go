package framequeue

import (
	"errors"
	"testing"
	"time"

	"github.com/kino-av/kino/media"
)

func frameAt(pts time.Duration) *media.Frame {
	return &media.Frame{PTS: pts, Width: 16, Height: 16}
}

func TestQueue_PopsInPTSOrder(t *testing.T) {
	t.Parallel()
	q := New(8)

	// Decode order with B-frame style reordering.
	for _, ms := range []int{0, 100, 33, 66, 133} {
		if err := q.Push(frameAt(time.Duration(ms) * time.Millisecond)); err != nil {
			t.Fatal(err)
		}
	}

	var prev time.Duration = -1
	for {
		f, ok := q.Pop()
		if !ok {
			break
		}
		if f.PTS <= prev {
			t.Errorf("PTS %v after %v, want strictly increasing", f.PTS, prev)
		}
		prev = f.PTS
	}
	if prev != 133*time.Millisecond {
		t.Errorf("last PTS = %v, want 133ms", prev)
	}
}

func TestQueue_FullRejectsWithoutCorruption(t *testing.T) {
	t.Parallel()
	q := New(4)
	for i := 0; i < 4; i++ {
		if err := q.Push(frameAt(time.Duration(i) * time.Millisecond)); err != nil {
			t.Fatal(err)
		}
	}

	err := q.Push(frameAt(99 * time.Millisecond))
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	if q.Len() != 4 {
		t.Errorf("Len = %d, want 4 after rejected push", q.Len())
	}

	// Buffered frames are intact and ordered.
	for i := 0; i < 4; i++ {
		f, ok := q.Pop()
		if !ok {
			t.Fatal("missing frame")
		}
		if want := time.Duration(i) * time.Millisecond; f.PTS != want {
			t.Errorf("PTS = %v, want %v", f.PTS, want)
		}
	}

	// Rejected push then drain then push again works.
	if err := q.Push(frameAt(99 * time.Millisecond)); err != nil {
		t.Fatal(err)
	}
}

func TestQueue_Peek(t *testing.T) {
	t.Parallel()
	q := New(4)
	if _, ok := q.Peek(); ok {
		t.Error("Peek on empty queue should report not ok")
	}
	q.Push(frameAt(50 * time.Millisecond))
	q.Push(frameAt(20 * time.Millisecond))

	pts, ok := q.Peek()
	if !ok || pts != 20*time.Millisecond {
		t.Errorf("Peek = %v,%v, want 20ms,true", pts, ok)
	}
	if q.Len() != 2 {
		t.Errorf("Peek must not consume, Len = %d", q.Len())
	}
}

func TestQueue_Flush(t *testing.T) {
	t.Parallel()
	q := New(8)
	for i := 0; i < 5; i++ {
		q.Push(frameAt(time.Duration(i) * time.Millisecond))
	}
	if n := q.Flush(); n != 5 {
		t.Errorf("Flush = %d, want 5", n)
	}
	if q.Len() != 0 {
		t.Errorf("Len = %d after flush, want 0", q.Len())
	}
	if _, ok := q.Pop(); ok {
		t.Error("Pop after flush should be empty")
	}
}

func TestQueue_Stats(t *testing.T) {
	t.Parallel()
	q := New(4)
	for i := 0; i < 3; i++ {
		q.Push(frameAt(time.Duration(i) * time.Millisecond))
	}
	q.Pop()
	q.Flush()

	s := q.Stats()
	if s.Pushed != 3 {
		t.Errorf("Pushed = %d, want 3", s.Pushed)
	}
	if s.Popped != 1 {
		t.Errorf("Popped = %d, want 1", s.Popped)
	}
	if s.Flushed != 2 {
		t.Errorf("Flushed = %d, want 2", s.Flushed)
	}
	if s.HighWater != 3 {
		t.Errorf("HighWater = %d, want 3", s.HighWater)
	}
}

func TestQueue_DefaultCapacity(t *testing.T) {
	t.Parallel()
	q := New(0)
	if q.Cap() != DefaultCapacity {
		t.Errorf("Cap = %d, want %d", q.Cap(), DefaultCapacity)
	}
}

func TestQueue_ConcurrentProducerConsumer(t *testing.T) {
	t.Parallel()
	q := New(8)
	const total = 500

	done := make(chan struct{})
	go func() {
		defer close(done)
		var prev time.Duration = -1
		got := 0
		for got < total {
			f, ok := q.Pop()
			if !ok {
				time.Sleep(time.Microsecond)
				continue
			}
			if f.PTS <= prev {
				t.Errorf("PTS %v after %v", f.PTS, prev)
				return
			}
			prev = f.PTS
			got++
		}
	}()

	for i := 0; i < total; {
		err := q.Push(frameAt(time.Duration(i) * time.Millisecond))
		if errors.Is(err, ErrQueueFull) {
			time.Sleep(time.Microsecond)
			continue
		}
		if err != nil {
			t.Fatal(err)
		}
		i++
	}
	<-done
}
