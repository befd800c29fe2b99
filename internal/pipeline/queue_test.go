package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestQueue_FIFO(t *testing.T) {
	t.Parallel()
	q := NewQueue[int]("test", nil)
	for i := range 100 {
		if err := q.Push(i); err != nil {
			t.Fatalf("Push(%d): %v", i, err)
		}
	}
	if q.Len() != 100 {
		t.Fatalf("Len = %d, want 100", q.Len())
	}
	for want := range 100 {
		got, err := q.Pop(context.Background())
		if err != nil {
			t.Fatalf("Pop: %v", err)
		}
		if got != want {
			t.Fatalf("Pop = %d, want %d", got, want)
		}
	}
	if q.Len() != 0 {
		t.Errorf("Len = %d after draining, want 0", q.Len())
	}
}

func TestQueue_PopBlocksUntilPush(t *testing.T) {
	t.Parallel()
	q := NewQueue[string]("test", nil)

	got := make(chan string, 1)
	go func() {
		v, err := q.Pop(context.Background())
		if err != nil {
			t.Errorf("Pop: %v", err)
		}
		got <- v
	}()

	select {
	case v := <-got:
		t.Fatalf("Pop returned %q before any push", v)
	case <-time.After(20 * time.Millisecond):
	}
	_ = q.Push("hello")
	select {
	case v := <-got:
		if v != "hello" {
			t.Errorf("Pop = %q, want hello", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake up after Push")
	}
}

func TestQueue_PopCancelled(t *testing.T) {
	t.Parallel()
	q := NewQueue[int]("test", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := q.Pop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
}

func TestQueue_CloseDrainsThenFails(t *testing.T) {
	t.Parallel()
	q := NewQueue[int]("test", nil)
	_ = q.Push(1)
	_ = q.Push(2)
	q.Close()
	q.Close()

	if err := q.Push(3); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Push after Close = %v, want ErrQueueClosed", err)
	}
	for _, want := range []int{1, 2} {
		got, err := q.Pop(context.Background())
		if err != nil || got != want {
			t.Fatalf("Pop = %d, %v; want %d", got, err, want)
		}
	}
	if _, err := q.Pop(context.Background()); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("Pop on closed empty queue = %v, want ErrQueueClosed", err)
	}
}

func TestQueue_CloseWakesWaiters(t *testing.T) {
	t.Parallel()
	q := NewQueue[int]("test", nil)

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := q.Pop(context.Background()); !errors.Is(err, ErrQueueClosed) {
				t.Errorf("Pop = %v, want ErrQueueClosed", err)
			}
		}()
	}
	time.Sleep(10 * time.Millisecond)
	q.Close()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiters were not woken by Close")
	}
}

func TestQueue_PopReleasesItem(t *testing.T) {
	t.Parallel()
	q := NewQueue[*int]("test", nil)
	v := 42
	_ = q.Push(&v)
	_ = q.Push(nil)

	backing := q.items[:1]
	if _, err := q.Pop(context.Background()); err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if backing[0] != nil {
		t.Error("queue still references a popped item")
	}
}

func TestQueue_ExactlyOnceUnderConcurrency(t *testing.T) {
	t.Parallel()
	const producers, perProducer = 4, 250
	q := NewQueue[int]("test", nil)

	var pwg sync.WaitGroup
	for p := range producers {
		pwg.Add(1)
		go func() {
			defer pwg.Done()
			for i := range perProducer {
				_ = q.Push(p*perProducer + i)
			}
		}()
	}

	var (
		mu   sync.Mutex
		seen = make(map[int]int)
		cwg  sync.WaitGroup
	)
	for range 2 {
		cwg.Add(1)
		go func() {
			defer cwg.Done()
			for {
				v, err := q.Pop(context.Background())
				if err != nil {
					return
				}
				mu.Lock()
				seen[v]++
				mu.Unlock()
			}
		}()
	}
	pwg.Wait()
	q.Close()
	cwg.Wait()

	if len(seen) != producers*perProducer {
		t.Fatalf("received %d distinct items, want %d", len(seen), producers*perProducer)
	}
	for v, n := range seen {
		if n != 1 {
			t.Fatalf("item %d received %d times", v, n)
		}
	}
}

func TestQueue_DepthMetric(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	q := NewQueue[int]("utterance", m)
	_ = q.Push(1)
	_ = q.Push(2)
	_, _ = q.Pop(context.Background())

	if got := sumValue(t, reader, "emmy.queue.depth", "queue", "utterance"); got != 1 {
		t.Errorf("queue depth = %d, want 1", got)
	}
}
