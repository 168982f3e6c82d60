package cart

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestQueue_SerializesOperations(t *testing.T) {
	q := NewQueue()
	defer q.Close()

	var mu sync.Mutex
	var running int
	var maxRunning int
	var order []int

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Do(context.Background(), func(context.Context) error {
				mu.Lock()
				running++
				if running > maxRunning {
					maxRunning = running
				}
				order = append(order, i)
				mu.Unlock()

				time.Sleep(5 * time.Millisecond)

				mu.Lock()
				running--
				mu.Unlock()
				return nil
			})
		}()
		time.Sleep(time.Millisecond) // bias submission order
	}
	wg.Wait()

	if maxRunning != 1 {
		t.Fatalf("operations overlapped: max concurrent = %d", maxRunning)
	}
	if len(order) != 8 {
		t.Fatalf("ran %d operations, want 8", len(order))
	}
}

func TestQueue_FailureDoesNotBlockNext(t *testing.T) {
	q := NewQueue()
	defer q.Close()

	boom := errors.New("boom")
	if err := q.Do(context.Background(), func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if err := q.Do(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("next op failed: %v", err)
	}
}

func TestQueue_ClosedQueueRejects(t *testing.T) {
	q := NewQueue()
	q.Close()

	err := q.Do(context.Background(), func(context.Context) error { return nil })
	if !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("err = %v, want ErrQueueClosed", err)
	}
}

func TestQueue_CanceledContextSkipsWork(t *testing.T) {
	q := NewQueue()
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	err := q.Do(ctx, func(context.Context) error { ran = true; return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	q.Close() // wait for the worker before reading ran
	if ran {
		t.Fatal("canceled operation still ran")
	}
}
