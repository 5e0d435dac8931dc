package tasks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSubmitRunsTask(t *testing.T) {
	var mu sync.Mutex
	var results []error

	q := New(Config{OnResult: func(id, name string, err error) {
		mu.Lock()
		results = append(results, err)
		mu.Unlock()
	}})

	ran := make(chan struct{})
	id, ok := q.Submit("ok", func(ctx context.Context) error {
		close(ran)
		return nil
	})
	if !ok || id == "" {
		t.Fatalf("Submit failed: id=%q ok=%v", id, ok)
	}

	q.Submit("bad", func(ctx context.Context) error {
		return errors.New("boom")
	})

	if err := q.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case <-ran:
	default:
		t.Error("Task did not run")
	}

	stats := q.Stats()
	if stats.Submitted != 2 || stats.Completed != 1 || stats.Failed != 1 {
		t.Errorf("Unexpected stats %+v", stats)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(results) != 2 {
		t.Errorf("Expected 2 results, got %d", len(results))
	}
}

func TestSubmitDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	q := New(Config{Workers: 1, Buffer: 1})

	q.Submit("blocker", func(ctx context.Context) error {
		close(started)
		<-block
		return nil
	})
	<-started

	if _, ok := q.Submit("queued", func(ctx context.Context) error { return nil }); !ok {
		t.Fatal("Expected buffered submit to succeed")
	}

	done := make(chan bool)
	go func() {
		_, ok := q.Submit("overflow", func(ctx context.Context) error { return nil })
		done <- ok
	}()

	select {
	case ok := <-done:
		if ok {
			t.Error("Expected overflow submit to be dropped")
		}
	case <-time.After(time.Second):
		t.Fatal("Submit blocked on a full queue")
	}

	close(block)
	q.Close(context.Background())

	if q.Stats().Dropped != 1 {
		t.Errorf("Expected 1 dropped task, got %d", q.Stats().Dropped)
	}
}

func TestSubmitAfterClose(t *testing.T) {
	q := New(Config{})
	q.Close(context.Background())

	if _, ok := q.Submit("late", func(ctx context.Context) error { return nil }); ok {
		t.Error("Expected submit after close to fail")
	}

	// Closing twice is harmless
	if err := q.Close(context.Background()); err != nil {
		t.Errorf("Second close returned %v", err)
	}
}

func TestTaskTimeout(t *testing.T) {
	q := New(Config{Timeout: 20 * time.Millisecond})

	errCh := make(chan error, 1)
	q.Submit("slow", func(ctx context.Context) error {
		<-ctx.Done()
		errCh <- ctx.Err()
		return ctx.Err()
	})

	select {
	case err := <-errCh:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Expected deadline exceeded, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Task was not cancelled by its timeout")
	}

	q.Close(context.Background())
}
