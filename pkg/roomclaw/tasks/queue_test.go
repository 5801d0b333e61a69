package tasks

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestQueueRunsTasks(t *testing.T) {
	q := NewQueue(2, 16, testLogger())

	var mu sync.Mutex
	done := 0
	for i := 0; i < 10; i++ {
		err := q.Submit("work", func(ctx context.Context) error {
			mu.Lock()
			done++
			mu.Unlock()
			return nil
		})
		if err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}
	q.Close()

	if done != 10 {
		t.Errorf("completed %d tasks, want 10", done)
	}
	if q.Failures() != 0 {
		t.Errorf("failures = %d, want 0", q.Failures())
	}
}

func TestQueueBackpressure(t *testing.T) {
	q := NewQueue(1, 1, testLogger())
	defer q.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	// Occupy the single worker.
	_ = q.Submit("blocker", func(ctx context.Context) error {
		close(started)
		<-block
		return nil
	})
	<-started

	// Fill the buffer, then expect ErrQueueFull.
	_ = q.Submit("buffered", func(ctx context.Context) error { return nil })
	err := q.Submit("rejected", func(ctx context.Context) error { return nil })
	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
	if q.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", q.Dropped())
	}
	close(block)
}

func TestQueueFailuresCounted(t *testing.T) {
	q := NewQueue(1, 8, testLogger())
	_ = q.Submit("fails", func(ctx context.Context) error { return errors.New("boom") })
	_ = q.Submit("panics", func(ctx context.Context) error { panic("boom") })
	q.Close()
	if q.Failures() != 2 {
		t.Errorf("failures = %d, want 2", q.Failures())
	}
}

func TestQueueClosed(t *testing.T) {
	q := NewQueue(1, 8, testLogger())
	q.Close()
	if err := q.Submit("late", func(ctx context.Context) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	// Double close must be safe.
	q.Close()
}
