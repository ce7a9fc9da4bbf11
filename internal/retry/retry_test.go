package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fpang/text-extract-pipeline/internal/failure"
)

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), "upload", Policy{Attempts: 3}, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return failure.Transient("text/f1.txt", "upload failed", errors.New("503"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_Exhausted(t *testing.T) {
	calls := 0
	err := Do(context.Background(), "download", Policy{Attempts: 3}, func(ctx context.Context) error {
		calls++
		return failure.Transient("uploads/r1/f1_a.txt", "download failed", errors.New("reset"))
	})
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if !failure.IsTransient(err) {
		t.Errorf("expected transient error, got %v", err)
	}
}

func TestDo_PermanentNotRetried(t *testing.T) {
	calls := 0
	err := Do(context.Background(), "extract", Policy{Attempts: 5}, func(ctx context.Context) error {
		calls++
		return failure.New(failure.KindCorruptSource, "a.pdf", "bad signature")
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if failure.KindOf(err) != failure.KindCorruptSource {
		t.Errorf("err = %v", err)
	}
}

func TestDo_InternalFaultNotRetriedLocally(t *testing.T) {
	calls := 0
	_ = Do(context.Background(), "extract", Policy{Attempts: 3}, func(ctx context.Context) error {
		calls++
		return errors.New("nil pointer")
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_TimeoutIsTransient(t *testing.T) {
	calls := 0
	err := Do(context.Background(), "transcribe", Policy{Attempts: 2, Timeout: 10 * time.Millisecond}, func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	})
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if !failure.IsTransient(err) {
		t.Errorf("expected transient timeout, got %v", err)
	}
}

func TestDo_CancelledDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, "upload", Policy{Attempts: 3, Delay: time.Hour}, func(ctx context.Context) error {
			calls++
			return failure.Transient("x", "fail", nil)
		})
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !failure.IsTransient(err) {
			t.Errorf("expected transient error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
