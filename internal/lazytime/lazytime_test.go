package lazytime

import (
	"context"
	"testing"
	"time"
)

func TestTimerResetAt(t *testing.T) {
	var timer Timer
	defer timer.Stop()

	start := time.Now()
	timer.ResetAt(start.Add(30 * time.Millisecond))

	if err := timer.Wait(context.Background()); err != nil {
		t.Fatal("unexpected error:", err)
	}

	if since := time.Since(start); since < 30*time.Millisecond {
		t.Fatal("woke up too early after", since)
	}

	// A time in the past fires right away.
	past := time.Now()
	timer.ResetAt(past.Add(-time.Second))

	if err := timer.Wait(context.Background()); err != nil {
		t.Fatal("unexpected error:", err)
	}
	if since := time.Since(past); since > 50*time.Millisecond {
		t.Fatal("blocked on a past deadline for", since)
	}
}

func TestTimerWaitCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var timer Timer
	timer.Reset(time.Hour)
	defer timer.Stop()

	if err := timer.Wait(ctx); err != context.Canceled {
		t.Fatal("expected context.Canceled, got", err)
	}
}
