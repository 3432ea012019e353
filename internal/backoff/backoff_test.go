package backoff

import (
	"context"
	"testing"
	"time"
)

func TestBackoffBounds(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, 2*time.Second)

	for i := 0; i < 20; i++ {
		d := b.Next()
		if d < 100*time.Millisecond || d > 2*time.Second {
			t.Fatalf("attempt %d: duration %v out of bounds", i, d)
		}
	}

	if b.Attempt() != 20 {
		t.Fatal("unexpected attempt count:", b.Attempt())
	}
}

func TestBackoffNoJitter(t *testing.T) {
	b := NewBackoff(100*time.Millisecond, time.Second)
	b.noJitter = true

	expect := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}

	for i, want := range expect {
		if got := b.Next(); got != want {
			t.Fatalf("attempt %d: expected %v, got %v", i, want, got)
		}
	}
}

func TestTimerWaitCancel(t *testing.T) {
	timer := NewTimer(time.Hour, 2*time.Hour)
	defer timer.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := timer.Wait(ctx); err != context.Canceled {
		t.Fatal("expected context.Canceled, got", err)
	}
}
