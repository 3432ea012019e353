package heart

import (
	"context"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
	"github.com/pkg/errors"
)

func TestHeartrateFor(t *testing.T) {
	assert.Equal(t, 36*time.Millisecond, HeartrateFor(40*time.Millisecond))
	assert.Equal(t, 12375*time.Millisecond, HeartrateFor(13750*time.Millisecond))
}

func TestPacemakerRun(t *testing.T) {
	beats := make(chan time.Time, 16)

	var p *Pacemaker
	p = NewPacemaker(50*time.Millisecond, func(context.Context) error {
		beats <- time.Now()
		p.Echo()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	start := time.Now()
	go func() { done <- p.Run(ctx) }()

	first := <-beats
	second := <-beats
	cancel()

	assert.NoError(t, <-done)

	if d := first.Sub(start); d < 40*time.Millisecond {
		t.Fatal("first beat sent too early:", d)
	}
	if d := second.Sub(first); d < 40*time.Millisecond || d > 200*time.Millisecond {
		t.Fatal("unexpected beat spacing:", d)
	}
}

func TestPacemakerDead(t *testing.T) {
	p := NewPacemaker(10*time.Millisecond, func(context.Context) error { return nil })

	err := p.Run(context.Background())
	assert.True(t, errors.Is(err, ErrDead), "expected ErrDead, got %v", err)
}

func TestPacemakerPacerError(t *testing.T) {
	failure := errors.New("send failed")
	p := NewPacemaker(10*time.Millisecond, func(context.Context) error { return failure })

	err := p.Run(context.Background())
	assert.True(t, errors.Is(err, failure), "expected pacer error, got %v", err)
}
