// Package heart implements the keepalive pacemaker used by the voice gateway.
package heart

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/voicestream/voicestream/internal/lazytime"
	"github.com/voicestream/voicestream/internal/logging"
)

// ErrDead is returned by Run once more than two heartrates have passed since
// the last echoed beat.
var ErrDead = errors.New("no heartbeat replied")

// HeartrateFor returns the pacing period for the server-announced heartbeat
// interval. Beats are sent at 90% of the interval so that network jitter never
// pushes one past the server's deadline.
func HeartrateFor(interval time.Duration) time.Duration {
	return interval * 9 / 10
}

type Pacemaker struct {
	// Heartrate is the duration between two sent heartbeats.
	Heartrate time.Duration

	SentBeat atomic.Time
	EchoBeat atomic.Time

	// Pacer sends a single heartbeat. Any returned error stops the pacemaker.
	Pacer func(context.Context) error

	ticker lazytime.Ticker
}

// NewPacemaker creates a pacemaker for the given server heartbeat interval.
func NewPacemaker(interval time.Duration, pacer func(context.Context) error) *Pacemaker {
	return &Pacemaker{
		Heartrate: HeartrateFor(interval),
		Pacer:     pacer,
	}
}

// Echo records an acknowledged heartbeat.
func (p *Pacemaker) Echo() {
	p.EchoBeat.Store(time.Now())
}

// Dead, if true, will have Pace return an ErrDead.
func (p *Pacemaker) Dead() bool {
	var (
		echo = p.EchoBeat.Load()
		sent = p.SentBeat.Load()
	)

	if echo.IsZero() || sent.IsZero() {
		return false
	}

	return sent.Sub(echo) > p.Heartrate*2
}

// Pace sends a heartbeat with the heartrate as its timeout.
func (p *Pacemaker) Pace(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.Heartrate)
	defer cancel()

	if err := p.Pacer(ctx); err != nil {
		return errors.Wrap(err, "failed to pace")
	}

	p.SentBeat.Store(time.Now())

	if p.Dead() {
		return ErrDead
	}

	return nil
}

// Run sends a heartbeat every Heartrate until ctx is cancelled, the pacer
// fails or the pacemaker dies. The first beat is sent one period after Run is
// called. A cancelled context is not an error.
func (p *Pacemaker) Run(ctx context.Context) error {
	if p.Heartrate <= 0 {
		return errors.New("heart: non-positive heartrate")
	}

	p.ticker.Reset(p.Heartrate)
	defer p.ticker.Stop()

	// Echo at least once.
	p.Echo()

	log := logging.Named("heart")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.ticker.C:
		}

		if err := p.Pace(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Debugw("pacemaker stopped", "err", err)
			return err
		}
	}
}
