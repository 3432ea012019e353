package voice

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/voicestream/voicestream/audio"
	"github.com/voicestream/voicestream/internal/lazytime"
	"github.com/voicestream/voicestream/voice/ogg"
	"github.com/voicestream/voicestream/voice/voicegateway"
)

const (
	// FrameDuration is the length of one Opus frame.
	FrameDuration = 20 * time.Millisecond
	// SampleRate is the Opus sample rate.
	SampleRate = 48000
	// FrameSamples is how far the RTP timestamp advances per frame.
	FrameSamples = SampleRate * int(FrameDuration/time.Millisecond) / 1000
)

// Silence is the Opus frame sent when playback is stopped, so the receiving
// side does not keep interpolating the last frame.
var Silence = []byte{0xF8, 0xFF, 0xFE}

var (
	// ErrAlreadyPlaying is returned by Play while another source is playing.
	ErrAlreadyPlaying = errors.New("already playing")
	// ErrPauseUnsupported is returned by Pause and Resume. Resuming a paused
	// stream would need the pacing anchor and the RTP clock to be rebased,
	// which is not done.
	ErrPauseUnsupported = errors.New("pausing playback is not supported")
)

// PlaybackState is the state of the playback task.
type PlaybackState uint32

const (
	Stopped PlaybackState = iota
	Playing
	Paused
)

func (s PlaybackState) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

type player struct {
	mu    sync.Mutex
	state PlaybackState
	// current is the last started episode. It is kept after the episode ends
	// so WaitPlayback can report its result.
	current *episode

	// The RTP clock is only advanced by the playback task. It carries over
	// between episodes of the same session.
	seq uint16
	ts  uint32
}

type episode struct {
	id   uuid.UUID
	src  audio.Source
	high bool

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	err      error
}

func (ep *episode) signal() {
	ep.stopOnce.Do(func() { close(ep.stop) })
}

func (ep *episode) stopped() bool {
	select {
	case <-ep.stop:
		return true
	default:
		return false
	}
}

// PlaybackState returns the current playback state.
func (s *Session) PlaybackState() PlaybackState {
	s.player.mu.Lock()
	defer s.player.mu.Unlock()
	return s.player.state
}

// Play starts streaming the Ogg/Opus source in the background. It returns
// ErrAlreadyPlaying if another source is still playing. Frames are only sent
// while the session is Ready; playback waits for readiness otherwise.
func (s *Session) Play(src audio.Source, highPriority bool) error {
	s.player.mu.Lock()
	defer s.player.mu.Unlock()

	if s.player.state != Stopped {
		return ErrAlreadyPlaying
	}
	if s.State() == Closed {
		return ErrClosed
	}

	ep := &episode{
		id:   uuid.New(),
		src:  src,
		high: highPriority,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	s.player.state = Playing
	s.player.current = ep

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.playback(ep)
	}()

	return nil
}

// Stop stops the current playback, if any, and waits for it to end. The
// playback sends one frame of silence before it exits. Stop always leaves the
// player Stopped.
func (s *Session) Stop() error {
	s.player.mu.Lock()
	ep := s.player.current
	s.player.mu.Unlock()

	if ep == nil {
		return nil
	}

	ep.signal()
	// Unblock a read stuck on the source. Cleanup runs once.
	if err := ep.src.Cleanup(); err != nil {
		s.log().Debugw("failed to clean up audio source", "episode", ep.id, "err", err)
	}
	<-ep.done

	return nil
}

// Pause is not supported.
func (s *Session) Pause() error { return ErrPauseUnsupported }

// Resume is not supported.
func (s *Session) Resume() error { return ErrPauseUnsupported }

// WaitPlayback waits for the current or last playback to end. It returns nil
// if the source ended or was stopped, and a *PlaybackError otherwise.
func (s *Session) WaitPlayback(ctx context.Context) error {
	s.player.mu.Lock()
	ep := s.player.current
	s.player.mu.Unlock()

	if ep == nil {
		return nil
	}

	select {
	case <-ep.done:
		return ep.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Speaking turns the speaking indicator on. highPriority also sets the
// priority flag, which lowers the volume of other speakers.
func (s *Session) Speaking(ctx context.Context, highPriority bool) error {
	flag := voicegateway.Microphone
	if highPriority {
		flag |= voicegateway.Priority
	}
	return s.speaking(ctx, flag)
}

// StopSpeaking turns the speaking indicator off.
func (s *Session) StopSpeaking(ctx context.Context) error {
	return s.speaking(ctx, voicegateway.NotSpeaking)
}

func (s *Session) speaking(ctx context.Context, flag voicegateway.SpeakingFlag) error {
	return s.sendControl(ctx, &voicegateway.SpeakingCommand{
		Speaking: flag,
		SSRC:     s.SSRC(),
	})
}

// nextFrame advances the RTP clock.
func (s *Session) nextFrame() (uint16, uint32) {
	s.player.mu.Lock()
	defer s.player.mu.Unlock()

	s.player.seq++
	s.player.ts += uint32(FrameSamples)
	return s.player.seq, s.player.ts
}

func (s *Session) playback(ep *episode) {
	log := s.log().With("episode", ep.id)
	log.Debugw("playback started", "priority", ep.high)

	err := s.stream(ep, log)

	if cerr := ep.src.Cleanup(); cerr != nil {
		log.Debugw("failed to clean up audio source", "err", cerr)
	}

	if err != nil {
		err = &PlaybackError{Episode: ep.id, Err: err}
		log.Errorw("playback failed", "err", err)
	}

	s.player.mu.Lock()
	ep.err = err
	if s.player.current == ep {
		s.player.state = Stopped
	}
	s.player.mu.Unlock()

	close(ep.done)

	if err != nil {
		s.handlers.Dispatch(err.(*PlaybackError))
	}

	log.Debug("playback ended")
}

// stream runs the pacing loop. A nil error means the source ended or the
// playback was stopped.
func (s *Session) stream(ep *episode, log *zap.SugaredLogger) error {
	if err := s.awaitReady(ep); err != nil {
		return ignoreStop(ep, err)
	}
	s.announce(ep, log)

	demuxer := ogg.NewDemuxer(ep.src.IO())

	var timer lazytime.Timer
	defer timer.Stop()

	start := time.Now()
	sent := 0

	for {
		if ep.stopped() {
			s.sendSilence(log)
			return nil
		}

		packet, err := demuxer.Next()
		if err != nil {
			if ep.stopped() {
				s.sendSilence(log)
				return nil
			}

			switch {
			case errors.Is(err, io.EOF):
			case errors.Is(err, ogg.ErrTruncated) && sent > 0:
				log.Debugw("audio source ended without end of stream", "frames", sent)
			default:
				return errors.Wrap(err, "failed to read audio")
			}

			if err := s.StopSpeaking(s.ctx); err != nil {
				log.Debugw("failed to clear speaking indicator", "err", err)
			}
			return nil
		}

		if ogg.IsOpusHeader(packet) {
			continue
		}

		// The packet is held until a transport takes it.
		conn, ok := s.transport()
		for !ok {
			log.Debugw("waiting for voice connection", "frames", sent)

			if err := s.awaitReady(ep); err != nil {
				return ignoreStop(ep, err)
			}
			// The transport may have been re-identified, which drops the
			// speaking state.
			s.announce(ep, log)

			// Move the schedule so the frames missed while waiting are not
			// burst out.
			start = time.Now().Add(-FrameDuration * time.Duration(sent))

			conn, ok = s.transport()
		}

		seq, ts := s.nextFrame()

		if err := conn.WriteFrame(seq, ts, packet); err != nil {
			if ep.stopped() {
				return nil
			}
			if s.State() != Ready {
				// The transport was replaced under us. The frame is lost,
				// but the session will come back.
				continue
			}
			return err
		}

		sent++

		// Frame i+1 is due at start + (i+1) frames, whatever the loop cost.
		next := start.Add(FrameDuration * time.Duration(sent))
		if time.Now().Before(next) {
			timer.ResetAt(next)

			select {
			case <-timer.C:
			case <-ep.stop:
			case <-s.ctx.Done():
				return ignoreStop(ep, ErrClosed)
			}
		}
	}
}

// awaitReady blocks until the session is Ready or the episode is stopped.
func (s *Session) awaitReady(ep *episode) error {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	stop := make(chan struct{})
	defer close(stop)

	go func() {
		select {
		case <-ep.stop:
			cancel()
		case <-stop:
		}
	}()

	if err := s.WaitReady(ctx); err != nil {
		if ep.stopped() {
			return errStopped
		}
		if s.ctx.Err() != nil {
			return ErrClosed
		}
		return err
	}
	return nil
}

var errStopped = errors.New("playback stopped")

func ignoreStop(ep *episode, err error) error {
	if errors.Is(err, errStopped) || ep.stopped() {
		return nil
	}
	return err
}

func (s *Session) announce(ep *episode, log *zap.SugaredLogger) {
	if err := s.Speaking(s.ctx, ep.high); err != nil {
		log.Warnw("failed to set speaking indicator", "err", err)
	}
}

// sendSilence sends one silence frame with the next RTP clock values.
func (s *Session) sendSilence(log *zap.SugaredLogger) {
	conn, ok := s.transport()
	if !ok {
		return
	}

	seq, ts := s.nextFrame()
	if err := conn.WriteFrame(seq, ts, Silence); err != nil {
		log.Debugw("failed to send silence", "err", err)
	}
}
