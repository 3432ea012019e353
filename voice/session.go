package voice

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/voicestream/voicestream/discord"
	"github.com/voicestream/voicestream/internal/backoff"
	"github.com/voicestream/voicestream/internal/logging"
	"github.com/voicestream/voicestream/internal/moreatomic"
	"github.com/voicestream/voicestream/utils/handler"
	"github.com/voicestream/voicestream/utils/ws"
	"github.com/voicestream/voicestream/voice/udp"
	"github.com/voicestream/voicestream/voice/voicegateway"
)

// HandshakeTimeout is the default bound on a connection attempt whose context
// has no deadline.
const HandshakeTimeout = 10 * time.Second

// Session is a single voice session that wraps around the voice gateway and UDP
// connection.
type Session struct {
	// DialUDP is the custom function for dialing up a UDP connection.
	DialUDP udp.DialFunc
	// HandshakeTimeout bounds Connect and every reconnect attempt.
	HandshakeTimeout time.Duration // 10s
	// ReconnectAttempts is the number of times the gateway is redialed
	// before the session gives up and closes.
	ReconnectAttempts int // 5
	// ReconnectDelay is the first backoff delay between reconnect attempts.
	// It doubles up to ReconnectMaxDelay.
	ReconnectDelay    time.Duration // 500ms
	ReconnectMaxDelay time.Duration // 10s

	handlers *handler.Handlers[ws.Event]
	guard    *moreatomic.GuildIDSet
	guildID  discord.GuildID
	userID   discord.UserID
	state    atomic.Uint32

	// ctx lives until Disconnect. Background work derives from it.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mut      sync.Mutex
	started  bool
	gwState  voicegateway.State
	gateway  *voicegateway.Gateway
	voiceUDP *udp.Connection
	joiner   Joiner
	// gen is bumped on every established connection so that events from a
	// replaced gateway are ignored.
	gen uint64
	// ready is closed once the session is Ready. A new one is made every
	// time the session leaves Ready.
	ready chan struct{}
	// closed is closed once the session is Closed.
	closed     chan struct{}
	closeErr   error
	terminated bool

	disconnect sync.Once

	player player
}

// NewSession creates a new voice session for the given guild and user. The
// session guards its reconnects with its own lock; use a Registry to share one
// lock between guilds.
func NewSession(guildID discord.GuildID, userID discord.UserID) *Session {
	return newSession(guildID, userID, moreatomic.NewGuildIDSet())
}

func newSession(guildID discord.GuildID, userID discord.UserID, guard *moreatomic.GuildIDSet) *Session {
	ctx, cancel := context.WithCancel(context.Background())

	return &Session{
		DialUDP:           udp.DialConnection,
		HandshakeTimeout:  HandshakeTimeout,
		ReconnectAttempts: 5,
		ReconnectDelay:    500 * time.Millisecond,
		ReconnectMaxDelay: 10 * time.Second,

		handlers: handler.New[ws.Event](),
		guard:    guard,
		guildID:  guildID,
		userID:   userID,
		ctx:      ctx,
		cancel:   cancel,
		ready:    make(chan struct{}),
		closed:   make(chan struct{}),
	}
}

// GuildID returns the guild this session streams to.
func (s *Session) GuildID() discord.GuildID { return s.guildID }

// Handlers returns the event handlers of this session. Gateway events,
// StateChangeEvent, ReconnectError and PlaybackError are dispatched to it.
func (s *Session) Handlers() handler.Handler[ws.Event] { return s.handlers }

// State returns the current connection state.
func (s *Session) State() ConnectionState {
	return ConnectionState(s.state.Load())
}

// SSRC returns the synchronization source of the current UDP connection, or 0
// if there is none.
func (s *Session) SSRC() uint32 {
	s.mut.Lock()
	defer s.mut.Unlock()

	if s.voiceUDP == nil {
		return 0
	}
	return s.voiceUDP.SSRC()
}

// Err returns the error that closed the session, if any.
func (s *Session) Err() error {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.closeErr
}

func (s *Session) log() *zap.SugaredLogger {
	return logging.Named("voice").With("guild", s.guildID)
}

// setState publishes a transition. Closed is never left.
func (s *Session) setState(to ConnectionState) {
	for {
		from := s.state.Load()
		if ConnectionState(from) == Closed || ConnectionState(from) == to {
			return
		}
		if s.state.CompareAndSwap(from, uint32(to)) {
			s.log().Debugw("voice state changed", "from", ConnectionState(from), "state", to)
			s.handlers.Dispatch(&StateChangeEvent{
				GuildID: s.guildID,
				Old:     ConnectionState(from),
				New:     to,
			})
			return
		}
	}
}

// WaitReady blocks until the session is Ready. It returns ErrClosed if the
// session closes first.
func (s *Session) WaitReady(ctx context.Context) error {
	s.mut.Lock()
	ready, closed := s.ready, s.closed
	s.mut.Unlock()

	select {
	case <-closed:
		return ErrClosed
	default:
	}

	select {
	case <-ready:
		// Both may be closed if the session closed while we waited.
		select {
		case <-closed:
			return ErrClosed
		default:
			return nil
		}
	case <-closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// JoinChannel asks the joiner to move into the channel and connects to the
// voice server it returns. The joiner is asked to leave on Disconnect.
func (s *Session) JoinChannel(ctx context.Context, j Joiner, channelID discord.ChannelID, mute, deaf bool) error {
	ctx, cancel := s.handshakeContext(ctx)
	defer cancel()

	state, err := j.Join(ctx, s.guildID, channelID, mute, deaf)
	if err != nil {
		return errors.Wrap(err, "failed to join voice channel")
	}

	s.mut.Lock()
	s.joiner = j
	s.mut.Unlock()

	if state.ChannelID == 0 {
		state.ChannelID = channelID
	}

	return s.Connect(ctx, state)
}

func (s *Session) handshakeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.HandshakeTimeout)
}

// Connect opens the voice gateway with the given state and blocks until the
// session is Ready. A Session can only be connected once.
func (s *Session) Connect(ctx context.Context, state voicegateway.State) error {
	if state.GuildID == 0 {
		state.GuildID = s.guildID
	}
	if state.UserID == 0 {
		state.UserID = s.userID
	}
	if state.GuildID != s.guildID {
		return errors.Errorf("state is for guild %v, session is for guild %v", state.GuildID, s.guildID)
	}

	s.mut.Lock()
	if s.started {
		s.mut.Unlock()
		if s.State() == Closed {
			return ErrClosed
		}
		return ErrAlreadyConnecting
	}
	s.started = true
	s.gwState = state
	s.gateway = voicegateway.New(state)
	s.mut.Unlock()

	ctx, cancel := s.handshakeContext(ctx)
	defer cancel()

	// Disconnect aborts the handshake.
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	if err := s.establish(ctx, false); err != nil {
		err = errors.Wrap(err, "failed to connect to voice")
		s.terminate(err)
		return err
	}

	return nil
}

// establish opens the gateway and runs the handshake to Ready. On success the
// event loop for the new connection is started.
func (s *Session) establish(ctx context.Context, resume bool) error {
	s.mut.Lock()
	gateway := s.gateway
	s.mut.Unlock()

	ch, err := gateway.Open(ctx, resume)
	if err != nil {
		return err
	}

	s.setState(Connected)

	if err := s.handshake(ctx, gateway, ch, resume); err != nil {
		gateway.Close()
		return err
	}

	s.mut.Lock()
	if s.terminated {
		s.mut.Unlock()
		gateway.Close()
		return ErrClosed
	}
	s.gen++
	gen := s.gen
	close(s.ready)
	s.wg.Add(1)
	s.mut.Unlock()

	s.setState(Ready)

	go func() {
		defer s.wg.Done()
		s.eventLoop(ch, gen)
	}()

	return nil
}

// handshake consumes events until the session can send audio.
func (s *Session) handshake(ctx context.Context, gateway *voicegateway.Gateway, ch <-chan ws.Op, resume bool) error {
	for {
		op, err := ws.ReadOp(ctx, ch)
		if err != nil {
			if errors.Is(err, ws.ErrWebsocketClosed) {
				return errors.New("voice gateway closed during handshake")
			}
			return errors.Wrap(err, "failed to wait for Ready")
		}

		switch data := op.Data.(type) {
		case *ws.CloseEvent:
			return voicegateway.CloseErrorFor(data.Code, data.Err)

		case *voicegateway.ReadyEvent:
			if !data.SupportsMode(Protocol) {
				return errors.Errorf("voice server does not support %s", Protocol)
			}

			conn, err := s.DialUDP(ctx, data.Addr(), data.SSRC)
			if err != nil {
				return errors.Wrap(err, "failed to open voice UDP connection")
			}

			s.mut.Lock()
			old := s.voiceUDP
			s.voiceUDP = conn
			s.mut.Unlock()

			if old != nil {
				old.Close()
			}

			if err := gateway.SelectProtocol(ctx, conn.GatewayIP, conn.GatewayPort, Protocol); err != nil {
				return errors.Wrap(err, "failed to select protocol")
			}

		case *voicegateway.SessionDescriptionEvent:
			s.mut.Lock()
			conn := s.voiceUDP
			s.mut.Unlock()

			if conn == nil {
				return errors.New("session description received before Ready")
			}
			if data.Mode != "" && data.Mode != Protocol {
				return errors.Errorf("voice server chose unknown mode %q", data.Mode)
			}

			conn.UseSecret(data.SecretKey)
			s.handlers.Dispatch(data)
			return nil

		case *voicegateway.ResumedEvent:
			if !resume {
				break
			}

			s.mut.Lock()
			conn := s.voiceUDP
			s.mut.Unlock()

			if conn == nil || !conn.HasSecret() {
				return errors.New("resumed without a keyed UDP connection")
			}

			s.handlers.Dispatch(data)
			return nil
		}

		s.handlers.Dispatch(op.Data)
	}
}

// eventLoop forwards events of an established connection until it ends.
func (s *Session) eventLoop(ch <-chan ws.Op, gen uint64) {
	for op := range ch {
		if ev, ok := op.Data.(*ws.CloseEvent); ok {
			s.handleClose(ev, gen)
			return
		}
		s.handlers.Dispatch(op.Data)
	}
}

func (s *Session) handleClose(ev *ws.CloseEvent, gen uint64) {
	s.mut.Lock()
	stale := gen != s.gen
	s.mut.Unlock()

	if stale {
		return
	}

	action := voicegateway.ClassifyClose(ev.Code)
	s.log().Debugw("voice gateway closed", "code", ev.Code, "action", action, "err", ev.Err)

	if action == voicegateway.CloseTerminal {
		s.terminate(voicegateway.CloseErrorFor(ev.Code, ev.Err))
		return
	}

	s.reconnect(action == voicegateway.ReconnectIdentify)
}

// reconnect redials the gateway. At most one reconnect runs per guild; other
// callers return immediately.
func (s *Session) reconnect(identify bool) {
	if !s.guard.TryAdd(s.guildID) {
		s.log().Debug("reconnect already in progress")
		return
	}
	defer s.guard.Delete(s.guildID)

	if s.State() == Closed {
		return
	}

	log := s.log()

	s.mut.Lock()
	select {
	case <-s.ready:
		s.ready = make(chan struct{})
	default:
	}
	gateway := s.gateway
	s.mut.Unlock()

	s.setState(Reconnecting)
	gateway.Close()

	timer := backoff.NewTimer(s.ReconnectDelay, s.ReconnectMaxDelay)
	defer timer.Stop()

	var err error

	for attempt := 1; attempt <= s.ReconnectAttempts; attempt++ {
		if attempt > 1 {
			if err := timer.Wait(s.ctx); err != nil {
				return
			}
		}

		if identify {
			s.closeUDP()
		}

		log.Debugw("reconnecting to voice gateway", "attempt", attempt, "identify", identify)

		ctx, cancel := context.WithTimeout(s.ctx, s.HandshakeTimeout)
		err = s.establish(ctx, !identify)
		cancel()

		if err == nil {
			return
		}
		if s.ctx.Err() != nil {
			return
		}

		log.Warnw("failed to reconnect to voice gateway", "attempt", attempt, "err", err)

		var closeErr *voicegateway.CloseError
		if errors.As(err, &closeErr) {
			switch closeErr.Action() {
			case voicegateway.CloseTerminal:
				s.fail(err)
				return
			case voicegateway.ReconnectIdentify:
				identify = true
			}
		}

		s.setState(Reconnecting)
	}

	s.fail(errors.Wrapf(err, "failed to reconnect after %d attempts", s.ReconnectAttempts))
}

// fail closes the session after a reconnect failure and reports it.
func (s *Session) fail(err error) {
	s.log().Errorw("voice session lost", "err", err)
	s.terminate(err)
	s.handlers.Dispatch(&ReconnectError{Err: err})
}

// terminate moves the session to Closed and releases the network resources.
// Playback notices the closed session on its own.
func (s *Session) terminate(err error) {
	s.mut.Lock()
	if s.terminated {
		s.mut.Unlock()
		return
	}
	s.terminated = true
	s.closeErr = err
	close(s.closed)
	// A closed session is never ready again.
	select {
	case <-s.ready:
		s.ready = make(chan struct{})
	default:
	}
	gateway := s.gateway
	s.mut.Unlock()

	s.cancel()
	s.setState(Closed)

	if gateway != nil {
		gateway.Close()
	}
	s.closeUDP()
}

func (s *Session) closeUDP() {
	s.mut.Lock()
	conn := s.voiceUDP
	s.voiceUDP = nil
	s.mut.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// transport returns the UDP connection if the session is ready. It agrees
// with WaitReady: once WaitReady returns nil, transport succeeds until the
// session reconnects or closes.
func (s *Session) transport() (*udp.Connection, bool) {
	s.mut.Lock()
	defer s.mut.Unlock()

	select {
	case <-s.ready:
	default:
		return nil, false
	}

	if s.terminated || s.voiceUDP == nil {
		return nil, false
	}
	return s.voiceUDP, true
}

// sendControl sends a command on the voice gateway. A failed write on a Ready
// session starts a resume in the background.
func (s *Session) sendControl(ctx context.Context, ev ws.Event) error {
	s.mut.Lock()
	gateway := s.gateway
	gen := s.gen
	s.mut.Unlock()

	if gateway == nil {
		return ErrNotConnected
	}
	if s.State() == Closed {
		return ErrClosed
	}

	err := gateway.Send(ctx, ev)
	if err == nil {
		return nil
	}

	if ctx.Err() == nil && s.State() == Ready {
		s.mut.Lock()
		current := gen == s.gen && !s.terminated
		if current {
			s.wg.Add(1)
		}
		s.mut.Unlock()

		if current {
			s.log().Warnw("voice gateway write failed, resuming", "err", err)
			go func() {
				defer s.wg.Done()
				s.reconnect(false)
			}()
		}
	}

	return errors.Wrap(err, "failed to send voice command")
}

// Disconnect stops playback, leaves the channel and closes the session. It is
// safe to call more than once; only the first call does anything.
func (s *Session) Disconnect(ctx context.Context) error {
	var err error

	s.disconnect.Do(func() {
		if stopErr := s.Stop(); stopErr != nil {
			s.log().Warnw("failed to stop playback", "err", stopErr)
		}

		s.mut.Lock()
		gateway := s.gateway
		joiner := s.joiner
		s.mut.Unlock()

		// Tell the server we are leaving before the socket goes away.
		if gateway != nil && s.State() != Closed {
			s.terminateGracefully(gateway)
		}

		s.terminate(nil)
		s.wg.Wait()

		if joiner != nil {
			if leaveErr := joiner.Leave(ctx, s.guildID); leaveErr != nil {
				err = errors.Wrap(leaveErr, "failed to leave voice channel")
			}
		}
	})

	return err
}

func (s *Session) terminateGracefully(gateway *voicegateway.Gateway) {
	// Stop anything in flight from reading the close as a remote one.
	s.mut.Lock()
	s.gen++
	s.mut.Unlock()

	if err := gateway.CloseGracefully(); err != nil {
		s.log().Debugw("failed to close voice gateway", "err", err)
	}
}
