// Package voicegateway implements the voice signaling channel: a websocket
// carrying {"op", "d"} JSON frames, with Identify and Resume handshakes and a
// heartbeat started by the Hello event.
package voicegateway

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/voicestream/voicestream/discord"
	"github.com/voicestream/voicestream/internal/heart"
	"github.com/voicestream/voicestream/internal/logging"
	"github.com/voicestream/voicestream/utils/ws"
)

// Version represents the current version of the voice gateway this package
// uses.
const Version = "4"

var (
	// ErrNoEndpoint is returned by Open if the state has no endpoint.
	ErrNoEndpoint = errors.New("no endpoint was received")
	// ErrNotOpen is returned when sending over a gateway that is not open.
	ErrNotOpen = errors.New("voice gateway is not open")
)

// State contains state information of a voice gateway.
type State struct {
	GuildID   discord.GuildID
	ChannelID discord.ChannelID
	UserID    discord.UserID

	SessionID string
	Token     string
	Endpoint  string
}

type endpointQuery struct {
	Version string `schema:"v"`
}

// Gateway is a single voice gateway connection. It can be reopened after it
// is closed.
type Gateway struct {
	state State // constant

	// Timeout is the default timeout for Send calls made by the gateway
	// itself, such as heartbeats.
	Timeout time.Duration

	codec ws.Codec
	ws    *ws.Websocket

	mutex  sync.Mutex
	ready  ReadyEvent
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a new gateway for the given state. It does not connect.
func New(state State) *Gateway {
	return &Gateway{
		state:   state,
		Timeout: 10 * time.Second,
		codec:   ws.NewCodec(OpUnmarshalers),
	}
}

// NewWithConnection creates a new gateway that dials through the given
// websocket driver.
func NewWithConnection(state State, conn ws.Connection) (*Gateway, error) {
	g := New(state)

	addr, err := g.endpoint()
	if err != nil {
		return nil, err
	}

	g.ws = ws.NewCustomWebsocket(conn, addr)
	return g, nil
}

// State returns the state the gateway identifies with.
func (g *Gateway) State() State {
	return g.state
}

// Ready returns the last received Ready event.
func (g *Gateway) Ready() ReadyEvent {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	return g.ready
}

func (g *Gateway) endpoint() (string, error) {
	if g.state.Endpoint == "" {
		return "", ErrNoEndpoint
	}

	// https://discord.com/developers/docs/topics/voice-connections#establishing-a-voice-websocket-connection
	return ws.EndpointURL(g.state.Endpoint, endpointQuery{Version: Version})
}

// Open dials the gateway and sends an Identify, or a Resume if resume is
// true. The returned channel carries every decoded event, followed by a
// *ws.CloseEvent once the connection is lost, and is closed when the gateway
// stops. A heartbeat that is never acknowledged is reported as a close event
// with code CloseNoFrame.
func (g *Gateway) Open(ctx context.Context, resume bool) (<-chan ws.Op, error) {
	var (
		handshake ws.Event
		err       error
	)

	if resume {
		handshake, err = NewResumeCommand(g.state)
	} else {
		handshake, err = NewIdentifyCommand(g.state)
	}
	if err != nil {
		return nil, err
	}

	g.mutex.Lock()
	defer g.mutex.Unlock()

	if g.cancel != nil {
		return nil, errors.New("voice gateway is already open")
	}

	if g.ws == nil {
		addr, err := g.endpoint()
		if err != nil {
			return nil, err
		}
		g.ws = ws.NewWebsocket(g.codec, addr)
	}

	log := logging.Named("voicegateway").With("guild", g.state.GuildID)
	log.Debugw("connecting to voice endpoint", "endpoint", g.ws.Addr(), "resume", resume)

	ch, err := g.ws.Dial(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to voice gateway")
	}

	if err := g.send(ctx, g.ws, handshake); err != nil {
		g.ws.Close()
		return nil, errors.Wrap(err, "failed to send handshake")
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	out := make(chan ws.Op, 8)

	g.cancel = cancel
	g.done = done

	go func() {
		defer close(done)
		defer close(out)
		g.eventLoop(loopCtx, ch, out)
	}()

	return out, nil
}

func (g *Gateway) eventLoop(ctx context.Context, ch <-chan ws.Op, out chan<- ws.Op) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := logging.Named("voicegateway").With("guild", g.state.GuildID)

	var pacemaker *heart.Pacemaker
	heartErr := make(chan error, 1)

	emit := func(op ws.Op) bool {
		select {
		case out <- op:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		var op ws.Op

		select {
		case <-ctx.Done():
			return

		case err := <-heartErr:
			log.Warnw("heartbeat failed, dropping connection", "err", err)

			ev := &ws.CloseEvent{Err: err, Code: CloseNoFrame}
			emit(ws.Op{Code: ev.Op(), Type: ev.EventType(), Data: ev})
			return

		case o, ok := <-ch:
			if !ok {
				return
			}
			op = o
		}

		switch data := op.Data.(type) {
		case *HelloEvent:
			if pacemaker != nil {
				break
			}

			pacemaker = heart.NewPacemaker(data.HeartbeatInterval.Duration(), func(ctx context.Context) error {
				return g.Send(ctx, NewHeartbeatCommand())
			})

			log.Debugw("starting heartbeat", "heartrate", pacemaker.Heartrate)

			go func(p *heart.Pacemaker) {
				if err := p.Run(ctx); err != nil {
					heartErr <- err
				}
			}(pacemaker)

		case *HeartbeatAckEvent:
			if pacemaker != nil {
				pacemaker.Echo()
			}

		case *ReadyEvent:
			g.mutex.Lock()
			g.ready = *data
			g.mutex.Unlock()

		case *ResumedEvent:
			log.Debug("voice gateway resumed")

		case *ws.BackgroundErrorEvent:
			if ws.IsUnknownEvent(data.Err) {
				log.Debugw("ignoring unknown op", "err", data.Err)
				continue
			}
			log.Warnw("failed to decode voice event", "err", data.Err)
			continue

		case *ws.CloseEvent:
			log.Debugw("voice gateway closed", "code", data.Code, "err", data.Err)
			emit(op)
			return
		}

		if !emit(op) {
			return
		}
	}
}

// Send sends an event. The gateway Timeout applies if ctx has no deadline.
func (g *Gateway) Send(ctx context.Context, ev ws.Event) error {
	g.mutex.Lock()
	w := g.ws
	g.mutex.Unlock()

	return g.send(ctx, w, ev)
}

func (g *Gateway) send(ctx context.Context, w *ws.Websocket, ev ws.Event) error {
	if w == nil {
		return ErrNotOpen
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	b, err := g.codec.Encode(ev)
	if err != nil {
		return err
	}

	return w.Send(ctx, b)
}

// SelectProtocol sends the external address found by IP discovery.
func (g *Gateway) SelectProtocol(ctx context.Context, ip string, port uint16, mode string) error {
	return g.Send(ctx, &SelectProtocolCommand{
		Protocol: "udp",
		Data: SelectProtocolData{
			Address: ip,
			Port:    port,
			Mode:    mode,
		},
	})
}

// Speaking sends a Speaking command. NotSpeaking clears the indicator.
func (g *Gateway) Speaking(ctx context.Context, flag SpeakingFlag, ssrc uint32) error {
	return g.Send(ctx, &SpeakingCommand{
		Speaking: flag,
		Delay:    0,
		SSRC:     ssrc,
	})
}

// Close stops the event loop and the heartbeat and closes the websocket
// without a close frame, so the session can still be resumed. Closing a
// gateway that is not open is a no-op.
func (g *Gateway) Close() error {
	return g.close(false)
}

// CloseGracefully is like Close, but a close frame is sent first. The server
// drops the session afterwards.
func (g *Gateway) CloseGracefully() error {
	return g.close(true)
}

func (g *Gateway) close(gracefully bool) error {
	g.mutex.Lock()

	if g.cancel == nil {
		g.mutex.Unlock()
		return nil
	}

	cancel, done := g.cancel, g.done
	g.cancel = nil
	g.done = nil

	var err error
	if gracefully {
		err = g.ws.CloseGracefully()
	} else {
		err = g.ws.Close()
	}

	g.mutex.Unlock()

	cancel()
	<-done

	if errors.Is(err, ws.ErrWebsocketClosed) {
		return nil
	}
	return err
}
