// Package voice streams Opus audio into a voice channel. A Session owns the
// signaling gateway, the encrypted UDP transport and the playback task for one
// guild; a Registry keeps at most one Session per guild.
package voice

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/voicestream/voicestream/discord"
	"github.com/voicestream/voicestream/utils/handler"
	"github.com/voicestream/voicestream/utils/ws"
	"github.com/voicestream/voicestream/voice/udp"
	"github.com/voicestream/voicestream/voice/voicegateway"
)

// Protocol is the encryption protocol that this library uses.
const Protocol = udp.EncryptionMode

var (
	// ErrAlreadyConnecting is returned when Connect is called on a session
	// that was already started.
	ErrAlreadyConnecting = errors.New("already connecting")
	// ErrClosed is returned when the session is closed.
	ErrClosed = errors.New("voice session is closed")
	// ErrNotConnected is returned when a control message is sent before the
	// session has a gateway.
	ErrNotConnected = errors.New("voice session is not connected")
)

// ConnectionState is the state of the signaling session.
type ConnectionState uint32

const (
	Connecting ConnectionState = iota
	Connected
	Ready
	Reconnecting
	Closed
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Ready:
		return "ready"
	case Reconnecting:
		return "reconnecting"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Joiner asks the main gateway to move the bot into a voice channel and
// returns what the voice gateway needs to identify.
type Joiner interface {
	Join(ctx context.Context, guildID discord.GuildID, channelID discord.ChannelID, mute, deaf bool) (voicegateway.State, error)
	Leave(ctx context.Context, guildID discord.GuildID) error
}

// AddHandler adds a callback for one event type dispatched by the session. The
// callback runs in its own goroutine.
func AddHandler[T ws.Event](s *Session, fn func(T)) (rm func()) {
	return handler.Add[ws.Event, T](s.handlers, fn)
}

// Expect returns a function that blocks until an event of type T that fn
// accepts is dispatched by the session.
func Expect[T ws.Event](s *Session, fn func(T) bool) func(context.Context) (T, error) {
	return handler.Expect[ws.Event, T](s.handlers, fn)
}

// StateChangeEvent is dispatched on every ConnectionState transition.
type StateChangeEvent struct {
	GuildID discord.GuildID
	Old     ConnectionState
	New     ConnectionState
}

// Op implements ws.Event. It returns -1, since the event is local.
func (*StateChangeEvent) Op() ws.OpCode { return -1 }

// EventType implements ws.Event.
func (*StateChangeEvent) EventType() ws.EventType { return "voice.StateChange" }

// ReconnectError is dispatched when the voice gateway could not be
// reconnected. The session is closed afterwards.
type ReconnectError struct {
	Err error
}

// Error implements error.
func (e *ReconnectError) Error() string {
	return "voice reconnect error: " + e.Err.Error()
}

// Unwrap returns e.Err.
func (e *ReconnectError) Unwrap() error { return e.Err }

// Op implements ws.Event. It returns -1, since the event is local.
func (*ReconnectError) Op() ws.OpCode { return -1 }

// EventType implements ws.Event.
func (*ReconnectError) EventType() ws.EventType { return "voice.ReconnectError" }

// PlaybackError is dispatched and returned by WaitPlayback when a playback
// episode ends abnormally.
type PlaybackError struct {
	Episode uuid.UUID
	Err     error
}

// Error implements error.
func (e *PlaybackError) Error() string {
	return "playback " + e.Episode.String() + " failed: " + e.Err.Error()
}

// Unwrap returns e.Err.
func (e *PlaybackError) Unwrap() error { return e.Err }

// Op implements ws.Event. It returns -1, since the event is local.
func (*PlaybackError) Op() ws.OpCode { return -1 }

// EventType implements ws.Event.
func (*PlaybackError) EventType() ws.EventType { return "voice.PlaybackError" }
