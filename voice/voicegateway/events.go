package voicegateway

import (
	"net"
	"strconv"

	"github.com/voicestream/voicestream/discord"
	"github.com/voicestream/voicestream/utils/ws"
)

// OpCode 2
// https://discord.com/developers/docs/topics/voice-connections#establishing-a-voice-websocket-connection-example-voice-ready-payload
type ReadyEvent struct {
	IP    string   `json:"ip"`
	Modes []string `json:"modes"`
	Port  int      `json:"port"`
	SSRC  uint32   `json:"ssrc"`

	// From Discord's API Docs:
	//
	// `heartbeat_interval` here is an erroneous field and should be ignored.
	// The correct `heartbeat_interval` value comes from the Hello payload.
}

// Addr returns the UDP address of the voice server.
func (r ReadyEvent) Addr() string {
	return net.JoinHostPort(r.IP, strconv.Itoa(r.Port))
}

// SupportsMode returns true if the server advertised the encryption mode. An
// empty mode list is taken as supporting everything.
func (r ReadyEvent) SupportsMode(mode string) bool {
	if len(r.Modes) == 0 {
		return true
	}
	for _, m := range r.Modes {
		if m == mode {
			return true
		}
	}
	return false
}

// OpCode 4
// https://discord.com/developers/docs/topics/voice-connections#establishing-a-voice-udp-connection-example-session-description-payload
type SessionDescriptionEvent struct {
	Mode      string   `json:"mode"`
	SecretKey [32]byte `json:"secret_key"`
}

// OpCode 5
// https://discord.com/developers/docs/topics/voice-connections#speaking
type SpeakingEvent struct {
	UserID   discord.UserID `json:"user_id"`
	SSRC     uint32         `json:"ssrc"`
	Speaking SpeakingFlag   `json:"speaking"`
}

// OpCode 6
// https://discord.com/developers/docs/topics/voice-connections#heartbeating-example-heartbeat-ack-payload
type HeartbeatAckEvent uint64

// OpCode 8
// https://discord.com/developers/docs/topics/voice-connections#heartbeating-example-hello-payload-since-v3
type HelloEvent struct {
	HeartbeatInterval discord.Milliseconds `json:"heartbeat_interval"`
}

// OpCode 9
// https://discord.com/developers/docs/topics/voice-connections#resuming-voice-connection-example-resumed-payload
type ResumedEvent struct{}

// OpCode 12
// (undocumented)
type ClientConnectEvent struct {
	UserID    discord.UserID `json:"user_id"`
	AudioSSRC uint32         `json:"audio_ssrc"`
	VideoSSRC uint32         `json:"video_ssrc"`
}

// OpCode 13
// Undocumented, existence mentioned in below issue
// https://github.com/discord/discord-api-docs/issues/510
type ClientDisconnectEvent struct {
	UserID discord.UserID `json:"user_id"`
}

func (*ReadyEvent) Op() ws.OpCode              { return ReadyOp }
func (*SessionDescriptionEvent) Op() ws.OpCode { return SessionDescriptionOp }
func (*SpeakingEvent) Op() ws.OpCode           { return SpeakingOp }
func (*HeartbeatAckEvent) Op() ws.OpCode       { return HeartbeatAckOp }
func (*HelloEvent) Op() ws.OpCode              { return HelloOp }
func (*ResumedEvent) Op() ws.OpCode            { return ResumedOp }
func (*ClientConnectEvent) Op() ws.OpCode      { return ClientConnectOp }
func (*ClientDisconnectEvent) Op() ws.OpCode   { return ClientDisconnectOp }

func (*ReadyEvent) EventType() ws.EventType              { return "" }
func (*SessionDescriptionEvent) EventType() ws.EventType { return "" }
func (*SpeakingEvent) EventType() ws.EventType           { return "" }
func (*HeartbeatAckEvent) EventType() ws.EventType       { return "" }
func (*HelloEvent) EventType() ws.EventType              { return "" }
func (*ResumedEvent) EventType() ws.EventType            { return "" }
func (*ClientConnectEvent) EventType() ws.EventType      { return "" }
func (*ClientDisconnectEvent) EventType() ws.EventType   { return "" }
