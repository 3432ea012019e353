package voicegateway

import (
	"time"

	"github.com/pkg/errors"

	"github.com/voicestream/voicestream/discord"
	"github.com/voicestream/voicestream/utils/ws"
)

var (
	// ErrMissingForIdentify is an error when we are missing information to identify.
	ErrMissingForIdentify = errors.New("missing GuildID, UserID, SessionID, or Token for identify")

	// ErrMissingForResume is an error when we are missing information to resume.
	ErrMissingForResume = errors.New("missing GuildID, SessionID, or Token for resuming")
)

// OpCode 0
// https://discord.com/developers/docs/topics/voice-connections#establishing-a-voice-websocket-connection-example-voice-identify-payload
type IdentifyCommand struct {
	GuildID   discord.GuildID `json:"server_id"` // yes, this should be "server_id"
	UserID    discord.UserID  `json:"user_id"`
	SessionID string          `json:"session_id"`
	Token     string          `json:"token"`
}

// Op implements ws.Event.
func (*IdentifyCommand) Op() ws.OpCode { return IdentifyOp }

// EventType implements ws.Event.
func (*IdentifyCommand) EventType() ws.EventType { return "" }

// NewIdentifyCommand creates an Identify command out of the state. It fails if
// any of the required fields is missing.
func NewIdentifyCommand(state State) (*IdentifyCommand, error) {
	if !state.GuildID.IsValid() || !state.UserID.IsValid() || state.SessionID == "" || state.Token == "" {
		return nil, ErrMissingForIdentify
	}

	return &IdentifyCommand{
		GuildID:   state.GuildID,
		UserID:    state.UserID,
		SessionID: state.SessionID,
		Token:     state.Token,
	}, nil
}

// OpCode 1
// https://discord.com/developers/docs/topics/voice-connections#establishing-a-voice-udp-connection-example-select-protocol-payload
type SelectProtocolCommand struct {
	Protocol string             `json:"protocol"`
	Data     SelectProtocolData `json:"data"`
}

type SelectProtocolData struct {
	Address string `json:"address"`
	Port    uint16 `json:"port"`
	Mode    string `json:"mode"`
}

// Op implements ws.Event.
func (*SelectProtocolCommand) Op() ws.OpCode { return SelectProtocolOp }

// EventType implements ws.Event.
func (*SelectProtocolCommand) EventType() ws.EventType { return "" }

// OpCode 3
// https://discord.com/developers/docs/topics/voice-connections#heartbeating-example-heartbeat-payload
//
// The nonce is the current Unix time in milliseconds.
type HeartbeatCommand uint64

// NewHeartbeatCommand returns a heartbeat with the current time as its nonce.
func NewHeartbeatCommand() *HeartbeatCommand {
	h := HeartbeatCommand(time.Now().UnixMilli())
	return &h
}

// Op implements ws.Event.
func (*HeartbeatCommand) Op() ws.OpCode { return HeartbeatOp }

// EventType implements ws.Event.
func (*HeartbeatCommand) EventType() ws.EventType { return "" }

// https://discord.com/developers/docs/topics/voice-connections#speaking
type SpeakingFlag uint64

const (
	Microphone SpeakingFlag = 1 << iota
	Soundshare
	Priority
)

// NotSpeaking clears the speaking indicator.
const NotSpeaking SpeakingFlag = 0

// OpCode 5
// https://discord.com/developers/docs/topics/voice-connections#speaking-example-speaking-payload
type SpeakingCommand struct {
	Speaking SpeakingFlag `json:"speaking"`
	Delay    int          `json:"delay"`
	SSRC     uint32       `json:"ssrc"`
}

// Op implements ws.Event.
func (*SpeakingCommand) Op() ws.OpCode { return SpeakingOp }

// EventType implements ws.Event.
func (*SpeakingCommand) EventType() ws.EventType { return "" }

// OpCode 7
// https://discord.com/developers/docs/topics/voice-connections#resuming-voice-connection-example-resume-connection-payload
type ResumeCommand struct {
	GuildID   discord.GuildID `json:"server_id"` // yes, this should be "server_id"
	SessionID string          `json:"session_id"`
	Token     string          `json:"token"`
}

// Op implements ws.Event.
func (*ResumeCommand) Op() ws.OpCode { return ResumeOp }

// EventType implements ws.Event.
func (*ResumeCommand) EventType() ws.EventType { return "" }

// NewResumeCommand creates a Resume command out of the state.
func NewResumeCommand(state State) (*ResumeCommand, error) {
	if !state.GuildID.IsValid() || state.SessionID == "" || state.Token == "" {
		return nil, ErrMissingForResume
	}

	return &ResumeCommand{
		GuildID:   state.GuildID,
		SessionID: state.SessionID,
		Token:     state.Token,
	}, nil
}
