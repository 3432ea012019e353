package voicegateway

import (
	"github.com/voicestream/voicestream/utils/ws"
)

// OpCode is a voice gateway operation code.
type OpCode = ws.OpCode

const (
	IdentifyOp           OpCode = 0  // send
	SelectProtocolOp     OpCode = 1  // send
	ReadyOp              OpCode = 2  // receive
	HeartbeatOp          OpCode = 3  // send
	SessionDescriptionOp OpCode = 4  // receive
	SpeakingOp           OpCode = 5  // send/receive
	HeartbeatAckOp       OpCode = 6  // receive
	ResumeOp             OpCode = 7  // send
	HelloOp              OpCode = 8  // receive
	ResumedOp            OpCode = 9  // receive
	ClientConnectOp      OpCode = 12 // receive
	ClientDisconnectOp   OpCode = 13 // receive
)

// OpUnmarshalers contains the constructors of every event the voice gateway
// may send. Opcodes not listed here are dropped by the codec.
var OpUnmarshalers = ws.NewOpUnmarshalers(
	func() ws.Event { return new(ReadyEvent) },
	func() ws.Event { return new(SessionDescriptionEvent) },
	func() ws.Event { return new(SpeakingEvent) },
	func() ws.Event { return new(HeartbeatAckEvent) },
	func() ws.Event { return new(HelloEvent) },
	func() ws.Event { return new(ResumedEvent) },
	func() ws.Event { return new(ClientConnectEvent) },
	func() ws.Event { return new(ClientDisconnectEvent) },
)
