package voicegateway

import (
	"fmt"

	"github.com/pkg/errors"
)

// Voice close event codes.
//
// https://discord.com/developers/docs/topics/opcodes-and-status-codes#voice-voice-close-event-codes
const (
	// CloseNoFrame is reported when the connection dropped without a close
	// frame: EOF, broken pipe, connection reset or a dead heartbeat.
	CloseNoFrame = -1

	CloseNormal            = 1000
	CloseGoingAway         = 1001
	CloseAbnormal          = 1006
	CloseUnknownOpcode     = 4001
	CloseFailedToDecode    = 4002
	CloseNotAuthenticated  = 4003
	CloseAuthFailed        = 4004
	CloseAlreadyAuthed     = 4005
	CloseSessionInvalid    = 4006
	CloseSessionTimeout    = 4009
	CloseServerNotFound    = 4011
	CloseUnknownProtocol   = 4012
	CloseDisconnected      = 4014
	CloseVoiceServerCrash  = 4015
	CloseUnknownEncryption = 4016
)

var (
	// ErrUnauthorized is wrapped by the close error of a rejected token or
	// session. It is never retried.
	ErrUnauthorized = errors.New("voice gateway: unauthorized")
	// ErrSessionInvalidated is wrapped by the close error of a session that the
	// server dropped. It is recovered by identifying again instead of resuming.
	ErrSessionInvalidated = errors.New("voice gateway: session invalidated")
)

// CloseAction is what a session does after the voice gateway closed.
type CloseAction uint8

const (
	// CloseTerminal closes the session for good.
	CloseTerminal CloseAction = iota
	// ReconnectResume reopens the gateway and resumes the session, keeping the
	// UDP connection and the secret key.
	ReconnectResume
	// ReconnectIdentify reopens the gateway with a fresh Identify and redoes
	// the UDP handshake.
	ReconnectIdentify
)

func (a CloseAction) String() string {
	switch a {
	case CloseTerminal:
		return "close"
	case ReconnectResume:
		return "resume"
	case ReconnectIdentify:
		return "identify"
	default:
		return fmt.Sprintf("CloseAction(%d)", uint8(a))
	}
}

// ClassifyClose maps a close code to its action. Unknown codes close the
// session.
func ClassifyClose(code int) CloseAction {
	switch code {
	case CloseNoFrame, CloseGoingAway, CloseAbnormal, CloseVoiceServerCrash:
		return ReconnectResume
	case CloseSessionInvalid, CloseSessionTimeout:
		return ReconnectIdentify
	default:
		return CloseTerminal
	}
}

// CloseError is a voice gateway close. It wraps ErrUnauthorized or
// ErrSessionInvalidated for the codes that mean either.
type CloseError struct {
	Code int
	// Reason is the underlying error, if any.
	Reason error
}

// CloseErrorFor returns the error for the given close code.
func CloseErrorFor(code int, reason error) *CloseError {
	return &CloseError{Code: code, Reason: reason}
}

// Action returns ClassifyClose(err.Code).
func (err *CloseError) Action() CloseAction {
	return ClassifyClose(err.Code)
}

func (err *CloseError) Error() string {
	msg := fmt.Sprintf("voice gateway closed with code %d", err.Code)
	if sentinel := err.sentinel(); sentinel != nil {
		msg += " (" + sentinel.Error() + ")"
	}
	if err.Reason != nil {
		msg += ": " + err.Reason.Error()
	}
	return msg
}

// Is matches ErrUnauthorized and ErrSessionInvalidated.
func (err *CloseError) Is(target error) bool {
	return target != nil && err.sentinel() == target
}

// Unwrap returns the underlying reason.
func (err *CloseError) Unwrap() error {
	return err.Reason
}

func (err *CloseError) sentinel() error {
	switch err.Code {
	case CloseNotAuthenticated, CloseAuthFailed:
		return ErrUnauthorized
	case CloseSessionInvalid:
		return ErrSessionInvalidated
	default:
		return nil
	}
}
