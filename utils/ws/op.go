package ws

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// OpCode is the type for websocket Op codes. Op codes less than 0 are
// internal Op codes and never sent over the wire.
type OpCode int

// CloseEvent is an event that is given from the read loop when the websocket
// is closed.
type CloseEvent struct {
	// Err is the underlying error.
	Err error
	// Code is the websocket close code, if any. It is -1 otherwise.
	Code int
}

// Unwrap returns err.Err.
func (e *CloseEvent) Unwrap() error { return e.Err }

// Error formats the CloseEvent. A CloseEvent is also an error.
func (e *CloseEvent) Error() string {
	return fmt.Sprintf("websocket closed (code %d), reason: %s", e.Code, e.Err)
}

// Op implements Event. It returns -1.
func (e *CloseEvent) Op() OpCode { return -1 }

// EventType implements Event.
func (e *CloseEvent) EventType() EventType { return "__ws.CloseEvent" }

// BackgroundErrorEvent describes a non-fatal error that the read loop
// stumbled upon, such as a frame that failed to decode.
type BackgroundErrorEvent struct {
	Err error
}

// Unwrap returns err.Err.
func (err *BackgroundErrorEvent) Unwrap() error { return err.Err }

// Error formats the BackgroundErrorEvent.
func (err *BackgroundErrorEvent) Error() string {
	return "background websocket error: " + err.Err.Error()
}

// Op implements Event. It returns -1.
func (err *BackgroundErrorEvent) Op() OpCode { return -1 }

// EventType implements Event.
func (err *BackgroundErrorEvent) EventType() EventType {
	return "__ws.BackgroundErrorEvent"
}

// EventType is a type for event types. The voice gateway doesn't name its
// events, so it is only used by the internal events above.
type EventType string

// Event describes the data of a gateway Operation.
type Event interface {
	Op() OpCode
	EventType() EventType
}

// OpFunc is a constructor function for an Operation.
type OpFunc func() Event

// OpUnmarshalers contains a map of event constructor functions.
type OpUnmarshalers struct {
	r map[opFuncID]OpFunc
}

type opFuncID struct {
	Op OpCode
	T  EventType
}

// NewOpUnmarshalers creates a new OpUnmarshalers instance from the given
// constructor functions.
func NewOpUnmarshalers(funcs ...OpFunc) OpUnmarshalers {
	m := OpUnmarshalers{r: make(map[opFuncID]OpFunc)}
	m.Add(funcs...)
	return m
}

// Add adds the given functions into the unmarshaler registry.
func (m OpUnmarshalers) Add(funcs ...OpFunc) {
	for _, fn := range funcs {
		ev := fn()
		m.r[opFuncID{Op: ev.Op(), T: ev.EventType()}] = fn
	}
}

// Lookup searches the OpUnmarshalers map for the given constructor function.
func (m OpUnmarshalers) Lookup(op OpCode, t EventType) OpFunc {
	return m.r[opFuncID{op, t}]
}

// Op is a gateway Operation.
type Op struct {
	Code OpCode `json:"op"`
	Data Event  `json:"d"`

	// Type is only used by internal events.
	Type EventType `json:"-"`
}

// UnknownEventError is returned by the codec if an opcode is encountered that
// is not known. It is not a fatal error: unknown opcodes are logged and
// dropped.
type UnknownEventError struct {
	Op   OpCode
	Type EventType
}

// Error formats the unknown event error.
func (err UnknownEventError) Error() string {
	if err.Type == "" {
		return fmt.Sprintf("unknown op %d", err.Op)
	}
	return fmt.Sprintf("unknown op %d, event %s", err.Op, err.Type)
}

// IsUnknownEvent returns true if the error is an UnknownEventError.
func IsUnknownEvent(err error) bool {
	var uevent UnknownEventError
	return errors.As(err, &uevent)
}

// ReadOp reads a single Op. It returns ErrWebsocketClosed if the channel is
// closed.
func ReadOp(ctx context.Context, ch <-chan Op) (Op, error) {
	select {
	case <-ctx.Done():
		return Op{}, ctx.Err()
	case op, ok := <-ch:
		if !ok {
			return Op{}, ErrWebsocketClosed
		}
		return op, nil
	}
}
