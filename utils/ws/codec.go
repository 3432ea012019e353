package ws

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/pkg/errors"

	"github.com/voicestream/voicestream/utils/json"
)

// Codec holds the codec states for Websocket implementations to share with the
// manager. It is used internally in the Websocket and the Connection
// implementation.
type Codec struct {
	Unmarshalers OpUnmarshalers
	Headers      http.Header
}

// NewCodec creates a new default Codec instance.
func NewCodec(unmarshalers OpUnmarshalers) Codec {
	return Codec{
		Unmarshalers: unmarshalers,
		Headers:      http.Header{},
	}
}

type codecOp struct {
	Code OpCode   `json:"op"`
	Data json.Raw `json:"d,omitempty"`
}

const maxSharedBufferSize = 1 << 15 // 32KB

// DecodeBuffer boxes a byte slice to provide a shared and thread-unsafe buffer.
// It is used internally and should only be handled around as an opaque thing.
type DecodeBuffer struct {
	buf []byte
}

// NewDecodeBuffer creates a new preallocated DecodeBuffer.
func NewDecodeBuffer(cap int) DecodeBuffer {
	if cap > maxSharedBufferSize {
		cap = maxSharedBufferSize
	}

	return DecodeBuffer{
		buf: make([]byte, 0, cap),
	}
}

// Decode reads one frame from r and decodes it into an Op. Unknown opcodes
// yield an UnknownEventError.
func (c Codec) Decode(r io.Reader, buf *DecodeBuffer) (Op, error) {
	var op codecOp
	if buf != nil {
		op.Data = json.Raw(buf.buf)
	}

	if err := json.DecodeStream(r, &op); err != nil {
		return Op{}, errors.Wrap(err, "cannot read JSON stream")
	}

	// buf isn't grown from here out. Set it back right now. If Data hasn't been
	// grown, then this will just set buf back to what it was.
	if buf != nil && cap(op.Data) < maxSharedBufferSize {
		defer func() { buf.buf = op.Data[:0] }()
	}

	fn := c.Unmarshalers.Lookup(op.Code, "")
	if fn == nil {
		return Op{}, UnknownEventError{Op: op.Code}
	}

	ev := fn()
	if err := op.Data.UnmarshalTo(ev); err != nil {
		return Op{}, errors.Wrapf(err, "cannot unmarshal op %d", op.Code)
	}

	return Op{Code: op.Code, Data: ev}, nil
}

// DecodeInto reads the given reader and decodes it into the Op out channel.
// Decoding errors are sent as a BackgroundErrorEvent; only a failure to
// deliver is returned.
func (c Codec) DecodeInto(ctx context.Context, r io.Reader, buf *DecodeBuffer, out chan<- Op) error {
	op, err := c.Decode(r, buf)
	if err != nil {
		op = newErrOp(err)
	}

	return send(ctx, out, op)
}

// Encode encodes an outgoing event into a {"op", "d"} frame.
func (c Codec) Encode(ev Event) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.EncodeStream(&buf, Op{Code: ev.Op(), Data: ev}); err != nil {
		return nil, errors.Wrapf(err, "cannot encode op %d", ev.Op())
	}
	return buf.Bytes(), nil
}

func send(ctx context.Context, ch chan<- Op, op Op) error {
	select {
	case ch <- op:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newErrOp(err error) Op {
	ev := &BackgroundErrorEvent{Err: err}

	return Op{
		Code: ev.Op(),
		Type: ev.EventType(),
		Data: ev,
	}
}
