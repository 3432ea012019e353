package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sasha-s/go-csync"
	"go.uber.org/atomic"
)

const rwBufferSize = 1 << 15 // 32KB

// ErrWebsocketClosed is returned if the websocket is already closed.
var ErrWebsocketClosed = errors.New("websocket is closed")

// Connection is an interface that abstracts around a generic Websocket driver.
// The implementation must be reusable: Dial may be called again after Close.
type Connection interface {
	// Dial dials the address (string). Context needs to be passed in for
	// timeout. This method should also be re-usable after Close is called.
	Dial(context.Context, string) (<-chan Op, error)

	// Send allows the caller to send bytes. Concurrent calls are serialized.
	Send(context.Context, []byte) error

	// Close should close the websocket connection. The Connection must still
	// be reusable even if Close returns an error. If gracefully is true, then
	// the implementation must send a close frame prior.
	Close(gracefully bool) error
}

// Conn is the default Websocket connection.
type Conn struct {
	dialer websocket.Dialer
	codec  Codec

	// conn is used for synchronizing the conn instance itself. Any use of conn
	// must copy conn out.
	conn *connMutex
	// mut is used for synchronizing the conn field.
	mut sync.Mutex

	// CloseTimeout is the timeout for graceful closing. It's defaulted to 5s.
	CloseTimeout time.Duration
}

type connMutex struct {
	*websocket.Conn
	wrmut  csync.Mutex
	closed atomic.Bool
	cancel context.CancelFunc
}

var _ Connection = (*Conn)(nil)

// NewConn creates a new default websocket connection with a default dialer.
func NewConn(codec Codec) *Conn {
	return NewConnWithDialer(codec, websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   rwBufferSize,
		WriteBufferSize:  rwBufferSize,
	})
}

// NewConnWithDialer creates a new default websocket connection with a custom
// dialer.
func NewConnWithDialer(codec Codec, dialer websocket.Dialer) *Conn {
	return &Conn{
		dialer:       dialer,
		codec:        codec,
		CloseTimeout: 5 * time.Second,
	}
}

// Dial starts a new connection and returns the listening channel for it. If the
// websocket is already dialed, then the connection is closed first.
func (c *Conn) Dial(ctx context.Context, addr string) (<-chan Op, error) {
	c.mut.Lock()
	defer c.mut.Unlock()

	// Ensure that the connection is already closed.
	if c.conn != nil {
		c.conn.close(c.CloseTimeout, false)
		c.conn = nil
	}

	conn, _, err := c.dialer.DialContext(ctx, addr, c.codec.Headers)
	if err != nil {
		return nil, errors.Wrap(err, "failed to dial WS")
	}

	ctx, cancel := context.WithCancel(context.Background())

	events := make(chan Op, 1)
	go readLoop(ctx, conn, c.codec, events)

	c.conn = &connMutex{
		Conn:   conn,
		cancel: cancel,
	}

	return events, nil
}

// Close implements Connection.
func (c *Conn) Close(gracefully bool) error {
	c.mut.Lock()
	defer c.mut.Unlock()

	err := c.conn.close(c.CloseTimeout, gracefully)
	c.conn = nil

	return err
}

func (c *connMutex) close(timeout time.Duration, gracefully bool) error {
	if c == nil || !c.closed.CompareAndSwap(false, true) {
		WSDebug("Conn: Close is called on already closed connection")
		return ErrWebsocketClosed
	}

	WSDebug("Conn: Close is called; shutting down the Websocket connection.")

	// Stop the read loop from delivering anything else before the socket
	// goes away, so a local close is never mistaken for a remote one.
	c.cancel()

	if gracefully {
		// Have a deadline before closing.
		deadline := time.Now().Add(timeout)

		ctx, cancel := context.WithDeadline(context.Background(), deadline)
		defer cancel()

		if err := c.wrmut.CLock(ctx); err == nil {
			// Lock acquired. We can now safely set the deadline and write.
			c.SetWriteDeadline(deadline)

			WSDebug("Conn: Graceful closing requested, sending close frame.")

			if err := c.WriteMessage(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			); err != nil {
				WSError(err)
			}

			c.wrmut.Unlock()
		}
		// Otherwise, we couldn't acquire the lock. Resort to just closing the
		// connection directly.
	}

	err := c.Conn.Close()
	if err != nil {
		WSDebug("Conn: Websocket closed; error:", err)
	} else {
		WSDebug("Conn: Websocket closed successfully")
	}

	return err
}

// resetDeadline is used to reset the write deadline after using the context's.
var resetDeadline = time.Time{}

// Send implements Connection.
func (c *Conn) Send(ctx context.Context, b []byte) error {
	c.mut.Lock()
	conn := c.conn
	c.mut.Unlock()

	if conn == nil {
		return ErrWebsocketClosed
	}

	if err := conn.wrmut.CLock(ctx); err != nil {
		return err
	}
	defer conn.wrmut.Unlock()

	// The connection may have been closed while we were waiting for the lock.
	if conn.closed.Load() {
		return ErrWebsocketClosed
	}

	if d, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(d)
		defer conn.SetWriteDeadline(resetDeadline)
	}

	return conn.WriteMessage(websocket.TextMessage, b)
}

// loopState is a thread-unsafe disposable state container for the read loop.
// It's made to completely separate the read loop of any synchronization that
// doesn't involve the websocket connection itself.
type loopState struct {
	conn  *websocket.Conn
	codec Codec
	buf   DecodeBuffer
}

func readLoop(ctx context.Context, conn *websocket.Conn, codec Codec, opCh chan<- Op) {
	// Clean up the events channel in the end.
	defer close(opCh)

	// Allocate the read loop its own private resources.
	state := loopState{
		conn:  conn,
		codec: codec,
		buf:   NewDecodeBuffer(1 << 12), // 4KB
	}

	for {
		if err := state.handle(ctx, opCh); err != nil {
			if ctx.Err() != nil {
				return
			}

			WSDebug("Conn: fatal Conn error:", err)

			closeEv := &CloseEvent{
				Err:  err,
				Code: -1,
			}

			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				closeEv.Code = closeErr.Code
				closeEv.Err = errors.Errorf("%d %s", closeErr.Code, closeErr.Text)
			}

			send(ctx, opCh, Op{
				Code: closeEv.Op(),
				Type: closeEv.EventType(),
				Data: closeEv,
			})

			return
		}
	}
}

func (state *loopState) handle(ctx context.Context, opCh chan<- Op) error {
	t, r, err := state.conn.NextReader()
	if err != nil {
		return err
	}

	if t != websocket.TextMessage {
		WSDebug("Conn: ignoring non-text frame of type", t)
		return nil
	}

	if err := state.codec.DecodeInto(ctx, r, &state.buf, opCh); err != nil {
		return errors.Wrap(err, "error distributing event")
	}

	return nil
}
