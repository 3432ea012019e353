// Package udp implements the voice media transport: IP discovery, RTP framing
// and xsalsa20_poly1305 encryption of Opus frames over UDP.
package udp

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// Dialer is the default dialer that this package uses for all its dialing.
var Dialer = net.Dialer{
	Timeout: 10 * time.Second,
}

var (
	// ErrClosed is returned if a frame is written to a closed connection.
	ErrClosed = errors.New("UDP connection closed")
	// ErrNoKey is returned if a frame is written before the session
	// description delivered the secret key. It is a programming error.
	ErrNoKey = errors.New("no secret key: encryption attempted before key exchange")
)

// SendError is returned by WriteFrame when the datagram could not be sent.
type SendError struct {
	Err error
}

func (err *SendError) Error() string {
	return "failed to send voice frame: " + err.Err.Error()
}

func (err *SendError) Unwrap() error {
	return err.Err
}

// DialFunc is the UDP dialer function type. It's the function signature for
// udp.DialConnection.
type DialFunc = func(ctx context.Context, addr string, ssrc uint32) (*Connection, error)

// Assert that this is the same.
var _ DialFunc = DialConnection

// Connection is an established voice UDP connection. Sequence numbers and
// timestamps are owned by the caller: every WriteFrame sends exactly the
// header it is given.
type Connection struct {
	// GatewayIP and GatewayPort are the external address returned by IP
	// discovery.
	GatewayIP   string
	GatewayPort uint16

	conn net.Conn
	ssrc uint32

	mu     sync.Mutex
	secret [KeySize]byte
	hasKey bool
	buf    []byte

	closed atomic.Bool
}

// DialConnection dials the UDP connection using the given address and SSRC
// number, then runs IP discovery.
func DialConnection(ctx context.Context, addr string, ssrc uint32) (*Connection, error) {
	return DialConnectionCustom(ctx, &Dialer, addr, ssrc)
}

// DialConnectionCustom dials the UDP connection with a custom dialer.
func DialConnectionCustom(
	ctx context.Context, dialer *net.Dialer, addr string, ssrc uint32) (*Connection, error) {

	conn, err := dialer.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "failed to dial host")
	}

	ip, port, err := Discover(ctx, conn, ssrc)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Connection{
		GatewayIP:   ip,
		GatewayPort: port,
		conn:        conn,
		ssrc:        ssrc,
		buf:         make([]byte, 0, 1400),
	}, nil
}

// SSRC returns the synchronization source the connection was dialed with.
func (c *Connection) SSRC() uint32 {
	return c.ssrc
}

// UseSecret sets the secret key received in the session description.
func (c *Connection) UseSecret(secret [KeySize]byte) {
	c.mu.Lock()
	c.secret = secret
	c.hasKey = true
	c.mu.Unlock()
}

// HasSecret returns true if UseSecret was called.
func (c *Connection) HasSecret() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasKey
}

// WriteFrame frames, encrypts and sends a single Opus packet. A failure to send
// is returned as a *SendError and is never retried.
func (c *Connection) WriteFrame(seq uint16, ts uint32, opus []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.hasKey {
		return ErrNoKey
	}

	if c.closed.Load() {
		return &SendError{Err: ErrClosed}
	}

	c.buf = Seal(c.buf[:0], Header(seq, ts, c.ssrc), opus, &c.secret)

	if _, err := c.conn.Write(c.buf); err != nil {
		return &SendError{Err: err}
	}

	return nil
}

// Close closes the connection. Closing an already closed connection is a
// no-op.
func (c *Connection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}
