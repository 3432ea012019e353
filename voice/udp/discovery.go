package udp

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"time"

	"github.com/pkg/errors"
)

// DiscoverySize is the size of both the IP discovery request and its reply.
const DiscoverySize = 70

// DiscoveryTimeout bounds how long Discover waits for the reply when the
// context has no earlier deadline.
var DiscoveryTimeout = 5 * time.Second

// ErrDiscoveryTimeout is returned if the voice server never answers the IP
// discovery request.
var ErrDiscoveryTimeout = errors.New("UDP IP discovery timed out")

// DiscoveryPacket returns the IP discovery request for the given SSRC: type 1,
// length 70 and the SSRC, all big-endian, zero padded to 70 bytes.
func DiscoveryPacket(ssrc uint32) [DiscoverySize]byte {
	var b [DiscoverySize]byte
	binary.BigEndian.PutUint16(b[0:2], 1)
	binary.BigEndian.PutUint16(b[2:4], DiscoverySize)
	binary.BigEndian.PutUint32(b[4:8], ssrc)
	return b
}

// ParseDiscovery parses an IP discovery reply. The external address is the
// NUL-terminated string starting at offset 4, and the external port is the
// big-endian integer in the last 2 bytes.
func ParseDiscovery(b []byte) (ip string, port uint16, err error) {
	if len(b) < DiscoverySize {
		return "", 0, errors.Errorf("discovery reply is %d bytes, expected %d", len(b), DiscoverySize)
	}
	b = b[:DiscoverySize]

	body := b[4 : DiscoverySize-2]

	nullPos := bytes.IndexByte(body, 0)
	if nullPos < 0 {
		return "", 0, errors.New("UDP IP discovery did not contain a null terminator")
	}
	if nullPos == 0 {
		return "", 0, errors.New("UDP IP discovery returned an empty address")
	}

	ip = string(body[:nullPos])
	port = binary.BigEndian.Uint16(b[DiscoverySize-2:])

	return ip, port, nil
}

// Discover sends the IP discovery request over conn and waits for the reply.
// The wait ends at the earliest of the context deadline and DiscoveryTimeout;
// running out of time returns an error wrapping ErrDiscoveryTimeout.
func Discover(ctx context.Context, conn net.Conn, ssrc uint32) (string, uint16, error) {
	req := DiscoveryPacket(ssrc)

	if _, err := conn.Write(req[:]); err != nil {
		return "", 0, errors.Wrap(err, "failed to write SSRC buffer")
	}

	deadline := time.Now().Add(DiscoveryTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := conn.SetReadDeadline(deadline); err != nil {
		return "", 0, errors.Wrap(err, "failed to set read deadline")
	}
	defer conn.SetReadDeadline(time.Time{})

	// Unblock the read early if the context is cancelled.
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	// Leave room for an oversized reply so that it is not silently cut.
	var reply [DiscoverySize * 2]byte

	n, err := conn.Read(reply[:])
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return "", 0, errors.Wrap(ctx.Err(), "IP discovery cancelled")
		}

		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "", 0, errors.Wrapf(ErrDiscoveryTimeout, "no reply from %s", conn.RemoteAddr())
		}

		return "", 0, errors.Wrap(err, "failed to read IP buffer")
	}

	return ParseDiscovery(reply[:n])
}
