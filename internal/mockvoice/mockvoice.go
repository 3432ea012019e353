// Package mockvoice runs an in-process voice server for tests: a websocket
// signaling endpoint speaking the voice gateway protocol and a loopback UDP
// socket answering IP discovery and decrypting audio frames.
package mockvoice

import (
	"context"
	"encoding/binary"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pkg/errors"
	"nhooyr.io/websocket"

	"github.com/voicestream/voicestream/discord"
	"github.com/voicestream/voicestream/utils/json"
	"github.com/voicestream/voicestream/voice/udp"
)

// Frame is a signaling frame received from the client.
type Frame struct {
	Op   int      `json:"op"`
	Data json.Raw `json:"d"`
}

// AudioFrame is a decrypted audio datagram received from the client.
type AudioFrame struct {
	Header rtp.Header
	Opus   []byte
	At     time.Time
}

// Server is a fake voice server.
type Server struct {
	// SSRC is handed out in the Ready event.
	SSRC uint32
	// SecretKey is handed out in the session description.
	SecretKey [udp.KeySize]byte
	// HeartbeatInterval is sent in Hello.
	HeartbeatInterval time.Duration
	// AckHeartbeats controls whether heartbeats are acknowledged.
	AckHeartbeats bool
	// OnIdentify, if set, replaces the Ready reply to an Identify. It may use
	// Kick to reject the session.
	OnIdentify func(s *Server, f Frame)

	t    *testing.T
	http *httptest.Server
	udp  *net.UDPConn

	mutex    sync.Mutex
	current  *websocket.Conn
	conns    int
	frames   map[int][]Frame
	cursors  map[int]int
	notify   chan struct{}
	audio    chan AudioFrame
	closeOne sync.Once
}

// New starts a new server and stops it once the test ends.
func New(t *testing.T) *Server {
	t.Helper()

	s := &Server{
		SSRC:              0xCAFE,
		HeartbeatInterval: time.Second,
		AckHeartbeats:     true,
		t:                 t,
		frames:            make(map[int][]Frame),
		cursors:           make(map[int]int),
		notify:            make(chan struct{}),
		audio:             make(chan AudioFrame, 4096),
	}

	for i := range s.SecretKey {
		s.SecretKey[i] = byte(0xF0 ^ i)
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal("failed to listen UDP:", err)
	}
	s.udp = conn
	go s.serveUDP()

	s.http = httptest.NewServer(http.HandlerFunc(s.serveWS))

	t.Cleanup(s.Close)
	return s
}

// Endpoint returns the signaling endpoint to put in the voice state.
func (s *Server) Endpoint() string {
	return "ws://" + strings.TrimPrefix(s.http.URL, "http://")
}

// UDPAddr returns the address of the UDP socket.
func (s *Server) UDPAddr() *net.UDPAddr {
	return s.udp.LocalAddr().(*net.UDPAddr)
}

// Connections returns the number of accepted websocket connections.
func (s *Server) Connections() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.conns
}

// Close stops the server.
func (s *Server) Close() {
	s.closeOne.Do(func() {
		s.http.Close()
		s.udp.Close()
	})
}

// Kick closes the current signaling connection with the given close code.
func (s *Server) Kick(code int) {
	s.mutex.Lock()
	c := s.current
	s.current = nil
	s.mutex.Unlock()

	if c != nil {
		c.Close(websocket.StatusCode(code), "kicked")
	}
}

// Send writes an event to the current signaling connection.
func (s *Server) Send(op int, data any) error {
	s.mutex.Lock()
	c := s.current
	s.mutex.Unlock()

	if c == nil {
		return errors.New("no client connected")
	}

	return s.write(context.Background(), c, op, data)
}

// Next returns the next frame with the given opcode that has not been
// returned yet, waiting for one if needed.
func (s *Server) Next(ctx context.Context, op int) (Frame, error) {
	for {
		s.mutex.Lock()
		frames := s.frames[op]
		cursor := s.cursors[op]
		notify := s.notify

		if cursor < len(frames) {
			s.cursors[op]++
			s.mutex.Unlock()
			return frames[cursor], nil
		}
		s.mutex.Unlock()

		select {
		case <-notify:
		case <-ctx.Done():
			return Frame{}, errors.Wrapf(ctx.Err(), "waiting for op %d", op)
		}
	}
}

// Count returns how many frames with the given opcode were received.
func (s *Server) Count(op int) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.frames[op])
}

// Audio returns the channel of decrypted audio frames.
func (s *Server) Audio() <-chan AudioFrame {
	return s.audio
}

// NextAudio waits for the next audio frame.
func (s *Server) NextAudio(ctx context.Context) (AudioFrame, error) {
	select {
	case f := <-s.audio:
		return f, nil
	case <-ctx.Done():
		return AudioFrame{}, errors.Wrap(ctx.Err(), "waiting for audio")
	}
}

func (s *Server) record(f Frame) {
	s.mutex.Lock()
	s.frames[f.Op] = append(s.frames[f.Op], f)
	close(s.notify)
	s.notify = make(chan struct{})
	s.mutex.Unlock()
}

func (s *Server) write(ctx context.Context, c *websocket.Conn, op int, data any) error {
	d, err := json.Marshal(data)
	if err != nil {
		return err
	}

	b, err := json.Marshal(Frame{Op: op, Data: d})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return c.Write(ctx, websocket.MessageText, b)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.t.Error("mockvoice: failed to accept:", err)
		return
	}
	defer c.Close(websocket.StatusInternalError, "")

	ctx := r.Context()

	s.mutex.Lock()
	s.current = c
	s.conns++
	s.mutex.Unlock()

	s.write(ctx, c, 8, map[string]any{
		"heartbeat_interval": discord.DurationToMilliseconds(s.HeartbeatInterval),
	})

	for {
		_, b, err := c.Read(ctx)
		if err != nil {
			return
		}

		var f Frame
		if err := json.Unmarshal(b, &f); err != nil {
			s.t.Error("mockvoice: invalid frame:", err)
			return
		}

		s.record(f)

		switch f.Op {
		case 0: // Identify
			if s.OnIdentify != nil {
				s.OnIdentify(s, f)
				continue
			}
			s.write(ctx, c, 2, s.ready())

		case 1: // Select Protocol
			s.write(ctx, c, 4, map[string]any{
				"mode":       udp.EncryptionMode,
				"secret_key": s.SecretKey,
			})

		case 3: // Heartbeat
			if s.AckHeartbeats {
				s.write(ctx, c, 6, f.Data)
			}

		case 7: // Resume
			s.write(ctx, c, 9, nil)
		}
	}
}

// ready returns the Ready payload pointing to the UDP socket.
func (s *Server) ready() map[string]any {
	addr := s.UDPAddr()

	return map[string]any{
		"ssrc":  s.SSRC,
		"ip":    addr.IP.String(),
		"port":  addr.Port,
		"modes": []string{udp.EncryptionMode},
	}
}

// Ready sends the default Ready event. It is meant to be called from
// OnIdentify.
func (s *Server) Ready() error {
	return s.Send(2, s.ready())
}

// isDiscovery reports whether b is an IP discovery request rather than audio.
// An audio datagram may have the same length, but it starts with the RTP
// version byte.
func isDiscovery(b []byte) bool {
	return len(b) == udp.DiscoverySize &&
		binary.BigEndian.Uint16(b[0:2]) == 1 &&
		binary.BigEndian.Uint16(b[2:4]) == udp.DiscoverySize
}

func (s *Server) serveUDP() {
	buf := make([]byte, 2048)

	for {
		n, addr, err := s.udp.ReadFromUDP(buf)
		if err != nil {
			return
		}

		if isDiscovery(buf[:n]) {
			reply := make([]byte, udp.DiscoverySize)
			copy(reply[4:], addr.IP.String())
			reply[udp.DiscoverySize-2] = byte(addr.Port >> 8)
			reply[udp.DiscoverySize-1] = byte(addr.Port)
			s.udp.WriteToUDP(reply, addr)
			continue
		}

		h, opus, err := udp.Open(buf[:n], &s.SecretKey)
		if err != nil {
			s.t.Error("mockvoice: failed to open audio frame:", err)
			continue
		}

		select {
		case s.audio <- AudioFrame{Header: h, Opus: opus, At: time.Now()}:
		default:
			s.t.Error("mockvoice: audio buffer full")
		}
	}
}
