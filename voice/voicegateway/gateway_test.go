package voicegateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"github.com/voicestream/voicestream/discord"
	"github.com/voicestream/voicestream/internal/heart"
	"github.com/voicestream/voicestream/internal/mockvoice"
	"github.com/voicestream/voicestream/utils/json"
	"github.com/voicestream/voicestream/utils/ws"
)

func TestClassifyClose(t *testing.T) {
	codes := []int{-1, 1000, 1001, 1006, 4001, 4002, 4003, 4004, 4005, 4006, 4009, 4011, 4012, 4014, 4015, 4016, 4999, 1234}

	got := make(map[int]CloseAction, len(codes))
	for _, code := range codes {
		got[code] = ClassifyClose(code)
	}

	expect := map[int]CloseAction{
		-1:   ReconnectResume,
		1000: CloseTerminal,
		1001: ReconnectResume,
		1006: ReconnectResume,
		4001: CloseTerminal,
		4002: CloseTerminal,
		4003: CloseTerminal,
		4004: CloseTerminal,
		4005: CloseTerminal,
		4006: ReconnectIdentify,
		4009: ReconnectIdentify,
		4011: CloseTerminal,
		4012: CloseTerminal,
		4014: CloseTerminal,
		4015: ReconnectResume,
		4016: CloseTerminal,
		4999: CloseTerminal,
		1234: CloseTerminal,
	}

	if diff := cmp.Diff(expect, got); diff != "" {
		t.Fatal("unexpected classification (-want +got):\n" + diff)
	}
}

func TestCloseError(t *testing.T) {
	reason := errors.New("4004 authentication failed")

	var err error = CloseErrorFor(CloseAuthFailed, reason)
	if !errors.Is(err, ErrUnauthorized) {
		t.Error("4004 is not ErrUnauthorized:", err)
	}
	if !errors.Is(err, reason) {
		t.Error("close error does not wrap its reason")
	}

	err = errors.Wrap(CloseErrorFor(CloseSessionInvalid, nil), "reconnect")
	if !errors.Is(err, ErrSessionInvalidated) {
		t.Error("4006 is not ErrSessionInvalidated:", err)
	}

	var closeErr *CloseError
	if !errors.As(err, &closeErr) || closeErr.Code != CloseSessionInvalid {
		t.Error("failed to get the close code back:", err)
	}
	if closeErr.Action() != ReconnectIdentify {
		t.Error("unexpected action:", closeErr.Action())
	}

	err = CloseErrorFor(CloseDisconnected, nil)
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrSessionInvalidated) {
		t.Error("4014 matched a sentinel:", err)
	}
}

func TestCommandEncoding(t *testing.T) {
	codec := ws.NewCodec(OpUnmarshalers)

	state := State{
		GuildID:   123,
		UserID:    456,
		SessionID: "session",
		Token:     "token",
	}

	identify, err := NewIdentifyCommand(state)
	if err != nil {
		t.Fatal("failed to create identify:", err)
	}

	tests := []struct {
		ev     ws.Event
		expect string
	}{
		{
			identify,
			`{"op":0,"d":{"server_id":"123","user_id":"456","session_id":"session","token":"token"}}`,
		},
		{
			&ResumeCommand{GuildID: 123, SessionID: "session", Token: "token"},
			`{"op":7,"d":{"server_id":"123","session_id":"session","token":"token"}}`,
		},
		{
			&SpeakingCommand{Speaking: Microphone | Priority, SSRC: 99},
			`{"op":5,"d":{"speaking":5,"delay":0,"ssrc":99}}`,
		},
		{
			&SpeakingCommand{Speaking: NotSpeaking, SSRC: 99},
			`{"op":5,"d":{"speaking":0,"delay":0,"ssrc":99}}`,
		},
		{
			&SelectProtocolCommand{
				Protocol: "udp",
				Data:     SelectProtocolData{Address: "203.0.113.5", Port: 50000, Mode: "xsalsa20_poly1305"},
			},
			`{"op":1,"d":{"protocol":"udp","data":{"address":"203.0.113.5","port":50000,"mode":"xsalsa20_poly1305"}}}`,
		},
	}

	for _, test := range tests {
		b, err := codec.Encode(test.ev)
		if err != nil {
			t.Fatalf("failed to encode op %d: %v", test.ev.Op(), err)
		}
		if string(b) != test.expect {
			t.Errorf("op %d:\n got %s\nwant %s", test.ev.Op(), b, test.expect)
		}
	}

	if _, err := NewIdentifyCommand(State{GuildID: 1}); !errors.Is(err, ErrMissingForIdentify) {
		t.Error("expected ErrMissingForIdentify, got", err)
	}
	if _, err := NewResumeCommand(State{GuildID: 1}); !errors.Is(err, ErrMissingForResume) {
		t.Error("expected ErrMissingForResume, got", err)
	}
}

func TestHeartbeatNonce(t *testing.T) {
	before := time.Now().UnixMilli()
	h := NewHeartbeatCommand()
	after := time.Now().UnixMilli()

	if int64(*h) < before || int64(*h) > after {
		t.Fatalf("nonce %d is not the current time in milliseconds", *h)
	}
}

func testState(srv *mockvoice.Server) State {
	return State{
		GuildID:   discord.GuildID(1),
		ChannelID: discord.ChannelID(2),
		UserID:    discord.UserID(3),
		SessionID: "session",
		Token:     "token",
		Endpoint:  srv.Endpoint(),
	}
}

// waitFor reads ops until fn returns true.
func waitFor(t *testing.T, ctx context.Context, ch <-chan ws.Op, fn func(ws.Op) bool) ws.Op {
	t.Helper()

	for {
		op, err := ws.ReadOp(ctx, ch)
		if err != nil {
			t.Fatal("failed to read op:", err)
		}
		if fn(op) {
			return op
		}
	}
}

func isOp(code ws.OpCode) func(ws.Op) bool {
	return func(op ws.Op) bool { return op.Code == code }
}

func TestGatewayIdentify(t *testing.T) {
	srv := mockvoice.New(t)
	srv.HeartbeatInterval = 100 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	g := New(testState(srv))

	ch, err := g.Open(ctx, false)
	if err != nil {
		t.Fatal("failed to open:", err)
	}

	f, err := srv.Next(ctx, int(IdentifyOp))
	if err != nil {
		t.Fatal(err)
	}

	var identify IdentifyCommand
	if err := json.Unmarshal(f.Data, &identify); err != nil {
		t.Fatal("failed to decode identify:", err)
	}

	expect := IdentifyCommand{GuildID: 1, UserID: 3, SessionID: "session", Token: "token"}
	if diff := cmp.Diff(expect, identify); diff != "" {
		t.Fatal("unexpected identify (-want +got):\n" + diff)
	}

	hello := waitFor(t, ctx, ch, isOp(HelloOp))
	if d := hello.Data.(*HelloEvent).HeartbeatInterval.Duration(); d != 100*time.Millisecond {
		t.Fatal("unexpected heartbeat interval:", d)
	}

	ready := waitFor(t, ctx, ch, isOp(ReadyOp)).Data.(*ReadyEvent)
	if ready.SSRC != srv.SSRC || ready.Port != srv.UDPAddr().Port {
		t.Fatal("unexpected ready:", spew.Sdump(ready))
	}
	if g.Ready().SSRC != srv.SSRC {
		t.Fatal("Ready() was not updated")
	}

	// The heartbeat starts after Hello and is acknowledged.
	if _, err := srv.Next(ctx, int(HeartbeatOp)); err != nil {
		t.Fatal(err)
	}
	waitFor(t, ctx, ch, isOp(HeartbeatAckOp))

	if err := g.Speaking(ctx, Microphone, ready.SSRC); err != nil {
		t.Fatal("failed to send speaking:", err)
	}

	f, err = srv.Next(ctx, int(SpeakingOp))
	if err != nil {
		t.Fatal(err)
	}

	var speaking SpeakingCommand
	if err := json.Unmarshal(f.Data, &speaking); err != nil {
		t.Fatal("failed to decode speaking:", err)
	}
	if speaking.Speaking != Microphone || speaking.SSRC != srv.SSRC {
		t.Fatal("unexpected speaking:", spew.Sdump(speaking))
	}

	if err := g.Close(); err != nil {
		t.Fatal("failed to close:", err)
	}
	if err := g.Close(); err != nil {
		t.Fatal("second close errored:", err)
	}

	for range ch {
	}

	if err := g.Send(ctx, NewHeartbeatCommand()); err == nil {
		t.Fatal("expected send after close to fail")
	}
}

func TestGatewayResume(t *testing.T) {
	srv := mockvoice.New(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	g := New(testState(srv))
	t.Cleanup(func() { g.Close() })

	ch, err := g.Open(ctx, true)
	if err != nil {
		t.Fatal("failed to open:", err)
	}

	if _, err := srv.Next(ctx, int(ResumeOp)); err != nil {
		t.Fatal(err)
	}

	waitFor(t, ctx, ch, isOp(ResumedOp))

	if n := srv.Count(int(IdentifyOp)); n != 0 {
		t.Fatal("resume also identified", n, "times")
	}
}

func TestGatewayRemoteClose(t *testing.T) {
	srv := mockvoice.New(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	g := New(testState(srv))
	t.Cleanup(func() { g.Close() })

	ch, err := g.Open(ctx, false)
	if err != nil {
		t.Fatal("failed to open:", err)
	}

	waitFor(t, ctx, ch, isOp(ReadyOp))

	srv.Kick(CloseDisconnected)

	op := waitFor(t, ctx, ch, func(op ws.Op) bool {
		_, ok := op.Data.(*ws.CloseEvent)
		return ok
	})

	if code := op.Data.(*ws.CloseEvent).Code; code != CloseDisconnected {
		t.Fatal("unexpected close code:", code)
	}

	if _, err := ws.ReadOp(ctx, ch); !errors.Is(err, ws.ErrWebsocketClosed) {
		t.Fatal("expected channel to be closed, got", err)
	}

	// The gateway can be reopened after being closed. The websocket is
	// already gone, so the close error does not matter.
	g.Close()

	ch, err = g.Open(ctx, true)
	if err != nil {
		t.Fatal("failed to reopen:", err)
	}
	waitFor(t, ctx, ch, isOp(ResumedOp))
}

func TestGatewayDeadHeartbeat(t *testing.T) {
	srv := mockvoice.New(t)
	srv.HeartbeatInterval = 50 * time.Millisecond
	srv.AckHeartbeats = false

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	g := New(testState(srv))
	t.Cleanup(func() { g.Close() })

	ch, err := g.Open(ctx, false)
	if err != nil {
		t.Fatal("failed to open:", err)
	}

	op := waitFor(t, ctx, ch, func(op ws.Op) bool {
		_, ok := op.Data.(*ws.CloseEvent)
		return ok
	})

	closeEv := op.Data.(*ws.CloseEvent)
	if closeEv.Code != CloseNoFrame || !errors.Is(closeEv.Err, heart.ErrDead) {
		t.Fatal("unexpected close event:", spew.Sdump(closeEv))
	}
	if ClassifyClose(closeEv.Code) != ReconnectResume {
		t.Fatal("a dead heartbeat must be resumed")
	}
}

func TestGatewayMissingState(t *testing.T) {
	g := New(State{Endpoint: "127.0.0.1:1"})

	if _, err := g.Open(context.Background(), false); !errors.Is(err, ErrMissingForIdentify) {
		t.Fatal("expected ErrMissingForIdentify, got", err)
	}

	g = New(State{GuildID: 1, UserID: 1, SessionID: "a", Token: "b"})
	if _, err := g.Open(context.Background(), false); !errors.Is(err, ErrNoEndpoint) {
		t.Fatal("expected ErrNoEndpoint, got", err)
	}
}

// recordingConn is a ws.Connection that records what the gateway does with it.
type recordingConn struct {
	mu     sync.Mutex
	addr   string
	sent   [][]byte
	closes []bool
	ops    chan ws.Op
}

func (c *recordingConn) Dial(ctx context.Context, addr string) (<-chan ws.Op, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.addr = addr
	c.ops = make(chan ws.Op, 1)
	return c.ops, nil
}

func (c *recordingConn) Send(ctx context.Context, b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sent = append(c.sent, append([]byte(nil), b...))
	return nil
}

func (c *recordingConn) Close(gracefully bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closes = append(c.closes, gracefully)
	return nil
}

func TestGatewayCustomConnection(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := &recordingConn{}

	g, err := NewWithConnection(State{
		GuildID:   1,
		UserID:    2,
		SessionID: "session",
		Token:     "token",
		Endpoint:  "voice.example:443",
	}, conn)
	if err != nil {
		t.Fatal("failed to create gateway:", err)
	}

	ch, err := g.Open(ctx, false)
	if err != nil {
		t.Fatal("failed to open:", err)
	}

	conn.mu.Lock()
	addr, sent := conn.addr, conn.sent
	conn.mu.Unlock()

	if addr != "wss://voice.example:443/?v=4" {
		t.Fatal("unexpected endpoint:", addr)
	}
	if len(sent) != 1 {
		t.Fatal("expected only the identify to be sent, got", len(sent))
	}

	var frame struct {
		Op   OpCode   `json:"op"`
		Data json.Raw `json:"d"`
	}
	if err := json.Unmarshal(sent[0], &frame); err != nil {
		t.Fatal("invalid frame:", err)
	}
	if frame.Op != IdentifyOp {
		t.Fatal("expected identify, got op", frame.Op)
	}

	conn.ops <- ws.Op{Code: -1, Data: &ws.CloseEvent{Code: CloseDisconnected}}

	op, err := ws.ReadOp(ctx, ch)
	if err != nil {
		t.Fatal("no close event:", err)
	}
	closeEv, ok := op.Data.(*ws.CloseEvent)
	if !ok || closeEv.Code != CloseDisconnected {
		t.Fatal("unexpected event:", spew.Sdump(op.Data))
	}

	if err := g.Close(); err != nil {
		t.Fatal("failed to close:", err)
	}

	conn.mu.Lock()
	closes := conn.closes
	conn.mu.Unlock()

	if diff := cmp.Diff([]bool{false}, closes); diff != "" {
		t.Fatal("unexpected closes (-want +got):\n" + diff)
	}

	if _, err := NewWithConnection(State{}, conn); !errors.Is(err, ErrNoEndpoint) {
		t.Fatal("expected ErrNoEndpoint, got", err)
	}
}
