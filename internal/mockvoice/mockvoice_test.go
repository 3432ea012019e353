package mockvoice

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/voicestream/voicestream/voice/udp"
)

func TestIsDiscovery(t *testing.T) {
	request := udp.DiscoveryPacket(0xCAFE)
	if !isDiscovery(request[:]) {
		t.Fatal("discovery request not recognized")
	}

	// 12 header bytes, 16 tag bytes and 42 payload bytes: as long as a
	// discovery request, but it is audio.
	var key [udp.KeySize]byte
	frame := udp.Seal(nil, udp.Header(2, 1920, 0xCAFE), make([]byte, 42), &key)
	if len(frame) != udp.DiscoverySize {
		t.Fatalf("expected a %d byte frame, got %d", udp.DiscoverySize, len(frame))
	}
	if isDiscovery(frame) {
		t.Fatal("audio frame mistaken for discovery")
	}
}

func TestServerAudioOfDiscoverySize(t *testing.T) {
	srv := New(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := udp.DialConnection(ctx, srv.UDPAddr().String(), srv.SSRC)
	if err != nil {
		t.Fatal("failed to dial:", err)
	}
	defer conn.Close()

	conn.UseSecret(srv.SecretKey)

	payloads := [][]byte{
		bytes.Repeat([]byte{1}, 41),
		bytes.Repeat([]byte{2}, 42),
		bytes.Repeat([]byte{3}, 43),
	}

	for i, p := range payloads {
		if err := conn.WriteFrame(uint16(i+1), uint32(i+1)*960, p); err != nil {
			t.Fatal("failed to write frame:", err)
		}
	}

	for i, p := range payloads {
		f, err := srv.NextAudio(ctx)
		if err != nil {
			t.Fatalf("frame %d: %v", i+1, err)
		}
		if f.Header.SequenceNumber != uint16(i+1) {
			t.Fatalf("expected sequence %d, got %d", i+1, f.Header.SequenceNumber)
		}
		if !bytes.Equal(f.Opus, p) {
			t.Fatalf("frame %d: payload mismatch", i+1)
		}
	}
}
