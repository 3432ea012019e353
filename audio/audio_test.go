package audio

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/voicestream/voicestream/voice/ogg"
	"github.com/voicestream/voicestream/voice/testdata"
)

type countingCloser struct {
	io.Reader
	closed int
}

func (c *countingCloser) Close() error {
	c.closed++
	return nil
}

func TestReaderCleanupOnce(t *testing.T) {
	rc := &countingCloser{Reader: bytes.NewReader(nil)}
	src := Reader(rc)

	for i := 0; i < 3; i++ {
		if err := src.Cleanup(); err != nil {
			t.Fatal("unexpected cleanup error:", err)
		}
	}

	if rc.closed != 1 {
		t.Fatalf("expected 1 close, got %d", rc.closed)
	}

	// Plain readers have nothing to clean up.
	if err := Reader(bytes.NewReader(nil)).Cleanup(); err != nil {
		t.Fatal("unexpected cleanup error:", err)
	}
}

func TestOggFile(t *testing.T) {
	packets := testdata.Packets(5, 300)
	stream := testdata.OggStream{Serial: 7, Headers: true}.Encode(packets)

	path := filepath.Join(t.TempDir(), "test.ogg")
	if err := os.WriteFile(path, stream, 0o644); err != nil {
		t.Fatal("failed to write ogg file:", err)
	}

	src, err := OggFile(path)
	if err != nil {
		t.Fatal("failed to open:", err)
	}
	defer src.Cleanup()

	d := ogg.NewDemuxer(src.IO())

	var got [][]byte
	for {
		p, err := d.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal("failed to demux:", err)
		}
		if !ogg.IsOpusHeader(p) {
			got = append(got, p)
		}
	}

	if diff := cmp.Diff(packets, got); diff != "" {
		t.Fatal("packets differ (-want +got):\n" + diff)
	}

	if err := src.Cleanup(); err != nil {
		t.Fatal("failed to clean up:", err)
	}
	if _, err := src.IO().Read(make([]byte, 1)); err == nil {
		t.Fatal("expected read after cleanup to fail")
	}
}

func TestOggFileMissing(t *testing.T) {
	if _, err := OggFile(filepath.Join(t.TempDir(), "missing.ogg")); err == nil {
		t.Fatal("expected error opening a missing file")
	}
}

func TestFFmpegArgs(t *testing.T) {
	args := ffmpegArgs("in.mp3", FFmpegOptions{
		InputArgs:  []string{"-ss", "5"},
		OutputArgs: []string{"-vbr", "off"},
	})

	expect := []string{
		"-hide_banner", "-loglevel", "warning",
		"-ss", "5",
		"-i", "in.mp3",
		"-vn",
		"-f", "opus",
		"-c:a", "libopus",
		"-ar", "48000",
		"-ac", "2",
		"-b:a", "128k",
		"-frame_duration", "20",
		"-map_metadata", "-1",
		"-vbr", "off",
		"pipe:1",
	}

	if diff := cmp.Diff(expect, args); diff != "" {
		t.Fatal("unexpected args (-want +got):\n" + diff)
	}

	args = ffmpegArgs("in.mp3", FFmpegOptions{Bitrate: 96})
	if !contains(args, "96k") {
		t.Fatal("bitrate not applied:", args)
	}
}

func contains(args []string, v string) bool {
	for _, arg := range args {
		if arg == v {
			return true
		}
	}
	return false
}

func TestSpool(t *testing.T) {
	path, err := spool(bytes.NewReader([]byte("hello")))
	if err != nil {
		t.Fatal("failed to spool:", err)
	}
	defer os.Remove(path)

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal("failed to read spool:", err)
	}
	if string(b) != "hello" {
		t.Fatalf("unexpected spool content %q", b)
	}
}

func TestFFmpegReader(t *testing.T) {
	if _, err := exec.LookPath(FFmpegPath); err != nil {
		t.Skip("ffmpeg not found:", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Re-encode one of our own streams, which only needs FFmpeg's opus
	// decoder and libopus encoder.
	stream := testdata.OggStream{Serial: 1, Headers: true}.Encode([][]byte{testdata.Silence, testdata.Silence})

	src, err := FFmpegReader(ctx, bytes.NewReader(stream), FFmpegOptions{})
	if err != nil {
		t.Fatal("failed to start ffmpeg:", err)
	}

	s := src.(*ffmpegSource)

	if _, err := io.Copy(io.Discard, src.IO()); err != nil {
		t.Log("ffmpeg output ended with:", err)
	}

	if err := src.Cleanup(); err != nil {
		t.Fatal("failed to clean up:", err)
	}
	if err := src.Cleanup(); err != nil {
		t.Fatal("second cleanup failed:", err)
	}

	if _, err := os.Stat(s.spool); !os.IsNotExist(err) {
		t.Fatal("spool file not removed:", err)
	}
}

func TestObjectStoreClient(t *testing.T) {
	client, err := ObjectStore{
		Endpoint:  "127.0.0.1:9000",
		AccessKey: "access",
		SecretKey: "secret",
	}.Client()
	if err != nil {
		t.Fatal("failed to create client:", err)
	}
	if client.EndpointURL().Host != "127.0.0.1:9000" {
		t.Fatal("unexpected endpoint:", client.EndpointURL())
	}

	if _, err := (ObjectStore{}).Client(); err == nil {
		t.Fatal("expected error for an empty endpoint")
	}
}
