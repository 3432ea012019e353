package audio

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/voicestream/voicestream/internal/logging"
)

// FFmpegPath is the FFmpeg binary looked up in $PATH.
var FFmpegPath = "ffmpeg"

// DefaultBitrate is the Opus bitrate in kbit/s used when none is given.
const DefaultBitrate = 128

// FFmpegOptions tunes the transcoder.
type FFmpegOptions struct {
	// Bitrate is the Opus bitrate in kbit/s.
	Bitrate int
	// InputArgs are passed before -i, e.g. {"-ss", "30"}.
	InputArgs []string
	// OutputArgs are passed after the encoder settings.
	OutputArgs []string
}

// ffmpegArgs returns the arguments that transcode input into 48kHz stereo Opus
// in an Ogg container written to stdout.
func ffmpegArgs(input string, opts FFmpegOptions) []string {
	bitrate := opts.Bitrate
	if bitrate <= 0 {
		bitrate = DefaultBitrate
	}

	args := []string{"-hide_banner", "-loglevel", "warning"}
	args = append(args, opts.InputArgs...)
	args = append(args,
		"-i", input,
		"-vn",
		"-f", "opus",
		"-c:a", "libopus",
		"-ar", "48000",
		"-ac", "2",
		"-b:a", strconv.Itoa(bitrate)+"k",
		"-frame_duration", "20",
		"-map_metadata", "-1",
	)
	args = append(args, opts.OutputArgs...)
	args = append(args, "pipe:1")

	return args
}

type ffmpegSource struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer
	spool  string
	c      cleanup
}

// FFmpeg transcodes a file path or URL with FFmpeg. Cleanup kills the process
// and closes its output.
func FFmpeg(ctx context.Context, input string, opts FFmpegOptions) (Source, error) {
	return startFFmpeg(ctx, input, "", opts)
}

// FFmpegReader transcodes a stream with FFmpeg. The stream is spooled into a
// temporary file first so FFmpeg can probe it; Cleanup removes the file.
func FFmpegReader(ctx context.Context, r io.Reader, opts FFmpegOptions) (Source, error) {
	path, err := spool(r)
	if err != nil {
		return nil, err
	}

	src, err := startFFmpeg(ctx, path, path, opts)
	if err != nil {
		os.Remove(path)
		return nil, err
	}

	return src, nil
}

func spool(r io.Reader) (string, error) {
	f, err := os.CreateTemp("", "voicestream-*.spool")
	if err != nil {
		return "", errors.Wrap(err, "failed to create spool file")
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", errors.Wrap(err, "failed to spool audio")
	}

	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", errors.Wrap(err, "failed to close spool file")
	}

	return f.Name(), nil
}

func startFFmpeg(ctx context.Context, input, spool string, opts FFmpegOptions) (*ffmpegSource, error) {
	cmd := exec.CommandContext(ctx, FFmpegPath, ffmpegArgs(input, opts)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get stdout pipe")
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "failed to start ffmpeg")
	}

	logging.Named("audio").Debugw("ffmpeg started", "input", input, "pid", cmd.Process.Pid)

	s := &ffmpegSource{
		cmd:    cmd,
		stdout: stdout,
		stderr: &stderr,
		spool:  spool,
	}
	s.c.fn = s.cleanup

	return s, nil
}

func (s *ffmpegSource) IO() io.Reader  { return s.stdout }
func (s *ffmpegSource) Cleanup() error { return s.c.run() }

func (s *ffmpegSource) cleanup() error {
	// The process may have exited on its own already.
	if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logging.Named("audio").Debugw("failed to kill ffmpeg", "err", err)
	}

	s.stdout.Close()
	waitErr := s.cmd.Wait()

	if s.spool != "" {
		if err := os.Remove(s.spool); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "failed to remove spool file")
		}
	}

	// Killing it is the normal way out, so only report what FFmpeg said.
	if msg := strings.TrimSpace(s.stderr.String()); msg != "" && waitErr != nil {
		logging.Named("audio").Debugw("ffmpeg exited", "err", waitErr, "stderr", msg)
	}

	return nil
}
