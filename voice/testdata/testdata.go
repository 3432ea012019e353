// Package testdata builds synthetic Ogg/Opus streams for tests.
package testdata

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/voicestream/voicestream/voice/ogg"
)

// OpusHead is a minimal identification header for a 48kHz stereo stream.
var OpusHead = func() []byte {
	b := []byte("OpusHead")
	// version, channels
	b = append(b, 1, 2)
	// pre-skip, input sample rate, output gain
	b = binary.LittleEndian.AppendUint16(b, 312)
	b = binary.LittleEndian.AppendUint32(b, 48000)
	b = binary.LittleEndian.AppendUint16(b, 0)
	// mapping family
	b = append(b, 0)
	return b
}()

// OpusTags is a comment header with no comments.
var OpusTags = func() []byte {
	b := []byte("OpusTags")
	b = binary.LittleEndian.AppendUint32(b, 11)
	b = append(b, "voicestream"...)
	b = binary.LittleEndian.AppendUint32(b, 0)
	return b
}()

// Silence is the Opus silence frame.
var Silence = []byte{0xF8, 0xFF, 0xFE}

// Packets returns n deterministic fake Opus packets. Packet i is size+i bytes
// long and filled with byte(i+1), so reordering and truncation are visible.
func Packets(n, size int) [][]byte {
	packets := make([][]byte, n)
	for i := range packets {
		packets[i] = bytes.Repeat([]byte{byte(i + 1)}, size+i)
	}
	return packets
}

// OggStream describes how packets are laid out into pages.
type OggStream struct {
	Serial uint32
	// MaxSegments caps the segment table of each page. Zero means 255.
	MaxSegments int
	// Headers, if true, prepends OpusHead and OpusTags on their own pages.
	Headers bool
	// NoEOS leaves the last page without the end-of-stream flag.
	NoEOS bool
	// TrailingGarbage is appended after the last page.
	TrailingGarbage []byte
}

// Encode lays the packets out into a serialized Ogg stream.
func (s OggStream) Encode(packets [][]byte) []byte {
	maxSegs := s.MaxSegments
	if maxSegs <= 0 || maxSegs > 255 {
		maxSegs = 255
	}

	var out, body []byte
	var segs []uint8
	var seq uint32
	var granule int64

	pageType := ogg.BeginningOfStream

	flush := func(last bool) {
		if len(segs) == 0 && !last {
			return
		}
		if last && !s.NoEOS {
			pageType |= ogg.EndOfStream
		}
		page := ogg.Page{
			HeaderType: pageType,
			Granule:    granule,
			Serial:     s.Serial,
			Sequence:   seq,
			Segments:   segs,
			Body:       body,
		}
		out = page.Append(out)
		seq++
		pageType = 0
		segs = nil
		body = nil
	}

	if s.Headers {
		for _, header := range [][]byte{OpusHead, OpusTags} {
			segs, body = lace(header), header
			flush(false)
		}
	}

	for _, packet := range packets {
		laces := lace(packet)
		off := 0

		for j, l := range laces {
			if len(segs) == maxSegs {
				flush(false)
				// The next page continues a packet if we are mid-lacing.
				if j > 0 {
					pageType |= ogg.Continued
				}
			}
			segs = append(segs, l)
			body = append(body, packet[off:off+int(l)]...)
			off += int(l)
		}

		granule += 960
	}

	flush(true)

	return append(out, s.TrailingGarbage...)
}

// lace returns the segment table entries for one packet.
func lace(packet []byte) []uint8 {
	laces := make([]uint8, 0, len(packet)/255+1)
	for n := len(packet); ; n -= 255 {
		if n < 255 {
			return append(laces, uint8(n))
		}
		laces = append(laces, 255)
	}
}

// Reassemble is the naive reference: it concatenates continuation segments
// across all pages of a serialized stream until a terminating segment.
func Reassemble(stream []byte) [][]byte {
	var (
		packets [][]byte
		partial []byte
	)

	for len(stream) >= ogg.HeaderSize && string(stream[:4]) == ogg.CapturePattern {
		nsegs := int(stream[26])
		table := stream[ogg.HeaderSize : ogg.HeaderSize+nsegs]
		body := stream[ogg.HeaderSize+nsegs:]

		for _, seg := range table {
			partial = append(partial, body[:seg]...)
			body = body[seg:]
			if seg < 255 {
				packets = append(packets, append([]byte{}, partial...))
				partial = partial[:0]
			}
		}

		eos := ogg.HeaderType(stream[5])&ogg.EndOfStream != 0
		stream = body
		if eos {
			break
		}
	}

	return packets
}

// WriterFunc wraps f to be an io.Writer.
type WriterFunc func([]byte) (int, error)

func (w WriterFunc) Write(b []byte) (int, error) {
	return w(b)
}

var _ io.Writer = WriterFunc(nil)
