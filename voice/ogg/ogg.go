// Package ogg demuxes Opus packets out of an Ogg bitstream.
//
// A Demuxer is a pull iterator: every call to Next yields the next complete
// packet, reassembling packets whose lacing values continue across segments
// and pages. Iteration is forward-only; reading the stream again requires a
// new Demuxer over a reopened source.
package ogg

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

var (
	// ErrTruncated is returned when the stream ends, or stops looking like an
	// Ogg stream, before a page flagged as end of stream is read. Callers that
	// already received packets should treat it as a natural end.
	ErrTruncated = errors.New("ogg: stream truncated before end of stream")
	// ErrBadChecksum is returned by a verifying Demuxer on a corrupt page.
	ErrBadChecksum = errors.New("ogg: page checksum mismatch")
)

// Demuxer reads Opus packets out of an Ogg stream. It is not safe for
// concurrent use.
type Demuxer struct {
	// VerifyChecksum, if true, makes ReadPage validate every page's CRC.
	VerifyChecksum bool

	r   *bufio.Reader
	hdr [HeaderSize]byte
	seg [MaxSegmentSize]byte
	buf []byte

	page    Page
	loaded  bool
	segIdx  int
	bodyOff int

	partial []byte
	packets int
	pages   int
	err     error
}

// NewDemuxer creates a new Demuxer reading from r.
func NewDemuxer(r io.Reader) *Demuxer {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReaderSize(r, 8192)
	}
	return &Demuxer{r: br}
}

// Packets returns the number of packets returned by Next so far.
func (d *Demuxer) Packets() int { return d.packets }

// Pages returns the number of pages read so far.
func (d *Demuxer) Pages() int { return d.pages }

// ReadPage reads the next page directly. Mixing ReadPage and Next drops the
// unread packets of the current page.
func (d *Demuxer) ReadPage() (*Page, error) {
	if _, err := io.ReadFull(d.r, d.hdr[:]); err != nil {
		return nil, truncated(err, "failed to read page header")
	}

	if !bytes.Equal(d.hdr[:4], []byte(CapturePattern)) {
		return nil, errors.Wrapf(ErrTruncated, "missing capture pattern at page %d", d.pages)
	}

	nsegs := d.page.parseHeader(d.hdr[:])

	d.page.Segments = d.seg[:nsegs]
	if _, err := io.ReadFull(d.r, d.page.Segments); err != nil {
		return nil, truncated(err, "failed to read segment table")
	}

	size := d.page.BodySize()
	if cap(d.buf) < size {
		d.buf = make([]byte, size)
	}

	d.page.Body = d.buf[:size]
	if _, err := io.ReadFull(d.r, d.page.Body); err != nil {
		return nil, truncated(err, "failed to read page body")
	}

	if d.VerifyChecksum {
		if crc := d.checksum(); crc != d.page.Checksum {
			return nil, errors.Wrapf(ErrBadChecksum,
				"page %d: expected %08x, computed %08x", d.page.Sequence, d.page.Checksum, crc)
		}
	}

	d.pages++
	d.loaded = true
	d.segIdx = 0
	d.bodyOff = 0

	return &d.page, nil
}

func (d *Demuxer) checksum() uint32 {
	var hdr [HeaderSize]byte
	copy(hdr[:], d.hdr[:])
	binary.LittleEndian.PutUint32(hdr[22:26], 0)

	crc := crcUpdate(0, hdr[:])
	crc = crcUpdate(crc, d.page.Segments)
	crc = crcUpdate(crc, d.page.Body)
	return crc
}

// Next returns the next complete packet. The returned slice is owned by the
// caller. After the end-of-stream page is drained, Next returns io.EOF; if the
// stream ends without one, it returns an error wrapping ErrTruncated. Errors
// are sticky.
func (d *Demuxer) Next() ([]byte, error) {
	for d.err == nil {
		if d.loaded {
			if pkt, ok := d.nextInPage(); ok {
				d.packets++
				return pkt, nil
			}

			if d.page.IsEOS() {
				d.err = io.EOF
				break
			}
		}

		if _, err := d.ReadPage(); err != nil {
			d.err = err
		}
	}

	return nil, d.err
}

// nextInPage walks the segment table of the current page, accumulating into
// the partial packet. It returns false once the page is exhausted, leaving any
// unterminated packet to be continued by the next page.
func (d *Demuxer) nextInPage() ([]byte, bool) {
	for d.segIdx < len(d.page.Segments) {
		n := int(d.page.Segments[d.segIdx])

		d.partial = append(d.partial, d.page.Body[d.bodyOff:d.bodyOff+n]...)
		d.segIdx++
		d.bodyOff += n

		if n < MaxSegmentSize {
			pkt := d.partial
			if pkt == nil {
				pkt = []byte{}
			}
			d.partial = nil
			return pkt, true
		}
	}

	return nil, false
}

func truncated(err error, wrap string) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return errors.Wrap(ErrTruncated, wrap)
	}
	return errors.Wrap(err, wrap)
}

// IsOpusHeader reports whether the packet is an OpusHead identification
// header or an OpusTags comment header. Neither carries audio.
func IsOpusHeader(packet []byte) bool {
	return bytes.HasPrefix(packet, []byte("OpusHead")) ||
		bytes.HasPrefix(packet, []byte("OpusTags"))
}
