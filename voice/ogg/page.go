package ogg

import (
	"encoding/binary"
	"fmt"
)

// CapturePattern starts every page.
const CapturePattern = "OggS"

// HeaderSize is the size of the fixed page header, capture pattern included.
const HeaderSize = 27

// MaxSegmentSize is the largest lacing value. A segment of this size means
// the packet continues in the next segment.
const MaxSegmentSize = 255

// HeaderType is the bit field in the page header.
type HeaderType uint8

const (
	// Continued marks a page whose first segment continues a packet from the
	// previous page.
	Continued HeaderType = 1 << iota
	// BeginningOfStream marks the first page of a logical bitstream.
	BeginningOfStream
	// EndOfStream marks the last page of a logical bitstream.
	EndOfStream
)

// Page is a single parsed Ogg page. Body aliases the demuxer's buffer and is
// only valid until the next page is read.
type Page struct {
	Version    uint8
	HeaderType HeaderType
	Granule    int64
	Serial     uint32
	Sequence   uint32
	Checksum   uint32
	Segments   []uint8
	Body       []byte
}

func (p *Page) IsContinued() bool { return p.HeaderType&Continued != 0 }
func (p *Page) IsBOS() bool       { return p.HeaderType&BeginningOfStream != 0 }
func (p *Page) IsEOS() bool       { return p.HeaderType&EndOfStream != 0 }

// BodySize returns the body length declared by the segment table.
func (p *Page) BodySize() int {
	var n int
	for _, seg := range p.Segments {
		n += int(seg)
	}
	return n
}

func (p *Page) String() string {
	return fmt.Sprintf(
		"page #%d (serial %08x, granule %d, type %03b, %d segments, %d bytes)",
		p.Sequence, p.Serial, p.Granule, p.HeaderType, len(p.Segments), len(p.Body),
	)
}

// parseHeader decodes the fixed header. b must be HeaderSize long and start
// with the capture pattern.
func (p *Page) parseHeader(b []byte) (nsegs int) {
	p.Version = b[4]
	p.HeaderType = HeaderType(b[5])
	p.Granule = int64(binary.LittleEndian.Uint64(b[6:14]))
	p.Serial = binary.LittleEndian.Uint32(b[14:18])
	p.Sequence = binary.LittleEndian.Uint32(b[18:22])
	p.Checksum = binary.LittleEndian.Uint32(b[22:26])
	return int(b[26])
}

// Append appends the fixed header, the segment table and the body of p
// to b, computing the checksum field. It is the inverse of Demuxer.ReadPage.
func (p *Page) Append(b []byte) []byte {
	start := len(b)

	b = append(b, CapturePattern...)
	b = append(b, p.Version, byte(p.HeaderType))
	b = binary.LittleEndian.AppendUint64(b, uint64(p.Granule))
	b = binary.LittleEndian.AppendUint32(b, p.Serial)
	b = binary.LittleEndian.AppendUint32(b, p.Sequence)
	b = binary.LittleEndian.AppendUint32(b, 0)
	b = append(b, byte(len(p.Segments)))
	b = append(b, p.Segments...)
	b = append(b, p.Body...)

	p.Checksum = Checksum(b[start:])
	binary.LittleEndian.PutUint32(b[start+22:start+26], p.Checksum)

	return b
}
