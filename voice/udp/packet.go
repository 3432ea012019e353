package udp

import (
	"github.com/pion/rtp"
	"github.com/pkg/errors"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// HeaderSize is the size of the fixed RTP header of every audio datagram.
	HeaderSize = 12
	// PayloadType is the RTP payload type of voice packets.
	PayloadType = 0x78
	// NonceSize is the xsalsa20_poly1305 nonce size. The nonce is the header
	// right-padded with zeroes.
	NonceSize = 24
	// KeySize is the size of the session secret key.
	KeySize = 32
)

// EncryptionMode is the only encryption mode this package speaks.
const EncryptionMode = "xsalsa20_poly1305"

// ErrDecryptionFailed is returned from Open if the datagram fails to
// authenticate.
var ErrDecryptionFailed = errors.New("decryption failed")

// Header returns the 12-byte header for one audio frame:
//
//	0x80 0x78 | sequence (BE) | timestamp (BE) | ssrc (BE)
func Header(seq uint16, ts uint32, ssrc uint32) [HeaderSize]byte {
	h := rtp.Header{
		Version:        2,
		PayloadType:    PayloadType,
		SequenceNumber: seq,
		Timestamp:      ts,
		SSRC:           ssrc,
	}

	var b [HeaderSize]byte
	if _, err := h.MarshalTo(b[:]); err != nil {
		// A header with no CSRCs and no extension always fits.
		panic("udp: failed to marshal RTP header: " + err.Error())
	}

	return b
}

// Seal appends the header followed by the sealed Opus packet to dst and
// returns the extended slice. The ciphertext carries its Poly1305 tag.
func Seal(dst []byte, header [HeaderSize]byte, opus []byte, key *[KeySize]byte) []byte {
	var nonce [NonceSize]byte
	copy(nonce[:], header[:])

	dst = append(dst, header[:]...)
	return secretbox.Seal(dst, opus, &nonce, key)
}

// Open is the reverse of Seal. It parses the RTP header of a datagram and
// decrypts the payload into a new slice.
func Open(datagram []byte, key *[KeySize]byte) (rtp.Header, []byte, error) {
	var h rtp.Header
	if len(datagram) < HeaderSize {
		return h, nil, errors.Errorf("datagram is only %d bytes", len(datagram))
	}

	n, err := h.Unmarshal(datagram)
	if err != nil {
		return h, nil, errors.Wrap(err, "failed to parse RTP header")
	}

	var nonce [NonceSize]byte
	copy(nonce[:], datagram[:HeaderSize])

	opus, ok := secretbox.Open(nil, datagram[n:], &nonce, key)
	if !ok {
		return h, nil, ErrDecryptionFailed
	}

	return h, opus, nil
}
