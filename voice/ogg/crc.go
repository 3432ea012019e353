package ogg

// Ogg uses the unreflected CRC-32 with polynomial 0x04c11db7, zero initial
// value and no final XOR, which hash/crc32 can't express.
const crcPoly = 0x04c11db7

var crcTable = func() (t [256]uint32) {
	for i := range t {
		r := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if r&0x80000000 != 0 {
				r = r<<1 ^ crcPoly
			} else {
				r <<= 1
			}
		}
		t[i] = r
	}
	return
}()

func crcUpdate(crc uint32, b []byte) uint32 {
	for _, v := range b {
		crc = crc<<8 ^ crcTable[byte(crc>>24)^v]
	}
	return crc
}

// Checksum computes the checksum of a whole serialized page. The checksum
// field inside page is treated as zero regardless of its contents.
func Checksum(page []byte) uint32 {
	if len(page) < HeaderSize {
		return crcUpdate(0, page)
	}

	var zero [4]byte

	crc := crcUpdate(0, page[:22])
	crc = crcUpdate(crc, zero[:])
	crc = crcUpdate(crc, page[26:])
	return crc
}
