package desfire

import "encoding/binary"

// Multi-byte fields in native commands travel least significant byte
// first. AIDs, offsets and lengths are 24 bit.

func le16(b []byte) uint16 { return binary.LittleEndian.Uint16(b) }

func le24(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

func le32(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }

func appendLE16(buf []byte, v uint16) []byte {
	return append(buf, byte(v), byte(v>>8))
}

func appendLE24(buf []byte, v uint32) []byte {
	return append(buf, byte(v), byte(v>>8), byte(v>>16))
}

func appendLE32(buf []byte, v uint32) []byte {
	return append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}
