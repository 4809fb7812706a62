package desfire

import "encoding/binary"

const (
	crc16Preset = 0x6363
	crc32Poly   = 0xEDB88320
	crc32Preset = 0xFFFFFFFF
)

// CRC16 computes the ISO 14443-3 Type A checksum over data. The two result
// bytes are in transmission order, least significant byte first.
func CRC16(data []byte) [2]byte {
	crc := uint16(crc16Preset)
	for _, b := range data {
		b ^= byte(crc)
		b ^= b << 4
		crc = (crc >> 8) ^ (uint16(b) << 8) ^ (uint16(b) << 3) ^ (uint16(b) >> 4)
	}

	return [2]byte{byte(crc), byte(crc >> 8)}
}

// AppendCRC16 checksums data[:n] and writes the result into data[n:n+2].
// The caller guarantees the extra capacity.
func AppendCRC16(data []byte, n int) {
	crc := CRC16(data[:n])
	copy(data[n:n+2], crc[:])
}

// CRC32 computes the DESFire EV1 CRC over data: reflected polynomial
// 0xEDB88320, preset 0xFFFFFFFF and no final complement. The four result
// bytes are least significant byte first.
func CRC32(data []byte) [4]byte {
	crc := uint32(crc32Preset)
	for _, b := range data {
		crc ^= uint32(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ crc32Poly
			} else {
				crc >>= 1
			}
		}
	}

	var out [4]byte
	binary.LittleEndian.PutUint32(out[:], crc)

	return out
}

// AppendCRC32 checksums data[:n] and writes the result into data[n:n+4].
// The caller guarantees the extra capacity.
func AppendCRC32(data []byte, n int) {
	crc := CRC32(data[:n])
	copy(data[n:n+4], crc[:])
}
