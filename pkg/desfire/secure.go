package desfire

import (
	"bytes"
	"fmt"
)

// CommSettings combines a communication mode with per-exchange protection
// flags. The low nibble is the mode as stored in a file's settings; the
// flags tell Preprocess and Postprocess which protections apply to the
// current exchange.
type CommSettings int

const (
	// CommPlain transfers data unprotected.
	CommPlain CommSettings = 0x0000
	// CommMACed appends a DES/3DES MAC under the legacy scheme.
	CommMACed CommSettings = 0x0001
	// CommEnciphered transfers data CRC-protected and enciphered.
	CommEnciphered CommSettings = 0x0003

	commModeMask CommSettings = 0x000F

	// CMACCommand updates the CMAC state over the outgoing command
	// (new scheme only).
	CMACCommand CommSettings = 0x0010
	// CMACVerify checks the CMAC appended to the response
	// (new scheme only).
	CMACVerify CommSettings = 0x0020
	// MACCommand appends a MAC to the outgoing command
	// (legacy scheme, MACed mode only).
	MACCommand CommSettings = 0x0100
	// MACVerify checks the MAC appended to the response
	// (legacy scheme, MACed mode only).
	MACVerify CommSettings = 0x0200
	// EncCommand enciphers the outgoing command (enciphered mode only).
	EncCommand CommSettings = 0x1000
	// NoCRC suppresses the implicit checksum when the payload already
	// carries one.
	NoCRC CommSettings = 0x2000
)

// Mode strips the protection flags, leaving the communication mode.
func (s CommSettings) Mode() CommSettings { return s & commModeMask }

// paddedLength rounds n up to a multiple of blockSize. Zero-length data
// still occupies one block.
func paddedLength(n, blockSize int) int {
	if n == 0 || n%blockSize != 0 {
		return (n/blockSize + 1) * blockSize
	}

	return n
}

// macedLength is the size of data plus its authentication trailer.
func macedLength(key *Key, n int) int {
	return n + key.macLength()
}

// encipheredLength is the size of data once the implicit CRC is appended
// and the result padded to the session cipher's block size.
func (t *Tag) encipheredLength(n int, settings CommSettings) int {
	crc := 0
	if settings&NoCRC == 0 {
		switch t.scheme {
		case SchemeLegacy:
			crc = 2
		case SchemeNew:
			crc = 4
		}
	}

	return paddedLength(n+crc, t.sessionKey.BlockSize())
}

// ensureScratch grows the session scratch buffer to at least n bytes and
// returns it. Steady-state exchanges fit the initial allocation; only large
// reassembled reads grow it.
func (t *Tag) ensureScratch(n int) []byte {
	if cap(t.scratch) < n {
		t.scratch = make([]byte, n)
	}

	return t.scratch[:n]
}

// preprocess applies the session protections to an outgoing command. The
// first offset bytes are headers that are authenticated but never
// enciphered. The returned slice is either data itself or the tag's
// scratch buffer; it is only valid until the next crypto operation.
func (t *Tag) preprocess(data []byte, offset int, settings CommSettings) ([]byte, error) {
	if t.sessionKey == nil {
		return data, nil
	}

	key := t.sessionKey

	switch settings.Mode() {
	case CommPlain:
		if t.scheme == SchemeLegacy {
			return data, nil
		}
		// The new scheme folds plain commands into the CMAC state
		// without appending anything.
		fallthrough

	case CommMACed:
		switch t.scheme {
		case SchemeLegacy:
			if settings&MACCommand == 0 {
				return data, nil
			}

			// MAC = leading 4 bytes of the last CBC block over the
			// zero-padded payload.
			edl := paddedLength(len(data)-offset, key.BlockSize()) + offset
			res := t.ensureScratch(edl)
			copy(res, data)
			for i := len(data); i < edl; i++ {
				res[i] = 0
			}
			cipherBlocksChained(t, nil, nil, res[offset:edl], directionSend, operationEncipher)

			var mac [macLength]byte
			copy(mac[:], res[edl-8:edl-4])

			res = t.ensureScratch(len(data) + macLength)
			copy(res, data)
			copy(res[len(data):], mac[:])

			return res, nil

		case SchemeNew:
			if settings&CMACCommand == 0 {
				return data, nil
			}

			cmac(key, t.iv[:], data, t.cmacBuf[:])

			if settings.Mode() != CommMACed {
				return data, nil
			}

			res := t.ensureScratch(macedLength(key, len(data)))
			copy(res, data)
			copy(res[len(data):], t.cmacBuf[:cmacLength])

			return res, nil
		}

	case CommEnciphered:
		if settings&EncCommand == 0 {
			return data, nil
		}

		edl := t.encipheredLength(len(data)-offset, settings) + offset
		res := t.ensureScratch(edl)
		copy(res, data)

		n := len(data)
		if settings&NoCRC == 0 {
			switch t.scheme {
			case SchemeLegacy:
				// Legacy CRC16 covers the payload only.
				AppendCRC16(res[offset:], n-offset)
				n += 2
			case SchemeNew:
				// EV1 CRC32 covers command headers as well.
				AppendCRC32(res, n)
				n += 4
			}
		}
		for i := n; i < edl; i++ {
			res[i] = 0
		}

		operation := operationDecipher
		if t.scheme == SchemeNew {
			operation = operationEncipher
		}
		cipherBlocksChained(t, nil, nil, res[offset:edl], directionSend, operation)

		return res, nil

	default:
		return nil, fmt.Errorf("%w: %#04x", ErrUnsupportedSettings, int(settings))
	}

	return data, nil
}

// postprocess validates and strips the session protections from a response.
// data is the reassembled payload followed by the status byte; the returned
// slice keeps that shape, with protections removed.
func (t *Tag) postprocess(data []byte, settings CommSettings) ([]byte, error) {
	if t.sessionKey == nil {
		return data, nil
	}

	key := t.sessionKey
	status := data[len(data)-1]

	switch settings.Mode() {
	case CommPlain:
		if t.scheme == SchemeLegacy {
			return data, nil
		}
		fallthrough

	case CommMACed:
		switch t.scheme {
		case SchemeLegacy:
			if settings&MACVerify == 0 {
				return data, nil
			}

			n := len(data) - key.macLength()
			if n < 1 {
				t.lastPCDError = errCodeCrypto

				return nil, fmt.Errorf("%w: response too short for MAC", ErrCryptoVerification)
			}

			edl := t.encipheredLength(n-1, settings)
			edata := make([]byte, edl)
			copy(edata, data[:n-1])
			cipherBlocksChained(t, nil, nil, edata, directionSend, operationEncipher)

			if !bytes.Equal(data[n-1:n-1+macLength], edata[edl-8:edl-4]) {
				t.lastPCDError = errCodeCrypto

				return nil, fmt.Errorf("%w: MAC mismatch", ErrCryptoVerification)
			}

			res := data[:n]
			res[n-1] = status

			return res, nil

		case SchemeNew:
			if settings&CMACCommand == 0 {
				return data, nil
			}

			if settings&CMACVerify == 0 {
				// Not verifying, but the CMAC state still absorbs the
				// response including its status byte.
				cmac(key, t.iv[:], data, t.cmacBuf[:])

				return data, nil
			}

			if len(data) < cmacLength+1 {
				t.lastPCDError = errCodeCrypto

				return nil, fmt.Errorf("%w: response too short for CMAC", ErrCryptoVerification)
			}

			// The card computes the CMAC over payload then status, but
			// transmits payload, CMAC, status. Swap the status into
			// place for the computation, then restore.
			first := data[len(data)-1-cmacLength]
			data[len(data)-1-cmacLength] = status
			cmac(key, t.iv[:], data[:len(data)-cmacLength], t.cmacBuf[:])
			data[len(data)-1-cmacLength] = first

			if !bytes.Equal(t.cmacBuf[:cmacLength], data[len(data)-1-cmacLength:len(data)-1]) {
				t.lastPCDError = errCodeCrypto

				return nil, fmt.Errorf("%w: CMAC mismatch", ErrCryptoVerification)
			}

			res := data[:len(data)-cmacLength]
			res[len(res)-1] = status

			return res, nil
		}

	case CommEnciphered:
		return t.postprocessEnciphered(data, status)

	default:
		return nil, fmt.Errorf("%w: %#04x", ErrUnsupportedSettings, int(settings))
	}

	return data, nil
}

// postprocessEnciphered deciphers a response and locates the checksum.
// Padding makes the plaintext length ambiguous, so the CRC position is
// searched from the earliest spot it could occupy towards the end; a
// position is accepted when the checksum over everything before it
// verifies and only valid padding follows.
func (t *Tag) postprocessEnciphered(data []byte, status byte) ([]byte, error) {
	n := len(data) - 1

	res := data[:n]
	cipherBlocksChained(t, nil, nil, res, directionReceive, operationDecipher)

	crcLen := 2
	crcPos := n - 8 - 1
	if t.scheme == SchemeNew {
		crcLen = 4
		crcPos = n - 16 - 3

		// EV1 checksums cover the status byte, so it is inserted
		// between payload and CRC before searching.
		buf := t.ensureScratch(n + 1)
		copy(buf, res)
		res = buf

		if crcPos < 0 {
			crcPos = 0
		}
		copy(res[crcPos+1:n+1], res[crcPos:n])
		res[crcPos] = status
		crcPos++
		n++
	}
	if crcPos < 0 {
		crcPos = 0
	}

	verified := false
	for {
		endCrcPos := crcPos + crcLen

		crcOK := false
		switch t.scheme {
		case SchemeLegacy:
			crc := CRC16(res[:endCrcPos])
			crcOK = crc == [2]byte{}
		case SchemeNew:
			crc := CRC32(res[:endCrcPos])
			crcOK = crc == [4]byte{}
		}

		if crcOK {
			verified = true
			for i := endCrcPos; i < n-1; i++ {
				b := res[i]
				if !(b == 0x00 || (b == 0x80 && i == endCrcPos)) {
					verified = false
				}
			}
		}

		if verified || endCrcPos >= n {
			break
		}

		if t.scheme == SchemeNew {
			res[crcPos-1], res[crcPos] = res[crcPos], res[crcPos-1]
		}
		crcPos++
	}

	if !verified {
		t.lastPCDError = errCodeCrypto

		return nil, fmt.Errorf("%w: no valid checksum in deciphered data", ErrCryptoVerification)
	}

	switch t.scheme {
	case SchemeLegacy:
		out := res[:crcPos+1]
		out[crcPos] = status

		return out, nil
	default:
		// The wandering status byte ended up at res[crcPos-1], so the
		// result is already payload followed by status.
		return res[:crcPos], nil
	}
}
