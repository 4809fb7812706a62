// Package sl032 drives the StrongLink SL032 contactless reader over its
// serial protocol and exposes it as a DESFire transport. Host frames are
// {0xBA, len, cmd, data.., checksum}; reader frames are {0xBD, len, cmd,
// status, data.., checksum}, with len counting from cmd to checksum and the
// checksum an XOR over every preceding byte.
package sl032

import (
	"errors"
	"fmt"
)

const (
	hostPreamble   byte = 0xBA
	readerPreamble byte = 0xBD

	// maxFrameSize is the largest reader frame, preamble to checksum.
	maxFrameSize = 64
)

// Reader command codes.
const (
	CmdSelectCard byte = 0x01
	CmdRATS       byte = 0x20
	CmdTCL        byte = 0x21
)

// Reader status codes.
const (
	StatusSuccess     byte = 0x00
	StatusNoTag       byte = 0x01
	StatusATSFailed   byte = 0x10
	StatusTCLFailed   byte = 0x11
	StatusCollision   byte = 0x0A
	StatusChecksumErr byte = 0xF0
	StatusCommandErr  byte = 0xF1
)

// Card type codes reported by SelectCard.
const (
	CardTypeDESFire byte = 0x06
)

var (
	// ErrTimeout is returned when the reader does not answer in time.
	ErrTimeout = errors.New("reader timeout")
	// ErrChecksum is returned when a reader frame fails its XOR check.
	ErrChecksum = errors.New("frame checksum mismatch")
	// ErrNoTag is returned when no card is in the reader's field.
	ErrNoTag = errors.New("no tag in field")
	// ErrNotDESFire is returned when the selected card is not a DESFire.
	ErrNotDESFire = errors.New("card is not a DESFire")
)

// ReaderError is a non-success status reported by the SL032.
type ReaderError struct {
	Command byte
	Status  byte
}

func (e *ReaderError) Error() string {
	return fmt.Sprintf("sl032 command %#02x failed with status %#02x", e.Command, e.Status)
}

// buildFrame assembles a host frame around cmd and data.
func buildFrame(cmd byte, data []byte) []byte {
	frame := make([]byte, 0, 4+len(data))
	frame = append(frame, hostPreamble, byte(len(data)+2), cmd)
	frame = append(frame, data...)

	var checksum byte
	for _, b := range frame {
		checksum ^= b
	}

	return append(frame, checksum)
}

// response is a parsed reader frame.
type response struct {
	cmd    byte
	status byte
	data   []byte
}

// parseFrame validates a complete reader frame. XOR-ing every byte
// including the checksum must yield zero.
func parseFrame(raw []byte) (*response, error) {
	if len(raw) < 5 || raw[0] != readerPreamble {
		return nil, fmt.Errorf("%w: malformed frame", ErrChecksum)
	}
	if int(raw[1])+2 != len(raw) {
		return nil, fmt.Errorf("%w: length %d does not match frame size %d", ErrChecksum, raw[1], len(raw))
	}

	var checksum byte
	for _, b := range raw {
		checksum ^= b
	}
	if checksum != 0 {
		return nil, ErrChecksum
	}

	return &response{
		cmd:    raw[2],
		status: raw[3],
		data:   raw[4 : len(raw)-1],
	}, nil
}
