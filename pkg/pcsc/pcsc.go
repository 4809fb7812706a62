// Package pcsc exposes a PC/SC smart card slot as a DESFire transport.
// Native commands are wrapped in ISO 7816-4 APDUs with class 0x90; the
// card mirrors its status byte into SW2 with SW1 fixed at 0x91.
package pcsc

import (
	"errors"
	"fmt"

	"github.com/ebfe/scard"
)

const (
	nativeClass byte = 0x90
	nativeSW1   byte = 0x91
)

var (
	// ErrNoReader is returned when no PC/SC reader is attached.
	ErrNoReader = errors.New("no pcsc reader available")
	// ErrNotConnected is returned when no card connection is open.
	ErrNotConnected = errors.New("no card connected")
)

// Device is one PC/SC reader slot.
type Device struct {
	ctx    *scard.Context
	reader string
	card   *scard.Card
}

// ListReaders enumerates the attached PC/SC readers.
func ListReaders() ([]string, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("establish pcsc context: %w", err)
	}
	defer ctx.Release()

	readers, err := ctx.ListReaders()
	if err != nil {
		return nil, fmt.Errorf("list pcsc readers: %w", err)
	}

	return readers, nil
}

// Open prepares a device on the named reader. An empty name picks the
// first reader found.
func Open(reader string) (*Device, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("establish pcsc context: %w", err)
	}

	if reader == "" {
		readers, err := ctx.ListReaders()
		if err != nil {
			ctx.Release()

			return nil, fmt.Errorf("list pcsc readers: %w", err)
		}
		if len(readers) == 0 {
			ctx.Release()

			return nil, ErrNoReader
		}
		reader = readers[0]
	}

	return &Device{ctx: ctx, reader: reader}, nil
}

// Close releases the PC/SC context.
func (d *Device) Close() error {
	if d.card != nil {
		_ = d.card.Disconnect(scard.LeaveCard)
		d.card = nil
	}

	return d.ctx.Release()
}

// Connect waits for a card in the slot and returns its UID, fetched with
// the PC/SC get-data pseudo-APDU.
func (d *Device) Connect() ([]byte, error) {
	card, err := d.ctx.Connect(d.reader, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		return nil, fmt.Errorf("connect reader %s: %w", d.reader, err)
	}
	d.card = card

	resp, err := card.Transmit([]byte{0xFF, 0xCA, 0x00, 0x00, 0x00})
	if err != nil {
		_ = d.Disconnect()

		return nil, fmt.Errorf("get uid: %w", err)
	}
	if len(resp) < 2 || resp[len(resp)-2] != 0x90 || resp[len(resp)-1] != 0x00 {
		_ = d.Disconnect()

		return nil, fmt.Errorf("get uid: unexpected status %x", resp)
	}

	return resp[:len(resp)-2], nil
}

// Disconnect releases the card.
func (d *Device) Disconnect() error {
	if d.card == nil {
		return ErrNotConnected
	}

	err := d.card.Disconnect(scard.LeaveCard)
	d.card = nil
	if err != nil {
		return fmt.Errorf("disconnect card: %w", err)
	}

	return nil
}

// Transceive wraps one native DESFire frame in an APDU and unwraps the
// card's answer into payload and status byte.
func (d *Device) Transceive(cmd []byte) ([]byte, byte, error) {
	if d.card == nil {
		return nil, 0, ErrNotConnected
	}
	if len(cmd) == 0 {
		return nil, 0, fmt.Errorf("empty command")
	}

	apdu := make([]byte, 0, 6+len(cmd))
	apdu = append(apdu, nativeClass, cmd[0], 0x00, 0x00)
	if len(cmd) > 1 {
		apdu = append(apdu, byte(len(cmd)-1))
		apdu = append(apdu, cmd[1:]...)
	}
	apdu = append(apdu, 0x00)

	resp, err := d.card.Transmit(apdu)
	if err != nil {
		return nil, 0, fmt.Errorf("transmit apdu: %w", err)
	}
	if len(resp) < 2 {
		return nil, 0, fmt.Errorf("short apdu response (%d bytes)", len(resp))
	}

	sw1 := resp[len(resp)-2]
	sw2 := resp[len(resp)-1]
	if sw1 != nativeSW1 {
		return nil, 0, fmt.Errorf("unexpected status word %02x%02x", sw1, sw2)
	}

	return resp[:len(resp)-2], sw2, nil
}
