// Package desfire implements the MIFARE DESFire native command set and its
// secure messaging: CRC16/CRC32 integrity, the DES/3DES/3K3DES/AES key
// model, CBC chaining with distinct send and receive directions, the
// plain/MACed/enciphered transformation pipeline and three-pass mutual
// authentication. Transport is abstracted behind the Transceiver interface
// so the same stack drives a serial reader or a PC/SC slot.
package desfire

import "fmt"

const (
	// maxFrameSize is the largest frame the reader link carries.
	maxFrameSize = 60
	// framePayloadSize is the DESFire payload capacity of one link frame.
	framePayloadSize = maxFrameSize - 5
	// maxWriteLength bounds a single WriteData invocation.
	maxWriteLength = 60

	macLength          = 4
	cmacLength         = 8
	maxCryptoBlockSize = 16

	// initialScratchSize covers the worst-case enciphered single command:
	// frame payload plus CRC, rounded up to an AES block.
	initialScratchSize = maxFrameSize + 4 + maxCryptoBlockSize - 1

	// NotAuthenticated is the authenticated key number of a session
	// without a valid authentication.
	NotAuthenticated byte = 0xFF

	additionalFrame byte = 0xAF
	uidLength            = 7
)

// AuthScheme distinguishes the legacy DESFire secure messaging from the
// EV1 CMAC-based one. The scheme is fixed by the authentication command
// that opened the session.
type AuthScheme int

const (
	// SchemeLegacy is DES/3DES messaging with 4 byte MACs and a zero IV
	// at the start of every exchange.
	SchemeLegacy AuthScheme = iota
	// SchemeNew is 3K3DES/AES messaging with 8 byte CMACs and an IV
	// carried across exchanges.
	SchemeNew
)

// Transceiver exchanges one native DESFire frame with a card. Transceive
// returns the card's response payload and its status byte separately.
type Transceiver interface {
	Connect() (uid []byte, err error)
	Disconnect() error
	Transceive(cmd []byte) (data []byte, status byte, err error)
}

// Tag is one card session: the transport underneath it and all secure
// messaging state accumulated since the last authentication.
type Tag struct {
	transport Transceiver

	active      bool
	uid         [uidLength]byte
	selectedApp uint32

	scheme     AuthScheme
	sessionKey *Key
	authKeyNo  byte
	iv         [maxCryptoBlockSize]byte
	cmacBuf    [maxCryptoBlockSize]byte
	scratch    []byte

	lastPICCError byte
	lastPCDError  byte
}

// NewTag wraps a transport in a fresh, inactive session.
func NewTag(transport Transceiver) *Tag {
	return &Tag{
		transport: transport,
		authKeyNo: NotAuthenticated,
		scratch:   make([]byte, initialScratchSize),
	}
}

// Connect activates a card on the transport and resets the session state.
func (t *Tag) Connect() error {
	if t.active {
		return ErrAlreadyConnected
	}

	uid, err := t.transport.Connect()
	if err != nil {
		return fmt.Errorf("connect tag: %w", err)
	}

	t.reset()
	t.active = true
	copy(t.uid[:], uid)

	return nil
}

// Disconnect deactivates the session. The card itself is deselected by the
// transport.
func (t *Tag) Disconnect() error {
	if !t.active {
		return ErrNotConnected
	}

	t.active = false
	t.sessionKey = nil
	t.authKeyNo = NotAuthenticated

	if err := t.transport.Disconnect(); err != nil {
		return fmt.Errorf("disconnect tag: %w", err)
	}

	return nil
}

func (t *Tag) reset() {
	t.active = false
	t.sessionKey = nil
	t.authKeyNo = NotAuthenticated
	t.selectedApp = 0
	t.lastPICCError = 0
	t.lastPCDError = 0
	t.iv = [maxCryptoBlockSize]byte{}
}

// UID returns the UID captured when the card was activated.
func (t *Tag) UID() []byte {
	uid := make([]byte, uidLength)
	copy(uid, t.uid[:])

	return uid
}

// Connected reports whether a card is currently activated.
func (t *Tag) Connected() bool { return t.active }

// Authenticated reports whether the session holds a valid authentication.
func (t *Tag) Authenticated() bool { return t.authKeyNo != NotAuthenticated }

// AuthenticatedKeyNo returns the key number of the current authentication,
// or NotAuthenticated.
func (t *Tag) AuthenticatedKeyNo() byte { return t.authKeyNo }

// SelectedApplication returns the AID selected on the card.
func (t *Tag) SelectedApplication() uint32 { return t.selectedApp }

// LastPICCError returns the most recent non-OK status the card reported,
// or nil.
func (t *Tag) LastPICCError() error {
	if t.lastPICCError == 0 {
		return nil
	}

	return PICCStatus(t.lastPICCError)
}

// transceive sends one logical command, splitting it into link frames and
// reassembling a chained response. Outgoing chunks after the first carry
// the additional-frame marker; the card acknowledges each with the same
// marker until the final status. Incoming chains are drained by polling
// with a bare marker. The returned slice is the reassembled payload
// followed by the final status byte.
func (t *Tag) transceive(cmd []byte) ([]byte, error) {
	var (
		resp   []byte
		status byte
	)

	sent := 0
	first := true
	for {
		end := sent + framePayloadSize
		if end > len(cmd) {
			end = len(cmd)
		}

		frame := cmd[sent:end]
		if !first {
			frame = append([]byte{additionalFrame}, frame...)
		}

		data, st, err := t.transport.Transceive(frame)
		if err != nil {
			return nil, fmt.Errorf("transceive: %w", err)
		}

		sent = end
		status = st
		resp = append(resp, data...)

		if sent >= len(cmd) {
			break
		}
		if st != additionalFrame {
			// Card cut the exchange short.
			break
		}
		first = false
	}

	for status == additionalFrame {
		data, st, err := t.transport.Transceive([]byte{additionalFrame})
		if err != nil {
			return nil, fmt.Errorf("transceive continuation: %w", err)
		}
		if st == additionalFrame && len(data) == 0 {
			// The card wants more command data we do not have; bail out
			// instead of polling forever.
			t.lastPICCError = additionalFrame

			return nil, PICCStatus(additionalFrame)
		}
		resp = append(resp, data...)
		status = st
	}

	return append(resp, status), nil
}

// command runs the full pipeline for a single command: preprocess with the
// transmit settings, exchange, check the card status and postprocess with
// the receive settings. It returns the response payload without the status
// byte.
func (t *Tag) command(cmd []byte, offset int, tx, rx CommSettings) ([]byte, error) {
	if !t.active {
		return nil, ErrNotConnected
	}

	p, err := t.preprocess(cmd, offset, tx)
	if err != nil {
		return nil, err
	}

	resp, err := t.transceive(p)
	if err != nil {
		return nil, err
	}

	if status := resp[len(resp)-1]; status != statusOperationOK {
		t.lastPICCError = status

		return nil, PICCStatus(status)
	}

	res, err := t.postprocess(resp, rx)
	if err != nil {
		return nil, err
	}

	return res[:len(res)-1], nil
}
