package sl032

import (
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
)

const defaultTimeout = 200 * time.Millisecond

// Reader is an SL032 attached to a serial line. It implements the DESFire
// Transceiver contract: Connect, Disconnect and Transceive.
type Reader struct {
	port    io.ReadWriter
	timeout time.Duration
	log     zerolog.Logger
}

// Option configures a Reader.
type Option func(*Reader)

// WithTimeout overrides the per-frame response timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Reader) { r.timeout = d }
}

// WithLogger attaches a logger; every frame exchanged is logged at debug
// level.
func WithLogger(log zerolog.Logger) Option {
	return func(r *Reader) { r.log = log }
}

// NewReader wraps an open serial port. The port's read timeout should be
// short; the Reader enforces the overall deadline itself.
func NewReader(port io.ReadWriter, opts ...Option) *Reader {
	r := &Reader{
		port:    port,
		timeout: defaultTimeout,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// roundTrip sends one command frame and reads the matching response frame.
func (r *Reader) roundTrip(cmd byte, data []byte) (*response, error) {
	frame := buildFrame(cmd, data)

	r.log.Debug().Hex("frame", frame).Msg("sl032 tx")

	if _, err := r.port.Write(frame); err != nil {
		return nil, fmt.Errorf("write frame: %w", err)
	}

	raw, err := r.readFrame()
	if err != nil {
		return nil, err
	}

	r.log.Debug().Hex("frame", raw).Msg("sl032 rx")

	resp, err := parseFrame(raw)
	if err != nil {
		return nil, err
	}
	if resp.cmd != cmd {
		return nil, fmt.Errorf("response command %#02x does not match request %#02x", resp.cmd, cmd)
	}

	return resp, nil
}

// readFrame accumulates one reader frame, using the length byte to know
// when it is complete. Serial reads are polled until the deadline expires.
func (r *Reader) readFrame() ([]byte, error) {
	buf := make([]byte, 0, maxFrameSize)
	tmp := make([]byte, maxFrameSize)
	deadline := time.Now().Add(r.timeout)

	for {
		want := 2
		if len(buf) >= 2 {
			want = int(buf[1]) + 2
		}
		if len(buf) >= want && want > 2 {
			return buf, nil
		}

		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}

		n, err := r.port.Read(tmp)
		if err != nil {
			return nil, fmt.Errorf("read frame: %w", err)
		}
		buf = append(buf, tmp[:n]...)
	}
}

// SelectCard activates a card in the field, returning its type code and
// anticollision UID.
func (r *Reader) SelectCard() (byte, []byte, error) {
	resp, err := r.roundTrip(CmdSelectCard, nil)
	if err != nil {
		return 0, nil, err
	}
	if resp.status == StatusNoTag {
		return 0, nil, ErrNoTag
	}
	if resp.status != StatusSuccess {
		return 0, nil, &ReaderError{Command: CmdSelectCard, Status: resp.status}
	}
	if len(resp.data) < 1 {
		return 0, nil, fmt.Errorf("select card: empty response")
	}

	// Response data is the UID followed by one card type byte.
	cardType := resp.data[len(resp.data)-1]
	uid := make([]byte, len(resp.data)-1)
	copy(uid, resp.data)

	return cardType, uid, nil
}

// RequestATS switches the selected card to ISO 14443-4, returning its
// answer-to-select.
func (r *Reader) RequestATS() ([]byte, error) {
	resp, err := r.roundTrip(CmdRATS, nil)
	if err != nil {
		return nil, err
	}
	if resp.status != StatusSuccess {
		return nil, &ReaderError{Command: CmdRATS, Status: resp.status}
	}

	ats := make([]byte, len(resp.data))
	copy(ats, resp.data)

	return ats, nil
}

// Connect selects a DESFire card and brings it to ISO 14443-4, returning
// its UID.
func (r *Reader) Connect() ([]byte, error) {
	cardType, uid, err := r.SelectCard()
	if err != nil {
		return nil, err
	}
	if cardType != CardTypeDESFire {
		return nil, fmt.Errorf("%w: card type %#02x", ErrNotDESFire, cardType)
	}

	if _, err := r.RequestATS(); err != nil {
		return nil, err
	}

	return uid, nil
}

// Disconnect releases the card. The SL032 drops the selection as soon as
// another SelectCard is issued, so there is nothing to send.
func (r *Reader) Disconnect() error { return nil }

// Transceive exchanges one native DESFire frame via T=CL. The first byte
// of the card's answer is its status; the rest is payload.
func (r *Reader) Transceive(cmd []byte) ([]byte, byte, error) {
	resp, err := r.roundTrip(CmdTCL, cmd)
	if err != nil {
		return nil, 0, err
	}
	if resp.status != StatusSuccess {
		return nil, 0, &ReaderError{Command: CmdTCL, Status: resp.status}
	}
	if len(resp.data) < 1 {
		return nil, 0, fmt.Errorf("t=cl response missing status byte")
	}

	data := make([]byte, len(resp.data)-1)
	copy(data, resp.data[1:])

	return data, resp.data[0], nil
}
