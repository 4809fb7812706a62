package bridge

import (
	"bytes"
	"errors"
	"testing"
)

// fakeTransport scripts the card side of bridge requests.
type fakeTransport struct {
	uid        []byte
	failure    error
	lastFrame  []byte
	response   []byte
	status     byte
	disconnect bool
}

func (f *fakeTransport) Connect() ([]byte, error) {
	if f.failure != nil {
		return nil, f.failure
	}

	return f.uid, nil
}

func (f *fakeTransport) Disconnect() error {
	f.disconnect = true
	if f.failure != nil {
		return f.failure
	}

	return nil
}

func (f *fakeTransport) Transceive(cmd []byte) ([]byte, byte, error) {
	f.lastFrame = append([]byte(nil), cmd...)
	if f.failure != nil {
		return nil, 0, f.failure
	}

	return f.response, f.status, nil
}

func TestExecuteConnect(t *testing.T) {
	t.Parallel()

	uid := []byte{0x04, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	b := &Bridge{transport: &fakeTransport{uid: uid}}

	resp := b.execute("s1", OpConnect, nil)
	want := append([]byte{StatusOK}, uid...)
	if !bytes.Equal(resp, want) {
		t.Errorf("connect response = % X, want % X", resp, want)
	}
}

func TestExecuteConnectFailure(t *testing.T) {
	t.Parallel()

	b := &Bridge{transport: &fakeTransport{failure: errors.New("no tag")}}

	resp := b.execute("s1", OpConnect, nil)
	if !bytes.Equal(resp, []byte{StatusError}) {
		t.Errorf("connect failure response = % X", resp)
	}
}

func TestExecuteTransceive(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{response: []byte{0x11, 0x22}, status: 0x00}
	b := &Bridge{transport: transport}

	frame := []byte{0x60}
	resp := b.execute("s1", OpTransceive, frame)

	want := []byte{0x00, 0x11, 0x22}
	if !bytes.Equal(resp, want) {
		t.Errorf("transceive response = % X, want % X", resp, want)
	}
	if !bytes.Equal(transport.lastFrame, frame) {
		t.Errorf("forwarded frame = % X, want % X", transport.lastFrame, frame)
	}
}

func TestExecuteTransceiveEmptyFrame(t *testing.T) {
	t.Parallel()

	b := &Bridge{transport: &fakeTransport{}}

	resp := b.execute("s1", OpTransceive, nil)
	if !bytes.Equal(resp, []byte{StatusError}) {
		t.Errorf("empty frame response = % X", resp)
	}
}

func TestExecuteDisconnect(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	b := &Bridge{transport: transport}

	resp := b.execute("s1", OpDisconnect, nil)
	if !bytes.Equal(resp, []byte{StatusOK}) {
		t.Errorf("disconnect response = % X", resp)
	}
	if !transport.disconnect {
		t.Error("disconnect did not reach the transport")
	}
}

func TestExecuteUnknownOpcode(t *testing.T) {
	t.Parallel()

	b := &Bridge{transport: &fakeTransport{}}

	resp := b.execute("s1", 0x7F, nil)
	if !bytes.Equal(resp, []byte{StatusError}) {
		t.Errorf("unknown opcode response = % X", resp)
	}
}

func TestSessionIDStable(t *testing.T) {
	t.Parallel()

	b := &Bridge{transport: &fakeTransport{}}

	first := b.sessionID("10.0.0.1:40000")
	second := b.sessionID("10.0.0.1:40000")
	other := b.sessionID("10.0.0.2:40000")

	if first != second {
		t.Error("session id changed for the same client")
	}
	if first == other {
		t.Error("distinct clients share a session id")
	}
}
