package desfire

import (
	"bytes"
	"crypto/rand"
	"fmt"
)

// Authentication command codes. The command fixes the session's secure
// messaging scheme, so each key type maps to exactly one of them.
const (
	cmdAuthenticateLegacy byte = 0x0A
	cmdAuthenticateISO    byte = 0x1A
	cmdAuthenticateAES    byte = 0xAA
)

// Authenticate performs the three-pass mutual authentication with the given
// key, choosing the authentication command from the key type. On success
// the session holds a freshly derived session key and, under the new
// scheme, its CMAC subkeys.
func (t *Tag) Authenticate(keyNo byte, key *Key) error {
	switch key.keyType {
	case TypeDES, Type3DES:
		return t.authenticate(cmdAuthenticateLegacy, keyNo, key)
	case Type3K3DES:
		return t.authenticate(cmdAuthenticateISO, keyNo, key)
	case TypeAES:
		return t.authenticate(cmdAuthenticateAES, keyNo, key)
	default:
		return fmt.Errorf("%w: unknown key type %d", ErrMalformedKey, key.keyType)
	}
}

// AuthenticateISO runs the handshake with the ISO command, which the card
// only accepts for DES-family keys.
func (t *Tag) AuthenticateISO(keyNo byte, key *Key) error {
	if key.keyType == TypeAES {
		return fmt.Errorf("%w: ISO authentication needs a DES family key", ErrMalformedKey)
	}

	return t.authenticate(cmdAuthenticateISO, keyNo, key)
}

// AuthenticateAES runs the handshake with the AES command.
func (t *Tag) AuthenticateAES(keyNo byte, key *Key) error {
	if key.keyType != TypeAES {
		return fmt.Errorf("%w: AES authentication needs an AES key", ErrMalformedKey)
	}

	return t.authenticate(cmdAuthenticateAES, keyNo, key)
}

// rotateLeft moves the first byte of data to the end, in place.
func rotateLeft(data []byte) {
	first := data[0]
	copy(data, data[1:])
	data[len(data)-1] = first
}

func (t *Tag) authenticate(cmd, keyNo byte, key *Key) error {
	if !t.active {
		return ErrNotConnected
	}

	// A new handshake invalidates whatever session there was.
	t.iv = [maxCryptoBlockSize]byte{}
	t.authKeyNo = NotAuthenticated
	t.sessionKey = nil
	if cmd == cmdAuthenticateLegacy {
		t.scheme = SchemeLegacy
	} else {
		t.scheme = SchemeNew
	}

	// Pass 1: the card answers with its enciphered challenge.
	data, status, err := t.transport.Transceive([]byte{cmd, keyNo})
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	if status != statusAdditionalFrame {
		t.lastPICCError = status

		return fmt.Errorf("authenticate: %w", PICCStatus(status))
	}

	keyLength := len(data)
	if keyLength != key.BlockSize() && keyLength != 2*key.BlockSize() {
		return fmt.Errorf("%w: unexpected challenge length %d", ErrAuthenticationFailed, keyLength)
	}

	rndB := make([]byte, keyLength)
	copy(rndB, data)
	cipherBlocksChained(t, key, t.iv[:], rndB, directionReceive, operationDecipher)

	// Pass 2: answer with our own challenge chained to the card's,
	// rotated one byte.
	rndA := make([]byte, keyLength)
	if _, err := rand.Read(rndA); err != nil {
		return fmt.Errorf("authenticate: generate challenge: %w", err)
	}

	token := make([]byte, 1+2*keyLength)
	token[0] = additionalFrame
	copy(token[1:1+keyLength], rndA)
	copy(token[1+keyLength:], rndB)
	rotateLeft(token[1+keyLength:])

	operation := operationDecipher
	if t.scheme == SchemeNew {
		operation = operationEncipher
	}
	cipherBlocksChained(t, key, t.iv[:], token[1:], directionSend, operation)

	data, status, err = t.transport.Transceive(token)
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	if status != statusOperationOK {
		t.lastPICCError = status

		return fmt.Errorf("authenticate: %w", PICCStatus(status))
	}
	if len(data) != keyLength {
		return fmt.Errorf("%w: unexpected proof length %d", ErrAuthenticationFailed, len(data))
	}

	// Pass 3: the card proves knowledge of the key by returning our
	// challenge rotated.
	proof := make([]byte, keyLength)
	copy(proof, data)
	cipherBlocksChained(t, key, t.iv[:], proof, directionReceive, operationDecipher)

	expected := make([]byte, keyLength)
	copy(expected, rndA)
	rotateLeft(expected)

	if !bytes.Equal(proof, expected) {
		t.lastPCDError = errCodeCrypto

		return ErrAuthenticationFailed
	}

	sessionKey, err := newSessionKey(rndA, rndB, key)
	if err != nil {
		return fmt.Errorf("authenticate: derive session key: %w", err)
	}

	t.authKeyNo = keyNo
	t.sessionKey = sessionKey
	t.iv = [maxCryptoBlockSize]byte{}
	if t.scheme == SchemeNew {
		t.sessionKey.DeriveSubkeys()
	}

	return nil
}
