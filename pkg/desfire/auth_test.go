package desfire

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"errors"
	"testing"
)

// fakeLegacyCard simulates the card side of the DES three-pass handshake.
// The card "enciphers" its challenge so that plain CBC decryption on the
// reader side recovers it.
type fakeLegacyCard struct {
	block cipher.Block
	rndB  []byte
	pass  int
}

func newFakeLegacyCard(t *testing.T, key8 []byte) *fakeLegacyCard {
	t.Helper()

	block, err := des.NewCipher(key8)
	if err != nil {
		t.Fatalf("des cipher failed: %v", err)
	}

	return &fakeLegacyCard{
		block: block,
		rndB:  []byte{0xB0, 0xB1, 0xB2, 0xB3, 0xB4, 0xB5, 0xB6, 0xB7},
	}
}

func (c *fakeLegacyCard) Connect() ([]byte, error) {
	return []byte{0x04, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06}, nil
}

func (c *fakeLegacyCard) Disconnect() error { return nil }

func (c *fakeLegacyCard) Transceive(cmd []byte) ([]byte, byte, error) {
	switch c.pass {
	case 0:
		if cmd[0] != cmdAuthenticateLegacy {
			return nil, statusIllegalCommand, nil
		}
		c.pass = 1

		out := make([]byte, 8)
		c.block.Encrypt(out, c.rndB)

		return out, statusAdditionalFrame, nil

	case 1:
		c.pass = 2
		if cmd[0] != additionalFrame || len(cmd) != 17 {
			return nil, statusParameterError, nil
		}

		// The reader deciphered in the send direction; run the cipher
		// forward to undo it.
		rndA := make([]byte, 8)
		c.block.Encrypt(rndA, cmd[1:9])

		rolB := make([]byte, 8)
		c.block.Encrypt(rolB, cmd[9:17])
		xorBytes(rolB, cmd[1:9])

		expected := append([]byte(nil), c.rndB...)
		rotateLeft(expected)
		if !bytes.Equal(rolB, expected) {
			return nil, statusAuthentication, nil
		}

		rotateLeft(rndA)
		proof := make([]byte, 8)
		c.block.Encrypt(proof, rndA)

		return proof, statusOperationOK, nil
	}

	return nil, statusIllegalCommand, nil
}

// fakeAESCard simulates the EV1 AES handshake, which chains the CBC state
// across all three passes.
type fakeAESCard struct {
	block cipher.Block
	rndB  []byte
	iv    []byte
	pass  int
}

func newFakeAESCard(t *testing.T, key16 []byte) *fakeAESCard {
	t.Helper()

	block, err := aes.NewCipher(key16)
	if err != nil {
		t.Fatalf("aes cipher failed: %v", err)
	}

	return &fakeAESCard{
		block: block,
		rndB: []byte{
			0xB0, 0xB1, 0xB2, 0xB3, 0xB4, 0xB5, 0xB6, 0xB7,
			0xB8, 0xB9, 0xBA, 0xBB, 0xBC, 0xBD, 0xBE, 0xBF,
		},
		iv: make([]byte, 16),
	}
}

func (c *fakeAESCard) Connect() ([]byte, error) {
	return []byte{0x04, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F}, nil
}

func (c *fakeAESCard) Disconnect() error { return nil }

func (c *fakeAESCard) Transceive(cmd []byte) ([]byte, byte, error) {
	switch c.pass {
	case 0:
		if cmd[0] != cmdAuthenticateAES {
			return nil, statusIllegalCommand, nil
		}
		c.pass = 1

		out := make([]byte, 16)
		cipher.NewCBCEncrypter(c.block, c.iv).CryptBlocks(out, c.rndB)
		copy(c.iv, out)

		return out, statusAdditionalFrame, nil

	case 1:
		c.pass = 2
		if cmd[0] != additionalFrame || len(cmd) != 33 {
			return nil, statusParameterError, nil
		}

		token := make([]byte, 32)
		cipher.NewCBCDecrypter(c.block, c.iv).CryptBlocks(token, cmd[1:])
		copy(c.iv, cmd[17:33])

		rndA := token[:16]
		rolB := token[16:]

		expected := append([]byte(nil), c.rndB...)
		rotateLeft(expected)
		if !bytes.Equal(rolB, expected) {
			return nil, statusAuthentication, nil
		}

		proof := make([]byte, 16)
		copy(proof, rndA)
		rotateLeft(proof)
		cipher.NewCBCEncrypter(c.block, c.iv).CryptBlocks(proof, proof)

		return proof, statusOperationOK, nil
	}

	return nil, statusIllegalCommand, nil
}

func TestAuthenticateLegacy(t *testing.T) {
	t.Parallel()

	key8 := []byte{0x01, 0x23, 0x45, 0x67, 0x89, 0xAB, 0xCD, 0xEF}
	key, err := NewDESKey(key8)
	if err != nil {
		t.Fatalf("key build failed: %v", err)
	}

	tag := NewTag(newFakeLegacyCard(t, key8))
	if err := tag.Connect(); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	if err := tag.Authenticate(0, key); err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}

	if !tag.Authenticated() {
		t.Error("session not marked authenticated")
	}
	if tag.AuthenticatedKeyNo() != 0 {
		t.Errorf("authenticated key number = %d, want 0", tag.AuthenticatedKeyNo())
	}
	if tag.scheme != SchemeLegacy {
		t.Errorf("scheme = %v, want legacy", tag.scheme)
	}
	if tag.sessionKey == nil || tag.sessionKey.Type() != TypeDES {
		t.Error("expected a DES session key")
	}
}

func TestAuthenticateAES(t *testing.T) {
	t.Parallel()

	key16 := bytes.Repeat([]byte{0x2B, 0x7E}, 8)
	key, err := NewAESKey(key16, 0)
	if err != nil {
		t.Fatalf("key build failed: %v", err)
	}

	tag := NewTag(newFakeAESCard(t, key16))
	if err := tag.Connect(); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	if err := tag.Authenticate(2, key); err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}

	if tag.AuthenticatedKeyNo() != 2 {
		t.Errorf("authenticated key number = %d, want 2", tag.AuthenticatedKeyNo())
	}
	if tag.scheme != SchemeNew {
		t.Errorf("scheme = %v, want new", tag.scheme)
	}
	if tag.sessionKey == nil || tag.sessionKey.Type() != TypeAES {
		t.Fatal("expected an AES session key")
	}
	if !tag.sessionKey.hasSubkeys {
		t.Error("session key is missing CMAC subkeys")
	}
	if tag.iv != [maxCryptoBlockSize]byte{} {
		t.Error("IV not zeroed after authentication")
	}
}

func TestAuthenticateExplicitGeneration(t *testing.T) {
	t.Parallel()

	key16 := bytes.Repeat([]byte{0x2B, 0x7E}, 8)
	aesKey, err := NewAESKey(key16, 0)
	if err != nil {
		t.Fatalf("key build failed: %v", err)
	}
	desKey, err := NewDESKey([]byte{0x01, 0x23, 0x45, 0x67, 0x89, 0xAB, 0xCD, 0xEF})
	if err != nil {
		t.Fatalf("key build failed: %v", err)
	}

	tag := NewTag(newFakeAESCard(t, key16))
	if err := tag.Connect(); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	if err := tag.AuthenticateAES(0, desKey); !errors.Is(err, ErrMalformedKey) {
		t.Errorf("AuthenticateAES with a DES key = %v, want ErrMalformedKey", err)
	}
	if err := tag.AuthenticateISO(0, aesKey); !errors.Is(err, ErrMalformedKey) {
		t.Errorf("AuthenticateISO with an AES key = %v, want ErrMalformedKey", err)
	}

	if err := tag.AuthenticateAES(0, aesKey); err != nil {
		t.Fatalf("explicit AES authenticate failed: %v", err)
	}
	if tag.scheme != SchemeNew {
		t.Errorf("scheme = %v, want new", tag.scheme)
	}
}

// TestAuthenticateWrongKey checks that a key mismatch surfaces as the
// card's authentication error and leaves the session unauthenticated.
func TestAuthenticateWrongKey(t *testing.T) {
	t.Parallel()

	cardKey := bytes.Repeat([]byte{0x11}, 16)
	readerKey, err := NewAESKey(bytes.Repeat([]byte{0x22}, 16), 0)
	if err != nil {
		t.Fatalf("key build failed: %v", err)
	}

	tag := NewTag(newFakeAESCard(t, cardKey))
	if err := tag.Connect(); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	err = tag.Authenticate(0, readerKey)
	if !errors.Is(err, PICCStatus(statusAuthentication)) {
		t.Fatalf("expected authentication status error, got %v", err)
	}
	if tag.Authenticated() {
		t.Error("session must not be authenticated after a failed handshake")
	}
}

// TestAuthenticateNotConnected checks the session guard.
func TestAuthenticateNotConnected(t *testing.T) {
	t.Parallel()

	key, err := NewAESKey(make([]byte, 16), 0)
	if err != nil {
		t.Fatalf("key build failed: %v", err)
	}

	tag := NewTag(newFakeAESCard(t, make([]byte, 16)))
	if err := tag.Authenticate(0, key); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}
