package desfire

import (
	"bytes"
	"crypto/cipher"
	"crypto/des"
	"errors"
	"testing"
)

// desCBCEncrypt runs standard CBC over data with a zero IV, the card-side
// view of legacy chaining.
func desCBCEncrypt(t *testing.T, key8, data []byte) []byte {
	t.Helper()

	block, err := des.NewCipher(key8)
	if err != nil {
		t.Fatalf("des cipher failed: %v", err)
	}
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, make([]byte, 8)).CryptBlocks(out, data)

	return out
}

func legacyTag(t *testing.T, key8 []byte) *Tag {
	t.Helper()

	key, err := NewDESKey(key8)
	if err != nil {
		t.Fatalf("key build failed: %v", err)
	}

	return &Tag{scheme: SchemeLegacy, sessionKey: key}
}

func aesTag(t *testing.T, key16 []byte) *Tag {
	t.Helper()

	key, err := NewAESKey(key16, 0)
	if err != nil {
		t.Fatalf("key build failed: %v", err)
	}
	key.DeriveSubkeys()

	return &Tag{scheme: SchemeNew, sessionKey: key}
}

// TestPreprocessWithoutSession checks that an unauthenticated session
// passes commands through untouched.
func TestPreprocessWithoutSession(t *testing.T) {
	t.Parallel()

	tag := &Tag{}
	cmd := []byte{0x60}

	res, err := tag.preprocess(cmd, 0, CommEnciphered|EncCommand)
	if err != nil {
		t.Fatalf("preprocess failed: %v", err)
	}
	if !bytes.Equal(res, cmd) {
		t.Errorf("preprocess = % X, want passthrough", res)
	}
}

// TestPreprocessLegacyMAC checks the 4 byte MAC appended to outgoing
// commands: the leading bytes of the last CBC block over the zero padded
// payload, excluding the command header.
func TestPreprocessLegacyMAC(t *testing.T) {
	t.Parallel()

	key8 := []byte{0x10, 0x20, 0x30, 0x40, 0x50, 0x60, 0x70, 0x80}
	tag := legacyTag(t, key8)

	payload := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	cmd := append([]byte{0x3D}, payload...)

	res, err := tag.preprocess(cmd, 1, CommMACed|MACCommand)
	if err != nil {
		t.Fatalf("preprocess failed: %v", err)
	}

	padded := make([]byte, 8)
	copy(padded, payload)
	wantMAC := desCBCEncrypt(t, key8, padded)[:4]

	want := append(append([]byte{}, cmd...), wantMAC...)
	if !bytes.Equal(res, want) {
		t.Errorf("preprocess = % X, want % X", res, want)
	}
}

// TestPostprocessLegacyMAC checks response MAC verification and that a
// tampered MAC is rejected.
func TestPostprocessLegacyMAC(t *testing.T) {
	t.Parallel()

	key8 := []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88}
	payload := []byte{0xDE, 0xCA, 0xFB, 0xAD, 0x00, 0x01}

	padded := make([]byte, 8)
	copy(padded, payload)
	mac := desCBCEncrypt(t, key8, padded)[:4]

	response := append(append([]byte{}, payload...), mac...)
	response = append(response, statusOperationOK)

	tag := legacyTag(t, key8)
	res, err := tag.postprocess(response, CommMACed|MACVerify)
	if err != nil {
		t.Fatalf("postprocess failed: %v", err)
	}

	want := append(append([]byte{}, payload...), statusOperationOK)
	if !bytes.Equal(res, want) {
		t.Errorf("postprocess = % X, want % X", res, want)
	}

	// Tamper with the MAC.
	response = append(append([]byte{}, payload...), mac...)
	response = append(response, statusOperationOK)
	response[len(payload)] ^= 0x01

	tag = legacyTag(t, key8)
	if _, err := tag.postprocess(response, CommMACed|MACVerify); !errors.Is(
		err, ErrCryptoVerification) {
		t.Errorf("expected ErrCryptoVerification, got %v", err)
	}
}

// TestPostprocessLegacyEnciphered builds a card response the way a legacy
// card does: payload, CRC16, zero padding, all CBC enciphered.
func TestPostprocessLegacyEnciphered(t *testing.T) {
	t.Parallel()

	key8 := []byte{0xA1, 0xB2, 0xC3, 0xD4, 0xE5, 0xF6, 0x07, 0x18}
	payload := []byte{0x00, 0x10, 0x00, 0x00, 0x00}

	plain := make([]byte, 8)
	copy(plain, payload)
	AppendCRC16(plain, len(payload))

	response := desCBCEncrypt(t, key8, plain)
	response = append(response, statusOperationOK)

	tag := legacyTag(t, key8)
	res, err := tag.postprocess(response, CommEnciphered)
	if err != nil {
		t.Fatalf("postprocess failed: %v", err)
	}

	want := append(append([]byte{}, payload...), statusOperationOK)
	if !bytes.Equal(res, want) {
		t.Errorf("postprocess = % X, want % X", res, want)
	}

	// A flipped ciphertext bit must not verify.
	response = desCBCEncrypt(t, key8, plain)
	response[3] ^= 0x80
	response = append(response, statusOperationOK)

	tag = legacyTag(t, key8)
	if _, err := tag.postprocess(response, CommEnciphered); !errors.Is(
		err, ErrCryptoVerification) {
		t.Errorf("expected ErrCryptoVerification, got %v", err)
	}
}

// TestPostprocessNewEnciphered builds an EV1 card response: the CRC32
// covers payload and status, the status travels outside the ciphertext.
func TestPostprocessNewEnciphered(t *testing.T) {
	t.Parallel()

	key16 := bytes.Repeat([]byte{0x3C, 0xA9}, 8)
	payload := []byte{0x04, 0x01, 0x01, 0x10, 0x1A}

	withStatus := append(append([]byte{}, payload...), statusOperationOK)
	crc := CRC32(withStatus)

	plain := make([]byte, 16)
	copy(plain, payload)
	copy(plain[len(payload):], crc[:])

	tag := aesTag(t, key16)

	ciphered := make([]byte, len(plain))
	copy(ciphered, plain)
	iv := make([]byte, 16)
	cipherBlocksChained(nil, tag.sessionKey, iv, ciphered, directionSend, operationEncipher)

	response := append(ciphered, statusOperationOK)
	res, err := tag.postprocess(response, CommEnciphered)
	if err != nil {
		t.Fatalf("postprocess failed: %v", err)
	}

	if !bytes.Equal(res, withStatus) {
		t.Errorf("postprocess = % X, want % X", res, withStatus)
	}
}

// TestPostprocessCMACVerify checks the EV1 response CMAC: computed over
// payload then status, transmitted between them.
func TestPostprocessCMACVerify(t *testing.T) {
	t.Parallel()

	key16 := bytes.Repeat([]byte{0x42}, 16)
	payload := []byte{0x00, 0x01, 0x02, 0x03}

	cardTag := aesTag(t, key16)
	withStatus := append(append([]byte{}, payload...), statusOperationOK)
	var mac [16]byte
	cmac(cardTag.sessionKey, cardTag.iv[:], withStatus, mac[:])

	response := append(append([]byte{}, payload...), mac[:cmacLength]...)
	response = append(response, statusOperationOK)

	tag := aesTag(t, key16)
	res, err := tag.postprocess(response, CMACCommand|CMACVerify)
	if err != nil {
		t.Fatalf("postprocess failed: %v", err)
	}
	if !bytes.Equal(res, withStatus) {
		t.Errorf("postprocess = % X, want % X", res, withStatus)
	}

	// Tampered payload must fail the check.
	response = append(append([]byte{}, payload...), mac[:cmacLength]...)
	response = append(response, statusOperationOK)
	response[0] ^= 0xFF

	tag = aesTag(t, key16)
	if _, err := tag.postprocess(response, CMACCommand|CMACVerify); !errors.Is(
		err, ErrCryptoVerification) {
		t.Errorf("expected ErrCryptoVerification, got %v", err)
	}
}

// TestPreprocessPlainUpdatesCMACState checks that under the new scheme a
// plain command still advances the CMAC state without growing the frame.
func TestPreprocessPlainUpdatesCMACState(t *testing.T) {
	t.Parallel()

	tag := aesTag(t, bytes.Repeat([]byte{0x99}, 16))
	before := tag.iv

	cmd := []byte{0x6E}
	res, err := tag.preprocess(cmd, 0, CommPlain|CMACCommand)
	if err != nil {
		t.Fatalf("preprocess failed: %v", err)
	}

	if !bytes.Equal(res, cmd) {
		t.Errorf("plain command grew to % X", res)
	}
	if tag.iv == before {
		t.Error("CMAC state did not advance")
	}
}

// TestPreprocessUnsupportedMode checks the error for a mode the session
// cannot express.
func TestPreprocessUnsupportedMode(t *testing.T) {
	t.Parallel()

	tag := legacyTag(t, bytes.Repeat([]byte{0x08}, 8))
	if _, err := tag.preprocess([]byte{0x60}, 0, CommSettings(0x0002)); !errors.Is(
		err, ErrUnsupportedSettings) {
		t.Errorf("expected ErrUnsupportedSettings, got %v", err)
	}
}
