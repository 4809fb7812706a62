package desfire

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"testing"
)

// TestCipherSingleBlockDES checks the send direction against the classic
// single DES test vector: with a zero IV the first block is plain ECB.
func TestCipherSingleBlockDES(t *testing.T) {
	t.Parallel()

	key, err := NewDESKeyWithVersion([]byte{0x01, 0x23, 0x45, 0x67, 0x89, 0xAB, 0xCD, 0xEF})
	if err != nil {
		t.Fatalf("key build failed: %v", err)
	}

	data := []byte("Now is t")
	want := []byte{0x3F, 0xA4, 0x0E, 0x8A, 0x98, 0x4D, 0x48, 0x15}

	iv := make([]byte, 8)
	cipherSingleBlock(key, data, iv, directionSend, operationEncipher)

	if !bytes.Equal(data, want) {
		t.Errorf("enciphered block = % X, want % X", data, want)
	}
	if !bytes.Equal(iv, want) {
		t.Errorf("iv after send = % X, want the ciphertext", iv)
	}
}

// TestCipherChainingRoundTrips checks that the two direction and operation
// pairings invert each other: send/encipher against receive/decipher is
// ordinary CBC, send/decipher against receive/encipher is the backwards
// variant legacy transmission uses.
func TestCipherChainingRoundTrips(t *testing.T) {
	t.Parallel()

	key, err := NewAESKey(bytes.Repeat([]byte{0x5A}, 16), 0)
	if err != nil {
		t.Fatalf("key build failed: %v", err)
	}

	plain := bytes.Repeat([]byte{0x01, 0x02, 0x03, 0x04}, 12) // three AES blocks

	testCases := []struct {
		name      string
		forwardOp blockOperation
		inverseOp blockOperation
	}{
		{name: "encipher then decipher", forwardOp: operationEncipher, inverseOp: operationDecipher},
		{name: "decipher then encipher", forwardOp: operationDecipher, inverseOp: operationEncipher},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			data := make([]byte, len(plain))
			copy(data, plain)

			iv := make([]byte, 16)
			cipherBlocksChained(nil, key, iv, data, directionSend, tc.forwardOp)
			if bytes.Equal(data, plain) {
				t.Fatal("chaining left the data unchanged")
			}

			iv = make([]byte, 16)
			cipherBlocksChained(nil, key, iv, data, directionReceive, tc.inverseOp)
			if !bytes.Equal(data, plain) {
				t.Errorf("round trip = % X, want % X", data, plain)
			}
		})
	}
}

// TestCipherSendMatchesCBC checks that send/encipher chaining is exactly
// the standard library's CBC encryption.
func TestCipherSendMatchesCBC(t *testing.T) {
	t.Parallel()

	keyBytes := bytes.Repeat([]byte{0x0F, 0xF0}, 8)
	key, err := NewAESKey(keyBytes, 0)
	if err != nil {
		t.Fatalf("key build failed: %v", err)
	}

	plain := bytes.Repeat([]byte{0xA5}, 32)

	data := make([]byte, len(plain))
	copy(data, plain)
	iv := make([]byte, 16)
	cipherBlocksChained(nil, key, iv, data, directionSend, operationEncipher)

	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		t.Fatalf("aes cipher failed: %v", err)
	}
	want := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, make([]byte, 16)).CryptBlocks(want, plain)

	if !bytes.Equal(data, want) {
		t.Errorf("chained send = % X, want % X", data, want)
	}
}

// TestLegacySchemeResetsIV checks that chaining through a legacy session
// starts from a zero IV on every call.
func TestLegacySchemeResetsIV(t *testing.T) {
	t.Parallel()

	key, err := NewDESKey(bytes.Repeat([]byte{0x22}, 8))
	if err != nil {
		t.Fatalf("key build failed: %v", err)
	}

	tag := &Tag{scheme: SchemeLegacy, sessionKey: key}
	tag.iv = [maxCryptoBlockSize]byte{0xDE, 0xAD}

	first := make([]byte, 8)
	cipherBlocksChained(tag, nil, nil, first, directionSend, operationEncipher)

	tag.iv = [maxCryptoBlockSize]byte{0xBE, 0xEF}
	second := make([]byte, 8)
	cipherBlocksChained(tag, nil, nil, second, directionSend, operationEncipher)

	if !bytes.Equal(first, second) {
		t.Errorf("legacy chains diverged: % X vs % X", first, second)
	}
}
