package desfire

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"fmt"
)

// KeyType identifies the cipher a DESFire key drives.
type KeyType int

const (
	// TypeDES is single DES with an 8 byte key.
	TypeDES KeyType = iota
	// Type3DES is two-key triple DES with a 16 byte key.
	Type3DES
	// Type3K3DES is three-key triple DES with a 24 byte key.
	Type3K3DES
	// TypeAES is AES-128 with a 16 byte key.
	TypeAES
)

func (t KeyType) String() string {
	switch t {
	case TypeDES:
		return "DES"
	case Type3DES:
		return "3DES"
	case Type3K3DES:
		return "3K3DES"
	case TypeAES:
		return "AES"
	default:
		return fmt.Sprintf("KeyType(%d)", int(t))
	}
}

// Key holds DESFire key material together with its expanded cipher schedule
// and, once derived, the CMAC subkeys.
type Key struct {
	keyType    KeyType
	data       [24]byte
	block      cipher.Block
	aesVersion byte

	cmacSK1    []byte
	cmacSK2    []byte
	hasSubkeys bool
}

// NewDESKey builds a single DES key from 8 bytes of key material. The
// version bits (least significant bit of each of the first 8 bytes) are
// cleared.
func NewDESKey(value []byte) (*Key, error) {
	key, err := NewDESKeyWithVersion(value)
	if err != nil {
		return nil, err
	}
	key.SetVersion(0)

	return key, nil
}

// NewDESKeyWithVersion builds a single DES key from 8 bytes of key material,
// preserving the version stored in the key's parity bits.
func NewDESKeyWithVersion(value []byte) (*Key, error) {
	if len(value) != 8 {
		return nil, fmt.Errorf("%w: DES key must be 8 bytes, got %d", ErrMalformedKey, len(value))
	}

	key := &Key{keyType: TypeDES}
	copy(key.data[0:8], value)
	copy(key.data[8:16], value)
	if err := key.expandSchedule(); err != nil {
		return nil, err
	}

	return key, nil
}

// New3DESKey builds a two-key triple DES key from 16 bytes of key material.
// The version bits of the first half are cleared and those of the second
// half are set, marking the key material as 3DES.
func New3DESKey(value []byte) (*Key, error) {
	key, err := New3DESKeyWithVersion(value)
	if err != nil {
		return nil, err
	}
	key.SetVersion(0)

	return key, nil
}

// New3DESKeyWithVersion builds a two-key triple DES key from 16 bytes of key
// material, preserving the version stored in the parity bits.
func New3DESKeyWithVersion(value []byte) (*Key, error) {
	if len(value) != 16 {
		return nil, fmt.Errorf("%w: 3DES key must be 16 bytes, got %d", ErrMalformedKey, len(value))
	}

	key := &Key{keyType: Type3DES}
	copy(key.data[0:16], value)
	if err := key.expandSchedule(); err != nil {
		return nil, err
	}

	return key, nil
}

// New3K3DESKey builds a three-key triple DES key from 24 bytes of key
// material. Only the version bits of the first 8 bytes are cleared; the
// second and third subkeys are taken as-is.
func New3K3DESKey(value []byte) (*Key, error) {
	if len(value) != 24 {
		return nil, fmt.Errorf("%w: 3K3DES key must be 24 bytes, got %d", ErrMalformedKey, len(value))
	}

	data := make([]byte, 24)
	copy(data, value)
	for n := 0; n < 8; n++ {
		data[n] &= 0xFE
	}

	return New3K3DESKeyWithVersion(data)
}

// New3K3DESKeyWithVersion builds a three-key triple DES key from 24 bytes of
// key material, preserving the version stored in the parity bits.
func New3K3DESKeyWithVersion(value []byte) (*Key, error) {
	if len(value) != 24 {
		return nil, fmt.Errorf("%w: 3K3DES key must be 24 bytes, got %d", ErrMalformedKey, len(value))
	}

	key := &Key{keyType: Type3K3DES}
	copy(key.data[0:24], value)
	if err := key.expandSchedule(); err != nil {
		return nil, err
	}

	return key, nil
}

// NewAESKey builds an AES-128 key from 16 bytes of key material. AES keys
// have no spare bits, so the version travels in a dedicated byte.
func NewAESKey(value []byte, version byte) (*Key, error) {
	if len(value) != 16 {
		return nil, fmt.Errorf("%w: AES key must be 16 bytes, got %d", ErrMalformedKey, len(value))
	}

	key := &Key{keyType: TypeAES, aesVersion: version}
	copy(key.data[0:16], value)
	if err := key.expandSchedule(); err != nil {
		return nil, err
	}

	return key, nil
}

// expandSchedule builds the block cipher for the current key material.
// DES-family keys are extended to a 24 byte triple DES key: for single DES
// the three subkeys coincide and EDE degenerates to plain DES.
func (k *Key) expandSchedule() error {
	var (
		block cipher.Block
		err   error
	)

	switch k.keyType {
	case TypeDES:
		tdes := make([]byte, 24)
		copy(tdes[0:16], k.data[0:16])
		copy(tdes[16:24], k.data[0:8])
		block, err = des.NewTripleDESCipher(tdes)
	case Type3DES:
		tdes := make([]byte, 24)
		copy(tdes[0:16], k.data[0:16])
		copy(tdes[16:24], k.data[0:8])
		block, err = des.NewTripleDESCipher(tdes)
	case Type3K3DES:
		block, err = des.NewTripleDESCipher(k.data[0:24])
	case TypeAES:
		block, err = aes.NewCipher(k.data[0:16])
	default:
		return fmt.Errorf("%w: unknown key type %d", ErrMalformedKey, k.keyType)
	}
	if err != nil {
		return fmt.Errorf("expand key schedule: %w", err)
	}

	k.block = block
	k.hasSubkeys = false

	return nil
}

// Type returns the key's cipher type.
func (k *Key) Type() KeyType { return k.keyType }

// Bytes returns a copy of the key material, including any version bits
// carried in it: 8 bytes for DES, 16 for 3DES and AES, 24 for 3K3DES.
func (k *Key) Bytes() []byte {
	var n int
	switch k.keyType {
	case TypeDES:
		n = 8
	case Type3K3DES:
		n = 24
	default:
		n = 16
	}
	out := make([]byte, n)
	copy(out, k.data[:n])

	return out
}

// BlockSize returns the cipher block size in bytes: 8 for the DES family,
// 16 for AES.
func (k *Key) BlockSize() int {
	if k.keyType == TypeAES {
		return 16
	}

	return 8
}

// macLength is the length of the authentication trailer the key produces:
// a 4 byte MAC under the legacy scheme, an 8 byte CMAC otherwise.
func (k *Key) macLength() int {
	switch k.keyType {
	case TypeDES, Type3DES:
		return macLength
	default:
		return cmacLength
	}
}

// Version reads the key version. For the DES family it is scattered over
// the parity bits of the first 8 key bytes, most significant bit first.
func (k *Key) Version() byte {
	if k.keyType == TypeAES {
		return k.aesVersion
	}

	var version byte
	for n := 0; n < 8; n++ {
		version |= (k.data[n] & 1) << (7 - n)
	}

	return version
}

// SetVersion stores a key version. For DES the first half is mirrored into
// the second so the key stays single-length; for the other DES-family types
// only the version bit of each second-half byte is set to the complement,
// which keeps the two halves distinct without disturbing the rest of the
// subkey. (Reference implementations that OR the full complement byte
// instead clobber bits 1-7 of the second subkey.) DES ignores parity bits
// so the cipher schedule is unaffected, but derived CMAC subkeys are
// invalidated.
func (k *Key) SetVersion(version byte) {
	if k.keyType == TypeAES {
		k.aesVersion = version

		return
	}

	for n := 0; n < 8; n++ {
		bit := (version >> (7 - n)) & 1
		k.data[n] = (k.data[n] & 0xFE) | bit

		switch k.keyType {
		case TypeDES:
			k.data[n+8] = k.data[n]
		default:
			k.data[n+8] = (k.data[n+8] & 0xFE) | (^bit & 1)
		}
	}

	k.hasSubkeys = false
}

// NewSessionKey derives the session key from the two authentication nonces
// exchanged during a successful mutual authentication with authKey.
func NewSessionKey(rndA, rndB []byte, authKey *Key) (*Key, error) {
	if len(rndA) != len(rndB) || len(rndA) != authKey.nonceLength() {
		return nil, fmt.Errorf("%w: nonce length %d/%d, want %d",
			ErrMalformedKey, len(rndA), len(rndB), authKey.nonceLength())
	}

	return newSessionKey(rndA, rndB, authKey)
}

// nonceLength is the size of the random challenge exchanged during
// authentication with this key.
func (k *Key) nonceLength() int {
	switch k.keyType {
	case TypeDES, Type3DES:
		return 8
	default:
		return 16
	}
}

// newSessionKey interleaves halves of the two authentication nonces into a
// session key, following the layout the card uses for each cipher.
func newSessionKey(rndA, rndB []byte, authKey *Key) (*Key, error) {
	buf := make([]byte, 0, 24)

	switch authKey.keyType {
	case TypeDES:
		buf = append(buf, rndA[0:4]...)
		buf = append(buf, rndB[0:4]...)

		return NewDESKeyWithVersion(buf)
	case Type3DES:
		buf = append(buf, rndA[0:4]...)
		buf = append(buf, rndB[0:4]...)
		buf = append(buf, rndA[4:8]...)
		buf = append(buf, rndB[4:8]...)

		return New3DESKeyWithVersion(buf)
	case Type3K3DES:
		buf = append(buf, rndA[0:4]...)
		buf = append(buf, rndB[0:4]...)
		buf = append(buf, rndA[6:10]...)
		buf = append(buf, rndB[6:10]...)
		buf = append(buf, rndA[12:16]...)
		buf = append(buf, rndB[12:16]...)

		return New3K3DESKey(buf)
	case TypeAES:
		buf = append(buf, rndA[0:4]...)
		buf = append(buf, rndB[0:4]...)
		buf = append(buf, rndA[12:16]...)
		buf = append(buf, rndB[12:16]...)

		return NewAESKey(buf, 0)
	default:
		return nil, fmt.Errorf("%w: unknown key type %d", ErrMalformedKey, authKey.keyType)
	}
}
