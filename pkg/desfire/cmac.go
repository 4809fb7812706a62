package desfire

// CMAC subkey derivation and MAC computation per NIST SP 800-38B, using the
// session key's block cipher. The card chains the CMAC state across
// exchanges through the tag's running IV, so the IV passed to cmac is both
// input and output.

// shiftLeft shifts a buffer one bit left, returning the carry out of the
// most significant byte.
func shiftLeft(data []byte) byte {
	var carry byte
	for i := len(data) - 1; i >= 0; i-- {
		next := data[i] >> 7
		data[i] = data[i]<<1 | carry
		carry = next
	}

	return carry
}

// DeriveSubkeys computes the two CMAC subkeys for the key and caches them.
// It must be called once after authentication, before any exchange that
// MACs with the session key.
func (k *Key) DeriveSubkeys() {
	bs := k.BlockSize()

	// Rb constant from SP 800-38B for 64 and 128 bit block sizes.
	rb := byte(0x1B)
	if bs == 16 {
		rb = 0x87
	}

	l := make([]byte, bs)
	k.block.Encrypt(l, l)

	sk1 := make([]byte, bs)
	copy(sk1, l)
	if shiftLeft(sk1) != 0 {
		sk1[bs-1] ^= rb
	}

	sk2 := make([]byte, bs)
	copy(sk2, sk1)
	if shiftLeft(sk2) != 0 {
		sk2[bs-1] ^= rb
	}

	k.cmacSK1 = sk1
	k.cmacSK2 = sk2
	k.hasSubkeys = true
}

// cmac computes the CMAC of data with key, chaining through iv, and writes
// the first block-size bytes of the result into out. Incomplete final
// blocks are padded with 0x80 0x00.. and folded with SK2; complete ones
// with SK1.
func cmac(key *Key, iv, data, out []byte) {
	bs := key.BlockSize()

	buf := make([]byte, paddedLength(len(data), bs))
	copy(buf, data)

	if len(data) == 0 || len(data)%bs != 0 {
		buf[len(data)] = 0x80
		xorBytes(buf[len(buf)-bs:], key.cmacSK2)
	} else {
		xorBytes(buf[len(buf)-bs:], key.cmacSK1)
	}

	cipherBlocksChained(nil, key, iv, buf, directionSend, operationEncipher)
	copy(out, iv[:bs])
}
