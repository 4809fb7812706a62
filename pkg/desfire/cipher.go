package desfire

// chainDirection selects how the CBC initialisation vector is folded into
// the data stream.
type chainDirection int

const (
	// directionSend XORs the IV into the plaintext before the block
	// operation and saves the output as the next IV.
	directionSend chainDirection = iota
	// directionReceive runs the block operation on the raw input, XORs the
	// IV into the result and saves the raw input as the next IV.
	directionReceive
)

// blockOperation selects the per-block primitive. DESFire legacy mode
// "enciphers" outgoing data by running the cipher backwards, so direction
// and operation vary independently.
type blockOperation int

const (
	operationEncipher blockOperation = iota
	operationDecipher
)

func xorBytes(dst, src []byte) {
	for i := range dst {
		dst[i] ^= src[i]
	}
}

// cipherSingleBlock transforms one cipher block in place, updating iv for
// the next block in the chain.
func cipherSingleBlock(key *Key, data, iv []byte, direction chainDirection, operation blockOperation) {
	bs := key.BlockSize()

	var saved [maxCryptoBlockSize]byte
	if direction == directionSend {
		xorBytes(data[:bs], iv[:bs])
	} else {
		copy(saved[:bs], data[:bs])
	}

	if operation == operationEncipher {
		key.block.Encrypt(data[:bs], data[:bs])
	} else {
		key.block.Decrypt(data[:bs], data[:bs])
	}

	if direction == directionSend {
		copy(iv[:bs], data[:bs])
	} else {
		xorBytes(data[:bs], iv[:bs])
		copy(iv[:bs], saved[:bs])
	}
}

// cipherBlocksChained CBC-transforms data in place. len(data) must be a
// multiple of the key's block size.
//
// When tag is non-nil, a nil key defaults to the tag's session key and a
// nil iv to the tag's running IV. Under the legacy scheme the IV is reset
// to zero before chaining starts, so every exchange begins a fresh chain;
// the newer scheme carries the IV across calls, which is what ties each
// exchange's CMAC to the previous one.
func cipherBlocksChained(tag *Tag, key *Key, iv, data []byte, direction chainDirection, operation blockOperation) {
	if tag != nil {
		if key == nil {
			key = tag.sessionKey
		}
		if iv == nil {
			iv = tag.iv[:]
		}
		if tag.scheme == SchemeLegacy {
			for i := range iv {
				iv[i] = 0
			}
		}
	}

	bs := key.BlockSize()
	for offset := 0; offset < len(data); offset += bs {
		cipherSingleBlock(key, data[offset:offset+bs], iv, direction, operation)
	}
}
