package desfire

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex fixture: %v", err)
	}

	return b
}

// TestDeriveSubkeysAES checks the subkey derivation against the RFC 4493
// AES-CMAC example.
func TestDeriveSubkeysAES(t *testing.T) {
	t.Parallel()

	key, err := NewAESKey(mustHex(t, "2b7e151628aed2a6abf7158809cf4f3c"), 0)
	if err != nil {
		t.Fatalf("key build failed: %v", err)
	}

	key.DeriveSubkeys()

	wantSK1 := mustHex(t, "fbeed618357133667c85e08f7236a8de")
	wantSK2 := mustHex(t, "f7ddac306ae266ccf90bc11ee46d513b")

	if !bytes.Equal(key.cmacSK1, wantSK1) {
		t.Errorf("SK1 = % X, want % X", key.cmacSK1, wantSK1)
	}
	if !bytes.Equal(key.cmacSK2, wantSK2) {
		t.Errorf("SK2 = % X, want % X", key.cmacSK2, wantSK2)
	}
	if !key.hasSubkeys {
		t.Error("subkeys not marked derived")
	}
}

// TestCMACVectors checks the MAC computation against the RFC 4493
// examples. A zero IV makes the chained computation the plain AES-CMAC.
func TestCMACVectors(t *testing.T) {
	t.Parallel()

	key, err := NewAESKey(mustHex(t, "2b7e151628aed2a6abf7158809cf4f3c"), 0)
	if err != nil {
		t.Fatalf("key build failed: %v", err)
	}
	key.DeriveSubkeys()

	testCases := []struct {
		name string
		msg  string
		want string
	}{
		{
			name: "empty message",
			msg:  "",
			want: "bb1d6929e95937287fa37d129b756746",
		},
		{
			name: "one block",
			msg:  "6bc1bee22e409f96e93d7e117393172a",
			want: "070a16b46b4d4144f79bdd9dd04a287c",
		},
		{
			name: "two and a half blocks",
			msg: "6bc1bee22e409f96e93d7e117393172a" +
				"ae2d8a571e03ac9c9eb76fac45af8e51" +
				"30c81c46a35ce411",
			want: "dfa66747de9ae63030ca32611497c827",
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			iv := make([]byte, 16)
			var out [16]byte
			cmac(key, iv, mustHex(t, tc.msg), out[:])

			want := mustHex(t, tc.want)
			if !bytes.Equal(out[:], want) {
				t.Errorf("cmac = % X, want % X", out, want)
			}
			if !bytes.Equal(iv, want) {
				t.Errorf("iv not updated to the MAC: % X", iv)
			}
		})
	}
}

// TestCMACChainsThroughIV checks that consecutive computations are tied
// together by the running IV, which is what links one exchange's CMAC to
// the next.
func TestCMACChainsThroughIV(t *testing.T) {
	t.Parallel()

	key, err := NewAESKey(bytes.Repeat([]byte{0x77}, 16), 0)
	if err != nil {
		t.Fatalf("key build failed: %v", err)
	}
	key.DeriveSubkeys()

	msg := []byte{0x60}

	iv := make([]byte, 16)
	var first, second [16]byte
	cmac(key, iv, msg, first[:])
	cmac(key, iv, msg, second[:])

	if bytes.Equal(first[:], second[:]) {
		t.Error("identical messages produced identical MACs across a chained IV")
	}
}

// TestDeriveSubkeysDES checks the 64-bit block variant produces distinct,
// deterministic subkeys.
func TestDeriveSubkeysDES(t *testing.T) {
	t.Parallel()

	key, err := New3K3DESKey(bytes.Repeat([]byte{0x13, 0x57, 0x9B}, 8))
	if err != nil {
		t.Fatalf("key build failed: %v", err)
	}

	key.DeriveSubkeys()
	sk1 := append([]byte(nil), key.cmacSK1...)
	sk2 := append([]byte(nil), key.cmacSK2...)

	if len(sk1) != 8 || len(sk2) != 8 {
		t.Fatalf("subkey lengths = %d/%d, want 8", len(sk1), len(sk2))
	}
	if bytes.Equal(sk1, sk2) {
		t.Error("SK1 and SK2 must differ")
	}

	key.DeriveSubkeys()
	if !bytes.Equal(sk1, key.cmacSK1) || !bytes.Equal(sk2, key.cmacSK2) {
		t.Error("subkey derivation is not deterministic")
	}
}
