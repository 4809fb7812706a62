package desfire_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/andrei-cloud/go_desfire/pkg/desfire"
)

func TestAccessRightsPacking(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		read       byte
		write      byte
		readWrite  byte
		change     byte
		wantPacked desfire.AccessRights
	}{
		{
			name:       "single key controls everything",
			read:       0x01,
			write:      0x01,
			readWrite:  0x01,
			change:     0x01,
			wantPacked: 0x1111,
		},
		{
			name:       "free read, master key writes",
			read:       desfire.AccessFree,
			write:      0x00,
			readWrite:  0x00,
			change:     0x00,
			wantPacked: 0xE000,
		},
		{
			name:       "everything denied",
			read:       desfire.AccessDeny,
			write:      desfire.AccessDeny,
			readWrite:  desfire.AccessDeny,
			change:     desfire.AccessDeny,
			wantPacked: 0xFFFF,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ar := desfire.MakeAccessRights(tc.read, tc.write, tc.readWrite, tc.change)
			assert.Equal(t, tc.wantPacked, ar)
			assert.Equal(t, tc.read, ar.Read())
			assert.Equal(t, tc.write, ar.Write())
			assert.Equal(t, tc.readWrite, ar.ReadWrite())
			assert.Equal(t, tc.change, ar.ChangeRights())
		})
	}
}

func TestAccessRightsMasksNibbles(t *testing.T) {
	t.Parallel()

	// Out-of-range key numbers must not bleed into neighbouring nibbles.
	ar := desfire.MakeAccessRights(0xF1, 0x02, 0x03, 0x04)
	assert.Equal(t, byte(0x01), ar.Read())
	assert.Equal(t, byte(0x02), ar.Write())
}
